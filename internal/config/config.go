package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Gallery  GalleryConfig
	Models   ModelsConfig
	Log      LogConfig
	Policy   Policy
}

type HTTPConfig struct {
	Addr            string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
}

type GalleryConfig struct {
	Dir string
}

type ModelsConfig struct {
	Backend            string // grpc or dlib
	ServerAddr         string // locator + embedder
	ObjectDetectorAddr string // empty means the spoof detector is unavailable
	DlibModelsDir      string
	DialTimeout        time.Duration
}

type LogConfig struct {
	Level       string
	Development bool
}

// Policy holds the decision thresholds and the liveness class taxonomy.
type Policy struct {
	Comparator ComparatorPolicy `yaml:"comparator"`
	Uniqueness UniquenessPolicy `yaml:"uniqueness"`
	Locator    LocatorPolicy    `yaml:"locator"`
	Liveness   LivenessPolicy   `yaml:"liveness"`
}

type ComparatorPolicy struct {
	DistanceThreshold float64 `yaml:"distance_threshold"`
	MinConfidence     float64 `yaml:"min_confidence"`
}

type UniquenessPolicy struct {
	DistanceThreshold float64 `yaml:"distance_threshold"`
	FullGallery       bool    `yaml:"full_gallery"`
}

type LocatorPolicy struct {
	MinConfidence float64 `yaml:"min_confidence"`
}

type LivenessPolicy struct {
	FailClosedWhenUnavailable bool          `yaml:"fail_closed_when_unavailable"`
	MinConfidence             float64       `yaml:"min_confidence"`
	DuplicateIoU              float64       `yaml:"duplicate_iou"`
	Classes                   ClassTaxonomy `yaml:"classes"`
}

type ClassTaxonomy struct {
	Device             []ClassEntry `yaml:"device"`
	OcclusionAccessory []ClassEntry `yaml:"occlusion_accessory"`
	AllowedAccessory   []ClassEntry `yaml:"allowed_accessory"`
	SuspiciousObject   []ClassEntry `yaml:"suspicious_object"`
}

type ClassEntry struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// envString returns the trimmed value of key or the fallback when unset.
func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// envInt reads an environment variable and parses it as a non-negative integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// Load reads the configuration from the environment. The policy comes from
// POLICY_FILE when set, otherwise from the embedded defaults.
func Load() (*Config, error) {
	policy, err := loadPolicy(os.Getenv("POLICY_FILE"))
	if err != nil {
		return nil, err
	}
	policy.Liveness.FailClosedWhenUnavailable = envBool("LIVENESS_FAIL_CLOSED", policy.Liveness.FailClosedWhenUnavailable)
	policy.Uniqueness.FullGallery = envBool("UNIQUENESS_FULL_GALLERY", policy.Uniqueness.FullGallery)

	return &Config{
		HTTP: HTTPConfig{
			Addr:            envString("HTTP_ADDR", ":8080"),
			MaxUploadBytes:  int64(envInt("MAX_UPLOAD_BYTES", 5<<20)),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			DSN:          envString("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=faceauth port=5432 sslmode=disable"),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", "redis:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:   os.Getenv("JWT_SECRET"),
			JWTAudience: os.Getenv("JWT_AUDIENCE"),
		},
		Gallery: GalleryConfig{
			Dir: envString("GALLERY_DIR", "facial_data"),
		},
		Models: ModelsConfig{
			Backend:            strings.ToLower(envString("MODEL_BACKEND", "grpc")),
			ServerAddr:         envString("MODEL_SERVER_ADDR", "face-models:50051"),
			ObjectDetectorAddr: os.Getenv("OBJECT_DETECTOR_ADDR"),
			DlibModelsDir:      envString("DLIB_MODELS_DIR", "models"),
			DialTimeout:        envDuration("MODEL_DIAL_TIMEOUT", 5*time.Second),
		},
		Log: LogConfig{
			Level:       envString("LOG_LEVEL", "info"),
			Development: envBool("LOG_DEVELOPMENT", false),
		},
		Policy: policy,
	}, nil
}

func loadPolicy(path string) (Policy, error) {
	data := defaultPolicyYAML
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return Policy{}, fmt.Errorf("read policy file: %w", err)
		}
		data = fileData
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate rejects thresholds outside their meaningful range and class ids
// assigned to more than one category.
func (p Policy) Validate() error {
	if p.Comparator.DistanceThreshold <= 0 {
		return fmt.Errorf("comparator.distance_threshold must be positive")
	}
	if p.Comparator.MinConfidence < 0 || p.Comparator.MinConfidence > 100 {
		return fmt.Errorf("comparator.min_confidence must be within [0, 100]")
	}
	if p.Uniqueness.DistanceThreshold <= 0 {
		return fmt.Errorf("uniqueness.distance_threshold must be positive")
	}
	if p.Locator.MinConfidence < 0 || p.Locator.MinConfidence > 1 {
		return fmt.Errorf("locator.min_confidence must be within [0, 1]")
	}
	if p.Liveness.DuplicateIoU < 0 || p.Liveness.DuplicateIoU > 1 {
		return fmt.Errorf("liveness.duplicate_iou must be within [0, 1]")
	}

	seen := make(map[int]string)
	groups := []struct {
		name    string
		entries []ClassEntry
	}{
		{"device", p.Liveness.Classes.Device},
		{"occlusion_accessory", p.Liveness.Classes.OcclusionAccessory},
		{"allowed_accessory", p.Liveness.Classes.AllowedAccessory},
		{"suspicious_object", p.Liveness.Classes.SuspiciousObject},
	}
	for _, group := range groups {
		for _, entry := range group.entries {
			if prev, ok := seen[entry.ID]; ok {
				return fmt.Errorf("class id %d listed in both %s and %s", entry.ID, prev, group.name)
			}
			seen[entry.ID] = group.name
		}
	}
	if len(p.Liveness.Classes.Device) == 0 {
		return fmt.Errorf("liveness.classes.device must not be empty")
	}
	return nil
}
