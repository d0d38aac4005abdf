package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/faceauth/internal/biometric"
	"github.com/example/faceauth/internal/config"
	"github.com/example/faceauth/internal/dlib"
	"github.com/example/faceauth/internal/grpcclient"
	"github.com/example/faceauth/internal/imageprocessor"
	"github.com/example/faceauth/internal/logging"
)

// app holds the biometric components shared by every command.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	gallery    *biometric.GalleryStore
	locator    *biometric.FaceLocatorAdapter
	liveness   *biometric.LivenessClassifier
	comparator *biometric.Comparator
	registry   *biometric.UniquenessRegistry
	closers    []func() error
}

type models struct {
	locator  imageprocessor.FaceLocator
	embedder imageprocessor.FaceEmbedder
	detector imageprocessor.ObjectDetector
	closers  []func() error
}

// loadConfig reads the configuration and builds the logger. Commands that
// need no models start here instead of newApp.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	taxonomy, err := taxonomyFromPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	gallery, err := biometric.NewGalleryStore(cfg.Gallery.Dir, logger)
	if err != nil {
		return nil, err
	}
	m, err := openModels(ctx, cfg.Models, logger)
	if err != nil {
		return nil, err
	}

	policy := cfg.Policy
	return &app{
		cfg:     cfg,
		logger:  logger,
		gallery: gallery,
		locator: biometric.NewFaceLocatorAdapter(m.locator, policy.Locator.MinConfidence, logger),
		liveness: biometric.NewLivenessClassifier(m.detector, taxonomy, biometric.LivenessConfig{
			FailClosedWhenUnavailable: policy.Liveness.FailClosedWhenUnavailable,
			MinConfidence:             policy.Liveness.MinConfidence,
			DuplicateIoU:              policy.Liveness.DuplicateIoU,
		}, logger),
		comparator: biometric.NewComparator(m.embedder, biometric.ComparatorConfig{
			DistanceThreshold: policy.Comparator.DistanceThreshold,
			MinConfidence:     policy.Comparator.MinConfidence,
		}, logger),
		registry: biometric.NewUniquenessRegistry(gallery, m.embedder, biometric.UniquenessConfig{
			DistanceThreshold: policy.Uniqueness.DistanceThreshold,
			FullGallery:       policy.Uniqueness.FullGallery,
		}, logger),
		closers: m.closers,
	}, nil
}

func (a *app) orchestrator(profiles biometric.ProfileStore) *biometric.Orchestrator {
	return biometric.NewOrchestrator(biometric.OrchestratorDeps{
		Gallery:    a.gallery,
		Locator:    a.locator,
		Liveness:   a.liveness,
		Comparator: a.comparator,
		Profiles:   profiles,
	}, a.logger)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing resource failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// openModels connects the locator and embedder for the configured backend
// and the object detector when one is configured.
func openModels(ctx context.Context, cfg config.ModelsConfig, logger *zap.Logger) (*models, error) {
	m := &models{}
	switch cfg.Backend {
	case "grpc":
		client, err := grpcclient.Dial(ctx, cfg.ServerAddr, cfg.DialTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to model server: %w", err)
		}
		m.locator, m.embedder = client, client
		m.closers = append(m.closers, client.Close)
	case "dlib":
		rec, err := dlib.Open(cfg.DlibModelsDir, logger)
		if err != nil {
			return nil, err
		}
		m.locator, m.embedder = rec, rec
		m.closers = append(m.closers, rec.Close)
	default:
		return nil, fmt.Errorf("unknown MODEL_BACKEND %q (want grpc or dlib)", cfg.Backend)
	}

	if cfg.ObjectDetectorAddr == "" {
		logger.Warn("OBJECT_DETECTOR_ADDR not set, liveness detector unavailable")
		return m, nil
	}
	detector, err := grpcclient.Dial(ctx, cfg.ObjectDetectorAddr, cfg.DialTimeout, logger)
	if err != nil {
		for _, closeFn := range m.closers {
			_ = closeFn()
		}
		return nil, fmt.Errorf("connect to object detector: %w", err)
	}
	m.detector = detector
	m.closers = append(m.closers, detector.Close)
	return m, nil
}

// taxonomyFromPolicy builds the liveness class table from the policy document.
func taxonomyFromPolicy(policy config.Policy) (*biometric.Taxonomy, error) {
	var entries []biometric.ClassInfo
	add := func(category biometric.ClassCategory, classes []config.ClassEntry) {
		for _, class := range classes {
			entries = append(entries, biometric.ClassInfo{ID: class.ID, Name: class.Name, Category: category})
		}
	}
	add(biometric.CategoryDevice, policy.Liveness.Classes.Device)
	add(biometric.CategoryOcclusionAccessory, policy.Liveness.Classes.OcclusionAccessory)
	add(biometric.CategoryAllowedAccessory, policy.Liveness.Classes.AllowedAccessory)
	add(biometric.CategorySuspiciousObject, policy.Liveness.Classes.SuspiciousObject)
	return biometric.NewTaxonomy(entries...)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("database connected")
	return db, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("redis connected", zap.String("addr", cfg.Addr))
	return client, nil
}
