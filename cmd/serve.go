package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/faceauth/internal/auth"
	"github.com/example/faceauth/internal/handlers"
	"github.com/example/faceauth/internal/repository"
	"github.com/example/faceauth/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the facial verification HTTP API",
	Long: `Start the HTTP API. Connects to PostgreSQL for profiles and the audit log,
Redis for the result cache and the model server for face location, embeddings
and object detection.

Configuration is read from the environment (a .env file is loaded when present).

Examples:
  faceauth serve
  faceauth serve --addr :9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	startCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	a, err := newApp(startCtx)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if a.cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	db, err := openDatabase(startCtx, a.cfg.Database, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("access db handle: %w", err)
	}
	defer sqlDB.Close()

	verificationRepo := repository.NewVerificationRepository(db, logger)
	if err := verificationRepo.AutoMigrate(startCtx); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	profileRepo := repository.NewProfileRepository(db, logger)

	redisClient, err := openRedis(startCtx, a.cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	cache := usecase.NewRedisCache(redisClient)

	verification := usecase.NewVerificationUseCase(verificationRepo, cache, a.orchestrator(profileRepo), logger)
	enrollment := usecase.NewEnrollmentUseCase(usecase.EnrollmentDeps{
		Gallery:  a.gallery,
		Locator:  a.locator,
		Liveness: a.liveness,
		Registry: a.registry,
		Profiles: profileRepo,
	}, logger)

	authenticator := auth.NewAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTAudience, logger)
	h := handlers.NewHandler(handlers.Options{
		Verification: verification,
		Enrollment:   enrollment,
		Tokens:       authenticator,
		HealthChecks: map[string]handlers.HealthCheck{
			"database": sqlDB.PingContext,
			"redis":    cache.Ping,
		},
		MaxUploadBytes: a.cfg.HTTP.MaxUploadBytes,
	}, logger)

	addr := mustGetString(cmd, "addr")
	if addr == "" {
		addr = a.cfg.HTTP.Addr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(h, authenticator.Middleware(), a.cfg.HTTP.MaxUploadBytes, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("faceauth API listening",
		zap.String("addr", addr),
		zap.String("model_backend", a.cfg.Models.Backend),
		zap.Bool("liveness_available", a.liveness.Available()),
	)
	return serveHTTPServer(server, a.cfg.HTTP.ShutdownTimeout, logger)
}

func newRouter(h *handlers.Handler, authMiddleware gin.HandlerFunc, maxUploadBytes int64, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logger))
	if maxUploadBytes > 0 {
		router.MaxMultipartMemory = maxUploadBytes
	} else {
		router.MaxMultipartMemory = handlers.MaxUploadSize
	}
	handlers.RegisterRoutes(router, h, authMiddleware)
	return router
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

// serveHTTPServerWithOptions serves until the server fails or a shutdown
// signal arrives, then drains in-flight requests for at most shutdownTimeout.
// A nil listener means ListenAndServe; a nil signalCh means SIGINT/SIGTERM.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
