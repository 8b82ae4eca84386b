package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loomhq/loom/internal/archive"
	"github.com/loomhq/loom/internal/client"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/engine"
	"github.com/loomhq/loom/internal/server"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/api"
	"github.com/loomhq/loom/pkg/log"
)

type loom struct {
	cfg        *config.Config
	store      store.Store
	archiver   archive.Archiver
	engine     *engine.Engine
	server     *server.Server
	httpServer *http.Server
}

const version = "1.0.0"

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Failed to load configuration",
			slog.Any("error", err))
		os.Exit(1)
	}

	a := &loom{cfg: cfg}
	if err := a.run(); err != nil {
		slog.Error("Failed to start application",
			slog.Any("error", err))
		os.Exit(1)
	}
}

func (a *loom) run() error {
	a.setupLogging()

	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if err := a.initializeStores(); err != nil {
		return err
	}

	a.initializeEngine()
	if err := a.loadDefinitions(); err != nil {
		return err
	}
	a.startServer()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.shutdown()
	return nil
}

func (a *loom) setupLogging() {
	level, ok := logLevels[a.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}
	env := os.Getenv("LOOM_ENV")
	if env == "" {
		env = "dev"
	}
	slog.SetDefault(log.NewWithLevel("loom-engine", env, version, level))

	slog.Info("Loom Engine starting")

	slog.Info("Configuration loaded",
		slog.String("redis_addr", a.cfg.Redis.Addr),
		slog.Int("redis_db", a.cfg.Redis.DB),
		slog.String("api_host", a.cfg.APIHost),
		slog.Int("api_port", a.cfg.APIPort))
}

func (a *loom) initializeStores() error {
	redisStore, err := store.NewRedis(context.Background(), a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	a.store = redisStore

	if a.cfg.ArchiveBucketURL != "" {
		a.archiver, err = archive.NewBlobArchiver(
			context.Background(),
			a.cfg.ArchiveBucketURL,
			a.cfg.ArchivePrefix,
		)
		if err != nil {
			_ = a.store.Close()
			return fmt.Errorf("failed to open archive bucket: %w", err)
		}
	}
	return nil
}

func (a *loom) initializeEngine() {
	timeout := time.Duration(a.cfg.TaskTimeout) * time.Millisecond

	deps := engine.Dependencies{
		Store:    a.store,
		Archiver: a.archiver,
	}
	if a.cfg.TaskRunnerURL != "" {
		deps.Runner = client.NewHTTPTaskRunner(a.cfg.TaskRunnerURL, timeout)
	}
	if a.cfg.InferenceURL != "" {
		deps.Inference = client.NewHTTPInference(a.cfg.InferenceURL, timeout)
	}

	a.engine = engine.New(a.cfg, deps)
	a.engine.Start()
}

// loadDefinitions registers YAML workflow definitions found in the
// configured directory. Workflows already registered are left alone
func (a *loom) loadDefinitions() error {
	if a.cfg.WorkflowsDir == "" {
		return nil
	}

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matched, err := filepath.Glob(
			filepath.Join(a.cfg.WorkflowsDir, pattern),
		)
		if err != nil {
			return err
		}
		paths = append(paths, matched...)
	}

	for _, path := range paths {
		wf, err := api.LoadDefinition(path)
		if err != nil {
			return fmt.Errorf("definition %s: %w", path, err)
		}
		err = a.engine.CreateWorkflow(context.Background(), wf)
		if err != nil && !errors.Is(err, engine.ErrWorkflowExists) {
			return fmt.Errorf("definition %s: %w", path, err)
		}
		slog.Info("Workflow definition loaded",
			log.WorkflowID(wf.ID),
			slog.String("path", path))
	}
	return nil
}

func (a *loom) startServer() {
	a.server = server.NewServer(a.engine)
	mux := a.server.SetupRoutes()

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.APIHost, a.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error",
				slog.Any("error", err))
		}
	}()
}

func (a *loom) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), a.cfg.ShutdownTimeout,
	)
	defer cancel()

	a.server.CloseClients()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed",
			slog.Any("error", err))
	}

	if err := a.engine.Shutdown(); err != nil {
		slog.Error("Engine shutdown failed",
			slog.Any("error", err))
	}

	if a.archiver != nil {
		_ = a.archiver.Close()
	}
	_ = a.store.Close()

	slog.Info("Server exited")
}
