// Package helpers provides the shared engine test environment: a fully
// wired engine backed by miniredis, mock task runner and inference
// collaborators, and event-driven wait utilities
package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/engine"
	"github.com/loomhq/loom/internal/store"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine    *engine.Engine
	Redis     *miniredis.Miniredis
	Store     store.Store
	Runner    *MockRunner
	Inference *MockInference
	Registry  *engine.Registry
	Config    *config.Config
	Cleanup   func()
}

// NewTestConfig creates a basic configuration for testing
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// NewTestEngine creates a test engine with a miniredis-backed store and
// mock collaborators
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	cfg := NewTestConfig()
	cfg.Redis.Addr = server.Addr()
	cfg.Redis.Prefix = "test"

	redisStore, err := store.NewRedis(context.Background(), cfg.Redis)
	require.NoError(t, err)

	runner := NewMockRunner()
	inference := NewMockInference()
	registry := engine.NewRegistry()

	eng := engine.New(cfg, engine.Dependencies{
		Store:     redisStore,
		Runner:    runner,
		Inference: inference,
		Registry:  registry,
	})

	cleanup := func() {
		_ = eng.Shutdown()
		_ = redisStore.Close()
		server.Close()
	}

	return &TestEngineEnv{
		Engine:    eng,
		Redis:     server,
		Store:     redisStore,
		Runner:    runner,
		Inference: inference,
		Registry:  registry,
		Config:    cfg,
		Cleanup:   cleanup,
	}
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithStartedEngine creates a test environment, starts the engine,
// executes the provided function, and ensures cleanup happens
// automatically
func WithStartedEngine(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		env.Engine.Start()
		fn(env)
	})
}
