package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/flowline/internal/capability"
	"github.com/nidhogg/flowline/internal/monitor"
	"github.com/nidhogg/flowline/internal/resource"
	"github.com/nidhogg/flowline/internal/store"
	"github.com/nidhogg/flowline/internal/workflow"
)

// Suppress unused import warning for testcontainers base package.
var _ = testcontainers.GenericContainerRequest{}

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testLogger   *zap.Logger
	testJournal  *store.Store
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("flowline_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// newTestEngine builds an engine with an echo capability, a slot pool,
// and a hub fanning out to the journal plus a redis sink.
func newTestEngine(t *testing.T, stream string) *workflow.Engine {
	t.Helper()

	registry := capability.NewRegistry(testLogger)
	registry.Register(capability.NewEchoExecutor("echo"))

	redisSink, err := monitor.NewRedisSink(testRedisURL, stream, testLogger)
	if err != nil {
		t.Fatalf("redis sink: %v", err)
	}
	t.Cleanup(func() { redisSink.Close() })

	hub := monitor.NewHub(testLogger, testJournal, redisSink)
	t.Cleanup(hub.Close)

	slots := resource.NewSlotPool(8, testLogger)
	engine := workflow.NewEngine(registry, slots, hub, 5, testLogger)
	t.Cleanup(engine.Shutdown)
	return engine
}

// waitForStatus polls the engine until the workflow reaches the wanted
// status or the deadline passes.
func waitForStatus(t *testing.T, engine *workflow.Engine, id string, want workflow.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := engine.GetWorkflowStatus(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow %s stuck at %s, want %s", id, st.Status, want)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
