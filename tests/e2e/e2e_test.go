package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pgstore "github.com/nidhogg/flowline/internal/store"
	"github.com/nidhogg/flowline/internal/workflow"
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		os.Exit(1)
	}
	defer pgCleanup()

	testJournal, err = pgstore.New(pgDSN, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg store: %v\n", err)
		os.Exit(1)
	}
	defer testJournal.Close()

	if err := testJournal.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer redisCleanup()
	testRedisURL = redisURL

	os.Exit(m.Run())
}

// diamondSpecs builds a fetch -> (analyze, summarize) -> report workflow.
func diamondSpecs() ([]workflow.TaskSpec, []workflow.Dependency) {
	specs := []workflow.TaskSpec{
		{ID: "fetch", Name: "fetch", AgentType: "echo", Parameters: map[string]string{"message": "raw data"}},
		{ID: "analyze", Name: "analyze", AgentType: "echo", Parameters: map[string]string{"message": "analysis"}},
		{ID: "summarize", Name: "summarize", AgentType: "echo", Parameters: map[string]string{"message": "summary"}},
		{ID: "report", Name: "report", AgentType: "echo", Parameters: map[string]string{"message": "report"}},
	}
	deps := []workflow.Dependency{
		{Task: "analyze", DependsOn: "fetch"},
		{Task: "summarize", DependsOn: "fetch"},
		{Task: "report", DependsOn: "analyze"},
		{Task: "report", DependsOn: "summarize"},
	}
	return specs, deps
}

func TestDiamondWorkflowEndToEnd(t *testing.T) {
	ctx := context.Background()
	stream := "flowline:test:diamond"
	engine := newTestEngine(t, stream)

	specs, deps := diamondSpecs()
	id, err := engine.CreateWorkflow("diamond", "full pipeline", specs, deps)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	started, err := engine.ExecuteWorkflow(id)
	if err != nil || !started {
		t.Fatalf("execute: started=%v err=%v", started, err)
	}
	waitForStatus(t, engine, id, workflow.StatusCompleted)

	wf, err := engine.Workflow(id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	snap := wf.Snapshot()
	if snap.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", snap.Progress)
	}
	for _, task := range snap.Tasks {
		if task.Status != workflow.TaskCompleted {
			t.Errorf("task %s status = %s, want completed", task.ID, task.Status)
		}
	}

	// The hub delivers asynchronously; give the sinks a moment to drain.
	var entries []pgstore.JournalEntry
	deadline := time.Now().Add(3 * time.Second)
	for {
		entries, err = testJournal.WorkflowHistory(ctx, id)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		// pending, running, 8 task transitions, completed
		if len(entries) >= 11 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal has %d entries, want at least 11", len(entries))
		}
		time.Sleep(50 * time.Millisecond)
	}

	first, last := entries[0], entries[len(entries)-1]
	if first.Subject != "workflow" || first.ToStatus != "pending" {
		t.Errorf("first entry = %s/%s, want workflow/pending", first.Subject, first.ToStatus)
	}
	if last.Subject != "workflow" || last.ToStatus != "completed" {
		t.Errorf("last entry = %s/%s, want workflow/completed", last.Subject, last.ToStatus)
	}

	// Verify the redis stream carries the same transitions.
	opts, err := redis.ParseURL(testRedisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	count, err := rdb.XLen(ctx, stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if count < 11 {
		t.Errorf("redis stream has %d entries, want at least 11", count)
	}
}

func TestFailedDependencyStallsPipeline(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, "flowline:test:failed")

	specs := []workflow.TaskSpec{
		{ID: "broken", Name: "broken", AgentType: "missing-capability"},
		{ID: "after", Name: "after", AgentType: "echo", Parameters: map[string]string{"message": "x"}},
	}
	deps := []workflow.Dependency{{Task: "after", DependsOn: "broken"}}

	id, err := engine.CreateWorkflow("doomed", "", specs, deps)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	engine.SetDispatchRetries(0)

	if _, err := engine.ExecuteWorkflow(id); err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitForStatus(t, engine, id, workflow.StatusFailed)

	wf, _ := engine.Workflow(id)
	after, _ := wf.Task("after")
	if after.Status != workflow.TaskPending {
		t.Errorf("dependent task status = %s, want pending", after.Status)
	}

	// The failure must be on the record.
	deadline := time.Now().Add(3 * time.Second)
	for {
		entries, err := testJournal.WorkflowHistory(ctx, id)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		found := false
		for _, e := range entries {
			if e.Subject == "task" && e.TaskID == "broken" && e.ToStatus == "failed" {
				found = true
			}
		}
		if found {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("journal never recorded the task failure")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestCancelMidFlight(t *testing.T) {
	engine := newTestEngine(t, "flowline:test:cancel")

	specs := []workflow.TaskSpec{
		{ID: "slow", Name: "slow", AgentType: "echo",
			Parameters: map[string]string{"message": "x", "delay": "10s"}},
		{ID: "next", Name: "next", AgentType: "echo",
			Parameters: map[string]string{"message": "y"}},
	}
	deps := []workflow.Dependency{{Task: "next", DependsOn: "slow"}}

	id, err := engine.CreateWorkflow("long-haul", "", specs, deps)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.ExecuteWorkflow(id); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Let the first task enter the running state before cancelling.
	time.Sleep(100 * time.Millisecond)
	if err := engine.CancelWorkflow(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForStatus(t, engine, id, workflow.StatusCancelled)

	wf, _ := engine.Workflow(id)
	for _, task := range wf.Snapshot().Tasks {
		if task.Status != workflow.TaskCancelled {
			t.Errorf("task %s status = %s, want cancelled", task.ID, task.Status)
		}
	}
}
