package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/flowline/internal/workflow"
	"go.uber.org/zap"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(NewEchoExecutor("echo"))

	res, err := reg.Dispatch(context.Background(), &workflow.DispatchRequest{
		TaskID:     "t1",
		AgentType:  "echo",
		Parameters: map[string]string{"message": "hello"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Output != "hello" {
		t.Errorf("output = %q, want %q", res.Output, "hello")
	}
}

func TestRegistryUnknownAgentType(t *testing.T) {
	reg := NewRegistry(zap.NewNop())

	_, err := reg.Dispatch(context.Background(), &workflow.DispatchRequest{
		TaskID:    "t1",
		AgentType: "warlock",
	})
	if !errors.Is(err, ErrUnknownAgentType) {
		t.Fatalf("Dispatch = %v, want ErrUnknownAgentType", err)
	}
}

func TestRegistryCancelAbortsInFlight(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(NewEchoExecutor("echo"))

	done := make(chan error, 1)
	go func() {
		_, err := reg.Dispatch(context.Background(), &workflow.DispatchRequest{
			TaskID:     "slow",
			AgentType:  "echo",
			Parameters: map[string]string{"message": "late", "delay": "10s"},
		})
		done <- err
	}()

	// Wait for the dispatch to register itself, then abort it.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		reg.mu.RLock()
		_, inflight := reg.active["slow"]
		reg.mu.RUnlock()
		if inflight {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	reg.Cancel("slow")

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Dispatch after cancel = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not abort the dispatch")
	}
}

func TestRegistryCancelUnknownTaskIsNoop(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Cancel("ghost")
}

func TestRegistryTypes(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(NewEchoExecutor("planner"))
	reg.Register(NewEchoExecutor("coder"))

	types := reg.Types()
	if len(types) != 2 {
		t.Fatalf("Types() = %v, want 2 entries", types)
	}
}

func TestEchoExecutorBadDelay(t *testing.T) {
	ex := NewEchoExecutor("echo")
	if _, err := ex.Execute(context.Background(), map[string]string{"delay": "soon"}); err == nil {
		t.Fatal("expected error for malformed delay")
	}
}
