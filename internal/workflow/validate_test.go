package workflow

import (
	"errors"
	"strings"
	"testing"
)

func buildTasks(t *testing.T, deps map[string][]string, order ...string) (map[string]*Task, []string) {
	t.Helper()
	tasks := make(map[string]*Task, len(order))
	for i, id := range order {
		tasks[id] = &Task{ID: id, Name: id, Status: TaskPending, Dependencies: deps[id], seq: i}
	}
	return tasks, order
}

func TestValidateAcceptsValidGraph(t *testing.T) {
	// Diamond: d depends on b and c, which both depend on a.
	tasks, order := buildTasks(t, map[string][]string{
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}, "a", "b", "c", "d")

	if err := Validate(tasks, order); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateEmptyTaskSet(t *testing.T) {
	if err := Validate(map[string]*Task{}, nil); err != nil {
		t.Fatalf("Validate(empty) = %v, want nil", err)
	}
}

func TestValidateUnknownDependency(t *testing.T) {
	tasks, order := buildTasks(t, map[string][]string{
		"t1": {"ghost"},
	}, "t1")

	err := Validate(tasks, order)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("Validate() = %v, want ErrUnknownDependency", err)
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error should name the missing id, got %q", err)
	}
}

func TestValidateTwoNodeCycle(t *testing.T) {
	tasks, order := buildTasks(t, map[string][]string{
		"task1": {"task2"},
		"task2": {"task1"},
	}, "task1", "task2")

	err := Validate(tasks, order)
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("Validate() = %v, want ErrDependencyCycle", err)
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("error should mention invalid configuration, got %q", err)
	}
}

func TestValidateSelfCycle(t *testing.T) {
	tasks, order := buildTasks(t, map[string][]string{
		"t1": {"t1"},
	}, "t1")

	if err := Validate(tasks, order); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("Validate() = %v, want ErrDependencyCycle", err)
	}
}

func TestValidateLongCycleReportsMembers(t *testing.T) {
	tasks, order := buildTasks(t, map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}, "a", "b", "c")

	err := Validate(tasks, order)
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("Validate() = %v, want ErrDependencyCycle", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("cycle error should mention %q, got %q", id, err)
		}
	}
}

func TestValidateUnknownCheckedBeforeCycle(t *testing.T) {
	// Both violations present; the unknown reference is reported first.
	tasks, order := buildTasks(t, map[string][]string{
		"a": {"ghost"},
		"b": {"c"},
		"c": {"b"},
	}, "a", "b", "c")

	if err := Validate(tasks, order); !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("Validate() = %v, want ErrUnknownDependency", err)
	}
}
