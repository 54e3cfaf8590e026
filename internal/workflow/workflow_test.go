package workflow

import (
	"testing"
	"time"
)

func newTestWorkflow(t *testing.T, tasks ...*Task) *Workflow {
	t.Helper()
	wf := New("wf-1", "test", "")
	for _, task := range tasks {
		if err := wf.AddTask(task); err != nil {
			t.Fatalf("AddTask(%s): %v", task.ID, err)
		}
	}
	return wf
}

func TestAddTaskRejectsDuplicateID(t *testing.T) {
	wf := newTestWorkflow(t, &Task{ID: "t1"})
	if err := wf.AddTask(&Task{ID: "t1"}); err == nil {
		t.Fatal("expected error for duplicate task id")
	}
}

func TestProgress(t *testing.T) {
	wf := newTestWorkflow(t,
		&Task{ID: "t1"}, &Task{ID: "t2"}, &Task{ID: "t3"}, &Task{ID: "t4"})

	if got := wf.Progress(); got != 0.0 {
		t.Errorf("fresh workflow progress = %v, want 0.0", got)
	}

	wf.beginTask("t1")
	wf.completeTask("t1")
	if got := wf.Progress(); got != 0.25 {
		t.Errorf("progress after 1/4 = %v, want 0.25", got)
	}

	for _, id := range []string{"t2", "t3", "t4"} {
		wf.beginTask(id)
		wf.completeTask(id)
	}
	if got := wf.Progress(); got != 1.0 {
		t.Errorf("progress after all done = %v, want 1.0", got)
	}
}

func TestProgressEmptyWorkflow(t *testing.T) {
	wf := newTestWorkflow(t)
	if got := wf.Progress(); got != 0.0 {
		t.Errorf("empty workflow progress = %v, want 0.0", got)
	}
}

func TestReadyTasksEmptyCompletedSet(t *testing.T) {
	wf := newTestWorkflow(t,
		&Task{ID: "root1"},
		&Task{ID: "child", Dependencies: []string{"root1"}},
		&Task{ID: "root2"},
	)

	ready := wf.ReadyTasks(map[string]struct{}{})
	if len(ready) != 2 {
		t.Fatalf("ready = %d tasks, want 2", len(ready))
	}
	if ready[0].ID != "root1" || ready[1].ID != "root2" {
		t.Errorf("ready = [%s %s], want [root1 root2]", ready[0].ID, ready[1].ID)
	}
}

func TestReadyTasksDependencyChain(t *testing.T) {
	wf := newTestWorkflow(t,
		&Task{ID: "task1"},
		&Task{ID: "task2", Dependencies: []string{"task1"}},
	)

	ready := wf.ReadyTasks(map[string]struct{}{})
	if len(ready) != 1 || ready[0].ID != "task1" {
		t.Fatalf("ready before completion = %v, want [task1]", taskIDs(ready))
	}

	wf.beginTask("task1")
	wf.completeTask("task1")

	ready = wf.ReadyTasks(wf.CompletedIDs())
	if len(ready) != 1 || ready[0].ID != "task2" {
		t.Fatalf("ready after task1 = %v, want [task2]", taskIDs(ready))
	}
}

func TestReadyTasksRequiresAllDependencies(t *testing.T) {
	wf := newTestWorkflow(t,
		&Task{ID: "a"},
		&Task{ID: "b"},
		&Task{ID: "join", Dependencies: []string{"a", "b"}},
	)

	wf.beginTask("a")
	wf.completeTask("a")

	// Only a is done; the join task must not surface yet.
	for _, task := range wf.ReadyTasks(wf.CompletedIDs()) {
		if task.ID == "join" {
			t.Fatal("join became ready with an incomplete dependency")
		}
	}

	wf.beginTask("b")
	wf.completeTask("b")
	ready := wf.ReadyTasks(wf.CompletedIDs())
	if len(ready) != 1 || ready[0].ID != "join" {
		t.Fatalf("ready after both deps = %v, want [join]", taskIDs(ready))
	}
}

func TestReadyTasksPriorityOrdering(t *testing.T) {
	wf := newTestWorkflow(t,
		&Task{ID: "low", Priority: 1},
		&Task{ID: "first-high", Priority: 5},
		&Task{ID: "second-high", Priority: 5},
	)

	ready := wf.ReadyTasks(map[string]struct{}{})
	want := []string{"first-high", "second-high", "low"}
	got := taskIDs(ready)
	if len(got) != len(want) {
		t.Fatalf("ready = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ready = %v, want %v (priority desc, insertion asc)", got, want)
		}
	}
}

func TestTaskDuration(t *testing.T) {
	task := &Task{ID: "t1"}
	if task.Duration() != nil {
		t.Error("duration with no timestamps should be nil")
	}

	start := time.Now()
	task.StartTime = &start
	if task.Duration() != nil {
		t.Error("duration with only start should be nil")
	}

	end := start.Add(42 * time.Millisecond)
	task.EndTime = &end
	d := task.Duration()
	if d == nil {
		t.Fatal("duration with both timestamps should be set")
	}
	if *d < 0 {
		t.Errorf("duration = %v, want non-negative", *d)
	}
	if *d != 42*time.Millisecond {
		t.Errorf("duration = %v, want 42ms", *d)
	}
}

func TestCompleteTaskIdempotent(t *testing.T) {
	wf := newTestWorkflow(t, &Task{ID: "t1"})
	wf.beginTask("t1")

	if !wf.completeTask("t1") {
		t.Fatal("first completion should apply")
	}
	task, _ := wf.Task("t1")
	firstEnd := task.EndTime

	if wf.completeTask("t1") {
		t.Error("second completion signal should be ignored")
	}
	if wf.failTask("t1") {
		t.Error("fail after completion should be ignored")
	}
	if task.EndTime != firstEnd {
		t.Error("duplicate signal must not touch end time")
	}
}

func TestCancelRemaining(t *testing.T) {
	wf := newTestWorkflow(t,
		&Task{ID: "done"},
		&Task{ID: "active"},
		&Task{ID: "waiting", Dependencies: []string{"active"}},
	)
	wf.begin()
	wf.beginTask("done")
	wf.completeTask("done")
	wf.beginTask("active")

	running, changed := wf.cancelRemaining()
	if !changed {
		t.Fatal("cancelRemaining should report a change")
	}
	if len(running) != 1 || running[0] != "active" {
		t.Errorf("running = %v, want [active]", running)
	}
	if wf.Status() != StatusCancelled {
		t.Errorf("status = %s, want cancelled", wf.Status())
	}

	done, _ := wf.Task("done")
	if done.Status != TaskCompleted {
		t.Errorf("completed task must keep its terminal status, got %s", done.Status)
	}
	for _, id := range []string{"active", "waiting"} {
		task, _ := wf.Task(id)
		if task.Status != TaskCancelled {
			t.Errorf("task %s = %s, want cancelled", id, task.Status)
		}
	}

	if _, changed := wf.cancelRemaining(); changed {
		t.Error("second cancel should be a no-op")
	}
}

func TestSnapshotPreservesOrder(t *testing.T) {
	wf := newTestWorkflow(t,
		&Task{ID: "z"}, &Task{ID: "a"}, &Task{ID: "m"})

	snap := wf.Snapshot()
	want := []string{"z", "a", "m"}
	for i, task := range snap.Tasks {
		if task.ID != want[i] {
			t.Fatalf("snapshot order = %v at %d, want %v", task.ID, i, want[i])
		}
	}
	if snap.TaskCount != 3 {
		t.Errorf("task count = %d, want 3", snap.TaskCount)
	}
}

func taskIDs(tasks []*Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
