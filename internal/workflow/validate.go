package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Validation failures are configuration errors: the workflow definition
// itself is wrong, as opposed to anything transient at execution time.
var (
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDependencyCycle   = errors.New("dependency cycle")
)

type depColor int

const (
	depUnvisited depColor = iota
	depInProgress
	depDone
)

// Validate checks the dependency graph of a task set: every referenced
// dependency must exist, and the graph must be acyclic. Pure; called once
// at workflow creation, never during execution.
func Validate(tasks map[string]*Task, order []string) error {
	for _, id := range order {
		for _, dep := range tasks[id].Dependencies {
			if _, ok := tasks[dep]; !ok {
				return fmt.Errorf("invalid configuration: task %q depends on %w %q", id, ErrUnknownDependency, dep)
			}
		}
	}

	colors := make(map[string]depColor, len(tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = depInProgress
		stack = append(stack, id)
		for _, dep := range tasks[id].Dependencies {
			switch colors[dep] {
			case depInProgress:
				// Back-edge: the cycle is the stack suffix starting at dep.
				for i, s := range stack {
					if s == dep {
						return append(stack[i:len(stack):len(stack)], dep)
					}
				}
				return []string{dep, dep}
			case depUnvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = depDone
		return nil
	}

	for _, id := range order {
		if colors[id] != depUnvisited {
			continue
		}
		if cycle := visit(id); cycle != nil {
			return fmt.Errorf("invalid configuration: %w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
		}
		stack = stack[:0]
	}
	return nil
}
