package capability

import (
	"context"
	"time"
)

// EchoExecutor returns its "message" parameter unchanged, optionally after
// a "delay" (Go duration string). Used for smoke tests and dry runs of a
// workflow definition without spending LLM tokens.
type EchoExecutor struct {
	agentType string
}

// NewEchoExecutor creates an echo executor under the given agent type.
func NewEchoExecutor(agentType string) *EchoExecutor {
	return &EchoExecutor{agentType: agentType}
}

func (e *EchoExecutor) AgentType() string { return e.agentType }

func (e *EchoExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	if raw := params["delay"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return "", err
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return params["message"], nil
}
