package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/flowline/internal/provider"
	"go.uber.org/zap"
)

// LLMExecutor performs task work by prompting an LLM through the provider
// router. One instance per agent type (planner, coder, reviewer, ...),
// differing in model and system prompt.
type LLMExecutor struct {
	agentType    string
	model        string
	systemPrompt string
	maxTokens    int
	router       *provider.Router
	logger       *zap.Logger
}

// NewLLMExecutor creates an LLM-backed executor for one agent type.
func NewLLMExecutor(agentType, model, systemPrompt string, router *provider.Router, logger *zap.Logger) *LLMExecutor {
	return &LLMExecutor{
		agentType:    agentType,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    4096,
		router:       router,
		logger:       logger,
	}
}

func (e *LLMExecutor) AgentType() string { return e.agentType }

// Execute builds a prompt from the task parameters and routes it to the
// bound provider. The "prompt" parameter becomes the user message; any
// remaining parameters are appended as context lines.
func (e *LLMExecutor) Execute(ctx context.Context, params map[string]string) (string, error) {
	req := &provider.ChatRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Messages: []provider.Message{
			{Role: "system", Content: e.systemPrompt},
			{Role: "user", Content: buildPrompt(params)},
		},
	}

	resp, err := e.router.Route(ctx, e.agentType, req)
	if err != nil {
		return "", fmt.Errorf("llm %s: %w", e.agentType, err)
	}

	e.logger.Debug("llm execution finished",
		zap.String("agent_type", e.agentType),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return resp.Content, nil
}

// buildPrompt renders task parameters into a user message. The engine never
// interprets these; this is the first place their content matters.
func buildPrompt(params map[string]string) string {
	prompt := params["prompt"]

	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "prompt" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return prompt
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(prompt)
	if prompt != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Context:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, params[k])
	}
	return b.String()
}
