package monitor

import (
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/nidhogg/flowline/internal/workflow"
)

// SlackSink posts workflow-level transitions and task failures to a
// Slack channel. Routine task chatter is filtered out to keep the
// channel readable.
type SlackSink struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackSink creates a sink posting to the given channel.
func NewSlackSink(botToken, channel string, logger *zap.Logger) *SlackSink {
	return &SlackSink{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// Notify posts notable events. Send failures are logged and swallowed.
func (s *SlackSink) Notify(e workflow.Event) {
	text, ok := formatNotable(e)
	if !ok {
		return
	}
	_, _, err := s.client.PostMessage(s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		s.logger.Warn("slack post failed", zap.Error(err))
	}
}

// formatNotable renders workflow transitions and task failures.
// Everything else returns ok=false.
func formatNotable(e workflow.Event) (string, bool) {
	switch {
	case e.Subject == "workflow":
		msg := fmt.Sprintf("Workflow `%s` is now *%s*", e.WorkflowID, e.To)
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		return msg, true
	case e.To == "failed":
		msg := fmt.Sprintf("Task `%s` in workflow `%s` *failed*", e.TaskID, e.WorkflowID)
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		return msg, true
	}
	return "", false
}
