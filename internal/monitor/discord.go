package monitor

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/nidhogg/flowline/internal/workflow"
)

// DiscordSink posts notable workflow events to a Discord channel.
type DiscordSink struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordSink opens a Discord session for the bot token.
func NewDiscordSink(botToken, channelID string, logger *zap.Logger) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordSink{session: session, channelID: channelID, logger: logger}, nil
}

// Notify posts workflow transitions and task failures. Send failures
// are logged and swallowed.
func (s *DiscordSink) Notify(e workflow.Event) {
	text, ok := formatNotable(e)
	if !ok {
		return
	}
	if _, err := s.session.ChannelMessageSend(s.channelID, text); err != nil {
		s.logger.Warn("discord send failed", zap.Error(err))
	}
}

// Close shuts down the Discord session.
func (s *DiscordSink) Close() error {
	return s.session.Close()
}
