package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Engine       EngineConfig       `json:"engine"`
	Providers    []ProviderConfig   `json:"providers"`
	Capabilities []CapabilityConfig `json:"capabilities"`
	Notifiers    NotifierConfig     `json:"notifiers"`
	Database     DatabaseConfig     `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type EngineConfig struct {
	MaxConcurrentWorkflows int `json:"max_concurrent_workflows"`
	MaxDispatchRetries     int `json:"max_dispatch_retries"`
	TaskSlots              int `json:"task_slots"`
}

type ProviderConfig struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint"`
	APIKey   string   `json:"api_key"`
	Models   []string `json:"models,omitempty"`
}

// CapabilityConfig declares one agent type the scheduler can dispatch.
// Type is "llm" or "echo".
type CapabilityConfig struct {
	AgentType    string `json:"agent_type"`
	Type         string `json:"type"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type NotifierConfig struct {
	Slack   SlackNotifierConfig   `json:"slack"`
	Discord DiscordNotifierConfig `json:"discord"`
}

type SlackNotifierConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordNotifierConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream,omitempty"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
