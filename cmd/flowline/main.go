package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/flowline/internal/api"
	"github.com/nidhogg/flowline/internal/capability"
	"github.com/nidhogg/flowline/internal/config"
	"github.com/nidhogg/flowline/internal/monitor"
	"github.com/nidhogg/flowline/internal/provider"
	"github.com/nidhogg/flowline/internal/resource"
	"github.com/nidhogg/flowline/internal/store"
	"github.com/nidhogg/flowline/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Flowline...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/flowline.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Build the capability registry from config
	registry := capability.NewRegistry(logger)
	for _, cc := range cfg.Capabilities {
		switch cc.Type {
		case "llm":
			if cc.Provider != "" {
				router.Bind(cc.AgentType, cc.Provider)
			}
			registry.Register(capability.NewLLMExecutor(cc.AgentType, cc.Model, cc.SystemPrompt, router, logger))
		case "echo":
			registry.Register(capability.NewEchoExecutor(cc.AgentType))
		default:
			logger.Warn("unknown capability type", zap.String("agent_type", cc.AgentType), zap.String("type", cc.Type))
		}
	}

	// Initialize PostgreSQL journal
	var journal *store.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without journal", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			journal = ps
		}
	}

	// Assemble monitoring sinks
	sinks := []workflow.Sink{monitor.NewLogSink(logger)}
	if journal != nil {
		sinks = append(sinks, journal)
	}

	var redisSink *monitor.RedisSink
	if cfg.Database.Redis.URL != "" {
		rs, rErr := monitor.NewRedisSink(cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(rErr))
		} else {
			redisSink = rs
			sinks = append(sinks, rs)
		}
	}

	if cfg.Notifiers.Slack.Enabled && cfg.Notifiers.Slack.BotToken != "" {
		sinks = append(sinks, monitor.NewSlackSink(cfg.Notifiers.Slack.BotToken, cfg.Notifiers.Slack.Channel, logger))
	}

	var discordSink *monitor.DiscordSink
	if cfg.Notifiers.Discord.Enabled && cfg.Notifiers.Discord.BotToken != "" {
		ds, dErr := monitor.NewDiscordSink(cfg.Notifiers.Discord.BotToken, cfg.Notifiers.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord unavailable", zap.Error(dErr))
		} else {
			discordSink = ds
			sinks = append(sinks, ds)
		}
	}

	hub := monitor.NewHub(logger, sinks...)

	// Initialize the workflow engine
	slots := resource.NewSlotPool(cfg.Engine.TaskSlots, logger)
	engine := workflow.NewEngine(registry, slots, hub, cfg.Engine.MaxConcurrentWorkflows, logger)
	if cfg.Engine.MaxDispatchRetries > 0 {
		engine.SetDispatchRetries(cfg.Engine.MaxDispatchRetries)
	}

	// Build HTTP handler
	handler := api.NewHandler(engine, registry, journal, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Flowline listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Flowline...")
	srv.Shutdown(context.Background())
	engine.Shutdown()
	hub.Close()
	if redisSink != nil {
		redisSink.Close()
	}
	if discordSink != nil {
		discordSink.Close()
	}
	if journal != nil {
		journal.Close()
	}
}
