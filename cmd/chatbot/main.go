// Command chatbot runs the WhatsApp relay service: Twilio webhook in, OpenAI
// completion with per-phone history, TwiML reply out.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/api"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/chat"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/config"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/genai"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/messaging"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/session"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/twiliowhatsapp"
)

// redisDialTimeout bounds connection attempts so an unreachable cache fails
// fast into the local fallback instead of stalling requests.
const redisDialTimeout = 5 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	flags := parseCommandLineFlags(cfg)
	initializeLogger(cfg.Debug)

	slog.Info("Configuration loaded",
		"model", cfg.OpenAIModel,
		"addr", cfg.Addr(),
		"redis_url_set", cfg.RedisURL != "",
		"redis_addr", cfg.RedisAddr(),
		"session_ttl_seconds", cfg.SessionTTLSeconds,
		"max_history_turns", cfg.MaxHistoryTurns,
		"webhook_validation", cfg.WebhookSecret != "",
		"debug", cfg.Debug)

	store := buildSessionStore(cfg)

	gaClient, err := genai.NewClient(
		genai.WithAPIKey(cfg.OpenAIAPIKey),
		genai.WithModel(cfg.OpenAIModel),
		genai.WithBaseURL(cfg.OpenAIBaseURL),
	)
	if err != nil {
		slog.Error("Failed to create GenAI client", "error", err)
		os.Exit(1)
	}

	twClient, err := twiliowhatsapp.NewClient(
		twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(cfg.TwilioPhoneNumber),
		twiliowhatsapp.WithWebhookSecret(cfg.WebhookSecret),
	)
	if err != nil {
		slog.Error("Failed to create Twilio client", "error", err)
		os.Exit(1)
	}

	msgService := messaging.NewTwilioService(twClient)
	chatSvc := chat.NewService(store, gaClient, cfg.SystemPrompt)
	server := api.NewServer(store, chatSvc, msgService, twClient, api.WithAddr(*flags.addr))

	if err := server.Run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// Flags holds command line flag values. Defaults are seeded from the
// environment-derived settings so flags act as overrides.
type Flags struct {
	addr *string
}

func parseCommandLineFlags(cfg *config.Settings) Flags {
	flags := Flags{
		addr: flag.String("addr", cfg.Addr(), "listen address (overrides $HOST/$PORT)"),
	}
	flag.Parse()
	return flags
}

// initializeLogger sets up structured logging; debug level when enabled.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// buildSessionStore wires the Redis remote backend when configured. Redis
// being down at startup is not fatal: the store falls back to the in-process
// map and re-attempts the remote on every call.
func buildSessionStore(cfg *config.Settings) *session.Store {
	var redisOpts *redis.Options
	if cfg.RedisURL != "" {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisOpts = parsed
	} else {
		redisOpts = &redis.Options{
			Addr:     cfg.RedisAddr(),
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisUseTLS {
			redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	redisOpts.DialTimeout = redisDialTimeout
	redisOpts.ReadTimeout = redisDialTimeout
	redisOpts.WriteTimeout = redisDialTimeout

	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unreachable at startup, starting on local fallback storage", "error", err)
	} else {
		slog.Info("Redis connection established")
	}

	return session.NewStore(
		session.WithRemote(session.NewRedisBackend(client)),
		session.WithTTL(time.Duration(cfg.SessionTTLSeconds)*time.Second),
		session.WithMaxTurns(cfg.MaxHistoryTurns),
	)
}
