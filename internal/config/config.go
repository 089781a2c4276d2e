// Package config loads and validates the process-wide settings.
//
// Settings are read once from the environment at startup and are immutable
// afterwards. Missing required credentials are a fatal startup error so the
// service refuses to bind its port with a broken configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/util"
)

// Default configuration values applied when the environment does not override them.
const (
	DefaultOpenAIModel     = "gpt-4o"
	DefaultSessionTTL      = 86400 // seconds, 24 hours
	DefaultMaxHistoryTurns = 10
	DefaultRedisHost       = "localhost"
	DefaultRedisPort       = 6379
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8000
)

// DefaultSystemPrompt defines the bot's behavior when SYSTEM_PROMPT is not set.
const DefaultSystemPrompt = "You are a helpful and friendly WhatsApp chatbot assistant. " +
	"You should be conversational, concise, and helpful. " +
	"Keep responses under 500 characters when possible, as this is for WhatsApp messaging. " +
	"Be polite, professional, and engaging in your responses."

// Settings holds the validated process configuration. Constructed once by
// Load and read-only thereafter.
type Settings struct {
	// Twilio credentials and sending number.
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	// WebhookSecret enables inbound signature validation when non-empty.
	WebhookSecret string

	// OpenAI completion API.
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	SystemPrompt  string

	// Redis connection. RedisURL takes precedence over the discrete fields.
	RedisURL      string
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	RedisUseTLS   bool

	// Session bookkeeping.
	SessionTTLSeconds int
	MaxHistoryTurns   int

	// HTTP server.
	Host  string
	Port  int
	Debug bool
}

// Addr returns the host:port the HTTP server should bind.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads settings from the environment, applies defaults, and validates
// required fields. It returns an error naming every missing required field.
func Load() (*Settings, error) {
	s := &Settings{
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		WebhookSecret:     os.Getenv("TWILIO_WEBHOOK_SECRET"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		SystemPrompt:  os.Getenv("SYSTEM_PROMPT"),

		RedisURL:      os.Getenv("REDIS_URL"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     util.ParseIntEnv("REDIS_PORT", DefaultRedisPort),
		RedisDB:       util.ParseIntEnv("REDIS_DB", 0),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisUseTLS:   util.ParseBoolEnv("REDIS_USE_SSL", false),

		SessionTTLSeconds: util.ParseIntEnv("SESSION_TTL", DefaultSessionTTL),
		MaxHistoryTurns:   util.ParseIntEnv("MAX_HISTORY_TURNS", DefaultMaxHistoryTurns),

		Host:  os.Getenv("HOST"),
		Port:  util.ParseIntEnv("PORT", DefaultPort),
		Debug: util.ParseBoolEnv("DEBUG", false),
	}

	if s.OpenAIModel == "" {
		s.OpenAIModel = DefaultOpenAIModel
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = DefaultSystemPrompt
	}
	if s.RedisHost == "" {
		s.RedisHost = DefaultRedisHost
	}
	if s.Host == "" {
		s.Host = DefaultHost
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that all required credentials are present.
func (s *Settings) Validate() error {
	var missing []string
	if s.TwilioAccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if s.TwilioAuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if s.TwilioPhoneNumber == "" {
		missing = append(missing, "TWILIO_PHONE_NUMBER")
	}
	if s.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if s.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %d", s.SessionTTLSeconds)
	}
	if s.MaxHistoryTurns <= 0 {
		return fmt.Errorf("MAX_HISTORY_TURNS must be positive, got %d", s.MaxHistoryTurns)
	}
	return nil
}

// RedisAddr returns the host:port for the discrete Redis connection fields.
func (s *Settings) RedisAddr() string {
	return fmt.Sprintf("%s:%d", s.RedisHost, s.RedisPort)
}
