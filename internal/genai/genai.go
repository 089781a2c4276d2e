// Package genai wraps the OpenAI chat completion API for reply generation.
package genai

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/models"
)

// ErrNoChoices is returned when the completion API responds without any choices.
var ErrNoChoices = errors.New("no choices returned")

// Generation bounds keep replies WhatsApp-sized. One API call per request,
// no retry loop beyond what the SDK does by default.
const (
	maxReplyTokens = 500
	temperature    = 0.7
)

// chatService defines the minimal interface for chat completions, allowing
// tests to substitute a mock for the real OpenAI client.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// openaiChatService adapts the OpenAI SDK client to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return s.client.Chat.Completions.New(ctx, params)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the completion model identifier.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat  chatService
	model string
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4o)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return &Client{chat: openaiChatService{client: cli}, model: cfg.Model}, nil
}

// GenerateReply generates a reply for a new user message given the stored
// conversation history. The prompt is ordered system prompt first, then each
// stored turn oldest first, then the new user message last.
func (c *Client) GenerateReply(ctx context.Context, systemPrompt string, history []models.Turn, userMessage string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, turn := range history {
		switch turn.Role {
		case models.TurnRoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(userMessage))

	resp, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		MaxTokens:   openai.Int(maxReplyTokens),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}
