// Package twiliowhatsapp wraps the Twilio REST API for WhatsApp messaging.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender is the outbound WhatsApp delivery interface. SendMessage returns the
// provider message SID on success.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID    string
	AuthToken     string
	FromWhats     string
	WebhookSecret string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// WithWebhookSecret sets the signing secret used to validate inbound
// webhooks. Empty disables validation.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) { o.WebhookSecret = secret }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
	validator *twilioClient.RequestValidator
}

// NewClient builds a Twilio client from options, falling back to environment
// variables for anything not provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_PHONE_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}
	if !strings.HasPrefix(cfg.FromWhats, "whatsapp:") {
		cfg.FromWhats = "whatsapp:" + cfg.FromWhats
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	c := &Client{
		client:    client,
		fromWhats: cfg.FromWhats,
	}
	if cfg.WebhookSecret != "" {
		v := twilioClient.NewRequestValidator(cfg.WebhookSecret)
		c.validator = &v
	}
	return c, nil
}

// SendMessage sends a WhatsApp message via the Twilio API and returns the
// provider message SID.
func (c *Client) SendMessage(ctx context.Context, to string, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	msg, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	sid := ""
	if msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return sid, nil
}

// ValidationEnabled reports whether a webhook secret was configured.
func (c *Client) ValidationEnabled() bool {
	return c.validator != nil
}

// ValidateSignature checks an inbound webhook's X-Twilio-Signature against
// the request URL and form parameters. Returns true when validation is
// disabled so unsigned deployments keep working.
func (c *Client) ValidateSignature(url string, params map[string]string, signature string) bool {
	if c.validator == nil {
		return true
	}
	return c.validator.Validate(url, params, signature)
}

// MockClient records sent messages for tests.
type MockClient struct {
	SentMessages []SentMessage
	Err          error
	NextSid      string
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient creates an empty mock sender.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}, NextSid: "SM_mock"}
}

// SendMessage implements Sender.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return m.NextSid, nil
}
