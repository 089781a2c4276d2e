package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/twiliowhatsapp"
)

// phoneNumberRegex strips everything that is not a digit when canonicalizing
// recipients. A leading + is preserved separately.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// minPhoneDigits is the minimum number of digits a recipient must contain.
const minPhoneDigits = 6

// TwilioService implements Service using the Twilio WhatsApp client.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a TwilioService. The client may be a real Twilio
// client or a mock in tests.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number. The whatsapp: prefix and all formatting characters are
// stripped; the result keeps a leading + followed by digits only.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	trimmed := strings.TrimPrefix(strings.TrimSpace(recipient), "whatsapp:")
	digits := phoneNumberRegex.ReplaceAllString(trimmed, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", digits, minPhoneDigits)
	}

	canonical := "+" + digits
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendMessage sends a message via Twilio and returns the provider message SID.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return "", err
	}

	sid, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		return "", err
	}
	return sid, nil
}

// Stop marks the service stopped. Idempotent.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
