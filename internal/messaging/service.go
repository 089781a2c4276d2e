// Package messaging provides the message delivery abstraction over the
// Twilio WhatsApp gateway.
package messaging

import (
	"context"
	"errors"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service is stopped")

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient and returns the provider
	// message SID. A failed send is operationally significant and is always
	// reported to the caller.
	SendMessage(ctx context.Context, to string, body string) (string, error)

	// Stop stops the service; subsequent sends fail with ErrServiceStopped.
	Stop() error
}
