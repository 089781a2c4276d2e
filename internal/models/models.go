// Package models defines core data types shared across the chatbot service.
//
// It contains the conversation session types, inbound webhook fields, and the
// standard API response envelope used by every JSON endpoint.
package models

import (
	"fmt"
	"time"
)

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	// TurnRoleUser marks a turn sent by the WhatsApp user.
	TurnRoleUser TurnRole = "user"
	// TurnRoleAssistant marks a turn generated by the completion API.
	TurnRoleAssistant TurnRole = "assistant"
)

// Valid reports whether the role is one of the recognized turn roles.
func (r TurnRole) Valid() bool {
	return r == TurnRoleUser || r == TurnRoleAssistant
}

// Turn is one message exchange unit stored in a session's history.
type Turn struct {
	Role TurnRole `json:"role"`
	Text string   `json:"text"`
	Time int64    `json:"time,omitempty"`
}

// Session holds per-phone-number conversation state. Turns are ordered oldest
// first and capped by the session store; the cap is not a property of the type.
type Session struct {
	Phone        string    `json:"phone"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// BackendKind identifies which storage implementation served an operation.
type BackendKind string

const (
	// BackendKindRemote means the remote cache (Redis) handled the operation.
	BackendKindRemote BackendKind = "remote"
	// BackendKindLocal means the in-process fallback map handled the operation.
	BackendKindLocal BackendKind = "local"
)

// StorageStatus describes the currently active session storage backend.
type StorageStatus struct {
	Connected bool        `json:"connected"`
	Kind      BackendKind `json:"kind"`
}

// WebhookRequest carries the form-encoded fields of an inbound Twilio
// WhatsApp webhook. Media fields are accepted but not interpreted.
type WebhookRequest struct {
	MessageSid string
	From       string
	To         string
	Body       string
	NumMedia   string
	MediaURL   string
}

// Validate checks that the fields required for message routing are present.
func (r WebhookRequest) Validate() error {
	if r.From == "" {
		return fmt.Errorf("missing required field: From")
	}
	if r.Body == "" {
		return fmt.Errorf("missing required field: Body")
	}
	return nil
}

// SendMessageRequest is the body of POST /send-message.
type SendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// Validate checks that both the recipient and message text are present.
func (r SendMessageRequest) Validate() error {
	if r.To == "" {
		return fmt.Errorf("missing required field: to")
	}
	if r.Text == "" {
		return fmt.Errorf("missing required field: text")
	}
	return nil
}

// SendMessageResult is returned on a successful outbound send.
type SendMessageResult struct {
	MessageSid string `json:"message_sid"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string      `json:"status"`
	Backend BackendKind `json:"backend"`
}

const (
	// HealthStatusOK indicates the remote storage backend is reachable.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates the service is running on local fallback storage.
	HealthStatusDegraded = "degraded"
)

// SessionsResponse is the body of GET /sessions.
type SessionsResponse struct {
	ActiveSessions int `json:"active_sessions"`
}

// SessionDetail is the body of GET /sessions/{phone}.
type SessionDetail struct {
	Phone        string    `json:"phone"`
	Turns        []Turn    `json:"turns"`
	TurnCount    int       `json:"turn_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}
