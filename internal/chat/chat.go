// Package chat orchestrates the per-message relay sequence: fetch history,
// generate a reply, record both turns. Conversational behavior itself lives
// entirely in the completion API.
package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/models"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/session"
)

// FallbackReply is returned to the user when reply generation fails. The end
// user always receives some reply; operators see the underlying error in logs.
const FallbackReply = "I'm sorry, I'm having trouble processing your message right now. Please try again in a moment."

// generationTimeout bounds a single completion call so one stuck upstream
// request cannot hold a webhook open indefinitely.
const generationTimeout = 60 * time.Second

// ReplyGenerator produces a reply from the system prompt, stored history, and
// the new user message.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, systemPrompt string, history []models.Turn, userMessage string) (string, error)
}

// Service coordinates the session store and the completion client.
type Service struct {
	store        *session.Store
	generator    ReplyGenerator
	systemPrompt string
}

// NewService creates a chat service. The store and generator are injected so
// tests can substitute fakes.
func NewService(store *session.Store, generator ReplyGenerator, systemPrompt string) *Service {
	return &Service{
		store:        store,
		generator:    generator,
		systemPrompt: systemPrompt,
	}
}

// ProcessMessage relays one inbound message and returns the reply text.
//
// A completion failure still produces the fallback reply, and the fallback is
// recorded in history like any assistant turn, so the conversation state and
// what the user saw stay consistent.
func (s *Service) ProcessMessage(ctx context.Context, phone, body string) string {
	history := s.store.GetHistory(ctx, phone)

	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()
	reply, err := s.generator.GenerateReply(genCtx, s.systemPrompt, history, body)
	if err != nil {
		slog.Error("chat.Service: reply generation failed, using fallback", "phone", phone, "error", err)
		reply = FallbackReply
	}
	if reply == "" {
		slog.Warn("chat.Service: empty reply generated, using fallback", "phone", phone)
		reply = FallbackReply
	}

	s.store.AppendTurn(ctx, phone, models.TurnRoleUser, body)
	s.store.AppendTurn(ctx, phone, models.TurnRoleAssistant, reply)

	slog.Info("chat.Service: message processed", "phone", phone, "history_len", len(history), "reply_len", len(reply))
	return reply
}
