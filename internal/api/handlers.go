package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/twilio/twilio-go/twiml"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/chat"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/models"
)

// rootHandler handles GET / with a service name/status summary.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.rootHandler: processing request", "path", r.URL.Path)
	summary := map[string]interface{}{
		"service": ServiceName,
		"status":  "running",
		"endpoints": []string{
			"POST /webhook",
			"GET /health",
			"GET /sessions",
			"GET /sessions/{phone}",
			"DELETE /sessions/{phone}",
			"POST /send-message",
			"GET /storage/status",
		},
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}

// healthHandler handles GET /health. Degraded means the remote storage
// backend is unreachable and sessions are served from the local fallback.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := s.store.Status(r.Context())
	resp := models.HealthResponse{Status: models.HealthStatusOK, Backend: status.Kind}
	if !status.Connected {
		resp.Status = models.HealthStatusDegraded
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// webhookHandler handles POST /webhook, the inbound Twilio WhatsApp message
// callback. It replies inline with a TwiML message body so Twilio delivers
// the response without a second API call.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.webhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil && s.validator.ValidationEnabled() {
		signature := r.Header.Get("X-Twilio-Signature")
		params := make(map[string]string, len(r.PostForm))
		for key, values := range r.PostForm {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
		if !s.validator.ValidateSignature(requestURL(r), params, signature) {
			slog.Warn("Server.webhookHandler: invalid webhook signature", "from", r.PostFormValue("From"))
			http.Error(w, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	req := models.WebhookRequest{
		MessageSid: r.PostFormValue("MessageSid"),
		From:       r.PostFormValue("From"),
		To:         r.PostFormValue("To"),
		Body:       r.PostFormValue("Body"),
		NumMedia:   r.PostFormValue("NumMedia"),
		MediaURL:   r.PostFormValue("MediaUrl0"),
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.webhookHandler: invalid webhook request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	phone, err := s.msgService.ValidateAndCanonicalizeRecipient(req.From)
	if err != nil {
		slog.Warn("Server.webhookHandler: sender validation failed", "error", err, "from", req.From)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	slog.Info("Server.webhookHandler: inbound message", "from", phone, "sid", req.MessageSid, "body_len", len(req.Body))
	reply := s.chatSvc.ProcessMessage(r.Context(), phone, req.Body)

	body, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: reply}})
	if err != nil {
		// TwiML generation only fails on marshaling errors; fall back to a
		// minimal reply so the user still hears back.
		slog.Error("Server.webhookHandler: failed to build TwiML response", "error", err)
		body, _ = twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: chat.FallbackReply}})
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("Server.webhookHandler: failed to write TwiML response", "error", err)
	}
}

// requestURL reconstructs the full URL Twilio signed, honoring proxy headers.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// sessionsHandler handles GET /sessions with the live session count.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	count := s.store.Count(r.Context())
	slog.Debug("Server.sessionsHandler: counted sessions", "count", count)
	writeJSONResponse(w, http.StatusOK, models.SessionsResponse{ActiveSessions: count})
}

// sessionDetailHandler handles GET /sessions/{phone}.
func (s *Server) sessionDetailHandler(w http.ResponseWriter, r *http.Request) {
	phone, err := s.msgService.ValidateAndCanonicalizeRecipient(r.PathValue("phone"))
	if err != nil {
		slog.Warn("Server.sessionDetailHandler: invalid phone", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	sess := s.store.GetSession(r.Context(), phone)
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	detail := models.SessionDetail{
		Phone:        sess.Phone,
		Turns:        sess.Turns,
		TurnCount:    len(sess.Turns),
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
	}
	writeJSONResponse(w, http.StatusOK, models.Success(detail))
}

// deleteSessionHandler handles DELETE /sessions/{phone}. Deleting an absent
// session still succeeds (idempotent); the phone "all" clears every session.
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("phone")
	if raw == "all" {
		cleared := s.store.DeleteAll(r.Context())
		slog.Info("Server.deleteSessionHandler: cleared all sessions", "count", cleared)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("All sessions cleared", map[string]int{"cleared_count": cleared}))
		return
	}
	phone, err := s.msgService.ValidateAndCanonicalizeRecipient(raw)
	if err != nil {
		slog.Warn("Server.deleteSessionHandler: invalid phone", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	s.store.Delete(r.Context(), phone)
	slog.Info("Server.deleteSessionHandler: session cleared", "phone", phone)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session cleared", nil))
}

// sendMessageHandler handles POST /send-message for out-of-band sends.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.sendMessageHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	to, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendMessageHandler: recipient validation failed", "error", err, "to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	sid, err := s.msgService.SendMessage(r.Context(), to, req.Text)
	if err != nil {
		slog.Error("Server.sendMessageHandler: failed to send message", "error", err, "to", to)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send message"))
		return
	}
	slog.Info("Server.sendMessageHandler: message sent", "to", to, "sid", sid)
	writeJSONResponse(w, http.StatusOK, models.Success(models.SendMessageResult{MessageSid: sid}))
}

// storageStatusHandler handles GET /storage/status.
func (s *Server) storageStatusHandler(w http.ResponseWriter, r *http.Request) {
	status := s.store.Status(r.Context())
	writeJSONResponse(w, http.StatusOK, status)
}
