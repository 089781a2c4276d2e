package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/chat"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/messaging"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/models"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/session"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/twiliowhatsapp"
)

// fakeGenerator implements chat.ReplyGenerator for handler tests.
type fakeGenerator struct {
	reply string
	err   error
}

func (f *fakeGenerator) GenerateReply(ctx context.Context, systemPrompt string, history []models.Turn, userMessage string) (string, error) {
	return f.reply, f.err
}

// fakeValidator implements WebhookValidator with fixed answers.
type fakeValidator struct {
	enabled bool
	valid   bool
}

func (f *fakeValidator) ValidationEnabled() bool { return f.enabled }
func (f *fakeValidator) ValidateSignature(url string, params map[string]string, signature string) bool {
	return f.valid
}

type testEnv struct {
	server *Server
	store  *session.Store
	mock   *twiliowhatsapp.MockClient
}

func newTestEnv(gen *fakeGenerator, validator WebhookValidator) *testEnv {
	store := session.NewStore()
	mock := twiliowhatsapp.NewMockClient()
	msgService := messaging.NewTwilioService(mock)
	chatSvc := chat.NewService(store, gen, "test system prompt")
	return &testEnv{
		server: NewServer(store, chatSvc, msgService, validator),
		store:  store,
		mock:   mock,
	}
}

func postWebhookForm(t *testing.T, env *testEnv, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	return rr
}

func webhookForm(body string) url.Values {
	return url.Values{
		"From":       {"whatsapp:+1234567890"},
		"To":         {"whatsapp:+15550001111"},
		"Body":       {body},
		"MessageSid": {"SM0001"},
	}
}

func TestWebhook_HappyPath(t *testing.T) {
	env := newTestEnv(&fakeGenerator{reply: "Hello back!"}, &fakeValidator{})
	rr := postWebhookForm(t, env, webhookForm("Hello"), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("expected XML content type, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "Hello back!") {
		t.Errorf("expected reply in TwiML body, got %s", rr.Body.String())
	}

	// History grows from empty to one user turn and one assistant turn.
	turns := env.store.GetHistory(context.Background(), "+1234567890")
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns recorded, got %d", len(turns))
	}
	if turns[0].Role != models.TurnRoleUser || turns[0].Text != "Hello" {
		t.Errorf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != models.TurnRoleAssistant || turns[1].Text != "Hello back!" {
		t.Errorf("unexpected assistant turn: %+v", turns[1])
	}
}

func TestWebhook_MissingBody(t *testing.T) {
	env := newTestEnv(&fakeGenerator{reply: "unused"}, &fakeValidator{})
	form := webhookForm("Hello")
	form.Del("Body")
	rr := postWebhookForm(t, env, form, nil)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
	// Rejected requests must have no side effects.
	if count := env.store.Count(context.Background()); count != 0 {
		t.Errorf("expected no sessions created, got %d", count)
	}
}

func TestWebhook_MissingFrom(t *testing.T) {
	env := newTestEnv(&fakeGenerator{reply: "unused"}, &fakeValidator{})
	form := webhookForm("Hello")
	form.Del("From")
	rr := postWebhookForm(t, env, form, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(&fakeGenerator{reply: "unused"}, &fakeValidator{enabled: true, valid: false})
	rr := postWebhookForm(t, env, webhookForm("Hello"), map[string]string{"X-Twilio-Signature": "bogus"})

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
	if count := env.store.Count(context.Background()); count != 0 {
		t.Errorf("expected no sessions created after rejected signature, got %d", count)
	}
}

func TestWebhook_ValidSignature(t *testing.T) {
	env := newTestEnv(&fakeGenerator{reply: "ok"}, &fakeValidator{enabled: true, valid: true})
	rr := postWebhookForm(t, env, webhookForm("Hello"), map[string]string{"X-Twilio-Signature": "good"})
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestWebhook_GenerationFailureStillReplies(t *testing.T) {
	env := newTestEnv(&fakeGenerator{err: errors.New("rate limited")}, &fakeValidator{})
	rr := postWebhookForm(t, env, webhookForm("Hello"), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 despite completion failure, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), chat.FallbackReply) {
		t.Errorf("expected fallback reply in body, got %s", rr.Body.String())
	}

	// The fallback turn is still recorded.
	turns := env.store.GetHistory(context.Background(), "+1234567890")
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns recorded, got %d", len(turns))
	}
	if turns[1].Text != chat.FallbackReply {
		t.Errorf("expected fallback recorded, got %q", turns[1].Text)
	}
}

func TestHealth_DegradedWithoutRemote(t *testing.T) {
	env := newTestEnv(&fakeGenerator{}, &fakeValidator{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp models.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp.Status != models.HealthStatusDegraded {
		t.Errorf("expected degraded status without remote, got %q", resp.Status)
	}
	if resp.Backend != models.BackendKindLocal {
		t.Errorf("expected local backend, got %q", resp.Backend)
	}
}

func TestSessions_CountAndDetail(t *testing.T) {
	env := newTestEnv(&fakeGenerator{reply: "hi"}, &fakeValidator{})
	postWebhookForm(t, env, webhookForm("Hello"), nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var counts models.SessionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &counts); err != nil {
		t.Fatalf("failed to decode sessions response: %v", err)
	}
	if counts.ActiveSessions != 1 {
		t.Errorf("expected 1 active session, got %d", counts.ActiveSessions)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/+1234567890", nil)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing session, got %d", rr.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode session detail: %v", err)
	}
	detail, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	if got := detail["turn_count"].(float64); got != 2 {
		t.Errorf("expected 2 turns, got %v", got)
	}
}

func TestSessionDetail_NotFound(t *testing.T) {
	env := newTestEnv(&fakeGenerator{}, &fakeValidator{})
	req := httptest.NewRequest(http.MethodGet, "/sessions/+1999999999", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rr.Code)
	}
}

func TestDeleteSession_Idempotent(t *testing.T) {
	env := newTestEnv(&fakeGenerator{reply: "hi"}, &fakeValidator{})

	// Deleting a session that never existed still succeeds.
	req := httptest.NewRequest(http.MethodDelete, "/sessions/+1234567890", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for absent session delete, got %d", rr.Code)
	}

	postWebhookForm(t, env, webhookForm("Hello"), nil)
	req = httptest.NewRequest(http.MethodDelete, "/sessions/+1234567890", nil)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for delete, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/+1234567890", nil)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestDeleteAllSessions(t *testing.T) {
	env := newTestEnv(&fakeGenerator{reply: "hi"}, &fakeValidator{})
	postWebhookForm(t, env, webhookForm("Hello"), nil)
	form := webhookForm("Hello")
	form.Set("From", "whatsapp:+1987654321")
	postWebhookForm(t, env, form, nil)

	req := httptest.NewRequest(http.MethodDelete, "/sessions/all", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if count := env.store.Count(context.Background()); count != 0 {
		t.Errorf("expected 0 sessions after delete all, got %d", count)
	}
}

func TestSendMessage_Success(t *testing.T) {
	env := newTestEnv(&fakeGenerator{}, &fakeValidator{})
	env.mock.NextSid = "SM777"

	body := strings.NewReader(`{"to":"+1234567890","text":"hello there"}`)
	req := httptest.NewRequest(http.MethodPost, "/send-message", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "SM777") {
		t.Errorf("expected provider sid in response, got %s", rr.Body.String())
	}
	if len(env.mock.SentMessages) != 1 {
		t.Fatalf("expected 1 outbound send, got %d", len(env.mock.SentMessages))
	}
}

func TestSendMessage_InvalidJSON(t *testing.T) {
	env := newTestEnv(&fakeGenerator{}, &fakeValidator{})
	req := httptest.NewRequest(http.MethodPost, "/send-message", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestSendMessage_MissingFields(t *testing.T) {
	env := newTestEnv(&fakeGenerator{}, &fakeValidator{})
	req := httptest.NewRequest(http.MethodPost, "/send-message", strings.NewReader(`{"to":"+1234567890"}`))
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing text, got %d", rr.Code)
	}
}

func TestSendMessage_ProviderFailure(t *testing.T) {
	env := newTestEnv(&fakeGenerator{}, &fakeValidator{})
	env.mock.Err = errors.New("provider down")

	req := httptest.NewRequest(http.MethodPost, "/send-message", strings.NewReader(`{"to":"+1234567890","text":"hi"}`))
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for provider failure, got %d", rr.Code)
	}
}

func TestStorageStatus(t *testing.T) {
	env := newTestEnv(&fakeGenerator{}, &fakeValidator{})
	req := httptest.NewRequest(http.MethodGet, "/storage/status", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var status models.StorageStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode storage status: %v", err)
	}
	if status.Connected {
		t.Error("expected disconnected status without remote backend")
	}
	if status.Kind != models.BackendKindLocal {
		t.Errorf("expected local kind, got %q", status.Kind)
	}
}

func TestRoot_Summary(t *testing.T) {
	env := newTestEnv(&fakeGenerator{}, &fakeValidator{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), ServiceName) {
		t.Errorf("expected service name in summary, got %s", rr.Body.String())
	}
}

func TestWebhook_CapBoundsHistory(t *testing.T) {
	store := session.NewStore(session.WithMaxTurns(4))
	mock := twiliowhatsapp.NewMockClient()
	msgService := messaging.NewTwilioService(mock)
	chatSvc := chat.NewService(store, &fakeGenerator{reply: "ack"}, "sys")
	server := NewServer(store, chatSvc, msgService, &fakeValidator{})
	env := &testEnv{server: server, store: store, mock: mock}

	// Three exchanges write six turns against a cap of four.
	for _, msg := range []string{"one", "two", "three"} {
		postWebhookForm(t, env, webhookForm(msg), nil)
	}
	turns := store.GetHistory(context.Background(), "+1234567890")
	if len(turns) != 4 {
		t.Fatalf("expected history capped at 4 turns, got %d", len(turns))
	}
	if turns[0].Text != "two" {
		t.Errorf("expected oldest turns dropped first, first turn is %q", turns[0].Text)
	}
}
