package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devmentor-ai/devmentor/internal/chat"
	"github.com/devmentor-ai/devmentor/internal/conversation"
	"github.com/devmentor-ai/devmentor/internal/gemini"
	"github.com/devmentor-ai/devmentor/internal/storage"
)

// scriptedGenerator feeds canned generation outcomes to the conversation
// service, repeating the last entry once exhausted.
type scriptedGenerator struct {
	replies []string
	errs    []error
	calls   int
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	i := g.calls
	if i >= len(g.errs) {
		i = len(g.errs) - 1
	}
	g.calls++
	return g.replies[i], g.errs[i]
}

func newTestHandler(t *testing.T, gen *scriptedGenerator) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := conversation.NewService(store, gen, conversation.Options{BaseDelay: time.Millisecond})
	h := NewHandler(Deps{
		Store:         store,
		Conversations: svc,
		Verify: StaticTokenVerifier(map[string]string{
			"alice-token": "alice",
			"bob-token":   "bob",
		}),
		ServiceKey: "svc-secret",
	})
	return h, store
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeResp[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestAuth_Required(t *testing.T) {
	h, _ := newTestHandler(t, &scriptedGenerator{replies: []string{"hi"}, errs: []error{nil}})

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"unknown token", "wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodGet, "/api/chat/", tt.token, nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestCreateChat_DefaultTitle(t *testing.T) {
	h, _ := newTestHandler(t, &scriptedGenerator{replies: []string{""}, errs: []error{nil}})

	w := doJSON(t, h, http.MethodPost, "/api/chat/create", "alice-token", map[string]string{})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	sess := decodeResp[chat.Session](t, w)
	if sess.Title != chat.DefaultTitle {
		t.Errorf("title = %q, want %q", sess.Title, chat.DefaultTitle)
	}
	if sess.OwnerID != "alice" {
		t.Errorf("owner = %q, want alice", sess.OwnerID)
	}
}

func TestAppendMessage_Ownership(t *testing.T) {
	h, store := newTestHandler(t, &scriptedGenerator{replies: []string{""}, errs: []error{nil}})

	sess, err := store.CreateSession("alice", "mine")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	w := doJSON(t, h, http.MethodPost, "/api/chat/"+sess.ID+"/message", "bob-token",
		map[string]string{"role": "user", "text": "sneaky"})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/api/chat/"+sess.ID+"/message", "alice-token",
		map[string]string{"role": "user", "text": "mine"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	got := decodeResp[chat.Session](t, w)
	if len(got.Messages) != 1 || got.Messages[0].Text != "mine" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestGetChat_NotFound(t *testing.T) {
	h, _ := newTestHandler(t, &scriptedGenerator{replies: []string{""}, errs: []error{nil}})

	w := doJSON(t, h, http.MethodGet, "/api/chat/nope", "alice-token", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListChats_MostRecentFirst(t *testing.T) {
	h, store := newTestHandler(t, &scriptedGenerator{replies: []string{""}, errs: []error{nil}})

	old, _ := store.CreateSession("alice", "old")
	recent, _ := store.CreateSession("alice", "recent")
	if _, err := store.AppendMessage(old.ID, "alice", chat.RoleUser, "bump"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	_ = recent

	w := doJSON(t, h, http.MethodGet, "/api/chat/", "alice-token", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	sessions := decodeResp[[]chat.Session](t, w)
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].Title != "old" {
		t.Errorf("sessions[0].Title = %q, want the bumped session first", sessions[0].Title)
	}
}

func TestAsk_CreatesSessionAndPersistsTurns(t *testing.T) {
	h, store := newTestHandler(t, &scriptedGenerator{replies: []string{"hi"}, errs: []error{nil}})

	w := doJSON(t, h, http.MethodPost, "/api/gemini/ask", "alice-token", map[string]string{"prompt": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeResp[map[string]string](t, w)
	if resp["reply"] != "hi" {
		t.Errorf("reply = %q", resp["reply"])
	}
	if resp["chatId"] == "" {
		t.Fatal("missing chatId for auto-created session")
	}

	sess, err := store.GetSession(resp["chatId"], "alice")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Role != chat.RoleUser || sess.Messages[0].Text != "hello" {
		t.Errorf("messages[0] = %s:%q", sess.Messages[0].Role, sess.Messages[0].Text)
	}
	if sess.Messages[1].Role != chat.RoleAssistant || sess.Messages[1].Text != "hi" {
		t.Errorf("messages[1] = %s:%q", sess.Messages[1].Role, sess.Messages[1].Text)
	}
}

func TestAsk_ExistingSession(t *testing.T) {
	h, store := newTestHandler(t, &scriptedGenerator{replies: []string{"sure"}, errs: []error{nil}})

	sess, _ := store.CreateSession("alice", "ongoing")
	w := doJSON(t, h, http.MethodPost, "/api/gemini/ask/"+sess.ID, "alice-token", map[string]string{"prompt": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeResp[map[string]string](t, w)
	if resp["chatId"] != sess.ID {
		t.Errorf("chatId = %q, want %q", resp["chatId"], sess.ID)
	}
}

func TestAsk_EmptyPrompt(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{""}, errs: []error{nil}}
	h, _ := newTestHandler(t, gen)

	w := doJSON(t, h, http.MethodPost, "/api/gemini/ask", "alice-token", map[string]string{"prompt": "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func TestAsk_UpstreamErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *gemini.StatusError
		wantStatus int
		wantInMsg  string
	}{
		{
			name:       "overloaded after retries",
			err:        &gemini.StatusError{Kind: gemini.KindOverloaded, Status: 503},
			wantStatus: http.StatusServiceUnavailable,
			wantInMsg:  "overloaded",
		},
		{
			name:       "rate limited after retries",
			err:        &gemini.StatusError{Kind: gemini.KindRateLimited, Status: 429},
			wantStatus: http.StatusTooManyRequests,
			wantInMsg:  "Too many requests",
		},
		{
			name:       "unauthorized is terminal",
			err:        &gemini.StatusError{Kind: gemini.KindUnauthorized, Status: 401, Message: "API key not valid"},
			wantStatus: http.StatusUnauthorized,
			wantInMsg:  "API key not valid",
		},
		{
			name:       "timeout",
			err:        &gemini.StatusError{Kind: gemini.KindTimeout},
			wantStatus: http.StatusGatewayTimeout,
			wantInMsg:  "timed out",
		},
		{
			name:       "unknown",
			err:        &gemini.StatusError{Kind: gemini.KindUnknown, Status: 500},
			wantStatus: http.StatusInternalServerError,
			wantInMsg:  "Failed to fetch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{replies: []string{""}, errs: []error{tt.err}}
			h, store := newTestHandler(t, gen)
			sess, _ := store.CreateSession("alice", "")

			w := doJSON(t, h, http.MethodPost, "/api/gemini/ask/"+sess.ID, "alice-token", map[string]string{"prompt": "hello"})
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantInMsg) {
				t.Errorf("body %q does not mention %q", w.Body.String(), tt.wantInMsg)
			}

			// The user turn must survive the failure.
			got, err := store.GetSession(sess.ID, "alice")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if len(got.Messages) != 1 {
				t.Errorf("got %d persisted messages, want 1 (dangling user turn)", len(got.Messages))
			}
		})
	}
}

func TestInternalAsk_ServiceKey(t *testing.T) {
	h, _ := newTestHandler(t, &scriptedGenerator{replies: []string{"pong"}, errs: []error{nil}})

	body := map[string]string{"prompt": "ping"}
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/gemini/ask", &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", w.Code)
	}

	json.NewEncoder(&buf).Encode(body)
	req = httptest.NewRequest(http.MethodPost, "/api/internal/gemini/ask", &buf)
	req.Header.Set("X-Service-Key", "svc-secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("with key: status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeResp[map[string]string](t, w)
	if resp["reply"] != "pong" {
		t.Errorf("reply = %q", resp["reply"])
	}
}

func TestAnalyzeAndRoadmap(t *testing.T) {
	h, _ := newTestHandler(t, &scriptedGenerator{replies: []string{"looks fine"}, errs: []error{nil}})

	w := doJSON(t, h, http.MethodPost, "/api/analyze", "alice-token", map[string]string{"code": "func main() {}"})
	if w.Code != http.StatusOK {
		t.Fatalf("analyze status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decodeResp[map[string]string](t, w); resp["reply"] != "looks fine" {
		t.Errorf("analyze reply = %q", resp["reply"])
	}

	w = doJSON(t, h, http.MethodPost, "/api/roadmap", "alice-token", map[string]string{"goal": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty goal: status = %d, want 400", w.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, &scriptedGenerator{replies: []string{""}, errs: []error{nil}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("body = %q", w.Body.String())
	}
}
