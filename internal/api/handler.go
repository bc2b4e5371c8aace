// Package api exposes the DevMentor HTTP surface: session CRUD, the
// ask/analyze/roadmap generation routes, and the internal service endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devmentor-ai/devmentor/internal/chat"
	"github.com/devmentor-ai/devmentor/internal/conversation"
	"github.com/devmentor-ai/devmentor/internal/gemini"
)

const maxRequestBodySize = 1 << 20 // 1MB

// SessionStore is the persistence surface the handlers need.
type SessionStore interface {
	CreateSession(ownerID, title string) (*chat.Session, error)
	GetSession(sessionID, requesterID string) (*chat.Session, error)
	ListSessions(ownerID string) ([]chat.Session, error)
	AppendMessage(sessionID, requesterID string, role chat.Role, text string) (*chat.Session, error)
}

// Conversations is the orchestration surface the handlers need.
type Conversations interface {
	Ask(ctx context.Context, in conversation.AskInput) (*conversation.AskOutput, error)
	Analyze(ctx context.Context, code string) (string, error)
	Roadmap(ctx context.Context, goal string) (string, error)
	DirectAsk(ctx context.Context, prompt string) (string, error)
}

// Deps holds handler dependencies.
type Deps struct {
	Store         SessionStore
	Conversations Conversations
	Verify        TokenVerifier
	ServiceKey    string
}

// NewHandler builds the full route tree.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(RequireAuth(deps.Verify))
		r.Post("/create", handleCreateChat(deps))
		r.Get("/", handleListChats(deps))
		r.Get("/{chatID}", handleGetChat(deps))
		r.Post("/{chatID}/message", handleAppendMessage(deps))
	})

	r.Route("/api/gemini", func(r chi.Router) {
		r.Use(RequireAuth(deps.Verify))
		r.Post("/ask", handleAsk(deps))
		r.Post("/ask/{chatID}", handleAsk(deps))
	})

	r.With(RequireAuth(deps.Verify)).Post("/api/analyze", handleAnalyze(deps))
	r.With(RequireAuth(deps.Verify)).Post("/api/roadmap", handleRoadmap(deps))

	r.With(ServiceKeyAuth(deps.ServiceKey)).Post("/api/internal/gemini/ask", handleInternalAsk(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCreateChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		session, err := deps.Store.CreateSession(OwnerIDFromContext(r.Context()), req.Title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, session)
	}
}

func handleListChats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Store.ListSessions(OwnerIDFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		if sessions == nil {
			sessions = []chat.Session{}
		}
		writeJSON(w, sessions)
	}
}

func handleGetChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := deps.Store.GetSession(chi.URLParam(r, "chatID"), OwnerIDFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, session)
	}
}

func handleAppendMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role string `json:"role"`
			Text string `json:"text"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		session, err := deps.Store.AppendMessage(
			chi.URLParam(r, "chatID"), OwnerIDFromContext(r.Context()),
			chat.Role(req.Role), req.Text,
		)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, session)
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		ownerID := OwnerIDFromContext(r.Context())
		out, err := deps.Conversations.Ask(r.Context(), conversation.AskInput{
			OwnerID:   ownerID,
			SessionID: chi.URLParam(r, "chatID"),
			Prompt:    req.Prompt,
			OnRetry: func(attempt, max int) {
				slog.Info("generation overloaded, retrying",
					"owner_id", ownerID, "attempt", attempt, "max", max)
			},
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, map[string]any{
			"reply":  out.Reply,
			"chatId": out.SessionID,
		})
	}
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		reply, err := deps.Conversations.Analyze(r.Context(), req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"reply": reply})
	}
}

func handleRoadmap(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Goal string `json:"goal"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		reply, err := deps.Conversations.Roadmap(r.Context(), req.Goal)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"reply": reply})
	}
}

func handleInternalAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		reply, err := deps.Conversations.DirectAsk(r.Context(), req.Prompt)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"reply": reply})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain and generation errors to the caller-facing status
// and message. Retryable remote failures arrive here only after the retry
// budget is exhausted.
func writeError(w http.ResponseWriter, err error) {
	var se *gemini.StatusError
	if errors.As(err, &se) {
		writeGenerationError(w, se)
		return
	}

	switch {
	case errors.Is(err, chat.ErrInvalidArgument):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, chat.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "chat not found")
	case errors.Is(err, chat.ErrForbidden):
		httpError(w, http.StatusForbidden, "permission_error", "forbidden")
	default:
		slog.Error("internal error", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "server error")
	}
}

func writeGenerationError(w http.ResponseWriter, se *gemini.StatusError) {
	switch se.Kind {
	case gemini.KindOverloaded:
		httpError(w, http.StatusServiceUnavailable, "overloaded_error",
			"Gemini model is overloaded. Please try again later.")
	case gemini.KindRateLimited:
		httpError(w, http.StatusTooManyRequests, "rate_limit_error",
			"Too many requests, please slow down and try again soon.")
	case gemini.KindBadRequest, gemini.KindUnauthorized:
		msg := se.Message
		if msg == "" {
			msg = "Invalid request or authentication issue with Gemini API."
		}
		httpError(w, se.Status, "upstream_error", "%s", msg)
	case gemini.KindTimeout:
		httpError(w, http.StatusGatewayTimeout, "timeout_error",
			"Gemini request timed out. Please try again.")
	default:
		msg := se.Message
		if msg == "" {
			msg = "Failed to fetch Gemini response. Please try again."
		}
		httpError(w, http.StatusInternalServerError, "api_error", "%s", msg)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
