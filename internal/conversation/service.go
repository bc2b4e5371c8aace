// Package conversation orchestrates ask requests: it persists the user's
// turn, drives the bounded-retry generation call, and reconciles what was
// persisted with what is returned when the remote endpoint fails.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devmentor-ai/devmentor/internal/chat"
	"github.com/devmentor-ai/devmentor/internal/composer"
	"github.com/devmentor-ai/devmentor/internal/retry"
)

const (
	// AutoTitle is given to sessions created implicitly by an ask without a
	// session id.
	AutoTitle = "New DevMentor Chat"

	// ChatReplyLimit caps persisted assistant replies in chat sessions.
	ChatReplyLimit = 3000

	// VariantReplyLimit caps replies from the analyze and roadmap variants.
	VariantReplyLimit = 2500

	shortenedSuffix = "\n\n⚠️ (Response shortened for brevity)"
	truncatedSuffix = "\n\n⚠️ (Response truncated for brevity)"
)

// Store is the session persistence contract the service depends on.
type Store interface {
	CreateSession(ownerID, title string) (*chat.Session, error)
	GetSession(sessionID, requesterID string) (*chat.Session, error)
	AppendMessage(sessionID, requesterID string, role chat.Role, text string) (*chat.Session, error)
}

// Generator performs a single generation attempt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options tune the retry budget. Zero values fall back to the retry package
// defaults (3 attempts, 2s linear backoff).
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Service coordinates session state and generation calls.
type Service struct {
	store       Store
	generator   Generator
	maxAttempts int
	baseDelay   time.Duration
}

// NewService wires a Service from its collaborators.
func NewService(store Store, generator Generator, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = retry.DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = retry.DefaultBaseDelay
	}
	return &Service{
		store:       store,
		generator:   generator,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
	}
}

// AskInput is one ask request against a session.
type AskInput struct {
	OwnerID   string
	SessionID string // empty means create a new session for this ask
	Prompt    string

	// OnRetry, when set, receives transient retry progress (attempt, max).
	// Notices are caller-facing only and never enter the message log.
	OnRetry func(attempt, max int)
}

// AskOutput is the delivered result of a successful ask.
type AskOutput struct {
	Reply     string
	SessionID string
	Created   bool // the session was created by this ask
}

// Ask validates the prompt, persists the user turn, runs the orchestrated
// generation call, and on success persists the assistant turn. On any
// generation failure the already-persisted user turn stays in the log, so a
// later retry can resume without re-asking.
func (s *Service) Ask(ctx context.Context, in AskInput) (*AskOutput, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", chat.ErrInvalidArgument)
	}

	session, created, err := s.resolveSession(in.OwnerID, in.SessionID)
	if err != nil {
		return nil, err
	}

	log := slog.With("session_id", session.ID, "owner_id", in.OwnerID)

	// The user turn is persisted before dispatch so the log records what
	// was asked even if the model never answers.
	if _, err := s.store.AppendMessage(session.ID, in.OwnerID, chat.RoleUser, in.Prompt); err != nil {
		return nil, fmt.Errorf("persisting user turn: %w", err)
	}

	prompt := composer.Compose(composer.ChatPrompt(strings.TrimSpace(in.Prompt)))
	reply, err := s.generate(ctx, prompt, in.OnRetry)
	if err != nil {
		log.Warn("generation failed, user turn retained", "error", err)
		return nil, err
	}

	reply = truncate(reply, ChatReplyLimit, shortenedSuffix)
	if _, err := s.store.AppendMessage(session.ID, in.OwnerID, chat.RoleAssistant, reply); err != nil {
		return nil, fmt.Errorf("persisting assistant turn: %w", err)
	}

	log.Info("ask completed", "created", created, "reply_len", len(reply))
	return &AskOutput{
		Reply:     reply,
		SessionID: session.ID,
		Created:   created,
	}, nil
}

// Analyze runs the structured code-review variant. No session state is
// touched; the reply is capped at the variant limit.
func (s *Service) Analyze(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("%w: code is required", chat.ErrInvalidArgument)
	}
	reply, err := s.generate(ctx, composer.Compose(composer.AnalyzePrompt(code)), nil)
	if err != nil {
		return "", err
	}
	return truncate(reply, VariantReplyLimit, shortenedSuffix), nil
}

// Roadmap runs the learning-roadmap variant.
func (s *Service) Roadmap(ctx context.Context, goal string) (string, error) {
	if strings.TrimSpace(goal) == "" {
		return "", fmt.Errorf("%w: goal is required", chat.ErrInvalidArgument)
	}
	reply, err := s.generate(ctx, composer.Compose(composer.RoadmapPrompt(goal)), nil)
	if err != nil {
		return "", err
	}
	return truncate(reply, VariantReplyLimit, truncatedSuffix), nil
}

// DirectAsk serves trusted internal callers: preface plus raw prompt, no
// session, no truncation.
func (s *Service) DirectAsk(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is required", chat.ErrInvalidArgument)
	}
	return s.generate(ctx, composer.Compose(prompt), nil)
}

// resolveSession loads an existing session or creates one for this ask. The
// created flag distinguishes the two outcomes for the caller.
func (s *Service) resolveSession(ownerID, sessionID string) (session *chat.Session, created bool, err error) {
	if sessionID == "" {
		session, err = s.store.CreateSession(ownerID, AutoTitle)
		if err != nil {
			return nil, false, fmt.Errorf("creating session: %w", err)
		}
		return session, true, nil
	}
	session, err = s.store.GetSession(sessionID, ownerID)
	if err != nil {
		return nil, false, err
	}
	return session, false, nil
}

func (s *Service) generate(ctx context.Context, prompt string, onRetry func(attempt, max int)) (string, error) {
	o := retry.New()
	o.MaxAttempts = s.maxAttempts
	o.BaseDelay = s.baseDelay
	o.OnRetry = onRetry
	return o.Do(ctx, func(ctx context.Context) (string, error) {
		return s.generator.Generate(ctx, prompt)
	})
}

// truncate caps text at limit runes, marking the cut with suffix.
func truncate(text string, limit int, suffix string) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + suffix
}
