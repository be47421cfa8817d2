package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/shopbrain/internal/domain/action"
	"github.com/rpggio/shopbrain/internal/repository"
)

const (
	// DefaultPendingTTL is how long a pending action stays confirmable.
	DefaultPendingTTL = 10 * time.Minute
	// MaxDebugResults caps last_results and candidate lists in debug output.
	MaxDebugResults = 50
)

// Service reads and writes per-scope conversation state.
type Service struct {
	repo   Repository
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPendingTTL overrides the pending action lifetime.
func WithPendingTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new session service.
func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, logger: logger, ttl: DefaultPendingTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads the state for scope, returning an empty state when none is
// stored. An expired pending action is dropped from the returned state; the
// drop is persisted by the next Patch.
func (s *Service) Get(ctx context.Context, scope Scope) (*State, error) {
	if scope.UserID == "" {
		return nil, ErrInvalidScope
	}
	st, err := s.repo.Load(ctx, scope.Key())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if st.LastResults == nil {
		st.LastResults = []any{}
	}

	if pa := st.PendingAction; pa != nil && pa.ExpiresAt > 0 && s.now().UnixMilli() > pa.ExpiresAt {
		s.logger.Debug("pending action expired", "scope", scope.Key(), "pending_id", pa.ID)
		st.PendingAction = nil
	}
	return st, nil
}

// Patch applies fn to the current state and saves the result.
func (s *Service) Patch(ctx context.Context, scope Scope, fn func(*State)) (*State, error) {
	st, err := s.Get(ctx, scope)
	if err != nil {
		return nil, err
	}
	fn(st)
	st.LastUpdatedAtMS = s.now().UnixMilli()
	if err := s.repo.Save(ctx, scope.Key(), st); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	return st, nil
}

// ClearPending removes every pending field.
func (s *Service) ClearPending(ctx context.Context, scope Scope) (*State, error) {
	return s.Patch(ctx, scope, func(st *State) { st.ClearPending() })
}

// Reset deletes all stored state for scope.
func (s *Service) Reset(ctx context.Context, scope Scope) error {
	if scope.UserID == "" {
		return ErrInvalidScope
	}
	if err := s.repo.Delete(ctx, scope.Key()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("deleting state: %w", err)
	}
	return nil
}

// NewPendingAction wraps a normalized action with a fresh id and expiry.
func (s *Service) NewPendingAction(a action.Action) PendingAction {
	now := s.now()
	return PendingAction{
		ID:        NewPendingID(),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(s.ttl).UnixMilli(),
		Action:    a,
	}
}

// Now returns the service clock in milliseconds.
func (s *Service) Now() int64 {
	return s.now().UnixMilli()
}

// NewPendingID returns "pa_" followed by 10 lowercase hex characters.
func NewPendingID() string {
	return "pa_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// SanitizeForDebug returns a copy of st safe to send to clients, with result
// and candidate lists capped.
func SanitizeForDebug(st *State) State {
	if st == nil {
		return *NewState()
	}
	out := *st
	out.LastResults = capSlice(st.LastResults, MaxDebugResults)
	if out.LastResults == nil {
		out.LastResults = []any{}
	}
	if sel := st.PendingTargetSelection; sel != nil {
		c := *sel
		c.Candidates = capSlice(sel.Candidates, MaxDebugResults)
		out.PendingTargetSelection = &c
	}
	return out
}

func capSlice[T any](in []T, n int) []T {
	if len(in) <= n {
		return in
	}
	return in[:n]
}
