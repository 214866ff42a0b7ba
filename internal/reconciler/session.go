package reconciler

import (
	"context"
	"sync"
	"time"

	"interunit-loan-recon/internal/models"

	"github.com/google/uuid"
)

// RunRecord is one entry of a session's run history.
type RunRecord struct {
	RunID        string        `json:"run_id,omitempty"`
	Scope        models.Scope  `json:"scope"`
	MatchesFound int           `json:"matches_found"`
	Error        string        `json:"error,omitempty"`
	At           time.Time     `json:"at"`
	Duration     time.Duration `json:"duration"`
}

// Session holds run history for one caller, such as a CLI invocation or an
// API client. It lives only as long as the caller keeps it.
type Session struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`

	mu      sync.Mutex
	history []RunRecord
	limit   int
}

// NewSession creates a session keeping at most limit records; zero means
// unbounded.
func NewSession(limit int) *Session {
	return &Session{ID: uuid.NewString(), Started: time.Now(), limit: limit}
}

// History returns the recorded runs, oldest first.
func (s *Session) History() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) record(scope models.Scope, result *RunResult, err error) {
	rec := RunRecord{Scope: scope, At: time.Now()}
	if result != nil {
		rec.RunID = result.RunID
		rec.MatchesFound = result.MatchesFound
		rec.Duration = result.Duration
		rec.At = result.StartedAt
	}
	if err != nil {
		rec.Error = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	if s.limit > 0 && len(s.history) > s.limit {
		s.history = s.history[len(s.history)-s.limit:]
	}
}

type sessionKey struct{}

// WithSession attaches a session to the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session attached to ctx, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
