// Package session implements per-phone-number conversation storage.
//
// The store fronts two backends: a remote Redis cache and an in-process
// fallback map. Every operation attempts the remote backend first and falls
// back to the local map when the remote is unreachable, so a Redis outage
// degrades the service instead of failing requests. The backend choice is
// re-evaluated on each call; a recovered Redis is used again without a
// restart.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/models"
)

// ErrRemoteUnavailable is returned by backends when the remote cache cannot
// be reached. The store absorbs it; it never propagates to HTTP handlers.
var ErrRemoteUnavailable = errors.New("remote session backend unavailable")

// Backend is a storage driver for session data.
//
// Get returns (nil, nil) when no session exists for the phone number.
type Backend interface {
	Get(ctx context.Context, phone string) (*models.Session, error)
	Save(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, phone string) error
	Phones(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// Opts holds configuration for the session store.
type Opts struct {
	Remote   Backend
	TTL      time.Duration
	MaxTurns int
}

// Option configures the session store.
type Option func(*Opts)

// WithRemote sets the remote backend. When nil the store runs local-only.
func WithRemote(b Backend) Option {
	return func(o *Opts) { o.Remote = b }
}

// WithTTL sets the session time-to-live applied on every write.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithMaxTurns sets the history cap. Oldest turns are dropped first once the
// cap is exceeded.
func WithMaxTurns(n int) Option {
	return func(o *Opts) { o.MaxTurns = n }
}

// Defaults applied when options leave fields unset.
const (
	DefaultTTL      = 24 * time.Hour
	DefaultMaxTurns = 10
)

// Store is the session store front. It exclusively owns session data; the
// HTTP layer only goes through its methods.
type Store struct {
	remote   Backend
	local    *MemoryBackend
	ttl      time.Duration
	maxTurns int

	// Per-phone locks serialize each read-modify-write across the remote
	// round trip. Without them, concurrent appends for the same phone read
	// the same snapshot and overwrite each other's turns.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a session store. It never fails: without a remote backend
// the store serves everything from the in-process map.
func NewStore(opts ...Option) *Store {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Store{
		remote:   cfg.Remote,
		local:    NewMemoryBackend(),
		ttl:      cfg.TTL,
		maxTurns: cfg.MaxTurns,
		locks:    make(map[string]*sync.Mutex),
	}
}

// phoneLock returns the mutex guarding one phone's session. Lock entries are
// never freed; they are bounded by the number of distinct phones seen.
func (s *Store) phoneLock(phone string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[phone]
	if !ok {
		l = &sync.Mutex{}
		s.locks[phone] = l
	}
	return l
}

// GetHistory returns the ordered turns for a phone number, oldest first.
// It never fails the caller: a missing session or an unreachable backend
// degrades to an empty history.
func (s *Store) GetHistory(ctx context.Context, phone string) []models.Turn {
	sess := s.getSession(ctx, phone)
	if sess == nil {
		return nil
	}
	return sess.Turns
}

// GetSession returns the full session for a phone number, or nil if absent.
func (s *Store) GetSession(ctx context.Context, phone string) *models.Session {
	return s.getSession(ctx, phone)
}

func (s *Store) getSession(ctx context.Context, phone string) *models.Session {
	var remoteSess *models.Session
	if s.remote != nil {
		sess, err := s.remote.Get(ctx, phone)
		if err != nil {
			slog.Warn("session.Store: remote get failed, using local fallback", "phone", phone, "error", err)
		} else {
			remoteSess = sess
		}
	}
	localSess, err := s.local.Get(ctx, phone)
	if err != nil {
		// The in-process backend cannot fail except on programming error.
		slog.Error("session.Store: local get failed", "phone", phone, "error", err)
		localSess = nil
	}
	// The local map may hold turns written while the remote was unreachable;
	// after recovery the stale remote copy must not shadow them. Prefer
	// whichever copy saw activity last.
	if remoteSess == nil {
		return localSess
	}
	if localSess != nil && localSess.LastActivity.After(remoteSess.LastActivity) {
		return localSess
	}
	return remoteSess
}

// AppendTurn adds one turn to a phone number's history, creating the session
// if absent (get-or-create semantics). The history is truncated from the
// front once it exceeds the cap, and the TTL countdown restarts on every
// write. Backend failures are logged, never surfaced.
//
// The whole fetch-truncate-append-save sequence holds the phone's lock, so
// concurrent appends for one phone are serialized and none are lost.
func (s *Store) AppendTurn(ctx context.Context, phone string, role models.TurnRole, text string) {
	l := s.phoneLock(phone)
	l.Lock()
	defer l.Unlock()

	now := time.Now()
	sess := s.getSession(ctx, phone)
	if sess == nil {
		sess = &models.Session{Phone: phone, CreatedAt: now}
	}
	sess.Turns = append(sess.Turns, models.Turn{Role: role, Text: text, Time: now.Unix()})
	if len(sess.Turns) > s.maxTurns {
		sess.Turns = sess.Turns[len(sess.Turns)-s.maxTurns:]
	}
	sess.LastActivity = now

	// The local map always receives the write so history survives a remote
	// outage that begins mid-conversation.
	if err := s.local.Save(ctx, sess, s.ttl); err != nil {
		slog.Error("session.Store: local save failed", "phone", phone, "error", err)
	}
	if s.remote != nil {
		if err := s.remote.Save(ctx, sess, s.ttl); err != nil {
			slog.Warn("session.Store: remote save failed, session kept locally", "phone", phone, "error", err)
		}
	}
}

// Delete removes a session. Deleting an absent session is a no-op, not an
// error.
func (s *Store) Delete(ctx context.Context, phone string) {
	l := s.phoneLock(phone)
	l.Lock()
	defer l.Unlock()

	if err := s.local.Delete(ctx, phone); err != nil {
		slog.Error("session.Store: local delete failed", "phone", phone, "error", err)
	}
	if s.remote != nil {
		if err := s.remote.Delete(ctx, phone); err != nil {
			slog.Warn("session.Store: remote delete failed", "phone", phone, "error", err)
		}
	}
}

// DeleteAll removes every session from both backends and returns the number
// of distinct sessions cleared.
func (s *Store) DeleteAll(ctx context.Context) int {
	seen := make(map[string]struct{})
	if phones, err := s.local.Phones(ctx); err == nil {
		for _, p := range phones {
			seen[p] = struct{}{}
		}
	}
	if s.remote != nil {
		phones, err := s.remote.Phones(ctx)
		if err != nil {
			slog.Warn("session.Store: remote scan failed during delete all", "error", err)
		}
		for _, p := range phones {
			seen[p] = struct{}{}
		}
	}
	for p := range seen {
		s.Delete(ctx, p)
	}
	return len(seen)
}

// Count returns the number of live sessions. On the remote backend this is a
// key scan and is best-effort: it may undercount during concurrent expiry.
func (s *Store) Count(ctx context.Context) int {
	if s.remote != nil {
		phones, err := s.remote.Phones(ctx)
		if err == nil {
			return len(phones)
		}
		slog.Warn("session.Store: remote scan failed, counting local fallback", "error", err)
	}
	phones, err := s.local.Phones(ctx)
	if err != nil {
		return 0
	}
	return len(phones)
}

// Status reports which backend is currently serving operations. The remote
// is re-pinged on every call so the answer is never stale across a failed
// connection attempt.
func (s *Store) Status(ctx context.Context) models.StorageStatus {
	if s.remote != nil {
		if err := s.remote.Ping(ctx); err == nil {
			return models.StorageStatus{Connected: true, Kind: models.BackendKindRemote}
		}
	}
	return models.StorageStatus{Connected: false, Kind: models.BackendKindLocal}
}
