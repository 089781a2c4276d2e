package session

import (
	"context"
	"sync"
	"time"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/models"
)

// MemoryBackend is the in-process fallback store. Expiry is enforced lazily:
// each entry carries an expiry timestamp checked on read, no background sweep.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	session   models.Session
	expiresAt time.Time
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]memoryEntry)}
}

// Get implements Backend. Expired entries are treated as absent and removed.
func (m *MemoryBackend) Get(ctx context.Context, phone string) (*models.Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[phone]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock: a concurrent save may have renewed it.
		if cur, ok := m.sessions[phone]; ok && time.Now().After(cur.expiresAt) {
			delete(m.sessions, phone)
		}
		m.mu.Unlock()
		return nil, nil
	}
	// Copy so callers cannot mutate stored state behind the lock.
	sess := entry.session
	sess.Turns = append([]models.Turn(nil), entry.session.Turns...)
	return &sess, nil
}

// Save implements Backend. The TTL countdown restarts on every write.
func (m *MemoryBackend) Save(ctx context.Context, session *models.Session, ttl time.Duration) error {
	stored := *session
	stored.Turns = append([]models.Turn(nil), session.Turns...)
	m.mu.Lock()
	m.sessions[session.Phone] = memoryEntry{session: stored, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Delete implements Backend. Absent keys are a no-op.
func (m *MemoryBackend) Delete(ctx context.Context, phone string) error {
	m.mu.Lock()
	delete(m.sessions, phone)
	m.mu.Unlock()
	return nil
}

// Phones implements Backend, purging expired entries as it scans.
func (m *MemoryBackend) Phones(ctx context.Context) ([]string, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	phones := make([]string, 0, len(m.sessions))
	for phone, entry := range m.sessions {
		if now.After(entry.expiresAt) {
			delete(m.sessions, phone)
			continue
		}
		phones = append(phones, phone)
	}
	return phones, nil
}

// Ping implements Backend. The in-process map is always reachable.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}
