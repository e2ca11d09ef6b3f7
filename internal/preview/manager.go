package preview

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
)

// Manager owns the live sessions, one per open diagram view. Sessions
// are in-memory only; an idle session can always be rebuilt from the
// store, so pruning loses nothing durable.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Open creates a session for a diagram and registers it.
func (m *Manager) Open(ctx context.Context, projectID, diagramID string, kind domain.Kind, author string) (*Session, error) {
	s, err := NewSession(ctx, m.deps, projectID, diagramID, kind, author)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

// Get looks a session up by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close drops a session.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// PruneIdle drops sessions idle for longer than maxIdle. Run from the
// maintenance scheduler.
func (m *Manager) PruneIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for id, s := range m.sessions {
		if s.IdleSince().Before(cutoff) {
			delete(m.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		log.Printf("[info] operation=prune_sessions pruned=%d remaining=%d", pruned, len(m.sessions))
	}
	return pruned
}
