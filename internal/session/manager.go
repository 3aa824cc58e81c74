package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beslagsboden/dialog-engine/internal/observability"
)

// ErrNotFound indicates an unknown or ended session.
var ErrNotFound = errors.New("session not found")

// Manager tracks live conversations. Turns within one session are
// serialized; different sessions proceed concurrently.
type Manager struct {
	logger *observability.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	mu      sync.Mutex
	ctx     Context
	lastUse time.Time
}

// NewManager creates a session manager.
func NewManager(logger *observability.Logger) *Manager {
	return &Manager{
		logger:   logger,
		sessions: make(map[uuid.UUID]*entry),
	}
}

// Create starts a new conversation and returns its context.
func (m *Manager) Create() Context {
	ctx := NewContext()

	m.mu.Lock()
	m.sessions[ctx.SessionID] = &entry{ctx: ctx, lastUse: time.Now()}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Debug().Str("session_id", ctx.SessionID.String()).Msg("Session created")
	}

	return ctx
}

// Get returns a snapshot of the session context.
func (m *Manager) Get(id uuid.UUID) (Context, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return Context{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx, nil
}

// Begin locks the session for one turn and returns its context plus a
// commit function. Calling commit stores the new context and releases the
// session; passing the context unchanged is how a failed turn commits.
func (m *Manager) Begin(id uuid.UUID) (Context, func(Context), error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return Context{}, nil, ErrNotFound
	}

	e.mu.Lock()
	ctx := e.ctx

	commit := func(next Context) {
		e.ctx = next
		e.lastUse = time.Now()
		e.mu.Unlock()
	}

	return ctx, commit, nil
}

// End removes a session.
func (m *Manager) End(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)

	if m.logger != nil {
		m.logger.Debug().Str("session_id", id.String()).Msg("Session ended")
	}

	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expire removes sessions idle longer than maxIdle and returns how many
// were removed.
func (m *Manager) Expire(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.sessions {
		if e.lastUse.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}

	if removed > 0 && m.logger != nil {
		m.logger.Debug().Int("removed", removed).Msg("Idle sessions expired")
	}

	return removed
}
