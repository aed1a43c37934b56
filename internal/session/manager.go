package session

import "sync"

// Manager allows at most one active session at a time.
type Manager struct {
	deps Deps

	mu     sync.Mutex
	active *Session
	last   *Session
}

// NewManager returns a Manager creating sessions with deps.
func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps.withDefaults()}
}

// Create returns a new Configured session. It fails with [ErrSessionActive]
// while another session has not reached a terminal state.
func (m *Manager) Create(cfg Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ErrSessionActive
	}
	s := New(m.deps)
	if err := s.Configure(cfg); err != nil {
		return nil, err
	}
	s.onRelease = m.release
	m.active = s
	m.last = s
	return s, nil
}

// Active returns the active session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Last returns the most recently created session, active or not.
func (m *Manager) Last() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}
