// Package session tracks which interfaces (CLI, websocket, API callers) are
// attached to which conversation, and reaps sessions nobody is using.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/events"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// Metadata is the attachment detail an interface reports about itself,
// e.g. the peer address of a websocket.
type Metadata map[string]string

// Session is one conversation. Interface attachment and activity are
// serialized per session.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mu           sync.Mutex
	interfaces   map[string]Metadata
	lastActivity time.Time
	closed       bool
}

// Info is a point-in-time view of a session for status reporting.
type Info struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
	Interfaces   []string            `json:"interfaces"`
	Metadata     map[string]Metadata `json:"metadata,omitempty"`
}

func (s *Session) addInterface(name string, meta Metadata) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.interfaces[name] = meta
	s.lastActivity = time.Now()
	return true
}

func (s *Session) removeInterface(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	delete(s.interfaces, name)
	s.lastActivity = time.Now()
	return true
}

func (s *Session) isEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.interfaces) == 0
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// closeOnce flips the closed flag. Only the first caller gets true; that
// caller owns the session.closed event.
func (s *Session) closeOnce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.interfaces))
	var meta map[string]Metadata
	for name, m := range s.interfaces {
		names = append(names, name)
		if len(m) > 0 {
			if meta == nil {
				meta = make(map[string]Metadata)
			}
			meta[name] = m
		}
	}
	sort.Strings(names)
	return Info{
		ID:           s.ID,
		UserID:       s.UserID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		Interfaces:   names,
		Metadata:     meta,
	}
}

// Manager owns all live sessions and the reaper that closes idle empty ones.
type Manager struct {
	bus  *events.Bus
	idle time.Duration
	reap time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewManager builds a session manager. idle is how long an empty session may
// linger; reap is how often the reaper looks.
func NewManager(bus *events.Bus, idle, reap time.Duration) *Manager {
	return &Manager{
		bus:      bus,
		idle:     idle,
		reap:     reap,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the reaper.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.reapLoop()
}

// GetOrCreate returns the session with the given id, creating it (and
// publishing session.created) when it doesn't exist. An empty id gets a
// generated one.
func (m *Manager) GetOrCreate(id, userID string) (*Session, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, tools.E(tools.CodeServerUnavailable, "session.create", "session manager is stopped")
	}
	if id == "" {
		id = uuid.New().String()
	}
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		s.touch()
		return s, nil
	}
	now := time.Now()
	s := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		interfaces:   make(map[string]Metadata),
		lastActivity: now,
	}
	m.sessions[id] = s
	m.mu.Unlock()

	m.publish(events.TopicSessionCreated, events.SessionCreated{ID: id, UserID: userID})
	return s, nil
}

// AddInterface attaches an interface to a session and refreshes its
// activity. meta may be nil.
func (m *Manager) AddInterface(sessionID, name string, meta Metadata) error {
	s := m.lookup(sessionID)
	if s == nil || !s.addInterface(name, meta) {
		return tools.E(tools.CodeConfiguration, "session.attach", "no session %q", sessionID)
	}
	return nil
}

// RemoveInterface detaches an interface. The session stays around until the
// reaper decides it has been empty long enough.
func (m *Manager) RemoveInterface(sessionID, name string) error {
	s := m.lookup(sessionID)
	if s == nil || !s.removeInterface(name) {
		return tools.E(tools.CodeConfiguration, "session.detach", "no session %q", sessionID)
	}
	return nil
}

// IsEmpty reports whether the session has no attached interfaces. Unknown
// sessions are empty.
func (m *Manager) IsEmpty(sessionID string) bool {
	s := m.lookup(sessionID)
	return s == nil || s.isEmpty()
}

// Touch refreshes a session's activity clock.
func (m *Manager) Touch(sessionID string) {
	if s := m.lookup(sessionID); s != nil {
		s.touch()
	}
}

func (m *Manager) lookup(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshot lists every live session sorted by id.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (m *Manager) reapLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.reap)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapOnce(time.Now())
		}
	}
}

// reapOnce closes sessions that have been empty past the idle window. Each
// session is closed exactly once even if a reap races a stop.
func (m *Manager) reapOnce(now time.Time) {
	var evicted []string

	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := len(s.interfaces) == 0 && now.Sub(s.lastActivity) >= m.idle && !s.closed
		if expired {
			s.closed = true
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range evicted {
		logging.Debugf("reaped idle session %s", id)
		m.publish(events.TopicSessionClosed, events.SessionClosed{ID: id, Reason: "idle"})
	}
}

// Stop halts the reaper, closes every remaining session with reason
// "shutdown", and refuses new sessions. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	remaining := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		remaining = append(remaining, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	close(m.stopCh)
	if started {
		<-m.doneCh
	}

	for _, s := range remaining {
		if s.closeOnce() {
			m.publish(events.TopicSessionClosed, events.SessionClosed{ID: s.ID, Reason: "shutdown"})
		}
	}
}

func (m *Manager) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := events.Publish(m.bus, topic, payload); err != nil {
		logging.Debugf("publish %s: %v", topic, err)
	}
}
