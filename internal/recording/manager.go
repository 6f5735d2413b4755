package recording

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/devbridge/agent/internal/console"
	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/events"
	"github.com/devbridge/agent/internal/protocol"
)

// Manager owns at most one active recording session. Starting installs
// a dedicated watcher over the default interaction set; stopping tears
// it down, stamps the end time, and snapshots the console ring.
//
// Manager implements events.Recorder so the watcher can append captured
// occurrences to the active session.
type Manager struct {
	mu sync.Mutex

	watcher     *events.Watcher
	interceptor *console.Interceptor

	active  *Session
	watchID string
}

// NewManager creates a manager wired to the shared watcher and the
// diagnostic interceptor.
func NewManager(w *events.Watcher, ic *console.Interceptor) *Manager {
	return &Manager{
		watcher:     w,
		interceptor: ic,
	}
}

// Start begins a new session. Fails without touching the existing
// session if one is already active.
func (m *Manager) Start(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, errors.RecordingActive(m.active.ID)
	}

	watchID, err := m.watcher.Watch("", DefaultEventTypes, false, true)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        uuid.NewString(),
		Name:      name,
		StartTime: protocol.Now(),
	}
	m.active = session
	m.watchID = watchID

	log.Printf("recording: session %s (%q) started", session.ID, name)
	return session, nil
}

// Stop finalizes the active session: stamps the end time, snapshots the
// console ring into the session, tears down the dedicated watcher, and
// clears the active slot. Fails if no session is active.
func (m *Manager) Stop() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, errors.RecordingInactive()
	}

	session := m.active
	session.EndTime = protocol.Now()
	session.ConsoleEntries = m.interceptor.Snapshot()

	m.watcher.Unwatch(m.watchID)
	m.active = nil
	m.watchID = ""

	log.Printf("recording: session %s stopped (%d events, %d console entries)",
		session.ID, len(session.Events), len(session.ConsoleEntries))
	return session, nil
}

// Record implements events.Recorder: append the occurrence to the
// active session's event log, if one exists.
func (m *Manager) Record(e protocol.RecordedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return
	}
	m.active.Events = append(m.active.Events, e)
}

// Active reports whether a session is currently recording.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Abort tears down the active session without finalizing it. Called on
// kill, where the dedicated watcher is already being torn down wholesale.
func (m *Manager) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return
	}
	log.Printf("recording: session %s aborted", m.active.ID)
	m.active = nil
	m.watchID = ""
}
