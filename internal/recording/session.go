// Package recording implements timed recording and replay of
// interaction sequences: the session manager owns at most one active
// session fed by a dedicated event watcher, and the replay engine
// re-issues a finalized session's events through the synthetic event
// dispatcher at scaled relative timing.
package recording

import (
	"github.com/devbridge/agent/internal/protocol"
)

// DefaultEventTypes is the interaction set a recording session watches.
var DefaultEventTypes = []string{
	"pointerdown",
	"pointerup",
	"input",
	"change",
	"keydown",
	"submit",
	"focus",
	"blur",
}

// Session is a time-bounded, ordered log of captured events plus a
// console snapshot. Never mutated after finalization.
type Session struct {
	// ID uniquely identifies the session.
	ID string `json:"id"`

	// Name is the caller-supplied label.
	Name string `json:"name"`

	// StartTime and EndTime bound the session (Unix milliseconds).
	// EndTime is zero while the session is active.
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime,omitempty"`

	// Events are the captured occurrences, ordered by timestamp.
	Events []protocol.RecordedEvent `json:"events"`

	// ConsoleEntries is the diagnostic ring snapshot taken at stop.
	ConsoleEntries []protocol.ConsoleEntry `json:"consoleEntries,omitempty"`
}

// Active reports whether the session has not been finalized yet.
func (s *Session) Active() bool {
	return s != nil && s.EndTime == 0
}

// Data converts the session to its wire form.
func (s *Session) Data() protocol.SessionData {
	return protocol.SessionData{
		ID:             s.ID,
		Name:           s.Name,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		Events:         s.Events,
		ConsoleEntries: s.ConsoleEntries,
	}
}

// FromData converts a wire-form session back to a Session.
func FromData(d protocol.SessionData) *Session {
	return &Session{
		ID:             d.ID,
		Name:           d.Name,
		StartTime:      d.StartTime,
		EndTime:        d.EndTime,
		Events:         d.Events,
		ConsoleEntries: d.ConsoleEntries,
	}
}
