package protocol

// payloads.go defines the typed payload structures carried on each
// channel, plus the shared data model for descriptors, recorded events,
// and console entries.

// ConnectedPayload announces an instance identity on the system channel.
// Every agent sends one on transport-open; receiving one with a foreign
// instanceId triggers self-kill (single-active-instance arbitration).
type ConnectedPayload struct {
	// InstanceID is generated once per agent process.
	InstanceID string `json:"instanceId"`

	// Location is the host's current location (URL or scene path).
	Location string `json:"location"`

	// Title is the host's human-readable title.
	Title string `json:"title"`
}

// QueryPayload resolves a selector against the live object tree.
type QueryPayload struct {
	// Selector identifies the target(s). See the tree package for syntax.
	Selector string `json:"selector"`

	// Multiple returns every match instead of just the first.
	Multiple bool `json:"multiple,omitempty"`
}

// Rect is a bounding box in host coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Descriptor is a serialized, size-bounded snapshot of a live object's
// structural and visual properties. Text fields are truncated by the
// tree adapter to keep message size predictable.
type Descriptor struct {
	// Kind is the object's structural type (tag name, node class).
	Kind string `json:"kind"`

	// ID is the object's stable identity, if it has one.
	ID string `json:"id,omitempty"`

	// Attributes holds the object's key/value attributes.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Bounds is the object's bounding geometry.
	Bounds Rect `json:"bounds"`

	// Text is the object's visible text, truncated.
	Text string `json:"text,omitempty"`

	// Value is the object's current input value, truncated.
	Value string `json:"value,omitempty"`
}

// WatchPayload installs an event watcher.
type WatchPayload struct {
	// Selector identifies the watch target. Empty means the root.
	Selector string `json:"selector,omitempty"`

	// Events lists the event types to subscribe, one listener each.
	Events []string `json:"events"`

	// Capture subscribes in the capture phase where the host supports it.
	Capture bool `json:"capture,omitempty"`

	// Passive marks the listeners as non-preventing where supported.
	Passive bool `json:"passive,omitempty"`
}

// WatchResult returns the id of a newly installed watcher.
type WatchResult struct {
	WatchID string `json:"watchId"`
}

// UnwatchPayload removes a watcher by id. Safe to repeat.
type UnwatchPayload struct {
	WatchID string `json:"watchId"`
}

// EventOptions carries the structured options for constructing a
// synthetic event. Which fields matter depends on the event category:
// pointer events use position and button, keyboard events use key, code
// and modifiers, input/change events use value, and everything else
// falls through to a generic custom event carrying Detail.
type EventOptions struct {
	X         float64        `json:"x,omitempty"`
	Y         float64        `json:"y,omitempty"`
	Button    int            `json:"button,omitempty"`
	Key       string         `json:"key,omitempty"`
	Code      string         `json:"code,omitempty"`
	Modifiers []string       `json:"modifiers,omitempty"`
	Value     string         `json:"value,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// DispatchPayload fires a synthetic event at a resolved target.
type DispatchPayload struct {
	Selector string       `json:"selector"`
	Type     string       `json:"type"`
	Options  EventOptions `json:"options,omitempty"`
}

// Point is a position in host coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RecordedTarget describes the target of a captured event in a way that
// survives the target itself going away: a reconstructable path plus a
// structural snapshot.
type RecordedTarget struct {
	// Path locates the target: an identity shortcut ("#id") when the
	// target has a stable id, else a structural chain walked to the root.
	Path string `json:"path"`

	// Kind is the target's structural type.
	Kind string `json:"kind"`

	// ID is the target's stable identity, if any.
	ID string `json:"identity,omitempty"`

	// Attributes holds up to a few distinguishing attributes.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Text is the target's visible text at capture time, truncated.
	Text string `json:"text,omitempty"`

	// Value is the target's input value at capture time.
	Value string `json:"value,omitempty"`
}

// RecordedEvent is one serialized event occurrence. Immutable once
// recorded; ordered by Timestamp within a session.
type RecordedEvent struct {
	// Type is the event type (pointerdown, input, keydown, ...).
	Type string `json:"type"`

	// Timestamp is when the event occurred (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	// Target describes what the event happened to.
	Target RecordedTarget `json:"target"`

	// Position is set for pointer events.
	Position *Point `json:"position,omitempty"`

	// Modifiers is set for keyboard events (shift, ctrl, alt, meta).
	Modifiers []string `json:"modifiers,omitempty"`

	// Key and Code are set for keyboard events.
	Key  string `json:"key,omitempty"`
	Code string `json:"code,omitempty"`

	// Value is set for input/change events.
	Value string `json:"value,omitempty"`
}

// Options reconstructs the synthetic-event options that reproduce this
// recorded occurrence. Used by the replay engine.
func (e RecordedEvent) Options() EventOptions {
	opts := EventOptions{
		Key:       e.Key,
		Code:      e.Code,
		Modifiers: e.Modifiers,
		Value:     e.Value,
	}
	if e.Position != nil {
		opts.X = e.Position.X
		opts.Y = e.Position.Y
	}
	return opts
}

// ConsoleEntry is one captured logging call. Args hold the best-effort
// structural serialization of the call's arguments; values that resist
// serialization are stored as their string coercion.
type ConsoleEntry struct {
	// Level is the logging level (debug, log, info, warn, error).
	Level string `json:"level"`

	// Args are the serialized call arguments.
	Args []any `json:"args"`

	// Timestamp is when the call happened (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	// Stack is a stack snapshot, captured for error-level entries only.
	Stack string `json:"stack,omitempty"`
}

// ConsoleGetPayload filters a console.get query.
type ConsoleGetPayload struct {
	// Level restricts the result to one level. Empty returns all levels.
	Level string `json:"level,omitempty"`
}

// EvalPayload carries a restricted expression for eval.run.
type EvalPayload struct {
	Expression string `json:"expression"`
}

// RecordingStartPayload begins a recording session.
type RecordingStartPayload struct {
	Name string `json:"name"`
}

// RecordingStartResult returns the new session's identity.
type RecordingStartResult struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	StartTime int64  `json:"startTime"`
}

// RecordingReplayPayload re-dispatches a recorded session. Exactly one
// of SessionID (a stored recording) or Session (inline data) is used;
// inline data wins when both are present.
type RecordingReplayPayload struct {
	SessionID string       `json:"sessionId,omitempty"`
	Session   *SessionData `json:"session,omitempty"`
	Speed     float64      `json:"speed,omitempty"`
}

// SessionData is the wire form of a finalized recording session.
type SessionData struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	StartTime      int64           `json:"startTime"`
	EndTime        int64           `json:"endTime,omitempty"`
	Events         []RecordedEvent `json:"events"`
	ConsoleEntries []ConsoleEntry  `json:"consoleEntries,omitempty"`
}

// GotoPayload navigates the host to a new location.
type GotoPayload struct {
	URL string `json:"url"`
}

// LocationResult reports the host's current location and title.
type LocationResult struct {
	Location string `json:"location"`
	Title    string `json:"title"`
}
