// Package protocol defines the wire model shared by the bridge agent and
// the control server: the Message/Response envelopes, the channel and
// action names, and the typed payloads carried on each channel.
//
// Everything here is JSON-encodable. Field names follow the wire contract
// (camelCase) rather than Go conventions, because both ends of the
// transport and any recorded artifacts must agree on them.
package protocol

import (
	"encoding/json"
	"time"
)

// Source identifies which end of the control channel produced a message.
type Source string

const (
	// SourceClient marks traffic originated by the embedding client page.
	SourceClient Source = "client"

	// SourceAgent marks traffic originated by a bridge agent instance.
	SourceAgent Source = "agent"

	// SourceServer marks traffic originated by the control server.
	SourceServer Source = "server"
)

// Channel names. Every inbound Message is routed to a handler by channel.
const (
	// ChannelSystem carries lifecycle announcements (system.connected).
	ChannelSystem = "system"

	// ChannelDOM carries live object tree queries (dom.query).
	ChannelDOM = "dom"

	// ChannelEvents carries watch/unwatch/dispatch commands and the
	// spontaneous events.captured notifications.
	ChannelEvents = "events"

	// ChannelConsole carries console.get/console.clear pull commands and
	// the spontaneous console.entry pushes for error-level entries.
	ChannelConsole = "console"

	// ChannelEval carries the restricted eval.run command.
	ChannelEval = "eval"

	// ChannelRecording carries recording.start/stop/replay commands.
	ChannelRecording = "recording"

	// ChannelNavigation carries navigation.refresh/goto/location commands.
	ChannelNavigation = "navigation"
)

// Action names, grouped by channel.
const (
	// ActionConnected announces an instance identity on the system channel.
	ActionConnected = "connected"

	// ActionQuery resolves a selector to descriptors on the dom channel.
	ActionQuery = "query"

	// ActionWatch installs an event watcher.
	ActionWatch = "watch"

	// ActionUnwatch removes an event watcher. Idempotent.
	ActionUnwatch = "unwatch"

	// ActionDispatch fires a synthetic event at a resolved target.
	ActionDispatch = "dispatch"

	// ActionCaptured is the spontaneous notification carrying one
	// serialized event occurrence. Agent to server only.
	ActionCaptured = "captured"

	// ActionGet returns buffered console entries (pull model).
	ActionGet = "get"

	// ActionClear empties the console ring buffer.
	ActionClear = "clear"

	// ActionEntry is the spontaneous push of an error-level console entry.
	ActionEntry = "entry"

	// ActionRun evaluates a restricted expression, if eval is enabled.
	ActionRun = "run"

	// ActionStart begins a recording session.
	ActionStart = "start"

	// ActionStop finalizes the active recording session.
	ActionStop = "stop"

	// ActionReplay re-dispatches a recorded session's events.
	ActionReplay = "replay"

	// ActionRefresh reloads the host document/scene.
	ActionRefresh = "refresh"

	// ActionGoto navigates the host to a new location.
	ActionGoto = "goto"

	// ActionLocation returns the host's current location and title.
	ActionLocation = "location"
)

// Message is the envelope for all commands and notifications. Messages
// are immutable once sent; correlation happens through the ID field.
type Message struct {
	// ID uniquely identifies this message for response correlation.
	ID string `json:"id"`

	// Channel routes the message to its handler (system, dom, events, ...).
	Channel string `json:"channel"`

	// Action selects the operation within the channel.
	Action string `json:"action"`

	// Payload carries the action-specific data. Kept raw on the inbound
	// path so each handler can decode into its own typed payload.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Timestamp is when the message was created (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	// Source identifies the producing endpoint.
	Source Source `json:"source"`
}

// Response correlates to exactly one outstanding Message by ID.
// A Response with an unknown ID is discarded.
type Response struct {
	// ID matches the Message this response settles.
	ID string `json:"id"`

	// Success reports whether the handler completed without error.
	Success bool `json:"success"`

	// Data is the handler result, present on success.
	Data any `json:"data,omitempty"`

	// Error is a human-readable failure description, present on failure.
	// Stable error codes are embedded as a "code: message" prefix.
	Error string `json:"error,omitempty"`

	// Timestamp is when the response was created (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`
}

// Now returns the current wall clock as Unix milliseconds, the timestamp
// unit used throughout the wire model and recorded artifacts.
func Now() int64 {
	return time.Now().UnixMilli()
}

// NewMessage builds a Message with a marshalled payload and a fresh
// timestamp. Marshal errors are reported to the caller; a Message is
// never sent with a silently-dropped payload.
func NewMessage(id, channel, action string, payload any, source Source) (Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		raw = data
	}
	return Message{
		ID:        id,
		Channel:   channel,
		Action:    action,
		Payload:   raw,
		Timestamp: Now(),
		Source:    source,
	}, nil
}

// OK builds a success Response for the given message id.
func OK(id string, data any) Response {
	return Response{
		ID:        id,
		Success:   true,
		Data:      data,
		Timestamp: Now(),
	}
}

// Fail builds a failure Response for the given message id.
func Fail(id string, errMsg string) Response {
	return Response{
		ID:        id,
		Success:   false,
		Error:     errMsg,
		Timestamp: Now(),
	}
}

// frameProbe distinguishes inbound Messages from inbound Responses.
// Messages always carry a channel; Responses never do but always carry
// the success flag.
type frameProbe struct {
	Channel string `json:"channel"`
	Success *bool  `json:"success"`
}

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	// FrameInvalid marks frames that are not valid JSON objects or carry
	// neither a channel nor a success flag. Dropped without a Response.
	FrameInvalid FrameKind = iota

	// FrameMessage marks command/notification envelopes.
	FrameMessage

	// FrameResponse marks correlation responses.
	FrameResponse
)

// ClassifyFrame inspects a raw inbound frame and reports whether it is a
// Message, a Response, or malformed. Malformed frames carry no usable id
// to correlate against, so the caller drops them silently.
func ClassifyFrame(data []byte) FrameKind {
	var probe frameProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return FrameInvalid
	}
	if probe.Channel != "" {
		return FrameMessage
	}
	if probe.Success != nil {
		return FrameResponse
	}
	return FrameInvalid
}
