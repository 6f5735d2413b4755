// Package errors provides standardized error codes for the bridge agent.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (transport, query,
//     watch, dispatch, recording, replay, console, eval, storage)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by the control server for
// programmatic error handling. Human-readable messages are provided
// alongside codes and end up in the `error` field of failed Responses.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers the control server can rely on.
const (
	// Transport domain - connection and socket errors
	CodeTransportClosed       = "transport.closed"        // Connection closed while request in flight
	CodeTransportDialFailed   = "transport.dial_failed"   // Could not reach the control server
	CodeTransportSendFailed   = "transport.send_failed"   // Failed to write a frame
	CodeTransportKilled       = "transport.killed"        // Instance was killed
	CodeTransportNotConnected = "transport.not_connected" // Operation requires a live connection

	// Protocol domain - malformed or unroutable inbound traffic
	CodeProtocolInvalidMessage = "protocol.invalid_message" // Malformed inbound message
	CodeProtocolUnknownChannel = "protocol.unknown_channel" // No handler for channel
	CodeProtocolUnknownAction  = "protocol.unknown_action"  // Channel has no such action

	// Query domain - target tree resolution
	CodeQueryMalformedSelector = "query.malformed_selector" // Selector could not be parsed
	CodeQueryNoMatch           = "query.no_match"           // Selector resolved to nothing

	// Watch domain - event subscription
	CodeWatchTargetMissing = "watch.target_missing" // Watch selector resolved to nothing
	CodeWatchNoEvents      = "watch.no_events"      // Empty event type list

	// Dispatch domain - synthetic event construction and firing
	CodeDispatchTargetMissing = "dispatch.target_missing" // Dispatch selector resolved to nothing
	CodeDispatchFailed        = "dispatch.failed"         // Event construction or delivery raised

	// Recording domain - session lifecycle
	CodeRecordingActive    = "recording.active"     // A session is already active
	CodeRecordingInactive  = "recording.inactive"   // No session is active
	CodeRecordingNotFound  = "recording.not_found"  // Stored session id does not exist
	CodeRecordingEmpty     = "recording.empty"      // Session has no events to replay
	CodeReplayInProgress   = "replay.in_progress"   // Another replay is running
	CodeReplayInvalidSpeed = "replay.invalid_speed" // Speed must be > 0
	CodeReplayCancelled    = "replay.cancelled"     // Replay interrupted by kill

	// Console domain - diagnostic interceptor
	CodeConsoleInvalidLevel = "console.invalid_level" // Unknown log level filter

	// Eval domain - restricted expression evaluation
	CodeEvalDisabled = "eval.disabled" // Eval not enabled or no evaluator wired
	CodeEvalFailed   = "eval.failed"   // Evaluator returned an error

	// Navigation domain - host location control
	CodeNavigationFailed = "navigation.failed" // Refresh/goto rejected by the host

	// Storage domain - recording persistence
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save a recording

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal agent error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "recording.active")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to failed Responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}
	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// Disconnected creates a "transport.closed" error. Every pending request
// is rejected with this when the connection drops.
func Disconnected() *CodedError {
	return New(CodeTransportClosed, "connection to control server lost")
}

// Killed creates a "transport.killed" error. Pending requests settle with
// this when the instance is killed.
func Killed() *CodedError {
	return New(CodeTransportKilled, "bridge instance was killed")
}

// MalformedSelector creates a "query.malformed_selector" error.
func MalformedSelector(selector string, cause error) *CodedError {
	return Wrap(CodeQueryMalformedSelector, fmt.Sprintf("malformed selector %q", selector), cause)
}

// NoMatch creates a "query.no_match" error.
func NoMatch(selector string) *CodedError {
	return New(CodeQueryNoMatch, fmt.Sprintf("selector %q matched no targets", selector))
}

// DispatchTargetMissing creates a "dispatch.target_missing" error.
func DispatchTargetMissing(selector string) *CodedError {
	return New(CodeDispatchTargetMissing, fmt.Sprintf("dispatch target %q not found", selector))
}

// DispatchFailed creates a "dispatch.failed" error. Used when event
// construction or delivery raised; the failure is local to the command.
func DispatchFailed(eventType string, cause error) *CodedError {
	return Wrap(CodeDispatchFailed, fmt.Sprintf("failed to dispatch %s event", eventType), cause)
}

// RecordingActive creates a "recording.active" error. Returned by start
// when a session is already running; the active session is left untouched.
func RecordingActive(id string) *CodedError {
	return New(CodeRecordingActive, fmt.Sprintf("recording session %s is already active", id))
}

// RecordingInactive creates a "recording.inactive" error.
func RecordingInactive() *CodedError {
	return New(CodeRecordingInactive, "no recording session is active")
}

// ReplayInProgress creates a "replay.in_progress" error. Replays are
// strictly sequential; a second replay is rejected, not queued.
func ReplayInProgress() *CodedError {
	return New(CodeReplayInProgress, "a replay is already in progress")
}

// EvalDisabled creates an "eval.disabled" error.
func EvalDisabled() *CodedError {
	return New(CodeEvalDisabled, "eval is disabled on this agent")
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
