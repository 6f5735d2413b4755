// Package console implements the diagnostic interceptor: a
// non-destructive wrap of the process-wide leveled logging surface that
// captures every call into a bounded ring buffer while still invoking
// the original sink.
//
// The surface is an explicit resource: Install captures the original
// level functions, Restore reassigns them exactly, and both are
// idempotent. The bridge guarantees release on kill, so the patch is a
// scoped acquisition rather than an ambient side effect. The design
// assumes a single active interceptor per surface; single-instance
// arbitration at the connection level enforces that indirectly.
package console

import (
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"github.com/devbridge/agent/internal/protocol"
)

// Logging levels of the surface.
const (
	LevelDebug = "debug"
	LevelLog   = "log"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Levels lists every surface level, lowest severity first.
var Levels = []string{LevelDebug, LevelLog, LevelInfo, LevelWarn, LevelError}

// Fn is one leveled logging function of the surface.
type Fn func(args ...any)

// Surface is the process-wide leveled logging surface the embedding
// application writes to. The level functions are assignable fields so
// an interceptor can wrap and later restore them.
type Surface struct {
	Debug Fn
	Log   Fn
	Info  Fn
	Warn  Fn
	Error Fn
}

// NewSurface returns a surface whose level functions write through the
// standard logger with a level prefix.
func NewSurface() *Surface {
	std := func(level string) Fn {
		return func(args ...any) {
			log.Printf("console/%s: %s", level, fmt.Sprintln(args...))
		}
	}
	return &Surface{
		Debug: std(LevelDebug),
		Log:   std(LevelLog),
		Info:  std(LevelInfo),
		Warn:  std(LevelWarn),
		Error: std(LevelError),
	}
}

// ErrorSink receives error-level entries for proactive push over the
// transport. All other levels stay pull-only to avoid flooding the
// channel.
type ErrorSink func(protocol.ConsoleEntry)

// Interceptor wraps a Surface, buffering every call while passing it
// through to the original function.
type Interceptor struct {
	mu sync.Mutex

	surface   *Surface
	originals Surface // captured on Install, reassigned on Restore
	installed bool

	ring *Ring

	errorSink ErrorSink
}

// NewInterceptor creates an interceptor over surface with a ring of the
// given capacity. It does not install itself; call Install.
func NewInterceptor(surface *Surface, capacity int) *Interceptor {
	return &Interceptor{
		surface: surface,
		ring:    NewRing(capacity),
	}
}

// Install wraps each level function of the surface: the wrap captures
// the call as a ConsoleEntry and then invokes the original, so local
// diagnostics keep flowing unchanged. Idempotent.
func (i *Interceptor) Install() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.installed {
		return
	}
	i.originals = *i.surface

	i.surface.Debug = i.wrap(LevelDebug, i.originals.Debug)
	i.surface.Log = i.wrap(LevelLog, i.originals.Log)
	i.surface.Info = i.wrap(LevelInfo, i.originals.Info)
	i.surface.Warn = i.wrap(LevelWarn, i.originals.Warn)
	i.surface.Error = i.wrap(LevelError, i.originals.Error)
	i.installed = true
}

// Restore reassigns the stored original functions, reversing Install
// exactly. Idempotent; called as part of kill().
func (i *Interceptor) Restore() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.installed {
		return
	}
	*i.surface = i.originals
	i.installed = false
}

// Installed reports whether the wrap is currently in place.
func (i *Interceptor) Installed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.installed
}

// SetErrorSink sets (or clears, with nil) the proactive push target for
// error-level entries.
func (i *Interceptor) SetErrorSink(sink ErrorSink) {
	i.mu.Lock()
	i.errorSink = sink
	i.mu.Unlock()
}

// Entries returns the buffered entries, optionally filtered to one
// level. An empty level returns everything.
func (i *Interceptor) Entries(level string) []protocol.ConsoleEntry {
	all := i.ring.Snapshot()
	if level == "" {
		return all
	}
	filtered := make([]protocol.ConsoleEntry, 0, len(all))
	for _, e := range all {
		if e.Level == level {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// Snapshot returns every buffered entry. Used by the recording manager
// when finalizing a session.
func (i *Interceptor) Snapshot() []protocol.ConsoleEntry {
	return i.ring.Snapshot()
}

// Clear empties the ring buffer.
func (i *Interceptor) Clear() {
	i.ring.Clear()
}

// ValidLevel reports whether level names a surface level.
func ValidLevel(level string) bool {
	for _, l := range Levels {
		if l == level {
			return true
		}
	}
	return false
}

// wrap builds the capturing replacement for one level function.
func (i *Interceptor) wrap(level string, original Fn) Fn {
	return func(args ...any) {
		entry := protocol.ConsoleEntry{
			Level:     level,
			Args:      serializeArgs(args),
			Timestamp: protocol.Now(),
		}
		if level == LevelError {
			entry.Stack = string(debug.Stack())
		}
		i.ring.Push(entry)

		if level == LevelError {
			i.mu.Lock()
			sink := i.errorSink
			i.mu.Unlock()
			if sink != nil {
				sink(entry)
			}
		}

		// Non-destructive passthrough: the original still runs.
		if original != nil {
			original(args...)
		}
	}
}

// serializeArgs converts call arguments to JSON-safe values. Arguments
// that survive a JSON round trip are stored structurally; anything else
// falls back to its string coercion.
func serializeArgs(args []any) []any {
	out := make([]any, len(args))
	for idx, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			out[idx] = fmt.Sprint(arg)
			continue
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			out[idx] = fmt.Sprint(arg)
			continue
		}
		out[idx] = v
	}
	return out
}
