package events

import (
	"fmt"

	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/protocol"
	"github.com/devbridge/agent/internal/tree"
)

// Dispatcher constructs and fires synthetic interaction events. It is
// used both for direct remote control (events.dispatch) and by the
// replay engine.
type Dispatcher struct {
	tree tree.Tree
}

// NewDispatcher creates a dispatcher over t.
func NewDispatcher(t tree.Tree) *Dispatcher {
	return &Dispatcher{tree: t}
}

// Dispatch resolves selector and fires a synthetic event of eventType
// built from opts. The selector may be a flat query selector or a
// structural path recorded by a watcher, so replayed events find their
// targets again. Construction and delivery failures - including
// listener panics - are caught and reported as coded errors, never
// propagated; a failed dispatch is local to the command.
func (d *Dispatcher) Dispatch(selector, eventType string, opts protocol.EventOptions) (err error) {
	nodes, resolveErr := tree.Locate(d.tree, selector)
	if resolveErr != nil {
		return errors.MalformedSelector(selector, resolveErr)
	}
	if len(nodes) == 0 {
		return errors.DispatchTargetMissing(selector)
	}
	target := nodes[0]

	defer func() {
		if r := recover(); r != nil {
			err = errors.DispatchFailed(eventType, fmt.Errorf("%v", r))
		}
	}()

	switch categoryOf(eventType) {
	case categoryValue:
		// Set the underlying value before constructing the event so
		// observers see a consistent post-state.
		target.SetValue(opts.Value)
		d.tree.Emit(target, tree.Event{Type: eventType, Target: target, Options: opts})

	case categoryFocus:
		// Focus and blur are invoked directly, bypassing event
		// construction; the host fires its own notifications.
		if eventType == "focus" {
			d.tree.Focus(target)
		} else {
			d.tree.Blur(target)
		}

	default:
		// Pointer, keyboard, and the generic custom-event fallback all
		// deliver the options as-is.
		d.tree.Emit(target, tree.Event{Type: eventType, Target: target, Options: opts})
	}
	return nil
}
