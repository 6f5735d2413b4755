// Package tree abstracts the live object tree the bridge controls.
//
// The bridge never touches the host environment directly: it resolves
// selectors to Node handles, serializes handles to size-bounded
// descriptors, subscribes to interaction events, and emits synthetic
// events - all through the capability interfaces defined here. This
// keeps the connection, watcher and replay logic host-agnostic and
// unit-testable against the in-memory tree in the memtree package.
package tree

import (
	"github.com/devbridge/agent/internal/protocol"
)

// Node is a handle to one live object in the host tree.
type Node interface {
	// Kind is the object's structural type (tag name, node class).
	Kind() string

	// ID is the object's stable identity, or "" if it has none.
	ID() string

	// Attributes returns the object's key/value attributes.
	Attributes() map[string]string

	// Text is the object's visible text.
	Text() string

	// Value is the object's current input value, if it holds one.
	Value() string

	// SetValue updates the object's input value. Observers subscribed to
	// input/change events see the post-state because the dispatcher sets
	// the value before constructing the event.
	SetValue(v string)

	// Bounds is the object's bounding geometry in host coordinates.
	Bounds() protocol.Rect

	// Parent is the object's parent, or nil at the root.
	Parent() Node

	// Children returns the object's children in document order.
	Children() []Node
}

// Event is one interaction occurrence delivered to subscribed listeners.
type Event struct {
	// Type is the event type (pointerdown, input, keydown, ...).
	Type string

	// Target is the node the event happened to.
	Target Node

	// Options carries the event's structured detail.
	Options protocol.EventOptions
}

// Listener receives event occurrences for a subscription.
type Listener func(Event)

// Tree is the capability interface over the host's live object tree.
type Tree interface {
	// Root returns the document/scene root.
	Root() Node

	// Resolve returns the nodes matching selector, in document order.
	// A malformed selector returns an error; a well-formed selector with
	// no matches returns an empty slice and no error.
	Resolve(selector string) ([]Node, error)

	// Subscribe registers a listener for one event type on a node and
	// returns an unsubscribe function. Unsubscribing twice is a no-op.
	Subscribe(n Node, eventType string, capture bool, fn Listener) (unsubscribe func())

	// Emit delivers an event to the node's listeners for its type.
	// This is how synthetic events reach the same observers as real ones.
	Emit(n Node, ev Event)

	// Focus moves input focus to the node.
	Focus(n Node)

	// Blur removes input focus from the node.
	Blur(n Node)
}

// Navigator is the capability interface over the host's location.
type Navigator interface {
	// Location returns the current location and title.
	Location() (url, title string)

	// Goto navigates to a new location.
	Goto(url string) error

	// Refresh reloads the current location.
	Refresh() error
}
