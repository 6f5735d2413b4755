package events

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/protocol"
	"github.com/devbridge/agent/internal/tree"
)

// Sink receives each serialized occurrence for immediate forwarding
// over the transport (the events.captured notification).
type Sink func(protocol.RecordedEvent)

// Recorder receives each serialized occurrence for the active recording
// session, if one exists. Implemented by the recording manager.
type Recorder interface {
	Record(protocol.RecordedEvent)
}

// watch is one installed watcher: a set of listeners sharing a watchId.
type watch struct {
	target       tree.Node
	eventTypes   []string
	passive      bool
	unsubscribes []func()
}

// Watcher installs and removes live event subscriptions and serializes
// every occurrence to its two sinks.
type Watcher struct {
	mu sync.Mutex

	tree     tree.Tree
	sink     Sink
	recorder Recorder

	watches map[string]*watch
}

// NewWatcher creates a watcher over t. Occurrences are forwarded to
// sink; a recorder can be attached later with SetRecorder.
func NewWatcher(t tree.Tree, sink Sink) *Watcher {
	return &Watcher{
		tree:    t,
		sink:    sink,
		watches: make(map[string]*watch),
	}
}

// SetRecorder attaches (or detaches, with nil) the recording sink.
func (w *Watcher) SetRecorder(r Recorder) {
	w.mu.Lock()
	w.recorder = r
	w.mu.Unlock()
}

// Watch subscribes one listener per event type on the target resolved
// from selector (the root when selector is empty) and returns the
// watchId. Fails when the selector resolves to nothing or the event
// type list is empty.
func (w *Watcher) Watch(selector string, eventTypes []string, capture, passive bool) (string, error) {
	if len(eventTypes) == 0 {
		return "", errors.New(errors.CodeWatchNoEvents, "no event types given")
	}

	var target tree.Node
	if selector == "" {
		target = w.tree.Root()
	} else {
		nodes, err := tree.Locate(w.tree, selector)
		if err != nil {
			return "", errors.MalformedSelector(selector, err)
		}
		if len(nodes) == 0 {
			return "", errors.New(errors.CodeWatchTargetMissing,
				"watch target "+selector+" not found")
		}
		target = nodes[0]
	}

	watchID := uuid.NewString()
	entry := &watch{
		target:     target,
		eventTypes: eventTypes,
		passive:    passive,
	}
	for _, eventType := range eventTypes {
		unsub := w.tree.Subscribe(target, eventType, capture, w.capturedHandler())
		entry.unsubscribes = append(entry.unsubscribes, unsub)
	}

	w.mu.Lock()
	w.watches[watchID] = entry
	w.mu.Unlock()

	log.Printf("events: watch %s installed (%d types on %s)", watchID, len(eventTypes), tree.Path(target))
	return watchID, nil
}

// Unwatch removes every listener registered under watchId. Idempotent:
// unknown or already-removed ids are a no-op, not an error.
func (w *Watcher) Unwatch(watchID string) {
	w.mu.Lock()
	entry, ok := w.watches[watchID]
	if ok {
		delete(w.watches, watchID)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	for _, unsub := range entry.unsubscribes {
		unsub()
	}
	log.Printf("events: watch %s removed", watchID)
}

// Teardown removes every active watcher. Called on kill.
func (w *Watcher) Teardown() {
	w.mu.Lock()
	watches := w.watches
	w.watches = make(map[string]*watch)
	w.mu.Unlock()

	for _, entry := range watches {
		for _, unsub := range entry.unsubscribes {
			unsub()
		}
	}
	if len(watches) > 0 {
		log.Printf("events: tore down %d watches", len(watches))
	}
}

// ActiveCount returns the number of installed watchers.
func (w *Watcher) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// capturedHandler builds the listener shared by every subscription:
// serialize the occurrence, forward it to the transport sink, and
// append it to the active recording session if one exists.
func (w *Watcher) capturedHandler() tree.Listener {
	return func(ev tree.Event) {
		recorded := Serialize(ev)

		if w.sink != nil {
			w.sink(recorded)
		}

		w.mu.Lock()
		recorder := w.recorder
		w.mu.Unlock()
		if recorder != nil {
			recorder.Record(recorded)
		}
	}
}

// Serialize converts one live occurrence into its recorded form.
func Serialize(ev tree.Event) protocol.RecordedEvent {
	recorded := protocol.RecordedEvent{
		Type:      ev.Type,
		Timestamp: protocol.Now(),
		Target:    serializeTarget(ev.Target),
	}

	switch categoryOf(ev.Type) {
	case categoryPointer:
		recorded.Position = &protocol.Point{X: ev.Options.X, Y: ev.Options.Y}
	case categoryKeyboard:
		recorded.Key = ev.Options.Key
		recorded.Code = ev.Options.Code
		recorded.Modifiers = ev.Options.Modifiers
	case categoryValue:
		// The dispatcher sets the value before constructing the event,
		// so the target's post-state is the authoritative value.
		recorded.Value = ev.Target.Value()
		if recorded.Value == "" {
			recorded.Value = ev.Options.Value
		}
	}
	return recorded
}

func serializeTarget(n tree.Node) protocol.RecordedTarget {
	if n == nil {
		return protocol.RecordedTarget{}
	}
	// Attributes() does not promise a copy; truncate into a fresh map so
	// a host handing out its live map keeps its values intact.
	var attrs map[string]string
	if src := n.Attributes(); len(src) > 0 {
		attrs = make(map[string]string, len(src))
		for k, v := range src {
			attrs[k] = tree.Truncate(v, tree.MaxValueLen)
		}
	}
	return protocol.RecordedTarget{
		Path:       tree.Path(n),
		Kind:       n.Kind(),
		ID:         n.ID(),
		Attributes: attrs,
		Text:       tree.Truncate(n.Text(), tree.MaxValueLen),
		Value:      n.Value(),
	}
}
