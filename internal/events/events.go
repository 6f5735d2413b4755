// Package events implements the event watcher and the synthetic event
// dispatcher. The watcher subscribes to live interaction events on a
// resolved target and serializes each occurrence to a RecordedEvent;
// the dispatcher constructs and fires concrete events from structured
// options, for direct remote control and for replay.
package events

// category groups event types by how their synthetic form is built and
// how occurrences are serialized.
type category int

const (
	categoryGeneric category = iota
	categoryPointer
	categoryKeyboard
	categoryValue
	categoryFocus
)

var categories = map[string]category{
	"click":       categoryPointer,
	"dblclick":    categoryPointer,
	"contextmenu": categoryPointer,
	"pointerdown": categoryPointer,
	"pointerup":   categoryPointer,
	"pointermove": categoryPointer,
	"mousedown":   categoryPointer,
	"mouseup":     categoryPointer,
	"mousemove":   categoryPointer,

	"keydown":  categoryKeyboard,
	"keyup":    categoryKeyboard,
	"keypress": categoryKeyboard,

	"input":  categoryValue,
	"change": categoryValue,

	"focus": categoryFocus,
	"blur":  categoryFocus,
}

func categoryOf(eventType string) category {
	if c, ok := categories[eventType]; ok {
		return c
	}
	return categoryGeneric
}
