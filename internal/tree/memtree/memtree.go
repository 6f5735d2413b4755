// Package memtree is an in-memory implementation of the tree capability
// interfaces. It backs unit tests and the `devbridge run` simulated
// scene, giving the bridge a real target to query, watch, and drive
// without a browser or GUI host attached.
package memtree

import (
	"fmt"
	"strings"
	"sync"

	"github.com/devbridge/agent/internal/protocol"
	"github.com/devbridge/agent/internal/tree"
)

// Node is one object in the in-memory tree.
type Node struct {
	tree *Tree

	kind   string
	id     string
	attrs  map[string]string
	text   string
	value  string
	bounds protocol.Rect

	parent   *Node
	children []*Node
}

// Spec declares a node for Append.
type Spec struct {
	Kind   string
	ID     string
	Attrs  map[string]string
	Text   string
	Value  string
	Bounds protocol.Rect
}

// Kind implements tree.Node.
func (n *Node) Kind() string { return n.kind }

// ID implements tree.Node.
func (n *Node) ID() string { return n.id }

// Attributes implements tree.Node. The returned map is a copy.
func (n *Node) Attributes() map[string]string {
	if len(n.attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(n.attrs))
	for k, v := range n.attrs {
		out[k] = v
	}
	return out
}

// Text implements tree.Node.
func (n *Node) Text() string { return n.text }

// Value implements tree.Node.
func (n *Node) Value() string {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	return n.value
}

// SetValue implements tree.Node.
func (n *Node) SetValue(v string) {
	n.tree.mu.Lock()
	n.value = v
	n.tree.mu.Unlock()
}

// Bounds implements tree.Node.
func (n *Node) Bounds() protocol.Rect { return n.bounds }

// Parent implements tree.Node.
func (n *Node) Parent() tree.Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

// Children implements tree.Node.
func (n *Node) Children() []tree.Node {
	out := make([]tree.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// listener is one registered subscription on a node.
type listener struct {
	eventType string
	capture   bool
	fn        tree.Listener
}

// Tree is an in-memory tree.Tree and tree.Navigator implementation.
type Tree struct {
	mu        sync.RWMutex
	root      *Node
	listeners map[*Node][]*listener
	focused   *Node

	location string
	title    string
	reloads  int
}

// New creates a tree with a root node of the given kind.
func New(rootKind, location, title string) *Tree {
	t := &Tree{
		listeners: make(map[*Node][]*listener),
		location:  location,
		title:     title,
	}
	t.root = &Node{tree: t, kind: rootKind}
	return t
}

// Append adds a child node under parent (the root when parent is nil)
// and returns it.
func (t *Tree) Append(parent *Node, spec Spec) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if parent == nil {
		parent = t.root
	}
	n := &Node{
		tree:   t,
		kind:   spec.Kind,
		id:     spec.ID,
		attrs:  spec.Attrs,
		text:   spec.Text,
		value:  spec.Value,
		bounds: spec.Bounds,
		parent: parent,
	}
	parent.children = append(parent.children, n)
	return n
}

// Root implements tree.Tree.
func (t *Tree) Root() tree.Node { return t.root }

// Resolve implements tree.Tree. Selector syntax:
//
//	#id                       identity lookup
//	kind                      all nodes of a kind
//	kind[attr=value]...       kind filtered by attribute values
//	*[attr=value]             any kind filtered by attribute values
//
// An empty or syntactically broken selector is a malformed-selector
// error; a valid selector with no matches returns an empty slice.
func (t *Tree) Resolve(selector string) ([]tree.Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sel, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}

	var matches []tree.Node
	t.walk(t.root, func(n *Node) {
		if sel.matches(n) {
			matches = append(matches, n)
		}
	})
	return matches, nil
}

func (t *Tree) walk(n *Node, visit func(*Node)) {
	visit(n)
	for _, c := range n.children {
		t.walk(c, visit)
	}
}

// Subscribe implements tree.Tree. The returned unsubscribe function is
// idempotent: the second and later calls are no-ops.
func (t *Tree) Subscribe(n tree.Node, eventType string, capture bool, fn tree.Listener) func() {
	node := n.(*Node)
	l := &listener{eventType: eventType, capture: capture, fn: fn}

	t.mu.Lock()
	t.listeners[node] = append(t.listeners[node], l)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			ls := t.listeners[node]
			for i, cur := range ls {
				if cur == l {
					t.listeners[node] = append(ls[:i], ls[i+1:]...)
					break
				}
			}
			if len(t.listeners[node]) == 0 {
				delete(t.listeners, node)
			}
		})
	}
}

// Emit implements tree.Tree. Delivery order mirrors the host event
// model: capture listeners from the root down, then the target's own
// listeners, then bubble listeners from the target up.
func (t *Tree) Emit(n tree.Node, ev tree.Event) {
	target := n.(*Node)

	// Build the ancestor chain root-first.
	var chain []*Node
	for cur := target.parent; cur != nil; cur = cur.parent {
		chain = append([]*Node{cur}, chain...)
	}

	for _, ancestor := range chain {
		t.deliver(ancestor, ev, true)
	}
	t.deliver(target, ev, true)
	t.deliver(target, ev, false)
	for i := len(chain) - 1; i >= 0; i-- {
		t.deliver(chain[i], ev, false)
	}
}

// deliver invokes the node's listeners for the event type and phase.
// Listeners run without the tree lock held so they may re-enter the
// tree (query, set values, even unsubscribe).
func (t *Tree) deliver(n *Node, ev tree.Event, capture bool) {
	t.mu.RLock()
	var fire []tree.Listener
	for _, l := range t.listeners[n] {
		if l.eventType == ev.Type && l.capture == capture {
			fire = append(fire, l.fn)
		}
	}
	t.mu.RUnlock()

	for _, fn := range fire {
		fn(ev)
	}
}

// Focus implements tree.Tree. Moving focus emits focus (and blur on the
// previously focused node) so watchers observe the change.
func (t *Tree) Focus(n tree.Node) {
	node := n.(*Node)

	t.mu.Lock()
	prev := t.focused
	t.focused = node
	t.mu.Unlock()

	if prev != nil && prev != node {
		t.Emit(prev, tree.Event{Type: "blur", Target: prev})
	}
	t.Emit(node, tree.Event{Type: "focus", Target: node})
}

// Blur implements tree.Tree.
func (t *Tree) Blur(n tree.Node) {
	node := n.(*Node)

	t.mu.Lock()
	if t.focused == node {
		t.focused = nil
	}
	t.mu.Unlock()

	t.Emit(node, tree.Event{Type: "blur", Target: node})
}

// Focused returns the currently focused node, or nil.
func (t *Tree) Focused() tree.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.focused == nil {
		return nil
	}
	return t.focused
}

// Location implements tree.Navigator.
func (t *Tree) Location() (string, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.location, t.title
}

// Goto implements tree.Navigator.
func (t *Tree) Goto(url string) error {
	if url == "" {
		return fmt.Errorf("empty url")
	}
	t.mu.Lock()
	t.location = url
	t.mu.Unlock()
	return nil
}

// Refresh implements tree.Navigator.
func (t *Tree) Refresh() error {
	t.mu.Lock()
	t.reloads++
	t.mu.Unlock()
	return nil
}

// Reloads returns how many refreshes have been requested. Test hook.
func (t *Tree) Reloads() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reloads
}

// compiledSelector is a parsed selector ready for matching.
type compiledSelector struct {
	id    string
	kind  string // "*" matches any kind
	attrs [][2]string
}

func (s compiledSelector) matches(n *Node) bool {
	if s.id != "" {
		return n.id == s.id
	}
	if s.kind != "*" && n.kind != s.kind {
		return false
	}
	for _, kv := range s.attrs {
		if n.attrs[kv[0]] != kv[1] {
			return false
		}
	}
	return true
}

// parseSelector compiles the selector syntax described on Resolve.
func parseSelector(selector string) (compiledSelector, error) {
	var sel compiledSelector

	selector = strings.TrimSpace(selector)
	if selector == "" {
		return sel, fmt.Errorf("empty selector")
	}

	if strings.HasPrefix(selector, "#") {
		id := selector[1:]
		if id == "" || strings.ContainsAny(id, "#[]= ") {
			return sel, fmt.Errorf("invalid identity selector %q", selector)
		}
		sel.id = id
		return sel, nil
	}

	rest := selector
	bracket := strings.IndexByte(rest, '[')
	if bracket == -1 {
		sel.kind = rest
		rest = ""
	} else {
		sel.kind = rest[:bracket]
		rest = rest[bracket:]
	}
	if sel.kind == "" || strings.ContainsAny(sel.kind, "#]= ") {
		return sel, fmt.Errorf("invalid kind in selector %q", selector)
	}

	for rest != "" {
		if rest[0] != '[' {
			return sel, fmt.Errorf("unexpected %q in selector %q", string(rest[0]), selector)
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return sel, fmt.Errorf("unterminated attribute filter in %q", selector)
		}
		pair := rest[1:end]
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return sel, fmt.Errorf("attribute filter %q must be key=value", pair)
		}
		sel.attrs = append(sel.attrs, [2]string{pair[:eq], pair[eq+1:]})
		rest = rest[end+1:]
	}
	return sel, nil
}
