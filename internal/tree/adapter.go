package tree

// adapter.go implements the target-tree adapter: selector queries that
// serialize matched nodes into flat, size-bounded descriptors.

import (
	"sort"
	"strconv"

	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/protocol"
)

// Descriptor size bounds. Text-bearing fields are truncated so a single
// query response stays well under the transport's message size limit.
const (
	// MaxTextLen bounds the Text field of a descriptor.
	MaxTextLen = 5000

	// MaxValueLen bounds the Value field and each attribute value.
	MaxValueLen = 1000
)

// Query resolves selector against t and serializes the matches.
// When multiple is false only the first match is returned. A malformed
// selector is reported as a coded error so the caller can turn it into
// a failed Response; it never escapes as a fatal error.
func Query(t Tree, selector string, multiple bool) ([]protocol.Descriptor, error) {
	nodes, err := Locate(t, selector)
	if err != nil {
		return nil, errors.MalformedSelector(selector, err)
	}
	if len(nodes) == 0 {
		return nil, errors.NoMatch(selector)
	}
	if !multiple {
		nodes = nodes[:1]
	}

	descriptors := make([]protocol.Descriptor, 0, len(nodes))
	for _, n := range nodes {
		descriptors = append(descriptors, Describe(n))
	}
	return descriptors, nil
}

// Describe serializes one node into a flat descriptor, applying the
// text bounds above.
func Describe(n Node) protocol.Descriptor {
	return protocol.Descriptor{
		Kind:       n.Kind(),
		ID:         n.ID(),
		Attributes: truncateAttributes(n.Attributes()),
		Bounds:     n.Bounds(),
		Text:       Truncate(n.Text(), MaxTextLen),
		Value:      Truncate(n.Value(), MaxValueLen),
	}
}

// Truncate clamps s to max bytes. The bound is applied to the UTF-8
// byte length; a clamp may split a rune but the wire model tolerates
// that and the bound stays exact.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func truncateAttributes(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = Truncate(v, MaxValueLen)
	}
	return out
}

// Path reconstructs a stable locator for a node: an identity shortcut
// when the node has a stable id, otherwise a structural chain of
// (kind + up to two distinguishing attributes) with a positional
// disambiguator among same-kind siblings, walked up to the root.
func Path(n Node) string {
	if n == nil {
		return ""
	}
	if id := n.ID(); id != "" {
		return "#" + id
	}

	var segments []string
	for cur := n; cur != nil; cur = cur.Parent() {
		if id := cur.ID(); id != "" {
			// Identity shortcut at an ancestor anchors the chain.
			segments = append(segments, "#"+id)
			break
		}
		segments = append(segments, segment(cur))
	}

	// Walked leaf-to-root; the path reads root-to-leaf.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}

	path := segments[0]
	for _, s := range segments[1:] {
		path += " > " + s
	}
	return path
}

// distinguishingAttrs are the attributes most likely to identify a node
// among its siblings, in preference order.
var distinguishingAttrs = []string{"name", "class", "type", "role", "label"}

// segment renders one structural path step for a node without identity.
func segment(n Node) string {
	s := n.Kind()

	attrs := n.Attributes()
	picked := 0
	for _, key := range distinguishingAttrs {
		if picked == 2 {
			break
		}
		if v, ok := attrs[key]; ok && v != "" {
			s += "[" + key + "=" + v + "]"
			picked++
		}
	}
	// Fall back to any attribute when the preferred set is empty.
	if picked < 2 && len(attrs) > 0 {
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			if !isPreferred(k) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if picked == 2 {
				break
			}
			if v := attrs[k]; v != "" {
				s += "[" + k + "=" + v + "]"
				picked++
			}
		}
	}

	if idx, count := kindPosition(n); count > 1 {
		s += ":nth-of-kind(" + strconv.Itoa(idx) + ")"
	}
	return s
}

func isPreferred(key string) bool {
	for _, k := range distinguishingAttrs {
		if k == key {
			return true
		}
	}
	return false
}

// kindPosition returns the node's 1-based position among same-kind
// siblings and the total count of same-kind siblings.
func kindPosition(n Node) (idx, count int) {
	parent := n.Parent()
	if parent == nil {
		return 1, 1
	}
	for _, sibling := range parent.Children() {
		if sibling.Kind() != n.Kind() {
			continue
		}
		count++
		if sibling == n {
			idx = count
		}
	}
	if idx == 0 {
		idx = 1
	}
	if count == 0 {
		count = 1
	}
	return idx, count
}
