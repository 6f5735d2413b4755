package tree

// path.go resolves the structural locators Path emits back to live
// nodes. The grammar is exactly what Path produces: segments of
// "kind[attr=value]...:nth-of-kind(n)" joined by " > ", with an
// optional "#id" anchor at the head.

import (
	"fmt"
	"strconv"
	"strings"
)

// pathSegment is one parsed step of a structural path.
type pathSegment struct {
	id    string
	kind  string
	attrs [][2]string
	nth   int // 1-based position among same-kind siblings, 0 when absent
}

// IsStructuralPath reports whether selector uses the structural path
// grammar (a child chain or a positional disambiguator) rather than the
// flat query grammar the host tree resolves natively.
func IsStructuralPath(selector string) bool {
	return strings.Contains(selector, " > ") || strings.Contains(selector, ":nth-of-kind(")
}

// Locate resolves a locator of either grammar against t: structural
// paths go through ResolvePath, everything else through t.Resolve.
// Watchers, the synthetic dispatcher and replay all resolve through
// here, so any locator a recorded event carries stays resolvable.
func Locate(t Tree, selector string) ([]Node, error) {
	if !IsStructuralPath(selector) {
		return t.Resolve(selector)
	}
	n, err := ResolvePath(t, selector)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	return []Node{n}, nil
}

// ResolvePath walks a structural path from its anchor (the root, or the
// identified node of a leading "#id" segment) down the child chain. A
// well-formed path that no longer matches the live tree resolves to nil
// without error, mirroring Resolve's no-match behavior.
func ResolvePath(t Tree, path string) (Node, error) {
	parts := strings.Split(path, " > ")
	segments := make([]pathSegment, len(parts))
	for i, part := range parts {
		seg, err := parsePathSegment(part)
		if err != nil {
			return nil, fmt.Errorf("path step %q: %w", part, err)
		}
		segments[i] = seg
	}

	var cur Node
	first := segments[0]
	switch {
	case first.id != "":
		cur = findByID(t.Root(), first.id)
	case matchesSegment(t.Root(), first):
		cur = t.Root()
	}
	if cur == nil {
		return nil, nil
	}

	for _, seg := range segments[1:] {
		if seg.id != "" {
			// Identity only anchors a path; Path never emits it below
			// the head.
			return nil, fmt.Errorf("identity step #%s below the path anchor", seg.id)
		}
		cur = childMatching(cur, seg)
		if cur == nil {
			return nil, nil
		}
	}
	return cur, nil
}

// matchesSegment checks kind and attribute filters. Position is the
// caller's concern.
func matchesSegment(n Node, seg pathSegment) bool {
	if n.Kind() != seg.kind {
		return false
	}
	attrs := n.Attributes()
	for _, kv := range seg.attrs {
		if attrs[kv[0]] != kv[1] {
			return false
		}
	}
	return true
}

// childMatching picks the child of parent matching seg: the child at
// the recorded same-kind position when a disambiguator is present,
// otherwise the first child matching kind and attributes.
func childMatching(parent Node, seg pathSegment) Node {
	kindIdx := 0
	for _, child := range parent.Children() {
		if child.Kind() != seg.kind {
			continue
		}
		kindIdx++
		if seg.nth > 0 && kindIdx != seg.nth {
			continue
		}
		if matchesSegment(child, seg) {
			return child
		}
		if seg.nth > 0 {
			// The positioned child exists but its attributes changed.
			return nil
		}
	}
	return nil
}

func findByID(n Node, id string) Node {
	if n.ID() == id {
		return n
	}
	for _, child := range n.Children() {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

// parsePathSegment parses "#id" or "kind[attr=value]...:nth-of-kind(n)".
func parsePathSegment(s string) (pathSegment, error) {
	var seg pathSegment

	s = strings.TrimSpace(s)
	if s == "" {
		return seg, fmt.Errorf("empty step")
	}
	if strings.HasPrefix(s, "#") {
		if len(s) == 1 {
			return seg, fmt.Errorf("empty identity")
		}
		seg.id = s[1:]
		return seg, nil
	}

	if idx := strings.Index(s, ":nth-of-kind("); idx != -1 {
		suffix := s[idx+len(":nth-of-kind("):]
		if !strings.HasSuffix(suffix, ")") {
			return seg, fmt.Errorf("unterminated position")
		}
		n, err := strconv.Atoi(strings.TrimSuffix(suffix, ")"))
		if err != nil || n < 1 {
			return seg, fmt.Errorf("invalid position %q", suffix)
		}
		seg.nth = n
		s = s[:idx]
	}

	bracket := strings.IndexByte(s, '[')
	if bracket == -1 {
		seg.kind = s
		s = ""
	} else {
		seg.kind = s[:bracket]
		s = s[bracket:]
	}
	if seg.kind == "" {
		return seg, fmt.Errorf("missing kind")
	}

	for s != "" {
		if s[0] != '[' {
			return seg, fmt.Errorf("unexpected %q", string(s[0]))
		}
		end := strings.IndexByte(s, ']')
		if end == -1 {
			return seg, fmt.Errorf("unterminated attribute filter")
		}
		pair := s[1:end]
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return seg, fmt.Errorf("attribute filter %q must be key=value", pair)
		}
		seg.attrs = append(seg.attrs, [2]string{pair[:eq], pair[eq+1:]})
		s = s[end+1:]
	}
	return seg, nil
}
