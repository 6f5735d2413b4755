package bridge

import (
	"strings"

	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/tree"
)

// evalProperties are the readable node properties of the selector
// evaluator.
var evalProperties = map[string]bool{
	"kind":  true,
	"id":    true,
	"text":  true,
	"value": true,
}

// NewSelectorEvaluator returns a read-only evaluator over t. Expressions
// are "selector" (returns the first match's descriptor) or
// "selector.property" where property is kind, id, text or value. There
// is no code execution and no mutation.
func NewSelectorEvaluator(t tree.Tree) Evaluator {
	return func(expression string) (any, error) {
		expression = strings.TrimSpace(expression)
		if expression == "" {
			return nil, errors.New(errors.CodeEvalFailed, "empty expression")
		}

		selector := expression
		property := ""
		if idx := strings.LastIndex(expression, "."); idx > 0 {
			if suffix := expression[idx+1:]; evalProperties[suffix] {
				selector = expression[:idx]
				property = suffix
			}
		}

		nodes, err := t.Resolve(selector)
		if err != nil {
			return nil, errors.MalformedSelector(selector, err)
		}
		if len(nodes) == 0 {
			return nil, errors.NoMatch(selector)
		}
		node := nodes[0]

		switch property {
		case "":
			return tree.Describe(node), nil
		case "kind":
			return node.Kind(), nil
		case "id":
			return node.ID(), nil
		case "text":
			return tree.Truncate(node.Text(), tree.MaxTextLen), nil
		case "value":
			return tree.Truncate(node.Value(), tree.MaxValueLen), nil
		default:
			return nil, errors.New(errors.CodeEvalFailed, "unknown property "+property)
		}
	}
}
