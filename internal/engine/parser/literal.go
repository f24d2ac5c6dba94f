// # internal/engine/parser/literal.go
package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"storyindex/internal/core/errors"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// FunctionRef is an opaque reference to a function-valued field. The body is
// kept as source text and never inlined or executed.
type FunctionRef struct {
	Source string `json:"source"`
	Line   int    `json:"line,omitempty"`
}

// ExprRef is any non-literal expression kept by its source text
// (identifiers, calls, member access, template literals with substitutions).
type ExprRef struct {
	Source string `json:"source"`
}

func (f FunctionRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"$function": f.Source})
}

func (e ExprRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"$expr": e.Source})
}

// IsRef reports whether v is a FunctionRef or ExprRef.
func IsRef(v any) bool {
	switch v.(type) {
	case FunctionRef, ExprRef:
		return true
	}
	return false
}

// StaticValue converts a literal expression into plain Go data
// (string, float64, bool, nil, []any, map[string]any). Anything that would
// need evaluation becomes a FunctionRef or ExprRef.
func StaticValue(node *sitter.Node, source []byte) any {
	v, _ := literalValue(node, source, false)
	return v
}

// LiteralValue is the strict form of StaticValue: any node that is not a
// plain literal fails with UNKNOWN_NODE_TYPE.
func LiteralValue(node *sitter.Node, source []byte) (any, error) {
	return literalValue(node, source, true)
}

func literalValue(node *sitter.Node, source []byte, strict bool) (any, error) {
	node = Unwrap(node)
	if node == nil {
		return nil, nil
	}

	switch node.Kind() {
	case "string", "template_string":
		if s, ok := StringValue(node, source); ok {
			return s, nil
		}
	case "number":
		if f, ok := parseNumber(NodeText(node, source)); ok {
			return f, nil
		}
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "undefined":
		return nil, nil
	case "identifier":
		if NodeText(node, source) == "undefined" {
			return nil, nil
		}
	case "unary_expression":
		op := node.ChildByFieldName("operator")
		arg := Unwrap(node.ChildByFieldName("argument"))
		if op != nil && arg != nil && arg.Kind() == "number" {
			if f, ok := parseNumber(NodeText(arg, source)); ok {
				switch NodeText(op, source) {
				case "-":
					return -f, nil
				case "+":
					return f, nil
				}
			}
		}
	case "array":
		out := make([]any, 0, node.NamedChildCount())
		for _, el := range NamedChildren(node) {
			v, err := literalValue(el, source, strict)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case "object":
		return objectValue(node, source, strict)
	}

	if strict {
		return nil, errors.NewUnknownNodeType(node.Kind())
	}
	if IsFunction(node) {
		return FunctionRef{Source: NodeText(node, source), Line: int(node.StartPosition().Row) + 1}, nil
	}
	return ExprRef{Source: NodeText(node, source)}, nil
}

func objectValue(node *sitter.Node, source []byte, strict bool) (any, error) {
	out := make(map[string]any, node.NamedChildCount())
	for _, prop := range NamedChildren(node) {
		switch prop.Kind() {
		case "pair":
			key, ok := PropertyKey(prop, source)
			if !ok {
				if strict {
					return nil, errors.NewUnknownNodeType(prop.ChildByFieldName("key").Kind())
				}
				continue
			}
			v, err := literalValue(prop.ChildByFieldName("value"), source, strict)
			if err != nil {
				return nil, err
			}
			out[key] = v
		case "method_definition":
			if strict {
				return nil, errors.NewUnknownNodeType(prop.Kind())
			}
			if key, ok := PropertyKey(prop, source); ok {
				out[key] = FunctionRef{Source: NodeText(prop, source), Line: int(prop.StartPosition().Row) + 1}
			}
		case "shorthand_property_identifier":
			if strict {
				return nil, errors.NewUnknownNodeType(prop.Kind())
			}
			name := NodeText(prop, source)
			out[name] = ExprRef{Source: name}
		default:
			if strict {
				return nil, errors.NewUnknownNodeType(prop.Kind())
			}
		}
	}
	return out, nil
}

func parseNumber(text string) (float64, bool) {
	text = strings.ReplaceAll(text, "_", "")
	if strings.HasSuffix(text, "n") {
		text = strings.TrimSuffix(text, "n")
	}
	lower := strings.ToLower(text)
	for prefix, base := range map[string]int{"0x": 16, "0o": 8, "0b": 2} {
		if strings.HasPrefix(lower, prefix) {
			i, err := strconv.ParseInt(lower[2:], base, 64)
			if err != nil {
				return 0, false
			}
			return float64(i), true
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
