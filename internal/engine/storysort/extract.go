package storysort

import (
	"bytes"
	"fmt"
	"log/slog"

	"storyindex/internal/core/errors"
	"storyindex/internal/engine/parser"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

const maxBindingHops = 8

type previewScan struct {
	file     *parser.SourceFile
	source   []byte
	bindings map[string]*sitter.Node
}

// GetStorySortParameter returns parameters.options.storySort from a preview
// configuration file, or nil when the file does not set one. Nothing in the
// file is executed: literal values are read from the tree and a comparator
// is kept as source text until Comparator compiles it on its own.
func GetStorySortParameter(file *parser.SourceFile) (*Parameter, error) {
	if file == nil || file.Root() == nil || !bytes.Contains(file.Source, []byte("storySort")) {
		return nil, nil
	}
	s := &previewScan{
		file:     file,
		source:   file.Source,
		bindings: make(map[string]*sitter.Node),
	}

	top := parser.NamedChildren(file.Root())
	for _, node := range top {
		s.bind(node)
	}

	var storySort *sitter.Node
	for _, node := range top {
		if node.Kind() != "export_statement" {
			continue
		}
		found, err := s.fromExport(node)
		if err != nil {
			return nil, err
		}
		if found != nil {
			storySort = found
		}
	}
	if storySort == nil {
		return nil, nil
	}
	return s.parameter(storySort)
}

func (s *previewScan) text(node *sitter.Node) string {
	return parser.NodeText(node, s.source)
}

func (s *previewScan) bind(node *sitter.Node) {
	switch node.Kind() {
	case "lexical_declaration", "variable_declaration":
		for _, decl := range parser.NamedChildren(node) {
			if decl.Kind() != "variable_declarator" {
				continue
			}
			name := decl.ChildByFieldName("name")
			if name != nil && name.Kind() == "identifier" {
				s.bindings[s.text(name)] = decl.ChildByFieldName("value")
			}
		}
	case "function_declaration", "generator_function_declaration":
		if name := node.ChildByFieldName("name"); name != nil {
			s.bindings[s.text(name)] = node
		}
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			s.bind(decl)
		}
	}
}

func (s *previewScan) resolve(node *sitter.Node) *sitter.Node {
	node = parser.Unwrap(node)
	for i := 0; i < maxBindingHops && node != nil && node.Kind() == "identifier"; i++ {
		bound, ok := s.bindings[s.text(node)]
		if !ok || bound == nil {
			return node
		}
		node = parser.Unwrap(bound)
	}
	return node
}

func (s *previewScan) unsupported(format string, args ...any) error {
	e := errors.NewUnsupportedStorySort(fmt.Sprintf(format, args...))
	return e.WithContext(errors.CtxPath, s.file.Path)
}

func (s *previewScan) fromExport(node *sitter.Node) (*sitter.Node, error) {
	for i := uint(0); i < node.ChildCount(); i++ {
		if node.Child(i).Kind() == "default" {
			return s.fromDefault(node)
		}
	}

	if decl := node.ChildByFieldName("declaration"); decl != nil {
		if decl.Kind() != "lexical_declaration" && decl.Kind() != "variable_declaration" {
			return nil, nil
		}
		var found *sitter.Node
		for _, d := range parser.NamedChildren(decl) {
			name := d.ChildByFieldName("name")
			if d.Kind() != "variable_declarator" || name == nil || s.text(name) != "parameters" {
				continue
			}
			n, err := s.fromParameters(d.ChildByFieldName("value"))
			if err != nil {
				return nil, err
			}
			found = n
		}
		return found, nil
	}

	reexport := node.ChildByFieldName("source") != nil
	for _, clause := range parser.NamedChildren(node) {
		if clause.Kind() != "export_clause" {
			continue
		}
		for _, spec := range parser.NamedChildren(clause) {
			local := s.text(spec.ChildByFieldName("name"))
			exported := local
			if alias := spec.ChildByFieldName("alias"); alias != nil {
				exported = s.text(alias)
			}
			if exported != "parameters" {
				continue
			}
			switch {
			case reexport:
				return nil, s.unsupported("parameters is re-exported from another module, define options.storySort inline")
			case local != "parameters":
				slog.Warn("storySort: parameters exported under a different local name, skipping", "path", s.file.Path, "local", local)
				continue
			}
			bound, ok := s.bindings[local]
			if !ok || bound == nil {
				return nil, s.unsupported("exported parameters has no local definition")
			}
			return s.fromParameters(bound)
		}
	}
	return nil, nil
}

// fromDefault handles `export default {...}`, `export default config` and
// `export default definePreview({...})`.
func (s *previewScan) fromDefault(node *sitter.Node) (*sitter.Node, error) {
	value := node.ChildByFieldName("value")
	if value == nil {
		value = node.ChildByFieldName("declaration")
	}
	obj := s.resolve(value)
	if obj != nil && obj.Kind() == "call_expression" {
		if args := parser.NamedChildren(obj.ChildByFieldName("arguments")); len(args) > 0 {
			obj = s.resolve(args[0])
		}
	}
	if obj == nil || obj.Kind() != "object" {
		slog.Warn("storySort: default export is not an object literal, skipping", "path", s.file.Path)
		return nil, nil
	}
	params := s.property(obj, "parameters")
	if params == nil {
		return nil, nil
	}
	return s.fromParameters(params)
}

func (s *previewScan) fromParameters(value *sitter.Node) (*sitter.Node, error) {
	params := s.resolve(value)
	if params == nil || params.Kind() != "object" {
		kind := "nothing"
		if params != nil {
			kind = params.Kind()
		}
		return nil, s.unsupported("parameters must be a plain object expression, got %s", kind)
	}
	options := s.resolve(s.property(params, "options"))
	if options == nil || options.Kind() != "object" {
		return nil, nil
	}
	return s.property(options, "storySort"), nil
}

func (s *previewScan) property(obj *sitter.Node, key string) *sitter.Node {
	for _, prop := range parser.NamedChildren(obj) {
		switch prop.Kind() {
		case "pair":
			if k, ok := parser.PropertyKey(prop, s.source); ok && k == key {
				return prop.ChildByFieldName("value")
			}
		case "method_definition":
			if k, ok := parser.PropertyKey(prop, s.source); ok && k == key {
				return prop
			}
		case "shorthand_property_identifier":
			if s.text(prop) == key {
				if bound, ok := s.bindings[key]; ok && bound != nil {
					return bound
				}
				return prop
			}
		}
	}
	return nil
}

func (s *previewScan) parameter(node *sitter.Node) (*Parameter, error) {
	n := s.resolve(node)
	if n == nil {
		return nil, nil
	}
	line := s.file.Line(n)

	if parser.IsFunction(n) {
		src := s.text(n)
		if n.Kind() == "method_definition" {
			key, _ := parser.PropertyKey(n, s.source)
			src = fmt.Sprintf("({ %s }).%s", src, key)
		}
		return &Parameter{Kind: KindFunction, Source: src, Line: line}, nil
	}
	if n.Kind() == "identifier" {
		return nil, s.unsupported("unexpected '%s', options.storySort should be defined inline", s.text(n))
	}

	v, err := parser.LiteralValue(n, s.source)
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxPath, s.file.Path)
	}
	p, err := fromValue(v)
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxPath, s.file.Path)
	}
	p.Line = line
	return p, nil
}
