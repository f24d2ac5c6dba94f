package csf

import (
	"fmt"

	"storyindex/internal/core/errors"
	"storyindex/internal/engine/parser"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

const namedExportsOrderKey = "__namedExportsOrder"

// reservedExports cannot be used as story export names.
var reservedExports = map[string]bool{
	"__esModule": true,
	"__proto__":  true,
}

// skippedDeclarations are exported declarations that carry no runtime value.
var skippedDeclarations = map[string]bool{
	"type_alias_declaration": true,
	"interface_declaration":  true,
	"enum_declaration":       true,
	"ambient_declaration":    true,
	"module":                 true,
	"internal_module":        true,
}

const maxBindingHops = 8

type exportRef struct {
	name  string
	local string
	value *sitter.Node
	line  int
}

type assignment struct {
	local string
	prop  string
	value *sitter.Node
}

type extractor struct {
	file     *parser.SourceFile
	source   []byte
	opts     Options
	bindings map[string]*sitter.Node
	imports  map[string]string

	exports      []exportRef
	defaultNode  *sitter.Node
	defaultLocal string
	assignments  []assignment
}

// Extract walks a parsed story file and returns its CSF description. It fails
// with CSF_PARSE_ERROR when the default export is missing or is not an object
// literal, or when an export uses a reserved name.
func Extract(file *parser.SourceFile, opts Options) (*StoryFile, error) {
	if file == nil || file.Root() == nil {
		return nil, errors.New(errors.CodeInternal, "extract called without a parsed source")
	}
	e := &extractor{
		file:     file,
		source:   file.Source,
		opts:     opts,
		bindings: make(map[string]*sitter.Node),
		imports:  make(map[string]string),
	}
	e.collect(file.Root())
	return e.build()
}

func (e *extractor) fail(format string, args ...any) error {
	return errors.NewCSFParseError(e.file.Path, fmt.Sprintf(format, args...))
}

func (e *extractor) text(node *sitter.Node) string {
	return parser.NodeText(node, e.source)
}

func (e *extractor) collect(root *sitter.Node) {
	for _, node := range parser.NamedChildren(root) {
		switch node.Kind() {
		case "import_statement":
			e.collectImport(node)
		case "lexical_declaration", "variable_declaration":
			e.collectDeclarators(node, false)
		case "function_declaration", "generator_function_declaration", "class_declaration":
			if name := node.ChildByFieldName("name"); name != nil {
				e.bindings[e.text(name)] = node
			}
		case "export_statement":
			e.collectExport(node)
		case "expression_statement":
			e.collectAssignment(node)
		}
	}
}

func (e *extractor) collectImport(node *sitter.Node) {
	src, ok := parser.StringValue(node.ChildByFieldName("source"), e.source)
	if !ok {
		return
	}
	for _, child := range parser.NamedChildren(node) {
		if child.Kind() != "import_clause" {
			continue
		}
		for _, part := range parser.NamedChildren(child) {
			switch part.Kind() {
			case "identifier":
				e.imports[e.text(part)] = src
			case "namespace_import":
				for _, id := range parser.NamedChildren(part) {
					e.imports[e.text(id)] = src
				}
			case "named_imports":
				for _, spec := range parser.NamedChildren(part) {
					local := spec.ChildByFieldName("alias")
					if local == nil {
						local = spec.ChildByFieldName("name")
					}
					if local != nil {
						e.imports[e.text(local)] = src
					}
				}
			}
		}
	}
}

func (e *extractor) collectDeclarators(node *sitter.Node, exported bool) {
	for _, decl := range parser.NamedChildren(node) {
		if decl.Kind() != "variable_declarator" {
			continue
		}
		name := decl.ChildByFieldName("name")
		if name == nil || name.Kind() != "identifier" {
			continue
		}
		local := e.text(name)
		value := decl.ChildByFieldName("value")
		e.bindings[local] = value
		if exported {
			e.exports = append(e.exports, exportRef{
				name:  local,
				local: local,
				value: value,
				line:  e.file.Line(decl),
			})
		}
	}
}

func hasChildKind(node *sitter.Node, kind string) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		if node.Child(i).Kind() == kind {
			return true
		}
	}
	return false
}

func (e *extractor) collectExport(node *sitter.Node) {
	// `export type { X }` and friends have no runtime value.
	if hasChildKind(node, "type") {
		return
	}

	if hasChildKind(node, "default") {
		if value := node.ChildByFieldName("value"); value != nil {
			e.defaultNode = value
			return
		}
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			if name := decl.ChildByFieldName("name"); name != nil {
				e.bindings[e.text(name)] = decl
			}
			e.defaultNode = decl
		}
		return
	}

	if decl := node.ChildByFieldName("declaration"); decl != nil {
		switch {
		case skippedDeclarations[decl.Kind()]:
		case decl.Kind() == "lexical_declaration" || decl.Kind() == "variable_declaration":
			e.collectDeclarators(decl, true)
		default:
			name := decl.ChildByFieldName("name")
			if name == nil {
				return
			}
			local := e.text(name)
			e.bindings[local] = decl
			e.exports = append(e.exports, exportRef{name: local, local: local, value: decl, line: e.file.Line(decl)})
		}
		return
	}

	reexport := node.ChildByFieldName("source") != nil
	for _, child := range parser.NamedChildren(node) {
		if child.Kind() != "export_clause" {
			continue
		}
		for _, spec := range parser.NamedChildren(child) {
			if spec.Kind() != "export_specifier" {
				continue
			}
			local := e.moduleExportName(spec.ChildByFieldName("name"))
			exported := local
			if alias := spec.ChildByFieldName("alias"); alias != nil {
				exported = e.moduleExportName(alias)
			}
			if exported == "default" {
				if reexport {
					e.defaultNode = spec
				} else {
					e.defaultLocal = local
				}
				continue
			}
			ref := exportRef{name: exported, local: local, line: e.file.Line(spec)}
			if reexport {
				ref.local = ""
			}
			e.exports = append(e.exports, ref)
		}
	}
}

func (e *extractor) moduleExportName(node *sitter.Node) string {
	if s, ok := parser.StringValue(node, e.source); ok {
		return s
	}
	return e.text(node)
}

func (e *extractor) collectAssignment(node *sitter.Node) {
	for _, child := range parser.NamedChildren(node) {
		if child.Kind() != "assignment_expression" {
			continue
		}
		left := child.ChildByFieldName("left")
		if left == nil || left.Kind() != "member_expression" {
			continue
		}
		object := left.ChildByFieldName("object")
		prop := left.ChildByFieldName("property")
		if object == nil || prop == nil || object.Kind() != "identifier" {
			continue
		}
		e.assignments = append(e.assignments, assignment{
			local: e.text(object),
			prop:  e.text(prop),
			value: child.ChildByFieldName("right"),
		})
	}
}

// resolve follows identifiers to their top-level initialisers.
func (e *extractor) resolve(node *sitter.Node) *sitter.Node {
	node = parser.Unwrap(node)
	for i := 0; i < maxBindingHops && node != nil && node.Kind() == "identifier"; i++ {
		bound, ok := e.bindings[e.text(node)]
		if !ok || bound == nil {
			return node
		}
		node = parser.Unwrap(bound)
	}
	return node
}

func (e *extractor) metaNode() (*sitter.Node, MetaShape) {
	var node *sitter.Node
	switch {
	case e.defaultNode != nil:
		node = e.resolve(e.defaultNode)
	case e.defaultLocal != "":
		bound, ok := e.bindings[e.defaultLocal]
		if !ok || bound == nil {
			return nil, MetaUnrecognized
		}
		node = e.resolve(bound)
	default:
		return nil, MetaMissing
	}
	if node != nil && node.Kind() == "object" {
		return node, MetaObjectLiteral
	}
	return node, MetaUnrecognized
}

// forEachProperty visits the static keys of an object literal. Methods are
// passed as their own value node, shorthand properties resolve to their binding.
func (e *extractor) forEachProperty(obj *sitter.Node, visit func(key string, value *sitter.Node) error) error {
	for _, prop := range parser.NamedChildren(obj) {
		switch prop.Kind() {
		case "pair":
			key, ok := parser.PropertyKey(prop, e.source)
			if !ok {
				continue
			}
			if err := visit(key, prop.ChildByFieldName("value")); err != nil {
				return err
			}
		case "method_definition":
			key, ok := parser.PropertyKey(prop, e.source)
			if !ok {
				continue
			}
			if err := visit(key, prop); err != nil {
				return err
			}
		case "shorthand_property_identifier":
			key := e.text(prop)
			value := prop
			if bound, ok := e.bindings[key]; ok && bound != nil {
				value = bound
			}
			if err := visit(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *extractor) build() (*StoryFile, error) {
	metaObj, shape := e.metaNode()
	switch shape {
	case MetaMissing:
		return nil, e.fail("missing default export")
	case MetaUnrecognized:
		kind := "unknown"
		if metaObj != nil {
			kind = metaObj.Kind()
		}
		return nil, e.fail("unexpected default export of type %s, expected an object literal", kind)
	}

	out := &StoryFile{
		Path:      e.file.Path,
		MetaShape: shape,
		Imports:   e.imports,
	}
	if err := e.parseMeta(metaObj, &out.Meta); err != nil {
		return nil, err
	}

	stories := make([]*Story, 0, len(e.exports))
	byLocal := make(map[string]*Story)
	for _, exp := range e.exports {
		if reservedExports[exp.name] {
			return nil, e.fail("export %q collides with a reserved identifier", exp.name)
		}
		if exp.name == namedExportsOrderKey {
			order, err := e.stringArray(e.valueOf(exp))
			if err != nil {
				return nil, e.fail("%s must be an array of strings: %v", namedExportsOrderKey, err)
			}
			out.NamedExportsOrder = order
			continue
		}
		story, err := e.parseStory(exp)
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
		if exp.local != "" {
			byLocal[exp.local] = story
		}
	}

	for _, a := range e.assignments {
		story, ok := byLocal[a.local]
		if !ok {
			continue
		}
		if err := e.applyAnnotation(story, a.prop, a.value, true); err != nil {
			return nil, err
		}
	}

	for _, story := range stories {
		story.Template = !IsExportStory(story.ExportName, out.Meta.IncludeStories, out.Meta.ExcludeStories)
		if out.Meta.HasPlay {
			story.HasPlayFunction = true
		}
	}
	out.Stories = applyNamedExportsOrder(stories, out.NamedExportsOrder)

	title := e.makeTitle(out.Meta.Title)
	if title == "" {
		return nil, e.fail("unable to derive a title")
	}
	out.Meta.Title = title

	componentID := out.ComponentID()
	for _, story := range out.Stories {
		id, err := ToID(componentID, StoryNameFromExport(story.ExportName))
		if err != nil {
			return nil, e.fail("%v", err)
		}
		story.ID = id
		if story.Name == "" {
			story.Name = StoryNameFromExport(story.ExportName)
		}
	}
	return out, nil
}

func (e *extractor) makeTitle(userTitle string) string {
	if e.opts.MakeTitle != nil {
		return e.opts.MakeTitle(userTitle)
	}
	return UserOrAutoTitle(e.file.Path, "", "", userTitle)
}

// applyNamedExportsOrder reorders stories by __namedExportsOrder; exports the
// order leaves out become templates and keep their source order at the end.
func applyNamedExportsOrder(stories []*Story, order []string) []*Story {
	if order == nil {
		return stories
	}
	byName := make(map[string]*Story, len(stories))
	for _, s := range stories {
		byName[s.ExportName] = s
	}
	out := make([]*Story, 0, len(stories))
	listed := make(map[string]bool, len(order))
	for _, name := range order {
		if s, ok := byName[name]; ok && !listed[name] {
			listed[name] = true
			out = append(out, s)
		}
	}
	for _, s := range stories {
		if !listed[s.ExportName] {
			s.Template = true
			out = append(out, s)
		}
	}
	return out
}

func (e *extractor) valueOf(exp exportRef) *sitter.Node {
	if exp.value != nil {
		return exp.value
	}
	if exp.local == "" {
		return nil
	}
	return e.bindings[exp.local]
}

func (e *extractor) parseMeta(obj *sitter.Node, meta *Meta) error {
	return e.forEachProperty(obj, func(key string, value *sitter.Node) error {
		switch key {
		case "title":
			title, ok := parser.StringValue(e.resolve(value), e.source)
			if !ok {
				return e.fail("unexpected dynamic title at line %d, titles must be string literals", e.file.Line(value))
			}
			meta.Title = title
			meta.TitleExplicit = true
		case "id":
			id, ok := parser.StringValue(e.resolve(value), e.source)
			if !ok {
				return e.fail("meta id must be a string literal")
			}
			meta.ID = id
		case "component":
			ref := parser.Unwrap(value)
			meta.Component = e.text(ref)
			if ref != nil && (ref.Kind() == "identifier" || ref.Kind() == "shorthand_property_identifier") {
				meta.ComponentPath = e.imports[meta.Component]
			}
		case "tags":
			tags, err := e.stringArray(value)
			if err != nil {
				return e.fail("meta tags: %v", err)
			}
			meta.Tags = tags
		case "parameters":
			meta.Parameters = asMap(parser.StaticValue(e.resolve(value), e.source))
		case "args":
			meta.Args = asMap(parser.StaticValue(e.resolve(value), e.source))
		case "argTypes":
			meta.ArgTypes = asMap(parser.StaticValue(e.resolve(value), e.source))
		case "decorators":
			meta.Decorators = asList(parser.StaticValue(value, e.source))
		case "loaders":
			meta.Loaders = asList(parser.StaticValue(value, e.source))
		case "play":
			meta.HasPlay = true
		case "render":
			meta.HasRender = true
		case "includeStories":
			f, err := parseExportFilter(e.resolve(value), e.source)
			if err != nil {
				return e.fail("includeStories: %v", err)
			}
			meta.IncludeStories = f
		case "excludeStories":
			f, err := parseExportFilter(e.resolve(value), e.source)
			if err != nil {
				return e.fail("excludeStories: %v", err)
			}
			meta.ExcludeStories = f
		}
		return nil
	})
}

func (e *extractor) parseStory(exp exportRef) (*Story, error) {
	story := &Story{
		ExportName: exp.name,
		LocalName:  exp.local,
		Line:       exp.line,
	}
	node := e.resolve(e.valueOf(exp))
	if node == nil {
		return story, nil
	}

	switch {
	case node.Kind() == "object":
		err := e.forEachProperty(node, func(key string, value *sitter.Node) error {
			return e.applyAnnotation(story, key, value, false)
		})
		if err != nil {
			return nil, err
		}
	case parser.IsFunction(node):
		story.HasRender = true
	case node.Kind() == "call_expression":
		// Template.bind({}) stories render through the bound template.
		if callee := node.ChildByFieldName("function"); callee != nil && callee.Kind() == "member_expression" {
			if e.text(callee.ChildByFieldName("property")) == "bind" {
				story.HasRender = true
			}
		}
	}
	return story, nil
}

// applyAnnotation records one story annotation, from either a CSF3 object key
// or a CSF2 `Story.key = value` assignment.
func (e *extractor) applyAnnotation(story *Story, key string, value *sitter.Node, assigned bool) error {
	switch key {
	case "name", "storyName":
		name, ok := parser.StringValue(e.resolve(value), e.source)
		if !ok {
			return e.fail("story %q has a dynamic name", story.ExportName)
		}
		if key == "name" || story.Name == "" || assigned {
			story.Name = name
		}
	case "args":
		story.Args = asMap(parser.StaticValue(e.resolve(value), e.source))
	case "argTypes":
		story.ArgTypes = asMap(parser.StaticValue(e.resolve(value), e.source))
	case "parameters":
		story.Parameters = asMap(parser.StaticValue(e.resolve(value), e.source))
	case "tags":
		tags, err := e.stringArray(value)
		if err != nil {
			return e.fail("story %q tags: %v", story.ExportName, err)
		}
		story.Tags = tags
	case "decorators":
		story.Decorators = asList(parser.StaticValue(value, e.source))
	case "loaders":
		story.Loaders = asList(parser.StaticValue(value, e.source))
	case "play":
		story.HasPlayFunction = true
	case "render":
		story.HasRender = true
	}
	return nil
}

func (e *extractor) stringArray(node *sitter.Node) ([]string, error) {
	node = e.resolve(node)
	if node == nil || node.Kind() != "array" {
		kind := "nothing"
		if node != nil {
			kind = node.Kind()
		}
		return nil, fmt.Errorf("expected an array of string literals, got %s", kind)
	}
	out := make([]string, 0, node.NamedChildCount())
	for _, el := range parser.NamedChildren(node) {
		s, ok := parser.StringValue(el, e.source)
		if !ok {
			return nil, fmt.Errorf("expected string literal, got %s", el.Kind())
		}
		out = append(out, s)
	}
	return out, nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	}
	return []any{v}
}
