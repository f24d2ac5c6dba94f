package csf

import (
	"fmt"
	"regexp"
	"strings"

	"storyindex/internal/engine/parser"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// ExportFilter is an includeStories/excludeStories value: a list of export
// names or a regular expression.
type ExportFilter struct {
	Names   []string
	Pattern *regexp.Regexp
}

func (f *ExportFilter) Matches(key string) bool {
	if f == nil {
		return false
	}
	if f.Pattern != nil {
		return f.Pattern.MatchString(key)
	}
	for _, name := range f.Names {
		if name == key {
			return true
		}
	}
	return false
}

// IsExportStory reports whether a named export is a story under the file's
// include/exclude filters.
func IsExportStory(key string, include, exclude *ExportFilter) bool {
	if key == "__esModule" {
		return false
	}
	if include != nil && !include.Matches(key) {
		return false
	}
	if exclude != nil && exclude.Matches(key) {
		return false
	}
	return true
}

func parseExportFilter(node *sitter.Node, source []byte) (*ExportFilter, error) {
	node = parser.Unwrap(node)
	if node == nil {
		return nil, nil
	}
	switch node.Kind() {
	case "array":
		f := &ExportFilter{}
		for _, el := range parser.NamedChildren(node) {
			s, ok := parser.StringValue(el, source)
			if !ok {
				return nil, fmt.Errorf("expected string literal in story filter, got %s", el.Kind())
			}
			f.Names = append(f.Names, s)
		}
		return f, nil
	case "string", "template_string":
		s, ok := parser.StringValue(node, source)
		if !ok {
			return nil, fmt.Errorf("dynamic story filter is not supported")
		}
		return &ExportFilter{Names: []string{s}}, nil
	case "regex":
		pattern := parser.NodeText(node.ChildByFieldName("pattern"), source)
		flags := parser.NodeText(node.ChildByFieldName("flags"), source)
		if strings.Contains(flags, "i") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("unsupported story filter pattern: %w", err)
		}
		return &ExportFilter{Pattern: re}, nil
	}
	return nil, fmt.Errorf("unsupported story filter of type %s", node.Kind())
}
