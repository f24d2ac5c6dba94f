// Package csf extracts Component Story Format metadata from parsed story
// files without executing them.
package csf

import (
	"storyindex/internal/engine/parser"
)

// MetaShape tags how the default export was written. Only ObjectLiteral is
// indexable.
type MetaShape int

const (
	MetaMissing MetaShape = iota
	MetaObjectLiteral
	MetaUnrecognized
)

func (s MetaShape) String() string {
	switch s {
	case MetaObjectLiteral:
		return "object-literal"
	case MetaUnrecognized:
		return "unrecognized"
	}
	return "missing"
}

// Meta is the default export of a story file.
type Meta struct {
	Title         string
	TitleExplicit bool
	ID            string
	Component     string
	ComponentPath string
	Tags          []string
	Parameters    map[string]any
	Args          map[string]any
	ArgTypes      map[string]any
	Decorators    []any
	Loaders       []any
	HasPlay       bool
	HasRender     bool

	IncludeStories *ExportFilter
	ExcludeStories *ExportFilter
}

// Story is one named export.
type Story struct {
	ExportName      string
	LocalName       string
	ID              string
	Name            string
	Parameters      map[string]any
	Args            map[string]any
	ArgTypes        map[string]any
	Tags            []string
	Decorators      []any
	Loaders         []any
	HasPlayFunction bool
	HasRender       bool
	// Template is set for exports that are not standalone stories: excluded
	// by includeStories/excludeStories, or left out of __namedExportsOrder.
	Template bool
	Line     int
}

// StoryFile is the extracted description of one CSF file.
type StoryFile struct {
	Path              string
	Meta              Meta
	MetaShape         MetaShape
	Stories           []*Story
	NamedExportsOrder []string
	Imports           map[string]string
}

// Story returns the story exported as exportName, or nil.
func (f *StoryFile) Story(exportName string) *Story {
	for _, s := range f.Stories {
		if s.ExportName == exportName {
			return s
		}
	}
	return nil
}

// IndexableStories returns the non-template stories in display order.
func (f *StoryFile) IndexableStories() []*Story {
	out := make([]*Story, 0, len(f.Stories))
	for _, s := range f.Stories {
		if !s.Template {
			out = append(out, s)
		}
	}
	return out
}

// ComponentID is the id prefix shared by every story in the file.
func (f *StoryFile) ComponentID() string {
	if f.Meta.ID != "" {
		return f.Meta.ID
	}
	return f.Meta.Title
}

// Options controls title resolution. MakeTitle receives the explicit
// meta.title ("" when absent) and returns the resolved title.
type Options struct {
	MakeTitle func(userTitle string) string
}

// StripRefs removes FunctionRef/ExprRef values, leaving the indexable,
// JSON-only subset of a parameters map.
func StripRefs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if cleaned, ok := stripValue(v); ok {
			out[k] = cleaned
		}
	}
	return out
}

func stripValue(v any) (any, bool) {
	if parser.IsRef(v) {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return StripRefs(t), true
	case []any:
		out := make([]any, 0, len(t))
		for _, el := range t {
			if cleaned, ok := stripValue(el); ok {
				out = append(out, cleaned)
			}
		}
		return out, true
	}
	return v, true
}
