package index

import (
	"reflect"
	"strings"
)

// Summary is a count view over an index.
type Summary struct {
	StoryCount      int `json:"storyCount"`
	DocsPageCount   int `json:"docsPageCount"`
	MDXCount        int `json:"mdxCount"`
	StoriesMDXCount int `json:"storiesMdxCount"`
	ComponentCount  int `json:"componentCount"`
	AutodocsCount   int `json:"autodocsCount"`
	PlayStoryCount  int `json:"playStoryCount"`
}

// Summarize counts entries. Standalone docs are MDX pages, attached docs
// living in an .mdx file are stories-MDX pages, every other docs entry is a
// docs page. Only generated docs pages count as autodocs.
func Summarize(idx *StoryIndex) Summary {
	var s Summary
	if idx == nil {
		return s
	}
	components := make(map[string]bool)
	for _, e := range idx.Entries {
		switch e.Type {
		case TypeStory:
			s.StoryCount++
			components[e.Title] = true
			if e.HasTag(TagPlayFn) {
				s.PlayStoryCount++
			}
		case TypeDocs:
			switch {
			case e.IsStandalone():
				s.MDXCount++
			case strings.HasSuffix(e.ImportPath, ".mdx"):
				s.StoriesMDXCount++
			default:
				s.DocsPageCount++
			}
			if isAutodocs(e) {
				s.AutodocsCount++
			}
		}
	}
	s.ComponentCount = len(components)
	return s
}

// Delta lists entry ids that differ between two indexes.
type Delta struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares prev and next. Added and Changed follow next's order,
// Removed follows prev's.
func Diff(prev, next *StoryIndex) Delta {
	before := make(map[string]*Entry)
	if prev != nil {
		for _, e := range prev.Entries {
			before[e.ID] = e
		}
	}
	var d Delta
	seen := make(map[string]bool)
	if next != nil {
		for _, e := range next.Entries {
			seen[e.ID] = true
			old, ok := before[e.ID]
			switch {
			case !ok:
				d.Added = append(d.Added, e.ID)
			case !reflect.DeepEqual(old, e):
				d.Changed = append(d.Changed, e.ID)
			}
		}
	}
	if prev != nil {
		for _, e := range prev.Entries {
			if !seen[e.ID] {
				d.Removed = append(d.Removed, e.ID)
			}
		}
	}
	return d
}

// IDs lists entry ids in index order.
func (idx *StoryIndex) IDs() []string {
	if idx == nil {
		return nil
	}
	out := make([]string, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		out = append(out, e.ID)
	}
	return out
}
