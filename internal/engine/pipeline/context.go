// Package pipeline wraps a story's render function in its decorator chain and
// runs its loaders.
package pipeline

import "maps"

// StoryContext is what decorators, loaders and render functions receive.
type StoryContext struct {
	ID         string
	Name       string
	Title      string
	ViewMode   string
	Tags       []string
	Args       map[string]any
	ArgTypes   map[string]map[string]any
	Globals    map[string]any
	Parameters map[string]any

	// Loaded holds the merged loader results.
	Loaded map[string]any
}

// ContextUpdate is what a decorator may pass to the inner story. Non-nil
// fields replace the corresponding field of the context.
type ContextUpdate struct {
	Args       map[string]any
	Globals    map[string]any
	Parameters map[string]any
	Loaded     map[string]any
}

// Clone returns a shallow copy with its maps copied one level deep.
func (c *StoryContext) Clone() *StoryContext {
	if c == nil {
		return &StoryContext{}
	}
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	out.Args = maps.Clone(c.Args)
	out.ArgTypes = maps.Clone(c.ArgTypes)
	out.Globals = maps.Clone(c.Globals)
	out.Parameters = maps.Clone(c.Parameters)
	out.Loaded = maps.Clone(c.Loaded)
	return &out
}

func (c *StoryContext) apply(u *ContextUpdate) *StoryContext {
	if u == nil {
		return c
	}
	out := *c
	if u.Args != nil {
		out.Args = u.Args
	}
	if u.Globals != nil {
		out.Globals = u.Globals
	}
	if u.Parameters != nil {
		out.Parameters = u.Parameters
	}
	if u.Loaded != nil {
		out.Loaded = u.Loaded
	}
	return &out
}
