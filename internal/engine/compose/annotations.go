// Package compose resolves project, component and story annotations into a
// prepared story and drives its render lifecycle in the preview.
package compose

import (
	"context"

	"storyindex/internal/engine/pipeline"
)

// PlayFn runs interactions after a story rendered.
type PlayFn func(ctx context.Context, sc *pipeline.StoryContext) error

// Annotations are the fields every level may set.
type Annotations struct {
	Parameters map[string]any
	Args       map[string]any
	ArgTypes   map[string]map[string]any
	Decorators []pipeline.Decorator
	Loaders    []pipeline.Loader
	Tags       []string
	Render     pipeline.RenderFn
	Play       PlayFn
}

// ProjectAnnotations come from the preview configuration.
type ProjectAnnotations struct {
	Annotations
	Globals     map[string]any
	GlobalTypes map[string]map[string]any

	// AdditiveParameters are parameter keys whose arrays concatenate across
	// levels instead of being replaced.
	AdditiveParameters []string
}

// ComponentAnnotations are a story file's default export.
type ComponentAnnotations struct {
	Annotations
	ID        string
	Title     string
	Component any
}

// StoryAnnotations are one named export.
type StoryAnnotations struct {
	Annotations
	Name string
}

// Module is the live form of one story file.
type Module struct {
	ImportPath string
	Meta       ComponentAnnotations
	Stories    map[string]*StoryAnnotations
}
