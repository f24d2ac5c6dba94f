package compose

import (
	"fmt"
	"maps"
	"reflect"
	"regexp"

	"storyindex/internal/core/errors"
	"storyindex/internal/engine/csf"
	"storyindex/internal/engine/index"
	"storyindex/internal/engine/pipeline"
	"storyindex/internal/shared/util"
)

// PreparedStory is a story with every level's annotations resolved.
type PreparedStory struct {
	ID         string
	Name       string
	Title      string
	ImportPath string
	ExportName string
	Tags       []string

	Parameters  map[string]any
	InitialArgs map[string]any
	ArgTypes    map[string]map[string]any

	// Decorators are ordered story, component, project; index 0 is innermost.
	Decorators []pipeline.Decorator
	// LoaderLevels are project, component, story.
	LoaderLevels [][]pipeline.Loader
	Render       pipeline.RenderFn
	Play         PlayFn

	decorated pipeline.RenderFn
}

// Prepare merges the three annotation levels for entry. Story values win over
// component values, which win over project values.
func Prepare(project *ProjectAnnotations, component *ComponentAnnotations, story *StoryAnnotations, entry *index.Entry) (*PreparedStory, error) {
	if entry == nil {
		return nil, errors.New(errors.CodeValidationError, "prepare requires an index entry")
	}
	if story == nil {
		return nil, errors.AddContext(
			errors.New(errors.CodeNotFound, fmt.Sprintf("export %q not found in %s", entry.ExportName, entry.ImportPath)),
			errors.CtxStoryID, entry.ID,
		)
	}
	if project == nil {
		project = &ProjectAnnotations{}
	}
	if component == nil {
		component = &ComponentAnnotations{}
	}

	additive := make(map[string]bool, len(project.AdditiveParameters))
	for _, k := range project.AdditiveParameters {
		additive[k] = true
	}
	params := util.DeepMerge(additive,
		map[string]any{"fileName": entry.ImportPath},
		project.Parameters, component.Parameters, story.Parameters,
	)

	args := make(map[string]any)
	for _, level := range []map[string]any{project.Args, component.Args, story.Args} {
		maps.Copy(args, level)
	}

	name := story.Name
	if name == "" {
		name = entry.Name
	}
	title := entry.Title
	if title == "" {
		title = component.Title
	}

	render := story.Render
	if render == nil {
		render = component.Render
	}
	if render == nil {
		render = project.Render
	}
	play := story.Play
	if play == nil {
		play = component.Play
	}

	decorators := make([]pipeline.Decorator, 0, len(story.Decorators)+len(component.Decorators)+len(project.Decorators))
	decorators = append(decorators, story.Decorators...)
	decorators = append(decorators, component.Decorators...)
	decorators = append(decorators, project.Decorators...)

	p := &PreparedStory{
		ID:          entry.ID,
		Name:        name,
		Title:       title,
		ImportPath:  entry.ImportPath,
		ExportName:  entry.ExportName,
		Tags:        csf.CombineTags(csf.DefaultTags, project.Tags, component.Tags, story.Tags),
		Parameters:  params,
		InitialArgs: args,
		ArgTypes:    resolveArgTypes(args, project.ArgTypes, component.ArgTypes, story.ArgTypes),
		Decorators:  decorators,
		LoaderLevels: [][]pipeline.Loader{
			append([]pipeline.Loader(nil), project.Loaders...),
			append([]pipeline.Loader(nil), component.Loaders...),
			append([]pipeline.Loader(nil), story.Loaders...),
		},
		Render: render,
		Play:   play,
	}
	p.decorated = pipeline.ApplyDecorators(render, decorators)
	return p, nil
}

// Context builds a fresh render context for the current args and globals.
func (p *PreparedStory) Context(args, globals map[string]any, viewMode string) *pipeline.StoryContext {
	if args == nil {
		args = maps.Clone(p.InitialArgs)
	}
	return &pipeline.StoryContext{
		ID:         p.ID,
		Name:       p.Name,
		Title:      p.Title,
		ViewMode:   viewMode,
		Tags:       p.Tags,
		Args:       args,
		ArgTypes:   p.ArgTypes,
		Globals:    globals,
		Parameters: p.Parameters,
		Loaded:     map[string]any{},
	}
}

// StoryFn is the render function wrapped in its decorators.
func (p *PreparedStory) StoryFn() pipeline.RenderFn {
	return p.decorated
}

// resolveArgTypes merges declared argTypes per key and infers type and
// control for args that have no declaration.
func resolveArgTypes(args map[string]any, levels ...map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, level := range levels {
		for k, v := range level {
			out[k] = util.DeepMerge(nil, out[k], v)
		}
	}
	for k, v := range args {
		out[k] = util.DeepMerge(nil, inferArgType(k, v), out[k])
	}
	for k, at := range out {
		if _, ok := at["name"]; !ok {
			at["name"] = k
		}
	}
	return out
}

var actionArg = regexp.MustCompile(`^on[A-Z].*`)

func inferArgType(name string, v any) map[string]any {
	t := inferType(v, 0)
	at := map[string]any{"name": name, "type": t}
	switch t["name"] {
	case "boolean":
		at["control"] = map[string]any{"type": "boolean"}
	case "number":
		at["control"] = map[string]any{"type": "number"}
	case "string":
		at["control"] = map[string]any{"type": "text"}
	case "array", "object":
		at["control"] = map[string]any{"type": "object"}
	case "function":
		if actionArg.MatchString(name) {
			at["action"] = name
		}
	}
	return at
}

const maxInferDepth = 4

func inferType(v any, depth int) map[string]any {
	if v == nil {
		return map[string]any{"name": "other", "value": "null"}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return map[string]any{"name": "boolean"}
	case reflect.String:
		return map[string]any{"name": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return map[string]any{"name": "number"}
	case reflect.Func:
		return map[string]any{"name": "function"}
	case reflect.Slice, reflect.Array:
		elem := map[string]any{"name": "other", "value": "unknown"}
		if rv.Len() > 0 && depth < maxInferDepth {
			elem = inferType(rv.Index(0).Interface(), depth+1)
		}
		return map[string]any{"name": "array", "value": elem}
	case reflect.Map:
		fields := make(map[string]any)
		if depth < maxInferDepth && rv.Type().Key().Kind() == reflect.String {
			iter := rv.MapRange()
			for iter.Next() {
				fields[iter.Key().String()] = inferType(iter.Value().Interface(), depth+1)
			}
		}
		return map[string]any{"name": "object", "value": fields}
	}
	return map[string]any{"name": "other", "value": rv.Kind().String()}
}
