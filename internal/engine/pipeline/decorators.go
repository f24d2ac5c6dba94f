package pipeline

import (
	"fmt"

	"storyindex/internal/core/errors"
)

const (
	PhaseLoader    = "loader"
	PhaseDecorator = "decorator"
	PhaseRender    = "render"
)

// RenderFn renders a story for a context. The returned value is opaque to the
// pipeline and is handed to whatever mounts it.
type RenderFn func(ctx *StoryContext) (any, error)

// StoryFn is the next inner layer as seen by a decorator. An update, when
// given, replaces fields of the context passed inward.
type StoryFn func(update ...ContextUpdate) (any, error)

type Decorator func(story StoryFn, ctx *StoryContext) (any, error)

// ApplyDecorators returns render wrapped so that decorators[0] is innermost
// and the last decorator is outermost. Decorators run outermost first; one
// that never calls its story short-circuits everything inside it.
func ApplyDecorators(render RenderFn, decorators []Decorator) RenderFn {
	fn := guardRender(render)
	for _, d := range decorators {
		fn = wrap(fn, d)
	}
	return fn
}

func wrap(inner RenderFn, d Decorator) RenderFn {
	return func(ctx *StoryContext) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.NewStoryPhaseError(errors.CodeDecorator, ctx.ID, PhaseDecorator, fmt.Errorf("panic: %v", r))
			}
		}()
		story := func(update ...ContextUpdate) (any, error) {
			next := ctx
			for i := range update {
				next = next.apply(&update[i])
			}
			return inner(next)
		}
		out, err = d(story, ctx)
		if err != nil {
			err = asPhaseError(err, ctx.ID, errors.CodeDecorator, PhaseDecorator)
		}
		return out, err
	}
}

func guardRender(render RenderFn) RenderFn {
	return func(ctx *StoryContext) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.NewStoryPhaseError(errors.CodeRender, ctx.ID, PhaseRender, fmt.Errorf("panic: %v", r))
			}
		}()
		if render == nil {
			return nil, errors.NewStoryPhaseError(errors.CodeRender, ctx.ID, PhaseRender, fmt.Errorf("no render function"))
		}
		out, err = render(ctx)
		if err != nil {
			err = asPhaseError(err, ctx.ID, errors.CodeRender, PhaseRender)
		}
		return out, err
	}
}

// asPhaseError keeps errors raised further in unchanged so the phase that
// failed first is the one reported.
func asPhaseError(err error, storyID string, code errors.ErrorCode, phase string) error {
	if de, ok := errors.As(err); ok && de.ContextString(errors.CtxPhase) != "" {
		return err
	}
	return errors.NewStoryPhaseError(code, storyID, phase, err)
}

// Settings is what a MakeDecorator wrapper receives.
type Settings struct {
	Options    any
	Parameters any
}

type DecoratorOptions struct {
	Name string
	// ParameterName is the key under parameters the decorator reads.
	ParameterName               string
	SkipIfNoParametersOrOptions bool
	Wrapper                     func(story StoryFn, ctx *StoryContext, s Settings) (any, error)
}

// DecoratorFactory builds a decorator, optionally bound to options.
type DecoratorFactory func(options any) Decorator

// MakeDecorator builds a parameter-gated decorator. It passes through when
// the parameter namespace holds disable: true, or when it declares
// SkipIfNoParametersOrOptions and neither options nor parameters are set.
func MakeDecorator(opts DecoratorOptions) DecoratorFactory {
	return func(options any) Decorator {
		return func(story StoryFn, ctx *StoryContext) (any, error) {
			params, hasParams := ctx.Parameters[opts.ParameterName]
			if hasParams && params == nil {
				hasParams = false
			}
			if m, ok := params.(map[string]any); ok {
				if disable, _ := m["disable"].(bool); disable {
					return story()
				}
			}
			if opts.SkipIfNoParametersOrOptions && options == nil && !hasParams {
				return story()
			}
			if opts.Wrapper == nil {
				return story()
			}
			return opts.Wrapper(story, ctx, Settings{Options: options, Parameters: params})
		}
	}
}
