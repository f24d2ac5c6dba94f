package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"storyindex/internal/core/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagger(name string, calls *[]string) Decorator {
	return func(story StoryFn, ctx *StoryContext) (any, error) {
		*calls = append(*calls, name)
		out, err := story()
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("%s(%v)", name, out), nil
	}
}

func TestApplyDecorators_Order(t *testing.T) {
	var calls []string
	render := func(ctx *StoryContext) (any, error) { return "story", nil }

	// story, component, project: index 0 is innermost.
	fn := ApplyDecorators(render, []Decorator{
		tagger("story", &calls),
		tagger("component", &calls),
		tagger("project", &calls),
	})
	out, err := fn(&StoryContext{ID: "a--b"})
	require.NoError(t, err)
	assert.Equal(t, "project(component(story(story)))", out)
	assert.Equal(t, []string{"project", "component", "story"}, calls)
}

func TestApplyDecorators_ContextUpdate(t *testing.T) {
	render := func(ctx *StoryContext) (any, error) { return ctx.Args["label"], nil }
	override := func(story StoryFn, ctx *StoryContext) (any, error) {
		return story(ContextUpdate{Args: map[string]any{"label": "from decorator"}})
	}

	ctx := &StoryContext{ID: "a--b", Args: map[string]any{"label": "original"}}
	out, err := ApplyDecorators(render, []Decorator{override})(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from decorator", out)
	assert.Equal(t, "original", ctx.Args["label"])
}

func TestApplyDecorators_ShortCircuit(t *testing.T) {
	rendered := false
	render := func(ctx *StoryContext) (any, error) { rendered = true; return "story", nil }
	var calls []string
	guard := func(story StoryFn, ctx *StoryContext) (any, error) { return "blocked", nil }

	out, err := ApplyDecorators(render, []Decorator{tagger("inner", &calls), guard})(&StoryContext{})
	require.NoError(t, err)
	assert.Equal(t, "blocked", out)
	assert.False(t, rendered)
	assert.Empty(t, calls)
}

func TestApplyDecorators_Errors(t *testing.T) {
	render := func(ctx *StoryContext) (any, error) { return "story", nil }

	t.Run("decorator error", func(t *testing.T) {
		bad := func(story StoryFn, ctx *StoryContext) (any, error) { return nil, stderrors.New("nope") }
		_, err := ApplyDecorators(render, []Decorator{bad})(&StoryContext{ID: "x--y"})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeDecorator))
		de, _ := errors.As(err)
		assert.Equal(t, "x--y", de.ContextString(errors.CtxStoryID))
		assert.Equal(t, PhaseDecorator, de.ContextString(errors.CtxPhase))
	})

	t.Run("decorator panic", func(t *testing.T) {
		bad := func(story StoryFn, ctx *StoryContext) (any, error) { panic("kaboom") }
		_, err := ApplyDecorators(render, []Decorator{bad})(&StoryContext{ID: "x--y"})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeDecorator))
		assert.Contains(t, err.Error(), "kaboom")
	})

	t.Run("render error passes through decorators", func(t *testing.T) {
		failing := func(ctx *StoryContext) (any, error) { return nil, stderrors.New("render broke") }
		var calls []string
		_, err := ApplyDecorators(failing, []Decorator{tagger("outer", &calls)})(&StoryContext{ID: "x--y"})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeRender))
	})

	t.Run("missing render", func(t *testing.T) {
		_, err := ApplyDecorators(nil, nil)(&StoryContext{ID: "x--y"})
		assert.True(t, errors.IsCode(err, errors.CodeRender))
	})
}

func TestMakeDecorator(t *testing.T) {
	render := func(ctx *StoryContext) (any, error) { return "story", nil }
	var seen []Settings
	factory := MakeDecorator(DecoratorOptions{
		Name:                        "withBackground",
		ParameterName:               "background",
		SkipIfNoParametersOrOptions: true,
		Wrapper: func(story StoryFn, ctx *StoryContext, s Settings) (any, error) {
			seen = append(seen, s)
			out, err := story()
			return "bg:" + out.(string), err
		},
	})

	run := func(params map[string]any, options any) any {
		out, err := ApplyDecorators(render, []Decorator{factory(options)})(&StoryContext{Parameters: params})
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, "story", run(nil, nil), "no parameters and no options skips")
	assert.Equal(t, "bg:story", run(nil, "red"))
	assert.Equal(t, "bg:story", run(map[string]any{"background": map[string]any{"color": "blue"}}, nil))
	assert.Equal(t, "story", run(map[string]any{"background": map[string]any{"disable": true}}, "red"))
	require.Len(t, seen, 2)
	assert.Equal(t, "red", seen[0].Options)
	assert.Equal(t, map[string]any{"color": "blue"}, seen[1].Parameters)
}

func TestMakeDecorator_AlwaysRunsWithoutSkipFlag(t *testing.T) {
	render := func(ctx *StoryContext) (any, error) { return "story", nil }
	calls := 0
	d := MakeDecorator(DecoratorOptions{
		ParameterName: "layout",
		Wrapper: func(story StoryFn, ctx *StoryContext, s Settings) (any, error) {
			calls++
			return story()
		},
	})(nil)
	_, err := ApplyDecorators(render, []Decorator{d})(&StoryContext{})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunLoaders_LevelsSeeOuterResults(t *testing.T) {
	project := func(ctx context.Context, sc *StoryContext) (map[string]any, error) {
		return map[string]any{"x": 1}, nil
	}
	story := func(ctx context.Context, sc *StoryContext) (map[string]any, error) {
		return map[string]any{"y": sc.Loaded["x"].(int) + 1}, nil
	}

	sc := &StoryContext{ID: "a--b"}
	require.NoError(t, RunLoaders(context.Background(), [][]Loader{{project}, nil, {story}}, sc))
	assert.Equal(t, 2, sc.Loaded["y"])
	assert.Equal(t, 1, sc.Loaded["x"])
}

func TestRunLoaders_ConcurrentWithinLevelMergedInOrder(t *testing.T) {
	var running, peak atomic.Int32
	slow := func(v string, d time.Duration) Loader {
		return func(ctx context.Context, sc *StoryContext) (map[string]any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(d)
			running.Add(-1)
			return map[string]any{"key": v, v: true}, nil
		}
	}

	sc := &StoryContext{}
	err := RunLoaders(context.Background(), [][]Loader{{slow("first", 40*time.Millisecond), slow("second", 5*time.Millisecond)}}, sc)
	require.NoError(t, err)
	assert.Equal(t, "second", sc.Loaded["key"], "later declarations win regardless of finish order")
	assert.Equal(t, int32(2), peak.Load())
}

func TestRunLoaders_Failure(t *testing.T) {
	ran := false
	bad := func(ctx context.Context, sc *StoryContext) (map[string]any, error) { return nil, stderrors.New("fetch failed") }
	next := func(ctx context.Context, sc *StoryContext) (map[string]any, error) { ran = true; return nil, nil }

	sc := &StoryContext{ID: "a--b"}
	err := RunLoaders(context.Background(), [][]Loader{{bad}, {next}}, sc)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeLoader))
	assert.True(t, strings.Contains(err.Error(), "fetch failed"))
	assert.False(t, ran)
}

func TestRunLoaders_Panic(t *testing.T) {
	bad := func(ctx context.Context, sc *StoryContext) (map[string]any, error) { panic("loader exploded") }
	err := RunLoaders(context.Background(), [][]Loader{{bad}}, &StoryContext{})
	assert.True(t, errors.IsCode(err, errors.CodeLoader))
}

func TestRunLoaders_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	blocking := func(ctx context.Context, sc *StoryContext) (map[string]any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := func(ctx context.Context, sc *StoryContext) (map[string]any, error) { ran = true; return nil, nil }

	err := RunLoaders(ctx, [][]Loader{{blocking}, {next}}, &StoryContext{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsCode(err, errors.CodeLoader))
	assert.False(t, ran)
}
