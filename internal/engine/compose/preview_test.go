package compose

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storyindex/internal/channel"
	"storyindex/internal/core/errors"
	"storyindex/internal/engine/index"
	"storyindex/internal/engine/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mounts struct {
	mu  sync.Mutex
	ids []string
	out []any
}

func (m *mounts) mount(id string, rendered any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
	m.out = append(m.out, rendered)
}

func (m *mounts) snapshot() ([]string, []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...), append([]any(nil), m.out...)
}

type events struct {
	mu   sync.Mutex
	msgs []channel.Message
}

func (e *events) record(msg channel.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
}

func (e *events) of(event string) [][]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out [][]any
	for _, m := range e.msgs {
		if m.Type == event {
			out = append(out, m.Args)
		}
	}
	return out
}

type harness struct {
	preview  *Preview
	manager  *channel.Channel
	registry *Registry
	mounts   *mounts
	events   *events
}

func newHarness(t *testing.T, project *ProjectAnnotations, modules []*Module, entries ...*index.Entry) *harness {
	t.Helper()
	a, b := channel.NewMemoryPair()
	manager := channel.New(a, channel.WithID("manager"))
	previewCh := channel.New(b, channel.WithID("preview"))

	h := &harness{manager: manager, registry: NewRegistry(modules...), mounts: &mounts{}, events: &events{}}
	for _, ev := range []string{
		channel.SetGlobals, channel.StoryChanged, channel.StoryPrepared, channel.StoryRendered,
		channel.StoryErrored, channel.StoryMissing, channel.StoryArgsUpdated, channel.GlobalsUpdated,
		channel.PreviewKeydown,
	} {
		manager.On(ev, h.events.record)
	}

	h.preview = NewPreview(PreviewOptions{
		Channel:  previewCh,
		Project:  project,
		Importer: h.registry,
		Mount:    h.mounts.mount,
	})
	require.NoError(t, h.preview.Start(context.Background(), index.NewStoryIndex(entries)))
	t.Cleanup(func() {
		h.preview.Close()
		_ = manager.Close()
		_ = previewCh.Close()
	})
	return h
}

func entry(id, exportName string) *index.Entry {
	return &index.Entry{Type: index.TypeStory, ID: id, Name: exportName, Title: "A", ImportPath: "./A.stories.js", ExportName: exportName}
}

func TestPreview_StaleSelectionIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var renderMu sync.Mutex
	var rendered []string

	module := &Module{
		ImportPath: "./A.stories.js",
		Meta: ComponentAnnotations{Annotations: Annotations{
			Render: func(sc *pipeline.StoryContext) (any, error) {
				renderMu.Lock()
				rendered = append(rendered, sc.ID)
				renderMu.Unlock()
				return sc.Loaded["data"], nil
			},
		}},
		Stories: map[string]*StoryAnnotations{
			"Slow": {Annotations: Annotations{Loaders: []pipeline.Loader{
				func(ctx context.Context, sc *pipeline.StoryContext) (map[string]any, error) {
					close(started)
					<-release // ignores cancellation on purpose
					return map[string]any{"data": "slow"}, nil
				},
			}}},
			"Fast": {Annotations: Annotations{Loaders: []pipeline.Loader{
				func(ctx context.Context, sc *pipeline.StoryContext) (map[string]any, error) {
					return map[string]any{"data": "fast"}, nil
				},
			}}},
		},
	}
	h := newHarness(t, nil, []*Module{module}, entry("a--slow", "Slow"), entry("a--fast", "Fast"))

	slowDone := make(chan error, 1)
	go func() { slowDone <- h.preview.SelectStory(context.Background(), "a--slow", "") }()
	<-started

	require.NoError(t, h.preview.SelectStory(context.Background(), "a--fast", ""))
	close(release)
	select {
	case err := <-slowDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("slow selection never returned")
	}

	ids, out := h.mounts.snapshot()
	assert.Equal(t, []string{"a--fast"}, ids)
	assert.Equal(t, []any{"fast"}, out)
	renderMu.Lock()
	assert.Equal(t, []string{"a--fast"}, rendered)
	renderMu.Unlock()

	require.Eventually(t, func() bool { return len(h.events.of(channel.StoryRendered)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]any{{"a--fast"}}, h.events.of(channel.StoryRendered))
	assert.Equal(t, "a--fast", h.preview.CurrentStoryID())
}

func basicModule(label string) *Module {
	return &Module{
		ImportPath: "./A.stories.js",
		Meta: ComponentAnnotations{Annotations: Annotations{
			Args: map[string]any{"label": label},
			Render: func(sc *pipeline.StoryContext) (any, error) {
				return fmt.Sprintf("%v/%v", sc.Args["label"], sc.Globals["theme"]), nil
			},
		}},
		Stories: map[string]*StoryAnnotations{"Basic": {}},
	}
}

func TestPreview_ChannelDrivesSelectionAndArgs(t *testing.T) {
	project := &ProjectAnnotations{Globals: map[string]any{"theme": "light"}}
	h := newHarness(t, project, []*Module{basicModule("hi")}, entry("a--basic", "Basic"))

	require.Eventually(t, func() bool { return len(h.events.of(channel.SetGlobals)) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.manager.Emit(channel.SetCurrentStory, map[string]any{"storyId": "a--basic", "viewMode": "story"}))
	require.Eventually(t, func() bool { ids, _ := h.mounts.snapshot(); return len(ids) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.manager.Emit(channel.UpdateStoryArgs, map[string]any{"storyId": "a--basic", "updatedArgs": map[string]any{"label": "changed"}}))
	require.Eventually(t, func() bool { ids, _ := h.mounts.snapshot(); return len(ids) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.manager.Emit(channel.UpdateGlobals, map[string]any{"globals": map[string]any{"theme": "dark", "unknown": true}}))
	require.Eventually(t, func() bool { ids, _ := h.mounts.snapshot(); return len(ids) == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.manager.Emit(channel.ResetStoryArgs, map[string]any{"storyId": "a--basic"}))
	require.Eventually(t, func() bool { ids, _ := h.mounts.snapshot(); return len(ids) == 4 }, time.Second, 5*time.Millisecond)

	_, out := h.mounts.snapshot()
	assert.Equal(t, []any{"hi/light", "changed/light", "changed/dark", "hi/dark"}, out)

	require.Eventually(t, func() bool { return len(h.events.of(channel.GlobalsUpdated)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]any{{map[string]any{"globals": map[string]any{"theme": "dark"}}}}, h.events.of(channel.GlobalsUpdated))
	require.Eventually(t, func() bool { return len(h.events.of(channel.StoryArgsUpdated)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.events.of(channel.StoryChanged), 1)
	assert.Len(t, h.events.of(channel.StoryPrepared), 1)
}

func TestPreview_MissingStory(t *testing.T) {
	h := newHarness(t, nil, []*Module{basicModule("hi")}, entry("a--basic", "Basic"))

	err := h.preview.SelectStory(context.Background(), "nope--story", "")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	require.Eventually(t, func() bool { return len(h.events.of(channel.StoryMissing)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "", h.preview.CurrentStoryID())
}

func TestPreview_ErrorIsSurfacedNotThrown(t *testing.T) {
	module := basicModule("hi")
	module.Stories["Broken"] = &StoryAnnotations{Annotations: Annotations{Loaders: []pipeline.Loader{
		func(context.Context, *pipeline.StoryContext) (map[string]any, error) { return nil, stderrors.New("api down") },
	}}}
	h := newHarness(t, nil, []*Module{module}, entry("a--basic", "Basic"), entry("a--broken", "Broken"))

	err := h.preview.SelectStory(context.Background(), "a--broken", "")
	var se *StoryError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, pipeline.PhaseLoader, se.Phase)

	require.Eventually(t, func() bool { return len(h.events.of(channel.StoryErrored)) == 1 }, time.Second, 5*time.Millisecond)
	ids, _ := h.mounts.snapshot()
	assert.Empty(t, ids)

	// A sibling story is unaffected.
	require.NoError(t, h.preview.SelectStory(context.Background(), "a--basic", ""))
	ids, _ = h.mounts.snapshot()
	assert.Equal(t, []string{"a--basic"}, ids)
}

func TestPreview_HotReloadReprepares(t *testing.T) {
	h := newHarness(t, nil, []*Module{basicModule("v1")}, entry("a--basic", "Basic"))
	require.NoError(t, h.preview.SelectStory(context.Background(), "a--basic", ""))

	h.registry.Set(basicModule("v2"))
	require.NoError(t, h.preview.ModuleChanged(context.Background(), "./A.stories.js"))
	require.NoError(t, h.preview.ModuleChanged(context.Background(), "./Other.stories.js"))

	_, out := h.mounts.snapshot()
	assert.Equal(t, []any{"v1/<nil>", "v2/<nil>"}, out)
}

func TestPreview_SetIndex(t *testing.T) {
	h := newHarness(t, nil, []*Module{basicModule("hi")}, entry("a--basic", "Basic"))
	require.NoError(t, h.preview.SelectStory(context.Background(), "a--basic", ""))
	before := h.preview.Generation()

	require.NoError(t, h.preview.SetIndex(context.Background(), index.NewStoryIndex([]*index.Entry{entry("a--basic", "Basic")})))
	assert.Equal(t, before, h.preview.Generation(), "unchanged entry does not re-render")

	require.NoError(t, h.preview.SetIndex(context.Background(), index.NewStoryIndex(nil)))
	require.Eventually(t, func() bool { return len(h.events.of(channel.StoryMissing)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "", h.preview.CurrentStoryID())
}

func TestPreview_Keydown(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.preview.Keydown(map[string]any{"key": "k", "ctrlKey": true}))
	require.Eventually(t, func() bool { return len(h.events.of(channel.PreviewKeydown)) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPreview_IgnoresGlobalsFromUnexpectedSender(t *testing.T) {
	a, b := channel.NewMemoryPair()
	previewCh := channel.New(b, channel.WithID("preview"))
	defer previewCh.Close()

	project := &ProjectAnnotations{
		Globals:     map[string]any{"theme": "light"},
		GlobalTypes: map[string]map[string]any{"locale": {"defaultValue": "en"}},
	}
	p := NewPreview(PreviewOptions{Channel: previewCh, Project: project, Importer: NewRegistry()})
	require.NoError(t, p.Start(context.Background(), index.NewStoryIndex(nil)))

	require.NoError(t, a.Send(channel.Message{
		Type: channel.UpdateGlobals,
		Args: []any{map[string]any{"globals": map[string]any{"theme": "dark"}}},
		From: "rogue-iframe",
	}))
	require.NoError(t, a.Send(channel.Message{
		Type: channel.UpdateGlobals,
		Args: []any{map[string]any{"globals": map[string]any{"locale": "fr"}}},
		From: channel.ManagerSender,
	}))
	require.Eventually(t, func() bool { return p.Globals.Get()["locale"] == "fr" }, time.Second, 5*time.Millisecond)

	p.Close()
	assert.Equal(t, map[string]any{"theme": "light", "locale": "fr"}, p.Globals.Get())
}
