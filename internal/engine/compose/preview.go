package compose

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"storyindex/internal/channel"
	"storyindex/internal/core/errors"
	"storyindex/internal/engine/index"
)

const (
	ViewModeStory = "story"
	ViewModeDocs  = "docs"
)

// MountFn shows a rendered story. It is called with the preview locked and
// must not call back into the Preview.
type MountFn func(storyID string, rendered any)

type PreviewOptions struct {
	Channel  *channel.Channel
	Project  *ProjectAnnotations
	Importer Importer
	Mount    MountFn
	// GlobalsSenders lists the sender ids allowed to update globals.
	// Defaults to the manager and the hub.
	GlobalsSenders []string
}

// Preview selects, prepares and renders stories in response to channel
// events. Every selection or re-render starts a new generation; results of
// older generations are dropped.
type Preview struct {
	ch       *channel.Channel
	project  *ProjectAnnotations
	importer Importer
	mount    MountFn
	trusted  map[string]bool

	Args    *ArgsStore
	Globals *GlobalsStore

	mu         sync.Mutex
	index      *index.StoryIndex
	generation uint64
	cancel     context.CancelFunc
	current    *StoryRender
	viewMode   string

	wg   sync.WaitGroup
	offs []func()
}

func NewPreview(opts PreviewOptions) *Preview {
	project := opts.Project
	if project == nil {
		project = &ProjectAnnotations{}
	}
	mount := opts.Mount
	if mount == nil {
		mount = func(string, any) {}
	}
	senders := opts.GlobalsSenders
	if len(senders) == 0 {
		senders = []string{channel.ManagerSender, channel.HubSender}
	}
	trusted := make(map[string]bool, len(senders))
	for _, id := range senders {
		trusted[id] = true
	}
	return &Preview{
		ch:       opts.Channel,
		project:  project,
		importer: opts.Importer,
		mount:    mount,
		trusted:  trusted,
		Args:     NewArgsStore(),
		Globals:  NewGlobalsStore(project.Globals, project.GlobalTypes),
		viewMode: ViewModeStory,
	}
}

// Start installs idx, subscribes to manager events and announces globals.
func (p *Preview) Start(ctx context.Context, idx *index.StoryIndex) error {
	p.mu.Lock()
	p.index = idx
	p.mu.Unlock()

	if p.ch != nil {
		p.offs = append(p.offs,
			p.ch.On(channel.SetCurrentStory, p.async(ctx, p.onSetCurrentStory)),
			p.ch.On(channel.UpdateStoryArgs, p.async(ctx, p.onUpdateStoryArgs)),
			p.ch.On(channel.ResetStoryArgs, p.async(ctx, p.onResetStoryArgs)),
			p.ch.On(channel.UpdateGlobals, p.async(ctx, p.onUpdateGlobals)),
			p.ch.On(channel.ForceReRender, p.async(ctx, func(ctx context.Context, _ channel.Message) {
				_ = p.ForceReRender(ctx)
			})),
			p.ch.On(channel.SetGlobals, func(msg channel.Message) {
				slog.Warn("ignoring channel event", "event", msg.Type, "from", msg.From,
					"error", errors.NewChannelProtocolWarning("set-globals is only sent by the preview"))
			}),
		)
	}
	return p.emit(channel.SetGlobals, map[string]any{
		"globals":     p.Globals.Get(),
		"globalTypes": p.project.GlobalTypes,
	})
}

// async runs handlers off the channel's dispatch goroutine so a slow loader
// never delays the next event.
func (p *Preview) async(ctx context.Context, fn func(context.Context, channel.Message)) channel.Listener {
	return func(msg channel.Message) {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			fn(ctx, msg)
		}()
	}
}

// Close unsubscribes, cancels work in flight and waits for handlers.
func (p *Preview) Close() {
	for _, off := range p.offs {
		off()
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Preview) emit(event string, args ...any) error {
	if p.ch == nil {
		return nil
	}
	if err := p.ch.Emit(event, args...); err != nil {
		slog.Warn("failed to emit channel event", "event", event, "error", err)
		return err
	}
	return nil
}

// Generation returns the current preparation generation.
func (p *Preview) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// CurrentStoryID returns the selected story id, or "".
func (p *Preview) CurrentStoryID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.Entry() == nil {
		return ""
	}
	return p.current.Entry().ID
}

// begin starts a new generation and cancels the previous one. Callers hold
// p.mu.
func (p *Preview) begin(ctx context.Context) (context.Context, uint64) {
	if p.cancel != nil {
		p.cancel()
	}
	p.generation++
	run, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	return run, p.generation
}

func (p *Preview) isCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.generation
}

// SelectStory makes storyID the current story, prepares and renders it.
func (p *Preview) SelectStory(ctx context.Context, storyID, viewMode string) error {
	p.mu.Lock()
	run, gen := p.begin(ctx)
	var entry *index.Entry
	if p.index != nil {
		entry = p.index.Get(storyID)
	}
	if entry == nil || entry.Type != index.TypeStory {
		p.current = nil
		p.mu.Unlock()
		_ = p.emit(channel.StoryMissing, storyID)
		return errors.AddContext(errors.New(errors.CodeNotFound, fmt.Sprintf("story %q is not in the index", storyID)), errors.CtxStoryID, storyID)
	}
	if viewMode == "" {
		viewMode = ViewModeStory
	}
	r := NewStoryRender()
	_ = r.Index(entry)
	p.current = r
	p.viewMode = viewMode
	p.mu.Unlock()

	_ = p.emit(channel.StoryChanged, storyID)
	return p.prepareAndRender(run, gen, r, entry)
}

func (p *Preview) prepareAndRender(ctx context.Context, gen uint64, r *StoryRender, entry *index.Entry) error {
	if p.importer == nil {
		return errors.New(errors.CodeValidationError, "preview has no importer")
	}
	module, err := p.importer.Import(ctx, entry.ImportPath)
	if err != nil {
		if ctx.Err() != nil || !p.isCurrent(gen) {
			return nil
		}
		return p.fail(gen, newStoryError(entry.ID, "import", err))
	}
	story := module.Stories[entry.ExportName]
	if story == nil {
		_ = p.emit(channel.StoryMissing, entry.ID)
		return errors.AddContext(errors.New(errors.CodeNotFound, fmt.Sprintf("export %q missing from %s", entry.ExportName, entry.ImportPath)), errors.CtxStoryID, entry.ID)
	}
	if err := r.Prepare(p.project, &module.Meta, story); err != nil {
		var se *StoryError
		if stderrors.As(err, &se) {
			return p.fail(gen, se)
		}
		// An overlapping attempt prepared it first.
		if s := r.State(); s != StatePrepared && s != StateRendered {
			return err
		}
	}
	prepared := r.Prepared()
	p.Args.Setup(entry.ID, prepared.InitialArgs)
	if !p.isCurrent(gen) {
		return nil
	}
	_ = p.emit(channel.StoryPrepared, map[string]any{
		"id":          entry.ID,
		"parameters":  prepared.Parameters,
		"initialArgs": prepared.InitialArgs,
		"argTypes":    prepared.ArgTypes,
		"args":        p.Args.Get(entry.ID),
	})
	return p.render(ctx, gen, r)
}

func (p *Preview) render(ctx context.Context, gen uint64, r *StoryRender) error {
	entry := r.Entry()
	p.mu.Lock()
	viewMode := p.viewMode
	p.mu.Unlock()

	if s := r.State(); s == StateRendered || s == StateErrored {
		if err := r.Rerender(); err != nil {
			return err
		}
	}
	out, err := r.Render(ctx, p.Args.Get(entry.ID), p.Globals.Get(), viewMode)
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, ErrInterrupted) {
		return nil
	}
	if err != nil {
		var se *StoryError
		if stderrors.As(err, &se) {
			return p.fail(gen, se)
		}
		return err
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		slog.Debug("dropping stale render", "story", entry.ID, "generation", gen)
		return nil
	}
	p.mount(entry.ID, out)
	p.mu.Unlock()

	_ = p.emit(channel.StoryRendered, entry.ID)
	return nil
}

func (p *Preview) fail(gen uint64, se *StoryError) error {
	if !p.isCurrent(gen) {
		return nil
	}
	slog.Warn("story failed", "story", se.StoryID, "phase", se.Phase, "error", se.Err)
	_ = p.emit(channel.StoryErrored, se)
	return se
}

// rerender renders the current story again with the latest args and globals.
func (p *Preview) rerender(ctx context.Context) error {
	p.mu.Lock()
	r := p.current
	if r == nil {
		p.mu.Unlock()
		return nil
	}
	run, gen := p.begin(ctx)
	p.mu.Unlock()

	if r.State() == StateIndexed {
		// Still preparing; that attempt was just superseded.
		return p.prepareAndRender(run, gen, r, r.Entry())
	}
	return p.render(run, gen, r)
}

// UpdateArgs merges updated into a story's args and re-renders it when it
// is current.
func (p *Preview) UpdateArgs(ctx context.Context, storyID string, updated map[string]any) error {
	args := p.Args.Update(storyID, updated)
	_ = p.emit(channel.StoryArgsUpdated, map[string]any{"storyId": storyID, "args": args})
	if p.CurrentStoryID() != storyID {
		return nil
	}
	return p.rerender(ctx)
}

// ResetArgs restores argNames, or all args, to their initial values.
func (p *Preview) ResetArgs(ctx context.Context, storyID string, argNames []string) error {
	args := p.Args.Reset(storyID, argNames)
	_ = p.emit(channel.StoryArgsUpdated, map[string]any{"storyId": storyID, "args": args})
	if p.CurrentStoryID() != storyID {
		return nil
	}
	return p.rerender(ctx)
}

// UpdateGlobals applies declared globals; undeclared keys are reported as a
// protocol warning and ignored.
func (p *Preview) UpdateGlobals(ctx context.Context, partial map[string]any) error {
	globals, rejected := p.Globals.Update(partial)
	if len(rejected) > 0 {
		slog.Warn("ignoring undeclared globals", "keys", rejected,
			"error", errors.NewChannelProtocolWarning("globals must be declared in globals or globalTypes"))
	}
	_ = p.emit(channel.GlobalsUpdated, map[string]any{"globals": globals})
	return p.rerender(ctx)
}

func (p *Preview) ForceReRender(ctx context.Context) error {
	return p.rerender(ctx)
}

// Keydown forwards a key event from the preview to the manager.
func (p *Preview) Keydown(event map[string]any) error {
	return p.emit(channel.PreviewKeydown, map[string]any{"event": event})
}

// SetIndex installs a rebuilt index. A current story that vanished is
// reported missing; one whose entry changed is prepared again.
func (p *Preview) SetIndex(ctx context.Context, idx *index.StoryIndex) error {
	p.mu.Lock()
	p.index = idx
	r := p.current
	p.mu.Unlock()
	if r == nil {
		return nil
	}
	old := r.Entry()
	entry := idx.Get(old.ID)
	if entry == nil {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.generation++
		p.current = nil
		p.mu.Unlock()
		_ = p.emit(channel.StoryMissing, old.ID)
		return nil
	}
	if entry.ImportPath == old.ImportPath && entry.ExportName == old.ExportName && entry.Title == old.Title && entry.Name == old.Name {
		return nil
	}
	return p.reload(ctx, r, entry)
}

// ModuleChanged re-prepares the current story when importPath is its file.
// A render in flight for the old module is interrupted.
func (p *Preview) ModuleChanged(ctx context.Context, importPath string) error {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()
	if r == nil || r.Entry().ImportPath != importPath {
		return nil
	}
	return p.reload(ctx, r, r.Entry())
}

func (p *Preview) reload(ctx context.Context, r *StoryRender, entry *index.Entry) error {
	p.mu.Lock()
	if p.current != r {
		p.mu.Unlock()
		return nil
	}
	run, gen := p.begin(ctx)
	_ = r.Index(entry)
	p.mu.Unlock()
	return p.prepareAndRender(run, gen, r, entry)
}

type setCurrentStoryPayload struct {
	StoryID  string `json:"storyId"`
	ViewMode string `json:"viewMode"`
}

func (p *Preview) onSetCurrentStory(ctx context.Context, msg channel.Message) {
	var payload setCurrentStoryPayload
	if err := msg.Decode(0, &payload); err != nil || payload.StoryID == "" {
		slog.Warn("ignoring malformed event", "event", msg.Type, "error", errors.NewChannelProtocolWarning("expected {storyId, viewMode}"))
		return
	}
	if err := p.SelectStory(ctx, payload.StoryID, payload.ViewMode); err != nil {
		slog.Debug("story selection failed", "story", payload.StoryID, "error", err)
	}
}

func (p *Preview) onUpdateStoryArgs(ctx context.Context, msg channel.Message) {
	var payload struct {
		StoryID     string         `json:"storyId"`
		UpdatedArgs map[string]any `json:"updatedArgs"`
	}
	if err := msg.Decode(0, &payload); err != nil || payload.StoryID == "" {
		slog.Warn("ignoring malformed event", "event", msg.Type, "error", errors.NewChannelProtocolWarning("expected {storyId, updatedArgs}"))
		return
	}
	_ = p.UpdateArgs(ctx, payload.StoryID, payload.UpdatedArgs)
}

func (p *Preview) onResetStoryArgs(ctx context.Context, msg channel.Message) {
	var payload struct {
		StoryID  string   `json:"storyId"`
		ArgNames []string `json:"argNames"`
	}
	if err := msg.Decode(0, &payload); err != nil || payload.StoryID == "" {
		slog.Warn("ignoring malformed event", "event", msg.Type, "error", errors.NewChannelProtocolWarning("expected {storyId, argNames}"))
		return
	}
	_ = p.ResetArgs(ctx, payload.StoryID, payload.ArgNames)
}

func (p *Preview) onUpdateGlobals(ctx context.Context, msg channel.Message) {
	if !p.trusted[msg.From] {
		slog.Warn("ignoring channel event", "event", msg.Type, "from", msg.From,
			"error", errors.NewChannelProtocolWarning("globals updates are only accepted from the manager"))
		return
	}
	var payload struct {
		Globals map[string]any `json:"globals"`
	}
	if err := msg.Decode(0, &payload); err != nil {
		slog.Warn("ignoring malformed event", "event", msg.Type, "error", errors.NewChannelProtocolWarning("expected {globals}"))
		return
	}
	_ = p.UpdateGlobals(ctx, payload.Globals)
}
