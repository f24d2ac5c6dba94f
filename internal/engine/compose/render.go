package compose

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"storyindex/internal/core/errors"
	"storyindex/internal/engine/index"
	"storyindex/internal/engine/pipeline"
	"storyindex/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
)

type State int

const (
	StateUninitialized State = iota
	StateIndexed
	StatePrepared
	StateRendered
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIndexed:
		return "indexed"
	case StatePrepared:
		return "prepared"
	case StateRendered:
		return "rendered"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// PhasePlay is reported when a play function fails after rendering.
const PhasePlay = "play"

// ErrInterrupted is returned by Render when the story was re-indexed while
// the render was in flight.
var ErrInterrupted = stderrors.New("render interrupted by a newer preparation")

// StoryError is the structured failure shown in place of a story.
type StoryError struct {
	StoryID string `json:"storyId"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *StoryError) Error() string {
	return fmt.Sprintf("story %s failed during %s: %s", e.StoryID, e.Phase, e.Message)
}

func (e *StoryError) Unwrap() error { return e.Err }

func newStoryError(storyID, phase string, err error) *StoryError {
	if de, ok := errors.As(err); ok {
		if p := de.ContextString(errors.CtxPhase); p != "" {
			phase = p
		}
	}
	return &StoryError{StoryID: storyID, Phase: phase, Message: err.Error(), Err: err}
}

// StoryRender tracks one story through
// Uninitialized → Indexed → Prepared → Rendered, with Rendered → Prepared on
// args or globals changes and Prepared → Errored on failure.
type StoryRender struct {
	mu       sync.Mutex
	state    State
	entry    *index.Entry
	prepared *PreparedStory
	err      *StoryError
	epoch    uint64
}

func NewStoryRender() *StoryRender {
	return &StoryRender{}
}

func (r *StoryRender) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *StoryRender) Entry() *index.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry
}

func (r *StoryRender) Prepared() *PreparedStory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prepared
}

// Err returns the failure that moved the story to Errored.
func (r *StoryRender) Err() *StoryError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *StoryRender) transition(to State) {
	r.state = to
	observability.StoryRenderPhaseTotal.WithLabelValues(to.String()).Inc()
}

func invalidTransition(from, to State) error {
	return errors.New(errors.CodeValidationError, fmt.Sprintf("invalid story transition %s → %s", from, to))
}

// Index binds the story to entry. Calling it again, e.g. after a hot
// reload, re-enters Indexed and interrupts any render in flight.
func (r *StoryRender) Index(entry *index.Entry) error {
	if entry == nil || entry.Type != index.TypeStory {
		return errors.New(errors.CodeValidationError, "story render needs a story entry")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry = entry
	r.prepared = nil
	r.err = nil
	r.epoch++
	r.transition(StateIndexed)
	return nil
}

// Prepare resolves annotations. It is synchronous and only valid from Indexed.
func (r *StoryRender) Prepare(project *ProjectAnnotations, component *ComponentAnnotations, story *StoryAnnotations) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIndexed {
		return invalidTransition(r.state, StatePrepared)
	}
	p, err := Prepare(project, component, story, r.entry)
	if err != nil {
		r.err = newStoryError(r.entry.ID, pipeline.PhaseRender, err)
		r.transition(StateErrored)
		return r.err
	}
	r.prepared = p
	r.transition(StatePrepared)
	return nil
}

// Rerender moves a rendered story back to Prepared so new args or globals
// can be rendered without preparing again.
func (r *StoryRender) Rerender() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRendered, StatePrepared:
		r.transition(StatePrepared)
		return nil
	case StateErrored:
		if r.prepared != nil {
			r.err = nil
			r.transition(StatePrepared)
			return nil
		}
	}
	return invalidTransition(r.state, StatePrepared)
}

// Render runs loaders, then the decorated story, then play. Failures move the
// story to Errored and come back as *StoryError. Cancellation leaves it
// Prepared and returns ctx's error.
func (r *StoryRender) Render(ctx context.Context, args, globals map[string]any, viewMode string) (any, error) {
	r.mu.Lock()
	if r.state != StatePrepared {
		from := r.state
		r.mu.Unlock()
		return nil, invalidTransition(from, StateRendered)
	}
	p, epoch := r.prepared, r.epoch
	r.mu.Unlock()

	ctx, span := observability.Tracer.Start(ctx, "story.render")
	defer span.End()
	span.SetAttributes(attribute.String("story.id", p.ID))

	sc := p.Context(args, globals, viewMode)
	out, err := r.run(ctx, p, sc)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		return nil, ErrInterrupted
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		r.err = newStoryError(p.ID, pipeline.PhaseRender, err)
		r.transition(StateErrored)
		return nil, r.err
	}
	r.transition(StateRendered)
	return out, nil
}

func (r *StoryRender) run(ctx context.Context, p *PreparedStory, sc *pipeline.StoryContext) (any, error) {
	if err := pipeline.RunLoaders(ctx, p.LoaderLevels, sc); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := p.StoryFn()(sc)
	if err != nil {
		return nil, err
	}
	if p.Play != nil {
		if err := p.Play(ctx, sc); err != nil {
			return nil, errors.NewStoryPhaseError(errors.CodeRender, p.ID, PhasePlay, err)
		}
	}
	return out, nil
}
