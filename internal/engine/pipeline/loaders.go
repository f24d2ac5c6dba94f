package pipeline

import (
	"context"
	"fmt"
	"maps"

	"storyindex/internal/core/errors"

	"golang.org/x/sync/errgroup"
)

// Loader produces data for a story before it renders. Loaders in one level
// run concurrently and must treat the context as read-only.
type Loader func(ctx context.Context, sc *StoryContext) (map[string]any, error)

// RunLoaders runs levels outer to inner. Within a level all loaders run at
// once; their results are merged into sc.Loaded in declaration order once
// the whole level is done, so inner levels see everything outer ones
// produced. A cancelled ctx stops before the next level and is returned
// as is.
func RunLoaders(ctx context.Context, levels [][]Loader, sc *StoryContext) error {
	if sc.Loaded == nil {
		sc.Loaded = make(map[string]any)
	}
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(level) == 0 {
			continue
		}
		results := make([]map[string]any, len(level))
		eg, egCtx := errgroup.WithContext(ctx)
		for i, load := range level {
			eg.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("panic: %v", r)
					}
				}()
				results[i], err = load(egCtx, sc)
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.NewStoryPhaseError(errors.CodeLoader, sc.ID, PhaseLoader, err)
		}
		merged := maps.Clone(sc.Loaded)
		for _, r := range results {
			maps.Copy(merged, r)
		}
		sc.Loaded = merged
	}
	return ctx.Err()
}
