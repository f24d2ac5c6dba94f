package app

import (
	"context"
	"fmt"
	"time"

	"storyindex/internal/core/ports"
	"storyindex/internal/engine/index"
)

type indexService struct {
	app *App
}

var _ ports.IndexService = (*indexService)(nil)

func NewIndexService(app *App) ports.IndexService {
	return &indexService{app: app}
}

func (a *App) IndexService() ports.IndexService {
	return NewIndexService(a)
}

func (s *indexService) RunIndex(ctx context.Context, req ports.IndexRequest) (ports.IndexResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.IndexResult{}, err
	}
	if s.app == nil {
		return ports.IndexResult{}, fmt.Errorf("app is required")
	}

	started := time.Now()
	idx, err := s.app.Index(ctx)
	if err != nil {
		return ports.IndexResult{}, err
	}
	result := ports.IndexResult{
		Index:      idx,
		Summary:    index.Summarize(idx),
		Generation: idx.Generation,
		Duration:   time.Since(started),
		Problems:   make(map[string]string),
	}
	for path, perr := range s.app.Generator.Problems() {
		result.Problems[path] = perr.Error()
	}
	if req.Write {
		written, err := s.app.WriteIndex(idx)
		if err != nil {
			return result, err
		}
		result.Written = written
	}
	return result, nil
}

func (s *indexService) SortedEntries(ctx context.Context) ([]ports.SortedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := s.app.Index(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ports.SortedEntry, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		out = append(out, ports.SortedEntry{ID: e.ID, Title: e.Title, Name: e.Name, Type: string(e.Type)})
	}
	return out, nil
}

func (s *indexService) Summary(ctx context.Context) (index.Summary, error) {
	if err := ctx.Err(); err != nil {
		return index.Summary{}, err
	}
	idx, err := s.app.Index(ctx)
	if err != nil {
		return index.Summary{}, err
	}
	return index.Summarize(idx), nil
}

func (s *indexService) WatchService() ports.WatchService {
	return &watchService{app: s.app}
}

func (s *indexService) Serve(ctx context.Context) error {
	if s.app == nil {
		return fmt.Errorf("app is required")
	}
	return s.app.Serve(ctx)
}

func (s *indexService) Close(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	return s.app.Close(ctx)
}

type watchService struct {
	app *App
}

var _ ports.WatchService = (*watchService)(nil)

// Start builds and writes the index once, then keeps it current through the
// file and config watchers and the background writer.
func (s *watchService) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.app == nil {
		return fmt.Errorf("app is required")
	}
	s.app.startWriteWorker()

	s.app.buildMu.Lock()
	s.app.rebuildLocked(ctx)
	s.app.buildMu.Unlock()

	if err := s.app.StartWatcher(); err != nil {
		return err
	}
	return s.app.StartConfigWatcher(ctx)
}

func (s *watchService) CurrentUpdate(ctx context.Context) (ports.WatchUpdate, error) {
	if err := ctx.Err(); err != nil {
		return ports.WatchUpdate{}, err
	}
	if s.app == nil {
		return ports.WatchUpdate{}, fmt.Errorf("app is required")
	}
	return toWatchUpdate(s.app.CurrentUpdate()), nil
}

func (s *watchService) Subscribe(ctx context.Context, handler func(ports.WatchUpdate)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.app == nil {
		return fmt.Errorf("app is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	s.app.SetUpdateHandler(func(update Update) {
		if ctx.Err() != nil {
			return
		}
		handler(toWatchUpdate(update))
	})
	return nil
}

func toWatchUpdate(update Update) ports.WatchUpdate {
	out := ports.WatchUpdate{
		Generation: update.Generation,
		Delta:      update.Delta,
		Summary:    update.Summary,
	}
	if update.Err != nil {
		out.Err = update.Err.Error()
	}
	return out
}
