package ports

import (
	"context"
	"time"

	"storyindex/internal/engine/index"
)

// IndexRequest defines an index build for driving adapters.
type IndexRequest struct {
	// Write persists index.json to the configured output path.
	Write bool
}

// IndexResult summarizes a completed build.
type IndexResult struct {
	Index      *index.StoryIndex
	Summary    index.Summary
	Generation uint64
	Duration   time.Duration
	// Problems maps import paths to the error that kept them out of the index.
	Problems map[string]string
	Written  string
}

// SortedEntry is one line of a sort report.
type SortedEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

// WatchUpdate contains state emitted to driving adapters after the index
// changed in dev mode.
type WatchUpdate struct {
	Generation uint64
	Delta      index.Delta
	Summary    index.Summary
	Err        string
}

// WatchService exposes dev-mode lifecycle and updates for driving adapters.
type WatchService interface {
	Start(ctx context.Context) error
	CurrentUpdate(ctx context.Context) (WatchUpdate, error)
	Subscribe(ctx context.Context, handler func(WatchUpdate)) error
}

// IndexService is the driving-port surface over index use cases.
type IndexService interface {
	RunIndex(ctx context.Context, req IndexRequest) (IndexResult, error)
	SortedEntries(ctx context.Context) ([]SortedEntry, error)
	Summary(ctx context.Context) (index.Summary, error)
	WatchService() WatchService
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// EnqueueResult reports whether a write request was accepted.
type EnqueueResult string

const (
	EnqueueAccepted EnqueueResult = "accepted"
	EnqueueDropped  EnqueueResult = "dropped"
)

// WriteRequest asks the writer to persist one index generation.
type WriteRequest struct {
	Generation uint64
	Path       string
	Index      *index.StoryIndex
}

// WriteQueuePort buffers index writes between the watcher and the writer.
type WriteQueuePort interface {
	Enqueue(req WriteRequest) EnqueueResult
	DequeueBatch(ctx context.Context, maxItems int, wait time.Duration) ([]WriteRequest, error)
	Close() error
	Len() int
}
