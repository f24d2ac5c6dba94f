package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"storyindex/internal/core/ports"
	"storyindex/internal/data/queue"
	"storyindex/internal/engine/index"
	"storyindex/internal/shared/observability"
)

const (
	writeQueueCapacity = 8
	writeBatchSize     = 8
	writeFlushInterval = 100 * time.Millisecond
	writeMaxAttempts   = 3
)

func (a *App) startWriteWorker() {
	if a.writeQueue != nil {
		return
	}
	a.writeQueue = queue.NewMemoryQueue(writeQueueCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	a.workerCancel = cancel
	a.workerDone = make(chan struct{})
	go a.runWriteWorker(ctx)
}

// enqueueWrite hands idx to the writer when one is running, and writes
// synchronously otherwise.
func (a *App) enqueueWrite(idx *index.StoryIndex) {
	if a.writeQueue == nil {
		if _, err := a.WriteIndex(idx); err != nil {
			observability.IndexWritesTotal.WithLabelValues("error").Inc()
			slog.Error("writing index failed", "error", err)
			return
		}
		observability.IndexWritesTotal.WithLabelValues("ok").Inc()
		return
	}
	req := ports.WriteRequest{Generation: idx.Generation, Path: a.Paths.IndexOutput, Index: idx}
	if res := a.writeQueue.Enqueue(req); res != ports.EnqueueAccepted {
		slog.Warn("index write dropped", "generation", idx.Generation, "result", res)
	}
	observability.WriteQueueDepth.Set(float64(a.writeQueue.Len()))
}

func (a *App) runWriteWorker(ctx context.Context) {
	defer close(a.workerDone)

	for {
		batch, err := a.writeQueue.DequeueBatch(ctx, writeBatchSize, writeFlushInterval)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			slog.Warn("write queue dequeue failed", "error", err)
			continue
		}
		observability.WriteQueueDepth.Set(float64(a.writeQueue.Len()))

		for _, req := range queue.Newest(batch) {
			a.applyWrite(ctx, req)
		}
		if errors.Is(err, io.EOF) {
			return
		}
	}
}

func (a *App) applyWrite(ctx context.Context, req ports.WriteRequest) {
	var err error
	for attempt := 1; attempt <= writeMaxAttempts; attempt++ {
		if _, err = a.WriteIndex(req.Index); err == nil {
			observability.IndexWritesTotal.WithLabelValues("ok").Inc()
			slog.Debug("index written", "path", req.Path, "generation", req.Generation)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoffDelay(attempt)):
		}
	}
	observability.IndexWritesTotal.WithLabelValues("error").Inc()
	slog.Error("writing index failed", "path", req.Path, "generation", req.Generation, "error", err)
}

func backoffDelay(attempt int) time.Duration {
	d := 50 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if d > time.Second {
		d = time.Second
	}
	return d
}

// stopWriteWorker drains pending writes, then stops the worker.
func (a *App) stopWriteWorker(ctx context.Context) error {
	if a.writeQueue == nil {
		return nil
	}
	_ = a.writeQueue.Close()
	select {
	case <-a.workerDone:
	case <-ctx.Done():
		a.workerCancel()
		<-a.workerDone
		return ctx.Err()
	}
	a.workerCancel()
	a.writeQueue = nil
	return nil
}
