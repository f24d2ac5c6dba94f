package app

import (
	"context"
	"fmt"
	"time"

	"storyindex/internal/shared/util"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Generation uint64            `json:"generation"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	if s.app.Generator == nil {
		status.Status = "degraded"
		status.Components["index"] = "missing"
	} else {
		status.Generation = s.app.Generator.Generation()
		if update := s.app.CurrentUpdate(); update.Err != nil {
			status.Status = "degraded"
			status.Components["index"] = "failing: " + update.Err.Error()
		} else if idx := s.app.Current(); idx != nil {
			status.Components["index"] = fmt.Sprintf("ok (%d entries)", len(idx.Entries))
		} else {
			status.Components["index"] = "not built"
		}
		if problems := s.app.Generator.Problems(); len(problems) > 0 {
			status.Components["files"] = fmt.Sprintf("%d excluded by errors", len(problems))
		}
	}

	if s.app.cache != nil {
		if stats, err := s.app.cache.Stats(); err != nil {
			status.Status = "degraded"
			status.Components["cache"] = "error: " + err.Error()
		} else {
			status.Components["cache"] = fmt.Sprintf("ok (%d entries, %d hits)", stats.Entries, stats.Hits)
		}
	} else if s.app.Config.Cache.IsEnabled() {
		status.Components["cache"] = "unavailable"
	}

	status.Components["memory"] = fmt.Sprintf("%d MiB heap", util.HeapAllocMB())

	if s.app.serving.Load() {
		status.Components["channel"] = fmt.Sprintf("ok (%d clients)", s.app.Hub.Clients())
	}

	return status
}
