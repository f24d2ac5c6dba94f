package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"

	"storyindex/internal/core/config"
	"storyindex/internal/core/watcher"
	"storyindex/internal/shared/util"
)

// StartWatcher watches every stories root plus the preview config directory.
func (a *App) StartWatcher() error {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()
	return a.startWatcherLocked()
}

func (a *App) startWatcherLocked() error {
	w, err := watcher.NewWatcher(
		a.Config.Watch.Debounce,
		a.Config.Exclude.Dirs,
		a.Config.Exclude.Files,
		a.HandleChanges,
	)
	if err != nil {
		return err
	}
	w.SetExtensions(append([]string{".mdx"}, a.Parser.SupportedExtensions()...))
	roots, err := a.watchRoots()
	if err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Watch(roots); err != nil {
		_ = w.Close()
		return err
	}
	a.activeWatcher = w
	slog.Info("watching stories", "roots", roots)
	return nil
}

// watchRoots collapses nested roots so no directory is added twice.
func (a *App) watchRoots() ([]string, error) {
	specs, err := a.Config.Specifiers()
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0, len(specs)+1)
	for _, s := range specs {
		candidates = append(candidates, filepath.Join(a.Paths.ProjectRoot, filepath.FromSlash(s.Root())))
	}
	if a.Paths.PreviewConfig != "" {
		candidates = append(candidates, filepath.Dir(a.Paths.PreviewConfig))
	}
	sort.Strings(candidates)

	roots := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = filepath.Clean(c)
		nested := false
		for _, r := range roots {
			if util.HasPathPrefix(c, r) {
				nested = true
				break
			}
		}
		if !nested {
			roots = append(roots, c)
		}
	}
	return roots, nil
}

// StartConfigWatcher reloads storyindex.toml on change. It is a no-op when
// running on defaults.
func (a *App) StartConfigWatcher(ctx context.Context) error {
	if a.configPath == "" {
		return nil
	}
	w := config.NewWatcher(a.configPath, func(cfg *config.Config) {
		if err := a.UpdateConfig(ctx, cfg); err != nil {
			slog.Warn("config reload rejected", "path", a.configPath, "error", err)
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.configWatcher = w
	return nil
}
