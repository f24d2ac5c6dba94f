package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"storyindex/internal/channel"
	"storyindex/internal/core/config"
	"storyindex/internal/core/ports"
	"storyindex/internal/core/watcher"
	"storyindex/internal/data/cache"
	"storyindex/internal/engine/index"
	"storyindex/internal/engine/parser"
	"storyindex/internal/engine/storysort"
	"storyindex/internal/shared/util"
)

// Cached extractions untouched for this long are dropped at startup.
const cacheRetention = 30 * 24 * time.Hour

// Update describes one rebuild of the index in dev mode.
type Update struct {
	Generation uint64
	Delta      index.Delta
	Summary    index.Summary
	Err        error
}

type App struct {
	Config    *config.Config
	Paths     config.ResolvedPaths
	Parser    *parser.Parser
	Generator *index.Generator
	Hub       *channel.Hub

	configPath string
	cache      *cache.Store

	// buildMu serialises rebuilds triggered by the watcher, the config
	// watcher and explicit requests.
	buildMu     sync.Mutex
	initialized bool
	current     *index.StoryIndex
	// sortErr holds an unsupported storySort from the last preview config
	// reload. Builds fail until the preview config is fixed.
	sortErr error

	updateMu   sync.RWMutex
	onUpdate   func(Update)
	lastUpdate Update

	serving       atomic.Bool
	activeWatcher *watcher.Watcher
	configWatcher *config.Watcher

	writeQueue   ports.WriteQueuePort
	workerCancel context.CancelFunc
	workerDone   chan struct{}
}

// New wires parser, cache and generator for cfg. configPath may be empty when
// the defaults are in use.
func New(cfg *config.Config, configPath, cwd string) (*App, error) {
	paths, err := config.ResolvePaths(cfg, cwd)
	if err != nil {
		return nil, err
	}
	p, err := parser.NewParserWithLanguages(cfg.LanguageOverrides())
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Paths:      paths,
		Parser:     p,
		Hub:        channel.NewHub(cfg.Server.ChannelRate, cfg.Server.ChannelBurst),
		configPath: configPath,
	}

	if cfg.Cache.IsEnabled() {
		store, err := cache.Open(paths.CachePath)
		switch {
		case err == nil:
			a.cache = store
			if n, err := store.Prune(time.Now().Add(-cacheRetention)); err != nil {
				slog.Warn("pruning extraction cache failed", "error", err)
			} else if n > 0 {
				slog.Debug("pruned extraction cache", "removed", n)
			}
		case cache.IsCorruptError(err):
			slog.Warn("extraction cache is corrupt, rebuilding without it", "path", paths.CachePath, "error", err)
		default:
			slog.Warn("extraction cache unavailable", "path", paths.CachePath, "error", err)
		}
	}

	gen, err := a.newGenerator(cfg)
	if err != nil {
		a.closeCache()
		return nil, err
	}
	a.Generator = gen
	return a, nil
}

func (a *App) newGenerator(cfg *config.Config) (*index.Generator, error) {
	specs, err := cfg.Specifiers()
	if err != nil {
		return nil, err
	}
	sortParam, err := a.loadStorySort()
	if err != nil {
		return nil, err
	}
	opts := index.Options{
		WorkingDir:   a.Paths.ProjectRoot,
		Specifiers:   specs,
		Autodocs:     cfg.Docs.Autodocs,
		DocsName:     cfg.Docs.DefaultName,
		StorySort:    sortParam,
		Parser:       a.Parser,
		ExcludeDirs:  cfg.Exclude.Dirs,
		ExcludeFiles: cfg.Exclude.Files,
	}
	if a.cache != nil {
		opts.Cache = a.cache
	}
	return index.NewGenerator(opts)
}

// loadStorySort reads parameters.options.storySort from the preview config.
// A project without a preview config sorts in discovery order.
func (a *App) loadStorySort() (*storysort.Parameter, error) {
	path := a.Paths.PreviewConfig
	if path == "" {
		return nil, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("preview config not found", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read preview config: %w", err)
	}
	file, err := a.Parser.Parse(path, src)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return storysort.GetStorySortParameter(file)
}

// Index builds the index, discovering files on first use.
func (a *App) Index(ctx context.Context) (*index.StoryIndex, error) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()
	return a.indexLocked(ctx)
}

func (a *App) indexLocked(ctx context.Context) (*index.StoryIndex, error) {
	if a.sortErr != nil {
		return nil, a.sortErr
	}
	if !a.initialized {
		if err := a.Generator.Initialize(ctx); err != nil {
			return nil, err
		}
		a.initialized = true
	}
	idx, err := a.Generator.GetIndex(ctx)
	if err != nil {
		return nil, err
	}
	a.current = idx
	return idx, nil
}

// Current returns the last successfully built index, or nil.
func (a *App) Current() *index.StoryIndex {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()
	return a.current
}

// WriteIndex persists idx as JSON at the configured output path.
func (a *App) WriteIndex(idx *index.StoryIndex) (string, error) {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return "", err
	}
	if err := util.WriteFileWithDirs(a.Paths.IndexOutput, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", a.Paths.IndexOutput, err)
	}
	return a.Paths.IndexOutput, nil
}

// ReadWrittenIndex loads the index previously written to the output path.
// It returns nil when none exists.
func (a *App) ReadWrittenIndex() (*index.StoryIndex, error) {
	data, err := os.ReadFile(a.Paths.IndexOutput)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var idx index.StoryIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", a.Paths.IndexOutput, err)
	}
	return &idx, nil
}

func (a *App) SetUpdateHandler(handler func(Update)) {
	a.updateMu.Lock()
	defer a.updateMu.Unlock()
	a.onUpdate = handler
}

func (a *App) CurrentUpdate() Update {
	a.updateMu.RLock()
	defer a.updateMu.RUnlock()
	return a.lastUpdate
}

func (a *App) emitUpdate(update Update) {
	a.updateMu.Lock()
	a.lastUpdate = update
	handler := a.onUpdate
	a.updateMu.Unlock()
	if handler != nil {
		handler(update)
	}
}

// HandleChanges applies settled watcher events: preview config edits reload
// the sort parameter, everything else invalidates files. When the index
// changed it is rebuilt, queued for writing and announced on the channel.
func (a *App) HandleChanges(changes []watcher.Change) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()

	affected := false
	for _, c := range changes {
		if a.isPreviewConfig(c.Path) {
			param, err := a.loadStorySort()
			a.sortErr = err
			if err == nil {
				a.Generator.SetStorySort(param)
			}
			affected = true
			continue
		}
		if a.Generator.Invalidate(c.Path, c.Removed) {
			slog.Debug("story file changed", "path", c.Path, "removed", c.Removed)
			affected = true
		}
	}
	if affected {
		a.rebuildLocked(context.Background())
	}
}

func (a *App) isPreviewConfig(path string) bool {
	if a.Paths.PreviewConfig == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Clean(abs) == filepath.Clean(a.Paths.PreviewConfig)
}

func (a *App) rebuildLocked(ctx context.Context) {
	prev := a.current
	idx, err := a.indexLocked(ctx)
	update := Update{Generation: a.Generator.Generation(), Err: err}
	if err != nil {
		slog.Error("index rebuild failed", "error", err)
		a.emitUpdate(update)
		return
	}
	update.Delta = index.Diff(prev, idx)
	update.Summary = index.Summarize(idx)
	slog.Info("index rebuilt",
		"generation", update.Generation,
		"added", len(update.Delta.Added),
		"removed", len(update.Delta.Removed),
		"changed", len(update.Delta.Changed),
	)

	a.enqueueWrite(idx)
	if a.serving.Load() {
		if err := a.Hub.Broadcast(channel.StoryIndexInvalidated); err != nil {
			slog.Debug("index invalidation not broadcast", "error", err)
		}
	}
	a.emitUpdate(update)
}

// UpdateConfig swaps in a reloaded configuration. The generator is rebuilt
// from scratch; the watcher is restarted when it was running.
func (a *App) UpdateConfig(ctx context.Context, cfg *config.Config) error {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()

	p, err := parser.NewParserWithLanguages(cfg.LanguageOverrides())
	if err != nil {
		return err
	}
	old, oldPaths, oldParser := a.Config, a.Paths, a.Parser
	a.Config, a.Parser = cfg, p
	if paths, err := config.ResolvePaths(cfg, a.Paths.ProjectRoot); err == nil {
		a.Paths = paths
	}
	gen, err := a.newGenerator(cfg)
	if err != nil {
		a.Config, a.Paths, a.Parser = old, oldPaths, oldParser
		return err
	}
	a.Generator = gen
	a.initialized = false
	a.sortErr = nil

	if a.activeWatcher != nil {
		_ = a.activeWatcher.Close()
		a.activeWatcher = nil
		if err := a.startWatcherLocked(); err != nil {
			slog.Warn("watcher restart failed", "error", err)
		}
	}
	a.rebuildLocked(ctx)
	return nil
}

func (a *App) closeCache() {
	if a.cache == nil {
		return
	}
	if err := a.cache.Close(); err != nil {
		slog.Warn("closing extraction cache failed", "error", err)
	}
	a.cache = nil
}

// Close stops watchers and the writer, then closes the cache.
func (a *App) Close(ctx context.Context) error {
	a.buildMu.Lock()
	if a.activeWatcher != nil {
		_ = a.activeWatcher.Close()
		a.activeWatcher = nil
	}
	a.buildMu.Unlock()
	if a.configWatcher != nil {
		a.configWatcher.Stop()
	}
	err := a.stopWriteWorker(ctx)
	a.closeCache()
	return err
}
