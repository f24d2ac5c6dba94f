package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"storyindex/internal/core/errors"
	"storyindex/internal/engine/csf"
	"storyindex/internal/engine/parser"
	"storyindex/internal/engine/storysort"
	"storyindex/internal/shared/observability"
	"storyindex/internal/shared/util"

	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Autodocs modes.
const (
	AutodocsTag   = "tag"
	AutodocsTrue  = "true"
	AutodocsFalse = "false"
)

const (
	DefaultDocsName = "Docs"
	extractorKey    = "csf-v1"
)

// Cache persists per-file extraction results between runs.
type Cache interface {
	Get(path, hash string) ([]byte, bool, error)
	Put(path, hash string, payload []byte) error
	Delete(path string) error
}

type Options struct {
	WorkingDir  string
	Specifiers  []Specifier
	Autodocs    string
	DocsName    string
	StorySort   *storysort.Parameter
	Parser      *parser.Parser
	Cache       Cache
	Concurrency int
	ExcludeDirs []string

	// ExcludeFiles match a file's base name or its project-relative path.
	ExcludeFiles []string
}

type fileKind int

const (
	kindCSF fileKind = iota
	kindMDX
)

type fileRecord struct {
	importPath string
	absPath    string
	specifier  int
	kind       fileKind
	dirty      bool

	entries     []*Entry
	title       string
	componentID string
	metaTags    []string
	docsDeps    []string
	err         error
}

// cachedCSF is the cache payload for one story file.
type cachedCSF struct {
	Title       string   `json:"title"`
	ComponentID string   `json:"componentId"`
	MetaTags    []string `json:"metaTags"`
	Entries     []*Entry `json:"entries"`
}

// Generator owns the story index. Files are extracted lazily: Initialize and
// Invalidate only mark files dirty, GetIndex re-extracts dirty files and
// splices their entries back in discovery order.
type Generator struct {
	opts         Options
	excludeDirs  []glob.Glob
	excludeFiles []glob.Glob

	mu         sync.Mutex
	files      [][]string
	records    map[string]*fileRecord
	generation uint64
	last       *StoryIndex
	lastErr    error
}

func NewGenerator(opts Options) (*Generator, error) {
	if opts.Parser == nil {
		return nil, errors.New(errors.CodeValidationError, "index generator requires a parser")
	}
	if opts.WorkingDir == "" {
		opts.WorkingDir = "."
	}
	root, err := filepath.Abs(opts.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	opts.WorkingDir = root
	if opts.Autodocs == "" {
		opts.Autodocs = AutodocsTag
	}
	if opts.DocsName == "" {
		opts.DocsName = DefaultDocsName
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}

	patterns := append([]string{"node_modules", ".git"}, opts.ExcludeDirs...)
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}

	files := make([]glob.Glob, 0, len(opts.ExcludeFiles))
	for _, p := range opts.ExcludeFiles {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		files = append(files, g)
	}

	return &Generator{
		opts:         opts,
		excludeDirs:  compiled,
		excludeFiles: files,
		files:        make([][]string, len(opts.Specifiers)),
		records:      make(map[string]*fileRecord),
	}, nil
}

// Initialize discovers every file matched by the specifiers. Nothing is
// extracted until GetIndex.
func (g *Generator) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.files = make([][]string, len(g.opts.Specifiers))
	g.records = make(map[string]*fileRecord)
	for i, spec := range g.opts.Specifiers {
		root := filepath.Join(g.opts.WorkingDir, filepath.FromSlash(spec.Root()))
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if p == root && os.IsNotExist(err) {
					slog.Warn("stories directory does not exist", "directory", spec.Directory)
					return filepath.SkipDir
				}
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if p != root && g.excludedDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			g.addFile(i, p)
			return nil
		})
		if err != nil {
			return fmt.Errorf("walk stories directory %s: %w", spec.Directory, err)
		}
	}
	g.bump()
	return nil
}

func (g *Generator) excludedDir(name string) bool {
	for _, m := range g.excludeDirs {
		if m.Match(name) {
			return true
		}
	}
	return false
}

func (g *Generator) excludedFile(importPath string) bool {
	rel := strings.TrimPrefix(importPath, "./")
	base := rel[strings.LastIndex(rel, "/")+1:]
	for _, m := range g.excludeFiles {
		if m.Match(base) || m.Match(rel) {
			return true
		}
	}
	return false
}

func (g *Generator) importPathOf(p string) (string, string) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.opts.WorkingDir, p)
	}
	rel, err := filepath.Rel(g.opts.WorkingDir, abs)
	if err != nil {
		rel = p
	}
	return ImportPath(filepath.ToSlash(rel)), abs
}

func (g *Generator) indexable(importPath string) (fileKind, bool) {
	if strings.HasSuffix(importPath, ".mdx") {
		return kindMDX, true
	}
	return kindCSF, g.opts.Parser.IsSupportedPath(importPath)
}

// addFile registers p under specifier i if it matches. Callers hold g.mu.
func (g *Generator) addFile(i int, p string) bool {
	ip, abs := g.importPathOf(p)
	if _, ok := g.records[ip]; ok {
		return false
	}
	if !g.opts.Specifiers[i].Matches(ip) || g.excludedFile(ip) {
		return false
	}
	kind, ok := g.indexable(ip)
	if !ok {
		return false
	}
	g.records[ip] = &fileRecord{importPath: ip, absPath: abs, specifier: i, kind: kind, dirty: true}
	files := g.files[i]
	at := sort.SearchStrings(files, ip)
	files = append(files, "")
	copy(files[at+1:], files[at:])
	files[at] = ip
	g.files[i] = files
	return true
}

func (g *Generator) removeFile(ip string) {
	rec, ok := g.records[ip]
	if !ok {
		return
	}
	delete(g.records, ip)
	files := g.files[rec.specifier]
	for i, f := range files {
		if f == ip {
			g.files[rec.specifier] = append(files[:i], files[i+1:]...)
			break
		}
	}
	if g.opts.Cache != nil {
		if err := g.opts.Cache.Delete(ip); err != nil {
			slog.Warn("failed to drop cached extraction", "path", ip, "error", err)
		}
	}
}

func (g *Generator) bump() {
	g.generation++
	g.last = nil
	g.lastErr = nil
	observability.IndexGeneration.Set(float64(g.generation))
}

// Invalidate marks one file as changed, added (when it matches a specifier)
// or removed. Removing a directory drops every file below it. Docs files that depend on it are marked too. It reports whether
// the file affects the index.
func (g *Generator) Invalidate(p string, removed bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	ip, _ := g.importPathOf(p)
	rec, known := g.records[ip]
	affected := known
	gone := []string{ip}
	switch {
	case removed && !known:
		// A removed directory takes every file below it.
		prefix := ip + "/"
		for other := range g.records {
			if strings.HasPrefix(other, prefix) {
				gone = append(gone, other)
			}
		}
		for _, other := range gone[1:] {
			g.removeFile(other)
			affected = true
		}
	case removed:
		g.removeFile(ip)
	case known:
		rec.dirty = true
	default:
		for i := range g.opts.Specifiers {
			if g.addFile(i, p) {
				affected = true
				break
			}
		}
	}

	for _, other := range g.records {
		if other.kind != kindMDX || other.importPath == ip {
			continue
		}
		// A new file may satisfy an import that did not resolve before.
		if affected && !known && !removed {
			other.dirty = true
			continue
		}
		for _, dep := range gone {
			if containsString(other.docsDeps, dep) {
				other.dirty = true
				affected = true
				break
			}
		}
	}

	if affected {
		g.bump()
	}
	return affected
}

// SetStorySort replaces the sort parameter, e.g. after the preview config
// changed.
func (g *Generator) SetStorySort(p *storysort.Parameter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opts.StorySort = p
	g.bump()
}

// Generation is bumped on every change to the index inputs.
func (g *Generator) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// Problems returns the per-file errors that excluded files from the last
// build, keyed by import path.
func (g *Generator) Problems() map[string]error {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]error)
	for ip, rec := range g.records {
		if rec.err != nil {
			out[ip] = rec.err
		}
	}
	return out
}

// GetIndex returns the current index, extracting dirty files first. A
// duplicate id or a failing storySort fails the whole build; broken files are
// logged and left out.
func (g *Generator) GetIndex(ctx context.Context) (*StoryIndex, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last != nil || g.lastErr != nil {
		return g.last, g.lastErr
	}

	ctx, span := observability.Tracer.Start(ctx, "index.build")
	defer span.End()
	start := time.Now()

	if err := g.extractDirty(ctx, kindCSF); err != nil {
		return nil, err
	}
	if err := g.extractDirty(ctx, kindMDX); err != nil {
		return nil, err
	}

	entries, err := g.merge()
	if err == nil {
		err = storysort.Sort(g.opts.StorySort, entries, sortEntry)
	}
	observability.IndexBuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		g.lastErr = err
		return nil, err
	}

	idx := NewStoryIndex(entries)
	idx.Generation = g.generation
	g.last = idx

	counts := map[EntryType]int{}
	for _, e := range entries {
		counts[e.Type]++
	}
	observability.IndexEntries.WithLabelValues(string(TypeStory)).Set(float64(counts[TypeStory]))
	observability.IndexEntries.WithLabelValues(string(TypeDocs)).Set(float64(counts[TypeDocs]))
	span.SetAttributes(attribute.Int("entries", len(entries)), attribute.Int64("generation", int64(g.generation)))
	return idx, nil
}

func sortEntry(e *Entry) storysort.Entry {
	return storysort.Entry{
		ID:         e.ID,
		Title:      e.Title,
		Name:       e.Name,
		ImportPath: e.ImportPath,
		Type:       string(e.Type),
		Tags:       e.Tags,
	}
}

func (g *Generator) extractDirty(ctx context.Context, kind fileKind) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Concurrency)
	for _, files := range g.files {
		for _, ip := range files {
			rec := g.records[ip]
			if !rec.dirty || rec.kind != kind {
				continue
			}
			eg.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if kind == kindCSF {
					g.extractCSF(rec)
				} else {
					g.extractMDX(rec)
				}
				rec.dirty = false
				if rec.err != nil {
					code := "UNKNOWN"
					if de, ok := errors.As(rec.err); ok {
						code = string(de.Code)
					}
					observability.ExtractionFailuresTotal.WithLabelValues(code).Inc()
					slog.Warn("excluding file from story index", "path", rec.importPath, "error", rec.err)
				}
				return nil
			})
		}
	}
	return eg.Wait()
}

func (g *Generator) fingerprint(spec Specifier) string {
	return strings.Join([]string{extractorKey, g.opts.Autodocs, g.opts.DocsName, spec.Directory, spec.TitlePrefix}, "\x00")
}

func contentHash(fingerprint string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func (g *Generator) resetRecord(rec *fileRecord) {
	rec.entries = nil
	rec.title = ""
	rec.componentID = ""
	rec.metaTags = nil
	rec.docsDeps = nil
	rec.err = nil
}

func (g *Generator) extractCSF(rec *fileRecord) {
	g.resetRecord(rec)
	spec := g.opts.Specifiers[rec.specifier]

	content, err := os.ReadFile(rec.absPath)
	if err != nil {
		rec.err = errors.Wrap(err, errors.CodeNotFound, "read story file")
		return
	}

	hash := contentHash(g.fingerprint(spec), content)
	if g.opts.Cache != nil {
		if payload, ok, err := g.opts.Cache.Get(rec.importPath, hash); err != nil {
			slog.Warn("extraction cache read failed", "path", rec.importPath, "error", err)
		} else if ok {
			var cached cachedCSF
			if err := json.Unmarshal(payload, &cached); err == nil {
				observability.CacheHitsTotal.Inc()
				rec.title, rec.componentID, rec.metaTags, rec.entries = cached.Title, cached.ComponentID, cached.MetaTags, cached.Entries
				return
			}
		}
	}

	file, err := g.opts.Parser.Parse(rec.importPath, content)
	if err != nil {
		rec.err = err
		return
	}
	defer file.Close()

	sf, err := csf.Extract(file, csf.Options{MakeTitle: func(userTitle string) string {
		return csf.UserOrAutoTitle(rec.importPath, spec.Directory, spec.TitlePrefix, userTitle)
	}})
	if err != nil {
		rec.err = err
		return
	}

	rec.title = sf.Meta.Title
	rec.componentID = sf.ComponentID()
	rec.metaTags = csf.CombineTags(csf.DefaultTags, sf.Meta.Tags)
	entries, err := g.csfEntries(sf, rec)
	if err != nil {
		rec.err = err
		return
	}
	rec.entries = entries

	if g.opts.Cache != nil {
		payload, err := json.Marshal(cachedCSF{Title: rec.title, ComponentID: rec.componentID, MetaTags: rec.metaTags, Entries: entries})
		if err == nil {
			err = g.opts.Cache.Put(rec.importPath, hash, payload)
		}
		if err != nil {
			slog.Warn("extraction cache write failed", "path", rec.importPath, "error", err)
		}
	}
}

func (g *Generator) autodocsEnabled(metaTags []string) bool {
	switch g.opts.Autodocs {
	case AutodocsTrue:
		return true
	case AutodocsFalse:
		return false
	}
	for _, t := range metaTags {
		if t == TagAutodocs {
			return true
		}
	}
	return false
}

func (g *Generator) csfEntries(sf *csf.StoryFile, rec *fileRecord) ([]*Entry, error) {
	componentPath := resolveRelative(rec.importPath, sf.Meta.ComponentPath)
	if componentPath == "" {
		componentPath = sf.Meta.ComponentPath
	}
	metaParams := csf.StripRefs(sf.Meta.Parameters)

	stories := sf.IndexableStories()
	entries := make([]*Entry, 0, len(stories)+1)
	for _, s := range stories {
		tags := csf.CombineTags(rec.metaTags, s.Tags)
		if s.HasPlayFunction {
			tags = csf.CombineTags(tags, []string{TagPlayFn})
		}
		params := util.DeepMerge(nil, metaParams, csf.StripRefs(s.Parameters))
		if len(params) == 0 {
			params = nil
		}
		entries = append(entries, &Entry{
			Type:          TypeStory,
			ID:            s.ID,
			Name:          s.Name,
			Title:         sf.Meta.Title,
			ImportPath:    rec.importPath,
			ComponentPath: componentPath,
			Tags:          tags,
			ExportName:    s.ExportName,
			Parameters:    params,
		})
	}

	if len(entries) > 0 && g.autodocsEnabled(rec.metaTags) {
		id, err := csf.ToID(rec.componentID, g.opts.DocsName)
		if err != nil {
			return nil, errors.NewCSFParseError(rec.importPath, err.Error())
		}
		standalone := false
		docs := &Entry{
			Type:       TypeDocs,
			ID:         id,
			Name:       g.opts.DocsName,
			Title:      sf.Meta.Title,
			ImportPath: rec.importPath,
			Tags:       csf.CombineTags(rec.metaTags, []string{TagAutodocs}),
			Standalone: &standalone,
		}
		entries = append([]*Entry{docs}, entries...)
	}
	return entries, nil
}

func (g *Generator) lookupModule(fromImportPath, spec string) *fileRecord {
	target := resolveRelative(fromImportPath, spec)
	if target == "" {
		return nil
	}
	exts := append([]string{".mdx"}, g.opts.Parser.SupportedExtensions()...)
	for _, candidate := range moduleCandidates(target, exts) {
		if rec, ok := g.records[candidate]; ok {
			return rec
		}
	}
	return nil
}

func (g *Generator) extractMDX(rec *fileRecord) {
	g.resetRecord(rec)
	spec := g.opts.Specifiers[rec.specifier]

	content, err := os.ReadFile(rec.absPath)
	if err != nil {
		rec.err = errors.Wrap(err, errors.CodeNotFound, "read docs file")
		return
	}
	doc := scanMDX(content)

	locals := make([]string, 0, len(doc.Imports))
	for local := range doc.Imports {
		locals = append(locals, local)
	}
	sort.Strings(locals)

	var storiesImports []string
	seen := make(map[string]bool)
	for _, local := range locals {
		dep := g.lookupModule(rec.importPath, doc.Imports[local])
		if dep == nil || dep.kind != kindCSF || seen[dep.importPath] {
			continue
		}
		seen[dep.importPath] = true
		storiesImports = append(storiesImports, dep.importPath)
		rec.docsDeps = append(rec.docsDeps, dep.importPath)
	}

	name := doc.Name
	if name == "" {
		name = g.opts.DocsName
	}

	if doc.Of == "" {
		title := csf.UserOrAutoTitle(rec.importPath, spec.Directory, spec.TitlePrefix, doc.Title)
		id, err := csf.ToID(title, name)
		if err != nil {
			rec.err = errors.NewCSFParseError(rec.importPath, err.Error())
			return
		}
		standalone := true
		rec.entries = []*Entry{{
			Type:           TypeDocs,
			ID:             id,
			Name:           name,
			Title:          title,
			ImportPath:     rec.importPath,
			Tags:           csf.CombineTags(csf.DefaultTags, []string{TagUnattachedMDX}),
			StoriesImports: storiesImports,
			Standalone:     &standalone,
		}}
		return
	}

	ofPath, ok := doc.Imports[doc.Of]
	if !ok {
		rec.err = errors.NewCSFParseError(rec.importPath, fmt.Sprintf("<Meta of={%s} /> does not refer to an import", doc.Of))
		return
	}
	target := g.lookupModule(rec.importPath, ofPath)
	if target == nil || target.kind != kindCSF {
		rec.err = errors.NewCSFParseError(rec.importPath, fmt.Sprintf("<Meta of={%s} /> refers to %q, which is not an indexed story file", doc.Of, ofPath))
		return
	}
	if !containsString(rec.docsDeps, target.importPath) {
		rec.docsDeps = append(rec.docsDeps, target.importPath)
	}
	if target.err != nil || target.componentID == "" {
		rec.err = errors.NewCSFParseError(rec.importPath, fmt.Sprintf("attached story file %s could not be indexed", target.importPath))
		return
	}

	id, err := csf.ToID(target.componentID, name)
	if err != nil {
		rec.err = errors.NewCSFParseError(rec.importPath, err.Error())
		return
	}
	imports := []string{target.importPath}
	for _, ip := range storiesImports {
		if ip != target.importPath {
			imports = append(imports, ip)
		}
	}
	standalone := false
	rec.entries = []*Entry{{
		Type:           TypeDocs,
		ID:             id,
		Name:           name,
		Title:          target.title,
		ImportPath:     rec.importPath,
		Tags:           csf.CombineTags(target.metaTags, []string{TagAttachedMDX}),
		StoriesImports: imports,
		Standalone:     &standalone,
	}}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// merge concatenates entries in specifier, file and declaration order. An
// attached MDX page takes over the autodocs entry with the same id; any other
// clash is a DuplicateIndexEntry error.
func (g *Generator) merge() ([]*Entry, error) {
	var entries []*Entry
	position := make(map[string]int)
	for _, files := range g.files {
		for _, ip := range files {
			rec := g.records[ip]
			if rec.err != nil {
				continue
			}
			for _, e := range rec.entries {
				at, dup := position[e.ID]
				if !dup {
					position[e.ID] = len(entries)
					entries = append(entries, e)
					continue
				}
				existing := entries[at]
				switch {
				case isAutodocs(existing) && e.HasTag(TagAttachedMDX):
					entries[at] = e
				case existing.HasTag(TagAttachedMDX) && isAutodocs(e):
				default:
					return nil, errors.NewDuplicateIndexEntry(e.ID, existing.ImportPath, e.ImportPath)
				}
			}
		}
	}
	return entries, nil
}

func isAutodocs(e *Entry) bool {
	return e.Type == TypeDocs && e.HasTag(TagAutodocs) && !strings.HasSuffix(e.ImportPath, ".mdx")
}
