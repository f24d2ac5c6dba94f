package compose

import (
	"context"
	"fmt"
	"sync"

	"storyindex/internal/core/errors"
)

// Importer loads the live module for an import path.
type Importer interface {
	Import(ctx context.Context, importPath string) (*Module, error)
}

// Registry is an in-memory Importer that framework integrations fill with
// their compiled modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

func NewRegistry(modules ...*Module) *Registry {
	r := &Registry{modules: make(map[string]*Module)}
	for _, m := range modules {
		r.Set(m)
	}
	return r
}

// Set adds or replaces the module under its import path.
func (r *Registry) Set(m *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.ImportPath] = m
}

func (r *Registry) Remove(importPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, importPath)
}

func (r *Registry) Import(ctx context.Context, importPath string) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[importPath]
	if !ok {
		return nil, errors.AddContext(
			errors.New(errors.CodeNotFound, fmt.Sprintf("no module registered for %s", importPath)),
			errors.CtxPath, importPath,
		)
	}
	return m, nil
}
