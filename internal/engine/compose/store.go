package compose

import (
	"maps"
	"reflect"
	"sort"
	"sync"
)

// ArgsStore keeps the current args of every story that has been prepared.
type ArgsStore struct {
	mu      sync.Mutex
	initial map[string]map[string]any
	current map[string]map[string]any
}

func NewArgsStore() *ArgsStore {
	return &ArgsStore{
		initial: make(map[string]map[string]any),
		current: make(map[string]map[string]any),
	}
}

// Setup records a story's initial args. When the story is already known
// (hot reload), args the user changed survive and the rest follow the new
// initial values.
func (s *ArgsStore) Setup(id string, initial map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevInitial, known := s.initial[id]
	next := maps.Clone(initial)
	if next == nil {
		next = map[string]any{}
	}
	if known {
		for k, v := range s.current[id] {
			if old, ok := prevInitial[k]; !ok || !reflect.DeepEqual(old, v) {
				next[k] = v
			}
		}
	}
	s.initial[id] = maps.Clone(initial)
	s.current[id] = next
}

// Get returns a copy of the story's args, or nil when unknown.
func (s *ArgsStore) Get(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.current[id])
}

// Update merges updated into the story's args and returns the result.
func (s *ArgsStore) Update(id string, updated map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current[id]
	if cur == nil {
		cur = map[string]any{}
	}
	next := maps.Clone(cur)
	for k, v := range updated {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	s.current[id] = next
	return maps.Clone(next)
}

// Reset restores keys to their initial values; no keys resets everything.
func (s *ArgsStore) Reset(id string, keys []string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	initial := s.initial[id]
	if len(keys) == 0 {
		s.current[id] = maps.Clone(initial)
		if s.current[id] == nil {
			s.current[id] = map[string]any{}
		}
		return maps.Clone(s.current[id])
	}
	next := maps.Clone(s.current[id])
	if next == nil {
		next = map[string]any{}
	}
	for _, k := range keys {
		if v, ok := initial[k]; ok {
			next[k] = v
		} else {
			delete(next, k)
		}
	}
	s.current[id] = next
	return maps.Clone(next)
}

// GlobalsStore holds the project globals. Only keys present in the initial
// globals or declared in globalTypes can be set.
type GlobalsStore struct {
	mu      sync.Mutex
	allowed map[string]bool
	current map[string]any
}

func NewGlobalsStore(globals map[string]any, globalTypes map[string]map[string]any) *GlobalsStore {
	initial := make(map[string]any)
	allowed := make(map[string]bool)
	for k, gt := range globalTypes {
		allowed[k] = true
		if v, ok := gt["defaultValue"]; ok {
			initial[k] = v
		}
	}
	for k, v := range globals {
		allowed[k] = true
		initial[k] = v
	}
	return &GlobalsStore{allowed: allowed, current: initial}
}

func (s *GlobalsStore) Get() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.current)
}

// Update applies the allowed keys of partial and returns the undeclared ones,
// sorted.
func (s *GlobalsStore) Update(partial map[string]any) (map[string]any, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rejected []string
	for k, v := range partial {
		if !s.allowed[k] {
			rejected = append(rejected, k)
			continue
		}
		s.current[k] = v
	}
	sort.Strings(rejected)
	return maps.Clone(s.current), rejected
}
