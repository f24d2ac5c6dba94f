// Package storysort reads parameters.options.storySort from a preview
// configuration file and turns it into an entry comparator.
package storysort

import (
	"fmt"
	"math"
	"strings"

	"storyindex/internal/core/errors"
)

type Kind int

const (
	KindArray Kind = iota + 1
	KindObject
	KindRank
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindRank:
		return "rank"
	case KindFunction:
		return "function"
	}
	return "unknown"
}

// Options is the object form of storySort.
type Options struct {
	Method       string
	Order        []any
	Locales      []string
	IncludeNames bool
}

// Parameter is the extracted storySort value. Value holds the plain data for
// the literal kinds; Source holds the comparator text for KindFunction.
type Parameter struct {
	Kind    Kind
	Value   any
	Order   []any
	Options Options
	Ranks   map[string]float64
	Source  string
	Line    int
}

// Entry is the view of an index entry handed to comparators.
type Entry struct {
	ID         string
	Title      string
	Name       string
	ImportPath string
	Type       string
	Tags       []string
}

// Compare orders two entries; negative means a sorts first.
type Compare func(a, b Entry) int

var optionKeys = map[string]bool{
	"method":       true,
	"order":        true,
	"locales":      true,
	"includeNames": true,
}

// fromValue classifies literal storySort data.
func fromValue(v any) (*Parameter, error) {
	switch t := v.(type) {
	case []any:
		return &Parameter{Kind: KindArray, Value: t, Order: t}, nil
	case map[string]any:
		if ranks, ok := rankMap(t); ok {
			return &Parameter{Kind: KindRank, Value: t, Ranks: ranks}, nil
		}
		opts, err := parseOptions(t)
		if err != nil {
			return nil, err
		}
		return &Parameter{Kind: KindObject, Value: t, Options: opts}, nil
	}
	return nil, errors.NewUnsupportedStorySort(fmt.Sprintf("storySort must be a function, array or object, got %T", v))
}

func rankMap(m map[string]any) (map[string]float64, bool) {
	if len(m) == 0 {
		return nil, false
	}
	ranks := make(map[string]float64, len(m))
	for k, v := range m {
		if optionKeys[k] {
			return nil, false
		}
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		ranks[k] = f
	}
	return ranks, true
}

func parseOptions(m map[string]any) (Options, error) {
	opts := Options{Method: "configure"}
	if v, ok := m["method"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return opts, errors.NewUnsupportedStorySort("storySort.method must be a string")
		}
		switch s {
		case "", "configure":
		case "alphabetical":
			opts.Method = s
		default:
			return opts, errors.NewUnsupportedStorySort(fmt.Sprintf("unknown storySort.method %q", s))
		}
	}
	if v, ok := m["order"]; ok && v != nil {
		order, ok := v.([]any)
		if !ok {
			return opts, errors.NewUnsupportedStorySort("storySort.order must be an array")
		}
		opts.Order = order
	}
	switch v := m["locales"].(type) {
	case string:
		opts.Locales = []string{v}
	case []any:
		for _, l := range v {
			if s, ok := l.(string); ok {
				opts.Locales = append(opts.Locales, s)
			}
		}
	}
	if v, ok := m["includeNames"].(bool); ok {
		opts.IncludeNames = v
	}
	return opts, nil
}

// Comparator returns the entry ordering for p. Function comparators are
// compiled on each call; reuse the result.
func (p *Parameter) Comparator() (Compare, error) {
	if p == nil {
		return func(Entry, Entry) int { return 0 }, nil
	}
	switch p.Kind {
	case KindArray:
		return newOrderComparator(Options{Method: "configure", Order: p.Order}).compare, nil
	case KindObject:
		return newOrderComparator(p.Options).compare, nil
	case KindRank:
		return rankComparator(p.Ranks), nil
	case KindFunction:
		c, err := compileFunction(p.Source, DefaultTimeout)
		if err != nil {
			return nil, err
		}
		return c.compare, nil
	}
	return nil, errors.NewUnsupportedStorySort(fmt.Sprintf("storySort of kind %s", p.Kind))
}

// rankComparator orders by the rank of the longest matching title prefix.
// Titles without a rank sort after ranked ones.
func rankComparator(ranks map[string]float64) Compare {
	rankOf := func(title string) float64 {
		segments := splitTitle(title)
		for i := len(segments); i > 0; i-- {
			if r, ok := ranks[strings.Join(segments[:i], "/")]; ok {
				return r
			}
		}
		return math.Inf(1)
	}
	return func(a, b Entry) int {
		ra, rb := rankOf(a.Title), rankOf(b.Title)
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		}
		return 0
	}
}
