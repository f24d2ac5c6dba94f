package storysort

import (
	"slices"
)

// Sort orders items stably by p; ties keep their incoming order. A nil
// parameter leaves items untouched. When a function comparator fails the
// slice is left as it was and the error is returned.
func Sort[T any](p *Parameter, items []T, entry func(T) Entry) error {
	if p == nil || len(items) < 2 {
		return nil
	}

	var (
		cmp    Compare
		failed func() error
	)
	if p.Kind == KindFunction {
		fc, err := compileFunction(p.Source, DefaultTimeout)
		if err != nil {
			return err
		}
		cmp, failed = fc.compare, fc.Err
	} else {
		c, err := p.Comparator()
		if err != nil {
			return err
		}
		cmp = c
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return cmp(entry(a), entry(b))
	})
	if failed != nil {
		if err := failed(); err != nil {
			return err
		}
	}
	copy(items, sorted)
	return nil
}
