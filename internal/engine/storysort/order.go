package storysort

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var titleSeparator = regexp.MustCompile(`\s*/\s*`)

func splitTitle(title string) []string {
	return titleSeparator.Split(strings.TrimSpace(title), -1)
}

type orderComparator struct {
	opts Options

	mu       sync.Mutex
	collator *collate.Collator
}

func newOrderComparator(opts Options) *orderComparator {
	tag := language.Und
	for _, l := range opts.Locales {
		if t, err := language.Parse(l); err == nil {
			tag = t
			break
		}
	}
	return &orderComparator{
		opts:     opts,
		collator: collate.New(tag, collate.IgnoreCase, collate.Numeric),
	}
}

func indexOf(order []any, name string) int {
	for i, v := range order {
		if s, ok := v.(string); ok && s == name {
			return i
		}
	}
	return -1
}

// compare walks both titles segment by segment. At each level a segment
// listed in order wins over unlisted ones ("*" marks where unlisted segments
// go); otherwise configure keeps discovery order and alphabetical collates.
func (c *orderComparator) compare(a, b Entry) int {
	if a.Title == b.Title && !c.opts.IncludeNames {
		return 0
	}
	pathA, pathB := splitTitle(a.Title), splitTitle(b.Title)
	if c.opts.IncludeNames {
		pathA = append(pathA, a.Name)
		pathB = append(pathB, b.Name)
	}

	order := c.opts.Order
	for depth := 0; ; depth++ {
		nameA, nameB := segment(pathA, depth), segment(pathB, depth)
		if nameA == "" && nameB == "" {
			return 0
		}
		if nameA == "" {
			return -1
		}
		if nameB == "" {
			return 1
		}

		if nameA != nameB {
			indexA, indexB := indexOf(order, nameA), indexOf(order, nameB)
			if indexA != -1 || indexB != -1 {
				wildcard := indexOf(order, "*")
				if indexA == -1 {
					indexA = fallbackIndex(wildcard, len(order))
				}
				if indexB == -1 {
					indexB = fallbackIndex(wildcard, len(order))
				}
				return indexA - indexB
			}
			if c.opts.Method != "alphabetical" {
				return 0
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.collator.CompareString(nameA, nameB)
		}

		index := indexOf(order, nameA)
		if index == -1 {
			index = indexOf(order, "*")
		}
		if index != -1 && index+1 < len(order) {
			if nested, ok := order[index+1].([]any); ok {
				order = nested
				continue
			}
		}
		order = nil
	}
}

func segment(path []string, depth int) string {
	if depth < len(path) {
		return path[depth]
	}
	return ""
}

func fallbackIndex(wildcard, length int) int {
	if wildcard != -1 {
		return wildcard
	}
	return length
}
