package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"storyindex/internal/core/ports"
	"storyindex/internal/engine/index"

	"github.com/pmezard/go-difflib/difflib"
)

func printSummary(w io.Writer, s index.Summary) {
	fmt.Fprintf(w, "Stories: %d (%d with play functions) across %d components\n", s.StoryCount, s.PlayStoryCount, s.ComponentCount)
	fmt.Fprintf(w, "Docs: %d docs pages, %d autodocs, %d MDX, %d stories MDX\n", s.DocsPageCount, s.AutodocsCount, s.MDXCount, s.StoriesMDXCount)
}

func printProblems(w io.Writer, problems map[string]string) {
	if len(problems) == 0 {
		return
	}
	paths := make([]string, 0, len(problems))
	for p := range problems {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	fmt.Fprintf(w, "Problems (%d):\n", len(paths))
	for _, p := range paths {
		fmt.Fprintf(w, "  %s: %s\n", p, problems[p])
	}
}

func printDelta(w io.Writer, d index.Delta) {
	if d.Empty() {
		fmt.Fprintln(w, "No changes since the last written index.")
		return
	}
	fmt.Fprintf(w, "Added %d, removed %d, changed %d\n", len(d.Added), len(d.Removed), len(d.Changed))
	for _, id := range d.Changed {
		fmt.Fprintf(w, "  ~ %s\n", id)
	}
}

// orderDiff renders entry order changes as a unified diff of ids. It returns
// "" when the order is unchanged.
func orderDiff(prev, next *index.StoryIndex, prevName, nextName string) (string, error) {
	a := idLines(prev)
	b := idLines(next)
	if strings.Join(a, "") == strings.Join(b, "") {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: prevName,
		ToFile:   nextName,
		Context:  3,
	})
}

func idLines(idx *index.StoryIndex) []string {
	ids := idx.IDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id+"\n")
	}
	return out
}

func printSorted(w io.Writer, entries []ports.SortedEntry) {
	for i, e := range entries {
		fmt.Fprintf(w, "%4d  %-5s  %s  (%s / %s)\n", i+1, e.Type, e.ID, e.Title, e.Name)
	}
}
