package index

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestSummarize(t *testing.T) {
	idx := NewStoryIndex([]*Entry{
		{Type: TypeStory, ID: "a--one", Title: "A", ImportPath: "./A.stories.ts"},
		{Type: TypeStory, ID: "a--two", Title: "A", ImportPath: "./A.stories.ts", Tags: []string{TagPlayFn}},
		{Type: TypeStory, ID: "b--one", Title: "B", ImportPath: "./B.stories.ts"},
		{Type: TypeDocs, ID: "intro--docs", Title: "Intro", ImportPath: "./Intro.mdx", Standalone: boolPtr(true)},
		{Type: TypeDocs, ID: "a--docs", Title: "A", ImportPath: "./A.stories.ts", Tags: []string{TagAutodocs}, Standalone: boolPtr(false)},
	})

	assert.Equal(t, Summary{
		StoryCount:     3,
		DocsPageCount:  1,
		MDXCount:       1,
		ComponentCount: 2,
		AutodocsCount:  1,
		PlayStoryCount: 1,
	}, Summarize(idx))
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(NewStoryIndex(nil)))
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestSummarize_MissingStandalone(t *testing.T) {
	idx := NewStoryIndex([]*Entry{
		{Type: TypeDocs, ID: "x--docs", ImportPath: "./X.mdx"},
		{Type: TypeDocs, ID: "y--docs", ImportPath: "./Y.stories.js"},
	})
	s := Summarize(idx)
	assert.Equal(t, 0, s.MDXCount)
	assert.Equal(t, 1, s.StoriesMDXCount)
	assert.Equal(t, 1, s.DocsPageCount)
}

func TestStoryIndex_JSONKeepsOrder(t *testing.T) {
	idx := NewStoryIndex([]*Entry{
		{Type: TypeStory, ID: "z--one", Name: "One", Title: "Z", ImportPath: "./Z.stories.js", Tags: []string{"dev"}},
		{Type: TypeStory, ID: "a--one", Name: "One", Title: "A", ImportPath: "./A.stories.js", Tags: []string{"dev"}},
		{Type: TypeDocs, ID: "m--docs", Name: "Docs", Title: "M", ImportPath: "./M.mdx", Tags: []string{}, Standalone: boolPtr(true)},
	})

	data, err := json.Marshal(idx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"v":5,"entries":{"z--one":`)

	var back StoryIndex
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 5, back.V)
	assert.Equal(t, []string{"z--one", "a--one", "m--docs"}, back.IDs())
	assert.True(t, back.Get("m--docs").IsStandalone())
}

func TestStoryIndex_UnmarshalRejectsArrayEntries(t *testing.T) {
	var idx StoryIndex
	assert.Error(t, json.Unmarshal([]byte(`{"v":5,"entries":[]}`), &idx))
}

func TestDiff(t *testing.T) {
	prev := NewStoryIndex([]*Entry{
		{Type: TypeStory, ID: "a--one", Title: "A"},
		{Type: TypeStory, ID: "b--one", Title: "B"},
	})
	next := NewStoryIndex([]*Entry{
		{Type: TypeStory, ID: "b--one", Title: "B", Name: "Renamed"},
		{Type: TypeStory, ID: "c--one", Title: "C"},
	})

	d := Diff(prev, next)
	assert.Equal(t, []string{"c--one"}, d.Added)
	assert.Equal(t, []string{"a--one"}, d.Removed)
	assert.Equal(t, []string{"b--one"}, d.Changed)
	assert.False(t, d.Empty())
	assert.True(t, Diff(prev, prev).Empty())
}
