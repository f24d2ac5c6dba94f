package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepMerge_Precedence(t *testing.T) {
	project := map[string]any{"a": 1}
	component := map[string]any{"a": 2, "b": 2}
	story := map[string]any{"b": 3, "c": 3}

	got := DeepMerge(nil, project, component, story)
	assert.Equal(t, map[string]any{"a": 2, "b": 3, "c": 3}, got)
}

func TestDeepMerge_NestedAndArrays(t *testing.T) {
	base := map[string]any{
		"backgrounds": map[string]any{"default": "light", "values": []any{"light", "dark"}},
		"badges":      []any{"beta"},
	}
	override := map[string]any{
		"backgrounds": map[string]any{"values": []any{"red"}},
		"badges":      []any{"new"},
	}

	got := DeepMerge(map[string]bool{"badges": true}, base, override)
	assert.Equal(t, map[string]any{
		"backgrounds": map[string]any{"default": "light", "values": []any{"red"}},
		"badges":      []any{"beta", "new"},
	}, got)

	// inputs untouched
	assert.Equal(t, []any{"light", "dark"}, base["backgrounds"].(map[string]any)["values"])
	assert.Equal(t, []any{"beta"}, base["badges"])
}

func TestDeepMerge_ScalarReplacesMap(t *testing.T) {
	got := DeepMerge(nil, map[string]any{"docs": map[string]any{"x": 1}}, map[string]any{"docs": false})
	assert.Equal(t, map[string]any{"docs": false}, got)
}

func TestDeepMerge_Empty(t *testing.T) {
	assert.Equal(t, map[string]any{}, DeepMerge(nil))
	assert.Equal(t, map[string]any{}, DeepMerge(nil, nil, nil))
}
