// # internal/engine/parser/language_registry_test.go
package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLanguageRegistry_Overrides(t *testing.T) {
	off := false
	registry, err := BuildLanguageRegistry(map[string]LanguageOverride{
		LangJavaScript: {Extensions: []string{"JS", ".es6", "js"}},
		LangTSX:        {Enabled: &off},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".es6", ".js"}, registry[LangJavaScript].Extensions)
	assert.False(t, registry[LangTSX].Enabled)
	assert.Equal(t, []string{".cts", ".mts", ".ts"}, registry[LangTypeScript].Extensions)

	assert.True(t, DefaultLanguageRegistry()[LangTSX].Enabled, "defaults are not mutated")
}

func TestBuildLanguageRegistry_Rejects(t *testing.T) {
	off := false
	cases := map[string]map[string]LanguageOverride{
		"unknown":   {"python": {}},
		"duplicate": {LangJavaScript: {Extensions: []string{".ts"}}},
		"mdx":       {LangJavaScript: {Extensions: []string{".mdx"}}},
		"none": {
			LangJavaScript: {Enabled: &off},
			LangTypeScript: {Enabled: &off},
			LangTSX:        {Enabled: &off},
		},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildLanguageRegistry(overrides)
			assert.Error(t, err)
		})
	}
}

func TestNewParserWithLanguages(t *testing.T) {
	off := false
	p, err := NewParserWithLanguages(map[string]LanguageOverride{
		LangJavaScript: {Extensions: []string{".js", ".es6"}},
		LangTSX:        {Enabled: &off},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".cts", ".es6", ".js", ".mts", ".ts"}, p.SupportedExtensions())
	assert.False(t, p.IsSupportedPath("Button.stories.tsx"))

	file, err := p.Parse("Legacy.stories.es6", []byte("export default { title: 'Legacy' };\n"))
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, LangJavaScript, file.Language)
}
