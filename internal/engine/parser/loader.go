// # internal/engine/parser/loader.go
package parser

import (
	"fmt"
	"unsafe"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// GrammarLoader holds the compiled-in grammars enabled by a registry.
type GrammarLoader struct {
	languages map[string]*sitter.Language
	registry  map[string]LanguageSpec
}

func NewGrammarLoader() (*GrammarLoader, error) {
	return NewGrammarLoaderWithRegistry(nil)
}

// NewGrammarLoaderWithRegistry loads the grammars registry enables; a nil
// registry means the defaults.
func NewGrammarLoaderWithRegistry(registry map[string]LanguageSpec) (*GrammarLoader, error) {
	if registry == nil {
		registry = DefaultLanguageRegistry()
	}
	if err := validateLanguageRegistry(registry); err != nil {
		return nil, err
	}

	gl := &GrammarLoader{
		languages: make(map[string]*sitter.Language),
		registry:  cloneLanguageRegistry(registry),
	}
	for name, spec := range gl.registry {
		if !spec.Enabled {
			continue
		}
		raw, ok := compiledGrammars[name]
		if !ok {
			return nil, fmt.Errorf("language %q has no compiled grammar", name)
		}
		gl.languages[name] = sitter.NewLanguage(raw())
	}
	return gl, nil
}

var compiledGrammars = map[string]func() unsafe.Pointer{
	LangJavaScript: tree_sitter_javascript.Language,
	LangTypeScript: tree_sitter_typescript.LanguageTypescript,
	LangTSX:        tree_sitter_typescript.LanguageTSX,
}

func (gl *GrammarLoader) Language(name string) *sitter.Language {
	return gl.languages[name]
}

func (gl *GrammarLoader) LanguageRegistry() map[string]LanguageSpec {
	return cloneLanguageRegistry(gl.registry)
}
