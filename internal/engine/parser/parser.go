// # internal/engine/parser/parser.go
package parser

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"storyindex/internal/core/errors"
	"storyindex/internal/shared/observability"
	"storyindex/internal/shared/util"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// Parser turns story and preview sources into syntax trees. It never
// evaluates the source.
type Parser struct {
	loader     *GrammarLoader
	pools      map[string]*ParserPool
	extensions map[string]string
}

func NewParser(loader *GrammarLoader) *Parser {
	p := &Parser{
		loader:     loader,
		pools:      make(map[string]*ParserPool),
		extensions: make(map[string]string),
	}
	for lang, spec := range loader.LanguageRegistry() {
		if !spec.Enabled {
			continue
		}
		grammar := loader.Language(lang)
		if grammar == nil {
			continue
		}
		p.pools[lang] = NewParserPool(lang, grammar)
		for _, ext := range spec.Extensions {
			p.extensions[strings.ToLower(ext)] = lang
		}
	}
	return p
}

// NewDefaultParser builds a parser over the compiled-in JS, TS and TSX grammars.
func NewDefaultParser() (*Parser, error) {
	return NewParserWithLanguages(nil)
}

// NewParserWithLanguages applies overrides to the default language registry.
func NewParserWithLanguages(overrides map[string]LanguageOverride) (*Parser, error) {
	registry, err := BuildLanguageRegistry(overrides)
	if err != nil {
		return nil, err
	}
	loader, err := NewGrammarLoaderWithRegistry(registry)
	if err != nil {
		return nil, err
	}
	return NewParser(loader), nil
}

// Parse returns the syntax tree for content. Sources with syntax errors fail
// with a PARSE_ERROR naming the first offending line.
func (p *Parser) Parse(path string, content []byte) (*SourceFile, error) {
	lang := p.GetLanguage(path)
	if lang == "" {
		return nil, errors.AddContext(
			errors.New(errors.CodeNotSupported, fmt.Sprintf("unsupported file type %q", filepath.Ext(path))),
			errors.CtxPath, path,
		)
	}
	pool := p.pools[lang]

	start := time.Now()
	sp := pool.Get()
	tree := sp.Parse(content, nil)
	pool.Put(sp)
	observability.ParsingDuration.WithLabelValues(lang).Observe(time.Since(start).Seconds())

	if tree == nil {
		return nil, errors.NewParseError(path, 1, "parser returned no tree")
	}

	root := tree.RootNode()
	if root.HasError() {
		bad := FindError(root)
		line, msg := 1, "syntax error"
		if bad != nil {
			line = int(bad.StartPosition().Row) + 1
			msg = describeError(bad, content)
		}
		tree.Close()
		return nil, errors.NewParseError(path, line, msg)
	}

	return &SourceFile{
		Path:     path,
		Language: lang,
		Source:   content,
		ParsedAt: time.Now(),
		tree:     tree,
	}, nil
}

func describeError(node *sitter.Node, source []byte) string {
	if node.IsMissing() {
		return fmt.Sprintf("missing %s", node.Kind())
	}
	text := NodeText(node, source)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	return fmt.Sprintf("unexpected %q", text)
}

func (p *Parser) GetLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return p.extensions[ext]
}

func (p *Parser) IsSupportedPath(path string) bool {
	return p.GetLanguage(path) != ""
}

func (p *Parser) SupportedExtensions() []string {
	return util.SortedStringKeys(p.extensions)
}
