// # internal/engine/parser/pool.go
package parser

import (
	"sync"
	"sync/atomic"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// ParserPool recycles tree-sitter parsers for one grammar. Safe for
// concurrent use; trees outlive the parser that produced them.
type ParserPool struct {
	name   string
	lang   *sitter.Language
	pool   sync.Pool
	leased atomic.Int64
}

// NewParserPool keeps a reference to lang, which must stay valid for the
// lifetime of the pool.
func NewParserPool(name string, lang *sitter.Language) *ParserPool {
	p := &ParserPool{name: name, lang: lang}
	p.pool.New = func() any {
		sp := sitter.NewParser()
		_ = sp.SetLanguage(lang)
		return sp
	}
	return p
}

func (p *ParserPool) Name() string { return p.name }

func (p *ParserPool) Get() *sitter.Parser {
	sp := p.pool.Get().(*sitter.Parser)
	_ = sp.SetLanguage(p.lang)
	p.leased.Add(1)
	return sp
}

// Put resets sp and returns it to the pool. sp must not be used afterwards.
func (p *ParserPool) Put(sp *sitter.Parser) {
	if sp == nil {
		return
	}
	p.leased.Add(-1)
	sp.Reset()
	p.pool.Put(sp)
}

// Leased counts parsers handed out and not yet returned.
func (p *ParserPool) Leased() int {
	return int(p.leased.Load())
}
