// # internal/engine/parser/types.go
package parser

import (
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// SourceFile is a parsed story or preview source. It owns the tree-sitter
// tree; nodes obtained from it are invalid after Close.
type SourceFile struct {
	Path     string
	Language string
	Source   []byte
	ParsedAt time.Time

	tree *sitter.Tree
}

type Location struct {
	File   string
	Line   int
	Column int
}

func (f *SourceFile) Root() *sitter.Node {
	if f == nil || f.tree == nil {
		return nil
	}
	return f.tree.RootNode()
}

func (f *SourceFile) Close() {
	if f == nil || f.tree == nil {
		return
	}
	f.tree.Close()
	f.tree = nil
}

func (f *SourceFile) Text(node *sitter.Node) string {
	return NodeText(node, f.Source)
}

func (f *SourceFile) Location(node *sitter.Node) Location {
	if node == nil {
		return Location{File: f.Path}
	}
	pos := node.StartPosition()
	return Location{
		File:   f.Path,
		Line:   int(pos.Row) + 1,
		Column: int(pos.Column) + 1,
	}
}

func (f *SourceFile) Line(node *sitter.Node) int {
	return f.Location(node).Line
}
