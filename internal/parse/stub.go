//go:build !cgo

package parse

import (
	"context"
	"errors"

	tgerrors "tangle/internal/errors"
	"tangle/internal/source"
)

// ErrNoCGO is the cause of every parse failure in builds without cgo.
var ErrNoCGO = errors.New("syntax-tree parsing requires CGO (tree-sitter)")

// Parser is a stand-in for builds without cgo. Every file fails to parse, so
// the pipeline routes it to text-mode duplicate detection.
type Parser struct{}

// NewParser creates a parser.
func NewParser(Options) *Parser {
	return &Parser{}
}

// Available reports whether syntax-tree parsing is compiled in.
func Available() bool {
	return false
}

// Parse always fails with PARSE_ERROR.
func (p *Parser) Parse(ctx context.Context, file *source.File) (*Unit, error) {
	return p.ParseSource(ctx, file.Path, file.Content, Language(file.Language))
}

// ParseSource always fails with PARSE_ERROR.
func (p *Parser) ParseSource(ctx context.Context, path string, src []byte, lang Language) (*Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, tgerrors.NewParseError(path, "parser unavailable", ErrNoCGO)
}
