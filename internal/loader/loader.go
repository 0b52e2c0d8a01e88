// Package loader turns a stored PDF into page documents using the eino-ext
// file loader with a PDF text parser.
package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// ErrLoad is returned when a file cannot be read as a PDF or contains no
// extractable text.
var ErrLoad = errors.New("loader: error loading PDF")

// Loader loads PDF files from disk.
type Loader struct {
	files *file.FileLoader
}

// New constructs a Loader. Every file is parsed as PDF regardless of its
// extension casing; callers only hand it files the upload store accepted.
func New(ctx context.Context) (*Loader, error) {
	pdfParser := &PDFParser{}
	ext, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers:        map[string]parser.Parser{".pdf": pdfParser},
		FallbackParser: pdfParser,
	})
	if err != nil {
		return nil, fmt.Errorf("loader: build parser: %w", err)
	}
	fl, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      ext,
	})
	if err != nil {
		return nil, fmt.Errorf("loader: build file loader: %w", err)
	}
	return &Loader{files: fl}, nil
}

// Load returns one document per page with text. The error wraps ErrLoad
// when the file is unreadable, malformed, or yields no text.
func (l *Loader) Load(ctx context.Context, path string) ([]*schema.Document, error) {
	docs, err := l.files.Load(ctx, document.Source{URI: path})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no extractable text in %s", ErrLoad, path)
	}
	return docs, nil
}
