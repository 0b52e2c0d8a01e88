package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
)

// Metadata keys set on every page document.
const (
	MetaSource = "source"
	MetaPage   = "page"
)

// PDFParser implements the eino parser.Parser interface for PDF files. It
// emits one document per page that has extractable text.
type PDFParser struct{}

// Parse reads the whole PDF and extracts plain text page by page. Malformed
// input is reported as an error, never a panic.
func (p *PDFParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) (docs []*schema.Document, err error) {
	o := parser.GetCommonOptions(&parser.Options{}, opts...)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			docs, err = nil, fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	source := filepath.Base(o.URI)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		meta := make(map[string]any, len(o.ExtraMeta)+2)
		for k, v := range o.ExtraMeta {
			meta[k] = v
		}
		meta[MetaSource] = source
		meta[MetaPage] = i
		docs = append(docs, &schema.Document{Content: text, MetaData: meta})
	}
	return docs, nil
}
