package ingestion

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// Chunk metadata keys.
const (
	MetaChunkIndex = "chunk_index"
	metaSource     = "source"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// chunkNamespace seeds the name-based UUIDs of chunks.
var chunkNamespace = uuid.MustParse("6f1d8c1e-4a8e-4f59-9d2b-5d0c3a7e2b41")

// Splitter cuts documents into overlapping windows measured in runes. A
// window prefers to end on whitespace found in its back half so words are not
// split. Output is deterministic for a given input.
type Splitter struct {
	size    int
	overlap int
}

var _ document.Transformer = (*Splitter)(nil)

// NewSplitter returns a Splitter. Non-positive size selects the default; an
// overlap outside [0, size) is clamped to a tenth of the size.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Splitter{size: size, overlap: overlap}
}

// Transform implements document.Transformer. Each chunk inherits its parent's
// metadata plus a chunk_index that is global across src, and gets an ID
// derived from its source and index.
func (s *Splitter) Transform(ctx context.Context, src []*schema.Document, _ ...document.TransformerOption) ([]*schema.Document, error) {
	var out []*schema.Document
	for _, doc := range src {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		source, _ := doc.MetaData[metaSource].(string)
		for _, text := range s.Split(doc.Content) {
			meta := make(map[string]any, len(doc.MetaData)+1)
			maps.Copy(meta, doc.MetaData)
			idx := len(out)
			meta[MetaChunkIndex] = idx
			out = append(out, &schema.Document{
				ID:       ChunkID(source, idx),
				Content:  text,
				MetaData: meta,
			})
		}
	}
	return out, nil
}

// Split returns the trimmed, non-empty windows of text.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+s.size, len(runes))
		if end < len(runes) {
			for j := end; j > start+s.size/2; j-- {
				if unicode.IsSpace(runes[j-1]) {
					end = j
					break
				}
			}
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		next := end - s.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// ChunkID returns a deterministic UUID for the chunk at index of source.
func ChunkID(source string, index int) string {
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s#%d", source, index)).String()
}
