package qa

import (
	"context"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/rag"
)

// Metadata keys on retrieved documents.
const (
	MetaSource = "source"
)

// ragRetriever adapts a rag.Retriever to eino's retriever.Retriever so it can
// take part in a compose chain and emit retriever callbacks.
type ragRetriever struct {
	inner rag.Retriever
	topK  int
}

var _ retriever.Retriever = (*ragRetriever)(nil)

// NewRetriever wraps r for use in eino chains. topK is the default number of
// documents, overridable per call with retriever.WithTopK.
func NewRetriever(r rag.Retriever, topK int) retriever.Retriever {
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	return &ragRetriever{inner: r, topK: topK}
}

// Retrieve implements retriever.Retriever.
func (a *ragRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &a.topK}, opts...)
	k := a.topK
	if o.TopK != nil {
		k = *o.TopK
	}

	docs, err := a.inner.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}

	out := make([]*schema.Document, 0, len(docs))
	for _, d := range docs {
		meta := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta[MetaSource] = d.Source
		doc := &schema.Document{ID: d.ID, Content: d.Content, MetaData: meta}
		out = append(out, doc.WithScore(float64(d.Score)))
	}
	return out, nil
}
