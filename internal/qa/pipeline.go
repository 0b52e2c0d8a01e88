// Package qa builds the answering pipeline for one indexed document: an eino
// chain that retrieves the most relevant chunks, formats them into a prompt,
// and asks the chat model for an answer grounded in that context.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

var (
	// ErrAnswer is returned when no answer could be produced.
	ErrAnswer = errors.New("qa: failed to answer question")
	// ErrUnavailable is returned when the chat model breaker is open.
	ErrUnavailable = errors.New("qa: chat model unavailable")
)

const systemPrompt = `You answer questions about a single document the user uploaded.
Use only the context passages below. If the passages do not contain the answer,
say that you don't know rather than guessing. Keep answers short and factual.`

const userTemplate = `Context:
{context}

Question: {question}`

// promptOverhead approximates the fixed prompt in tokens for budget trimming.
var promptOverhead = budget.Estimate(systemPrompt) + budget.Estimate(userTemplate) + 16

// Config holds the dependencies of a Pipeline.
type Config struct {
	// ChatModel generates the answer.
	ChatModel model.BaseChatModel

	// Retriever fetches context for the question.
	Retriever rag.Retriever

	// TopK is the number of chunks retrieved per question. Defaults to
	// rag.DefaultTopK.
	TopK int

	// MaxContextTokens bounds the prompt size; lower-ranked chunks are
	// dropped to fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// Breaker guards chat model calls. Nil disables it.
	Breaker *gobreaker.CircuitBreaker
}

// Result is an answer with the passages it was grounded on.
type Result struct {
	Answer  string
	Sources []*schema.Document
	// PromptTokens is the estimated size of the prompt sent to the model.
	PromptTokens int
}

// Pipeline answers questions about one document.
type Pipeline struct {
	runnable compose.Runnable[string, *schema.Message]
}

// trace collects per-call details from inside the chain.
type trace struct {
	sources      []*schema.Document
	promptTokens int
}

type traceKey struct{}

// New compiles the retrieve → prompt → model chain.
func New(ctx context.Context, cfg *Config) (*Pipeline, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("qa: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("qa: Retriever must not be nil")
	}
	ret := NewRetriever(cfg.Retriever, cfg.TopK)
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}

	var chatModel model.BaseChatModel = cfg.ChatModel
	if cfg.Breaker != nil {
		chatModel = &breakerModel{inner: cfg.ChatModel, cb: cfg.Breaker}
	}

	retrieve := func(ctx context.Context, question string) (map[string]any, error) {
		docs, err := ret.Retrieve(ctx, question)
		if err != nil {
			return nil, fmt.Errorf("retrieve context: %w", err)
		}

		reserved := promptOverhead + budget.Estimate(question)
		kept := budget.TrimDocuments(docs, reserved, maxTokens)
		if dropped := len(docs) - len(kept); dropped > 0 {
			logging.FromContext(ctx).Warn("budget: dropped context passages to fit context window",
				slog.Int("dropped", dropped),
				slog.Int("retained", len(kept)),
				slog.Int("max_tokens", maxTokens),
			)
		}
		if tr, ok := ctx.Value(traceKey{}).(*trace); ok {
			tr.sources = kept
		}
		return map[string]any{
			"context":  formatContext(kept),
			"question": question,
		}, nil
	}

	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userTemplate),
	)

	measure := func(ctx context.Context, msgs []*schema.Message) ([]*schema.Message, error) {
		tokens := budget.EstimateMessages(msgs)
		if tr, ok := ctx.Value(traceKey{}).(*trace); ok {
			tr.promptTokens = tokens
		}
		logging.FromContext(ctx).Debug("qa: prompt rendered",
			slog.Int("messages", len(msgs)),
			slog.Int("estimated_tokens", tokens),
		)
		return msgs, nil
	}

	chain := compose.NewChain[string, *schema.Message]()
	chain.
		AppendLambda(compose.InvokableLambda(retrieve), compose.WithNodeName("retrieve")).
		AppendChatTemplate(tpl, compose.WithNodeName("prompt")).
		AppendLambda(compose.InvokableLambda(measure), compose.WithNodeName("measure")).
		AppendChatModel(chatModel, compose.WithNodeName("chat_model"))

	runnable, err := chain.Compile(ctx, compose.WithGraphName("docqa"))
	if err != nil {
		return nil, fmt.Errorf("qa: compile chain: %w", err)
	}
	return &Pipeline{runnable: runnable}, nil
}

// Answer runs the chain for question. Failures wrap ErrAnswer, and also
// ErrUnavailable when the breaker rejected the call. An empty reply is an
// error.
func (p *Pipeline) Answer(ctx context.Context, question string) (*Result, error) {
	tr := &trace{}
	ctx = context.WithValue(ctx, traceKey{}, tr)

	msg, err := p.runnable.Invoke(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnswer, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("%w: model returned an empty reply", ErrAnswer)
	}
	return &Result{
		Answer:       strings.TrimSpace(msg.Content),
		Sources:      tr.sources,
		PromptTokens: tr.promptTokens,
	}, nil
}

// formatContext renders passages in rank order, separated by blank lines.
func formatContext(docs []*schema.Document) string {
	if len(docs) == 0 {
		return "(no relevant passages found)"
	}
	var sb strings.Builder
	for i, d := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if page, ok := d.MetaData["page"]; ok {
			fmt.Fprintf(&sb, "[%d] (page %v)\n", i+1, page)
		} else {
			fmt.Fprintf(&sb, "[%d]\n", i+1)
		}
		sb.WriteString(d.Content)
	}
	return sb.String()
}
