package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/session"
	"github.com/54b3r/docqa-go/internal/tracing"
	"github.com/54b3r/docqa-go/internal/uploads"
)

// NewAskCmd constructs the `docqa ask` command, which indexes a PDF into a
// throwaway index, answers one question about it, and removes the index.
func NewAskCmd() *cobra.Command {
	var pdfPath string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask --pdf <file.pdf> [question]",
		Short: "Answer a question about a PDF from the command line",
		Long: `Index a PDF and answer a single question about it.

The document is indexed into a temporary directory that is removed before
the command exits; nothing is shared with a running server.

Examples:
  docqa ask --pdf handbook.pdf "how many vacation days do I get?"
  docqa ask --pdf paper.pdf --sources "what dataset was used?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if pdfPath == "" {
				return fmt.Errorf("ask: --pdf is required")
			}
			if !uploads.Allowed(pdfPath) {
				return fmt.Errorf("ask: %s is not a PDF", pdfPath)
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("ask: no question provided")
			}

			flush := tracing.Setup(log)
			defer flush()

			st, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			dir, err := os.MkdirTemp("", "docqa-ask-*")
			if err != nil {
				return fmt.Errorf("ask: failed to create index directory: %w", err)
			}
			defer func() { _ = os.RemoveAll(dir) }()

			indexes := rag.NewSQLiteProvider(dir)
			pipelines, err := st.builder(indexes)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			ns, err := session.NewToken()
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			entry, err := pipelines.Build(ctx, ns, pdfPath)
			if err != nil {
				return fmt.Errorf("ask: failed to index %s: %w", pdfPath, err)
			}
			defer func() { _ = entry.Index.Close() }()
			log.Debug("ask: document indexed", slog.Int("chunks", entry.Chunks))

			res, err := entry.Pipeline.Answer(ctx, question)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Answer)
			if showSources {
				for i, d := range res.Sources {
					fmt.Fprintf(out, "\n[%d] %s\n", i+1, d.Content)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pdfPath, "pdf", "", "PDF file to ask about")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the passages the answer was based on")

	return cmd
}
