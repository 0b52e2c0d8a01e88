package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/cleanup"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/registry"
	"github.com/54b3r/docqa-go/internal/server"
	"github.com/54b3r/docqa-go/internal/session"
	"github.com/54b3r/docqa-go/internal/store"
	"github.com/54b3r/docqa-go/internal/tracing"
	"github.com/54b3r/docqa-go/internal/uploads"
	"github.com/54b3r/docqa-go/internal/version"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// server and serves the web page.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var perSession bool
	var origins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP server and web page",
		Long: `Start the docqa HTTP server.

The server exposes /upload, /query and /cleanup for the embedded web page,
plus /api/health, /api/ready and /metrics for operators. Leftover uploads,
indexes and history from a previous run are wiped at startup.

Examples:
  docqa serve
  docqa serve --port 9090
  docqa serve --per-session
  docqa serve --cors-origin http://localhost:3000
  MODEL_PROVIDER=openai docqa serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			log.Info("serve starting", slog.String("version", version.String()))

			// Langfuse tracing is opt-in and a no-op without keys.
			flush := tracing.Setup(log)
			defer flush()

			st, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			indexes, indexPinger, err := buildIndexProvider(st.embedCfg, getEnvOrDefault("DOCQA_INDEX_DIR", defaultIndexDir), log)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise vector index: %w", err)
			}
			defer func() { _ = indexes.Close() }()

			pipelines, err := st.builder(indexes)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := []server.Pinger{indexPinger}
			if p := server.NewLLMPinger(provider.NewHealthChecker(st.providerCfg), string(st.providerCfg.Backend)); p != nil {
				pingers = append(pingers, p)
			}

			// DOCQA_HISTORY_DB overrides the default path; "disabled" turns
			// history off. A store that fails to open disables history
			// rather than the server.
			var history store.HistoryStore
			var historyClearer cleanup.HistoryClearer
			dbPath := getEnvOrDefault("DOCQA_HISTORY_DB", store.DefaultDBPath)
			if dbPath == store.Disabled {
				log.Info("history: disabled via DOCQA_HISTORY_DB=disabled")
			} else if hs, hsErr := store.Open(dbPath); hsErr != nil {
				log.Warn("history: failed to open store, disabling", slog.Any("error", hsErr))
			} else {
				history, historyClearer = hs, hs
				defer func() { _ = hs.Close() }()
				pingers = append(pingers, server.NewFuncPinger("history", hs.Ping))
				log.Info("history: store opened", slog.String("path", dbPath))
			}

			uploadsRoot := getEnvOrDefault("DOCQA_UPLOADS_DIR", defaultUploadsDir)
			reg := registry.New(getEnvDuration("DOCQA_SESSION_TTL", registry.DefaultTTL))
			coordinator := cleanup.New(cleanup.Config{
				UploadsRoot: uploadsRoot,
				Registry:    reg,
				Indexes:     indexes,
				History:     historyClearer,
			})

			// Sessions from a previous process can never be resumed, so
			// whatever they left behind is removed before serving.
			if err := coordinator.ResetAll(ctx); err != nil {
				return fmt.Errorf("serve: startup cleanup failed: %w", err)
			}
			audit.LogSession(ctx, log, audit.ActionStartupReset, "*",
				slog.String("uploads_dir", uploadsRoot),
			)

			if !cmd.Flags().Changed("per-session") {
				perSession = getEnvBool("DOCQA_PER_SESSION", perSession)
			}
			sessions, err := session.NewManager(session.Config{
				UploadsRoot: uploadsRoot,
				PerSession:  perSession,
				Secure:      getEnvBool("DOCQA_COOKIE_SECURE", false),
				Secret:      []byte(os.Getenv("DOCQA_SESSION_SECRET")),
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if sessions.Shared() {
				log.Info("serve: shared session mode, every client works on the same document")
			}

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("DOCQA_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("DOCQA_PORT", port)
			}
			if !cmd.Flags().Changed("cors-origin") {
				origins = getEnvList("DOCQA_CORS_ORIGINS", origins)
			}

			// A dependency that is down at startup is reported but does not
			// stop the server; /api/ready keeps reporting it.
			if err := server.NewMultiPinger(pingers...).Ping(ctx); err != nil {
				log.Warn("serve: dependency not ready at startup", slog.Any("error", err))
			}

			srv, err := server.New(server.Deps{
				Sessions: sessions,
				Uploads:  &uploads.Store{},
				Registry: reg,
				Cleanup:  coordinator,
				Builder:  pipelines,
				History:  history,
			}, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        pingers,
				APIKey:         os.Getenv("DOCQA_API_KEY"),
				MaxUploadBytes: int64(getEnvInt("DOCQA_MAX_UPLOAD_MB", 0)) << 20,
				CORSOrigins:    origins,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}
			reg.OnExpired(srv.ExpireSession)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env DOCQA_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (env DOCQA_PORT)")
	cmd.Flags().BoolVar(&perSession, "per-session", false, "Give every browser session its own document instead of one shared document (env DOCQA_PER_SESSION)")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "Origin allowed to call the API with credentials; repeatable, \"*\" allows any (env DOCQA_CORS_ORIGINS, comma-separated)")

	return cmd
}
