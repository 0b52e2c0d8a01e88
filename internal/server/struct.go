package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/cleanup"
	"github.com/54b3r/docqa-go/internal/registry"
	"github.com/54b3r/docqa-go/internal/session"
	"github.com/54b3r/docqa-go/internal/store"
	"github.com/54b3r/docqa-go/internal/uploads"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request, body
	// included, so it also bounds upload time.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It
	// bounds indexing and answer generation.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /upload and
	// /query (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on the document endpoints.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxUploadBytes caps the size of an upload request. Zero means unlimited.
	MaxUploadBytes int64
	// CORSOrigins are the browser origins allowed to call the API with
	// credentials. "*" allows any origin. Empty disables CORS.
	CORSOrigins []string
	// HistoryLimit is the number of messages returned by GET /history
	// (default 50).
	HistoryLimit int
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Deps are the collaborators the document endpoints act on.
type Deps struct {
	// Sessions resolves the caller's session cookie.
	Sessions *session.Manager
	// Uploads stores uploaded PDFs.
	Uploads *uploads.Store
	// Registry holds each namespace's active pipeline.
	Registry *registry.Registry
	// Cleanup resets namespaces.
	Cleanup *cleanup.Coordinator
	// Builder indexes an uploaded PDF and builds its pipeline.
	Builder entryBuilder
	// History records questions and answers. Optional.
	History store.HistoryStore
}

// entryBuilder builds the registry entry for an uploaded document.
// *builder.Builder satisfies it; tests inject a fake.
type entryBuilder interface {
	Build(ctx context.Context, namespace, path string) (*registry.Entry, error)
}

// Server is the HTTP server for docqa.
type Server struct {
	// deps are the document endpoint collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped mux, exposed for tests.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
}

// queryRequest is the JSON body for POST /query.
type queryRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// queryResponse is the JSON response for POST /query.
type queryResponse struct {
	Answer string `json:"answer"`
	// PDFName is the name of the document the answer is about.
	PDFName string `json:"pdf_name"`
	// Sources are the passages the answer was grounded on, best first.
	Sources []string `json:"sources"`
}

// uploadResponse is the JSON response for POST /upload.
type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// cleanupStep is one step of a cleanup response.
type cleanupStep struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// cleanupResponse is the JSON response for POST /cleanup.
type cleanupResponse struct {
	Message string        `json:"message"`
	Steps   []cleanupStep `json:"steps"`
}

// historyMessage is one entry of GET /history.
type historyMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// historyResponse is the JSON response for GET /history.
type historyResponse struct {
	PDFName  string           `json:"pdf_name"`
	State    string           `json:"state"`
	Messages []historyMessage `json:"messages"`
}
