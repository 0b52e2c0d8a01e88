package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/version"
)

// probeTimeout is the maximum time allowed for each individual dependency
// probe during a readiness check. Kept short so /api/ready responds quickly
// even when a dependency is slow rather than unreachable.
const probeTimeout = 5 * time.Second

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Each implementation must return nil when the dependency
// is healthy and a descriptive error otherwise.
// Implementations must be safe to call from multiple goroutines.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	Ping(ctx context.Context) error

	// Name returns a short human-readable label used in readiness responses
	// (e.g. "ollama", "qdrant").
	Name() string
}

// MultiPinger aggregates one or more Pinger implementations and reports
// the combined readiness of all dependencies.
type MultiPinger struct {
	// pingers is the ordered list of dependency probes to run.
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger from the provided list of Pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping runs all registered probes sequentially and returns the first error
// encountered, or nil if all probes succeed.
func (m *MultiPinger) Ping(ctx context.Context) error {
	for _, p := range m.pingers {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

// Name returns a combined label for logging purposes.
func (m *MultiPinger) Name() string { return "multi" }

// readyCheck holds the per-dependency result of a readiness probe.
type readyCheck struct {
	// Name is the dependency label (e.g. "ollama", "qdrant").
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// Error contains the failure reason when OK is false. Empty on success.
	Error string `json:"error,omitempty"`
	// LatencyMS is how long the probe took.
	LatencyMS int64 `json:"latency_ms"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency probe succeeded.
	Ready bool `json:"ready"`
	// Checks contains the per-dependency probe results, in Pinger order.
	Checks []readyCheck `json:"checks"`
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  version.Version,
		"sessions": s.deps.Registry.Len(),
	})
}

// handleReady handles GET /api/ready for readiness checks.
// Probes run concurrently, each with its own short timeout. It returns 200
// when every dependency is reachable, or 503 when any probe fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(probeCtx)
			check := readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				check.Error = err.Error()
				log.Warn("readiness probe failed",
					slog.String("dependency", p.Name()),
					slog.Any("error", err),
				)
			}
			checks[i] = check
		}()
	}
	wg.Wait()

	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(r.Context(), w, status, resp)
}
