// Package cleanup resets a namespace: its uploaded file, its registry entry,
// its vector index and its Q&A history. Every step is best-effort and the
// outcome of each is reported in a Result.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/registry"
)

// Outcome of a single cleanup step.
type Outcome string

const (
	// OutcomeSucceeded means the step completed on the first attempt.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeRecovered means the step completed on retry.
	OutcomeRecovered Outcome = "recovered"
	// OutcomeFailed means the step did not complete.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means there was nothing to do.
	OutcomeSkipped Outcome = "skipped"
)

// Step names.
const (
	StepUploads  = "uploads"
	StepRegistry = "registry"
	StepIndex    = "index"
	StepHistory  = "history"
)

// DefaultRetryDelay is the wait before the single retry of index removal.
const DefaultRetryDelay = time.Second

// Step is the outcome of one cleanup step.
type Step struct {
	Name    string
	Outcome Outcome
	Err     error
}

// Result reports every step of one reset.
type Result struct {
	Namespace string
	Steps     []Step
}

// Err returns the error of the uploads step, the only failure callers must
// surface. Index and history failures are reported in Steps only.
func (r Result) Err() error {
	for _, s := range r.Steps {
		if s.Name == StepUploads && s.Outcome == OutcomeFailed {
			return fmt.Errorf("cleanup: %s: %w", s.Name, s.Err)
		}
	}
	return nil
}

// Step returns the named step and whether it ran.
func (r Result) Step(name string) (Step, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// LogValue renders the result as step=outcome pairs.
func (r Result) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(r.Steps))
	for _, s := range r.Steps {
		v := string(s.Outcome)
		if s.Err != nil {
			v += ": " + s.Err.Error()
		}
		attrs = append(attrs, slog.String(s.Name, v))
	}
	return slog.GroupValue(attrs...)
}

func (r *Result) add(name string, outcome Outcome, err error) {
	r.Steps = append(r.Steps, Step{Name: name, Outcome: outcome, Err: err})
}

// HistoryClearer deletes Q&A history. *store.SQLiteStore satisfies it.
type HistoryClearer interface {
	Clear(ctx context.Context, namespace string) error
	ClearAll(ctx context.Context) error
}

// Config holds the dependencies of a Coordinator.
type Config struct {
	// UploadsRoot holds one directory per namespace.
	UploadsRoot string
	// Registry holds the active entries.
	Registry *registry.Registry
	// Indexes opens and removes per-namespace vector indexes.
	Indexes rag.IndexProvider
	// History is optional.
	History HistoryClearer
	// RetryDelay is the wait before retrying index removal.
	// Defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

// Coordinator runs resets. It is safe for concurrent use; callers serialize
// resets of one namespace with the registry's operation lock.
type Coordinator struct {
	cfg Config
}

// New returns a Coordinator for cfg.
func New(cfg Config) *Coordinator {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Coordinator{cfg: cfg}
}

// Reset returns the namespace to its empty state. It never fails as a whole;
// see Result.Err for the failure callers must act on. Calling it again on a
// clean namespace is harmless.
func (c *Coordinator) Reset(ctx context.Context, namespace string) Result {
	log := logging.FromContext(ctx).With(slog.String("namespace", namespace))
	res := Result{Namespace: namespace}

	if err := rag.CheckNamespace(namespace); err != nil {
		res.add(StepUploads, OutcomeFailed, err)
		return res
	}

	dir := filepath.Join(c.cfg.UploadsRoot, namespace)
	if err := recreateDir(dir); err != nil {
		log.Error("cleanup: failed to reset upload directory", slog.String("dir", dir), slog.Any("error", err))
		res.add(StepUploads, OutcomeFailed, err)
	} else {
		res.add(StepUploads, OutcomeSucceeded, nil)
	}

	prev := c.cfg.Registry.Clear(namespace)
	if prev == nil {
		res.add(StepRegistry, OutcomeSkipped, nil)
	} else {
		res.add(StepRegistry, OutcomeSucceeded, nil)
	}

	outcome, err := c.resetIndex(ctx, namespace, prev)
	if err != nil {
		log.Warn("cleanup: failed to remove vector index", slog.Any("error", err))
	}
	res.add(StepIndex, outcome, err)

	if c.cfg.History == nil {
		res.add(StepHistory, OutcomeSkipped, nil)
	} else if err := c.cfg.History.Clear(ctx, namespace); err != nil {
		log.Warn("cleanup: failed to clear history", slog.Any("error", err))
		res.add(StepHistory, OutcomeFailed, err)
	} else {
		res.add(StepHistory, OutcomeSucceeded, nil)
	}

	log.Debug("cleanup: namespace reset", slog.Any("result", res))
	return res
}

// resetIndex waits for queries still using the previous entry, empties and
// closes the namespace's index, then removes its persistent state, retrying
// the removal once after RetryDelay.
func (c *Coordinator) resetIndex(ctx context.Context, namespace string, prev *registry.Entry) (Outcome, error) {
	var idx rag.Index
	if prev != nil {
		prev.Drain()
		idx = prev.Index
	}
	if idx == nil {
		exists, err := c.cfg.Indexes.Exists(ctx, namespace)
		if err != nil {
			return OutcomeFailed, err
		}
		if !exists {
			return OutcomeSkipped, nil
		}
		idx, err = c.cfg.Indexes.Open(ctx, namespace)
		if err != nil {
			// Fall through to removal; the state on disk may be corrupt.
			idx = nil
		}
	}

	log := logging.FromContext(ctx).With(slog.String("namespace", namespace))
	if idx != nil {
		// Removal below is what matters; reset and close failures are logged only.
		if err := idx.Reset(ctx); err != nil {
			log.Warn("cleanup: index reset failed", slog.Any("error", err))
		}
		if err := idx.Close(); err != nil {
			log.Warn("cleanup: index close failed", slog.Any("error", err))
		}
	}

	err := c.cfg.Indexes.Remove(ctx, namespace)
	if err == nil {
		return OutcomeSucceeded, nil
	}

	log.Warn("cleanup: index removal failed, retrying",
		slog.Duration("delay", c.cfg.RetryDelay),
		slog.Any("error", err),
	)
	select {
	case <-time.After(c.cfg.RetryDelay):
	case <-ctx.Done():
		return OutcomeFailed, errors.Join(err, ctx.Err())
	}
	if err := c.cfg.Indexes.Remove(ctx, namespace); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeRecovered, nil
}

// ResetAll wipes every namespace: both roots are recreated, every registry
// slot is dropped and all history is deleted. It returns the first
// uploads-root failure; the others are logged.
func (c *Coordinator) ResetAll(ctx context.Context) error {
	log := logging.FromContext(ctx)

	for _, e := range c.cfg.Registry.ClearAll() {
		e.Drain()
		if e.Index != nil {
			if err := e.Index.Close(); err != nil {
				log.Warn("cleanup: close index", slog.Any("error", err))
			}
		}
	}

	if err := c.cfg.Indexes.RemoveAll(ctx); err != nil {
		log.Warn("cleanup: failed to remove vector indexes", slog.Any("error", err))
	}

	if c.cfg.History != nil {
		if err := c.cfg.History.ClearAll(ctx); err != nil {
			log.Warn("cleanup: failed to clear history", slog.Any("error", err))
		}
	}

	if err := recreateDir(c.cfg.UploadsRoot); err != nil {
		return fmt.Errorf("cleanup: reset uploads root: %w", err)
	}
	return nil
}

// recreateDir removes dir and everything under it, then creates it empty.
func recreateDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o750)
}
