package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/registry"
)

type fakeHistory struct {
	cleared []string
	all     int
	err     error
}

func (f *fakeHistory) Clear(_ context.Context, ns string) error {
	f.cleared = append(f.cleared, ns)
	return f.err
}

func (f *fakeHistory) ClearAll(context.Context) error {
	f.all++
	return f.err
}

// flakyProvider fails Remove a fixed number of times before delegating.
type flakyProvider struct {
	rag.IndexProvider
	failures atomic.Int32
	removes  atomic.Int32
}

func (p *flakyProvider) Remove(ctx context.Context, ns string) error {
	p.removes.Add(1)
	if p.failures.Load() > 0 {
		p.failures.Add(-1)
		return errors.New("directory busy")
	}
	return p.IndexProvider.Remove(ctx, ns)
}

type fixture struct {
	uploads string
	indexes *rag.SQLiteProvider
	reg     *registry.Registry
	hist    *fakeHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{
		uploads: filepath.Join(root, "uploads"),
		indexes: rag.NewSQLiteProvider(filepath.Join(root, "index")),
		reg:     registry.New(-1),
		hist:    &fakeHistory{},
	}
}

func (f *fixture) coordinator(p rag.IndexProvider) *Coordinator {
	return New(Config{
		UploadsRoot: f.uploads,
		Registry:    f.reg,
		Indexes:     p,
		History:     f.hist,
		RetryDelay:  10 * time.Millisecond,
	})
}

// populate simulates an indexed upload for ns.
func (f *fixture) populate(t *testing.T, ns string) {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Join(f.uploads, ns)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "doc.pdf"), []byte("%PDF"), 0o600); err != nil {
		t.Fatal(err)
	}
	idx, err := f.indexes.Open(ctx, ns)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	if err := idx.Upsert(ctx, []rag.Document{{ID: "1", Content: "x", Source: "doc.pdf"}}, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	f.reg.Set(ns, &registry.Entry{Index: idx, DocumentName: "doc.pdf", IndexedAt: time.Now(), Chunks: 1})
}

func outcomes(r Result) map[string]Outcome {
	out := make(map[string]Outcome, len(r.Steps))
	for _, s := range r.Steps {
		out[s.Name] = s.Outcome
	}
	return out
}

func TestReset_ClearsEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.populate(t, "ns1")
	f.populate(t, "ns2")
	ctx := context.Background()

	res := f.coordinator(f.indexes).Reset(ctx, "ns1")
	if err := res.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	want := map[string]Outcome{
		StepUploads:  OutcomeSucceeded,
		StepRegistry: OutcomeSucceeded,
		StepIndex:    OutcomeSucceeded,
		StepHistory:  OutcomeSucceeded,
	}
	got := outcomes(res)
	for name, o := range want {
		if got[name] != o {
			t.Errorf("step %s = %q, want %q", name, got[name], o)
		}
	}

	entries, err := os.ReadDir(filepath.Join(f.uploads, "ns1"))
	if err != nil {
		t.Fatalf("uploads dir must exist after reset: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("uploads dir has %d entries, want 0", len(entries))
	}
	if e, st := f.reg.Get("ns1"); e != nil || st != registry.StateEmpty {
		t.Errorf("registry = (%v, %v), want empty", e, st)
	}
	if ok, _ := f.indexes.Exists(ctx, "ns1"); ok {
		t.Error("index directory still exists")
	}
	if len(f.hist.cleared) != 1 || f.hist.cleared[0] != "ns1" {
		t.Errorf("history cleared = %v", f.hist.cleared)
	}

	// Other namespaces are untouched.
	if _, st := f.reg.Get("ns2"); st != registry.StateReady {
		t.Errorf("ns2 state = %v, want ready", st)
	}
	if ok, _ := f.indexes.Exists(ctx, "ns2"); !ok {
		t.Error("ns2 index removed")
	}
}

func TestReset_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.populate(t, "ns")
	c := f.coordinator(f.indexes)
	ctx := context.Background()

	if err := c.Reset(ctx, "ns").Err(); err != nil {
		t.Fatalf("first reset: %v", err)
	}
	res := c.Reset(ctx, "ns")
	if err := res.Err(); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	got := outcomes(res)
	if got[StepRegistry] != OutcomeSkipped || got[StepIndex] != OutcomeSkipped {
		t.Errorf("second reset steps = %v, want registry and index skipped", got)
	}
}

func TestReset_OrphanedIndex(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.populate(t, "ns")
	// Simulate a previous process: state on disk, no registry entry.
	if e := f.reg.Clear("ns"); e != nil {
		_ = e.Index.Close()
	}

	res := f.coordinator(f.indexes).Reset(context.Background(), "ns")
	if got := outcomes(res)[StepIndex]; got != OutcomeSucceeded {
		t.Errorf("index step = %q, want succeeded", got)
	}
	if ok, _ := f.indexes.Exists(context.Background(), "ns"); ok {
		t.Error("orphaned index not removed")
	}
}

func TestReset_RetriesIndexRemovalOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		failures int32
		want     Outcome
		removes  int32
	}{
		{"recovered on retry", 1, OutcomeRecovered, 2},
		{"fails after retry", 5, OutcomeFailed, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.populate(t, "ns")
			p := &flakyProvider{IndexProvider: f.indexes}
			p.failures.Store(tc.failures)

			res := f.coordinator(p).Reset(context.Background(), "ns")
			step, ok := res.Step(StepIndex)
			if !ok {
				t.Fatal("index step missing")
			}
			if step.Outcome != tc.want {
				t.Errorf("outcome = %q, want %q", step.Outcome, tc.want)
			}
			if got := p.removes.Load(); got != tc.removes {
				t.Errorf("Remove calls = %d, want %d", got, tc.removes)
			}
			// Index failures never fail the caller.
			if err := res.Err(); err != nil {
				t.Errorf("Err = %v, want nil", err)
			}
			if _, st := f.reg.Get("ns"); st != registry.StateEmpty {
				t.Errorf("registry state = %v, want empty", st)
			}
		})
	}
}

func TestReset_UploadsFailureSurfaces(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// A regular file where the uploads root should be makes MkdirAll fail.
	if err := os.MkdirAll(filepath.Dir(f.uploads), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.uploads, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	res := f.coordinator(f.indexes).Reset(context.Background(), "ns")
	if res.Err() == nil {
		t.Fatal("expected uploads failure to surface")
	}
	if got := outcomes(res)[StepHistory]; got != OutcomeSucceeded {
		t.Errorf("later steps must still run; history = %q", got)
	}
}

func TestReset_HistoryFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.hist.err = errors.New("db locked")

	res := f.coordinator(f.indexes).Reset(context.Background(), "ns")
	if err := res.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
	if got := outcomes(res)[StepHistory]; got != OutcomeFailed {
		t.Errorf("history = %q, want failed", got)
	}
}

func TestReset_InvalidNamespace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.coordinator(f.indexes).Reset(context.Background(), "../escape")
	if res.Err() == nil {
		t.Error("expected error for invalid namespace")
	}
}

func TestResetAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.populate(t, "a")
	f.populate(t, "b")
	ctx := context.Background()

	if err := f.coordinator(f.indexes).ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	if f.reg.Len() != 0 {
		t.Errorf("registry Len = %d", f.reg.Len())
	}
	entries, err := os.ReadDir(f.uploads)
	if err != nil || len(entries) != 0 {
		t.Errorf("uploads root = %v (err %v), want empty", entries, err)
	}
	for _, ns := range []string{"a", "b"} {
		if ok, _ := f.indexes.Exists(ctx, ns); ok {
			t.Errorf("index %s still exists", ns)
		}
	}
	if f.hist.all != 1 {
		t.Errorf("history ClearAll calls = %d", f.hist.all)
	}
}
