// Package registry tracks the active answering pipeline of every namespace.
//
// Each namespace owns a slot with two locks. The operation lock serializes
// upload and cleanup for the namespace; the state lock guards the
// (state, entry) pair so a query always reads a consistent snapshot without
// waiting for an in-flight upload. Slots idle for longer than the configured
// TTL expire and are reported through OnExpired.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/54b3r/docqa-go/internal/qa"
	"github.com/54b3r/docqa-go/internal/rag"
)

// State is the lifecycle state of a namespace.
type State int

const (
	// StateEmpty means no document is indexed.
	StateEmpty State = iota
	// StateIndexing means an upload is being indexed.
	StateIndexing
	// StateReady means queries are answered from the active entry.
	StateReady
)

// String returns the lower-case name of s.
func (s State) String() string {
	switch s {
	case StateIndexing:
		return "indexing"
	case StateReady:
		return "ready"
	default:
		return "empty"
	}
}

// Answerer answers questions about the indexed document.
// *qa.Pipeline satisfies it.
type Answerer interface {
	Answer(ctx context.Context, question string) (*qa.Result, error)
}

// Entry is the active pipeline of one namespace.
type Entry struct {
	// Index is the namespace's open vector index.
	Index rag.Index
	// Pipeline answers questions against Index.
	Pipeline Answerer
	// DocumentName is the file name of the indexed PDF.
	DocumentName string
	// IndexedAt is when indexing finished.
	IndexedAt time.Time
	// Chunks is the number of chunks stored in Index.
	Chunks int

	// inflight counts the callers between Acquire and their release.
	inflight sync.WaitGroup
}

// Drain blocks until every caller that acquired e has released it. Once e
// has been replaced or cleared no new callers can acquire it, so after Drain
// its Index may be closed.
func (e *Entry) Drain() {
	e.inflight.Wait()
}

// DefaultTTL is the idle time after which a namespace expires.
const DefaultTTL = 2 * time.Hour

type slot struct {
	op sync.Mutex

	mu    sync.RWMutex
	state State
	entry *Entry
}

// Registry holds per-namespace slots.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot

	// seen tracks last access per namespace; its expiry drives OnExpired.
	seen *cache.Cache

	hookMu    sync.RWMutex
	onExpired func(namespace string)
}

// New returns a Registry whose slots expire after ttl of inactivity.
// A zero ttl uses DefaultTTL; a negative ttl disables expiry.
func New(ttl time.Duration) *Registry {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	cleanupInterval := ttl / 4
	if ttl < 0 {
		ttl = cache.NoExpiration
		cleanupInterval = 0
	}
	r := &Registry{
		slots: make(map[string]*slot),
		seen:  cache.New(ttl, cleanupInterval),
	}
	r.seen.OnEvicted(func(ns string, _ interface{}) {
		r.expire(ns)
	})
	return r
}

// OnExpired registers fn to be called when a namespace has been idle for
// longer than the TTL. fn is expected to reset the namespace.
func (r *Registry) OnExpired(fn func(namespace string)) {
	r.hookMu.Lock()
	r.onExpired = fn
	r.hookMu.Unlock()
}

// Touch marks the namespace as recently used, postponing its expiry.
func (r *Registry) Touch(ns string) {
	r.slot(ns)
	r.seen.Set(ns, struct{}{}, cache.DefaultExpiration)
}

// slot returns the namespace's slot, creating it if needed. It does not
// count as use, so cleanup run from the expiry hook lets the slot go.
func (r *Registry) slot(ns string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[ns]
	if !ok {
		s = &slot{}
		r.slots[ns] = s
	}
	return s
}

// Lock acquires the namespace's operation lock and returns its release func.
func (r *Registry) Lock(ns string) func() {
	s := r.slot(ns)
	s.op.Lock()
	return s.op.Unlock
}

// Get returns a consistent snapshot of the namespace's state and entry.
// The entry is nil unless the state is StateReady.
func (r *Registry) Get(ns string) (*Entry, State) {
	r.mu.Lock()
	s, ok := r.slots[ns]
	r.mu.Unlock()
	if !ok {
		return nil, StateEmpty
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry, s.state
}

// Acquire is Get for callers that use the entry after the call returns. The
// entry, if any, stays open until release is called; see Entry.Drain.
// release is never nil.
func (r *Registry) Acquire(ns string) (e *Entry, state State, release func()) {
	r.mu.Lock()
	s, ok := r.slots[ns]
	r.mu.Unlock()
	if !ok {
		return nil, StateEmpty, func() {}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry == nil {
		return nil, s.state, func() {}
	}
	s.entry.inflight.Add(1)
	return s.entry, s.state, s.entry.inflight.Done
}

// MarkIndexing moves the namespace to StateIndexing and drops any entry.
// Callers must hold the operation lock.
func (r *Registry) MarkIndexing(ns string) *Entry {
	return r.swap(ns, StateIndexing, nil)
}

// Set installs e as the namespace's active entry.
// Callers must hold the operation lock.
func (r *Registry) Set(ns string, e *Entry) {
	if e == nil {
		r.swap(ns, StateEmpty, nil)
		return
	}
	r.swap(ns, StateReady, e)
}

// Clear empties the namespace and returns the previous entry, if any.
// Callers must hold the operation lock.
func (r *Registry) Clear(ns string) *Entry {
	return r.swap(ns, StateEmpty, nil)
}

func (r *Registry) swap(ns string, state State, e *Entry) *Entry {
	s := r.slot(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.entry
	s.state = state
	s.entry = e
	return prev
}

// ClearAll drops every slot and returns the entries that were active.
// Expiry callbacks are not invoked for the dropped slots.
func (r *Registry) ClearAll() []*Entry {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]*slot)
	r.mu.Unlock()
	r.seen.Flush()

	var out []*Entry
	for _, s := range slots {
		s.mu.Lock()
		if s.entry != nil {
			out = append(out, s.entry)
		}
		s.entry = nil
		s.state = StateEmpty
		s.mu.Unlock()
	}
	return out
}

// Len returns the number of tracked namespaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Ready returns the number of namespaces in StateReady.
func (r *Registry) Ready() int {
	r.mu.Lock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.Unlock()

	n := 0
	for _, s := range slots {
		s.mu.RLock()
		if s.state == StateReady {
			n++
		}
		s.mu.RUnlock()
	}
	return n
}

// Idle reports whether ns has gone unused since it last expired. A
// namespace touched again after its expiry was scheduled is not idle.
func (r *Registry) Idle(ns string) bool {
	_, touched := r.seen.Get(ns)
	return !touched
}

// Expire runs the expiry path for ns immediately, as if it had been idle
// for the whole TTL. It is a no-op for namespaces not touched since their
// last expiry.
func (r *Registry) Expire(ns string) {
	r.seen.Delete(ns)
}

// expire reports ns to the expiry hook, then forgets the slot unless it was
// used again in the meantime.
func (r *Registry) expire(ns string) {
	r.hookMu.RLock()
	fn := r.onExpired
	r.hookMu.RUnlock()
	if fn != nil {
		fn(ns)
	}

	if !r.Idle(ns) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[ns]
	if !ok {
		return
	}
	s.mu.RLock()
	idle := s.state == StateEmpty
	s.mu.RUnlock()
	if idle && s.op.TryLock() {
		delete(r.slots, ns)
		s.op.Unlock()
	}
}
