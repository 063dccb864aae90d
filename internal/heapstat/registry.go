package heapstat

import (
	"runtime"
	"sync"
)

// Registry keeps live-object counts per tracked type name. The target
// server registers every per-request object here so the probe endpoint
// can report type-level growth the way the original harness did.
type Registry struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewRegistry() *Registry {
	return &Registry{counts: make(map[string]uint64)}
}

// Track increments the live count for typeName and returns a release
// func that decrements it. Releasing twice is a no-op.
func (r *Registry) Track(typeName string) func() {
	r.mu.Lock()
	r.counts[typeName]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.decrement(typeName) })
	}
}

// TrackFinalized increments the live count for typeName and arranges
// for the count to drop when obj is collected. obj must be a pointer.
// This keeps non-leaky builds honest: counts fall back once the GC
// reclaims the per-request objects.
func (r *Registry) TrackFinalized(typeName string, obj interface{}) {
	r.mu.Lock()
	r.counts[typeName]++
	r.mu.Unlock()

	runtime.SetFinalizer(obj, func(interface{}) {
		r.decrement(typeName)
	})
}

// SetCount overwrites the count for a gauge-style type whose value
// comes from the runtime rather than from tracked allocations.
func (r *Registry) SetCount(typeName string, n uint64) {
	r.mu.Lock()
	r.counts[typeName] = n
	r.mu.Unlock()
}

func (r *Registry) decrement(typeName string) {
	r.mu.Lock()
	if r.counts[typeName] > 0 {
		r.counts[typeName]--
	}
	r.mu.Unlock()
}

// Counts returns a copy of the current per-type live counts.
func (r *Registry) Counts() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]uint64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Live returns the total number of tracked live objects.
func (r *Registry) Live() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total uint64
	for _, v := range r.counts {
		total += v
	}
	return total
}
