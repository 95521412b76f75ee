package memory

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies where a region's bytes live
type Kind uint8

const (
	KindHeap     Kind = iota // plain Go slice
	KindPooled               // slab drawn from a size-class pool
	KindMapped               // anonymous mapping outside the Go heap
	KindExternal             // host-supplied slice, never freed by the manager
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindHeap:
		return "heap"
	case KindPooled:
		return "pooled"
	case KindMapped:
		return "mapped"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// FreeReason records which release path freed a region
type FreeReason string

const (
	FreeRefcount FreeReason = "refcount" // last view released
	FreeSweep    FreeReason = "sweep"    // background sweep
	FreeClose    FreeReason = "close"    // manager shutdown
)

// Region is a contiguous backing block shared by one or more views.
//
// refs counts live views. The region is freed exactly once, either when refs
// reaches zero or when the sweep reclaims it. Accessors hold mu for reading
// while they touch data; free holds it for writing, so no reader ever sees a
// region halfway through teardown.
type Region struct {
	id    uint64
	kind  Kind
	size  int
	owner *Scope

	mu    sync.RWMutex
	data  []byte
	freed atomic.Bool
	refs  atomic.Int64

	createdAt time.Time
}

// ID returns the region identifier
func (r *Region) ID() uint64 { return r.id }

// Kind returns the backing kind
func (r *Region) Kind() Kind { return r.kind }

// Size returns the region length in bytes
func (r *Region) Size() int { return r.size }

// Refs returns the current reference count
func (r *Region) Refs() int64 { return r.refs.Load() }

// Freed reports whether the backing memory has been returned
func (r *Region) Freed() bool { return r.freed.Load() }

// retain adds a reference unless the region is already unreferenced
func (r *Region) retain() bool {
	for {
		n := r.refs.Load()
		if n <= 0 || r.freed.Load() {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// unref drops a reference and reports whether it was the last one
func (r *Region) unref() bool {
	return r.refs.Add(-1) == 0
}

// free returns the backing memory. It reports false if the region was
// already freed.
func (r *Region) free() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.freed.Load() {
		return false
	}
	r.freed.Store(true)

	data := r.data
	r.data = nil

	switch r.kind {
	case KindPooled:
		putSlab(data)
	case KindMapped:
		// munmap failures leave the mapping in place; nothing else can use it
		_ = unmapRegion(data)
	}
	return true
}
