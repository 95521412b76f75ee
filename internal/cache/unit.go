package cache

import (
	"sync/atomic"
	"time"
)

// CompiledUnit is a cached compiled form. Eviction only drops the cache's
// reference; an execution holding the unit keeps using it.
type CompiledUnit[T any] struct {
	Fingerprint string
	Form        T
	SizeBytes   int

	lastUsed atomic.Int64
	pins     atomic.Int32
	evicted  atomic.Bool
}

func newUnit[T any](fp string, form T, size int) *CompiledUnit[T] {
	u := &CompiledUnit[T]{Fingerprint: fp, Form: form, SizeBytes: size}
	u.touch()
	return u
}

func (u *CompiledUnit[T]) touch() {
	u.lastUsed.Store(time.Now().UnixNano())
}

// Pin marks the unit as in use and returns it
func (u *CompiledUnit[T]) Pin() *CompiledUnit[T] {
	u.pins.Add(1)
	return u
}

// Unpin releases one pin
func (u *CompiledUnit[T]) Unpin() {
	if u.pins.Add(-1) < 0 {
		u.pins.Store(0)
	}
}

// Pinned reports whether any execution holds the unit
func (u *CompiledUnit[T]) Pinned() bool { return u.pins.Load() > 0 }

// Evicted reports whether the cache has dropped the unit
func (u *CompiledUnit[T]) Evicted() bool { return u.evicted.Load() }

// LastUsedAt returns the time of the last lookup that returned the unit
func (u *CompiledUnit[T]) LastUsedAt() time.Time {
	return time.Unix(0, u.lastUsed.Load())
}
