package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config bounds the cache
type Config struct {
	Capacity int   // maximum number of compiled units
	MaxBytes int64 // 0 disables the byte bound
}

// DefaultConfig returns the default bounds
func DefaultConfig() Config {
	return Config{
		Capacity: 512,
		MaxBytes: 64 << 20,
	}
}

// CompileFunc produces a compiled form and its approximate size in bytes
type CompileFunc[T any] func() (form T, size int, err error)

// Options tune a single lookup
type Options struct {
	// NoWait compiles directly, without caching, when another caller is
	// already compiling the same fingerprint
	NoWait bool
}

// Result describes how a lookup was served
type Result uint8

const (
	Hit      Result = iota // found in the cache
	Compiled               // compiled by this caller and cached
	Shared                 // waited on another caller's compile
	Direct                 // compiled uncached under NoWait
)

// String returns the string representation of the result
func (r Result) String() string {
	switch r {
	case Hit:
		return "hit"
	case Compiled:
		return "compiled"
	case Shared:
		return "shared"
	case Direct:
		return "direct"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of the cache
type Stats struct {
	Entries            int
	Bytes              int64
	Hits               uint64
	Misses             uint64
	Compiles           uint64
	Failures           uint64
	Evictions          uint64
	EvictedWhilePinned uint64
}

// Cache holds compiled forms keyed by fingerprint with LRU eviction
type Cache[T any] struct {
	config Config
	logger *zap.Logger
	lru    *lru.Cache[string, *CompiledUnit[T]]
	group  singleflight.Group

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	bytes              atomic.Int64
	hits               atomic.Uint64
	misses             atomic.Uint64
	compiles           atomic.Uint64
	failures           atomic.Uint64
	evictions          atomic.Uint64
	evictedWhilePinned atomic.Uint64
}

// New creates a cache
func New[T any](config Config, logger *zap.Logger) (*Cache[T], error) {
	if config.Capacity <= 0 {
		config.Capacity = DefaultConfig().Capacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache[T]{
		config:   config,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}

	l, err := lru.NewWithEvict(config.Capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

func (c *Cache[T]) onEvict(fp string, unit *CompiledUnit[T]) {
	unit.evicted.Store(true)
	c.bytes.Add(-int64(unit.SizeBytes))
	c.evictions.Add(1)
	if unit.Pinned() {
		c.evictedWhilePinned.Add(1)
	}
}

// Get returns the unit for fp, pinned, or false on a miss. Callers must
// Unpin it when done.
func (c *Cache[T]) Get(fp string) (*CompiledUnit[T], bool) {
	unit, ok := c.lru.Get(fp)
	if !ok {
		return nil, false
	}
	unit.touch()
	return unit.Pin(), true
}

// Put stores a compiled form and returns the cached unit, unpinned
func (c *Cache[T]) Put(fp string, form T, size int) *CompiledUnit[T] {
	unit := newUnit(fp, form, size)
	delta := int64(size)
	// Replacing a key does not run the eviction callback
	if old, ok := c.lru.Peek(fp); ok {
		old.evicted.Store(true)
		delta -= int64(old.SizeBytes)
	}
	c.lru.Add(fp, unit)
	c.bytes.Add(delta)
	c.enforceBytes()
	return unit
}

func (c *Cache[T]) enforceBytes() {
	if c.config.MaxBytes <= 0 {
		return
	}
	for c.bytes.Load() > c.config.MaxBytes && c.lru.Len() > 1 {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			return
		}
	}
}

// GetOrCompile returns a pinned unit for fp, compiling it at most once
// across concurrent callers. Failed compiles are never cached.
func (c *Cache[T]) GetOrCompile(fp string, compile CompileFunc[T], opts Options) (*CompiledUnit[T], Result, error) {
	if unit, ok := c.Get(fp); ok {
		c.hits.Add(1)
		return unit, Hit, nil
	}

	if opts.NoWait && c.compiling(fp) {
		c.misses.Add(1)
		form, size, err := c.run(compile)
		if err != nil {
			return nil, Direct, err
		}
		return newUnit(fp, form, size).Pin(), Direct, nil
	}

	leader, found := false, false
	v, err, _ := c.group.Do(fp, func() (any, error) {
		leader = true
		// A compile that finished between Get and Do already populated the cache
		if unit, ok := c.lru.Get(fp); ok {
			found = true
			return unit, nil
		}

		c.markInflight(fp, true)
		defer c.markInflight(fp, false)

		form, size, err := c.run(compile)
		if err != nil {
			return nil, err
		}
		return c.Put(fp, form, size), nil
	})

	result := Shared
	switch {
	case found:
		result = Hit
	case leader:
		result = Compiled
	}
	if result == Compiled {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	if err != nil {
		return nil, result, err
	}

	unit := v.(*CompiledUnit[T])
	unit.touch()
	return unit.Pin(), result, nil
}

func (c *Cache[T]) run(compile CompileFunc[T]) (T, int, error) {
	c.compiles.Add(1)
	start := time.Now()
	form, size, err := compile()
	if err != nil {
		c.failures.Add(1)
		c.logger.Debug("Compile failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return form, 0, err
	}
	return form, size, nil
}

func (c *Cache[T]) compiling(fp string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	_, ok := c.inflight[fp]
	return ok
}

func (c *Cache[T]) markInflight(fp string, on bool) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if on {
		c.inflight[fp] = struct{}{}
	} else {
		delete(c.inflight, fp)
	}
}

// Remove drops fp from the cache. Units already handed out stay usable.
func (c *Cache[T]) Remove(fp string) bool {
	return c.lru.Remove(fp)
}

// Purge empties the cache
func (c *Cache[T]) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached units
func (c *Cache[T]) Len() int {
	return c.lru.Len()
}

// Stats returns current cache statistics
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Entries:            c.lru.Len(),
		Bytes:              c.bytes.Load(),
		Hits:               c.hits.Load(),
		Misses:             c.misses.Load(),
		Compiles:           c.compiles.Load(),
		Failures:           c.failures.Load(),
		Evictions:          c.evictions.Load(),
		EvictedWhilePinned: c.evictedWhilePinned.Load(),
	}
}
