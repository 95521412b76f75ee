package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

// Config defines memory manager limits
type Config struct {
	MaxLength        int64         // Global addressable ceiling for any buffer
	AllocCeiling     int64         // Largest single allocation
	PoolThreshold    int           // Largest allocation served from slabs
	OffHeapThreshold int           // Smallest allocation mapped outside the Go heap
	SweepInterval    time.Duration // 0 disables the background sweep
	SweepWindow      time.Duration // How long a closed scope's regions may linger
}

// DefaultConfig returns conservative defaults
func DefaultConfig() Config {
	return Config{
		MaxLength:        1 << 32,
		AllocCeiling:     256 << 20,
		PoolThreshold:    4096,
		OffHeapThreshold: 64 << 10,
		SweepInterval:    30 * time.Second,
		SweepWindow:      2 * time.Minute,
	}
}

// Observer receives region lifecycle events, typically for metrics
type Observer interface {
	RegionAllocated(kind Kind, size int)
	RegionFreed(kind Kind, size int, reason FreeReason)
}

// Stats is a point-in-time view of the manager
type Stats struct {
	LiveRegions   int
	LiveBytes     int64
	HeapBytes     int64
	PooledBytes   int64
	MappedBytes   int64
	ExternalBytes int64
	Allocations   uint64
	Frees         uint64
	Swept         uint64
}

// Manager owns every backing region handed out to buffers
type Manager struct {
	config   Config
	logger   *zap.Logger
	observer Observer

	mu      sync.Mutex
	regions map[uint64]*Region

	nextID      atomic.Uint64
	allocations atomic.Uint64
	frees       atomic.Uint64
	swept       atomic.Uint64

	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewManager creates a manager and starts its sweeper
func NewManager(config Config, logger *zap.Logger, observer Observer) *Manager {
	defaults := DefaultConfig()
	if config.MaxLength <= 0 {
		config.MaxLength = defaults.MaxLength
	}
	if config.AllocCeiling <= 0 || config.AllocCeiling > config.MaxLength {
		config.AllocCeiling = min(defaults.AllocCeiling, config.MaxLength)
	}
	if config.SweepWindow <= 0 {
		config.SweepWindow = defaults.SweepWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config:   config,
		logger:   logger,
		observer: observer,
		regions:  make(map[uint64]*Region),
		stop:     make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}

	return m
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.config
}

// Alloc returns a zero-filled host-owned buffer
func (m *Manager) Alloc(size int) (*Buffer, error) {
	return m.alloc(nil, "alloc", size, true)
}

// AllocUnsafe returns a host-owned buffer whose pooled bytes may be stale
func (m *Manager) AllocUnsafe(size int) (*Buffer, error) {
	return m.alloc(nil, "allocUnsafe", size, false)
}

// Wrap exposes a host-supplied slice as a buffer without copying. The
// manager never frees wrapped memory; releasing the last view only detaches it.
func (m *Manager) Wrap(data []byte) *Buffer {
	return m.wrap(nil, data)
}

// NewScope creates a scope for views created on behalf of one execution
func (m *Manager) NewScope(name string) *Scope {
	return &Scope{mgr: m, name: name}
}

func (m *Manager) checkSize(op string, size int) error {
	switch {
	case size < 0:
		return errs.OutOfRange(op, "size must be >= 0, received %d", size)
	case int64(size) > m.config.MaxLength:
		return errs.OutOfRange(op, "size %d exceeds maximum buffer length %d", size, m.config.MaxLength)
	case int64(size) > m.config.AllocCeiling:
		return errs.OutOfRange(op, "size %d exceeds allocation ceiling %d", size, m.config.AllocCeiling)
	}
	return nil
}

func (m *Manager) alloc(owner *Scope, op string, size int, zero bool) (*Buffer, error) {
	if m.closed.Load() {
		return nil, errs.New(errs.KindClosed, op, "memory manager is closed")
	}
	if err := m.checkSize(op, size); err != nil {
		return nil, err
	}

	var (
		data []byte
		kind = KindHeap
	)

	switch {
	case size > 0 && size <= m.config.PoolThreshold:
		if slab, ok := getSlab(size, zero); ok {
			data, kind = slab, KindPooled
		}
	case offHeapSupported && m.config.OffHeapThreshold > 0 && size >= m.config.OffHeapThreshold:
		mapped, err := mapRegion(size)
		if err != nil {
			m.logger.Warn("Anonymous mapping failed, falling back to heap",
				zap.Int("size", size), zap.Error(err))
		} else {
			data, kind = mapped, KindMapped
		}
	}
	if data == nil {
		data = make([]byte, size)
	}

	r := m.register(owner, kind, data)
	return newView(m, r, owner, 0, size), nil
}

func (m *Manager) wrap(owner *Scope, data []byte) *Buffer {
	r := m.register(owner, KindExternal, data)
	return newView(m, r, owner, 0, len(data))
}

func (m *Manager) register(owner *Scope, kind Kind, data []byte) *Region {
	r := &Region{
		id:        m.nextID.Add(1),
		kind:      kind,
		size:      len(data),
		owner:     owner,
		data:      data,
		createdAt: time.Now(),
	}
	r.refs.Store(1)

	m.mu.Lock()
	m.regions[r.id] = r
	m.mu.Unlock()

	m.allocations.Add(1)
	if m.observer != nil {
		m.observer.RegionAllocated(kind, r.size)
	}
	return r
}

// unref drops one reference and frees the region on the last one
func (m *Manager) unref(r *Region) {
	if r.unref() {
		m.free(r, FreeRefcount)
	}
}

func (m *Manager) free(r *Region, reason FreeReason) bool {
	if !r.free() {
		return false
	}

	m.mu.Lock()
	delete(m.regions, r.id)
	m.mu.Unlock()

	m.frees.Add(1)
	if reason == FreeSweep {
		m.swept.Add(1)
	}
	if m.observer != nil {
		m.observer.RegionFreed(r.kind, r.size, reason)
	}
	return true
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("Swept orphaned regions", zap.Int("regions", n))
			}
		case <-m.stop:
			return
		}
	}
}

// Sweep reclaims regions that escaped explicit release: regions whose
// refcount already reached zero, and regions whose owning scope closed more
// than SweepWindow ago. It returns the number of regions freed.
func (m *Manager) Sweep() int {
	return m.sweep(time.Now())
}

func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	candidates := make([]*Region, 0, len(m.regions))
	for _, r := range m.regions {
		if r.refs.Load() <= 0 || r.owner.closedBefore(now.Add(-m.config.SweepWindow)) {
			candidates = append(candidates, r)
		}
	}
	m.mu.Unlock()

	freed := 0
	for _, r := range candidates {
		if m.free(r, FreeSweep) {
			freed++
		}
	}
	return freed
}

// Stats returns current manager statistics
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		LiveRegions: len(m.regions),
		Allocations: m.allocations.Load(),
		Frees:       m.frees.Load(),
		Swept:       m.swept.Load(),
	}
	for _, r := range m.regions {
		size := int64(r.size)
		s.LiveBytes += size
		switch r.kind {
		case KindHeap:
			s.HeapBytes += size
		case KindPooled:
			s.PooledBytes += size
		case KindMapped:
			s.MappedBytes += size
		case KindExternal:
			s.ExternalBytes += size
		}
	}
	return s
}

// Close stops the sweeper and frees every remaining region
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stop)
	m.wg.Wait()

	m.mu.Lock()
	remaining := make([]*Region, 0, len(m.regions))
	for _, r := range m.regions {
		remaining = append(remaining, r)
	}
	m.mu.Unlock()

	for _, r := range remaining {
		m.free(r, FreeClose)
	}
	if len(remaining) > 0 {
		m.logger.Info("Memory manager closed with live regions", zap.Int("regions", len(remaining)))
	}
	return nil
}
