package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

// Observer receives pool events, typically for metrics
type Observer interface {
	InstanceCreated()
	InstanceDiscarded(reason DiscardReason)
	AcquireWaited(wait time.Duration, ok bool)
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Size      int
	InUse     int
	Idle      int
	Created   uint64
	Discarded uint64
	Exhausted uint64
	Closed    bool
}

// Pool manages a fixed number of reusable instances. Instances are created
// lazily, so a discarded instance is replaced on the next Acquire.
type Pool struct {
	config   Config
	logger   *zap.Logger
	observer Observer

	slots chan struct{} // one token per instance that may be checked out
	idle  chan *Instance

	mu     sync.RWMutex
	closed bool

	inUse     atomic.Int64
	created   atomic.Uint64
	discarded atomic.Uint64
	exhausted atomic.Uint64
}

// NewPool creates an instance pool
func NewPool(config Config, logger *zap.Logger, observer Observer) *Pool {
	defaults := DefaultConfig()
	if config.Size <= 0 {
		config.Size = defaults.Size
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = defaults.AcquireTimeout
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		config:   config,
		logger:   logger,
		observer: observer,
		slots:    make(chan struct{}, config.Size),
		idle:     make(chan *Instance, config.Size),
	}
	for n := 0; n < config.Size; n++ {
		p.slots <- struct{}{}
	}
	return p
}

// Config returns the effective configuration
func (p *Pool) Config() Config { return p.config }

// Acquire checks out an instance, waiting up to AcquireTimeout for one to
// become free
func (p *Pool) Acquire(ctx context.Context) (*Instance, error) {
	if p.isClosed() {
		return nil, errs.New(errs.KindClosed, "acquire", "runtime pool is closed")
	}

	start := time.Now()
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-p.slots:
	case <-ctx.Done():
		p.observe(time.Since(start), false)
		return nil, errs.Wrap(errs.KindPoolExhausted, "acquire", ctx.Err())
	case <-timer.C:
		p.exhausted.Add(1)
		p.observe(time.Since(start), false)
		return nil, errs.PoolExhausted(p.config.Size, p.config.AcquireTimeout)
	}
	p.observe(time.Since(start), true)

	if p.isClosed() {
		p.slots <- struct{}{}
		return nil, errs.New(errs.KindClosed, "acquire", "runtime pool is closed")
	}

	var inst *Instance
	select {
	case inst = <-p.idle:
	default:
		created, err := New(p.config, p.logger)
		if err != nil {
			p.slots <- struct{}{}
			return nil, err
		}
		inst = created
		p.created.Add(1)
		if p.observer != nil {
			p.observer.InstanceCreated()
		}
		p.logger.Debug("Created runtime instance", zap.String("instance", inst.ID().String()))
	}

	p.inUse.Add(1)
	return inst, nil
}

func (p *Pool) observe(wait time.Duration, ok bool) {
	if p.observer != nil {
		p.observer.AcquireWaited(wait, ok)
	}
}

// Release returns an instance to the pool. Tainted instances, instances
// that fail to reset and instances past MaxUses are discarded instead.
func (p *Pool) Release(inst *Instance) error {
	if p.isClosed() {
		return p.Discard(inst, DiscardClosed)
	}
	if reason := inst.Tainted(); reason != "" {
		return p.Discard(inst, reason)
	}
	if p.config.MaxUses > 0 && inst.Uses() >= p.config.MaxUses {
		return p.Discard(inst, DiscardRecycled)
	}

	if err := inst.Reset(); err != nil {
		p.logger.Warn("Instance reset failed, discarding",
			zap.String("instance", inst.ID().String()), zap.Error(err))
		return multierr.Append(err, p.Discard(inst, DiscardResetFailed))
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.inUse.Add(-1)
		p.slots <- struct{}{}
		return inst.Close()
	}

	p.idle <- inst
	p.inUse.Add(-1)
	p.slots <- struct{}{}
	return nil
}

// Discard drops a checked-out instance and frees its slot
func (p *Pool) Discard(inst *Instance, reason DiscardReason) error {
	err := inst.Close()

	p.discarded.Add(1)
	p.inUse.Add(-1)
	if p.observer != nil {
		p.observer.InstanceDiscarded(reason)
	}
	if reason != DiscardRecycled && reason != DiscardClosed {
		p.logger.Warn("Discarded runtime instance",
			zap.String("instance", inst.ID().String()), zap.String("reason", string(reason)))
	}

	p.slots <- struct{}{}
	return err
}

// Close closes the pool and every idle instance. Checked-out instances are
// closed when they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var err error
	for {
		select {
		case inst := <-p.idle:
			err = multierr.Append(err, inst.Close())
		default:
			return err
		}
	}
}

func (p *Pool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Stats returns pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.config.Size,
		InUse:     int(p.inUse.Load()),
		Idle:      len(p.idle),
		Created:   p.created.Load(),
		Discarded: p.discarded.Load(),
		Exhausted: p.exhausted.Load(),
		Closed:    p.isClosed(),
	}
}

// Execute runs a task on a pooled instance
func (p *Pool) Execute(ctx context.Context, task Task) (*Result, error) {
	inst, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	result, runErr := inst.Run(ctx, task)
	if relErr := p.Release(inst); relErr != nil && !errors.Is(relErr, errs.ErrInternalFault) {
		p.logger.Warn("Instance release failed", zap.Error(relErr))
	}
	return result, runErr
}
