package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/cache"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/memory"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/natives"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/id"
)

// Engine accepts script submissions and runs them on pooled instances
type Engine struct {
	config   Config
	logger   *zap.Logger
	observer Observer

	memory  *memory.Manager
	cache   *cache.Cache[*goja.Program]
	pool    *sandbox.Pool
	fetcher *natives.Fetcher

	closed    atomic.Bool
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
}

// New creates an engine. observer may be nil.
func New(config Config, logger *zap.Logger, observer Observer) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		memObs  memory.Observer
		poolObs sandbox.Observer
	)
	if observer != nil {
		memObs, poolObs = observer, observer
	}

	compiled, err := cache.New[*goja.Program](config.Cache, logger.Named("cache"))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:   config,
		logger:   logger,
		observer: observer,
		memory:   memory.NewManager(config.Memory, logger.Named("memory"), memObs),
		cache:    compiled,
		pool:     sandbox.NewPool(config.Pool, logger.Named("pool"), poolObs),
		fetcher:  natives.NewFetcher(config.Network, logger.Named("fetch")),
	}

	logger.Info("Script engine started",
		zap.Int("pool_size", e.pool.Config().Size),
		zap.Int("cache_capacity", config.Cache.Capacity),
		zap.Bool("network", config.Network.Enabled))
	return e, nil
}

// DefaultOptions returns submission options seeded from the configuration
func (e *Engine) DefaultOptions() Options {
	return Options{
		Timeout:          e.pool.Config().Timeout,
		AwaitAsyncResult: e.config.AwaitAsyncResult,
	}
}

// Memory returns the manager backing guest buffers. Host callers use it to
// allocate buffers they pass as input.
func (e *Engine) Memory() *memory.Manager { return e.memory }

// Fetcher returns the outbound client shared by guest fetch calls
func (e *Engine) Fetcher() *natives.Fetcher { return e.fetcher }

// Submit compiles source, or takes it from the cache, and runs it on a
// pooled instance with input bound as the global "input". It never
// returns nil; failures are reported in the result.
func (e *Engine) Submit(ctx context.Context, source string, input any, opts Options) *Result {
	start := time.Now()
	res := &Result{ExecutionID: id.NewExecutionID()}
	res.enter(StateIdle)
	logger := e.logger.With(zap.String("execution", res.ExecutionID.String()))
	e.submitted.Add(1)

	defer func() {
		res.enter(StateReleased)
		res.Duration = time.Since(start)
		e.finish(logger, res)
	}()

	if e.closed.Load() {
		e.fail(res, errs.New(errs.KindClosed, "submit", "engine is closed"))
		return res
	}

	unit, err := e.compile(res, logger, source, opts)
	if err != nil {
		e.fail(res, err)
		return res
	}
	defer unit.Unpin()

	res.enter(StateQueued)
	inst, err := e.pool.Acquire(ctx)
	if err != nil {
		e.fail(res, err)
		return res
	}

	scope := e.memory.NewScope(res.ExecutionID.String())
	var binding *natives.Binding
	task := sandbox.Task{
		Program: unit.Form,
		Timeout: opts.Timeout,
		Await:   opts.AwaitAsyncResult,
		Bind: func(ctx context.Context, vm *goja.Runtime) error {
			b, err := natives.Bind(ctx, vm, natives.Env{Scope: scope, Fetcher: e.fetcher, Logger: logger})
			if err != nil {
				return err
			}
			binding = b
			v, err := b.Input(input)
			if err != nil {
				return err
			}
			return vm.Set(sandbox.InputGlobal, v)
		},
		Export: func(_ *goja.Runtime, v goja.Value) (any, error) {
			return binding.Export(v)
		},
	}

	res.enter(StateRunning)
	logger.Debug("Execution running", zap.String("instance", inst.ID().String()))
	out, runErr := inst.Run(ctx, task)
	if out != nil {
		res.Console = out.Console
	}

	switch {
	case runErr == nil:
		res.Success = true
		res.Value = out.Value
		res.enter(StateCompleted)
	default:
		e.fail(res, runErr)
	}

	if err := e.pool.Release(inst); err != nil && !errors.Is(err, errs.ErrInternalFault) {
		logger.Warn("Instance release failed", zap.Error(err))
	}
	freed := scope.Close()
	logger.Debug("Execution released", zap.Int("buffers_released", freed))
	return res
}

// compile returns the pinned compiled form of source. Compiling is only
// entered by the submission that actually compiles.
func (e *Engine) compile(res *Result, logger *zap.Logger, source string, opts Options) (*cache.CompiledUnit[*goja.Program], error) {
	var flags []string
	if opts.Strict {
		flags = append(flags, "strict")
	}
	fp := cache.Fingerprint(source, flags...)

	unit, how, err := e.cache.GetOrCompile(fp, func() (*goja.Program, int, error) {
		res.enter(StateCompiling)
		prog, err := sandbox.Compile(res.ExecutionID.String()+".js", source, opts.Strict)
		if err != nil {
			return nil, 0, err
		}
		return prog, sandbox.ProgramSize(source), nil
	}, cache.Options{NoWait: opts.NoWaitCompile})

	if err != nil {
		return nil, err
	}
	res.CacheHit = how == cache.Hit || how == cache.Shared
	logger.Debug("Program ready", zap.String("fingerprint", cache.Short(fp)), zap.String("cache", how.String()))
	return unit, nil
}

func (e *Engine) fail(res *Result, err error) {
	res.Success = false
	res.Error = err
	if errors.Is(err, errs.ErrExecutionTimeout) {
		res.enter(StateTimedOut)
		return
	}
	res.enter(StateFailed)
}

func (e *Engine) finish(logger *zap.Logger, res *Result) {
	kind := res.ErrorKind()
	switch res.State {
	case StateCompleted:
		e.completed.Add(1)
	case StateTimedOut:
		e.timedOut.Add(1)
	default:
		e.failed.Add(1)
	}
	if e.observer != nil {
		e.observer.ExecutionFinished(res.State, kind, res.Duration, res.CacheHit)
	}

	switch kind {
	case "", errs.KindScript, errs.KindCompile, errs.KindOutOfRange, errs.KindTypeMismatch, errs.KindReleased:
		logger.Debug("Execution finished",
			zap.String("state", string(res.State)), zap.Duration("duration", res.Duration), zap.Error(res.Error))
	default:
		logger.Warn("Execution failed",
			zap.String("state", string(res.State)), zap.String("kind", string(kind)),
			zap.Duration("duration", res.Duration), zap.Error(res.Error))
	}
}

// Stats returns a snapshot of the engine and its components
func (e *Engine) Stats() Stats {
	return Stats{
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		TimedOut:  e.timedOut.Load(),
		Pool:      e.pool.Stats(),
		Cache:     e.cache.Stats(),
		Memory:    e.memory.Stats(),
	}
}

// Close stops accepting submissions and shuts down the pool and the memory
// manager. Executions still running finish against a closed pool.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := multierr.Combine(e.pool.Close(), e.memory.Close())
	e.cache.Purge()
	e.logger.Info("Script engine stopped")
	return err
}
