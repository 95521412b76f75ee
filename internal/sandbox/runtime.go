package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/id"
)

// Instance wraps a goja VM that serves one execution at a time
type Instance struct {
	id     id.InstanceID
	vm     *goja.Runtime
	config Config
	logger *zap.Logger

	busy    atomic.Bool
	uses    int
	tainted DiscardReason // set when the instance must not be reused

	baseline *baseline
	loop     *eventLoop

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates a runtime instance with its baseline globals recorded
func New(config Config, logger *zap.Logger) (*Instance, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	inst := &Instance{
		id:     id.NewInstanceID(),
		vm:     goja.New(),
		config: config,
		logger: logger,
		loop:   newEventLoop(),
	}

	if config.MaxCallStackSize > 0 {
		inst.vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}

	if err := inst.setupGlobals(); err != nil {
		return nil, errs.InternalFault("create instance", err)
	}

	base, err := captureBaseline(inst.vm)
	if err != nil {
		return nil, errs.InternalFault("create instance", err)
	}
	inst.baseline = base

	return inst, nil
}

// ID returns the instance identifier
func (i *Instance) ID() id.InstanceID { return i.id }

// Uses returns how many executions the instance has served
func (i *Instance) Uses() int { return i.uses }

// Tainted returns the reason the instance can no longer be reused, or ""
func (i *Instance) Tainted() DiscardReason { return i.tainted }

// setupGlobals configures global objects and security
func (i *Instance) setupGlobals() error {
	vm := i.vm

	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if i.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			if err := console.Set(level, i.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		if err := vm.Set("console", console); err != nil {
			return err
		}
	}

	i.loop.install(vm)
	return nil
}

// makeConsoleFunc creates a console function
func (i *Instance) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for n, arg := range call.Arguments {
			parts[n] = arg.String()
		}

		i.consoleMu.Lock()
		if i.config.MaxConsoleEntries <= 0 || len(i.console) < i.config.MaxConsoleEntries {
			i.console = append(i.console, LogEntry{
				Level:   level,
				Message: strings.Join(parts, " "),
				Time:    time.Now(),
			})
		}
		i.consoleMu.Unlock()

		return goja.Undefined()
	}
}

// Run executes a task under a watchdog. A timeout or a cancelled ctx
// interrupts the VM and taints the instance, as does a Go panic raised by
// a native.
func (i *Instance) Run(ctx context.Context, task Task) (result *Result, err error) {
	if !i.busy.CompareAndSwap(false, true) {
		return nil, errs.New(errs.KindInternalFault, "execute", "instance %s is already running", i.id)
	}
	defer i.busy.Store(false)

	if i.tainted != "" {
		return nil, errs.New(errs.KindInternalFault, "execute", "instance %s is %s", i.id, i.tainted)
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = i.config.Timeout
	}

	start := time.Now()
	i.uses++
	i.vm.ClearInterrupt()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() {
		i.vm.Interrupt(runCtx.Err())
	})

	defer func() {
		if r := recover(); r != nil {
			stop()
			i.tainted = DiscardFault
			i.logger.Warn("Native panic during execution",
				zap.String("instance", i.id.String()), zap.Any("panic", r))
			result, err = nil, errs.InternalFault("execute", fmt.Errorf("panic: %v", r))
		}
	}()

	value, runErr := i.execute(runCtx, task)
	if runErr != nil {
		// Guest values are stringified while the watchdog is still armed
		runErr = describe(runErr)
	}

	if !stop() {
		// The watchdog fired; the VM may have been interrupted anywhere
		i.tainted = DiscardTimeout
		if runErr == nil {
			runErr = &goja.InterruptedError{}
		}
	}

	result = &Result{
		Value:    value,
		Console:  i.Console(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		return result, i.classify(ctx, timeout, runErr)
	}
	return result, nil
}

func (i *Instance) execute(ctx context.Context, task Task) (any, error) {
	if task.Program == nil {
		return nil, errs.New(errs.KindInternalFault, "execute", "task has no program")
	}
	if task.Bind != nil {
		if err := task.Bind(ctx, i.vm); err != nil {
			return nil, err
		}
	}

	v, err := i.vm.RunProgram(task.Program)
	if err != nil {
		return nil, err
	}

	if fn, ok := goja.AssertFunction(v); ok {
		if v, err = fn(goja.Undefined(), i.vm.Get(InputGlobal)); err != nil {
			return nil, err
		}
	}

	if task.Await {
		v, err = i.settle(ctx, v)
		if err != nil {
			return nil, err
		}
	} else if p, ok := v.Export().(*goja.Promise); ok {
		// Without awaiting, only a promise already settled by microtasks
		// is unwrapped
		switch p.State() {
		case goja.PromiseStateFulfilled:
			v = p.Result()
		case goja.PromiseStateRejected:
			return nil, i.rejection(p.Result())
		default:
			v = goja.Undefined()
		}
	}

	if task.Export != nil {
		return task.Export(i.vm, v)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

// settle drives timers until the completion promise settles
func (i *Instance) settle(ctx context.Context, v goja.Value) (goja.Value, error) {
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, i.loop.run(ctx, func() bool { return false })
	}

	if err := i.loop.run(ctx, func() bool { return p.State() != goja.PromiseStatePending }); err != nil {
		return nil, err
	}

	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, i.rejection(p.Result())
	default:
		return nil, errs.New(errs.KindScript, "execute", "promise never settled: no pending timers or requests")
	}
}

func (i *Instance) rejection(reason goja.Value) error {
	return &Rejection{Value: reason}
}

// classify maps a run error onto the error taxonomy
func (i *Instance) classify(parent context.Context, timeout time.Duration, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		i.tainted = DiscardTimeout
		if parent.Err() != nil {
			return errs.Wrap(errs.KindExecutionTimeout, "execute", parent.Err())
		}
		return errs.ExecutionTimeout(timeout)
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return e
	}
	return errs.Wrap(errs.KindScript, "execute", err)
}

// describe converts uncaught exceptions and rejections into host errors
func describe(err error) error {
	var rejected *Rejection
	if errors.As(err, &rejected) {
		return ScriptError(rejected.Value)
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ScriptError(ex.Value())
	}
	return err
}

// Console returns a copy of the console output of the current execution
func (i *Instance) Console() []LogEntry {
	i.consoleMu.Lock()
	defer i.consoleMu.Unlock()
	return append([]LogEntry(nil), i.console...)
}

// Reset restores the instance to its baseline: per-execution globals are
// deleted, changed or deleted baseline globals restored with their original
// attributes, timers and console cleared. Every builtin object reachable
// from the baseline globals is then compared with its recorded shape; any
// added, removed or redefined property fails the reset. A failed reset
// means the instance must be discarded.
func (i *Instance) Reset() (err error) {
	if i.tainted != "" {
		return errs.New(errs.KindInternalFault, "reset", "instance %s is %s", i.id, i.tainted)
	}

	i.vm.ClearInterrupt()
	i.loop.reset()
	i.consoleMu.Lock()
	i.console = nil
	i.consoleMu.Unlock()

	// Guest accessors may run while descriptors are read
	watchdog := time.AfterFunc(resetBudget, func() { i.vm.Interrupt("reset budget exceeded") })
	defer func() {
		watchdog.Stop()
		if r := recover(); r != nil {
			err = errs.InternalFault("reset", fmt.Errorf("%v", r))
		}
		if err != nil {
			i.tainted = DiscardResetFailed
		}
	}()

	if err := i.baseline.removeAdded(); err != nil {
		return errs.InternalFault("reset", err)
	}
	if err := i.baseline.restoreGlobals(); err != nil {
		return errs.InternalFault("reset", err)
	}

	// Non-configurable leftovers, such as top-level var declarations
	left, err := i.baseline.leftovers()
	if err != nil {
		return errs.InternalFault("reset", err)
	}
	if len(left) > 0 {
		return errs.New(errs.KindInternalFault, "reset", "global %q could not be removed", left[0])
	}

	path, err := i.baseline.modified()
	if err != nil {
		return errs.InternalFault("reset", err)
	}
	if path != "" {
		return errs.New(errs.KindInternalFault, "reset", "builtin %s was modified", path)
	}
	return nil
}

// Close releases the VM
func (i *Instance) Close() error {
	if i.busy.Load() {
		i.vm.Interrupt("instance closed")
	}
	i.tainted = DiscardClosed
	i.baseline = nil
	return nil
}
