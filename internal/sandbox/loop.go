package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"
)

type timer struct {
	id       int64
	due      time.Time
	interval time.Duration
	repeat   bool
	fn       goja.Callable
	args     []goja.Value
}

// eventLoop holds the timers of the current execution. Callbacks run on the
// execution goroutine, one at a time, in due order.
type eventLoop struct {
	timers map[int64]*timer
	nextID int64
}

func newEventLoop() *eventLoop {
	return &eventLoop{timers: make(map[int64]*timer)}
}

func (l *eventLoop) install(vm *goja.Runtime) {
	schedule := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError(`The "callback" argument must be of type function`))
			}
			delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
			if delay < 0 {
				delay = 0
			}
			var args []goja.Value
			if len(call.Arguments) > 2 {
				args = append(args, call.Arguments[2:]...)
			}

			l.nextID++
			l.timers[l.nextID] = &timer{
				id:       l.nextID,
				due:      time.Now().Add(delay),
				interval: delay,
				repeat:   repeat,
				fn:       fn,
				args:     args,
			}
			return vm.ToValue(l.nextID)
		}
	}
	cancel := func(call goja.FunctionCall) goja.Value {
		delete(l.timers, call.Argument(0).ToInteger())
		return goja.Undefined()
	}

	_ = vm.Set("setTimeout", schedule(false))
	_ = vm.Set("setInterval", schedule(true))
	_ = vm.Set("clearTimeout", cancel)
	_ = vm.Set("clearInterval", cancel)
}

func (l *eventLoop) pending() int { return len(l.timers) }

func (l *eventLoop) reset() {
	clear(l.timers)
	l.nextID = 0
}

func (l *eventLoop) earliest() *timer {
	var next *timer
	for _, t := range l.timers {
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.id < next.id) {
			next = t
		}
	}
	return next
}

// run fires timers until done reports true or none are left. Waiting ends
// early when ctx is done; the caller turns that into an interrupt error.
func (l *eventLoop) run(ctx context.Context, done func() bool) error {
	for !done() {
		t := l.earliest()
		if t == nil {
			return nil
		}

		if wait := time.Until(t.due); wait > 0 {
			w := time.NewTimer(wait)
			select {
			case <-w.C:
			case <-ctx.Done():
				w.Stop()
				return ctx.Err()
			}
		}

		if t.repeat {
			t.due = time.Now().Add(max(t.interval, time.Millisecond))
		} else {
			delete(l.timers, t.id)
		}
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			return err
		}
	}
	return nil
}
