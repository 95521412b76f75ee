package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

func newInstance(t *testing.T, config Config) *Instance {
	t.Helper()
	inst, err := New(config, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func run(t *testing.T, inst *Instance, script string, mutate ...func(*Task)) (*Result, error) {
	t.Helper()
	prog, err := Compile("test.js", script, false)
	require.NoError(t, err)
	task := Task{Program: prog}
	for _, m := range mutate {
		m(&task)
	}
	return inst.Run(context.Background(), task)
}

func TestRuntimeExecution(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	tests := []struct {
		name   string
		script string
		want   any
	}{
		{name: "simple return", script: "42", want: int64(42)},
		{name: "console log", script: "console.log('hello'); 'test'", want: "test"},
		{name: "math operations", script: "Math.sqrt(16)", want: int64(4)},
		{name: "string operations", script: "'hello'.toUpperCase()", want: "HELLO"},
		{name: "lexical declarations", script: "const x = 2; let y = 3; x * y", want: int64(6)},
		{name: "undefined", script: "undefined", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := run(t, inst, tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Value)
			require.NoError(t, inst.Reset())
		})
	}
}

func TestRuntimeSecurity(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	for _, script := range []string{"require('fs')", "process.exit(1)", "module.exports = {}"} {
		t.Run(script, func(t *testing.T) {
			_, err := run(t, inst, script)
			assert.True(t, errors.Is(err, errs.ErrScript), "got %v", err)
			require.NoError(t, inst.Reset())
		})
	}
}

func TestRuntimeTimeout(t *testing.T) {
	config := DefaultConfig()
	config.Timeout = 100 * time.Millisecond
	inst := newInstance(t, config)

	start := time.Now()
	_, err := run(t, inst, "let i = 0; while (true) { i++ }")

	assert.True(t, errors.Is(err, errs.ErrExecutionTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, DiscardTimeout, inst.Tainted())
	assert.Error(t, inst.Reset(), "timed out instance cannot be reset")
}

func TestRuntimeAbort(t *testing.T) {
	inst := newInstance(t, DefaultConfig())
	prog, err := Compile("abort.js", "while (true) {}", false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = inst.Run(ctx, Task{Program: prog})
	assert.True(t, errors.Is(err, errs.ErrExecutionTimeout))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, DiscardTimeout, inst.Tainted())
}

func TestConsoleCapture(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	result, err := run(t, inst, "console.log('a', 1); console.warn('b'); console.error({}.x)")
	require.NoError(t, err)
	require.Len(t, result.Console, 3)
	assert.Equal(t, "log", result.Console[0].Level)
	assert.Equal(t, "a 1", result.Console[0].Message)
	assert.Equal(t, "warn", result.Console[1].Level)
	assert.Equal(t, "undefined", result.Console[2].Message)

	require.NoError(t, inst.Reset())
	assert.Empty(t, inst.Console())
}

func TestCompletionFunctionReceivesInput(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	result, err := run(t, inst, "(input) => input.n * 2", func(task *Task) {
		task.Bind = func(_ context.Context, vm *goja.Runtime) error {
			return vm.Set(InputGlobal, map[string]any{"n": 21})
		}
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Value)
}

func TestAwaitTimers(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	result, err := run(t, inst, `
		new Promise((resolve) => {
			let n = 0;
			const id = setInterval(() => {
				n++;
				if (n === 3) {
					clearInterval(id);
					setTimeout(() => resolve(n), 5);
				}
			}, 1);
		})`, func(task *Task) { task.Await = true })
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Value)
}

func TestAsyncFunctionSettledByMicrotasks(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	result, err := run(t, inst, "(async () => { const v = await Promise.resolve(5); return v + 1 })()")
	require.NoError(t, err)
	assert.Equal(t, int64(6), result.Value)
}

func TestPromiseFailures(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	_, err := run(t, inst, "Promise.reject(new TypeError('nope'))", func(task *Task) { task.Await = true })
	assert.True(t, errors.Is(err, errs.ErrScript))
	assert.Contains(t, err.Error(), "nope")
	require.NoError(t, inst.Reset())

	_, err = run(t, inst, "new Promise(() => {})", func(task *Task) { task.Await = true })
	assert.True(t, errors.Is(err, errs.ErrScript))
	assert.Contains(t, err.Error(), "never settled")
}

func TestScriptErrorCodes(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	tests := []struct {
		code string
		want error
	}{
		{code: "ERR_OUT_OF_RANGE", want: errs.ErrOutOfRange},
		{code: "ERR_INVALID_ARG_TYPE", want: errs.ErrTypeMismatch},
		{code: "ERR_BUFFER_RELEASED", want: errs.ErrReleased},
		{code: "E_CUSTOM", want: errs.ErrScript},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := run(t, inst, "const e = new RangeError('bad'); e.code = '"+tt.code+"'; throw e")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, tt.code, err.(*errs.Error).Op)
			require.NoError(t, inst.Reset())
		})
	}
}

func TestNativePanicIsInternalFault(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	_, err := run(t, inst, "boom()", func(task *Task) {
		task.Bind = func(_ context.Context, vm *goja.Runtime) error {
			return vm.Set("boom", func(goja.FunctionCall) goja.Value { panic("kaboom") })
		}
	})
	assert.True(t, errors.Is(err, errs.ErrInternalFault))
	assert.Equal(t, DiscardFault, inst.Tainted())
}

func TestResetIsolatesExecutions(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	_, err := run(t, inst, `
		globalThis.secret = 'tenant-a';
		JSON = null;
		delete globalThis.Math;
		setTimeout(() => {}, 1000);
		1`, func(task *Task) {
		task.Bind = func(_ context.Context, vm *goja.Runtime) error { return vm.Set("native", 1) }
	})
	require.NoError(t, err)
	require.NoError(t, inst.Reset())

	result, err := run(t, inst, "[typeof secret, typeof native, typeof JSON.stringify, Math.max(1, 2)].join(',')")
	require.NoError(t, err)
	assert.Equal(t, "undefined,undefined,function,2", result.Value)
}

func TestResetRejectsTamperedPrototypes(t *testing.T) {
	tests := map[string]string{
		"added":      "Array.prototype.evil = 1",
		"replaced":   "String.prototype.trim = function () { return 'x' }",
		"deleted":    "delete Object.prototype.hasOwnProperty",
		"frozen":     "Object.freeze(Math)",
		"reparented": "Object.setPrototypeOf(Promise.prototype, null)",
	}

	for name, script := range tests {
		t.Run(name, func(t *testing.T) {
			inst := newInstance(t, DefaultConfig())
			_, err := run(t, inst, script)
			require.NoError(t, err)

			err = inst.Reset()
			assert.True(t, errors.Is(err, errs.ErrInternalFault), "got %v", err)
			assert.Equal(t, DiscardResetFailed, inst.Tainted())
		})
	}
}

func TestResetRejectsMutatedBuiltins(t *testing.T) {
	tests := []struct {
		name   string
		script string
		path   string
	}{
		{name: "console property", script: "console.secret = 'a'", path: "console"},
		{name: "timer function property", script: "setTimeout.secret = 'a'", path: "setTimeout"},
		{name: "constructor static", script: "Error.secret = 'a'", path: "Error"},
		{name: "collection constructor", script: "Map.secret = 'a'", path: "Map"},
		{name: "console method replaced", script: "console.log = function () {}", path: "console"},
		{name: "console frozen", script: "Object.freeze(console)", path: "console"},
		{name: "nested builtin function", script: "JSON.parse.secret = 'a'"},
		{name: "prototype method property", script: "Array.prototype.map.secret = 'a'"},
		{name: "symbol key", script: "Math[Symbol.for('tenant')] = 'a'", path: "Math"},
		{name: "accessor", script: "Object.defineProperty(Reflect, 'secret', { get() { return 'a' } })", path: "Reflect"},
		{name: "global prototype", script: "Object.setPrototypeOf(globalThis, { secret: 'a' })", path: "globalThis.[[Prototype]]"},
		{name: "array iterator prototype", script: "Object.getPrototypeOf([][Symbol.iterator]()).secret = 'a'", path: "%ArrayIteratorPrototype%"},
		{name: "generator prototype", script: "Object.getPrototypeOf(function* () {}).prototype.secret = 'a'"},
		{name: "async function constructor", script: "Object.getPrototypeOf(async function () {}).constructor.secret = 'a'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := newInstance(t, DefaultConfig())
			_, err := run(t, inst, tt.script+"; 1")
			require.NoError(t, err)

			err = inst.Reset()
			assert.True(t, errors.Is(err, errs.ErrInternalFault), "got %v", err)
			assert.Equal(t, DiscardResetFailed, inst.Tainted())
			if tt.path != "" {
				assert.Contains(t, err.Error(), "builtin "+tt.path+" was modified")
			}
		})
	}
}

func TestResetRestoresGlobalAttributes(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	_, err := run(t, inst, `
		delete globalThis.JSON;
		globalThis.JSON = 'tenant-a';
		Object.defineProperty(globalThis, 'Math', { value: Math, writable: false });
		globalThis[Symbol.for('tenant')] = 'a';
		1`)
	require.NoError(t, err)
	require.NoError(t, inst.Reset())

	result, err := run(t, inst, `
		const json = Object.getOwnPropertyDescriptor(globalThis, 'JSON');
		const math = Object.getOwnPropertyDescriptor(globalThis, 'Math');
		[typeof JSON.parse, json.enumerable, math.writable, String(globalThis[Symbol.for('tenant')])].join(',')`)
	require.NoError(t, err)
	assert.Equal(t, "function,false,true,undefined", result.Value)
}

func TestResetKeepsCleanInstance(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	for n := 0; n < 3; n++ {
		_, err := run(t, inst, `
			const m = new Map([[1, 2]]);
			const parsed = JSON.parse('{"a":[1,2,3]}');
			class Local extends Error {}
			[...m.keys()].concat(parsed.a.map((x) => x * 2)).join() + new Local('x').message + /a(b)/.exec('ab')[1]`)
		require.NoError(t, err)
		require.NoError(t, inst.Reset())
	}
	assert.Empty(t, inst.Tainted())
}

func TestResetRejectsUndeletableGlobals(t *testing.T) {
	inst := newInstance(t, DefaultConfig())

	_, err := run(t, inst, "Object.defineProperty(globalThis, 'pinned', { value: 1, configurable: false }); 1")
	require.NoError(t, err)
	assert.Error(t, inst.Reset())
}

func TestCompileError(t *testing.T) {
	_, err := Compile("bad.js", "function (", false)
	assert.True(t, errors.Is(err, errs.ErrCompile))
}
