package natives

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/memory"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

// Env carries the per-execution resources the natives draw on
type Env struct {
	Scope   *memory.Scope // owns every buffer the execution allocates
	Fetcher *Fetcher      // nil leaves fetch undefined
	Logger  *zap.Logger
}

// Binding is the set of natives installed into one VM for one execution.
// It is discarded with the execution; nothing in it outlives the VM reset.
type Binding struct {
	ctx    context.Context
	vm     *goja.Runtime
	env    Env
	logger *zap.Logger

	bufferProto *goja.Object
	formKey     *goja.Symbol

	// Captured before guest code runs so that a script overwriting the
	// globals cannot change what the natives throw
	errorCtor      goja.Value
	typeErrorCtor  goja.Value
	rangeErrorCtor goja.Value
	promise        goja.Value
	promiseResolve goja.Callable
	promiseReject  goja.Callable
	jsonParse      goja.Callable
}

// Bind installs Buffer, crypto, FormData and fetch into vm
func Bind(ctx context.Context, vm *goja.Runtime, env Env) (*Binding, error) {
	if env.Scope == nil {
		return nil, errs.New(errs.KindInternalFault, "bind", "natives need a memory scope")
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Binding{
		ctx:     ctx,
		vm:      vm,
		env:     env,
		logger:  logger,
		formKey: goja.NewSymbol("FormData.encoder"),
	}
	if err := b.captureBuiltins(); err != nil {
		return nil, errs.InternalFault("bind", err)
	}

	for _, install := range []func() error{b.installBuffer, b.installCrypto, b.installFormData, b.installFetch} {
		if err := install(); err != nil {
			return nil, errs.InternalFault("bind", err)
		}
	}
	return b, nil
}

func (b *Binding) captureBuiltins() error {
	b.errorCtor = b.vm.Get("Error")
	b.typeErrorCtor = b.vm.Get("TypeError")
	b.rangeErrorCtor = b.vm.Get("RangeError")

	b.promise = b.vm.Get("Promise")
	promise, ok := b.promise.(*goja.Object)
	if !ok {
		return errors.New("Promise is not an object")
	}
	var okResolve, okReject bool
	b.promiseResolve, okResolve = goja.AssertFunction(promise.Get("resolve"))
	b.promiseReject, okReject = goja.AssertFunction(promise.Get("reject"))
	if !okResolve || !okReject {
		return errors.New("Promise.resolve or Promise.reject is not callable")
	}

	json, ok := b.vm.Get("JSON").(*goja.Object)
	if !ok {
		return errors.New("JSON is not an object")
	}
	if b.jsonParse, ok = goja.AssertFunction(json.Get("parse")); !ok {
		return errors.New("JSON.parse is not callable")
	}
	return nil
}

// Buffer exposes a memory buffer to guest code
func (b *Binding) Buffer(buf *memory.Buffer) *goja.Object {
	obj := b.vm.NewDynamicObject(&bufferObject{binding: b, buf: buf})
	obj.SetPrototype(b.bufferProto)
	return obj
}

// Input converts a host input value for the guest. Byte slices are wrapped
// into the scope without copying; everything else goes through goja's
// value mapping.
func (b *Binding) Input(v any) (goja.Value, error) {
	switch t := v.(type) {
	case nil:
		return goja.Undefined(), nil
	case []byte:
		buf, err := b.env.Scope.Wrap(t)
		if err != nil {
			return nil, err
		}
		return b.Buffer(buf), nil
	case *memory.Buffer:
		buf, err := b.env.Scope.Adopt(t)
		if err != nil {
			return nil, err
		}
		return b.Buffer(buf), nil
	default:
		return b.vm.ToValue(v), nil
	}
}

// Export converts a completion value for the host. Buffers anywhere in the
// value become []byte copies, so nothing returned references scope memory.
func (b *Binding) Export(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return exportHost(v.Export())
}

func exportHost(x any) (any, error) {
	switch t := x.(type) {
	case *bufferObject:
		return t.buf.Bytes()
	case goja.ArrayBuffer:
		return append([]byte(nil), t.Bytes()...), nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			v, err := exportHost(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			v, err := exportHost(item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return x, nil
	}
}

// throw raises err in guest code as a catchable error carrying a
// Node-style code
func (b *Binding) throw(err error) {
	panic(b.jsError(err))
}

func (b *Binding) jsError(err error) *goja.Object {
	var e *errs.Error
	if !errors.As(err, &e) {
		return b.newError(b.errorCtor, "", err.Error())
	}

	msg := e.Detail
	if msg == "" {
		msg = e.Error()
	}
	switch e.Kind {
	case errs.KindOutOfRange:
		return b.newError(b.rangeErrorCtor, "ERR_OUT_OF_RANGE", msg)
	case errs.KindTypeMismatch:
		return b.newError(b.typeErrorCtor, "ERR_INVALID_ARG_TYPE", msg)
	case errs.KindReleased:
		return b.newError(b.errorCtor, "ERR_BUFFER_RELEASED", "Cannot call "+e.Op+" on a released buffer")
	case errs.KindClosed:
		return b.newError(b.errorCtor, "ERR_INVALID_STATE", msg)
	default:
		return b.newError(b.errorCtor, "", msg)
	}
}

func (b *Binding) newError(ctor goja.Value, code, msg string) *goja.Object {
	obj, err := b.vm.New(ctor, b.vm.ToValue(msg))
	if err != nil {
		obj = b.vm.NewGoError(errors.New(msg))
	}
	if code != "" {
		_ = obj.Set("code", code)
	}
	return obj
}

// throwCode raises an error with a code outside the host taxonomy
func (b *Binding) throwCode(ctor goja.Value, code, format string, args ...any) {
	panic(b.newError(ctor, code, fmt.Sprintf(format, args...)))
}

func (b *Binding) throwType(op, format string, args ...any) {
	b.throw(errs.TypeMismatch(op, format, args...))
}

func (b *Binding) throwRange(op, format string, args ...any) {
	b.throw(errs.OutOfRange(op, format, args...))
}

// resolved and rejected build already-settled promises
func (b *Binding) resolved(v any) goja.Value {
	p, err := b.promiseResolve(b.promise, b.vm.ToValue(v))
	if err != nil {
		panic(err)
	}
	return p
}

func (b *Binding) rejected(reason goja.Value) goja.Value {
	p, err := b.promiseReject(b.promise, reason)
	if err != nil {
		panic(err)
	}
	return p
}

// describeArg renders an argument the way Node's argument errors do
func describeArg(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	switch t := v.Export().(type) {
	case string:
		if len(t) > 25 {
			t = t[:25] + "..."
		}
		return fmt.Sprintf("type string (%q)", t)
	case int64, float64:
		return fmt.Sprintf("type number (%s)", v.String())
	case bool:
		return fmt.Sprintf("type boolean (%t)", t)
	case *bufferObject:
		return "an instance of Buffer"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, ok := goja.AssertFunction(obj); ok {
			return "function"
		}
		return "an instance of " + obj.ClassName()
	}
	return "type " + v.ExportType().String()
}

func isNumber(v goja.Value) bool {
	if v == nil {
		return false
	}
	switch v.Export().(type) {
	case int64, float64:
		return true
	}
	return false
}

func isString(v goja.Value) bool {
	if v == nil {
		return false
	}
	_, ok := v.Export().(string)
	return ok
}

func isSet(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

// number returns a numeric argument, failing with a type error otherwise
func (b *Binding) number(op, name string, v goja.Value) float64 {
	if !isNumber(v) {
		b.throwType(op, `The "%s" argument must be of type number. Received %s`, name, describeArg(v))
	}
	return v.ToFloat()
}

// size validates a length argument such as the size of an allocation
func (b *Binding) size(op, name string, v goja.Value) int {
	f := b.number(op, name, v)
	if math.IsNaN(f) || f < 0 || math.IsInf(f, 0) {
		b.throwRange(op, `The value of "%s" is out of range. It must be >= 0. Received %v`, name, f)
	}
	if f > float64(math.MaxInt32)*4 {
		f = float64(math.MaxInt32) * 4
	}
	return int(f)
}

// offset validates an accessor offset. A missing offset means 0.
func (b *Binding) offset(op string, v goja.Value) int {
	if v == nil || goja.IsUndefined(v) {
		return 0
	}
	off, err := memory.ValidateOffset(op, b.number(op, "offset", v))
	if err != nil {
		b.throw(err)
	}
	return off
}

// intOr converts an optional integer argument, as slice and subarray do
func intOr(v goja.Value, def int) int {
	if v == nil || goja.IsUndefined(v) {
		return def
	}
	f := v.ToFloat()
	switch {
	case math.IsNaN(f):
		return 0
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

// bytesOf reads the bytes of a string, Buffer, ArrayBuffer or Uint8Array
// argument. Strings are decoded with enc.
func (b *Binding) bytesOf(op, name string, v goja.Value, enc string) []byte {
	if v != nil {
		switch t := v.Export().(type) {
		case string:
			data, err := decodeString(op, t, enc)
			if err != nil {
				b.throw(err)
			}
			return data
		case *bufferObject:
			data, err := t.buf.Bytes()
			if err != nil {
				b.throw(err)
			}
			return data
		case goja.ArrayBuffer:
			return append([]byte(nil), t.Bytes()...)
		case []byte:
			return append([]byte(nil), t...)
		}
	}
	b.throwType(op, `The "%s" argument must be of type string or an instance of Buffer, TypedArray, or DataView. Received %s`,
		name, describeArg(v))
	return nil
}

// encodingArg returns the encoding argument or def when it is absent
func (b *Binding) encodingArg(op string, v goja.Value, def string) string {
	if !isSet(v) {
		return def
	}
	enc, ok := normalizeEncoding(v.String())
	if !ok {
		b.throwCode(b.typeErrorCtor, "ERR_UNKNOWN_ENCODING", "Unknown encoding: %s", v.String())
	}
	return enc
}
