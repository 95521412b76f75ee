package natives

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/handle"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/memory"
)

// bufferObject backs a guest Buffer. Indexed access and length are served
// here; methods live on the shared prototype.
type bufferObject struct {
	binding *Binding
	buf     *memory.Buffer
	props   map[string]goja.Value
}

func parseIndex(key string) (int, bool) {
	if key == "" || len(key) > 1 && key[0] == '0' {
		return 0, false
	}
	n, err := strconv.Atoi(key)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (o *bufferObject) Get(key string) goja.Value {
	switch key {
	case "length", "byteLength":
		return o.binding.vm.ToValue(o.buf.Len())
	case "byteOffset":
		return o.binding.vm.ToValue(o.buf.Offset())
	case "released":
		return o.binding.vm.ToValue(o.buf.Released())
	}
	if idx, ok := parseIndex(key); ok {
		v, err := o.buf.Uint8(idx)
		if err != nil {
			return goja.Undefined()
		}
		return o.binding.vm.ToValue(v)
	}
	return o.props[key]
}

func (o *bufferObject) Set(key string, val goja.Value) bool {
	if idx, ok := parseIndex(key); ok {
		// Out of range writes are ignored, as on typed arrays
		_ = o.buf.PutUint8(idx, uint8(val.ToInteger()))
		return true
	}
	switch key {
	case "length", "byteLength", "byteOffset", "released":
		return false
	}
	if o.props == nil {
		o.props = make(map[string]goja.Value)
	}
	o.props[key] = val
	return true
}

func (o *bufferObject) Has(key string) bool {
	switch key {
	case "length", "byteLength", "byteOffset", "released":
		return true
	}
	if idx, ok := parseIndex(key); ok {
		return idx < o.buf.Len()
	}
	_, ok := o.props[key]
	return ok
}

func (o *bufferObject) Delete(key string) bool {
	if _, ok := parseIndex(key); ok {
		return false
	}
	delete(o.props, key)
	return true
}

func (o *bufferObject) Keys() []string {
	keys := make([]string, 0, o.buf.Len()+len(o.props))
	for i := 0; i < o.buf.Len(); i++ {
		keys = append(keys, strconv.Itoa(i))
	}
	extra := make([]string, 0, len(o.props))
	for k := range o.props {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// this resolves the receiver of a prototype method
func (b *Binding) this(call goja.FunctionCall, op string) *bufferObject {
	o, ok := call.This.Export().(*bufferObject)
	if !ok {
		b.throwType(op, `The "this" argument must be an instance of Buffer. Received %s`, describeArg(call.This))
	}
	return o
}

// bufferArg returns a Buffer argument or fails with a type error
func (b *Binding) bufferArg(op, name string, v goja.Value) *memory.Buffer {
	if v != nil {
		if o, ok := v.Export().(*bufferObject); ok {
			return o.buf
		}
	}
	b.throwType(op, `The "%s" argument must be an instance of Buffer. Received %s`, name, describeArg(v))
	return nil
}

func (b *Binding) newBuffer(data []byte) *goja.Object {
	buf, err := b.env.Scope.AllocUnsafe(len(data))
	if err != nil {
		b.throw(err)
	}
	if _, err := buf.WriteAt(0, data); err != nil {
		b.throw(err)
	}
	return b.Buffer(buf)
}

func (b *Binding) installBuffer() error {
	vm := b.vm
	b.bufferProto = vm.NewObject()

	ctor := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		b.throwCode(b.typeErrorCtor, "ERR_METHOD_NOT_IMPLEMENTED",
			"Buffer() is not supported, use Buffer.alloc(), Buffer.allocUnsafe() or Buffer.from()")
		return nil
	}).(*goja.Object)

	statics := map[string]func(goja.FunctionCall) goja.Value{
		"alloc":           b.bufferAlloc,
		"allocUnsafe":     b.bufferAllocUnsafe,
		"allocUnsafeSlow": b.bufferAllocUnsafe,
		"from":            b.bufferFrom,
		"concat":          b.bufferConcat,
		"compare":         b.bufferCompare,
		"isBuffer":        b.bufferIsBuffer,
		"isEncoding":      b.bufferIsEncoding,
		"byteLength":      b.bufferByteLength,
	}
	for name, fn := range statics {
		if err := ctor.Set(name, fn); err != nil {
			return err
		}
	}
	if err := ctor.Set("poolSize", 8192); err != nil {
		return err
	}

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"slice":       b.protoSlice,
		"subarray":    b.protoSlice,
		"toString":    b.protoToString,
		"toJSON":      b.protoToJSON,
		"equals":      b.protoEquals,
		"compare":     b.protoCompare,
		"fill":        b.protoFill,
		"copy":        b.protoCopy,
		"write":       b.protoWrite,
		"indexOf":     b.protoIndexOf,
		"lastIndexOf": b.protoLastIndexOf,
		"includes":    b.protoIncludes,
		"keys":        b.iteratorMethod(handle.Keys),
		"values":      b.iteratorMethod(handle.Values),
		"entries":     b.iteratorMethod(handle.Entries),
		"release":     b.protoRelease,
	}
	for name, fn := range methods {
		if err := b.bufferProto.Set(name, fn); err != nil {
			return err
		}
	}
	if err := b.bufferProto.SetSymbol(goja.SymIterator, b.iteratorMethod(handle.Values)); err != nil {
		return err
	}
	if err := b.installAccessors(b.bufferProto); err != nil {
		return err
	}

	if err := ctor.Set("prototype", b.bufferProto); err != nil {
		return err
	}
	if err := b.bufferProto.Set("constructor", ctor); err != nil {
		return err
	}
	return vm.Set("Buffer", ctor)
}

// Buffer.alloc(size[, fill[, encoding]])
func (b *Binding) bufferAlloc(call goja.FunctionCall) goja.Value {
	size := b.size("Buffer.alloc", "size", call.Argument(0))
	buf, err := b.env.Scope.Alloc(size)
	if err != nil {
		b.throw(err)
	}
	if fill := call.Argument(1); isSet(fill) {
		pattern := b.fillPattern("Buffer.alloc", fill, b.encodingArg("Buffer.alloc", call.Argument(2), "utf8"))
		if err := buf.Fill(pattern, 0, buf.Len()); err != nil {
			b.throw(err)
		}
	}
	return b.Buffer(buf)
}

// Buffer.allocUnsafe(size)
func (b *Binding) bufferAllocUnsafe(call goja.FunctionCall) goja.Value {
	size := b.size("Buffer.allocUnsafe", "size", call.Argument(0))
	buf, err := b.env.Scope.AllocUnsafe(size)
	if err != nil {
		b.throw(err)
	}
	return b.Buffer(buf)
}

// Buffer.from(string[, encoding]) | (array) | (arrayBuffer[, byteOffset[, length]]) | (buffer)
func (b *Binding) bufferFrom(call goja.FunctionCall) goja.Value {
	const op = "Buffer.from"
	v := call.Argument(0)

	switch t := v.Export().(type) {
	case string:
		data, err := decodeString(op, t, b.encodingArg(op, call.Argument(1), "utf8"))
		if err != nil {
			b.throw(err)
		}
		return b.newBuffer(data)
	case *bufferObject:
		data, err := t.buf.Bytes()
		if err != nil {
			b.throw(err)
		}
		return b.newBuffer(data)
	case goja.ArrayBuffer:
		// Shares memory with the ArrayBuffer, as Node does
		data := t.Bytes()
		start := 0
		if off := call.Argument(1); isSet(off) {
			start = b.size(op, "offset", off)
		}
		if start > len(data) {
			b.throwRange(op, `"offset" is outside of buffer bounds`)
		}
		end := len(data)
		if length := call.Argument(2); isSet(length) {
			end = start + b.size(op, "length", length)
		}
		if end > len(data) {
			b.throwRange(op, `"length" is outside of buffer bounds`)
		}
		buf, err := b.env.Scope.Wrap(data[start:end:end])
		if err != nil {
			b.throw(err)
		}
		return b.Buffer(buf)
	case []byte:
		return b.newBuffer(t)
	}

	if obj, ok := v.(*goja.Object); ok {
		if obj.ClassName() == "Array" {
			return b.newBuffer(b.arrayLike(obj))
		}
		// The shape produced by toJSON
		if data, ok := obj.Get("data").(*goja.Object); ok && obj.Get("type") != nil && obj.Get("type").String() == "Buffer" {
			return b.newBuffer(b.arrayLike(data))
		}
	}
	b.throwType(op, "The first argument must be of type string or an instance of Buffer, ArrayBuffer, or Array or an Array-like Object. Received %s",
		describeArg(v))
	return nil
}

func (b *Binding) arrayLike(obj *goja.Object) []byte {
	n := intOr(obj.Get("length"), 0)
	if n < 0 {
		n = 0
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = uint8(obj.Get(strconv.Itoa(i)).ToInteger())
	}
	return out
}

// Buffer.concat(list[, totalLength])
func (b *Binding) bufferConcat(call goja.FunctionCall) goja.Value {
	const op = "Buffer.concat"
	list, ok := call.Argument(0).(*goja.Object)
	if !ok || list.ClassName() != "Array" {
		b.throwType(op, `The "list" argument must be an instance of Array. Received %s`, describeArg(call.Argument(0)))
	}

	n := intOr(list.Get("length"), 0)
	bufs := make([]*memory.Buffer, n)
	for i := range bufs {
		bufs[i] = b.bufferArg(op, "list["+strconv.Itoa(i)+"]", list.Get(strconv.Itoa(i)))
	}

	total := -1
	if t := call.Argument(1); isSet(t) {
		total = b.size(op, "length", t)
	}
	out, err := memory.Concat(b.env.Scope, bufs, total)
	if err != nil {
		b.throw(err)
	}
	return b.Buffer(out)
}

// Buffer.compare(a, b)
func (b *Binding) bufferCompare(call goja.FunctionCall) goja.Value {
	const op = "Buffer.compare"
	x := b.bufferArg(op, "buf1", call.Argument(0))
	y := b.bufferArg(op, "buf2", call.Argument(1))
	c, err := memory.Compare(x, y)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(c)
}

func (b *Binding) bufferIsBuffer(call goja.FunctionCall) goja.Value {
	_, ok := call.Argument(0).Export().(*bufferObject)
	return b.vm.ToValue(ok)
}

func (b *Binding) bufferIsEncoding(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	if !isString(v) {
		return b.vm.ToValue(false)
	}
	_, ok := normalizeEncoding(v.String())
	return b.vm.ToValue(ok)
}

// Buffer.byteLength(string[, encoding]) | (buffer)
func (b *Binding) bufferByteLength(call goja.FunctionCall) goja.Value {
	const op = "Buffer.byteLength"
	v := call.Argument(0)
	if isString(v) {
		data, err := decodeString(op, v.String(), b.encodingArg(op, call.Argument(1), "utf8"))
		if err != nil {
			b.throw(err)
		}
		return b.vm.ToValue(len(data))
	}
	if o, ok := v.Export().(*bufferObject); ok {
		return b.vm.ToValue(o.buf.Len())
	}
	return b.vm.ToValue(len(b.bytesOf(op, "string", v, "utf8")))
}

// slice/subarray(start, end) share memory with the receiver
func (b *Binding) protoSlice(call goja.FunctionCall) goja.Value {
	o := b.this(call, "slice")
	view, err := o.buf.Slice(intOr(call.Argument(0), 0), intOr(call.Argument(1), o.buf.Len()))
	if err != nil {
		b.throw(err)
	}
	return b.Buffer(view)
}

// clampBounds applies toString's lenient start/end rules
func clampBounds(start, end, length int) (int, int) {
	start = max(start, 0)
	end = min(end, length)
	if end < start {
		end = start
	}
	start = min(start, end)
	return start, end
}

// toString([encoding[, start[, end]]])
func (b *Binding) protoToString(call goja.FunctionCall) goja.Value {
	o := b.this(call, "toString")
	enc := b.encodingArg("toString", call.Argument(0), "utf8")
	start, end := clampBounds(intOr(call.Argument(1), 0), intOr(call.Argument(2), o.buf.Len()), o.buf.Len())

	var s string
	err := o.buf.View(func(p []byte) { s = encodeBytes(p[start:end], enc) })
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(s)
}

func (b *Binding) protoToJSON(call goja.FunctionCall) goja.Value {
	o := b.this(call, "toJSON")
	data, err := o.buf.Bytes()
	if err != nil {
		b.throw(err)
	}
	items := make([]any, len(data))
	for i, c := range data {
		items[i] = c
	}
	out := b.vm.NewObject()
	_ = out.Set("type", "Buffer")
	_ = out.Set("data", b.vm.NewArray(items...))
	return out
}

func (b *Binding) protoEquals(call goja.FunctionCall) goja.Value {
	o := b.this(call, "equals")
	eq, err := memory.Equal(o.buf, b.bufferArg("equals", "otherBuffer", call.Argument(0)))
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(eq)
}

// compare(target[, targetStart[, targetEnd[, sourceStart[, sourceEnd]]]])
func (b *Binding) protoCompare(call goja.FunctionCall) goja.Value {
	const op = "compare"
	o := b.this(call, op)
	target := b.bufferArg(op, "target", call.Argument(0))

	if len(call.Arguments) <= 1 {
		c, err := memory.Compare(o.buf, target)
		if err != nil {
			b.throw(err)
		}
		return b.vm.ToValue(c)
	}

	bound := func(i int, name string, def, limit int) int {
		v := call.Argument(i)
		if !isSet(v) {
			return def
		}
		n := b.size(op, name, v)
		if n > limit {
			b.throwRange(op, `The value of "%s" is out of range. It must be >= 0 and <= %d. Received %d`, name, limit, n)
		}
		return n
	}
	ts := bound(1, "targetStart", 0, target.Len())
	te := bound(2, "targetEnd", target.Len(), target.Len())
	ss := bound(3, "sourceStart", 0, o.buf.Len())
	se := bound(4, "sourceEnd", o.buf.Len(), o.buf.Len())

	src, err := o.buf.Bytes()
	if err != nil {
		b.throw(err)
	}
	dst, err := target.Bytes()
	if err != nil {
		b.throw(err)
	}
	if ss >= se {
		if ts >= te {
			return b.vm.ToValue(0)
		}
		return b.vm.ToValue(-1)
	}
	if ts >= te {
		return b.vm.ToValue(1)
	}
	return b.vm.ToValue(bytes.Compare(src[ss:se], dst[ts:te]))
}

func (b *Binding) fillPattern(op string, v goja.Value, enc string) []byte {
	if isNumber(v) {
		return []byte{uint8(v.ToInteger())}
	}
	return b.bytesOf(op, "value", v, enc)
}

// fill(value[, offset[, end]][, encoding])
func (b *Binding) protoFill(call goja.FunctionCall) goja.Value {
	const op = "fill"
	o := b.this(call, op)

	args := call.Arguments[min(1, len(call.Arguments)):]
	enc := "utf8"
	// The encoding may take the place of offset or end
	if n := len(args); n > 0 && isString(args[n-1]) {
		enc = b.encodingArg(op, args[n-1], "utf8")
		args = args[:n-1]
	}
	start, end := 0, o.buf.Len()
	if len(args) > 0 && isSet(args[0]) {
		start = b.offset(op, args[0])
	}
	if len(args) > 1 && isSet(args[1]) {
		end = b.offset(op, args[1])
	}

	if err := o.buf.Fill(b.fillPattern(op, call.Argument(0), enc), start, end); err != nil {
		b.throw(err)
	}
	return call.This
}

// copy(target[, targetStart[, sourceStart[, sourceEnd]]])
func (b *Binding) protoCopy(call goja.FunctionCall) goja.Value {
	const op = "copy"
	o := b.this(call, op)
	target := b.bufferArg(op, "target", call.Argument(0))

	targetStart := intOr(call.Argument(1), 0)
	sourceStart := intOr(call.Argument(2), 0)
	sourceEnd := intOr(call.Argument(3), o.buf.Len())
	n, err := o.buf.CopyTo(target, targetStart, sourceStart, sourceEnd)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(n)
}

// write(string[, offset[, length]][, encoding])
func (b *Binding) protoWrite(call goja.FunctionCall) goja.Value {
	const op = "write"
	o := b.this(call, op)
	if !isString(call.Argument(0)) {
		b.throwType(op, `The "string" argument must be of type string. Received %s`, describeArg(call.Argument(0)))
	}

	args := call.Arguments[1:]
	enc := "utf8"
	if n := len(args); n > 0 && isString(args[n-1]) {
		enc = b.encodingArg(op, args[n-1], "utf8")
		args = args[:n-1]
	}
	off := 0
	if len(args) > 0 && isSet(args[0]) {
		off = b.offset(op, args[0])
	}
	if off > o.buf.Len() {
		b.throwRange(op, `The value of "offset" is out of range. It must be >= 0 && <= %d. Received %d`, o.buf.Len(), off)
	}
	limit := o.buf.Len() - off
	if len(args) > 1 && isSet(args[1]) {
		limit = min(limit, b.size(op, "length", args[1]))
	}

	data, err := decodeString(op, call.Argument(0).String(), enc)
	if err != nil {
		b.throw(err)
	}
	if len(data) > limit {
		data = data[:limit]
	}
	n, err := o.buf.WriteAt(off, data)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(n)
}

func (b *Binding) needle(op string, call goja.FunctionCall) []byte {
	v := call.Argument(0)
	if isNumber(v) {
		return []byte{uint8(v.ToInteger())}
	}
	enc := "utf8"
	if isString(call.Argument(1)) {
		enc = b.encodingArg(op, call.Argument(1), "utf8")
	} else {
		enc = b.encodingArg(op, call.Argument(2), "utf8")
	}
	return b.bytesOf(op, "value", v, enc)
}

// indexOf(value[, byteOffset][, encoding])
func (b *Binding) protoIndexOf(call goja.FunctionCall) goja.Value {
	o := b.this(call, "indexOf")
	from := 0
	if !isString(call.Argument(1)) {
		from = intOr(call.Argument(1), 0)
	}
	idx, err := o.buf.IndexOf(b.needle("indexOf", call), from)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(idx)
}

func (b *Binding) protoLastIndexOf(call goja.FunctionCall) goja.Value {
	o := b.this(call, "lastIndexOf")
	needle := b.needle("lastIndexOf", call)
	data, err := o.buf.Bytes()
	if err != nil {
		b.throw(err)
	}
	end := len(data)
	if v := call.Argument(1); isNumber(v) {
		from := intOr(v, end)
		if from < 0 {
			from += len(data)
		}
		if from < 0 {
			return b.vm.ToValue(-1)
		}
		end = min(from+len(needle), len(data))
	}
	return b.vm.ToValue(bytes.LastIndex(data[:end], needle))
}

func (b *Binding) protoIncludes(call goja.FunctionCall) goja.Value {
	idx := b.protoIndexOf(call)
	return b.vm.ToValue(idx.ToInteger() != -1)
}

// release drops the view's reference to its memory. Later access throws.
func (b *Binding) protoRelease(call goja.FunctionCall) goja.Value {
	o := b.this(call, "release")
	return b.vm.ToValue(o.buf.Release())
}

func (b *Binding) iteratorMethod(mode handle.Mode) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		o := b.this(call, mode.String())
		return b.iterator(handle.NewIterator(o.buf, mode))
	}
}

// iterator wraps a handle iterator as a guest iterator object; the cursor
// lives in the closure and dies with the object
func (b *Binding) iterator(it *handle.Iterator) *goja.Object {
	obj := b.vm.NewObject()
	_ = obj.Set("next", func(goja.FunctionCall) goja.Value {
		step, ok, err := it.Next()
		if err != nil {
			b.throw(err)
		}
		res := b.vm.NewObject()
		if !ok {
			_ = res.Set("value", goja.Undefined())
			_ = res.Set("done", true)
			return res
		}
		switch it.Mode() {
		case handle.Keys:
			_ = res.Set("value", step.Index)
		case handle.Values:
			_ = res.Set("value", step.Value)
		default:
			_ = res.Set("value", b.vm.NewArray(step.Index, step.Value))
		}
		_ = res.Set("done", false)
		return res
	})
	_ = obj.SetSymbol(goja.SymIterator, func(call goja.FunctionCall) goja.Value { return call.This })
	return obj
}
