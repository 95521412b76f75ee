package natives

import (
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/handle"
)

// installFormData exposes a streaming multipart encoder as FormData. Each
// instance carries its encoder under a symbol only the natives know.
func (b *Binding) installFormData() error {
	return b.vm.Set("FormData", func(call goja.ConstructorCall) *goja.Object {
		enc := handle.NewFormEncoder()
		obj := call.This

		_ = obj.DefineDataPropertySymbol(b.formKey, b.vm.ToValue(enc), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
		_ = obj.DefineAccessorProperty("contentType", b.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return b.vm.ToValue(enc.ContentType())
		}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
		_ = obj.DefineAccessorProperty("boundary", b.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return b.vm.ToValue(enc.Boundary())
		}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

		// append(name, value[, filename[, contentType]])
		_ = obj.Set("append", func(c goja.FunctionCall) goja.Value {
			const op = "FormData.append"
			if len(c.Arguments) < 2 {
				b.throwType(op, "2 arguments required, but only %d present", len(c.Arguments))
			}
			field := handle.Field{
				Name:  c.Argument(0).String(),
				Value: b.formValue(op, c.Argument(1)),
			}
			if isSet(c.Argument(2)) {
				field.Filename = c.Argument(2).String()
			}
			if isSet(c.Argument(3)) {
				field.ContentType = c.Argument(3).String()
			}
			if err := enc.Append(field); err != nil {
				b.throw(err)
			}
			return goja.Undefined()
		})

		// next() yields the encoding one field at a time, iterator style
		_ = obj.Set("next", func(goja.FunctionCall) goja.Value {
			chunk, ok, err := enc.Next()
			if err != nil {
				b.throw(err)
			}
			res := b.vm.NewObject()
			if !ok {
				_ = res.Set("value", goja.Undefined())
				_ = res.Set("done", true)
				return res
			}
			_ = res.Set("value", b.newBuffer(chunk))
			_ = res.Set("done", false)
			return res
		})
		_ = obj.SetSymbol(goja.SymIterator, func(c goja.FunctionCall) goja.Value { return c.This })

		_ = obj.Set("encode", func(goja.FunctionCall) goja.Value {
			data, err := enc.Encode()
			if err != nil {
				b.throw(err)
			}
			return b.newBuffer(data)
		})
		return nil
	})
}

// formValue accepts strings, Buffers and raw byte sequences. Buffers are
// read when their field is encoded.
func (b *Binding) formValue(op string, v goja.Value) any {
	switch t := v.Export().(type) {
	case string:
		return t
	case *bufferObject:
		return t.buf
	case goja.ArrayBuffer:
		return append([]byte(nil), t.Bytes()...)
	case []byte:
		return append([]byte(nil), t...)
	}
	b.throwType(op, `The "value" argument must be of type string or an instance of Buffer or Uint8Array. Received %s`, describeArg(v))
	return nil
}

// formEncoder returns the encoder behind a FormData object
func (b *Binding) formEncoder(v goja.Value) (*handle.FormEncoder, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	inner := obj.GetSymbol(b.formKey)
	if inner == nil {
		return nil, false
	}
	enc, ok := inner.Export().(*handle.FormEncoder)
	return enc, ok
}
