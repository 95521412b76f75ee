package natives

import (
	"math/big"
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/memory"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

type (
	readFunc  func(buf *memory.Buffer, off int, e memory.Endian) (any, error)
	writeFunc func(op string, buf *memory.Buffer, off int, v goja.Value, e memory.Endian) error
)

// numeric describes one fixed-width accessor family, e.g. readUInt16LE and
// writeUInt16BE
type numeric struct {
	name  string
	width int
	read  readFunc
	write writeFunc
}

var (
	minInt64  = new(big.Int).Lsh(big.NewInt(-1), 63)
	maxInt64  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(1))
	maxUint64 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))
)

var numerics = []numeric{
	{
		name: "UInt8", width: 1,
		read: func(buf *memory.Buffer, off int, _ memory.Endian) (any, error) {
			v, err := buf.Uint8(off)
			return int64(v), err
		},
		write: intWriter(1, false),
	},
	{
		name: "Int8", width: 1,
		read: func(buf *memory.Buffer, off int, _ memory.Endian) (any, error) {
			v, err := buf.Int8(off)
			return int64(v), err
		},
		write: intWriter(1, true),
	},
	{
		name: "UInt16", width: 2,
		read: func(buf *memory.Buffer, off int, e memory.Endian) (any, error) {
			v, err := buf.Uint16(off, e)
			return int64(v), err
		},
		write: intWriter(2, false),
	},
	{
		name: "Int16", width: 2,
		read: func(buf *memory.Buffer, off int, e memory.Endian) (any, error) {
			v, err := buf.Int16(off, e)
			return int64(v), err
		},
		write: intWriter(2, true),
	},
	{
		name: "UInt32", width: 4,
		read: func(buf *memory.Buffer, off int, e memory.Endian) (any, error) {
			v, err := buf.Uint32(off, e)
			return int64(v), err
		},
		write: intWriter(4, false),
	},
	{
		name: "Int32", width: 4,
		read: func(buf *memory.Buffer, off int, e memory.Endian) (any, error) {
			v, err := buf.Int32(off, e)
			return int64(v), err
		},
		write: intWriter(4, true),
	},
	{
		name: "Float", width: 4,
		read: func(buf *memory.Buffer, off int, e memory.Endian) (any, error) {
			v, err := buf.Float32(off, e)
			return float64(v), err
		},
		write: func(_ string, buf *memory.Buffer, off int, v goja.Value, e memory.Endian) error {
			return buf.PutFloat32(off, float32(v.ToFloat()), e)
		},
	},
	{
		name: "Double", width: 8,
		read: func(buf *memory.Buffer, off int, e memory.Endian) (any, error) {
			return buf.Float64(off, e)
		},
		write: func(_ string, buf *memory.Buffer, off int, v goja.Value, e memory.Endian) error {
			return buf.PutFloat64(off, v.ToFloat(), e)
		},
	},
	{
		name: "BigInt64", width: 8,
		read: func(buf *memory.Buffer, off int, e memory.Endian) (any, error) {
			v, err := buf.Int64(off, e)
			return big.NewInt(v), err
		},
		write: bigWriter(true),
	},
	{
		name: "BigUInt64", width: 8,
		read: func(buf *memory.Buffer, off int, e memory.Endian) (any, error) {
			v, err := buf.Uint64(off, e)
			return new(big.Int).SetUint64(v), err
		},
		write: bigWriter(false),
	},
}

func intWriter(width int, signed bool) writeFunc {
	return func(op string, buf *memory.Buffer, off int, v goja.Value, e memory.Endian) error {
		f := v.ToFloat()
		if err := memory.ValidateInt(op, f, width, signed); err != nil {
			return err
		}
		u := uint64(int64(f))
		switch width {
		case 1:
			return buf.PutUint8(off, uint8(u))
		case 2:
			return buf.PutUint16(off, uint16(u), e)
		default:
			return buf.PutUint32(off, uint32(u), e)
		}
	}
}

func bigWriter(signed bool) writeFunc {
	return func(op string, buf *memory.Buffer, off int, v goja.Value, e memory.Endian) error {
		x, ok := v.Export().(*big.Int)
		if !ok {
			return errs.TypeMismatch(op, `The "value" argument must be of type bigint. Received %s`, describeArg(v))
		}
		lo, hi := minInt64, maxInt64
		if !signed {
			lo, hi = new(big.Int), maxUint64
		}
		if x.Cmp(lo) < 0 || x.Cmp(hi) > 0 {
			return errs.OutOfRange(op, `The value of "value" is out of range. It must be >= %sn and <= %sn. Received %sn`, lo, hi, x)
		}
		if signed {
			return buf.PutUint64(off, uint64(x.Int64()), e)
		}
		return buf.PutUint64(off, x.Uint64(), e)
	}
}

// installAccessors adds read*/write* for every numeric family, both byte
// orders, and the lower-case Uint aliases Node also exposes
func (b *Binding) installAccessors(proto *goja.Object) error {
	for _, n := range numerics {
		orders := []memory.Endian{memory.LittleEndian, memory.BigEndian}
		if n.width == 1 {
			orders = []memory.Endian{memory.BigEndian}
		}
		for _, e := range orders {
			suffix := e.String()
			if n.width == 1 {
				suffix = ""
			}
			readName := "read" + n.name + suffix
			writeName := "write" + n.name + suffix
			if err := setWithAlias(proto, readName, b.reader(readName, n, e)); err != nil {
				return err
			}
			if err := setWithAlias(proto, writeName, b.writer(writeName, n, e)); err != nil {
				return err
			}
		}
	}

	for _, e := range []memory.Endian{memory.LittleEndian, memory.BigEndian} {
		for _, signed := range []bool{false, true} {
			kind := "UInt"
			if signed {
				kind = "Int"
			}
			readName := "read" + kind + e.String()
			writeName := "write" + kind + e.String()
			if err := setWithAlias(proto, readName, b.variableReader(readName, e, signed)); err != nil {
				return err
			}
			if err := setWithAlias(proto, writeName, b.variableWriter(writeName, e, signed)); err != nil {
				return err
			}
		}
	}
	return nil
}

func setWithAlias(proto *goja.Object, name string, fn func(goja.FunctionCall) goja.Value) error {
	if err := proto.Set(name, fn); err != nil {
		return err
	}
	if alias := strings.Replace(name, "UInt", "Uint", 1); alias != name {
		return proto.Set(alias, fn)
	}
	return nil
}

func (b *Binding) reader(op string, n numeric, e memory.Endian) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		o := b.this(call, op)
		v, err := n.read(o.buf, b.offset(op, call.Argument(0)), e)
		if err != nil {
			b.throw(err)
		}
		return b.vm.ToValue(v)
	}
}

// writer returns the offset just past the written bytes
func (b *Binding) writer(op string, n numeric, e memory.Endian) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		o := b.this(call, op)
		off := b.offset(op, call.Argument(1))
		if err := n.write(op, o.buf, off, call.Argument(0), e); err != nil {
			b.throw(err)
		}
		return b.vm.ToValue(off + n.width)
	}
}

// readUIntLE(offset, byteLength) and friends cover widths 1 to 6
func (b *Binding) variableReader(op string, e memory.Endian, signed bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		o := b.this(call, op)
		off := b.offset(op, call.Argument(0))
		width := int(b.number(op, "byteLength", call.Argument(1)))
		var (
			v   any
			err error
		)
		if signed {
			v, err = o.buf.IntN(off, width, e)
		} else {
			v, err = o.buf.UintN(off, width, e)
		}
		if err != nil {
			b.throw(err)
		}
		return b.vm.ToValue(v)
	}
}

func (b *Binding) variableWriter(op string, e memory.Endian, signed bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		o := b.this(call, op)
		off := b.offset(op, call.Argument(1))
		width := int(b.number(op, "byteLength", call.Argument(2)))
		if width < 1 || width > 6 {
			b.throwRange(op, `The value of "byteLength" is out of range. It must be >= 1 and <= 6. Received %d`, width)
		}
		f := call.Argument(0).ToFloat()
		if err := memory.ValidateInt(op, f, width, signed); err != nil {
			b.throw(err)
		}
		if err := o.buf.PutUintN(off, width, uint64(int64(f)), e); err != nil {
			b.throw(err)
		}
		return b.vm.ToValue(off + width)
	}
}
