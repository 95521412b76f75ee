package memory

import (
	"encoding/binary"
	"math"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

// Endian selects the byte order of multi-byte accessors
type Endian uint8

const (
	BigEndian Endian = iota
	LittleEndian
)

func (e Endian) order() binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// String returns the Node-style suffix for the order
func (e Endian) String() string {
	if e == LittleEndian {
		return "LE"
	}
	return "BE"
}

// ValidateOffset converts a script-supplied offset. Non-finite and
// fractional values are rejected before any bounds check runs.
func ValidateOffset(op string, v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, errs.OutOfRange(op, `The value of "offset" is out of range. It must be an integer. Received %v`, v)
	}
	if math.Abs(v) > 1<<53 {
		return 0, errs.OutOfRange(op, `The value of "offset" is out of range. Received %v`, v)
	}
	return int(v), nil
}

// ValidateInt checks that v fits an integer of the given width in bytes
func ValidateInt(op string, v float64, width int, signed bool) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errs.OutOfRange(op, `The value of "value" is out of range. Received %v`, v)
	}
	bits := uint(width * 8)
	var lo, hi float64
	if signed {
		lo = -math.Ldexp(1, int(bits-1))
		hi = math.Ldexp(1, int(bits-1)) - 1
	} else {
		lo = 0
		hi = math.Ldexp(1, int(bits)) - 1
	}
	if v < lo || v > hi {
		return errs.OutOfRange(op, `The value of "value" is out of range. It must be >= %.0f and <= %.0f. Received %v`, lo, hi, v)
	}
	return nil
}

// Uint8 reads one unsigned byte
func (b *Buffer) Uint8(off int) (v uint8, err error) {
	err = b.access("readUInt8", off, 1, func(p []byte) { v = p[0] })
	return
}

// Int8 reads one signed byte
func (b *Buffer) Int8(off int) (int8, error) {
	v, err := b.Uint8(off)
	return int8(v), err
}

// Uint16 reads an unsigned 16-bit integer
func (b *Buffer) Uint16(off int, e Endian) (v uint16, err error) {
	err = b.access("readUInt16"+e.String(), off, 2, func(p []byte) { v = e.order().Uint16(p) })
	return
}

// Int16 reads a signed 16-bit integer
func (b *Buffer) Int16(off int, e Endian) (int16, error) {
	v, err := b.Uint16(off, e)
	return int16(v), err
}

// Uint32 reads an unsigned 32-bit integer
func (b *Buffer) Uint32(off int, e Endian) (v uint32, err error) {
	err = b.access("readUInt32"+e.String(), off, 4, func(p []byte) { v = e.order().Uint32(p) })
	return
}

// Int32 reads a signed 32-bit integer
func (b *Buffer) Int32(off int, e Endian) (int32, error) {
	v, err := b.Uint32(off, e)
	return int32(v), err
}

// Uint64 reads an unsigned 64-bit integer
func (b *Buffer) Uint64(off int, e Endian) (v uint64, err error) {
	err = b.access("readBigUInt64"+e.String(), off, 8, func(p []byte) { v = e.order().Uint64(p) })
	return
}

// Int64 reads a signed 64-bit integer
func (b *Buffer) Int64(off int, e Endian) (int64, error) {
	v, err := b.Uint64(off, e)
	return int64(v), err
}

// Float32 reads an IEEE-754 single
func (b *Buffer) Float32(off int, e Endian) (float32, error) {
	v, err := b.Uint32(off, e)
	return math.Float32frombits(v), err
}

// Float64 reads an IEEE-754 double
func (b *Buffer) Float64(off int, e Endian) (float64, error) {
	v, err := b.Uint64(off, e)
	return math.Float64frombits(v), err
}

// UintN reads an unsigned integer of 1 to 6 bytes
func (b *Buffer) UintN(off, n int, e Endian) (v uint64, err error) {
	if n < 1 || n > 6 {
		return 0, errs.OutOfRange("readUInt"+e.String(), `The value of "byteLength" is out of range. It must be >= 1 and <= 6. Received %d`, n)
	}
	err = b.access("readUInt"+e.String(), off, n, func(p []byte) {
		for i := 0; i < n; i++ {
			if e == LittleEndian {
				v |= uint64(p[i]) << (8 * i)
			} else {
				v = v<<8 | uint64(p[i])
			}
		}
	})
	return
}

// IntN reads a two's complement integer of 1 to 6 bytes
func (b *Buffer) IntN(off, n int, e Endian) (int64, error) {
	v, err := b.UintN(off, n, e)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*n)
	return int64(v<<shift) >> shift, nil
}

// PutUint8 writes one byte
func (b *Buffer) PutUint8(off int, v uint8) error {
	return b.access("writeUInt8", off, 1, func(p []byte) { p[0] = v })
}

// PutUint16 writes a 16-bit integer
func (b *Buffer) PutUint16(off int, v uint16, e Endian) error {
	return b.access("writeUInt16"+e.String(), off, 2, func(p []byte) { e.order().PutUint16(p, v) })
}

// PutUint32 writes a 32-bit integer
func (b *Buffer) PutUint32(off int, v uint32, e Endian) error {
	return b.access("writeUInt32"+e.String(), off, 4, func(p []byte) { e.order().PutUint32(p, v) })
}

// PutUint64 writes a 64-bit integer
func (b *Buffer) PutUint64(off int, v uint64, e Endian) error {
	return b.access("writeBigUInt64"+e.String(), off, 8, func(p []byte) { e.order().PutUint64(p, v) })
}

// PutFloat32 writes an IEEE-754 single
func (b *Buffer) PutFloat32(off int, v float32, e Endian) error {
	return b.access("writeFloat"+e.String(), off, 4, func(p []byte) { e.order().PutUint32(p, math.Float32bits(v)) })
}

// PutFloat64 writes an IEEE-754 double
func (b *Buffer) PutFloat64(off int, v float64, e Endian) error {
	return b.access("writeDouble"+e.String(), off, 8, func(p []byte) { e.order().PutUint64(p, math.Float64bits(v)) })
}

// PutUintN writes the low n bytes (1 to 6) of v
func (b *Buffer) PutUintN(off, n int, v uint64, e Endian) error {
	if n < 1 || n > 6 {
		return errs.OutOfRange("writeUInt"+e.String(), `The value of "byteLength" is out of range. It must be >= 1 and <= 6. Received %d`, n)
	}
	return b.access("writeUInt"+e.String(), off, n, func(p []byte) {
		for i := 0; i < n; i++ {
			if e == LittleEndian {
				p[i] = byte(v >> (8 * i))
			} else {
				p[n-1-i] = byte(v >> (8 * i))
			}
		}
	})
}
