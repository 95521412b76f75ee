package handle

import (
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/memory"
)

// Mode selects what an iterator yields
type Mode uint8

const (
	Keys Mode = iota
	Values
	Entries
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case Keys:
		return "keys"
	case Values:
		return "values"
	case Entries:
		return "entries"
	default:
		return "unknown"
	}
}

// Step is one iteration result. Index is set for Keys and Entries, Value
// for Values and Entries.
type Step struct {
	Index int
	Value uint8
}

// Iterator walks the bytes of a buffer. The cursor lives on the iterator
// itself, so iterators over the same buffer advance independently.
type Iterator struct {
	buf    *memory.Buffer
	mode   Mode
	cursor int
	done   bool
}

// NewIterator creates an iterator positioned before the first byte
func NewIterator(buf *memory.Buffer, mode Mode) *Iterator {
	return &Iterator{buf: buf, mode: mode}
}

// Mode returns the iteration mode
func (it *Iterator) Mode() Mode { return it.mode }

// Position returns the index of the next byte to be yielded
func (it *Iterator) Position() int { return it.cursor }

// Next advances the iterator. It returns false once the buffer is exhausted
// and keeps returning false afterwards. Iterating a released buffer ends
// the iteration with the accessor's error.
func (it *Iterator) Next() (Step, bool, error) {
	if it.done {
		return Step{}, false, nil
	}
	if it.cursor >= it.buf.Len() {
		it.done = true
		return Step{}, false, nil
	}

	step := Step{Index: it.cursor}
	if it.mode != Keys {
		v, err := it.buf.Uint8(it.cursor)
		if err != nil {
			it.done = true
			return Step{}, false, err
		}
		step.Value = v
	}
	it.cursor++
	return step, true, nil
}

// Done reports whether the iterator is exhausted
func (it *Iterator) Done() bool { return it.done }
