package memory

import (
	"bytes"
	"runtime"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

// viewState is the part of a view the runtime cleanup may touch. It is kept
// separate from Buffer so the cleanup does not keep the Buffer reachable.
type viewState struct {
	mgr      *Manager
	region   *Region
	released atomic.Bool
}

func (v *viewState) release() bool {
	if !v.released.CompareAndSwap(false, true) {
		return false
	}
	v.mgr.unref(v.region)
	return true
}

// Buffer is a view over a region. Slicing creates another view that shares
// the region and holds its own reference; bytes are never copied.
type Buffer struct {
	state   *viewState
	scope   *Scope
	offset  int
	length  int
	cleanup runtime.Cleanup
}

func newView(m *Manager, r *Region, scope *Scope, offset, length int) *Buffer {
	st := &viewState{mgr: m, region: r}
	b := &Buffer{state: st, scope: scope, offset: offset, length: length}
	// An unreachable view drops its reference even if nobody released it
	b.cleanup = runtime.AddCleanup(b, func(v *viewState) { v.release() }, st)
	return b
}

// Len returns the view length in bytes
func (b *Buffer) Len() int { return b.length }

// Offset returns the view offset inside its region
func (b *Buffer) Offset() int { return b.offset }

// Region returns the backing region
func (b *Buffer) Region() *Region { return b.state.region }

// Released reports whether this view, or its region, is gone
func (b *Buffer) Released() bool {
	return b.state.released.Load() || b.state.region.freed.Load()
}

// Release drops this view's reference. It is idempotent and reports whether
// this call did the release.
func (b *Buffer) Release() bool {
	b.cleanup.Stop()
	return b.state.release()
}

// Slice returns a view of [start, end) sharing the same region. Negative
// indices count back from the end, and both are clamped to the view.
func (b *Buffer) Slice(start, end int) (*Buffer, error) {
	start, end = clampRange(start, end, b.length)
	return b.slice(b.scope, start, end)
}

func (b *Buffer) slice(scope *Scope, start, end int) (*Buffer, error) {
	if b.state.released.Load() || !b.state.region.retain() {
		return nil, errs.Released("slice")
	}
	view := newView(b.state.mgr, b.state.region, scope, b.offset+start, end-start)
	if scope != nil {
		scope.track(view.state)
	}
	return view, nil
}

func clampRange(start, end, length int) (int, int) {
	clamp := func(i int) int {
		if i < 0 {
			i += length
			if i < 0 {
				return 0
			}
		}
		if i > length {
			return length
		}
		return i
	}
	start, end = clamp(start), clamp(end)
	if end < start {
		end = start
	}
	return start, end
}

// access runs fn over [off, off+width) after validating the view is live and
// the range is inside it. fn never runs on a failed check.
func (b *Buffer) access(op string, off, width int, fn func(p []byte)) error {
	if b.state.released.Load() {
		return errs.Released(op)
	}
	if off < 0 || width < 0 || off > b.length-width {
		return errs.OutOfRange(op, `The value of "offset" is out of range. It must be >= 0 and <= %d. Received %d`,
			b.length-width, off)
	}

	r := b.state.region
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.freed.Load() {
		return errs.Released(op)
	}
	start := b.offset + off
	fn(r.data[start : start+width : start+width])
	return nil
}

// View runs fn over the whole view without copying. fn must not retain p.
func (b *Buffer) View(fn func(p []byte)) error {
	return b.access("view", 0, b.length, fn)
}

// Bytes returns a copy of the view contents
func (b *Buffer) Bytes() ([]byte, error) {
	out := make([]byte, b.length)
	err := b.access("bytes", 0, b.length, func(p []byte) { copy(out, p) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteAt copies as much of p as fits starting at off and returns the
// number of bytes written
func (b *Buffer) WriteAt(off int, p []byte) (int, error) {
	if off < 0 || off > b.length {
		return 0, errs.OutOfRange("write", `The value of "offset" is out of range. It must be >= 0 and <= %d. Received %d`,
			b.length, off)
	}
	n := min(len(p), b.length-off)
	err := b.access("write", off, n, func(dst []byte) { copy(dst, p) })
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Fill repeats pattern over [start, end). An empty pattern fills zeros.
func (b *Buffer) Fill(pattern []byte, start, end int) error {
	if start < 0 || end > b.length || start > end {
		return errs.OutOfRange("fill", "range [%d, %d) is out of range for length %d", start, end, b.length)
	}
	return b.access("fill", start, end-start, func(p []byte) {
		if len(pattern) == 0 {
			clear(p)
			return
		}
		for i := 0; i < len(p); i += len(pattern) {
			copy(p[i:], pattern)
		}
	})
}

// withPair runs fn over the full contents of two views, locking a shared
// region only once
func withPair(op string, a, b *Buffer, fn func(pa, pb []byte)) error {
	if a.state.region == b.state.region {
		r := a.state.region
		if a.state.released.Load() || b.state.released.Load() {
			return errs.Released(op)
		}
		r.mu.RLock()
		defer r.mu.RUnlock()
		if r.freed.Load() {
			return errs.Released(op)
		}
		fn(r.data[a.offset:a.offset+a.length], r.data[b.offset:b.offset+b.length])
		return nil
	}

	// regions are locked in id order so opposite-order pairs cannot deadlock
	first, second := a, b
	if b.state.region.id < a.state.region.id {
		first, second = b, a
	}
	var err error
	outer := first.access(op, 0, first.length, func(p1 []byte) {
		err = second.access(op, 0, second.length, func(p2 []byte) {
			if first == a {
				fn(p1, p2)
			} else {
				fn(p2, p1)
			}
		})
	})
	if outer != nil {
		return outer
	}
	return err
}

// CopyTo copies src[srcStart:srcEnd] into dst at targetStart, truncating to
// what fits, and returns the number of bytes copied
func (b *Buffer) CopyTo(dst *Buffer, targetStart, srcStart, srcEnd int) (int, error) {
	if targetStart < 0 {
		return 0, errs.OutOfRange("copy", `The value of "targetStart" is out of range. It must be >= 0. Received %d`, targetStart)
	}
	if srcStart < 0 {
		return 0, errs.OutOfRange("copy", `The value of "sourceStart" is out of range. It must be >= 0. Received %d`, srcStart)
	}
	srcEnd = min(srcEnd, b.length)
	if targetStart >= dst.length || srcStart >= srcEnd {
		return 0, nil
	}

	n := 0
	err := withPair("copy", b, dst, func(src, out []byte) {
		n = copy(out[targetStart:], src[srcStart:srcEnd])
	})
	return n, err
}

// Compare orders two views bytewise
func Compare(a, b *Buffer) (int, error) {
	result := 0
	err := withPair("compare", a, b, func(pa, pb []byte) {
		result = bytes.Compare(pa, pb)
	})
	return result, err
}

// Equal reports whether two views hold the same bytes
func Equal(a, b *Buffer) (bool, error) {
	c, err := Compare(a, b)
	return c == 0, err
}

// IndexOf returns the first index of needle at or after from, or -1
func (b *Buffer) IndexOf(needle []byte, from int) (int, error) {
	if from < 0 {
		from = max(b.length+from, 0)
	}
	if from > b.length {
		return -1, nil
	}
	idx := -1
	err := b.View(func(p []byte) {
		if i := bytes.Index(p[from:], needle); i >= 0 {
			idx = from + i
		}
	})
	return idx, err
}

// Allocator is implemented by Manager and Scope
type Allocator interface {
	Alloc(size int) (*Buffer, error)
}

// Concat allocates a buffer of total bytes and fills it from list in order.
// A negative total means the sum of all lengths.
func Concat(a Allocator, list []*Buffer, total int) (*Buffer, error) {
	if total < 0 {
		total = 0
		for _, b := range list {
			total += b.length
		}
	}

	out, err := a.Alloc(total)
	if err != nil {
		return nil, err
	}

	pos := 0
	for _, b := range list {
		if pos >= total {
			break
		}
		n, err := b.CopyTo(out, pos, 0, b.length)
		if err != nil {
			out.Release()
			return nil, err
		}
		pos += n
	}
	return out, nil
}
