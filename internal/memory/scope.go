package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

// Scope tracks the views created on behalf of one execution so that every
// one of them can be released when the execution ends, whichever way it ends.
type Scope struct {
	mgr  *Manager
	name string

	mu       sync.Mutex
	views    []*viewState
	closed   bool
	closedAt atomic.Int64 // unix nanos, 0 while open
}

// Name returns the scope label, usually the execution id
func (s *Scope) Name() string { return s.name }

// Manager returns the owning manager
func (s *Scope) Manager() *Manager { return s.mgr }

// Alloc returns a zero-filled buffer owned by the scope
func (s *Scope) Alloc(size int) (*Buffer, error) {
	if err := s.checkOpen("alloc"); err != nil {
		return nil, err
	}
	b, err := s.mgr.alloc(s, "alloc", size, true)
	if err != nil {
		return nil, err
	}
	s.track(b.state)
	return b, nil
}

// AllocUnsafe returns a buffer owned by the scope without zero-fill
func (s *Scope) AllocUnsafe(size int) (*Buffer, error) {
	if err := s.checkOpen("allocUnsafe"); err != nil {
		return nil, err
	}
	b, err := s.mgr.alloc(s, "allocUnsafe", size, false)
	if err != nil {
		return nil, err
	}
	s.track(b.state)
	return b, nil
}

// Wrap exposes host bytes inside the scope without copying
func (s *Scope) Wrap(data []byte) (*Buffer, error) {
	if err := s.checkOpen("wrap"); err != nil {
		return nil, err
	}
	b := s.mgr.wrap(s, data)
	s.track(b.state)
	return b, nil
}

// Adopt creates a scope-tracked view over an existing buffer, typically a
// host-owned buffer handed to a script as input
func (s *Scope) Adopt(b *Buffer) (*Buffer, error) {
	if err := s.checkOpen("adopt"); err != nil {
		return nil, err
	}
	view, err := b.slice(s, 0, b.length)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Live returns the number of tracked views not yet released
func (s *Scope) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, v := range s.views {
		if !v.released.Load() {
			n++
		}
	}
	return n
}

// Close releases every view the scope still tracks and returns how many it
// released. Regions kept alive by views outside the scope stay allocated
// until they are released or the sweep window passes.
func (s *Scope) Close() int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true
	views := s.views
	s.views = nil
	s.closedAt.Store(time.Now().UnixNano())
	s.mu.Unlock()

	released := 0
	for _, v := range views {
		if v.release() {
			released++
		}
	}
	return released
}

func (s *Scope) checkOpen(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New(errs.KindClosed, op, "scope %s is closed", s.name)
	}
	return nil
}

// track registers a view. Views created after Close are released at once.
func (s *Scope) track(v *viewState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		v.release()
		return
	}
	s.views = append(s.views, v)
	s.mu.Unlock()
}

// closedBefore reports whether the scope closed before t. Nil scopes are
// host-owned and never expire.
func (s *Scope) closedBefore(t time.Time) bool {
	if s == nil {
		return false
	}
	at := s.closedAt.Load()
	return at != 0 && at < t.UnixNano()
}
