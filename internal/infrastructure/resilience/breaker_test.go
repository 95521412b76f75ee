package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newClockedBreaker(settings Settings) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := New("upstream", settings)
	b.now = c.now
	b.expiry = c.now().Add(b.settings.Interval)
	return b, c
}

func call(b *Breaker, fail bool) error {
	_, err := Do(b, func() (string, error) {
		if fail {
			return "", errUpstream
		}
		return "ok", nil
	})
	return err
}

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		requests []bool // true = success, false = failure
		want     State
	}{
		{
			name:     "stays closed on successes",
			settings: Settings{Interval: time.Minute, Cooldown: time.Minute},
			requests: []bool{true, true, true},
			want:     StateClosed,
		},
		{
			name:     "opens after consecutive failures",
			settings: Settings{ReadyToTrip: tripAfter(3)},
			requests: []bool{false, false, false},
			want:     StateOpen,
		},
		{
			name:     "success resets the failure streak",
			settings: Settings{ReadyToTrip: tripAfter(3)},
			requests: []bool{false, false, true, false, false},
			want:     StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker, _ := newClockedBreaker(tt.settings)
			for _, success := range tt.requests {
				_ = call(breaker, !success)
			}
			assert.Equal(t, tt.want, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker, _ := newClockedBreaker(Settings{})

	require.NoError(t, call(breaker, false))
	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)

	assert.ErrorIs(t, call(breaker, true), errUpstream)
	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	breaker, clk := newClockedBreaker(Settings{Interval: time.Minute, ReadyToTrip: tripAfter(2)})

	_ = call(breaker, true)
	clk.advance(2 * time.Minute)
	_ = call(breaker, true)

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestBreakerOpenRejectsImmediately(t *testing.T) {
	breaker, _ := newClockedBreaker(Settings{ReadyToTrip: tripAfter(2)})
	_ = call(breaker, true)
	_ = call(breaker, true)
	require.Equal(t, StateOpen, breaker.State())

	ran := false
	_, err := Do(breaker, func() (int, error) {
		ran = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
}

func TestBreakerHalfOpenProbes(t *testing.T) {
	breaker, clk := newClockedBreaker(Settings{
		Probes:      2,
		Cooldown:    time.Second,
		ReadyToTrip: tripAfter(2),
	})
	_ = call(breaker, true)
	_ = call(breaker, true)

	clk.advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, call(breaker, false))
	assert.Equal(t, StateHalfOpen, breaker.State())
	require.NoError(t, call(breaker, false))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenLimitsConcurrentProbes(t *testing.T) {
	breaker, clk := newClockedBreaker(Settings{Probes: 1, Cooldown: time.Second, ReadyToTrip: tripAfter(1)})
	_ = call(breaker, true)
	clk.advance(2 * time.Second)

	done, err := breaker.Allow()
	require.NoError(t, err)

	_, err = breaker.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)

	done(errUpstream)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	breaker, _ := newClockedBreaker(Settings{ReadyToTrip: tripAfter(1)})

	_, err := Do(breaker, func() (int, error) { return 0, context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().TotalSuccesses)
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string
	breaker, clk := newClockedBreaker(Settings{
		Cooldown:    time.Second,
		ReadyToTrip: tripAfter(2),
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = call(breaker, true)
	_ = call(breaker, true)
	clk.advance(2 * time.Second)
	_ = call(breaker, false)

	assert.Equal(t, []string{
		"upstream:closed->open",
		"upstream:open->half-open",
		"upstream:half-open->closed",
	}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker, _ := newClockedBreaker(Settings{ReadyToTrip: tripAfter(1)})

	assert.Panics(t, func() {
		_, _ = Do(breaker, func() (int, error) { panic("boom") })
	})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestGroupIsolatesKeys(t *testing.T) {
	group := NewGroup(Settings{ReadyToTrip: tripAfter(1)}, 0)

	_ = call(group.For("a.example"), true)

	assert.Same(t, group.For("a.example"), group.For("a.example"))
	assert.Equal(t, StateOpen, group.For("a.example").State())
	assert.Equal(t, StateClosed, group.For("b.example").State())
	assert.Equal(t, []string{"a.example", "b.example"}, group.Keys())
	assert.Equal(t, map[string]State{"a.example": StateOpen, "b.example": StateClosed}, group.States())
}

func TestGroupEvictsLeastRecentlyUsed(t *testing.T) {
	group := NewGroup(Settings{ReadyToTrip: tripAfter(1)}, 2)

	_ = call(group.For("a.example"), true)
	group.For("b.example")
	group.For("a.example")
	group.For("c.example")

	assert.Equal(t, 2, group.Len())
	assert.Equal(t, []string{"a.example", "c.example"}, group.Keys())
	assert.Equal(t, StateOpen, group.For("a.example").State(), "a recently used breaker keeps its state")

	for n := 0; n < 1000; n++ {
		group.For(fmt.Sprintf("host-%d.example", n))
	}
	assert.Equal(t, 2, group.Len())
	assert.Equal(t, StateClosed, group.For("a.example").State(), "an evicted key starts over closed")
}
