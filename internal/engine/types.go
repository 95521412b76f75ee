package engine

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/cache"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/memory"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/natives"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/id"
)

// State is a step in the life of one submission
type State string

const (
	StateIdle      State = "idle"
	StateCompiling State = "compiling" // only on a cache miss
	StateQueued    State = "queued"    // waiting for a pool instance
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateReleased  State = "released" // instance returned or discarded, buffers freed
)

// Terminal reports whether s ends the execution proper
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// Config bundles the configuration of every engine component
type Config struct {
	Pool    sandbox.Config
	Cache   cache.Config
	Memory  memory.Config
	Network natives.NetworkConfig

	// AwaitAsyncResult is the default for Options built by DefaultOptions
	AwaitAsyncResult bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Pool:             sandbox.DefaultConfig(),
		Cache:            cache.DefaultConfig(),
		Memory:           memory.DefaultConfig(),
		Network:          natives.DefaultNetworkConfig(),
		AwaitAsyncResult: true,
	}
}

// Options tune a single submission
type Options struct {
	Timeout          time.Duration // 0 uses the pool default
	AwaitAsyncResult bool          // drive timers until a returned promise settles
	NoWaitCompile    bool          // compile uncached rather than wait on a concurrent compile
	Strict           bool          // compile in strict mode
}

// Result is the outcome of a submission
type Result struct {
	ExecutionID id.ExecutionID     `json:"execution_id"`
	Success     bool               `json:"success"`
	Value       any                `json:"value,omitempty"`
	Error       error              `json:"-"`
	Console     []sandbox.LogEntry `json:"console,omitempty"`
	Duration    time.Duration      `json:"duration"`
	CacheHit    bool               `json:"cache_hit"`

	// State is the terminal state; States lists every state visited
	State  State   `json:"state"`
	States []State `json:"states"`
}

// ErrorKind returns the kind of the failure, or "" on success
func (r *Result) ErrorKind() errs.Kind {
	if r.Error == nil {
		return ""
	}
	return errs.KindOf(r.Error)
}

func (r *Result) enter(s State) {
	r.States = append(r.States, s)
	if s.Terminal() {
		r.State = s
	}
}

// Observer receives engine events, typically for metrics. It also sees the
// events of the memory manager and runtime pool the engine owns.
type Observer interface {
	memory.Observer
	sandbox.Observer
	ExecutionFinished(state State, kind errs.Kind, duration time.Duration, cacheHit bool)
}

// Stats aggregates the statistics of the engine's components
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	TimedOut  uint64

	Pool   sandbox.Stats
	Cache  cache.Stats
	Memory memory.Stats
}
