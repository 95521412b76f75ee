package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"
)

// Config defines runtime pool configuration
type Config struct {
	Size              int           // Fixed number of instances
	AcquireTimeout    time.Duration // How long Acquire waits before PoolExhausted
	MaxUses           int           // Executions before an instance is recycled, 0 = unlimited
	Timeout           time.Duration // Default execution budget
	MaxCallStackSize  int           // goja call stack limit
	MaxConsoleEntries int           // Console lines kept per execution
	EnableConsole     bool          // Allow console.log/info/warn/error/debug
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		Size:              4,
		AcquireTimeout:    5 * time.Second,
		MaxUses:           256,
		Timeout:           5 * time.Second,
		MaxCallStackSize:  1024,
		MaxConsoleEntries: 1000,
		EnableConsole:     true,
	}
}

// Task describes one execution on an instance
type Task struct {
	Program *goja.Program
	Timeout time.Duration // 0 uses the pool default

	// Await drains pending timers and unwraps the completion promise
	Await bool

	// Bind installs per-execution globals. They are removed on Reset. ctx
	// is cancelled when the execution's budget runs out.
	Bind func(ctx context.Context, vm *goja.Runtime) error

	// Export converts the completion value while the watchdog is still
	// armed. nil uses goja's Export.
	Export func(vm *goja.Runtime, v goja.Value) (any, error)
}

// Result holds execution result
type Result struct {
	Value    any           // Exported completion value
	Console  []LogEntry    // Console output
	Duration time.Duration // Execution time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// DiscardReason records why an instance left the pool
type DiscardReason string

const (
	DiscardTimeout     DiscardReason = "timeout"      // interrupted by the watchdog or an abort
	DiscardFault       DiscardReason = "fault"        // Go panic inside a native
	DiscardResetFailed DiscardReason = "reset_failed" // ambient state could not be restored
	DiscardRecycled    DiscardReason = "recycled"     // reached MaxUses
	DiscardClosed      DiscardReason = "closed"       // released into a closed pool
)

// InputGlobal is the global a task's Bind is expected to set; a completion
// value that is a function is invoked with it
const InputGlobal = "input"

// resetBudget bounds a reset, including any guest accessors it triggers
const resetBudget = time.Second
