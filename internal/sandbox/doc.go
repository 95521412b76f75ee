/*
Package sandbox provides the pool of goja runtime instances that guest
scripts execute on.

# Overview

Each Instance serves one execution at a time. An execution runs under a
watchdog derived from its context and timeout; when it fires, the VM is
interrupted and the instance is marked tainted. A Go panic raised by a
native marks it tainted as well. Tainted instances are discarded by the
pool rather than reset.

# Reset

On release an instance is restored to the baseline recorded when it was
created:

  - globals added by the execution are deleted
  - baseline globals that were overwritten or deleted are restored
  - pending timers and console output are dropped
  - every object reachable from the baseline globals, plus the iterator
    and function prototypes no global leads to, is compared with its
    recorded own properties, prototype and extensibility

If any step fails the instance is discarded. Scripts are compiled inside a
block, so top-level let, const and class bindings never reach the global
scope; top-level var declarations do, cannot be deleted, and cost the
instance its place in the pool.

# Pool

The pool holds a fixed number of slots. Acquire waits up to AcquireTimeout
for a slot and then fails with a pool-exhausted error. Instances are
created lazily, reused after reset, and recycled after MaxUses executions.

# Usage Example

	pool := sandbox.NewPool(sandbox.DefaultConfig(), logger, nil)
	defer pool.Close()

	prog, err := sandbox.Compile("job.js", "1 + 1", false)
	if err != nil {
		return err
	}
	result, err := pool.Execute(ctx, sandbox.Task{Program: prog})
*/
package sandbox
