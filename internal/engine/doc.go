// Package engine is the entrypoint an external dispatcher submits guest
// scripts to.
//
// A submission moves through:
//
//	idle -> compiling (cache miss only) -> queued -> running
//	     -> completed | failed | timed_out -> released
//
// Compiled programs are shared through the compile cache; each execution
// gets its own memory scope, which is closed on every path, so a script
// that times out or throws still has all of its buffers released. A timed
// out instance is discarded by the pool instead of being reset.
//
// Example Usage:
//
//	eng, err := engine.New(engine.DefaultConfig(), logger, nil)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	res := eng.Submit(ctx, "(input) => input.n * 2", map[string]any{"n": 21}, eng.DefaultOptions())
//	if !res.Success {
//	    return res.Error
//	}
package engine
