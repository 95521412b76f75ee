/*
Package memory implements the native memory manager behind the guest
Buffer type.

# Regions and views

A Region is a contiguous backing block. A Buffer is a view over part of a
region; slicing never copies, it creates another view holding its own
reference on the same region. The region is freed exactly once, when its
reference count reaches zero or when the sweep reclaims it.

Backing memory is chosen by size:

  - size <= PoolThreshold: size-classed slabs from sync.Pool
  - size >= OffHeapThreshold: anonymous mmap outside the Go heap (unix)
  - otherwise: a plain Go slice

Host-supplied slices are wrapped as external regions and never freed by
the manager.

# Release paths

  - Explicit: Buffer.Release, or Scope.Close at the end of an execution
  - Unreachable: a runtime cleanup drops the reference of a view that was
    collected without being released
  - Sweep: every SweepInterval, regions whose owning scope closed more than
    SweepWindow ago are reclaimed

Every accessor validates the view and its bounds before it touches memory,
and reads under the region's read lock so a concurrent free never exposes a
half-released region.

# Usage

	mgr := memory.NewManager(memory.DefaultConfig(), logger, nil)
	scope := mgr.NewScope("exec_01H...")
	buf, _ := scope.Alloc(8)
	_ = buf.PutUint64(0, math.MaxUint64, memory.BigEndian)
	v, _ := buf.Int64(0, memory.BigEndian) // -1
	scope.Close()                          // releases buf
*/
package memory
