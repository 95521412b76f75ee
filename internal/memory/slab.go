package memory

import "sync"

// Size classes for pooled regions (powers of 4)
var slabSizes = [...]int{64, 256, 1024, 4096, 16384, 65536}

var slabPools [len(slabSizes)]sync.Pool

func init() {
	for i, size := range slabSizes {
		slabPools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
}

// slabClass returns the smallest class that fits size, or -1
func slabClass(size int) int {
	for i, s := range slabSizes {
		if size <= s {
			return i
		}
	}
	return -1
}

// getSlab returns a slice of length size backed by a pooled slab.
// Recycled slabs are cleared when zero is set.
func getSlab(size int, zero bool) ([]byte, bool) {
	idx := slabClass(size)
	if idx < 0 {
		return nil, false
	}
	p := slabPools[idx].Get().(*[]byte)
	buf := (*p)[:size]
	if zero {
		clear(buf)
	}
	return buf, true
}

// putSlab returns a slab to its class. Slices whose capacity is not a
// class size did not come from the pool and are dropped.
func putSlab(b []byte) {
	c := cap(b)
	for i, s := range slabSizes {
		if c == s {
			full := b[:c]
			slabPools[i].Put(&full)
			return
		}
	}
}
