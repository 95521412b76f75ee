//go:build unix

package memory

import "golang.org/x/sys/unix"

const offHeapSupported = true

// mapRegion maps size bytes of anonymous private memory. The kernel hands
// the pages back zero-filled.
func mapRegion(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapRegion(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b[:cap(b)])
}
