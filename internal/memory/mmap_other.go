//go:build !unix

package memory

import "errors"

const offHeapSupported = false

var errNoMmap = errors.New("anonymous mappings are not supported on this platform")

func mapRegion(size int) ([]byte, error) {
	return nil, errNoMmap
}

func unmapRegion(b []byte) error {
	return nil
}
