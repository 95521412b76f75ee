package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"slices"
)

// Fingerprint identifies a compiled form: a SHA-256 over the source and the
// compile-affecting flags. Flag order does not matter. Every field is
// length-prefixed, so no two field lists hash the same input.
func Fingerprint(source string, flags ...string) string {
	sorted := slices.Clone(flags)
	slices.Sort(sorted)

	h := sha256.New()
	writeField(h, source)
	for _, f := range sorted {
		writeField(h, f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// Short returns the first 12 characters of a fingerprint for logs
func Short(fp string) string {
	if len(fp) < 12 {
		return fp
	}
	return fp[:12]
}
