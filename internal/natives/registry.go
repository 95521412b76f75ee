package natives

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // still requested by guest scripts
	"golang.org/x/crypto/sha3"
)

// HashFactory creates a fresh hash state
type HashFactory func() hash.Hash

var hashRegistry = struct {
	sync.RWMutex
	factories map[string]HashFactory
	aliases   map[string]string
}{
	factories: make(map[string]HashFactory),
	aliases:   make(map[string]string),
}

// RegisterHash makes an algorithm available to createHash, createHmac and
// the key derivation functions under name and any aliases
func RegisterHash(name string, factory HashFactory, aliases ...string) {
	hashRegistry.Lock()
	defer hashRegistry.Unlock()

	name = strings.ToLower(name)
	hashRegistry.factories[name] = factory
	for _, alias := range aliases {
		hashRegistry.aliases[strings.ToLower(alias)] = name
	}
}

// LookupHash resolves an algorithm name case-insensitively
func LookupHash(name string) (HashFactory, bool) {
	hashRegistry.RLock()
	defer hashRegistry.RUnlock()

	name = strings.ToLower(name)
	if canonical, ok := hashRegistry.aliases[name]; ok {
		name = canonical
	}
	f, ok := hashRegistry.factories[name]
	return f, ok
}

// HashNames lists the registered algorithms
func HashNames() []string {
	hashRegistry.RLock()
	defer hashRegistry.RUnlock()

	names := make([]string, 0, len(hashRegistry.factories))
	for name := range hashRegistry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func blake2bFactory(size int) HashFactory {
	return func() hash.Hash {
		// Only a key longer than 64 bytes makes blake2b fail
		h, _ := blake2b.New(size, nil)
		return h
	}
}

func init() {
	RegisterHash("md5", md5.New)
	RegisterHash("sha1", sha1.New, "sha-1")
	RegisterHash("sha224", sha256.New224, "sha-224")
	RegisterHash("sha256", sha256.New, "sha-256")
	RegisterHash("sha384", sha512.New384, "sha-384")
	RegisterHash("sha512", sha512.New, "sha-512")
	RegisterHash("sha512-256", sha512.New512_256)
	RegisterHash("sha3-224", sha3.New224)
	RegisterHash("sha3-256", sha3.New256)
	RegisterHash("sha3-384", sha3.New384)
	RegisterHash("sha3-512", sha3.New512)
	RegisterHash("blake2b256", blake2bFactory(blake2b.Size256), "blake2b-256")
	RegisterHash("blake2b512", blake2bFactory(blake2b.Size), "blake2b-512")
	RegisterHash("ripemd160", ripemd160.New, "rmd160", "ripemd")
}
