package resilience

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultGroupSize is the number of keys a group tracks when none is given
const DefaultGroupSize = 256

// Group hands out one breaker per upstream key, typically a host, so one
// failing host does not block requests to the others. Keys come from guest
// input, so only the most recently used size keys keep their breaker; an
// evicted key starts over closed.
type Group struct {
	settings Settings

	mu       sync.Mutex
	breakers *lru.Cache[string, *Breaker]
}

// NewGroup creates an empty breaker group sharing settings. size <= 0 uses
// DefaultGroupSize.
func NewGroup(settings Settings, size int) *Group {
	if size <= 0 {
		size = DefaultGroupSize
	}
	// lru.New only fails for a non-positive size
	breakers, _ := lru.New[string, *Breaker](size)
	return &Group{settings: settings, breakers: breakers}
}

// For returns the breaker for key, creating it on first use
func (g *Group) For(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers.Get(key)
	if !ok {
		b = New(key, g.settings)
		g.breakers.Add(key, b)
	}
	return b
}

// Len returns the number of tracked keys
func (g *Group) Len() int { return g.breakers.Len() }

// States reports the state of every breaker in the group
func (g *Group) States() map[string]State {
	breakers := g.breakers.Values()

	out := make(map[string]State, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.State()
	}
	return out
}

// Keys returns the group's keys in order
func (g *Group) Keys() []string {
	keys := g.breakers.Keys()
	sort.Strings(keys)
	return keys
}
