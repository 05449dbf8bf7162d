package action

import "sync"

// DefaultKeyPoolSize bounds the number of remembered keys.
const DefaultKeyPoolSize = 10000

// KeyPool is a bounded ring of created short keys. Once full, the oldest
// key is overwritten. It is written by the metrics aggregator and read by
// VUs concurrently.
type KeyPool struct {
	mu   sync.RWMutex
	keys []string
	next int
	full bool
}

// NewKeyPool creates a pool holding at most size keys.
func NewKeyPool(size int) *KeyPool {
	if size <= 0 {
		size = DefaultKeyPoolSize
	}
	return &KeyPool{keys: make([]string, size)}
}

// Add stores a key.
func (p *KeyPool) Add(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	p.keys[p.next] = key
	p.next++
	if p.next == len(p.keys) {
		p.next = 0
		p.full = true
	}
	p.mu.Unlock()
}

// Len returns the number of stored keys.
func (p *KeyPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size()
}

// Pick implements KeySource.
func (p *KeyPool) Pick(n func(size int) int) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	size := p.size()
	if size == 0 {
		return "", false
	}
	return p.keys[n(size)], true
}

func (p *KeyPool) size() int {
	if p.full {
		return len(p.keys)
	}
	return p.next
}
