package ledger

import "sync"

// pairLocks serializes bet processing per (agent, market) pair so two
// concurrent top-ups from the same agent cannot both read the same stale
// position amount. Different pairs proceed independently.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks the mutex for key and returns its release func.
func (p *pairLocks) Acquire(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	p.mu.Unlock()
	l.Lock()
	return l.Unlock
}
