package tracker

import "sync"

// keyedMutex serializes work per session id. Entries are dropped once unused.
// Every keyed holder also shares gate, so tryExclusive succeeds only while no
// session is being worked on.
type keyedMutex struct {
	gate  sync.RWMutex
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.gate.RLock()
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &refMutex{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
		k.gate.RUnlock()
	}
}

// tryExclusive locks out every key without waiting. It fails while any key
// is held or awaited.
func (k *keyedMutex) tryExclusive() (func(), bool) {
	if !k.gate.TryLock() {
		return nil, false
	}
	return k.gate.Unlock, true
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
