package service

import "sync"

// keyedMutex provides one mutex per key so derived-state updates for a single
// conversation are serialized without blocking unrelated conversations.
// Mutexes are created on first use and kept for the process lifetime; the key
// space (conversation ids touched by this process) is small enough that no
// eviction is needed.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
