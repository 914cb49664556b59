package world

import "sync"

// lockTable hands out one RWMutex per world and forgets it once nobody
// holds or waits for it
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*worldLock
}

type worldLock struct {
	sync.RWMutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*worldLock)}
}

func (t *lockTable) acquire(world string) *worldLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[world]
	if !ok {
		l = &worldLock{}
		t.locks[world] = l
	}
	l.refs++
	return l
}

func (t *lockTable) release(world string, l *worldLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, world)
	}
}

// Lock takes the world's write lock and returns its release function
func (t *lockTable) Lock(world string) func() {
	l := t.acquire(world)
	l.Lock()
	return func() {
		l.Unlock()
		t.release(world, l)
	}
}

// RLock takes the world's read lock and returns its release function
func (t *lockTable) RLock(world string) func() {
	l := t.acquire(world)
	l.RLock()
	return func() {
		l.RUnlock()
		t.release(world, l)
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
