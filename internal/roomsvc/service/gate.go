package service

import "sync"

// Gate serializes work per room code. Different codes never share a lock.
type Gate struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int // holders plus waiters
}

func NewGate() *Gate {
	return &Gate{locks: make(map[string]*roomLock)}
}

// Do runs fn while holding the lock for code.
func (g *Gate) Do(code string, fn func() error) error {
	l := g.acquire(code)
	l.mu.Lock()
	defer g.release(code, l)
	return fn()
}

func (g *Gate) acquire(code string) *roomLock {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[code]
	if !ok {
		l = &roomLock{}
		g.locks[code] = l
	}
	l.refs++
	return l
}

func (g *Gate) release(code string, l *roomLock) {
	l.mu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(g.locks, code)
	}
}

// Len is the number of rooms with a held or awaited lock.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
