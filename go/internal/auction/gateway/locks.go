package gateway

import "sync"

// auctionLocks serializes state-changing operations per auction id.
type auctionLocks struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newAuctionLocks() *auctionLocks {
	return &auctionLocks{locks: make(map[int64]*refMutex)}
}

// lock blocks until the auction is free and returns its unlock func.
func (l *auctionLocks) lock(auctionID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[auctionID]
	if !ok {
		m = &refMutex{}
		l.locks[auctionID] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, auctionID)
		}
		l.mu.Unlock()
	}
}
