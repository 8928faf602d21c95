package collab

import "sync"

// documentLocks hands out one mutex per document. Entries are dropped once
// nobody holds or waits for them.
type documentLocks struct {
	mu    sync.Mutex
	locks map[string]*documentLock
}

type documentLock struct {
	sync.Mutex
	refs int
}

func newDocumentLocks() *documentLocks {
	return &documentLocks{locks: make(map[string]*documentLock)}
}

// lock blocks until documentID is free and returns the matching unlock.
func (l *documentLocks) lock(documentID string) (unlock func()) {
	l.mu.Lock()
	dl, ok := l.locks[documentID]
	if !ok {
		dl = &documentLock{}
		l.locks[documentID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.Lock()
	return func() {
		dl.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, documentID)
		}
		l.mu.Unlock()
	}
}

func (l *documentLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
