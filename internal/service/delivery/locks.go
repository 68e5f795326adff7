package delivery

import "sync"

type dirLock struct {
	sync.Mutex
	refs int
}

// dirLocks hands out one mutex per destination directory and forgets it once
// nobody holds or waits for it.
type dirLocks struct {
	mu    sync.Mutex
	locks map[string]*dirLock
}

func newDirLocks() *dirLocks {
	return &dirLocks{locks: make(map[string]*dirLock)}
}

func (l *dirLocks) Lock(dir string) (unlock func()) {
	l.mu.Lock()
	lock, ok := l.locks[dir]
	if !ok {
		lock = &dirLock{}
		l.locks[dir] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, dir)
		}
		l.mu.Unlock()
	}
}

func (l *dirLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
