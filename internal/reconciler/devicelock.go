package reconciler

import "sync"

// deviceLocks serializes work per device id. Entries are reference counted and
// removed once no goroutine holds or waits on them.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*deviceLock)}
}

// Lock blocks until the caller owns deviceID and returns the release func.
func (l *deviceLocks) Lock(deviceID string) func() {
	l.mu.Lock()
	dl, ok := l.locks[deviceID]
	if !ok {
		dl = &deviceLock{}
		l.locks[deviceID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, deviceID)
		}
		l.mu.Unlock()
	}
}

func (l *deviceLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
