// Package reconcile turns the live observation stream into durable
// interval facts and sessions. One reconciler instance owns the
// in-memory cursors for one entity; all store access goes through the
// persistence gateway.
package reconcile

import "time"

// lockTimeout bounds every lock acquisition. A timed-out acquisition is
// logged and the observation skipped, so a stuck handler can never
// deadlock observation delivery.
const lockTimeout = 10 * time.Second

// timeoutLock is a mutex whose Lock can give up after a deadline.
type timeoutLock struct {
	ch chan struct{}
}

func newTimeoutLock() *timeoutLock {
	return &timeoutLock{ch: make(chan struct{}, 1)}
}

// lock acquires the lock, waiting at most d. It reports whether the
// lock was acquired.
func (l *timeoutLock) lock(d time.Duration) bool {
	select {
	case l.ch <- struct{}{}:
		return true
	case <-time.After(d):
		return false
	}
}

func (l *timeoutLock) unlock() {
	<-l.ch
}
