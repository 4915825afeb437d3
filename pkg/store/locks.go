package store

import (
	"time"
)

// LockMode is the public name for the three lock flavors §4.1 exposes:
// read (shared), write (exclusive but fair), and exclusive (mutual
// exclusion, used for primary contention and schema migration).
type LockMode = lockMode

const (
	LockRead      = lockRead
	LockWrite     = lockWrite
	LockExclusive = lockExclusive
)

// AcquireLock attempts to take the named lock as holder in the given mode,
// blocking until success, timeout, or the lock's watch channel signals a
// release worth retrying on. On timeout it returns false without an error
// (§4.1: "on timeout returns 'not acquired' without raising").
func (s *Store) AcquireLock(name, holder string, mode LockMode, timeout time.Duration) bool {
	if s.tryLock(name, holder, mode) {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := time.After(timeout)
	events, cancel := s.Watch("locks/" + name)
	defer cancel()

	// Poll on release notifications, with a floor interval so a missed
	// notify (e.g. release happened before Watch was armed) can't wedge
	// the waiter for the whole timeout.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return false
		case <-events:
			if s.tryLock(name, holder, mode) {
				return true
			}
		case <-ticker.C:
			if s.tryLock(name, holder, mode) {
				return true
			}
		}
	}
}

func (s *Store) tryLock(name, holder string, mode LockMode) bool {
	res, err := s.apply(Command{Op: "lock_acquire", Lock: &LockRequest{Name: name, Holder: holder, Mode: mode}}, 5*time.Second)
	if err != nil || res == nil {
		return false
	}
	return res.OK
}

// ReleaseLock releases holder's claim on the named lock, if held.
func (s *Store) ReleaseLock(name, holder string) error {
	_, err := s.apply(Command{Op: "lock_release", Lock: &LockRequest{Name: name, Holder: holder}}, 5*time.Second)
	return err
}
