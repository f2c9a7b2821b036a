package fwbuild

import (
	"context"
	"sync"
	"time"
)

// LockRegistry is a process-wide table of named exclusive locks keyed by
// canonical resource identity (project path, port device path). Locks are
// created lazily on first reference and persist for the process lifetime;
// release resets them to unheld but keeps the entry so waiter statistics
// survive. Waiters are served strictly first-come-first-served: release hands
// the lock directly to the head of the queue.
//
// The registry is agnostic of key type. The coordinator is responsible for
// the global project-before-port acquisition order that keeps multi-key
// requests deadlock free.
//
// With a lock table attached the table is authoritative between processes:
// a locally granted acquire does not return until the key's table record is
// claimed too, so two processes can never both hold the same key.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*resourceLock
	table *LockTable // optional cross-process persistence, may be nil
}

// tableClaimInterval is how often a locally granted request re-probes the
// lock table while another live process's record holds the key.
const tableClaimInterval = 100 * time.Millisecond

type resourceLock struct {
	holder     string
	acquiredAt time.Time
	waiters    []*lockWaiter
	contended  uint64 // total waits that ever queued, for diagnostics
}

type lockWaiter struct {
	id    string
	ready chan struct{} // closed by the releaser on handoff
}

// NewLockRegistry creates an empty registry. A non-nil table mirrors every
// acquire and release into the persisted lock file.
func NewLockRegistry(table *LockTable) *LockRegistry {
	return &LockRegistry{
		locks: make(map[string]*resourceLock),
		table: table,
	}
}

func (r *LockRegistry) lockFor(key string) *resourceLock {
	l, ok := r.locks[key]
	if !ok {
		l = &resourceLock{}
		r.locks[key] = l
	}
	return l
}

// TryAcquire takes the lock for key if it is free, nobody is queued ahead,
// and no other live process holds it in the lock table. Returns false
// without blocking otherwise.
func (r *LockRegistry) TryAcquire(key, requestID string) bool {
	r.mu.Lock()
	l := r.lockFor(key)
	if l.holder != "" || len(l.waiters) > 0 {
		r.mu.Unlock()
		return false
	}
	r.grant(key, l, requestID)
	r.mu.Unlock()

	if r.table != nil {
		if conflict, err := r.table.claim(key, requestID); err == nil && conflict != nil {
			r.undoGrant(key)
			return false
		}
	}
	return true
}

// Acquire blocks until the lock for key is granted, the timeout elapses, or
// ctx is cancelled. On timeout it returns a LockTimeoutError carrying the
// current holder and queue depth; it never leaves the caller queued.
func (r *LockRegistry) Acquire(ctx context.Context, key, requestID string, timeout time.Duration) error {
	start := time.Now()
	if err := r.acquireLocal(ctx, key, requestID, timeout, start); err != nil {
		return err
	}
	if err := r.claimShared(ctx, key, requestID, timeout, start); err != nil {
		r.undoGrant(key)
		return err
	}
	return nil
}

// acquireLocal is the in-process half of Acquire: grant immediately when
// free, or queue behind the current holder.
func (r *LockRegistry) acquireLocal(ctx context.Context, key, requestID string, timeout time.Duration, start time.Time) error {
	r.mu.Lock()
	l := r.lockFor(key)
	if l.holder == "" && len(l.waiters) == 0 {
		r.grant(key, l, requestID)
		r.mu.Unlock()
		return nil
	}

	w := &lockWaiter{id: requestID, ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.contended++
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return r.abandonWait(key, w, ctx.Err())
	case <-timer.C:
		r.mu.Lock()
		// The grant may have raced the timer; accept it if so.
		select {
		case <-w.ready:
			r.mu.Unlock()
			return nil
		default:
		}
		l := r.locks[key]
		r.removeWaiter(l, w)
		err := &LockTimeoutError{
			Key:        key,
			Holder:     l.holder,
			QueueDepth: len(l.waiters),
			Waited:     time.Since(start),
		}
		r.mu.Unlock()
		return err
	}
}

// claimShared records the grant in the persisted lock table. Another live
// process may already hold the key there, in which case the caller polls
// until the record disappears, goes stale, or its own deadline passes.
// Table I/O failures degrade to in-process locking only.
func (r *LockRegistry) claimShared(ctx context.Context, key, requestID string, timeout time.Duration, start time.Time) error {
	if r.table == nil {
		return nil
	}
	deadline := start.Add(timeout)
	for {
		conflict, err := r.table.claim(key, requestID)
		if err != nil || conflict == nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return &LockTimeoutError{
				Key:    key,
				Holder: conflict.Holder,
				Waited: time.Since(start),
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tableClaimInterval):
		}
	}
}

// undoGrant gives back a local grant whose table claim failed, waking the
// next queued waiter.
func (r *LockRegistry) undoGrant(key string) {
	r.mu.Lock()
	r.handoffLocked(key, r.locks[key])
	r.mu.Unlock()
}

// abandonWait removes a cancelled waiter from the queue. If the grant raced
// the cancellation the lock is released again so the next waiter proceeds.
func (r *LockRegistry) abandonWait(key string, w *lockWaiter, cause error) error {
	r.mu.Lock()
	select {
	case <-w.ready:
		// Granted just before cancellation: give it back.
		l := r.locks[key]
		r.handoffLocked(key, l)
		r.mu.Unlock()
		return cause
	default:
	}
	r.removeWaiter(r.locks[key], w)
	r.mu.Unlock()
	return cause
}

// Release frees the lock held by requestID and hands it to the next queued
// waiter, if any. Releasing a lock not held by requestID fails with
// ErrNotLockHolder; this guards against double-release bugs.
func (r *LockRegistry) Release(key, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok || l.holder != requestID {
		return ErrNotLockHolder
	}
	r.handoffLocked(key, l)
	return nil
}

// handoffLocked clears the holder and grants the head waiter, if any.
// Caller holds r.mu.
func (r *LockRegistry) handoffLocked(key string, l *resourceLock) {
	released := l.holder
	l.holder = ""
	if r.table != nil && released != "" {
		r.table.noteReleased(key, released)
	}
	if len(l.waiters) == 0 {
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	r.grant(key, l, next.id)
	close(next.ready)
}

// grant records requestID as the local holder. Caller holds r.mu. The
// table record is claimed separately, outside the registry mutex.
func (r *LockRegistry) grant(key string, l *resourceLock, requestID string) {
	l.holder = requestID
	l.acquiredAt = time.Now()
}

func (r *LockRegistry) removeWaiter(l *resourceLock, w *lockWaiter) {
	if l == nil {
		return
	}
	for i, q := range l.waiters {
		if q == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// Holder returns the requestID currently holding key, if any
func (r *LockRegistry) Holder(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok || l.holder == "" {
		return "", false
	}
	return l.holder, true
}

// QueueDepth returns the number of requests waiting on key
func (r *LockRegistry) QueueDepth(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		return 0
	}
	return len(l.waiters)
}

// LockStatus is a point-in-time view of one registry entry
type LockStatus struct {
	Key        string
	Holder     string
	AcquiredAt time.Time
	QueueDepth int
	Contended  uint64
}

// Snapshot returns the current state of every lock ever referenced
func (r *LockRegistry) Snapshot() []LockStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]LockStatus, 0, len(r.locks))
	for key, l := range r.locks {
		out = append(out, LockStatus{
			Key:        key,
			Holder:     l.holder,
			AcquiredAt: l.acquiredAt,
			QueueDepth: len(l.waiters),
			Contended:  l.contended,
		})
	}
	return out
}
