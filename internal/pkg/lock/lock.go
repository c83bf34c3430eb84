// Package lock provides per-key locking for concurrent interactions.
// The bot keys it by user so a double click cannot run the same wizard step
// twice at once. The expedition service keys it by expedition so two members
// cannot interleave a check and the mutation that depends on it.
package lock

import (
	"context"
	"sync"
	"time"
)

// keyMutex wraps a mutex with reference counting for cleanup.
type keyMutex struct {
	mu       sync.Mutex
	refCount int
}

// Keyed provides one lock per key.
type Keyed[K comparable] struct {
	locks sync.Map // map[K]*keyMutex
	pool  sync.Pool
}

// New creates a Keyed lock set.
func New[K comparable]() *Keyed[K] {
	return &Keyed[K]{
		pool: sync.Pool{
			New: func() any {
				return &keyMutex{}
			},
		},
	}
}

func (k *Keyed[K]) get(key K) *keyMutex {
	if v, ok := k.locks.Load(key); ok {
		return v.(*keyMutex)
	}

	m := k.pool.Get().(*keyMutex)
	m.refCount = 0

	// Store or load existing (handles race condition)
	actual, loaded := k.locks.LoadOrStore(key, m)
	if loaded {
		k.pool.Put(m)
	}
	return actual.(*keyMutex)
}

// Unlock releases the lock for key.
func (k *Keyed[K]) Unlock(key K) {
	if v, ok := k.locks.Load(key); ok {
		m := v.(*keyMutex)
		m.refCount--
		m.mu.Unlock()
	}
}

// TryLock acquires the lock for key without blocking.
func (k *Keyed[K]) TryLock(key K) bool {
	m := k.get(key)
	if m.mu.TryLock() {
		m.refCount++
		return true
	}
	return false
}

// LockWithTimeout waits at most timeout for the lock of key.
func (k *Keyed[K]) LockWithTimeout(ctx context.Context, key K, timeout time.Duration) bool {
	m := k.get(key)
	done := make(chan struct{})

	go func() {
		m.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		m.refCount++
		return true
	case <-timeoutCtx.Done():
		// the waiter still acquires eventually, release it then
		go func() {
			<-done
			m.mu.Unlock()
		}()
		return false
	}
}

// TryWithLock runs fn if the lock of key is free and returns ErrBusy
// otherwise.
func (k *Keyed[K]) TryWithLock(key K, fn func() error) error {
	if !k.TryLock(key) {
		return ErrBusy
	}
	defer k.Unlock(key)
	return fn()
}

// WithLockContext runs fn holding the lock of key, waiting at most timeout.
func (k *Keyed[K]) WithLockContext(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	if !k.LockWithTimeout(ctx, key, timeout) {
		return ErrLockTimeout
	}
	defer k.Unlock(key)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
