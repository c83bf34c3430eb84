// Property-based tests for per-key interaction locking.
package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestWithLockContextSerializesProperty tests Property 6: Serialized Interactions.
// *For any* number of concurrent steps on the same key, WithLockContext runs
// them one at a time and the shared counter ends at the sequential result.
func TestWithLockContextSerializesProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		numOps := rapid.IntRange(2, 30).Draw(rt, "numOps")
		step := rapid.IntRange(1, 100).Draw(rt, "step")
		key := rapid.StringMatching(`exp-[a-z0-9]{1,8}`).Draw(rt, "key")

		k := New[string]()
		counter := 0
		var inside int32

		var wg sync.WaitGroup
		wg.Add(numOps)
		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				err := k.WithLockContext(context.Background(), key, 5*time.Second, func() error {
					if atomic.AddInt32(&inside, 1) != 1 {
						rt.Error("two steps ran at once")
					}
					counter += step
					atomic.AddInt32(&inside, -1)
					return nil
				})
				if err != nil {
					rt.Errorf("WithLockContext: %v", err)
				}
			}()
		}
		wg.Wait()

		if counter != numOps*step {
			rt.Fatalf("counter %d, want %d", counter, numOps*step)
		}
	})
}

// TestKeysAreIndependentProperty tests Property 7: Independent Keys.
// *For any* two distinct keys, holding one never blocks the other.
func TestKeysAreIndependentProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "a")
		b := rapid.StringMatching(`[a-z]{1,8}`).Filter(func(s string) bool { return s != a }).Draw(rt, "b")

		k := New[string]()
		if !k.TryLock(a) {
			rt.Fatalf("first TryLock on %q failed", a)
		}
		if !k.TryLock(b) {
			rt.Fatalf("TryLock on %q blocked by %q", b, a)
		}
		if k.TryLock(a) {
			rt.Fatalf("second TryLock on %q succeeded", a)
		}
		k.Unlock(a)
		k.Unlock(b)
		if !k.TryLock(a) || !k.TryLock(b) {
			rt.Fatalf("keys still held after Unlock")
		}
	})
}

func TestTryWithLockReportsBusy(t *testing.T) {
	k := New[int64]()
	require.True(t, k.TryLock(42))

	called := false
	err := k.TryWithLock(42, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, called)

	k.Unlock(42)
	require.NoError(t, k.TryWithLock(42, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.True(t, k.TryLock(42), "TryWithLock releases the key")
}

func TestWithLockContextTimeout(t *testing.T) {
	k := New[int64]()
	require.True(t, k.TryLock(7))

	err := k.WithLockContext(context.Background(), 7, 20*time.Millisecond, func() error { return nil })
	assert.ErrorIs(t, err, ErrLockTimeout)

	k.Unlock(7)
	// the abandoned waiter releases the lock once it gets it
	assert.NoError(t, k.WithLockContext(context.Background(), 7, time.Second, func() error { return nil }))
}

func TestWithLockContextCancelled(t *testing.T) {
	k := New[string]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := k.WithLockContext(ctx, "exp-1", time.Second, func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	// a cancelled wait leaves the key free once its waiter lets go
	assert.Eventually(t, func() bool { return k.TryLock("exp-1") }, time.Second, 5*time.Millisecond)
}
