package leaselock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	var s State

	l, err := s.Acquire(100, 50)
	require.NoError(t, err)
	require.Equal(t, uint64(1), l.Token)
	require.Equal(t, uint64(150), l.Expiration)

	// second acquire before expiration fails with the lease expiration
	_, err = s.Acquire(120, 50)
	var held *ErrHeld
	require.ErrorAs(t, err, &held)
	require.Equal(t, uint64(150), held.Expiration)

	require.True(t, s.Release(l.Token))
	require.False(t, s.Locked)

	// releasing again is a no-op
	require.False(t, s.Release(l.Token))
}

func TestExpiredLeaseIsReacquirable(t *testing.T) {
	var s State

	l1, err := s.Acquire(100, 50)
	require.NoError(t, err)

	// at the exact expiration instant the lease no longer holds
	l2, err := s.Acquire(150, 50)
	require.NoError(t, err)
	require.Greater(t, l2.Token, l1.Token)

	// the stale holder can no longer release
	require.False(t, s.Release(l1.Token))
	require.True(t, s.Release(l2.Token))
}

func TestTokensMonotonic(t *testing.T) {
	var s State

	var last uint64
	now := uint64(0)
	for i := 0; i < 100; i++ {
		l, err := s.Acquire(now, 10)
		require.NoError(t, err)
		require.Greater(t, l.Token, last)
		last = l.Token

		if i%2 == 0 {
			require.True(t, s.Release(l.Token))
		} else {
			now = l.Expiration // let it expire instead
		}
	}
}

func TestForeignTokenRelease(t *testing.T) {
	var s State

	l, err := s.Acquire(0, 10)
	require.NoError(t, err)

	require.False(t, s.Release(l.Token+1))
	require.True(t, s.Locked)
	require.True(t, s.HeldBy(l))
}

func TestAtMostOneValidLease(t *testing.T) {
	// for any interleaving of acquires, at most one non-expired token is valid
	var s State

	l1, err := s.Acquire(0, 100)
	require.NoError(t, err)

	_, err = s.Acquire(50, 100)
	require.Error(t, err)

	l2, err := s.Acquire(100, 100)
	require.NoError(t, err)

	require.False(t, s.HeldBy(l1))
	require.True(t, s.HeldBy(l2))
}
