// Package leaselock implements the single-writer mutual exclusion guarding
// every custody state mutation: a lock slot that is either unlocked or held
// under a lease `Locked{token, expiration}`. Tokens increase monotonically so
// a stale holder can never release a lease it no longer owns.
//
// The lock is advisory-but-enforced: callers that fail to acquire get the
// current lease expiration back and retry after it.
package leaselock

import (
	"golang.org/x/xerrors"
)

// ErrHeld is returned by Acquire while a non-expired lease is held by
// someone else. Expiration tells the caller when retrying can succeed.
type ErrHeld struct {
	Expiration uint64 // unix nanos
}

func (e *ErrHeld) Error() string {
	return xerrors.Errorf("lock held until %d", e.Expiration).Error()
}

// State is the persisted lock slot.
type State struct {
	// Locked reports whether a lease is currently installed. The lease may
	// still be expired; Acquire treats an expired lease as unlocked.
	Locked     bool
	Token      uint64
	Expiration uint64 // unix nanos

	// NextToken is the monotonic token counter. It never decreases, even
	// across expired leases, so tokens are never reused.
	NextToken uint64
}

// Lease is a successfully acquired lease.
type Lease struct {
	Token      uint64
	Expiration uint64
}

// Acquire installs a fresh lease of the given duration, or fails with
// *ErrHeld if a non-expired lease is held.
func (s *State) Acquire(now, duration uint64) (Lease, error) {
	if s.Locked && s.Expiration > now {
		return Lease{}, &ErrHeld{Expiration: s.Expiration}
	}

	s.NextToken++
	s.Locked = true
	s.Token = s.NextToken
	s.Expiration = now + duration

	return Lease{Token: s.Token, Expiration: s.Expiration}, nil
}

// Release clears the lock if token matches the current lease. It reports
// whether the slot was actually cleared; releasing with a stale or foreign
// token is a no-op.
func (s *State) Release(token uint64) bool {
	if !s.Locked || s.Token != token {
		return false
	}

	s.Locked = false
	s.Token = 0
	s.Expiration = 0
	return true
}

// HeldBy reports whether the exact lease is still installed. Used by the
// recovery timer to decide whether the holder stalled.
func (s *State) HeldBy(l Lease) bool {
	return s.Locked && s.Token == l.Token && s.Expiration == l.Expiration
}

// Expired reports whether the slot holds a lease that has already expired.
func (s *State) Expired(now uint64) bool {
	return s.Locked && s.Expiration <= now
}
