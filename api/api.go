// Package api defines the JSON-RPC surface of the custodian daemon.
package api

import (
	"context"

	"github.com/icpgeeks/iicustody/custody"
	"github.com/icpgeeks/iicustody/identity"
)

// Version describes the running daemon build.
type Version struct {
	Version string
}

// Custodian is the full RPC interface of the custodian daemon. Request
// methods return custody.ErrWrongState when the custody record is not in a
// state that accepts them, and custody.ErrLocked while a concurrent
// operation holds the record.
type Custodian interface {
	// Version returns the daemon build version.
	Version(ctx context.Context) (Version, error)

	// Shutdown stops the daemon.
	Shutdown(ctx context.Context) error

	// CustodyInfo returns the full custody record.
	CustodyInfo(ctx context.Context) (custody.CustodyInfo, error)

	// CustodyLog returns up to count most recent transitions, oldest first.
	CustodyLog(ctx context.Context, count int) ([]custody.LogEntry, error)

	// NextWake returns when the controller will next process the record on
	// its own, zero when it is fully passive.
	NextWake(ctx context.Context) (uint64, error)

	// LockExpiration returns when the current processing lease runs out,
	// zero when the record is unlocked.
	LockExpiration(ctx context.Context) (uint64, error)

	// Activate binds the controller to an identity and its owner.
	Activate(ctx context.Context, owner identity.Principal, identityNumber uint64) error

	// StartCapture begins capturing the identity.
	StartCapture(ctx context.Context, caller identity.Principal) error

	// ConfirmCaptureSession confirms the capture session with the code the
	// owner read out-of-band.
	ConfirmCaptureSession(ctx context.Context, caller identity.Principal, code string) error

	// CancelCapture exits a failed capture.
	CancelCapture(ctx context.Context, caller identity.Principal) error

	// SetSaleIntention opens a sale deal on the held identity.
	SetSaleIntention(ctx context.Context, caller identity.Principal, expireAt uint64, contact string, referrer identity.Principal) error

	// ChangeSaleIntention updates the terms of a deal not yet accepted.
	ChangeSaleIntention(ctx context.Context, caller identity.Principal, expireAt uint64, contact string, referrer identity.Principal) error

	// CancelSaleIntention withdraws a deal not yet accepted.
	CancelSaleIntention(ctx context.Context, caller identity.Principal) error

	// SetSellOffer publishes the asking price.
	SetSellOffer(ctx context.Context, caller identity.Principal, price uint64) error

	// PlaceBuyerOffer places or replaces the buyer's offer.
	PlaceBuyerOffer(ctx context.Context, buyer identity.Principal, amount uint64) error

	// CancelBuyerOffer withdraws the buyer's offer.
	CancelBuyerOffer(ctx context.Context, buyer identity.Principal) error

	// AcceptBuyerOffer locks the deal onto a buyer and starts settlement.
	AcceptBuyerOffer(ctx context.Context, caller, buyer identity.Principal, price uint64) error

	// StartRelease begins handing the identity back to its owner.
	StartRelease(ctx context.Context, caller identity.Principal, initiation custody.ReleaseInitiation, reason custody.UnsellableReason) error

	// RestartRelease retries a parked release from the top.
	RestartRelease(ctx context.Context, caller identity.Principal) error

	// ConfirmReleaseRegistration asks the custodian to confirm the authn
	// method the owner registered during release.
	ConfirmReleaseRegistration(ctx context.Context, caller identity.Principal) error
}
