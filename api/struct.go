package api

import (
	"context"

	"github.com/icpgeeks/iicustody/custody"
	"github.com/icpgeeks/iicustody/identity"
)

// CustodianStruct is the RPC proxy shape for Custodian; the client binds the
// Internal function fields, the server dispatches onto them.
type CustodianStruct struct {
	Internal struct {
		Version  func(ctx context.Context) (Version, error)
		Shutdown func(ctx context.Context) error

		CustodyInfo    func(ctx context.Context) (custody.CustodyInfo, error)
		CustodyLog     func(ctx context.Context, count int) ([]custody.LogEntry, error)
		NextWake       func(ctx context.Context) (uint64, error)
		LockExpiration func(ctx context.Context) (uint64, error)

		Activate              func(ctx context.Context, owner identity.Principal, identityNumber uint64) error
		StartCapture          func(ctx context.Context, caller identity.Principal) error
		ConfirmCaptureSession func(ctx context.Context, caller identity.Principal, code string) error
		CancelCapture         func(ctx context.Context, caller identity.Principal) error

		SetSaleIntention    func(ctx context.Context, caller identity.Principal, expireAt uint64, contact string, referrer identity.Principal) error
		ChangeSaleIntention func(ctx context.Context, caller identity.Principal, expireAt uint64, contact string, referrer identity.Principal) error
		CancelSaleIntention func(ctx context.Context, caller identity.Principal) error
		SetSellOffer        func(ctx context.Context, caller identity.Principal, price uint64) error
		PlaceBuyerOffer     func(ctx context.Context, buyer identity.Principal, amount uint64) error
		CancelBuyerOffer    func(ctx context.Context, buyer identity.Principal) error
		AcceptBuyerOffer    func(ctx context.Context, caller, buyer identity.Principal, price uint64) error

		StartRelease               func(ctx context.Context, caller identity.Principal, initiation custody.ReleaseInitiation, reason custody.UnsellableReason) error
		RestartRelease             func(ctx context.Context, caller identity.Principal) error
		ConfirmReleaseRegistration func(ctx context.Context, caller identity.Principal) error
	}
}

func (s *CustodianStruct) Version(ctx context.Context) (Version, error) {
	return s.Internal.Version(ctx)
}

func (s *CustodianStruct) Shutdown(ctx context.Context) error {
	return s.Internal.Shutdown(ctx)
}

func (s *CustodianStruct) CustodyInfo(ctx context.Context) (custody.CustodyInfo, error) {
	return s.Internal.CustodyInfo(ctx)
}

func (s *CustodianStruct) CustodyLog(ctx context.Context, count int) ([]custody.LogEntry, error) {
	return s.Internal.CustodyLog(ctx, count)
}

func (s *CustodianStruct) NextWake(ctx context.Context) (uint64, error) {
	return s.Internal.NextWake(ctx)
}

func (s *CustodianStruct) LockExpiration(ctx context.Context) (uint64, error) {
	return s.Internal.LockExpiration(ctx)
}

func (s *CustodianStruct) Activate(ctx context.Context, owner identity.Principal, identityNumber uint64) error {
	return s.Internal.Activate(ctx, owner, identityNumber)
}

func (s *CustodianStruct) StartCapture(ctx context.Context, caller identity.Principal) error {
	return s.Internal.StartCapture(ctx, caller)
}

func (s *CustodianStruct) ConfirmCaptureSession(ctx context.Context, caller identity.Principal, code string) error {
	return s.Internal.ConfirmCaptureSession(ctx, caller, code)
}

func (s *CustodianStruct) CancelCapture(ctx context.Context, caller identity.Principal) error {
	return s.Internal.CancelCapture(ctx, caller)
}

func (s *CustodianStruct) SetSaleIntention(ctx context.Context, caller identity.Principal, expireAt uint64, contact string, referrer identity.Principal) error {
	return s.Internal.SetSaleIntention(ctx, caller, expireAt, contact, referrer)
}

func (s *CustodianStruct) ChangeSaleIntention(ctx context.Context, caller identity.Principal, expireAt uint64, contact string, referrer identity.Principal) error {
	return s.Internal.ChangeSaleIntention(ctx, caller, expireAt, contact, referrer)
}

func (s *CustodianStruct) CancelSaleIntention(ctx context.Context, caller identity.Principal) error {
	return s.Internal.CancelSaleIntention(ctx, caller)
}

func (s *CustodianStruct) SetSellOffer(ctx context.Context, caller identity.Principal, price uint64) error {
	return s.Internal.SetSellOffer(ctx, caller, price)
}

func (s *CustodianStruct) PlaceBuyerOffer(ctx context.Context, buyer identity.Principal, amount uint64) error {
	return s.Internal.PlaceBuyerOffer(ctx, buyer, amount)
}

func (s *CustodianStruct) CancelBuyerOffer(ctx context.Context, buyer identity.Principal) error {
	return s.Internal.CancelBuyerOffer(ctx, buyer)
}

func (s *CustodianStruct) AcceptBuyerOffer(ctx context.Context, caller, buyer identity.Principal, price uint64) error {
	return s.Internal.AcceptBuyerOffer(ctx, caller, buyer, price)
}

func (s *CustodianStruct) StartRelease(ctx context.Context, caller identity.Principal, initiation custody.ReleaseInitiation, reason custody.UnsellableReason) error {
	return s.Internal.StartRelease(ctx, caller, initiation, reason)
}

func (s *CustodianStruct) RestartRelease(ctx context.Context, caller identity.Principal) error {
	return s.Internal.RestartRelease(ctx, caller)
}

func (s *CustodianStruct) ConfirmReleaseRegistration(ctx context.Context, caller identity.Principal) error {
	return s.Internal.ConfirmReleaseRegistration(ctx, caller)
}

var _ Custodian = (*CustodianStruct)(nil)
