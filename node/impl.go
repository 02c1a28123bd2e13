// Package node assembles the custodian daemon: the API implementation over
// the custody controller and the JSON-RPC server plumbing.
package node

import (
	"context"
	"sync"

	"github.com/icpgeeks/iicustody/api"
	"github.com/icpgeeks/iicustody/build"
	"github.com/icpgeeks/iicustody/custody"
	"github.com/icpgeeks/iicustody/identity"
)

// CustodianAPI implements api.Custodian over a custody controller.
type CustodianAPI struct {
	Controller *custody.Controller

	ShutdownChan chan struct{}
	shutdownOnce sync.Once
}

var _ api.Custodian = (*CustodianAPI)(nil)

func (a *CustodianAPI) Version(context.Context) (api.Version, error) {
	return api.Version{Version: build.UserVersion()}, nil
}

func (a *CustodianAPI) Shutdown(context.Context) error {
	a.shutdownOnce.Do(func() {
		close(a.ShutdownChan)
	})
	return nil
}

func (a *CustodianAPI) CustodyInfo(ctx context.Context) (custody.CustodyInfo, error) {
	return a.Controller.Info(ctx)
}

func (a *CustodianAPI) CustodyLog(ctx context.Context, count int) ([]custody.LogEntry, error) {
	return a.Controller.Log(ctx, count)
}

func (a *CustodianAPI) NextWake(context.Context) (uint64, error) {
	return a.Controller.NextWake(), nil
}

func (a *CustodianAPI) LockExpiration(context.Context) (uint64, error) {
	return a.Controller.LockExpiration(), nil
}

func (a *CustodianAPI) Activate(ctx context.Context, owner identity.Principal, identityNumber uint64) error {
	return a.Controller.Activate(ctx, owner, identityNumber)
}

func (a *CustodianAPI) StartCapture(ctx context.Context, caller identity.Principal) error {
	return a.Controller.StartCapture(ctx, caller)
}

func (a *CustodianAPI) ConfirmCaptureSession(ctx context.Context, caller identity.Principal, code string) error {
	return a.Controller.ConfirmCaptureSession(ctx, caller, code)
}

func (a *CustodianAPI) CancelCapture(ctx context.Context, caller identity.Principal) error {
	return a.Controller.CancelCapture(ctx, caller)
}

func (a *CustodianAPI) SetSaleIntention(ctx context.Context, caller identity.Principal, expireAt uint64, contact string, referrer identity.Principal) error {
	return a.Controller.SetSaleIntention(ctx, caller, expireAt, contact, referrer)
}

func (a *CustodianAPI) ChangeSaleIntention(ctx context.Context, caller identity.Principal, expireAt uint64, contact string, referrer identity.Principal) error {
	return a.Controller.ChangeSaleIntention(ctx, caller, expireAt, contact, referrer)
}

func (a *CustodianAPI) CancelSaleIntention(ctx context.Context, caller identity.Principal) error {
	return a.Controller.CancelSaleIntention(ctx, caller)
}

func (a *CustodianAPI) SetSellOffer(ctx context.Context, caller identity.Principal, price uint64) error {
	return a.Controller.SetSellOffer(ctx, caller, price)
}

func (a *CustodianAPI) PlaceBuyerOffer(ctx context.Context, buyer identity.Principal, amount uint64) error {
	return a.Controller.PlaceBuyerOffer(ctx, buyer, amount)
}

func (a *CustodianAPI) CancelBuyerOffer(ctx context.Context, buyer identity.Principal) error {
	return a.Controller.CancelBuyerOffer(ctx, buyer)
}

func (a *CustodianAPI) AcceptBuyerOffer(ctx context.Context, caller, buyer identity.Principal, price uint64) error {
	return a.Controller.AcceptBuyerOffer(ctx, caller, buyer, price)
}

func (a *CustodianAPI) StartRelease(ctx context.Context, caller identity.Principal, initiation custody.ReleaseInitiation, reason custody.UnsellableReason) error {
	return a.Controller.StartRelease(ctx, caller, initiation, reason)
}

func (a *CustodianAPI) RestartRelease(ctx context.Context, caller identity.Principal) error {
	return a.Controller.RestartRelease(ctx, caller)
}

func (a *CustodianAPI) ConfirmReleaseRegistration(ctx context.Context, caller identity.Principal) error {
	return a.Controller.ConfirmReleaseRegistration(ctx, caller)
}
