package custody

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/identity"
)

// ErrNotOwner rejects a request from a caller that is not the custody owner.
var ErrNotOwner = xerrors.New("caller is not the custody owner")

func (c *Controller) checkOwner(ctx context.Context, caller identity.Principal) (CustodyInfo, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return CustodyInfo{}, err
	}
	if info.Owner.Empty() || info.Owner != caller {
		return CustodyInfo{}, ErrNotOwner
	}
	return info, nil
}

// Activate binds the controller to an identity and its owner. One-shot: only
// legal before any other operation.
func (c *Controller) Activate(ctx context.Context, owner identity.Principal, identityNumber uint64) error {
	if owner.Empty() {
		return xerrors.New("owner principal required")
	}
	if identityNumber == 0 {
		return xerrors.New("identity number required")
	}
	return c.Submit(ctx, EventActivated{Owner: owner, IdentityNumber: identityNumber})
}

// StartCapture begins the capture pipeline.
func (c *Controller) StartCapture(ctx context.Context, caller identity.Principal) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	return c.Submit(ctx, EventCaptureStarted{})
}

// ConfirmCaptureSession confirms the registered authn-method session with
// the code the owner read out-of-band.
func (c *Controller) ConfirmCaptureSession(ctx context.Context, caller identity.Principal, code string) error {
	info, err := c.checkOwner(ctx, caller)
	if err != nil {
		return err
	}

	cs, err := info.capture(NeedConfirmSessionRegistration)
	if err != nil {
		return err
	}
	if cs.ExpireAt <= c.now() {
		return wrongState("session registration expired at %d", cs.ExpireAt)
	}
	if cs.ConfirmationCode != code {
		return xerrors.New("confirmation code mismatch")
	}

	if err := c.identity.ConfirmRegistration(ctx, info.IdentityNumber, cs.RegistrationID); err != nil {
		return xerrors.Errorf("confirming session registration: %w", err)
	}
	return c.Submit(ctx, EventSessionConfirmed{})
}

// CancelCapture exits a failed capture back to WaitingStartCapture.
func (c *Controller) CancelCapture(ctx context.Context, caller identity.Principal) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	return c.Submit(ctx, EventCaptureCancelled{})
}

// SetSaleIntention opens a sale deal on the held identity.
func (c *Controller) SetSaleIntention(ctx context.Context, caller identity.Principal,
	expireAt uint64, contact string, referrer identity.Principal) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	if expireAt <= c.now() {
		return xerrors.New("sale expiration must be in the future")
	}
	return c.Submit(ctx, EventSaleIntentionSet{ExpireAt: expireAt, Contact: contact, Referrer: referrer})
}

// ChangeSaleIntention updates the terms of a deal not yet accepted.
func (c *Controller) ChangeSaleIntention(ctx context.Context, caller identity.Principal,
	expireAt uint64, contact string, referrer identity.Principal) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	if expireAt <= c.now() {
		return xerrors.New("sale expiration must be in the future")
	}
	return c.Submit(ctx, EventSaleIntentionChanged{ExpireAt: expireAt, Contact: contact, Referrer: referrer})
}

// CancelSaleIntention withdraws a deal not yet accepted.
func (c *Controller) CancelSaleIntention(ctx context.Context, caller identity.Principal) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	return c.Submit(ctx, EventSaleIntentionCancelled{})
}

// SetSellOffer publishes the asking price.
func (c *Controller) SetSellOffer(ctx context.Context, caller identity.Principal, price uint64) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	if price == 0 {
		return xerrors.New("sell price required")
	}
	return c.Submit(ctx, EventSellOfferSet{Price: price})
}

// PlaceBuyerOffer admits a buyer's offer into the deal's bounded offer list.
func (c *Controller) PlaceBuyerOffer(ctx context.Context, buyer identity.Principal, amount uint64) error {
	if buyer.Empty() {
		return xerrors.New("buyer principal required")
	}
	if amount == 0 {
		return xerrors.New("offer amount required")
	}
	info, err := c.Info(ctx)
	if err != nil {
		return err
	}
	if info.Owner == buyer {
		return xerrors.New("owner cannot bid on their own identity")
	}
	return c.Submit(ctx, EventBuyerOfferPlaced{Buyer: buyer, Amount: amount, MaxOffers: c.cfg.MaxBuyerOffers})
}

// CancelBuyerOffer withdraws the buyer's standing offer.
func (c *Controller) CancelBuyerOffer(ctx context.Context, buyer identity.Principal) error {
	return c.Submit(ctx, EventBuyerOfferCancelled{Buyer: buyer})
}

// AcceptBuyerOffer locks the deal onto the given buyer at the given price and
// starts settlement. The price must match both the sell offer and the buyer's
// standing offer, so an owner cannot accept terms the buyer never saw.
func (c *Controller) AcceptBuyerOffer(ctx context.Context, caller, buyer identity.Principal, price uint64) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	return c.Submit(ctx, EventBuyerOfferAccepted{Buyer: buyer, Price: price})
}

// StartRelease begins handing the identity back to the owner.
func (c *Controller) StartRelease(ctx context.Context, caller identity.Principal,
	initiation ReleaseInitiation, reason UnsellableReason) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	switch initiation {
	case ManualRelease, DangerousLossOfCustody, ExternalApiIncompatibility:
	default:
		return xerrors.Errorf("unknown release initiation %q", initiation)
	}
	return c.Submit(ctx, EventReleaseStarted{Initiation: initiation, Reason: reason})
}

// RestartRelease retries a parked or stuck release from the top.
func (c *Controller) RestartRelease(ctx context.Context, caller identity.Principal) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	return c.Submit(ctx, EventReleaseRestarted{})
}

// ConfirmReleaseRegistration is the owner telling the custodian their fresh
// authn method is registered and ready to be confirmed.
func (c *Controller) ConfirmReleaseRegistration(ctx context.Context, caller identity.Principal) error {
	if _, err := c.checkOwner(ctx, caller); err != nil {
		return err
	}
	return c.Submit(ctx, EventReleaseConfirmRequested{})
}
