package custody

import (
	"fmt"
	"strings"

	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/ledger"
)

// custodyEvent is one accepted fact about the custody record. apply asserts
// the current state matches the shapes the event is legal from and mutates
// the record, or rejects with ErrWrongState leaving the record untouched.
type custodyEvent interface {
	apply(now uint64, st *CustodyInfo) error
}

func eventName(evt interface{}) string {
	name := fmt.Sprintf("%T", evt)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimPrefix(name, "Event")
}

// // Global

// EventRestart re-dispatches the current state after a process restart. It
// never changes state.
type EventRestart struct{}

func (evt EventRestart) apply(now uint64, st *CustodyInfo) error { return nil }

// EventProcessingError captures a background step failure into the model as
// the single latest processing error. Every subsequent successful transition
// clears it.
type EventProcessingError struct {
	Message    string
	RetryAfter uint64
}

func (evt EventProcessingError) apply(now uint64, st *CustodyInfo) error {
	st.LastError = &ProcessingError{Message: evt.Message, At: now, RetryAfter: evt.RetryAfter}

	// a failed paged fetch drops to single-entry pages so one poisoned
	// position cannot wedge the whole page
	if st.Phase == PhaseHolding && st.Holding != nil && st.Holding.Kind == FetchAssets &&
		st.Holding.Fetch != nil && st.Holding.Fetch.Step == FetchStakedPositionInfo {
		st.Holding.Fetch.PageSize = 1
	}
	return nil
}

// // Activation

type EventActivated struct {
	Owner          identity.Principal
	IdentityNumber uint64
}

func (evt EventActivated) apply(now uint64, st *CustodyInfo) error {
	if err := st.expectPhase(WaitingActivation); err != nil {
		return err
	}
	st.Owner = evt.Owner
	st.IdentityNumber = evt.IdentityNumber
	st.Phase = WaitingStartCapture
	return nil
}

// // Capture

type EventCaptureStarted struct{}

func (evt EventCaptureStarted) apply(now uint64, st *CustodyInfo) error {
	if err := st.expectPhase(WaitingStartCapture); err != nil {
		return err
	}
	st.Phase = PhaseCapture
	st.Capture = &CaptureState{Step: CreateHolderKey}
	return nil
}

type EventHolderKeyCreated struct {
	Pub []byte
}

func (evt EventHolderKeyCreated) apply(now uint64, st *CustodyInfo) error {
	c, err := st.capture(CreateHolderKey)
	if err != nil {
		return err
	}
	c.HolderKey = evt.Pub
	c.Step = RegisterAuthnSession
	return nil
}

type EventSessionRegistered struct {
	RegistrationID   string
	ConfirmationCode string
	ExpireAt         uint64
}

func (evt EventSessionRegistered) apply(now uint64, st *CustodyInfo) error {
	c, err := st.capture(RegisterAuthnSession)
	if err != nil {
		return err
	}
	c.RegistrationID = evt.RegistrationID
	c.ConfirmationCode = evt.ConfirmationCode
	c.ExpireAt = evt.ExpireAt
	c.Step = NeedConfirmSessionRegistration
	return nil
}

// EventSessionConfirmed is driven by the identity owner confirming the
// session out-of-band.
type EventSessionConfirmed struct{}

func (evt EventSessionConfirmed) apply(now uint64, st *CustodyInfo) error {
	c, err := st.capture(NeedConfirmSessionRegistration)
	if err != nil {
		return err
	}
	c.Step = ExitRegistrationMode
	return nil
}

type EventSessionExpired struct{}

func (evt EventSessionExpired) apply(now uint64, st *CustodyInfo) error {
	c, err := st.capture(NeedConfirmSessionRegistration)
	if err != nil {
		return err
	}
	if c.ExpireAt > now {
		return wrongState("session registration not expired until %d", c.ExpireAt)
	}
	c.Step = CaptureFailed
	c.Failure = SessionRegistrationModeExpired
	c.Error = "authn-method session registration expired without confirmation"
	return nil
}

type EventRegistrationModeExited struct{}

func (evt EventRegistrationModeExited) apply(now uint64, st *CustodyInfo) error {
	c, err := st.capture(ExitRegistrationMode)
	if err != nil {
		return err
	}
	c.Step = ResolveIdentityController
	return nil
}

type EventControllerResolved struct {
	Controller identity.Principal
}

func (evt EventControllerResolved) apply(now uint64, st *CustodyInfo) error {
	c, err := st.capture(ResolveIdentityController)
	if err != nil {
		return err
	}
	c.Controller = evt.Controller
	st.Controller = evt.Controller
	c.Step = CleanupIdentityAuthnMethods
	return nil
}

// EventIdentityCredentialRemoved records removal of one pre-existing authn
// method, pending registration or external credential during cleanup. The
// step repeats until the identity is exclusively ours.
type EventIdentityCredentialRemoved struct {
	What string
	ID   string
}

func (evt EventIdentityCredentialRemoved) apply(now uint64, st *CustodyInfo) error {
	_, err := st.capture(CleanupIdentityAuthnMethods)
	return err
}

// EventIdentityCleaned completes capture: the custodian is the only
// authentication method left and holding begins.
type EventIdentityCleaned struct{}

func (evt EventIdentityCleaned) apply(now uint64, st *CustodyInfo) error {
	if _, err := st.capture(CleanupIdentityAuthnMethods); err != nil {
		return err
	}
	st.Capture = nil
	st.Phase = PhaseHolding
	st.Holding = &HoldingState{Kind: StartHolding}
	return nil
}

type EventCaptureFailed struct {
	Failure CaptureFailure
	Error   string
}

func (evt EventCaptureFailed) apply(now uint64, st *CustodyInfo) error {
	if st.Phase != PhaseCapture || st.Capture == nil {
		return wrongState("expected Capture, got %s", st.Phase)
	}
	if st.Capture.Step == CaptureFailed {
		return wrongState("capture already failed")
	}
	st.Capture.Step = CaptureFailed
	st.Capture.Failure = evt.Failure
	st.Capture.Error = evt.Error
	return nil
}

// EventCaptureCancelled exits CaptureFailed back to WaitingStartCapture with
// all capture-scoped fields cleared.
type EventCaptureCancelled struct{}

func (evt EventCaptureCancelled) apply(now uint64, st *CustodyInfo) error {
	if _, err := st.capture(CaptureFailed); err != nil {
		return err
	}
	st.Capture = nil
	st.Phase = WaitingStartCapture
	return nil
}

// // Holding: fetch pipeline

// EventFetchStarted enters the asset-fetch wrapper, either for the initial
// intake out of StartHolding or for a periodic re-verification out of Hold.
type EventFetchStarted struct {
	// QuarantineUntil is set on the initial intake only.
	QuarantineUntil uint64
	PageSize        uint64
}

func (evt EventFetchStarted) apply(now uint64, st *CustodyInfo) error {
	h, err := st.holding(StartHolding, Hold)
	if err != nil {
		return err
	}

	wrap := h
	if h.Kind == StartHolding {
		wrap = &HoldingState{Kind: Hold, QuarantinedUntil: evt.QuarantineUntil}
	}

	st.FetchingAssets = NewAssetsSnapshot(now)
	st.Holding = &HoldingState{
		Kind: FetchAssets,
		Fetch: &FetchAssetsState{
			Step:     PrepareDelegation,
			PageSize: evt.PageSize,
		},
		Wrap: wrap,
	}
	return nil
}

type EventDelegationPrepared struct {
	SessionKey []byte
	ExpireAt   uint64
}

func (evt EventDelegationPrepared) apply(now uint64, st *CustodyInfo) error {
	_, f, err := st.fetch(PrepareDelegation)
	if err != nil {
		return err
	}
	f.SessionKey = evt.SessionKey
	f.DelegationExpireAt = evt.ExpireAt
	f.Step = WaitSignedDelegation
	return nil
}

type EventDelegationSigned struct {
	Delegation identity.Delegation
}

func (evt EventDelegationSigned) apply(now uint64, st *CustodyInfo) error {
	_, f, err := st.fetch(WaitSignedDelegation)
	if err != nil {
		return err
	}
	del := evt.Delegation
	f.Delegation = &del
	f.Step = ListStakedPositions
	return nil
}

// EventDelegationExpired restarts the delegation sub-machine from scratch;
// progress already merged into the snapshot is kept.
type EventDelegationExpired struct{}

func (evt EventDelegationExpired) apply(now uint64, st *CustodyInfo) error {
	_, f, err := st.fetch(WaitSignedDelegation, ListStakedPositions,
		FetchStakedPositionInfo, RemovePositionHotkeys, ListAccounts, FetchAccountBalances)
	if err != nil {
		return err
	}
	f.Delegation = nil
	f.SessionKey = nil
	f.DelegationExpireAt = 0
	f.Step = PrepareDelegation
	return nil
}

type EventPositionsListed struct {
	IDs []uint64
}

func (evt EventPositionsListed) apply(now uint64, st *CustodyInfo) error {
	_, f, err := st.fetch(ListStakedPositions)
	if err != nil {
		return err
	}
	f.PositionIDs = evt.IDs
	f.Step = FetchStakedPositionInfo
	return nil
}

// EventPositionInfoFetched merges one page of staked-position details into
// the in-progress snapshot.
type EventPositionInfoFetched struct {
	Positions []ledger.StakedPosition
}

func (evt EventPositionInfoFetched) apply(now uint64, st *CustodyInfo) error {
	_, _, err := st.fetch(FetchStakedPositionInfo)
	if err != nil {
		return err
	}
	if st.FetchingAssets == nil {
		return wrongState("fetch without in-progress snapshot")
	}
	for _, p := range evt.Positions {
		st.FetchingAssets.Positions[positionKey(p.ID)] = p
	}
	return nil
}

type EventPositionInfoComplete struct{}

func (evt EventPositionInfoComplete) apply(now uint64, st *CustodyInfo) error {
	_, f, err := st.fetch(FetchStakedPositionInfo)
	if err != nil {
		return err
	}
	f.Step = RemovePositionHotkeys
	return nil
}

type EventPositionHotkeyRemoved struct {
	ID     uint64
	Hotkey identity.Principal
}

func (evt EventPositionHotkeyRemoved) apply(now uint64, st *CustodyInfo) error {
	_, _, err := st.fetch(RemovePositionHotkeys)
	if err != nil {
		return err
	}
	if st.FetchingAssets == nil {
		return wrongState("fetch without in-progress snapshot")
	}
	p, ok := st.FetchingAssets.Positions[positionKey(evt.ID)]
	if !ok {
		return wrongState("unknown position %d", evt.ID)
	}
	keep := p.Hotkeys[:0]
	for _, hk := range p.Hotkeys {
		if hk != evt.Hotkey {
			keep = append(keep, hk)
		}
	}
	p.Hotkeys = keep
	st.FetchingAssets.Positions[positionKey(evt.ID)] = p
	return nil
}

type EventHotkeysRemoved struct{}

func (evt EventHotkeysRemoved) apply(now uint64, st *CustodyInfo) error {
	_, f, err := st.fetch(RemovePositionHotkeys)
	if err != nil {
		return err
	}
	f.Step = ListAccounts
	return nil
}

type EventAccountsListed struct {
	Accounts []ledger.Account
}

func (evt EventAccountsListed) apply(now uint64, st *CustodyInfo) error {
	_, f, err := st.fetch(ListAccounts)
	if err != nil {
		return err
	}
	f.Accounts = evt.Accounts
	if st.FetchingAssets != nil {
		for _, a := range f.Accounts {
			st.FetchingAssets.Subaccounts = append(st.FetchingAssets.Subaccounts, a.Subaccount)
		}
	}
	f.Step = FetchAccountBalances
	return nil
}

type EventBalanceFetched struct {
	Key     string
	Balance uint64
}

func (evt EventBalanceFetched) apply(now uint64, st *CustodyInfo) error {
	_, _, err := st.fetch(FetchAccountBalances)
	if err != nil {
		return err
	}
	if st.FetchingAssets == nil {
		return wrongState("fetch without in-progress snapshot")
	}
	st.FetchingAssets.Accounts[evt.Key] = evt.Balance
	return nil
}

// EventFetchFinished completes the fetch pipeline and hands the fresh
// snapshot to validation.
type EventFetchFinished struct{}

func (evt EventFetchFinished) apply(now uint64, st *CustodyInfo) error {
	h, _, err := st.fetch(FetchAccountBalances)
	if err != nil {
		return err
	}
	if st.FetchingAssets != nil {
		st.FetchingAssets.FetchedAt = now
	}
	st.Holding = &HoldingState{Kind: ValidateAssets, Wrap: h.Wrap}
	return nil
}

// // Holding: validation

// EventAssetsValidated commits the fresh snapshot. The snapshot moves into
// the validated slot only when the resume target is Hold; a deeper wrapper
// keeps the prior validated snapshot authoritative.
type EventAssetsValidated struct{}

func (evt EventAssetsValidated) apply(now uint64, st *CustodyInfo) error {
	h, err := st.holding(ValidateAssets)
	if err != nil {
		return err
	}
	if h.Wrap != nil && h.Wrap.Kind == Hold && st.FetchingAssets != nil {
		st.FetchingAssets.ValidatedAt = now
		st.Assets = st.FetchingAssets
		st.FetchingAssets = nil
	}
	st.Holding = &HoldingState{
		Kind:  CheckAssets,
		Check: &CheckAssetsState{Step: StartCheck},
		Wrap:  h.Wrap,
	}
	return nil
}

// EventValidationFailed routes a value-leakage violation to Unsellable,
// dismantling any active sale first.
type EventValidationFailed struct {
	Detail string
}

func (evt EventValidationFailed) apply(now uint64, st *CustodyInfo) error {
	h, err := st.holding(ValidateAssets)
	if err != nil {
		return err
	}
	st.FetchingAssets = nil
	st.Holding = cancelOrUnsellable(h, ValidationFailed)
	return nil
}

// // Holding: account audit

type EventAuditAccountsListed struct {
	Candidates [][]byte
}

func (evt EventAuditAccountsListed) apply(now uint64, st *CustodyInfo) error {
	_, c, err := st.check(StartCheck)
	if err != nil {
		return err
	}
	c.Candidates = evt.Candidates
	c.Next = 0
	c.Step = CheckAccountApproval
	return nil
}

type EventApprovalChecked struct {
	Key string
}

func (evt EventApprovalChecked) apply(now uint64, st *CustodyInfo) error {
	_, c, err := st.check(CheckAccountApproval)
	if err != nil {
		return err
	}
	c.Next++
	return nil
}

// EventApprovalFound marks the identity unsellable: somebody other than the
// custodian can still spend from one of its accounts.
type EventApprovalFound struct {
	Key     string
	Spender identity.Principal
}

func (evt EventApprovalFound) apply(now uint64, st *CustodyInfo) error {
	h, _, err := st.check(CheckAccountApproval)
	if err != nil {
		return err
	}
	st.Holding = cancelOrUnsellable(h, ApproveOnAccount)
	return nil
}

type EventCheckFinished struct{}

func (evt EventCheckFinished) apply(now uint64, st *CustodyInfo) error {
	h, c, err := st.check(CheckAccountApproval)
	if err != nil {
		return err
	}
	if int(c.Next) < len(c.Candidates) {
		return wrongState("audit not finished: %d of %d", c.Next, len(c.Candidates))
	}
	st.Holding = resumeWrap(h)
	return nil
}

// // Holding: quarantine

type EventQuarantineElapsed struct{}

func (evt EventQuarantineElapsed) apply(now uint64, st *CustodyInfo) error {
	h, err := st.hold()
	if err != nil {
		return err
	}
	if h.QuarantinedUntil == 0 {
		return wrongState("not quarantined")
	}
	if h.QuarantinedUntil > now {
		return wrongState("quarantined until %d", h.QuarantinedUntil)
	}
	h.QuarantinedUntil = 0
	return nil
}

// // Sale deal

type EventSaleIntentionSet struct {
	ExpireAt uint64
	Contact  string
	Referrer identity.Principal
}

func (evt EventSaleIntentionSet) apply(now uint64, st *CustodyInfo) error {
	h, err := st.hold()
	if err != nil {
		return err
	}
	if h.SaleDeal != nil {
		return wrongState("sale deal already exists")
	}
	if h.QuarantinedUntil > now {
		return wrongState("quarantined until %d", h.QuarantinedUntil)
	}
	if st.Assets == nil {
		return wrongState("no validated asset snapshot")
	}
	if evt.ExpireAt <= now {
		return wrongState("sale expiration %d not in the future", evt.ExpireAt)
	}
	h.SaleDeal = &SaleDealState{
		Kind:     WaitingSellOffer,
		ExpireAt: evt.ExpireAt,
		Contact:  evt.Contact,
		Referrer: evt.Referrer,
	}
	return nil
}

type EventSaleIntentionChanged struct {
	ExpireAt uint64
	Contact  string
	Referrer identity.Principal
}

func (evt EventSaleIntentionChanged) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.saleDeal(WaitingSellOffer, Trading)
	if err != nil {
		return err
	}
	if evt.ExpireAt <= now {
		return wrongState("sale expiration %d not in the future", evt.ExpireAt)
	}
	deal.ExpireAt = evt.ExpireAt
	deal.Contact = evt.Contact
	deal.Referrer = evt.Referrer
	return nil
}

type EventSaleIntentionCancelled struct{}

func (evt EventSaleIntentionCancelled) apply(now uint64, st *CustodyInfo) error {
	if _, err := st.saleDeal(WaitingSellOffer, Trading); err != nil {
		return err
	}
	st.Holding.SaleDeal = nil
	return nil
}

type EventSellOfferSet struct {
	Price uint64
}

func (evt EventSellOfferSet) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.saleDeal(WaitingSellOffer, Trading)
	if err != nil {
		return err
	}
	if deal.ExpireAt <= now {
		return wrongState("sale deal expired at %d", deal.ExpireAt)
	}
	deal.SellPrice = evt.Price
	return nil
}

// EventBuyerOfferPlaced admits a buyer offer into the bounded offer list.
// When the list is full the lowest offer is evicted to admit a strictly
// higher one; otherwise the new offer is rejected.
type EventBuyerOfferPlaced struct {
	Buyer     identity.Principal
	Amount    uint64
	MaxOffers int
}

func (evt EventBuyerOfferPlaced) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.saleDeal(WaitingSellOffer, Trading)
	if err != nil {
		return err
	}
	if deal.ExpireAt <= now {
		return wrongState("sale deal expired at %d", deal.ExpireAt)
	}

	// a buyer re-offering replaces their own standing offer
	for i := range deal.Offers {
		if deal.Offers[i].Buyer == evt.Buyer {
			deal.Offers[i].Amount = evt.Amount
			deal.Offers[i].CreatedAt = now
			deal.Kind = Trading
			return nil
		}
	}

	if evt.MaxOffers > 0 && len(deal.Offers) >= evt.MaxOffers {
		min := 0
		for i := range deal.Offers {
			if deal.Offers[i].Amount < deal.Offers[min].Amount {
				min = i
			}
		}
		if evt.Amount <= deal.Offers[min].Amount {
			return wrongState("offer list full and %d does not beat the lowest offer %d",
				evt.Amount, deal.Offers[min].Amount)
		}
		deal.Offers = append(deal.Offers[:min], deal.Offers[min+1:]...)
	}

	deal.Offers = append(deal.Offers, BuyerOffer{Buyer: evt.Buyer, Amount: evt.Amount, CreatedAt: now})
	deal.Kind = Trading
	return nil
}

type EventBuyerOfferCancelled struct {
	Buyer identity.Principal
}

func (evt EventBuyerOfferCancelled) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.saleDeal(Trading)
	if err != nil {
		return err
	}
	found := false
	keep := deal.Offers[:0]
	for _, o := range deal.Offers {
		if o.Buyer == evt.Buyer {
			found = true
			continue
		}
		keep = append(keep, o)
	}
	if !found {
		return wrongState("no offer from %s", evt.Buyer)
	}
	deal.Offers = keep
	if len(deal.Offers) == 0 {
		deal.Kind = WaitingSellOffer
	}
	return nil
}

// EventBuyerOfferAccepted locks the deal onto one buyer and starts the
// settlement pipeline. The accepted price must match both the buyer's offer
// and the standing sell price.
type EventBuyerOfferAccepted struct {
	Buyer identity.Principal
	Price uint64
}

func (evt EventBuyerOfferAccepted) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.saleDeal(Trading)
	if err != nil {
		return err
	}
	if deal.ExpireAt <= now {
		return wrongState("sale deal expired at %d", deal.ExpireAt)
	}
	if deal.SellPrice == 0 || deal.SellPrice != evt.Price {
		return wrongState("price %d does not match sell offer %d", evt.Price, deal.SellPrice)
	}
	var offer *BuyerOffer
	for i := range deal.Offers {
		if deal.Offers[i].Buyer == evt.Buyer {
			offer = &deal.Offers[i]
			break
		}
	}
	if offer == nil {
		return wrongState("no offer from %s", evt.Buyer)
	}
	if offer.Amount != evt.Price {
		return wrongState("price %d does not match buyer offer %d", evt.Price, offer.Amount)
	}

	deal.Kind = Accept
	deal.Buyer = evt.Buyer
	deal.AcceptPrice = evt.Price
	deal.AcceptStep = StartAccept
	return nil
}

// EventSaleDealExpired fires when the deal's expiration passes. A passive
// deal simply lapses; a deal mid-settlement is dismantled through
// CancelSaleDeal with the buyer refunded, and the identity becomes
// unsellable under this contract.
type EventSaleDealExpired struct{}

func (evt EventSaleDealExpired) apply(now uint64, st *CustodyInfo) error {
	h, err := st.hold()
	if err != nil {
		return err
	}
	if h.SaleDeal == nil {
		return wrongState("no sale deal")
	}
	if h.SaleDeal.ExpireAt > now {
		return wrongState("sale deal not expired until %d", h.SaleDeal.ExpireAt)
	}

	if h.SaleDeal.Kind != Accept {
		h.SaleDeal = nil
		return nil
	}

	deal := h.SaleDeal
	st.Holding = &HoldingState{
		Kind:   CancelSaleDeal,
		Cancel: &CancelSaleDealState{Step: StartCancelSaleDeal, Deal: deal},
		Wrap:   &HoldingState{Kind: Unsellable, Reason: CertificateExpired},
	}
	return nil
}

// // Accept pipeline

type EventAcceptStarted struct{}

func (evt EventAcceptStarted) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.accept(StartAccept)
	if err != nil {
		return err
	}
	deal.AcceptStep = TransferSaleAmountToTransit
	return nil
}

type EventSaleAmountInTransit struct{}

func (evt EventSaleAmountInTransit) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.accept(TransferSaleAmountToTransit)
	if err != nil {
		return err
	}
	deal.AcceptStep = ResolveReferralRewardPayee
	return nil
}

type EventReferralPayeeResolved struct {
	Payee *ledger.Account
}

func (evt EventReferralPayeeResolved) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.accept(ResolveReferralRewardPayee)
	if err != nil {
		return err
	}
	deal.ReferralPayee = evt.Payee
	deal.AcceptStep = PayReferralReward
	return nil
}

type EventReferralRewardPaid struct {
	Amount uint64 // zero when the leg was skipped
}

func (evt EventReferralRewardPaid) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.accept(PayReferralReward)
	if err != nil {
		return err
	}
	deal.ReferralPaid = evt.Amount
	deal.AcceptStep = PayDeveloperReward
	return nil
}

type EventDeveloperRewardPaid struct {
	Amount uint64
}

func (evt EventDeveloperRewardPaid) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.accept(PayDeveloperReward)
	if err != nil {
		return err
	}
	deal.DeveloperPaid = evt.Amount
	deal.AcceptStep = PayHubReward
	return nil
}

type EventHubRewardPaid struct {
	Amount uint64
}

func (evt EventHubRewardPaid) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.accept(PayHubReward)
	if err != nil {
		return err
	}
	deal.HubPaid = evt.Amount
	deal.AcceptStep = TransferSaleAmountToSeller
	return nil
}

// EventSaleCompleted settles the sale: the buyer becomes the owner the
// custodian answers to, and the deal is retired into the completed-sale
// record.
type EventSaleCompleted struct {
	SellerAmount uint64
}

func (evt EventSaleCompleted) apply(now uint64, st *CustodyInfo) error {
	deal, err := st.accept(TransferSaleAmountToSeller)
	if err != nil {
		return err
	}

	st.CompletedSale = &CompletedSale{
		Seller:        st.Owner,
		Buyer:         deal.Buyer,
		Price:         deal.AcceptPrice,
		SellerAmount:  evt.SellerAmount,
		ReferralPaid:  deal.ReferralPaid,
		DeveloperPaid: deal.DeveloperPaid,
		HubPaid:       deal.HubPaid,
		CompletedAt:   now,
	}
	st.Owner = deal.Buyer
	st.Holding.SaleDeal = nil
	return nil
}

// // Sale cancellation

type EventRefundRequired struct{}

func (evt EventRefundRequired) apply(now uint64, st *CustodyInfo) error {
	_, c, err := st.cancel(StartCancelSaleDeal)
	if err != nil {
		return err
	}
	c.Step = RefundBuyerFromTransitAccount
	return nil
}

type EventRefundNotRequired struct{}

func (evt EventRefundNotRequired) apply(now uint64, st *CustodyInfo) error {
	h, _, err := st.cancel(StartCancelSaleDeal)
	if err != nil {
		return err
	}
	st.Holding = resumeWrap(h)
	return nil
}

type EventBuyerRefunded struct {
	Amount uint64
}

func (evt EventBuyerRefunded) apply(now uint64, st *CustodyInfo) error {
	h, _, err := st.cancel(RefundBuyerFromTransitAccount)
	if err != nil {
		return err
	}
	st.Holding = resumeWrap(h)
	return nil
}

// // Release

type EventReleaseStarted struct {
	Initiation ReleaseInitiation
	Reason     UnsellableReason
}

func (evt EventReleaseStarted) apply(now uint64, st *CustodyInfo) error {
	if !st.ReleaseEligible() {
		return wrongState("custody not eligible for release")
	}
	// release clears everything sale- and fetch-scoped
	st.Holding = nil
	st.FetchingAssets = nil
	st.Phase = PhaseRelease
	st.Release = &ReleaseState{
		Initiation: evt.Initiation,
		Reason:     evt.Reason,
		Step:       StartRelease,
	}
	return nil
}

type EventReleasePrepared struct{}

func (evt EventReleasePrepared) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(StartRelease)
	if err != nil {
		return err
	}
	r.RegistrationID = ""
	r.ExpireAt = 0
	r.ConfirmError = ""
	r.Step = EnterAuthnMethodRegistrationMode
	return nil
}

type EventReleaseRegistrationModeEntered struct {
	RegistrationID string
	ExpireAt       uint64
}

func (evt EventReleaseRegistrationModeEntered) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(EnterAuthnMethodRegistrationMode)
	if err != nil {
		return err
	}
	r.RegistrationID = evt.RegistrationID
	r.ExpireAt = evt.ExpireAt
	r.Step = WaitingAuthnMethodRegistration
	return nil
}

// EventReleaseConfirmRequested is driven by the owner asking the custodian
// to confirm the method they registered out-of-band.
type EventReleaseConfirmRequested struct{}

func (evt EventReleaseConfirmRequested) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(WaitingAuthnMethodRegistration)
	if err != nil {
		return err
	}
	r.Step = ConfirmAuthnMethodRegistration
	return nil
}

type EventReleaseConfirmed struct{}

func (evt EventReleaseConfirmed) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(ConfirmAuthnMethodRegistration)
	if err != nil {
		return err
	}
	r.ConfirmError = ""
	r.Step = CheckingAccessFromOwnerMethod
	return nil
}

// EventReleaseConfirmFailed records a failed confirmation and returns to
// waiting; the owner can retry until the registration expires.
type EventReleaseConfirmFailed struct {
	Error string
}

func (evt EventReleaseConfirmFailed) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(ConfirmAuthnMethodRegistration)
	if err != nil {
		return err
	}
	r.ConfirmError = evt.Error
	r.Step = WaitingAuthnMethodRegistration
	return nil
}

type EventOwnerAccessVerified struct{}

func (evt EventOwnerAccessVerified) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(CheckingAccessFromOwnerMethod)
	if err != nil {
		return err
	}
	r.Step = DeleteHolderAuthnMethod
	return nil
}

// EventHolderMethodDeleted ends release. The initiation decides the
// terminal outcome: manual release closes custody carrying its reason,
// loss-of-custody restarts a fresh capture, API incompatibility closes
// without a reason.
type EventHolderMethodDeleted struct{}

func (evt EventHolderMethodDeleted) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(DeleteHolderAuthnMethod)
	if err != nil {
		return err
	}
	st.Release = nil

	switch r.Initiation {
	case DangerousLossOfCustody:
		st.Assets = nil
		st.FetchingAssets = nil
		st.Phase = PhaseCapture
		st.Capture = &CaptureState{Step: CreateHolderKey}
	case ManualRelease:
		st.Phase = PhaseClosed
		st.Closed = &ClosedState{Reason: r.Reason, At: now}
	default:
		st.Phase = PhaseClosed
		st.Closed = &ClosedState{At: now}
	}
	return nil
}

// EventReleaseUnauthorized is raised when the provider rejects a release
// step; the orphaned registration mode is exited before parking in
// ReleaseFailed.
type EventReleaseUnauthorized struct {
	Error string
}

func (evt EventReleaseUnauthorized) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(EnterAuthnMethodRegistrationMode, WaitingAuthnMethodRegistration,
		ConfirmAuthnMethodRegistration, CheckingAccessFromOwnerMethod, DeleteHolderAuthnMethod)
	if err != nil {
		return err
	}
	r.Error = evt.Error
	r.Step = EnsureOrphanedRegistrationExited
	return nil
}

type EventReleaseExpired struct{}

func (evt EventReleaseExpired) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(WaitingAuthnMethodRegistration)
	if err != nil {
		return err
	}
	if r.ExpireAt > now {
		return wrongState("registration not expired until %d", r.ExpireAt)
	}
	r.Error = "authn-method registration expired before confirmation"
	r.Step = EnsureOrphanedRegistrationExited
	return nil
}

type EventOrphanedRegistrationExited struct{}

func (evt EventOrphanedRegistrationExited) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(EnsureOrphanedRegistrationExited)
	if err != nil {
		return err
	}
	r.Step = ReleaseFailed
	return nil
}

// EventReleaseRestarted retries the release pipeline from the top; the
// initiation and reason survive.
type EventReleaseRestarted struct{}

func (evt EventReleaseRestarted) apply(now uint64, st *CustodyInfo) error {
	r, err := st.release(ReleaseFailed, WaitingAuthnMethodRegistration,
		EnterAuthnMethodRegistrationMode, ConfirmAuthnMethodRegistration,
		EnsureOrphanedRegistrationExited)
	if err != nil {
		return err
	}
	r.RegistrationID = ""
	r.ExpireAt = 0
	r.ConfirmError = ""
	r.Error = ""
	r.Step = StartRelease
	return nil
}

// // helpers

func positionKey(id uint64) string {
	return fmt.Sprintf("%d", id)
}

// cancelOrUnsellable dismantles any sale deal reachable from h before
// parking holding in Unsellable{reason}. A deal mid-settlement must be
// refunded, so it goes through CancelSaleDeal; otherwise Unsellable is
// entered directly.
func cancelOrUnsellable(h *HoldingState, reason UnsellableReason) *HoldingState {
	deal := activeSaleDeal(h)
	if deal == nil {
		return &HoldingState{Kind: Unsellable, Reason: reason}
	}
	return &HoldingState{
		Kind:   CancelSaleDeal,
		Cancel: &CancelSaleDealState{Step: StartCancelSaleDeal, Deal: deal},
		Wrap:   &HoldingState{Kind: Unsellable, Reason: reason},
	}
}

// resumeWrap returns the state a completed wrapper hands control back to.
// A Hold resumed out of a sale cancellation no longer carries the deal.
func resumeWrap(h *HoldingState) *HoldingState {
	if h.Wrap == nil {
		return &HoldingState{Kind: Hold}
	}
	wrap := h.Wrap
	if h.Kind == CancelSaleDeal && wrap.Kind == Hold {
		wrap.SaleDeal = nil
	}
	return wrap
}
