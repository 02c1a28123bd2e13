package custody

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// tradingState returns a record holding a trading deal with the given offers.
func tradingState(expireAt uint64, offers ...BuyerOffer) *CustodyInfo {
	kind := WaitingSellOffer
	if len(offers) > 0 {
		kind = Trading
	}
	return &CustodyInfo{
		Owner:          testOwner,
		IdentityNumber: testIdentity,
		Phase:          PhaseHolding,
		Assets:         NewAssetsSnapshot(1),
		Holding: &HoldingState{
			Kind: Hold,
			SaleDeal: &SaleDealState{
				Kind:      kind,
				ExpireAt:  expireAt,
				SellPrice: 100,
				Offers:    offers,
			},
		},
	}
}

func TestBuyerOfferReplacesOwn(t *testing.T) {
	st := tradingState(1000, BuyerOffer{Buyer: "a", Amount: 50})

	err := EventBuyerOfferPlaced{Buyer: "a", Amount: 80, MaxOffers: 4}.apply(10, st)
	require.NoError(t, err)

	deal := st.Holding.SaleDeal
	require.Len(t, deal.Offers, 1)
	require.Equal(t, uint64(80), deal.Offers[0].Amount)
	require.Equal(t, uint64(10), deal.Offers[0].CreatedAt)
}

func TestBuyerOfferEviction(t *testing.T) {
	st := tradingState(1000,
		BuyerOffer{Buyer: "a", Amount: 50},
		BuyerOffer{Buyer: "b", Amount: 70},
	)

	// full list: an offer that does not beat the lowest is rejected
	err := EventBuyerOfferPlaced{Buyer: "c", Amount: 50, MaxOffers: 2}.apply(10, st)
	require.ErrorIs(t, err, ErrWrongState)
	require.Len(t, st.Holding.SaleDeal.Offers, 2)

	// a strictly higher offer evicts the lowest
	err = EventBuyerOfferPlaced{Buyer: "c", Amount: 60, MaxOffers: 2}.apply(10, st)
	require.NoError(t, err)

	deal := st.Holding.SaleDeal
	require.Len(t, deal.Offers, 2)
	for _, o := range deal.Offers {
		require.NotEqual(t, "a", string(o.Buyer))
	}
}

func TestBuyerOfferCancellation(t *testing.T) {
	st := tradingState(1000, BuyerOffer{Buyer: "a", Amount: 50})

	err := EventBuyerOfferCancelled{Buyer: "b"}.apply(10, st)
	require.ErrorIs(t, err, ErrWrongState)

	require.NoError(t, EventBuyerOfferCancelled{Buyer: "a"}.apply(10, st))

	// the last offer gone drops the deal back to waiting for offers
	deal := st.Holding.SaleDeal
	require.Empty(t, deal.Offers)
	require.Equal(t, WaitingSellOffer, deal.Kind)
}

func TestAcceptRequiresMatchingPrices(t *testing.T) {
	st := tradingState(1000, BuyerOffer{Buyer: "a", Amount: 90})

	// buyer's offer does not match the sell price
	err := EventBuyerOfferAccepted{Buyer: "a", Price: 100}.apply(10, st)
	require.ErrorIs(t, err, ErrWrongState)

	// accepted price must equal the sell price, not the offer
	err = EventBuyerOfferAccepted{Buyer: "a", Price: 90}.apply(10, st)
	require.ErrorIs(t, err, ErrWrongState)

	st.Holding.SaleDeal.Offers[0].Amount = 100
	require.NoError(t, EventBuyerOfferAccepted{Buyer: "a", Price: 100}.apply(10, st))

	deal := st.Holding.SaleDeal
	require.Equal(t, Accept, deal.Kind)
	require.Equal(t, StartAccept, deal.AcceptStep)
	require.Equal(t, uint64(100), deal.AcceptPrice)
}

func TestAcceptRejectsExpiredDeal(t *testing.T) {
	st := tradingState(1000, BuyerOffer{Buyer: "a", Amount: 100})

	err := EventBuyerOfferAccepted{Buyer: "a", Price: 100}.apply(1000, st)
	require.ErrorIs(t, err, ErrWrongState)
}

func TestSaleIntentionPreconditions(t *testing.T) {
	st := &CustodyInfo{
		Phase:   PhaseHolding,
		Holding: &HoldingState{Kind: Hold, QuarantinedUntil: 100},
		Assets:  NewAssetsSnapshot(1),
	}

	// quarantine still running
	err := EventSaleIntentionSet{ExpireAt: 1000}.apply(50, st)
	require.ErrorIs(t, err, ErrWrongState)

	// no validated snapshot
	st.Holding.QuarantinedUntil = 0
	st.Assets = nil
	err = EventSaleIntentionSet{ExpireAt: 1000}.apply(50, st)
	require.ErrorIs(t, err, ErrWrongState)

	st.Assets = NewAssetsSnapshot(1)
	require.NoError(t, EventSaleIntentionSet{ExpireAt: 1000}.apply(50, st))

	// only one deal at a time
	err = EventSaleIntentionSet{ExpireAt: 1000}.apply(50, st)
	require.ErrorIs(t, err, ErrWrongState)
}

func TestValidationCommitOnlyAtTopLevel(t *testing.T) {
	fresh := NewAssetsSnapshot(5)
	st := &CustodyInfo{
		Phase:          PhaseHolding,
		FetchingAssets: fresh,
		Holding: &HoldingState{
			Kind: ValidateAssets,
			Wrap: &HoldingState{Kind: Hold, QuarantinedUntil: 100},
		},
	}

	require.NoError(t, EventAssetsValidated{}.apply(10, st))

	// resume target is Hold: the snapshot is committed
	require.Same(t, fresh, st.Assets)
	require.Equal(t, uint64(10), st.Assets.ValidatedAt)
	require.Nil(t, st.FetchingAssets)
	require.Equal(t, CheckAssets, st.Holding.Kind)

	// a wrapper that resumes into anything other than Hold keeps the prior
	// validated snapshot authoritative
	prior := NewAssetsSnapshot(1)
	st = &CustodyInfo{
		Phase:          PhaseHolding,
		Assets:         prior,
		FetchingAssets: NewAssetsSnapshot(5),
		Holding: &HoldingState{
			Kind: ValidateAssets,
			Wrap: &HoldingState{Kind: Unsellable, Reason: ValidationFailed},
		},
	}
	require.NoError(t, EventAssetsValidated{}.apply(10, st))
	require.Same(t, prior, st.Assets)
	require.NotNil(t, st.FetchingAssets)
}

func TestCheckFinishRequiresAllCandidates(t *testing.T) {
	st := &CustodyInfo{
		Phase: PhaseHolding,
		Holding: &HoldingState{
			Kind: CheckAssets,
			Check: &CheckAssetsState{
				Step:       CheckAccountApproval,
				Candidates: [][]byte{nil, {1}},
				Next:       1,
			},
			Wrap: &HoldingState{Kind: Hold},
		},
	}

	err := EventCheckFinished{}.apply(10, st)
	require.ErrorIs(t, err, ErrWrongState)

	require.NoError(t, EventApprovalChecked{}.apply(10, st))
	require.NoError(t, EventCheckFinished{}.apply(10, st))
	require.Equal(t, Hold, st.Holding.Kind)
}

func TestCancelResumeDropsDeal(t *testing.T) {
	hold := &HoldingState{
		Kind:     Hold,
		SaleDeal: &SaleDealState{Kind: Accept},
	}
	st := &CustodyInfo{
		Phase: PhaseHolding,
		Holding: &HoldingState{
			Kind:   CancelSaleDeal,
			Cancel: &CancelSaleDealState{Step: StartCancelSaleDeal, Deal: hold.SaleDeal},
			Wrap:   hold,
		},
	}

	require.NoError(t, EventRefundNotRequired{}.apply(10, st))

	// a Hold resumed out of a cancellation no longer carries the deal
	require.Equal(t, Hold, st.Holding.Kind)
	require.Nil(t, st.Holding.SaleDeal)
}

func TestProcessingErrorShrinksFetchPage(t *testing.T) {
	st := &CustodyInfo{
		Phase: PhaseHolding,
		Holding: &HoldingState{
			Kind:  FetchAssets,
			Fetch: &FetchAssetsState{Step: FetchStakedPositionInfo, PageSize: 16},
			Wrap:  &HoldingState{Kind: Hold},
		},
	}

	require.NoError(t, EventProcessingError{Message: "boom"}.apply(10, st))
	require.Equal(t, uint64(1), st.Holding.Fetch.PageSize)
	require.Equal(t, "boom", st.LastError.Message)
	require.Equal(t, uint64(10), st.LastError.At)
}

func TestWrongStateLeavesRecordUntouched(t *testing.T) {
	st := &CustodyInfo{Phase: WaitingActivation}

	err := EventSellOfferSet{Price: 5}.apply(10, st)
	require.ErrorIs(t, err, ErrWrongState)
	require.Equal(t, WaitingActivation, st.Phase)
	require.Nil(t, st.Holding)
}

func TestEventNames(t *testing.T) {
	require.Equal(t, "Restart", eventName(EventRestart{}))
	require.Equal(t, "BuyerOfferPlaced", eventName(EventBuyerOfferPlaced{}))
	require.Equal(t, "ProcessingError", eventName(EventProcessingError{}))
}
