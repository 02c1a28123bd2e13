package custody

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-statemachine"

	"github.com/icpgeeks/iicustody/metrics"
)

var log = logging.Logger("custody")

// Plan implements statemachine.StateHandler over the custody record: it
// folds the queued events into the state, one full transition per event.
// An event that no longer matches the state (it raced with another
// transition) aborts the whole mutation with ErrWrongState, leaving the
// record untouched.
//
// Any successful transition other than a recorded processing error clears
// the latest-error slot.
func (c *Controller) Plan(events []statemachine.Event, user interface{}) (interface{}, uint64, error) {
	st, ok := user.(*CustodyInfo)
	if !ok {
		return nil, 0, xerrors.Errorf("planning over unexpected state type %T", user)
	}
	now := c.now()

	var processed uint64
	for _, e := range events {
		evt, ok := e.User.(custodyEvent)
		if !ok {
			return nil, processed, xerrors.Errorf("unexpected event type %T", e.User)
		}

		if err := evt.apply(now, st); err != nil {
			return nil, processed, xerrors.Errorf("applying %s: %w", eventName(evt), err)
		}

		switch evt.(type) {
		case EventProcessingError, EventRestart:
		default:
			st.LastError = nil
		}
		st.UpdatedAt = now
		processed++

		log.Infow("custody transition", "event", eventName(evt), "phase", st.Phase)

		mctx, _ := tag.New(context.Background(),
			tag.Upsert(metrics.Event, eventName(evt)),
			tag.Upsert(metrics.Phase, string(st.Phase)),
		)
		stats.Record(mctx, metrics.CustodyTransition.M(1))
	}

	return nil, processed, nil
}

// stepFunc performs at most one external call for the current state and
// returns the event to fold in, or nil when there is nothing to do yet (the
// scheduler re-enters after the poll interval). A returned error is recorded
// as the processing error and retried with backoff.
type stepFunc func(ctx context.Context, st CustodyInfo) (custodyEvent, error)

// emit is a stepFunc for transitions that need no external call.
func emit(evt custodyEvent) stepFunc {
	return func(context.Context, CustodyInfo) (custodyEvent, error) {
		return evt, nil
	}
}

// dispatch maps the current state shape to the step advancing it. A nil step
// with zero wakeAt means the state only moves on external requests; a
// non-zero wakeAt asks the scheduler to re-enter at that instant.
func (c *Controller) dispatch(now uint64, st *CustodyInfo) (step stepFunc, wakeAt uint64) {
	switch st.Phase {
	case PhaseCapture:
		return c.dispatchCapture(now, st.Capture)
	case PhaseHolding:
		return c.dispatchHolding(now, st)
	case PhaseRelease:
		return c.dispatchRelease(now, st.Release)
	default:
		// WaitingActivation, WaitingStartCapture, Closed
		return nil, 0
	}
}

func (c *Controller) dispatchCapture(now uint64, cs *CaptureState) (stepFunc, uint64) {
	if cs == nil {
		return nil, 0
	}
	switch cs.Step {
	case CreateHolderKey:
		return c.captureCreateHolderKey, 0
	case RegisterAuthnSession:
		return c.captureRegisterSession, 0
	case NeedConfirmSessionRegistration:
		if cs.ExpireAt <= now {
			return emit(EventSessionExpired{}), 0
		}
		return nil, cs.ExpireAt
	case ExitRegistrationMode:
		return c.captureExitRegistrationMode, 0
	case ResolveIdentityController:
		return c.captureResolveController, 0
	case CleanupIdentityAuthnMethods:
		return c.captureCleanup, 0
	default:
		// CaptureFailed
		return nil, 0
	}
}

func (c *Controller) dispatchHolding(now uint64, st *CustodyInfo) (stepFunc, uint64) {
	h := st.Holding
	if h == nil {
		return nil, 0
	}

	switch h.Kind {
	case StartHolding:
		return c.holdingStart, 0

	case Hold:
		return c.dispatchHold(now, st, h)

	case FetchAssets:
		return c.dispatchFetch(now, h.Fetch)

	case ValidateAssets:
		return c.validateAssets, 0

	case CheckAssets:
		if h.Check == nil {
			return nil, 0
		}
		switch h.Check.Step {
		case StartCheck:
			return c.checkStart, 0
		case CheckAccountApproval:
			return c.checkNextAccount, 0
		}
		return nil, 0

	case CancelSaleDeal:
		if h.Cancel == nil {
			return nil, 0
		}
		switch h.Cancel.Step {
		case StartCancelSaleDeal:
			return c.cancelStart, 0
		case RefundBuyerFromTransitAccount:
			return c.cancelRefundBuyer, 0
		}
		return nil, 0

	default:
		// Unsellable
		return nil, 0
	}
}

// dispatchHold arbitrates the timers alive while holding passively: sale
// expiration, quarantine, periodic asset re-verification and the settlement
// pipeline of an accepted deal.
func (c *Controller) dispatchHold(now uint64, st *CustodyInfo, h *HoldingState) (stepFunc, uint64) {
	if deal := h.SaleDeal; deal != nil {
		if deal.ExpireAt <= now {
			return emit(EventSaleDealExpired{}), 0
		}
		if deal.Kind == Accept {
			return c.dispatchAccept(deal), 0
		}
	}

	if h.QuarantinedUntil != 0 && h.QuarantinedUntil <= now {
		return emit(EventQuarantineElapsed{}), 0
	}

	if st.Assets != nil && c.cfg.RevalidateInterval > 0 &&
		st.Assets.ValidatedAt+c.cfg.RevalidateInterval <= now {
		return c.holdingRefetch, 0
	}

	wake := uint64(0)
	earliest := func(at uint64) {
		if at > now && (wake == 0 || at < wake) {
			wake = at
		}
	}
	if h.SaleDeal != nil {
		earliest(h.SaleDeal.ExpireAt)
	}
	earliest(h.QuarantinedUntil)
	if st.Assets != nil && c.cfg.RevalidateInterval > 0 {
		earliest(st.Assets.ValidatedAt + c.cfg.RevalidateInterval)
	}
	return nil, wake
}

func (c *Controller) dispatchAccept(deal *SaleDealState) stepFunc {
	switch deal.AcceptStep {
	case StartAccept:
		return emit(EventAcceptStarted{})
	case TransferSaleAmountToTransit:
		return c.acceptTransferToTransit
	case ResolveReferralRewardPayee:
		return c.acceptResolveReferralPayee
	case PayReferralReward:
		return c.acceptPayReferral
	case PayDeveloperReward:
		return c.acceptPayDeveloper
	case PayHubReward:
		return c.acceptPayHub
	case TransferSaleAmountToSeller:
		return c.acceptTransferToSeller
	}
	return nil
}

func (c *Controller) dispatchFetch(now uint64, f *FetchAssetsState) (stepFunc, uint64) {
	if f == nil {
		return nil, 0
	}

	// steps past WaitSignedDelegation run under the signed delegation; once
	// it lapses the delegation sub-machine restarts
	if f.Step != PrepareDelegation && f.Step != WaitSignedDelegation &&
		f.Delegation != nil && f.Delegation.Expired(now) {
		return emit(EventDelegationExpired{}), 0
	}

	switch f.Step {
	case PrepareDelegation:
		return c.fetchPrepareDelegation, 0
	case WaitSignedDelegation:
		if f.DelegationExpireAt != 0 && f.DelegationExpireAt <= now {
			return emit(EventDelegationExpired{}), 0
		}
		return c.fetchPollDelegation, f.DelegationExpireAt
	case ListStakedPositions:
		return c.fetchListPositions, 0
	case FetchStakedPositionInfo:
		return c.fetchPositionInfoPage, 0
	case RemovePositionHotkeys:
		return c.fetchRemoveHotkey, 0
	case ListAccounts:
		return c.fetchListAccounts, 0
	case FetchAccountBalances:
		return c.fetchNextBalance, 0
	}
	return nil, 0
}

func (c *Controller) dispatchRelease(now uint64, r *ReleaseState) (stepFunc, uint64) {
	if r == nil {
		return nil, 0
	}
	switch r.Step {
	case StartRelease:
		return emit(EventReleasePrepared{}), 0
	case EnterAuthnMethodRegistrationMode:
		return c.releaseEnterRegistration, 0
	case WaitingAuthnMethodRegistration:
		if r.ExpireAt <= now {
			return emit(EventReleaseExpired{}), 0
		}
		return nil, r.ExpireAt
	case ConfirmAuthnMethodRegistration:
		return c.releaseConfirmRegistration, 0
	case CheckingAccessFromOwnerMethod:
		return c.releaseCheckOwnerAccess, 0
	case DeleteHolderAuthnMethod:
		return c.releaseDeleteHolderMethod, 0
	case EnsureOrphanedRegistrationExited:
		return c.releaseExitOrphanedRegistration, 0
	default:
		// ReleaseFailed
		return nil, 0
	}
}
