package custody

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActiveSaleDealThroughWrappers(t *testing.T) {
	deal := &SaleDealState{Kind: Trading}
	hold := &HoldingState{Kind: Hold, SaleDeal: deal}

	st := &CustodyInfo{Phase: PhaseHolding, Holding: hold}
	require.Same(t, deal, st.ActiveSaleDeal())

	// reachable through a fetch wrapper around the hold
	st.Holding = &HoldingState{Kind: FetchAssets, Fetch: &FetchAssetsState{}, Wrap: hold}
	require.Same(t, deal, st.ActiveSaleDeal())

	// and through a validate-then-check chain
	st.Holding = &HoldingState{
		Kind: CheckAssets,
		Wrap: &HoldingState{Kind: ValidateAssets, Wrap: hold},
	}
	require.Same(t, deal, st.ActiveSaleDeal())

	// a deal being dismantled is not active
	st.Holding = &HoldingState{
		Kind:   CancelSaleDeal,
		Cancel: &CancelSaleDealState{Deal: deal},
		Wrap:   &HoldingState{Kind: Unsellable},
	}
	require.Nil(t, st.ActiveSaleDeal())

	st = &CustodyInfo{Phase: PhaseCapture}
	require.Nil(t, st.ActiveSaleDeal())
}

func TestReleaseEligibility(t *testing.T) {
	eligible := func(h *HoldingState) bool {
		st := &CustodyInfo{Phase: PhaseHolding, Holding: h}
		return st.ReleaseEligible()
	}

	require.True(t, eligible(&HoldingState{Kind: StartHolding}))
	require.True(t, eligible(&HoldingState{Kind: Hold}))
	require.True(t, eligible(&HoldingState{Kind: Unsellable}))
	require.True(t, eligible(&HoldingState{Kind: Hold, SaleDeal: &SaleDealState{Kind: Trading}}))

	// a deal mid-settlement pins custody until it resolves
	require.False(t, eligible(&HoldingState{Kind: Hold, SaleDeal: &SaleDealState{Kind: Accept}}))

	// a live delegation or in-flight refund blocks release
	require.False(t, eligible(&HoldingState{Kind: FetchAssets, Wrap: &HoldingState{Kind: Hold}}))
	require.False(t, eligible(&HoldingState{Kind: CancelSaleDeal, Wrap: &HoldingState{Kind: Unsellable}}))

	// eligibility descends through passive wrappers to the resume target
	require.True(t, eligible(&HoldingState{Kind: CheckAssets, Wrap: &HoldingState{Kind: Hold}}))
	require.False(t, eligible(&HoldingState{
		Kind: ValidateAssets,
		Wrap: &HoldingState{Kind: Hold, SaleDeal: &SaleDealState{Kind: Accept}},
	}))

	require.False(t, (&CustodyInfo{Phase: PhaseClosed}).ReleaseEligible())
}

func TestTerminalStates(t *testing.T) {
	require.True(t, (&CustodyInfo{Phase: WaitingActivation}).Terminal())
	require.True(t, (&CustodyInfo{Phase: WaitingStartCapture}).Terminal())
	require.True(t, (&CustodyInfo{Phase: PhaseClosed}).Terminal())

	require.False(t, (&CustodyInfo{
		Phase:   PhaseCapture,
		Capture: &CaptureState{Step: CreateHolderKey},
	}).Terminal())
	require.True(t, (&CustodyInfo{
		Phase:   PhaseCapture,
		Capture: &CaptureState{Step: CaptureFailed},
	}).Terminal())

	require.False(t, (&CustodyInfo{
		Phase:   PhaseHolding,
		Holding: &HoldingState{Kind: Hold},
	}).Terminal())
	require.True(t, (&CustodyInfo{
		Phase:   PhaseHolding,
		Holding: &HoldingState{Kind: Unsellable},
	}).Terminal())

	require.True(t, (&CustodyInfo{
		Phase:   PhaseRelease,
		Release: &ReleaseState{Step: ReleaseFailed},
	}).Terminal())
}
