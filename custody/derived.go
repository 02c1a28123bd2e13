package custody

// ActiveSaleDeal returns the sale-deal state reachable through the holding
// wrapper chain, if any. A deal being dismantled under CancelSaleDeal is not
// active, and no deal is reachable outside the Holding phase.
func (st *CustodyInfo) ActiveSaleDeal() *SaleDealState {
	if st.Phase != PhaseHolding {
		return nil
	}
	return activeSaleDeal(st.Holding)
}

func activeSaleDeal(h *HoldingState) *SaleDealState {
	for h != nil {
		switch h.Kind {
		case Hold:
			return h.SaleDeal
		case ValidateAssets, FetchAssets, CheckAssets:
			h = h.Wrap
		default:
			// StartHolding, CancelSaleDeal, Unsellable
			return nil
		}
	}
	return nil
}

// ReleaseEligible reports whether the custody phase may begin release right
// now. Release may start from holding states that are not in the middle of a
// sale settlement or cancellation: StartHolding, Hold with no deal or a
// non-Accept deal, Unsellable, or a ValidateAssets/CheckAssets wrapper whose
// resume target is itself eligible.
func (st *CustodyInfo) ReleaseEligible() bool {
	if st.Phase != PhaseHolding {
		return false
	}
	return releaseEligible(st.Holding)
}

func releaseEligible(h *HoldingState) bool {
	for h != nil {
		switch h.Kind {
		case StartHolding, Unsellable:
			return true
		case Hold:
			return h.SaleDeal == nil || h.SaleDeal.Kind != Accept
		case ValidateAssets, CheckAssets:
			h = h.Wrap
		default:
			// FetchAssets holds a live delegation; CancelSaleDeal moves funds.
			return false
		}
	}
	return false
}

// Terminal reports whether no processing step will ever advance this state
// without an external request.
func (st *CustodyInfo) Terminal() bool {
	switch st.Phase {
	case WaitingActivation, WaitingStartCapture, PhaseClosed:
		return true
	case PhaseCapture:
		return st.Capture != nil && st.Capture.Step == CaptureFailed
	case PhaseHolding:
		return st.Holding != nil && st.Holding.Kind == Unsellable
	case PhaseRelease:
		return st.Release != nil && st.Release.Step == ReleaseFailed
	}
	return false
}
