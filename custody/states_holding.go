package custody

import (
	"context"
)

// holdingStart begins the initial asset intake right after capture. The
// quarantine clock starts here: nothing fetched before it elapses may back a
// sale.
func (c *Controller) holdingStart(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	return EventFetchStarted{
		QuarantineUntil: c.now() + c.cfg.QuarantineWindow,
		PageSize:        c.cfg.PositionPageSize,
	}, nil
}

// holdingRefetch begins a periodic re-verification of the held assets.
func (c *Controller) holdingRefetch(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	return EventFetchStarted{PageSize: c.cfg.PositionPageSize}, nil
}

// validateAssets compares the freshly fetched snapshot against the validated
// one. Any value that went missing since the last snapshot means custody is
// leaking and the identity must not be sold.
func (c *Controller) validateAssets(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	if st.FetchingAssets == nil {
		return EventValidationFailed{Detail: "no snapshot was assembled"}, nil
	}

	if err := compareSnapshots(st.Assets, st.FetchingAssets); err != nil {
		log.Errorw("asset validation failed", "error", err)
		return EventValidationFailed{Detail: err.Error()}, nil
	}

	return EventAssetsValidated{}, nil
}
