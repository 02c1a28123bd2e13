package custody

import (
	"bytes"
	"context"

	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/identity"
)

// releaseStepErr maps a provider error during release: an authorization
// failure routes through orphaned-registration cleanup into ReleaseFailed,
// anything else is retried.
func releaseStepErr(err error) (custodyEvent, error) {
	if xerrors.Is(err, identity.ErrUnauthorized) {
		return EventReleaseUnauthorized{Error: err.Error()}, nil
	}
	return nil, err
}

func (c *Controller) releaseEnterRegistration(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	reg, err := c.identity.EnterRegistrationMode(ctx, st.IdentityNumber)
	if err != nil {
		return releaseStepErr(err)
	}
	return EventReleaseRegistrationModeEntered{
		RegistrationID: reg.ID,
		ExpireAt:       reg.ExpireAt,
	}, nil
}

// releaseConfirmRegistration confirms the authn method the owner registered
// out-of-band. A rejection sends the owner back to waiting to retry until
// the registration window closes.
func (c *Controller) releaseConfirmRegistration(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	err := c.identity.ConfirmRegistration(ctx, st.IdentityNumber, st.Release.RegistrationID)
	if err != nil {
		if xerrors.Is(err, identity.ErrUnauthorized) {
			return EventReleaseUnauthorized{Error: err.Error()}, nil
		}
		return EventReleaseConfirmFailed{Error: err.Error()}, nil
	}
	return EventReleaseConfirmed{}, nil
}

func (c *Controller) releaseCheckOwnerAccess(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	ok, err := c.identity.CheckOwnerAccess(ctx, st.IdentityNumber)
	if err != nil {
		return releaseStepErr(err)
	}
	if !ok {
		// the registered method cannot actually reach the identity; park in
		// ReleaseFailed rather than deleting our only way in
		return EventReleaseUnauthorized{Error: "owner method cannot access the identity"}, nil
	}
	return EventOwnerAccessVerified{}, nil
}

// releaseDeleteHolderMethod removes the custodian's own authn method, the
// final irreversible step of release. Not finding the method means an
// earlier attempt already removed it.
func (c *Controller) releaseDeleteHolderMethod(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	pub, err := c.identity.HolderKey(ctx, st.IdentityNumber)
	if err != nil {
		return releaseStepErr(err)
	}

	info, err := c.identity.Info(ctx, st.IdentityNumber)
	if err != nil {
		return releaseStepErr(err)
	}

	for _, m := range info.AuthnMethods {
		if !bytes.Equal(m.PublicKey, pub) {
			continue
		}
		if err := c.identity.RemoveAuthnMethod(ctx, st.IdentityNumber, m.ID); err != nil {
			return releaseStepErr(err)
		}
		break
	}

	return EventHolderMethodDeleted{}, nil
}

func (c *Controller) releaseExitOrphanedRegistration(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	if err := c.identity.ExitRegistrationMode(ctx, st.IdentityNumber); err != nil &&
		!xerrors.Is(err, identity.ErrUnauthorized) {
		return nil, err
	}
	return EventOrphanedRegistrationExited{}, nil
}
