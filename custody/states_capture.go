package custody

import (
	"bytes"
	"context"

	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/identity"
)

// captureStepErr maps a provider error during capture: an authorization
// failure parks capture in CaptureFailed, anything else is retried.
func captureStepErr(err error) (custodyEvent, error) {
	if xerrors.Is(err, identity.ErrUnauthorized) {
		return EventCaptureFailed{Failure: CaptureProviderError, Error: err.Error()}, nil
	}
	return nil, err
}

func (c *Controller) captureCreateHolderKey(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	pub, err := c.identity.HolderKey(ctx, st.IdentityNumber)
	if err != nil {
		return captureStepErr(err)
	}
	return EventHolderKeyCreated{Pub: pub}, nil
}

func (c *Controller) captureRegisterSession(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	sess, err := c.identity.RegisterSession(ctx, st.IdentityNumber, st.Capture.HolderKey)
	if err != nil {
		return captureStepErr(err)
	}
	return EventSessionRegistered{
		RegistrationID:   sess.RegistrationID,
		ConfirmationCode: sess.ConfirmationCode,
		ExpireAt:         sess.ExpireAt,
	}, nil
}

func (c *Controller) captureExitRegistrationMode(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	if err := c.identity.ExitRegistrationMode(ctx, st.IdentityNumber); err != nil {
		return captureStepErr(err)
	}
	return EventRegistrationModeExited{}, nil
}

func (c *Controller) captureResolveController(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	controller, err := c.identity.ResolveController(ctx, st.IdentityNumber)
	if err != nil {
		return captureStepErr(err)
	}
	return EventControllerResolved{Controller: controller}, nil
}

// captureCleanup removes one pre-existing attachment per pass until the
// custodian's method is the only thing left on the identity. Working off a
// fresh Info read each pass keeps the step idempotent: a removal whose
// result was lost simply does not come back.
func (c *Controller) captureCleanup(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	info, err := c.identity.Info(ctx, st.IdentityNumber)
	if err != nil {
		return captureStepErr(err)
	}

	for _, m := range info.AuthnMethods {
		if bytes.Equal(m.PublicKey, st.Capture.HolderKey) {
			continue
		}
		if err := c.identity.RemoveAuthnMethod(ctx, st.IdentityNumber, m.ID); err != nil {
			return captureStepErr(err)
		}
		return EventIdentityCredentialRemoved{What: "authn-method", ID: m.ID}, nil
	}

	if info.Pending != nil {
		// a dangling registration would let a third party attach a method
		// later; exiting registration mode discards it
		if err := c.identity.ExitRegistrationMode(ctx, st.IdentityNumber); err != nil {
			return captureStepErr(err)
		}
		return EventIdentityCredentialRemoved{What: "pending-registration", ID: info.Pending.ID}, nil
	}

	for _, cred := range info.Credentials {
		if err := c.identity.RemoveCredential(ctx, st.IdentityNumber, cred.ID); err != nil {
			return captureStepErr(err)
		}
		return EventIdentityCredentialRemoved{What: "credential", ID: cred.ID}, nil
	}

	return EventIdentityCleaned{}, nil
}
