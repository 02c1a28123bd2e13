// Package identity defines the contract the custody controller needs from the
// external identity provider. The provider owns authentication methods,
// registration sessions and delegation issuance for a numbered identity; the
// controller only ever talks to it through the Provider interface.
package identity

import (
	"context"
	"errors"
)

// Principal is a textual principal identifier of a party known to the
// identity provider and the ledger.
type Principal string

func (p Principal) Empty() bool { return p == "" }

// AuthnMethodKind discriminates how an authentication method authenticates.
type AuthnMethodKind string

const (
	AuthnMethodWebAuthn  AuthnMethodKind = "webauthn"
	AuthnMethodGeneric   AuthnMethodKind = "generic"
	AuthnMethodRecovery  AuthnMethodKind = "recovery"
	AuthnMethodDelegated AuthnMethodKind = "delegated"
)

// AuthnMethod is one credential registered on the identity.
type AuthnMethod struct {
	ID        string
	Kind      AuthnMethodKind
	PublicKey []byte
}

// Credential is an externally issued (third-party) credential attached to the
// identity.
type Credential struct {
	ID     string
	Issuer string
}

// Registration is a pending authn-method registration on the identity.
type Registration struct {
	ID       string
	ExpireAt uint64 // unix nanos
}

// Info is a point-in-time snapshot of everything attached to the identity.
type Info struct {
	AuthnMethods []AuthnMethod
	Pending      *Registration
	Credentials  []Credential
}

// Session is a freshly registered authn-method session awaiting out-of-band
// confirmation by the identity owner.
type Session struct {
	RegistrationID   string
	ConfirmationCode string
	ExpireAt         uint64 // unix nanos
}

// Delegation is a signed, time-boxed delegation from the identity to a
// session key held by the custodian.
type Delegation struct {
	SessionKey []byte
	ExpireAt   uint64 // unix nanos
	Signature  []byte
}

// Expired reports whether the delegation is unusable at `now` (unix nanos).
func (d *Delegation) Expired(now uint64) bool {
	return d == nil || d.ExpireAt <= now
}

var (
	// ErrNotReady is returned by GetDelegation while the provider has not yet
	// signed the prepared delegation. Callers poll.
	ErrNotReady = errors.New("delegation not ready")

	// ErrUnauthorized is returned when the custodian's method no longer has
	// access to the identity.
	ErrUnauthorized = errors.New("unauthorized for identity")

	// ErrRegistrationExpired is returned when a registration mode or session
	// referenced by the call has already expired on the provider side.
	ErrRegistrationExpired = errors.New("registration expired")
)

// Provider is the identity provider consumed by the custody controller.
// Every call is idempotent-by-re-query: when a mutation's result cannot be
// confirmed, the controller re-reads Info rather than assuming exactly-once
// delivery.
type Provider interface {
	// HolderKey returns the custodian's signing key for this identity,
	// creating it on first use.
	HolderKey(ctx context.Context, identity uint64) (pub []byte, err error)

	// RegisterSession registers the custodian's authn method on the identity
	// and returns the confirmation code the owner must enter out-of-band,
	// together with the session expiration.
	RegisterSession(ctx context.Context, identity uint64, pubkey []byte) (Session, error)

	// EnterRegistrationMode puts the identity into authn-method registration
	// mode; used during release so the owner can register a fresh method.
	EnterRegistrationMode(ctx context.Context, identity uint64) (Registration, error)

	// ExitRegistrationMode leaves registration mode. Exiting a mode that is
	// not active is not an error.
	ExitRegistrationMode(ctx context.Context, identity uint64) error

	// ConfirmRegistration confirms a pending registration by id.
	ConfirmRegistration(ctx context.Context, identity uint64, registrationID string) error

	// Info enumerates authn methods, the pending registration and external
	// credentials currently attached to the identity.
	Info(ctx context.Context, identity uint64) (Info, error)

	// RemoveAuthnMethod removes one authn method by id. Removing a method
	// that is already gone is not an error.
	RemoveAuthnMethod(ctx context.Context, identity uint64, id string) error

	// RemoveCredential removes one external credential by id.
	RemoveCredential(ctx context.Context, identity uint64, id string) error

	// ResolveController resolves the identity's external contract/controller
	// principal.
	ResolveController(ctx context.Context, identity uint64) (Principal, error)

	// PrepareDelegation asks the provider to prepare a delegation for the
	// session key, valid for ttl nanoseconds. The signed delegation is
	// retrieved with GetDelegation.
	PrepareDelegation(ctx context.Context, identity uint64, sessionKey []byte, ttl uint64) (expireAt uint64, err error)

	// GetDelegation retrieves the signed delegation prepared earlier, or
	// ErrNotReady while the signature is still being produced.
	GetDelegation(ctx context.Context, identity uint64, sessionKey []byte, expireAt uint64) (Delegation, error)

	// CheckOwnerAccess verifies that the owner's freshly registered authn
	// method can access the identity (used before the custodian deletes its
	// own method during release).
	CheckOwnerAccess(ctx context.Context, identity uint64) (bool, error)
}
