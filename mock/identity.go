// Package mock provides in-memory identity and ledger fakes for tests and
// for running the daemon without live collaborators.
package mock

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icpgeeks/iicustody/build"
	"github.com/icpgeeks/iicustody/identity"
)

// Identity is an in-memory identity.Provider.
type Identity struct {
	lk sync.Mutex

	// Controller is returned by ResolveController.
	Controller identity.Principal

	// AutoSign makes prepared delegations available immediately.
	AutoSign bool

	// OwnerAccess is returned by CheckOwnerAccess.
	OwnerAccess bool

	// SessionTTL and RegistrationTTL bound fresh sessions/registrations.
	SessionTTL      uint64
	RegistrationTTL uint64

	holderKeys map[uint64][]byte
	methods    map[uint64]map[string]identity.AuthnMethod
	creds      map[uint64]map[string]identity.Credential
	pending    map[uint64]*identity.Registration
	codes      map[string]string // registration id -> confirmation code

	prepared map[string]identity.Delegation // session key -> delegation
	signed   map[string]bool
}

var _ identity.Provider = (*Identity)(nil)

// NewIdentity returns a provider with one identity owned by controller,
// auto-signing delegations.
func NewIdentity(controller identity.Principal) *Identity {
	return &Identity{
		Controller:      controller,
		AutoSign:        true,
		OwnerAccess:     true,
		SessionTTL:      uint64(15 * time.Minute),
		RegistrationTTL: uint64(15 * time.Minute),

		holderKeys: map[uint64][]byte{},
		methods:    map[uint64]map[string]identity.AuthnMethod{},
		creds:      map[uint64]map[string]identity.Credential{},
		pending:    map[uint64]*identity.Registration{},
		codes:      map[string]string{},
		prepared:   map[string]identity.Delegation{},
		signed:     map[string]bool{},
	}
}

func (m *Identity) now() uint64 {
	return uint64(build.Clock.Now().UnixNano())
}

func (m *Identity) id() string {
	return uuid.NewString()
}

// AddAuthnMethod seeds a pre-existing method on the identity.
func (m *Identity) AddAuthnMethod(ident uint64, method identity.AuthnMethod) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.methods[ident] == nil {
		m.methods[ident] = map[string]identity.AuthnMethod{}
	}
	m.methods[ident][method.ID] = method
}

// AddCredential seeds a pre-existing external credential.
func (m *Identity) AddCredential(ident uint64, cred identity.Credential) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.creds[ident] == nil {
		m.creds[ident] = map[string]identity.Credential{}
	}
	m.creds[ident][cred.ID] = cred
}

func (m *Identity) HolderKey(_ context.Context, ident uint64) ([]byte, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if k, ok := m.holderKeys[ident]; ok {
		return k, nil
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("holder-%d", ident)))
	m.holderKeys[ident] = sum[:]
	return sum[:], nil
}

func (m *Identity) RegisterSession(_ context.Context, ident uint64, pubkey []byte) (identity.Session, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	rid := m.id()
	sum := sha256.Sum256([]byte(rid))
	code := fmt.Sprintf("%02x%02x%02x", sum[0], sum[1], sum[2])
	m.pending[ident] = &identity.Registration{ID: rid, ExpireAt: m.now() + m.SessionTTL}
	m.codes[rid] = code

	return identity.Session{
		RegistrationID:   rid,
		ConfirmationCode: code,
		ExpireAt:         m.now() + m.SessionTTL,
	}, nil
}

func (m *Identity) EnterRegistrationMode(_ context.Context, ident uint64) (identity.Registration, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	reg := identity.Registration{ID: m.id(), ExpireAt: m.now() + m.RegistrationTTL}
	m.pending[ident] = &reg
	return reg, nil
}

func (m *Identity) ExitRegistrationMode(_ context.Context, ident uint64) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	delete(m.pending, ident)
	return nil
}

func (m *Identity) ConfirmRegistration(_ context.Context, ident uint64, registrationID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	p := m.pending[ident]
	if p == nil || p.ID != registrationID {
		return identity.ErrRegistrationExpired
	}
	if p.ExpireAt <= m.now() {
		return identity.ErrRegistrationExpired
	}

	if m.methods[ident] == nil {
		m.methods[ident] = map[string]identity.AuthnMethod{}
	}
	// sessions registered by the custodian carry the holder key; plain
	// registration modes model the owner registering their own method
	pub := m.holderKeys[ident]
	if _, custodian := m.codes[registrationID]; !custodian {
		pub = []byte("owner-" + registrationID)
	}
	m.methods[ident][registrationID] = identity.AuthnMethod{
		ID:        registrationID,
		Kind:      identity.AuthnMethodWebAuthn,
		PublicKey: pub,
	}
	delete(m.pending, ident)
	return nil
}

func (m *Identity) Info(_ context.Context, ident uint64) (identity.Info, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	var out identity.Info
	for _, am := range m.methods[ident] {
		out.AuthnMethods = append(out.AuthnMethods, am)
	}
	for _, cr := range m.creds[ident] {
		out.Credentials = append(out.Credentials, cr)
	}
	if p := m.pending[ident]; p != nil {
		reg := *p
		out.Pending = &reg
	}
	return out, nil
}

func (m *Identity) RemoveAuthnMethod(_ context.Context, ident uint64, id string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	delete(m.methods[ident], id)
	return nil
}

func (m *Identity) RemoveCredential(_ context.Context, ident uint64, id string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	delete(m.creds[ident], id)
	return nil
}

func (m *Identity) ResolveController(_ context.Context, ident uint64) (identity.Principal, error) {
	return m.Controller, nil
}

func (m *Identity) PrepareDelegation(_ context.Context, ident uint64, sessionKey []byte, ttl uint64) (uint64, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	expireAt := m.now() + ttl
	m.prepared[string(sessionKey)] = identity.Delegation{
		SessionKey: sessionKey,
		ExpireAt:   expireAt,
		Signature:  []byte("mock-signature"),
	}
	if m.AutoSign {
		m.signed[string(sessionKey)] = true
	}
	return expireAt, nil
}

// SignPrepared marks every prepared delegation as signed; used by tests that
// exercise the polling path with AutoSign off.
func (m *Identity) SignPrepared() {
	m.lk.Lock()
	defer m.lk.Unlock()
	for k := range m.prepared {
		m.signed[k] = true
	}
}

func (m *Identity) GetDelegation(_ context.Context, ident uint64, sessionKey []byte, expireAt uint64) (identity.Delegation, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	del, ok := m.prepared[string(sessionKey)]
	if !ok || del.ExpireAt <= m.now() {
		return identity.Delegation{}, identity.ErrRegistrationExpired
	}
	if !m.signed[string(sessionKey)] {
		return identity.Delegation{}, identity.ErrNotReady
	}
	return del, nil
}

func (m *Identity) CheckOwnerAccess(_ context.Context, ident uint64) (bool, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.OwnerAccess, nil
}
