package node

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/ledger"
	"github.com/icpgeeks/iicustody/node/config"
)

// identityRPC binds identity.Provider over JSON-RPC.
type identityRPC struct {
	Internal struct {
		HolderKey             func(ctx context.Context, identity uint64) ([]byte, error)
		RegisterSession       func(ctx context.Context, identity uint64, pubkey []byte) (identity.Session, error)
		EnterRegistrationMode func(ctx context.Context, identity uint64) (identity.Registration, error)
		ExitRegistrationMode  func(ctx context.Context, identity uint64) error
		ConfirmRegistration   func(ctx context.Context, identity uint64, registrationID string) error
		Info                  func(ctx context.Context, identity uint64) (identity.Info, error)
		RemoveAuthnMethod     func(ctx context.Context, identity uint64, id string) error
		RemoveCredential      func(ctx context.Context, identity uint64, id string) error
		ResolveController     func(ctx context.Context, identity uint64) (identity.Principal, error)
		PrepareDelegation     func(ctx context.Context, identity uint64, sessionKey []byte, ttl uint64) (uint64, error)
		GetDelegation         func(ctx context.Context, identity uint64, sessionKey []byte, expireAt uint64) (identity.Delegation, error)
		CheckOwnerAccess      func(ctx context.Context, identity uint64) (bool, error)
	}
}

func (c *identityRPC) HolderKey(ctx context.Context, ident uint64) ([]byte, error) {
	return c.Internal.HolderKey(ctx, ident)
}
func (c *identityRPC) RegisterSession(ctx context.Context, ident uint64, pubkey []byte) (identity.Session, error) {
	return c.Internal.RegisterSession(ctx, ident, pubkey)
}
func (c *identityRPC) EnterRegistrationMode(ctx context.Context, ident uint64) (identity.Registration, error) {
	return c.Internal.EnterRegistrationMode(ctx, ident)
}
func (c *identityRPC) ExitRegistrationMode(ctx context.Context, ident uint64) error {
	return c.Internal.ExitRegistrationMode(ctx, ident)
}
func (c *identityRPC) ConfirmRegistration(ctx context.Context, ident uint64, registrationID string) error {
	return c.Internal.ConfirmRegistration(ctx, ident, registrationID)
}
func (c *identityRPC) Info(ctx context.Context, ident uint64) (identity.Info, error) {
	return c.Internal.Info(ctx, ident)
}
func (c *identityRPC) RemoveAuthnMethod(ctx context.Context, ident uint64, id string) error {
	return c.Internal.RemoveAuthnMethod(ctx, ident, id)
}
func (c *identityRPC) RemoveCredential(ctx context.Context, ident uint64, id string) error {
	return c.Internal.RemoveCredential(ctx, ident, id)
}
func (c *identityRPC) ResolveController(ctx context.Context, ident uint64) (identity.Principal, error) {
	return c.Internal.ResolveController(ctx, ident)
}
func (c *identityRPC) PrepareDelegation(ctx context.Context, ident uint64, sessionKey []byte, ttl uint64) (uint64, error) {
	return c.Internal.PrepareDelegation(ctx, ident, sessionKey, ttl)
}
func (c *identityRPC) GetDelegation(ctx context.Context, ident uint64, sessionKey []byte, expireAt uint64) (identity.Delegation, error) {
	return c.Internal.GetDelegation(ctx, ident, sessionKey, expireAt)
}
func (c *identityRPC) CheckOwnerAccess(ctx context.Context, ident uint64) (bool, error) {
	return c.Internal.CheckOwnerAccess(ctx, ident)
}

var _ identity.Provider = (*identityRPC)(nil)

// ledgerRPC binds ledger.Ledger over JSON-RPC.
type ledgerRPC struct {
	Internal struct {
		Balance                   func(ctx context.Context, acct ledger.Account) (uint64, error)
		Transfer                  func(ctx context.Context, from []byte, to ledger.Account, amount, fee uint64, memo []byte) (uint64, error)
		TransferFrom              func(ctx context.Context, from, to ledger.Account, amount, fee uint64, memo []byte) (uint64, error)
		OutstandingAllowance      func(ctx context.Context, acct ledger.Account) (*ledger.Allowance, error)
		ListStakedPositions       func(ctx context.Context, del identity.Delegation) ([]uint64, error)
		StakedPositionInfo        func(ctx context.Context, del identity.Delegation, ids []uint64) ([]ledger.StakedPosition, error)
		RemoveStakedPositionHotkey func(ctx context.Context, del identity.Delegation, id uint64, hotkey identity.Principal) error
		ListAccounts              func(ctx context.Context, del identity.Delegation) ([]ledger.Account, error)
	}
}

func (c *ledgerRPC) Balance(ctx context.Context, acct ledger.Account) (uint64, error) {
	return c.Internal.Balance(ctx, acct)
}
func (c *ledgerRPC) Transfer(ctx context.Context, from []byte, to ledger.Account, amount, fee uint64, memo []byte) (uint64, error) {
	return c.Internal.Transfer(ctx, from, to, amount, fee, memo)
}
func (c *ledgerRPC) TransferFrom(ctx context.Context, from, to ledger.Account, amount, fee uint64, memo []byte) (uint64, error) {
	return c.Internal.TransferFrom(ctx, from, to, amount, fee, memo)
}
func (c *ledgerRPC) OutstandingAllowance(ctx context.Context, acct ledger.Account) (*ledger.Allowance, error) {
	return c.Internal.OutstandingAllowance(ctx, acct)
}
func (c *ledgerRPC) ListStakedPositions(ctx context.Context, del identity.Delegation) ([]uint64, error) {
	return c.Internal.ListStakedPositions(ctx, del)
}
func (c *ledgerRPC) StakedPositionInfo(ctx context.Context, del identity.Delegation, ids []uint64) ([]ledger.StakedPosition, error) {
	return c.Internal.StakedPositionInfo(ctx, del, ids)
}
func (c *ledgerRPC) RemoveStakedPositionHotkey(ctx context.Context, del identity.Delegation, id uint64, hotkey identity.Principal) error {
	return c.Internal.RemoveStakedPositionHotkey(ctx, del, id, hotkey)
}
func (c *ledgerRPC) ListAccounts(ctx context.Context, del identity.Delegation) ([]ledger.Account, error) {
	return c.Internal.ListAccounts(ctx, del)
}

var _ ledger.Ledger = (*ledgerRPC)(nil)

func rpcHeaders(ep config.Endpoint) http.Header {
	headers := http.Header{}
	if ep.Token != "" {
		headers.Add("Authorization", "Bearer "+ep.Token)
	}
	return headers
}

// NewIdentityClient connects to the external identity provider service.
func NewIdentityClient(ctx context.Context, ep config.Endpoint) (identity.Provider, jsonrpc.ClientCloser, error) {
	var res identityRPC
	closer, err := jsonrpc.NewMergeClient(ctx, ep.URL, "Identity",
		[]interface{}{&res.Internal}, rpcHeaders(ep))
	return &res, closer, err
}

// NewLedgerClient connects to the external ledger service.
func NewLedgerClient(ctx context.Context, ep config.Endpoint) (ledger.Ledger, jsonrpc.ClientCloser, error) {
	var res ledgerRPC
	closer, err := jsonrpc.NewMergeClient(ctx, ep.URL, "Ledger",
		[]interface{}{&res.Internal}, rpcHeaders(ep))
	return &res, closer, err
}
