// Package ledger defines the asset-ledger contract consumed by the custody
// controller: account balances, transfers out of custodian-owned
// sub-accounts, pre-authorized spending allowances and staked-position
// management.
package ledger

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/icpgeeks/iicustody/identity"
)

// Account is a ledger account: an owner principal plus an optional 32-byte
// sub-account. An empty Owner denotes the custodian's own account.
type Account struct {
	Owner      identity.Principal
	Subaccount []byte
}

// Key returns a stable map key for the account.
func (a Account) Key() string {
	return string(a.Owner) + "/" + SubaccountKey(a.Subaccount)
}

// SubaccountKey returns a stable hex-ish map key for a sub-account. The
// default (nil or all-zero) sub-account maps to "default".
func SubaccountKey(sub []byte) string {
	if len(sub) == 0 {
		return "default"
	}
	allZero := true
	for _, b := range sub {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return "default"
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(sub)*2)
	for _, b := range sub {
		out = append(out, hexdigits[b>>4], hexdigits[b&0xf])
	}
	return string(out)
}

// TransitSubaccount derives the custodian-owned sub-account used to stage
// sale proceeds for the given identity.
func TransitSubaccount(identityNumber uint64) []byte {
	sub := make([]byte, 32)
	sub[0] = 0x73 // 's', sale transit namespace
	binary.BigEndian.PutUint64(sub[24:], identityNumber)
	return sub
}

// DerivedSubaccount derives the idx'th candidate sub-account audited during
// asset checks.
func DerivedSubaccount(identityNumber uint64, idx uint64) []byte {
	sub := make([]byte, 32)
	binary.BigEndian.PutUint64(sub[8:], identityNumber)
	binary.BigEndian.PutUint64(sub[24:], idx)
	return sub
}

// StakedPosition describes one staked position reachable from the identity.
type StakedPosition struct {
	ID         uint64
	Stake      uint64
	Maturity   uint64
	Controller identity.Principal
	Hotkeys    []identity.Principal
}

// Value is the position's total value used by the anti-leakage check.
func (p StakedPosition) Value() uint64 {
	v := p.Stake + p.Maturity
	if v < p.Stake { // overflow clamps
		return ^uint64(0)
	}
	return v
}

// Allowance is an outstanding pre-authorized spend from an account.
type Allowance struct {
	Spender identity.Principal
	Amount  uint64
	// ExpireAt is zero for allowances without expiration.
	ExpireAt uint64
}

var (
	// ErrInsufficientFunds is returned for transfers exceeding the available
	// balance net of the fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientAllowance is returned by TransferFrom when the approved
	// allowance does not cover amount plus fee.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrDelegationExpired is returned by delegated queries when the
	// presented delegation is no longer valid; the caller re-prepares it.
	ErrDelegationExpired = errors.New("delegation expired")
)

// Ledger is the asset ledger consumed by the custody controller.
type Ledger interface {
	// Balance returns the current balance of an account.
	Balance(ctx context.Context, acct Account) (uint64, error)

	// Transfer moves amount from the custodian-owned sub-account `from` to
	// `to`, paying `fee` from the source, tagged with memo. Returns the
	// ledger block index.
	Transfer(ctx context.Context, from []byte, to Account, amount, fee uint64, memo []byte) (uint64, error)

	// TransferFrom consumes a pre-authorized allowance to move amount from
	// `from` into `to`. Returns the ledger block index.
	TransferFrom(ctx context.Context, from, to Account, amount, fee uint64, memo []byte) (uint64, error)

	// OutstandingAllowance reports any pre-authorized spend approved from the
	// identity-owned account, or nil when the account is clean.
	OutstandingAllowance(ctx context.Context, acct Account) (*Allowance, error)

	// ListStakedPositions enumerates the ids of staked positions reachable
	// with the given delegation.
	ListStakedPositions(ctx context.Context, del identity.Delegation) ([]uint64, error)

	// StakedPositionInfo fetches details for up to len(ids) positions,
	// honoring the caller's paging. Partial results are valid.
	StakedPositionInfo(ctx context.Context, del identity.Delegation, ids []uint64) ([]StakedPosition, error)

	// RemoveStakedPositionHotkey removes the custodian hotkey from the
	// position. Removing a hotkey that is already gone is not an error.
	RemoveStakedPositionHotkey(ctx context.Context, del identity.Delegation, id uint64, hotkey identity.Principal) error

	// ListAccounts enumerates the identity's known ledger accounts.
	ListAccounts(ctx context.Context, del identity.Delegation) ([]Account, error)
}
