package mock

import (
	"context"
	"sync"

	"github.com/icpgeeks/iicustody/build"
	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/ledger"
)

// Ledger is an in-memory ledger.Ledger.
type Ledger struct {
	lk sync.Mutex

	balances   map[string]uint64           // Account.Key() -> balance
	allowances map[string]ledger.Allowance // Account.Key() -> allowance
	positions  map[uint64]ledger.StakedPosition
	accounts   []ledger.Account

	blocks uint64
}

var _ ledger.Ledger = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		balances:   map[string]uint64{},
		allowances: map[string]ledger.Allowance{},
		positions:  map[uint64]ledger.StakedPosition{},
	}
}

func (m *Ledger) now() uint64 {
	return uint64(build.Clock.Now().UnixNano())
}

// SetBalance seeds an account balance.
func (m *Ledger) SetBalance(acct ledger.Account, amount uint64) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.balances[acct.Key()] = amount
}

// GetBalance reads an account balance directly.
func (m *Ledger) GetBalance(acct ledger.Account) uint64 {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.balances[acct.Key()]
}

// Approve seeds a pre-authorized allowance from acct.
func (m *Ledger) Approve(acct ledger.Account, a ledger.Allowance) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.allowances[acct.Key()] = a
}

// AddPosition seeds a staked position reachable from the identity.
func (m *Ledger) AddPosition(p ledger.StakedPosition) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.positions[p.ID] = p
}

// AddAccount seeds an enumerable identity account.
func (m *Ledger) AddAccount(acct ledger.Account) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.accounts = append(m.accounts, acct)
}

func (m *Ledger) Balance(_ context.Context, acct ledger.Account) (uint64, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.balances[acct.Key()], nil
}

func (m *Ledger) Transfer(_ context.Context, from []byte, to ledger.Account, amount, fee uint64, memo []byte) (uint64, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	src := ledger.Account{Subaccount: from}.Key()
	if m.balances[src] < amount+fee {
		return 0, ledger.ErrInsufficientFunds
	}
	m.balances[src] -= amount + fee
	m.balances[to.Key()] += amount

	m.blocks++
	return m.blocks, nil
}

func (m *Ledger) TransferFrom(_ context.Context, from, to ledger.Account, amount, fee uint64, memo []byte) (uint64, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	key := from.Key()
	allowance := m.allowances[key]
	if allowance.Amount < amount+fee {
		return 0, ledger.ErrInsufficientAllowance
	}
	if m.balances[key] < amount+fee {
		return 0, ledger.ErrInsufficientFunds
	}

	allowance.Amount -= amount + fee
	m.allowances[key] = allowance
	m.balances[key] -= amount + fee
	m.balances[to.Key()] += amount

	m.blocks++
	return m.blocks, nil
}

func (m *Ledger) OutstandingAllowance(_ context.Context, acct ledger.Account) (*ledger.Allowance, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	a, ok := m.allowances[acct.Key()]
	if !ok || a.Amount == 0 {
		return nil, nil
	}
	out := a
	return &out, nil
}

func (m *Ledger) checkDelegation(del identity.Delegation) error {
	if del.Expired(m.now()) {
		return ledger.ErrDelegationExpired
	}
	return nil
}

func (m *Ledger) ListStakedPositions(_ context.Context, del identity.Delegation) ([]uint64, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := m.checkDelegation(del); err != nil {
		return nil, err
	}
	var ids []uint64
	for id := range m.positions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Ledger) StakedPositionInfo(_ context.Context, del identity.Delegation, ids []uint64) ([]ledger.StakedPosition, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := m.checkDelegation(del); err != nil {
		return nil, err
	}
	var out []ledger.StakedPosition
	for _, id := range ids {
		if p, ok := m.positions[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Ledger) RemoveStakedPositionHotkey(_ context.Context, del identity.Delegation, id uint64, hotkey identity.Principal) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := m.checkDelegation(del); err != nil {
		return err
	}
	p, ok := m.positions[id]
	if !ok {
		return nil
	}
	keep := p.Hotkeys[:0]
	for _, hk := range p.Hotkeys {
		if hk != hotkey {
			keep = append(keep, hk)
		}
	}
	p.Hotkeys = keep
	m.positions[id] = p
	return nil
}

func (m *Ledger) ListAccounts(_ context.Context, del identity.Delegation) ([]ledger.Account, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := m.checkDelegation(del); err != nil {
		return nil, err
	}
	out := make([]ledger.Account, len(m.accounts))
	copy(out, m.accounts)
	return out, nil
}
