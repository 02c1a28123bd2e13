package custody

import (
	"context"
	"crypto/rand"

	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/ledger"
)

// delegationErr maps a lapsed delegation during a fetch step to the restart
// of the delegation sub-machine; anything else is retried.
func delegationErr(err error) (custodyEvent, error) {
	if xerrors.Is(err, ledger.ErrDelegationExpired) || xerrors.Is(err, identity.ErrRegistrationExpired) {
		return EventDelegationExpired{}, nil
	}
	return nil, err
}

func (c *Controller) fetchPrepareDelegation(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	sessionKey := make([]byte, 32)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, xerrors.Errorf("generating session key: %w", err)
	}

	expireAt, err := c.identity.PrepareDelegation(ctx, st.IdentityNumber, sessionKey, c.cfg.DelegationTTL)
	if err != nil {
		return nil, err
	}
	return EventDelegationPrepared{SessionKey: sessionKey, ExpireAt: expireAt}, nil
}

func (c *Controller) fetchPollDelegation(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	f := st.Holding.Fetch
	del, err := c.identity.GetDelegation(ctx, st.IdentityNumber, f.SessionKey, f.DelegationExpireAt)
	if err != nil {
		if xerrors.Is(err, identity.ErrNotReady) {
			return nil, nil // keep polling
		}
		return delegationErr(err)
	}
	return EventDelegationSigned{Delegation: del}, nil
}

func (c *Controller) fetchListPositions(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	ids, err := c.ledger.ListStakedPositions(ctx, *st.Holding.Fetch.Delegation)
	if err != nil {
		return delegationErr(err)
	}
	return EventPositionsListed{IDs: ids}, nil
}

// fetchPositionInfoPage fetches details for the next page of positions not
// yet in the snapshot. Partial pages are merged as they come, so retries
// never refetch what already landed.
func (c *Controller) fetchPositionInfoPage(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	f := st.Holding.Fetch

	var missing []uint64
	for _, id := range f.PositionIDs {
		if _, ok := st.FetchingAssets.Positions[positionKey(id)]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return EventPositionInfoComplete{}, nil
	}

	page := missing
	if ps := int(f.PageSize); ps > 0 && len(page) > ps {
		page = page[:ps]
	}

	infos, err := c.ledger.StakedPositionInfo(ctx, *f.Delegation, page)
	if err != nil {
		return delegationErr(err)
	}
	if len(infos) == 0 {
		return nil, xerrors.Errorf("empty staked-position page for %d ids", len(page))
	}
	return EventPositionInfoFetched{Positions: infos}, nil
}

// fetchRemoveHotkey strips one foreign hotkey per pass until no position has
// any left.
func (c *Controller) fetchRemoveHotkey(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	f := st.Holding.Fetch

	for _, id := range f.PositionIDs {
		p, ok := st.FetchingAssets.Positions[positionKey(id)]
		if !ok || len(p.Hotkeys) == 0 {
			continue
		}
		hk := p.Hotkeys[0]
		if err := c.ledger.RemoveStakedPositionHotkey(ctx, *f.Delegation, p.ID, hk); err != nil {
			return delegationErr(err)
		}
		return EventPositionHotkeyRemoved{ID: p.ID, Hotkey: hk}, nil
	}

	return EventHotkeysRemoved{}, nil
}

func (c *Controller) fetchListAccounts(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	accts, err := c.ledger.ListAccounts(ctx, *st.Holding.Fetch.Delegation)
	if err != nil {
		return delegationErr(err)
	}
	return EventAccountsListed{Accounts: accts}, nil
}

// fetchNextBalance reads one account balance per pass until the snapshot
// covers every enumerated account.
func (c *Controller) fetchNextBalance(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	for _, acct := range st.Holding.Fetch.Accounts {
		key := acct.Key()
		if _, ok := st.FetchingAssets.Accounts[key]; ok {
			continue
		}
		bal, err := c.ledger.Balance(ctx, acct)
		if err != nil {
			return nil, err
		}
		return EventBalanceFetched{Key: key, Balance: bal}, nil
	}

	return EventFetchFinished{}, nil
}
