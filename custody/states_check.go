package custody

import (
	"context"

	"github.com/icpgeeks/iicustody/ledger"
)

// checkStart enumerates the sub-accounts to audit for outstanding
// allowances: the default account, every sub-account the fetch saw, and the
// configured range of derived candidates a previous owner could have parked
// an approval on.
func (c *Controller) checkStart(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	seen := map[string]bool{}
	var candidates [][]byte

	add := func(sub []byte) {
		key := ledger.SubaccountKey(sub)
		if seen[key] {
			return
		}
		seen[key] = true
		candidates = append(candidates, sub)
	}

	add(nil) // default account
	if st.Assets != nil {
		for _, sub := range st.Assets.Subaccounts {
			add(sub)
		}
	}
	if st.FetchingAssets != nil {
		for _, sub := range st.FetchingAssets.Subaccounts {
			add(sub)
		}
	}
	for i := uint64(0); i < c.cfg.DerivedAccounts; i++ {
		add(ledger.DerivedSubaccount(st.IdentityNumber, i))
	}

	return EventAuditAccountsListed{Candidates: candidates}, nil
}

// checkNextAccount audits one candidate sub-account per pass. Any live
// allowance approved to a third party means a previous owner retained spend
// access, which makes the identity unsellable.
func (c *Controller) checkNextAccount(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	chk := st.Holding.Check
	if int(chk.Next) >= len(chk.Candidates) {
		return EventCheckFinished{}, nil
	}

	sub := chk.Candidates[chk.Next]
	acct := ledger.Account{Owner: st.Controller, Subaccount: sub}

	allowance, err := c.ledger.OutstandingAllowance(ctx, acct)
	if err != nil {
		return nil, err
	}

	if allowance != nil && allowance.Amount > 0 &&
		(allowance.ExpireAt == 0 || allowance.ExpireAt > c.now()) {
		return EventApprovalFound{Key: ledger.SubaccountKey(sub), Spender: allowance.Spender}, nil
	}

	return EventApprovalChecked{Key: ledger.SubaccountKey(sub)}, nil
}
