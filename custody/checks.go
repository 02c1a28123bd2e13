package custody

import (
	"golang.org/x/xerrors"
)

// compareSnapshots verifies that no value the prior validated snapshot knew
// about has gone missing from the fresh one. Balances and position values may
// only grow while in custody; a vanished account or position, or any
// decrease, is a leakage violation. A nil prior snapshot (first intake)
// passes trivially.
func compareSnapshots(prior, fresh *AssetsSnapshot) error {
	if prior == nil {
		return nil
	}

	for key, prev := range prior.Positions {
		cur, ok := fresh.Positions[key]
		if !ok {
			return xerrors.Errorf("staked position %s missing from fresh snapshot", key)
		}
		if cur.Value() < prev.Value() {
			return xerrors.Errorf("staked position %s value dropped from %d to %d",
				key, prev.Value(), cur.Value())
		}
	}

	for key, prev := range prior.Accounts {
		cur, ok := fresh.Accounts[key]
		if !ok {
			return xerrors.Errorf("account %s missing from fresh snapshot", key)
		}
		if cur < prev {
			return xerrors.Errorf("account %s balance dropped from %d to %d", key, prev, cur)
		}
	}

	return nil
}
