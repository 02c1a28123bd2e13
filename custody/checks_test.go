package custody

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/icpgeeks/iicustody/ledger"
)

func snapshot(positions map[string]ledger.StakedPosition, accounts map[string]uint64) *AssetsSnapshot {
	return &AssetsSnapshot{Positions: positions, Accounts: accounts}
}

func TestCompareSnapshots(t *testing.T) {
	prior := snapshot(
		map[string]ledger.StakedPosition{
			"1": {ID: 1, Stake: 100, Maturity: 10},
		},
		map[string]uint64{"ctrl/default": 500},
	)

	// nil prior (first intake) always passes
	require.NoError(t, compareSnapshots(nil, snapshot(nil, nil)))

	// identical and growing values pass
	require.NoError(t, compareSnapshots(prior, prior))
	require.NoError(t, compareSnapshots(prior, snapshot(
		map[string]ledger.StakedPosition{"1": {ID: 1, Stake: 100, Maturity: 20}},
		map[string]uint64{"ctrl/default": 600},
	)))

	// maturity moving into stake is fine as long as total value holds
	require.NoError(t, compareSnapshots(prior, snapshot(
		map[string]ledger.StakedPosition{"1": {ID: 1, Stake: 110}},
		map[string]uint64{"ctrl/default": 500},
	)))

	// a vanished position is leakage
	require.Error(t, compareSnapshots(prior, snapshot(
		nil,
		map[string]uint64{"ctrl/default": 500},
	)))

	// a shrunken position value is leakage
	require.Error(t, compareSnapshots(prior, snapshot(
		map[string]ledger.StakedPosition{"1": {ID: 1, Stake: 100}},
		map[string]uint64{"ctrl/default": 500},
	)))

	// a vanished account is leakage
	require.Error(t, compareSnapshots(prior, snapshot(
		map[string]ledger.StakedPosition{"1": {ID: 1, Stake: 100, Maturity: 10}},
		nil,
	)))

	// a shrunken balance is leakage
	require.Error(t, compareSnapshots(prior, snapshot(
		map[string]ledger.StakedPosition{"1": {ID: 1, Stake: 100, Maturity: 10}},
		map[string]uint64{"ctrl/default": 499},
	)))

	// accounts and positions unknown to the prior snapshot are ignored
	require.NoError(t, compareSnapshots(prior, snapshot(
		map[string]ledger.StakedPosition{
			"1": {ID: 1, Stake: 100, Maturity: 10},
			"2": {ID: 2, Stake: 5},
		},
		map[string]uint64{"ctrl/default": 500, "ctrl/extra": 1},
	)))
}

func TestPositionValueOverflowClamps(t *testing.T) {
	p := ledger.StakedPosition{Stake: ^uint64(0), Maturity: 10}
	require.Equal(t, ^uint64(0), p.Value())
}
