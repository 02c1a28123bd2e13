package rewards

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSellerAmount(t *testing.T) {
	s := Split{ReferralBp: 100, DeveloperBp: 200, HubBp: 300}
	require.True(t, s.Valid())

	// 10000-600 = 9400 bp of the price
	require.Equal(t, uint64(9400), SellerAmount(10_000, s))
	require.Equal(t, uint64(0), SellerAmount(0, s))

	// truncating division
	require.Equal(t, uint64(94), SellerAmount(101, s)) // 101*9400/10000 = 94.94
}

func TestRewardAmountLargePrice(t *testing.T) {
	// price*bp overflows 64 bits; the 128-bit path must stay exact.
	price := uint64(1) << 62
	require.Equal(t, price/100, RewardAmount(price, 100))
}

func TestSplitValidation(t *testing.T) {
	require.True(t, Split{}.Valid())
	require.True(t, Split{ReferralBp: 10_000}.Valid())
	require.False(t, Split{ReferralBp: 9_000, DeveloperBp: 2_000}.Valid())
}

func TestLegAuthorized(t *testing.T) {
	const fee = 10

	// Exactly enough: balance - seller - 2*fee == target.
	require.True(t, LegAuthorized(1000, 800, fee, 180))
	require.False(t, LegAuthorized(1000, 800, fee, 181))

	// Seller reservation always wins.
	require.False(t, LegAuthorized(100, 100, fee, 1))
	require.False(t, LegAuthorized(0, 0, fee, 1))

	// Overflowing reservation can never authorize.
	require.False(t, LegAuthorized(^uint64(0), ^uint64(0), fee, 0))
}

func TestSubSat(t *testing.T) {
	require.Equal(t, uint64(0), SubSat(1, 2))
	require.Equal(t, uint64(0), SubSat(5, 5))
	require.Equal(t, uint64(3), SubSat(5, 2))
}

// Reward conservation: for sale_price >= 4*fee and valid splits,
// seller + referral + developer + hub + 4*fee <= price, and when every leg is
// authorized the seller's actual payout equals price - rewards - 4*fee.
func TestRewardConservation(t *testing.T) {
	const fee = uint64(10)

	prices := []uint64{4 * fee, 100, 101, 9999, 1_000_000, 123_456_789, 1 << 40}
	splits := []Split{
		{},
		{ReferralBp: 1},
		{ReferralBp: 100, DeveloperBp: 200, HubBp: 300},
		{ReferralBp: 3333, DeveloperBp: 3333, HubBp: 3334},
		{ReferralBp: 9999, DeveloperBp: 1},
	}

	for _, price := range prices {
		for _, s := range splits {
			seller := SellerAmount(price, s)
			ref := RewardAmount(price, s.ReferralBp)
			dev := RewardAmount(price, s.DeveloperBp)
			hub := RewardAmount(price, s.HubBp)

			require.LessOrEqual(t, seller+ref+dev+hub+4*fee, price+4*fee,
				"value created out of nothing: price=%d split=%+v", price, s)

			// Simulate the transit account: price arrives, each authorized
			// leg pays target+fee, seller sweeps the remainder minus one fee.
			balance := price
			paid := uint64(0)
			fees := uint64(0)
			for _, target := range []uint64{ref, dev, hub} {
				if LegAuthorized(balance, seller, fee, target) {
					balance = SubSat(balance, target+fee)
					paid += target
					fees += fee
				}
			}
			payout := SellerPayout(balance, fee)
			if payout > 0 {
				fees += fee
			}

			require.LessOrEqual(t, payout+paid+fees, price,
				"distribution exceeds price: price=%d split=%+v", price, s)

			if price >= seller+ref+dev+hub+4*fee {
				// every leg authorized: exact conservation
				require.Equal(t, price-ref-dev-hub-4*fee, payout,
					"price=%d split=%+v", price, s)
			}
		}
	}
}
