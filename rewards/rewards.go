// Package rewards implements the sale-price split between the seller and the
// reward legs of a completed sale: referral, developer and hub, expressed as
// basis points of the sale price.
//
// All arithmetic is unsigned and saturating; a split can never underflow, and
// rounding remainders always flow to the seller.
package rewards

import "math/bits"

// BasisPointDivisor is the denominator of all basis-point proportions.
const BasisPointDivisor = 10_000

// Split is a basis-point allocation of a sale price. The three proportions
// must sum to at most BasisPointDivisor.
type Split struct {
	ReferralBp  uint64
	DeveloperBp uint64
	HubBp       uint64
}

// Valid reports whether the proportions sum to at most 10_000.
func (s Split) Valid() bool {
	return s.ReferralBp+s.DeveloperBp+s.HubBp <= BasisPointDivisor
}

// SubSat returns a-b, saturating at zero.
func SubSat(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// RewardAmount is the nominal amount of a single reward leg: price*bp/10000,
// truncating. The intermediate product is taken in 128 bits so large prices
// cannot overflow; bp is capped at the divisor so the quotient always fits.
func RewardAmount(price, bp uint64) uint64 {
	if bp > BasisPointDivisor {
		bp = BasisPointDivisor
	}
	hi, lo := bits.Mul64(price, bp)
	q, _ := bits.Div64(hi, lo, BasisPointDivisor)
	return q
}

// SellerAmount is the seller's nominal share of the sale price after all
// reward legs: price*(10000-referral-developer-hub)/10000, truncating.
func SellerAmount(price uint64, s Split) uint64 {
	rem := SubSat(BasisPointDivisor, s.ReferralBp+s.DeveloperBp+s.HubBp)
	return RewardAmount(price, rem)
}

// LegAuthorized reports whether a reward leg of `target` may be paid out of
// `balance` on the transit account. The seller's nominal amount, the leg's
// own transfer fee and the final seller transfer fee are reserved first; a
// leg that does not fit is skipped, not partially paid.
func LegAuthorized(balance, sellerAmount, fee, target uint64) bool {
	reserved := sellerAmount + 2*fee
	if reserved < sellerAmount { // overflow means nothing fits
		return false
	}
	return SubSat(balance, reserved) >= target
}

// SellerPayout is the amount actually transferred to the seller at the end of
// the accept pipeline: whatever remains on the transit account above one
// transfer fee. Rounding remainders and skipped reward legs flow here.
func SellerPayout(balance, fee uint64) uint64 {
	return SubSat(balance, fee)
}
