package lending

import "math/big"

// InterestModel is the kinked rate curve the venue applies to each market on
// every accrual. Rates are annual fractions; accrue spreads them per block.
//
// Most of a market's debt is the strategy's own looped borrow, so the
// utilisation the curve sees rises and falls with the strategy's leverage.
type InterestModel struct {
	// BaseRate applies at zero utilisation.
	BaseRate *big.Rat
	// Slope1 is added per unit of utilisation up to Kink.
	Slope1 *big.Rat
	// Slope2 is added per unit of utilisation beyond Kink.
	Slope2 *big.Rat
	// Kink is the utilisation where Slope2 takes over. Zero disables it.
	Kink *big.Rat
}

// NewInterestModelBps builds a curve from basis-point inputs as they appear
// in the venue config.
func NewInterestModelBps(baseRate, slope1, slope2, kink uint64) *InterestModel {
	return &InterestModel{
		BaseRate: bpsRat(baseRate),
		Slope1:   bpsRat(slope1),
		Slope2:   bpsRat(slope2),
		Kink:     bpsRat(kink),
	}
}

// DefaultInterestModel borrows at 2% when idle, 14% at the 80% kink and 26%
// fully utilised.
var DefaultInterestModel = NewInterestModelBps(200, 1500, 6000, 8000)

func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: ratOrZero(m.BaseRate),
		Slope1:   ratOrZero(m.Slope1),
		Slope2:   ratOrZero(m.Slope2),
		Kink:     ratOrZero(m.Kink),
	}
}

// Utilisation is borrowed/supplied, or zero for an empty market.
func (m *InterestModel) Utilisation(borrowed, supplied *big.Int) *big.Rat {
	if borrowed == nil || borrowed.Sign() == 0 || supplied == nil || supplied.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(borrowed, supplied)
}

// BorrowAPR returns the annual borrow rate for the given market totals.
func (m *InterestModel) BorrowAPR(borrowed, supplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := ratOrZero(m.BaseRate)
	u := m.Utilisation(borrowed, supplied)
	if u.Sign() == 0 {
		return rate
	}
	kink := ratOrZero(m.Kink)
	if kink.Sign() == 0 || u.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(ratOrZero(m.Slope1), u))
	}
	rate.Add(rate, new(big.Rat).Mul(ratOrZero(m.Slope1), kink))
	above := new(big.Rat).Sub(u, kink)
	return rate.Add(rate, new(big.Rat).Mul(ratOrZero(m.Slope2), above))
}

// SupplyAPY is what suppliers earn: the borrow rate scaled by utilisation,
// less the market's reserve factor in basis points.
func (m *InterestModel) SupplyAPY(borrowed, supplied *big.Int, reserveFactorBps uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	u := m.Utilisation(borrowed, supplied)
	if u.Sign() == 0 {
		return new(big.Rat)
	}
	kept := new(big.Rat).Sub(big.NewRat(1, 1), bpsRat(reserveFactorBps))
	if kept.Sign() < 0 {
		return new(big.Rat)
	}
	apy := new(big.Rat).Mul(m.BorrowAPR(borrowed, supplied), u)
	return apy.Mul(apy, kept)
}

func bpsRat(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), basisPoints)
}

func ratOrZero(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
