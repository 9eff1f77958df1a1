package lending

import "math/big"

// InterestModel is a kinked utilisation curve. Rates are annual fractions.
type InterestModel struct {
	// BaseRate applies at zero utilisation.
	BaseRate *big.Rat
	// Slope1 is the rate added per unit of utilisation up to Kink.
	Slope1 *big.Rat
	// Slope2 is the rate added per unit of utilisation above Kink.
	Slope2 *big.Rat
	Kink   *big.Rat
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: cloneRat(m.BaseRate),
		Slope1:   cloneRat(m.Slope1),
		Slope2:   cloneRat(m.Slope2),
		Kink:     cloneRat(m.Kink),
	}
}

// NewInterestModel builds a model from decimal inputs: a 2% base rate is 0.02
// and an 80% kink is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Utilisation is borrowed/supplied, zero for an empty market.
func (m *InterestModel) Utilisation(borrowed, supplied *big.Int) *big.Rat {
	if borrowed == nil || borrowed.Sign() == 0 || supplied == nil || supplied.Sign() == 0 {
		return new(big.Rat)
	}
	u := new(big.Rat).SetFrac(borrowed, supplied)
	if u.Cmp(big.NewRat(1, 1)) > 0 {
		return big.NewRat(1, 1)
	}
	return u
}

// BorrowAPR is the annual borrow rate at the current utilisation.
func (m *InterestModel) BorrowAPR(borrowed, supplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(borrowed, supplied)
	if utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

// SupplyAPY is the share of borrow interest paid to suppliers after the
// reserve factor, in basis points.
func (m *InterestModel) SupplyAPY(borrowed, supplied *big.Int, reserveFactorBps uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	borrowAPR := m.BorrowAPR(borrowed, supplied)
	utilisation := m.Utilisation(borrowed, supplied)
	if borrowAPR.Sign() == 0 || utilisation.Sign() == 0 {
		return new(big.Rat)
	}
	keep := new(big.Rat).Sub(big.NewRat(1, 1), new(big.Rat).SetFrac(new(big.Int).SetUint64(reserveFactorBps), basisPoints))
	if keep.Sign() < 0 {
		keep.SetInt64(0)
	}
	apy := new(big.Rat).Mul(borrowAPR, utilisation)
	return apy.Mul(apy, keep)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel is a kinked curve with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
