package lending

import "math/big"

// Reserve is the per-asset supply side of the market.
type Reserve struct {
	Asset string
	// Principal is the amount supplied and not yet redeemed.
	Principal *big.Int
	// Shares outstanding against SupplyIndex.
	Shares *big.Int
	// Cash is what the market can pay out: principal plus funded interest.
	Cash *big.Int
	// SupplyIndex is the cumulative supplier growth in ray.
	SupplyIndex *big.Int
	LastEpoch   uint64
}

// Clone returns a deep copy.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	out := *r
	out.Principal = cloneInt(r.Principal)
	out.Shares = cloneInt(r.Shares)
	out.Cash = cloneInt(r.Cash)
	out.SupplyIndex = cloneInt(r.SupplyIndex)
	return &out
}

// Receipt is the claim a supplier holds on a reserve.
type Receipt struct {
	Nonce     uint64
	Asset     string
	Principal *big.Int
	Shares    *big.Int
}

// Clone returns a deep copy.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	out := *r
	out.Principal = cloneInt(r.Principal)
	out.Shares = cloneInt(r.Shares)
	return &out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
