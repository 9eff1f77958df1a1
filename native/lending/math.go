package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay     = new(big.Int).Rsh(ray, 1)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	return product.Quo(product, ray)
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	num, den := scaled.Num(), scaled.Denom()
	result := new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
	if result.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	return result
}

// rateFactor is 1 + rate*epochs/epochsPerYear in ray.
func rateFactor(rate *big.Rat, epochs, epochsPerYear uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || epochs == 0 || epochsPerYear == 0 {
		return new(big.Int).Set(ray)
	}
	growth := new(big.Rat).Set(rate)
	growth.Quo(growth, new(big.Rat).SetUint64(epochsPerYear))
	growth.Mul(growth, new(big.Rat).SetUint64(epochs))
	return ratToRay(growth.Add(growth, big.NewRat(1, 1)))
}

// sharesFromLiquidity rounds down so a supplier never gets more than it paid.
func sharesFromLiquidity(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, ray)
	return scaled.Quo(scaled, index)
}

// liquidityFromShares rounds down.
func liquidityFromShares(shares, index *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(shares, index)
	return scaled.Quo(scaled, ray)
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	return half.Rsh(half, 1)
}
