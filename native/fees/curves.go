// Package fees derives the mint, burn and slippage percentages of a pool from
// its hedging ratio.
package fees

import (
	"math/big"

	"hedgepool/native/fixedpoint"
	"hedgepool/native/pool"
)

// Configuration is the point-in-time fee snapshot cached per asset.
type Configuration struct {
	HedgingRatio *big.Int
	MintFee      *big.Int
	BurnFee      *big.Int
	Slippage     *big.Int
}

// Clone returns a deep copy.
func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return nil
	}
	return &Configuration{
		HedgingRatio: fixedpoint.Clone(c.HedgingRatio),
		MintFee:      fixedpoint.Clone(c.MintFee),
		BurnFee:      fixedpoint.Clone(c.BurnFee),
		Slippage:     fixedpoint.Clone(c.Slippage),
	}
}

// OpenPositionFee charged on hedge entry.
func (c *Configuration) OpenPositionFee() *big.Int { return fixedpoint.Clone(c.BurnFee) }

// ClosePositionFee charged on the hedge payout.
func (c *Configuration) ClosePositionFee() *big.Int { return fixedpoint.Clone(c.MintFee) }

// TargetHedgeAmount is the stable value of exposure the pool may sell.
func TargetHedgeAmount(p *pool.Pool, cfg *pool.AssetConfig) *big.Int {
	return fixedpoint.PercentageOf(cfg.TargetHedgingRatio, p.StablecoinAmount)
}

// LimitHedgeAmount is the exposure above which positions may be force closed.
func LimitHedgeAmount(p *pool.Pool, cfg *pool.AssetConfig) *big.Int {
	return fixedpoint.PercentageOf(cfg.LimitHedgingRatio, p.StablecoinAmount)
}

// HedgingRatio is covered value over the target hedge amount in One units.
// An empty pool has ratio zero.
func HedgingRatio(p *pool.Pool, cfg *pool.AssetConfig) *big.Int {
	target := TargetHedgeAmount(p, cfg)
	if target.Sign() == 0 {
		return new(big.Int)
	}
	ratio, err := fixedpoint.Ratio(p.TotalCoveredValueInStablecoin, target)
	if err != nil {
		return new(big.Int)
	}
	return ratio
}

func interpolate(ratio, from, to *big.Int) *big.Int {
	spread := new(big.Int).Sub(fixedpoint.Clone(to), fixedpoint.Clone(from))
	step := fixedpoint.Multiply(ratio, spread, fixedpoint.OneInt())
	return step.Add(step, fixedpoint.Clone(from))
}

func saturated(ratio *big.Int) bool {
	return fixedpoint.Clone(ratio).Cmp(fixedpoint.OneInt()) >= 0
}

// MintFee falls linearly from MaxFee at ratio 0 to MinFee once fully hedged.
func MintFee(ratio *big.Int, cfg *pool.AssetConfig) *big.Int {
	if fixedpoint.IsZero(ratio) {
		return fixedpoint.Clone(cfg.MaxFee)
	}
	if saturated(ratio) {
		return fixedpoint.Clone(cfg.MinFee)
	}
	return interpolate(ratio, cfg.MaxFee, cfg.MinFee)
}

// BurnFee mirrors MintFee: MinFee at ratio 0, MaxFee once fully hedged.
func BurnFee(ratio *big.Int, cfg *pool.AssetConfig) *big.Int {
	if fixedpoint.IsZero(ratio) {
		return fixedpoint.Clone(cfg.MinFee)
	}
	if saturated(ratio) {
		return fixedpoint.Clone(cfg.MaxFee)
	}
	return interpolate(ratio, cfg.MinFee, cfg.MaxFee)
}

// Slippage applies to liquidity withdrawals while the pool is under-hedged.
func Slippage(ratio *big.Int, cfg *pool.AssetConfig) *big.Int {
	if saturated(ratio) {
		return new(big.Int)
	}
	return interpolate(ratio, cfg.MinSlippage, cfg.MaxSlippage)
}

// Compute evaluates every curve against the supplied pool.
func Compute(p *pool.Pool, cfg *pool.AssetConfig) *Configuration {
	ratio := HedgingRatio(p, cfg)
	return &Configuration{
		HedgingRatio: ratio,
		MintFee:      MintFee(ratio, cfg),
		BurnFee:      BurnFee(ratio, cfg),
		Slippage:     Slippage(ratio, cfg),
	}
}

// Charge is the result of taking a percentage out of a gross amount.
type Charge struct {
	Fee *big.Int
	Net *big.Int
}

// Apply takes pct of gross. The fee never exceeds gross.
func Apply(gross, pct *big.Int) Charge {
	amount := fixedpoint.Clone(gross)
	if amount.Sign() <= 0 || fixedpoint.IsZero(pct) {
		return Charge{Fee: new(big.Int), Net: amount}
	}
	fee := fixedpoint.PercentageOf(pct, amount)
	if fee.Cmp(amount) >= 0 {
		return Charge{Fee: amount, Net: new(big.Int)}
	}
	return Charge{Fee: fee, Net: amount.Sub(amount, fee)}
}
