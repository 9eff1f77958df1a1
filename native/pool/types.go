package pool

import (
	"fmt"
	"math/big"
	"strings"

	"hedgepool/native/fixedpoint"
)

// Pool is the per-collateral accounting record.
type Pool struct {
	// CollateralAmount backs the issued stable-value tokens.
	CollateralAmount *big.Int
	// StablecoinAmount is the stable-value liability matched to CollateralAmount.
	StablecoinAmount *big.Int
	// CollateralReserves funds liquidity withdrawals and hedging payouts.
	CollateralReserves *big.Int
	// TotalCollateralCovered sums covered amounts of open positions.
	TotalCollateralCovered *big.Int
	// TotalCoveredValueInStablecoin snapshots covered exposure at entry prices.
	TotalCoveredValueInStablecoin *big.Int
}

// New returns a zero-valued pool.
func New() *Pool {
	p := &Pool{}
	p.ensure()
	return p
}

func (p *Pool) ensure() {
	if p.CollateralAmount == nil {
		p.CollateralAmount = new(big.Int)
	}
	if p.StablecoinAmount == nil {
		p.StablecoinAmount = new(big.Int)
	}
	if p.CollateralReserves == nil {
		p.CollateralReserves = new(big.Int)
	}
	if p.TotalCollateralCovered == nil {
		p.TotalCollateralCovered = new(big.Int)
	}
	if p.TotalCoveredValueInStablecoin == nil {
		p.TotalCoveredValueInStablecoin = new(big.Int)
	}
}

// Clone returns a deep copy with nil fields mapped to zero.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return New()
	}
	return &Pool{
		CollateralAmount:              fixedpoint.Clone(p.CollateralAmount),
		StablecoinAmount:              fixedpoint.Clone(p.StablecoinAmount),
		CollateralReserves:            fixedpoint.Clone(p.CollateralReserves),
		TotalCollateralCovered:        fixedpoint.Clone(p.TotalCollateralCovered),
		TotalCoveredValueInStablecoin: fixedpoint.Clone(p.TotalCoveredValueInStablecoin),
	}
}

// IsEmpty reports whether every balance is zero.
func (p *Pool) IsEmpty() bool {
	if p == nil {
		return true
	}
	return fixedpoint.IsZero(p.CollateralAmount) &&
		fixedpoint.IsZero(p.StablecoinAmount) &&
		fixedpoint.IsZero(p.CollateralReserves) &&
		fixedpoint.IsZero(p.TotalCollateralCovered) &&
		fixedpoint.IsZero(p.TotalCoveredValueInStablecoin)
}

// CheckInvariants verifies the ledger constraints every committed pool obeys.
func (p *Pool) CheckInvariants() error {
	if p == nil {
		return nil
	}
	if err := fixedpoint.RequireNonNegative(
		p.CollateralAmount,
		p.StablecoinAmount,
		p.CollateralReserves,
		p.TotalCollateralCovered,
		p.TotalCoveredValueInStablecoin,
	); err != nil {
		return fmt.Errorf("%w: negative pool balance", fixedpoint.ErrInvariant)
	}
	if fixedpoint.Clone(p.TotalCollateralCovered).Cmp(fixedpoint.Clone(p.CollateralAmount)) > 0 {
		return ErrCoverageExceedsCollateral
	}
	return nil
}

// AssetConfig holds the static per-asset parameters. Percentages are scaled by
// fixedpoint.Precision, leverage and maintenance ratios by fixedpoint.One.
type AssetConfig struct {
	ID       string
	Ticker   string
	Decimals uint32

	MinFee *big.Int
	MaxFee *big.Int

	TargetHedgingRatio *big.Int
	LimitHedgingRatio  *big.Int

	MinSlippage *big.Int
	MaxSlippage *big.Int

	MaxLeverage      *big.Int
	MaintenanceRatio *big.Int

	LendPercentage       *big.Int
	MinReservesAfterLend *big.Int

	ProviderFeeShare  *big.Int
	ProviderLendShare *big.Int
}

// NormalizeAsset canonicalises an asset identifier.
func NormalizeAsset(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Precision returns 10^Decimals for the collateral.
func (c *AssetConfig) Precision() *big.Int {
	return fixedpoint.PrecisionUnit(c.Decimals)
}

// Clone returns a deep copy.
func (c *AssetConfig) Clone() *AssetConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.MinFee = fixedpoint.Clone(c.MinFee)
	out.MaxFee = fixedpoint.Clone(c.MaxFee)
	out.TargetHedgingRatio = fixedpoint.Clone(c.TargetHedgingRatio)
	out.LimitHedgingRatio = fixedpoint.Clone(c.LimitHedgingRatio)
	out.MinSlippage = fixedpoint.Clone(c.MinSlippage)
	out.MaxSlippage = fixedpoint.Clone(c.MaxSlippage)
	out.MaxLeverage = fixedpoint.Clone(c.MaxLeverage)
	out.MaintenanceRatio = fixedpoint.Clone(c.MaintenanceRatio)
	out.LendPercentage = fixedpoint.Clone(c.LendPercentage)
	out.MinReservesAfterLend = fixedpoint.Clone(c.MinReservesAfterLend)
	out.ProviderFeeShare = fixedpoint.Clone(c.ProviderFeeShare)
	out.ProviderLendShare = fixedpoint.Clone(c.ProviderLendShare)
	return &out
}

// Validate checks the parameter relationships the fee curves and risk checks
// depend on.
func (c *AssetConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil asset config", ErrInvalidAssetConfig)
	}
	if NormalizeAsset(c.ID) == "" {
		return fmt.Errorf("%w: asset id required", ErrInvalidAssetConfig)
	}
	if strings.TrimSpace(c.Ticker) == "" {
		return fmt.Errorf("%w: oracle ticker required", ErrInvalidAssetConfig)
	}
	if c.Decimals > 36 {
		return fmt.Errorf("%w: decimals %d out of range", ErrInvalidAssetConfig, c.Decimals)
	}
	precision := fixedpoint.PrecisionInt()
	pcts := map[string]*big.Int{
		"min fee":                    c.MinFee,
		"max fee":                    c.MaxFee,
		"target hedging ratio":       c.TargetHedgingRatio,
		"limit hedging ratio":        c.LimitHedgingRatio,
		"min slippage":               c.MinSlippage,
		"max slippage":               c.MaxSlippage,
		"lend percentage":            c.LendPercentage,
		"provider fee share":         c.ProviderFeeShare,
		"provider lend reward share": c.ProviderLendShare,
	}
	for name, v := range pcts {
		value := fixedpoint.Clone(v)
		if value.Sign() < 0 || value.Cmp(precision) > 0 {
			return fmt.Errorf("%w: %s must be within [0, 100%%]", ErrInvalidAssetConfig, name)
		}
	}
	if fixedpoint.Clone(c.MinFee).Cmp(fixedpoint.Clone(c.MaxFee)) > 0 {
		return fmt.Errorf("%w: min fee above max fee", ErrInvalidAssetConfig)
	}
	if fixedpoint.Clone(c.MinSlippage).Cmp(fixedpoint.Clone(c.MaxSlippage)) > 0 {
		return fmt.Errorf("%w: min slippage above max slippage", ErrInvalidAssetConfig)
	}
	if fixedpoint.IsZero(c.TargetHedgingRatio) {
		return fmt.Errorf("%w: target hedging ratio required", ErrInvalidAssetConfig)
	}
	if fixedpoint.Clone(c.TargetHedgingRatio).Cmp(fixedpoint.Clone(c.LimitHedgingRatio)) > 0 {
		return fmt.Errorf("%w: target hedging ratio above limit", ErrInvalidAssetConfig)
	}
	if fixedpoint.Clone(c.MaxLeverage).Cmp(fixedpoint.OneInt()) < 0 {
		return fmt.Errorf("%w: max leverage below 1x", ErrInvalidAssetConfig)
	}
	if err := fixedpoint.RequireNonNegative(c.MaintenanceRatio, c.MinReservesAfterLend); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAssetConfig, err)
	}
	return nil
}
