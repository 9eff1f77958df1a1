// Package hedging manages leveraged positions that take over the price
// exposure of a pool's collateral in exchange for entry and exit fees.
package hedging

import (
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fees"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/liquidity"
	"hedgepool/native/oracle"
	"hedgepool/native/pool"
	"hedgepool/native/tokens"
)

// Engine implements the hedging position lifecycle.
type Engine struct {
	pools     *pool.Ledger
	fees      *fees.Engine
	liquidity *liquidity.Engine
	tokens    tokens.Ledger
	oracle    oracle.Source
	state     PositionRepository
	tx        nativecommon.Transactor
	pauses    nativecommon.PauseView
	auth      *nativecommon.Authorizer
	emitter   events.Emitter
	logger    *slog.Logger
	vault     crypto.Address
	nowFn     func() time.Time
	minPeriod time.Duration
}

// NewEngine wires the engine to its collaborators. vault is the module
// account holding pool collateral.
func NewEngine(pools *pool.Ledger, feeEngine *fees.Engine, lp *liquidity.Engine, ledger tokens.Ledger, source oracle.Source, vault crypto.Address) *Engine {
	return &Engine{
		pools:     pools,
		fees:      feeEngine,
		liquidity: lp,
		tokens:    ledger,
		oracle:    source,
		vault:     vault,
		tx:        nativecommon.Direct{},
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) SetState(state PositionRepository) { e.state = state }

func (e *Engine) SetTransactor(tx nativecommon.Transactor) {
	if tx != nil {
		e.tx = tx
	}
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) SetAuthorizer(auth *nativecommon.Authorizer) { e.auth = auth }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetNowFunc overrides the clock used for position timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now != nil {
		e.nowFn = now
	}
}

// SetMinHedgingPeriod sets how long a position must stay open before its
// holder may close it.
func (e *Engine) SetMinHedgingPeriod(d time.Duration) {
	if d >= 0 {
		e.minPeriod = d
	}
}

func (e *Engine) ready() error {
	if e == nil || e.pools == nil || e.fees == nil || e.liquidity == nil || e.tokens == nil || e.oracle == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) now() int64 { return e.nowFn().Unix() }

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

// Leverage is (deposit + covered) / deposit in One units.
func Leverage(deposit, covered *big.Int) (*big.Int, error) {
	return fixedpoint.Ratio(fixedpoint.Add(deposit, covered), deposit)
}

func checkLeverage(cfg *pool.AssetConfig, deposit, covered *big.Int) error {
	leverage, err := Leverage(deposit, covered)
	if err != nil {
		return fmt.Errorf("%w: empty deposit", ErrLeverageTooHigh)
	}
	if leverage.Cmp(fixedpoint.Clone(cfg.MaxLeverage)) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrLeverageTooHigh, leverage, cfg.MaxLeverage)
	}
	return nil
}

// MarginRatio is deposit/covered plus (1 - entry/current), in One units and
// floored at zero. Positions are long the collateral, so a price drop erodes
// the margin.
func MarginRatio(p *Position, oracleValue *big.Int) (*big.Int, error) {
	base, err := fixedpoint.Ratio(p.Deposit, p.Covered)
	if err != nil {
		return nil, err
	}
	priceRatio, err := fixedpoint.Ratio(p.OracleValueAtDeposit, oracleValue)
	if err != nil {
		return nil, err
	}
	one := fixedpoint.OneInt()
	if priceRatio.Cmp(one) <= 0 {
		return base.Add(base, new(big.Int).Sub(one, priceRatio)), nil
	}
	return fixedpoint.SaturatingSub(base, new(big.Int).Sub(priceRatio, one)), nil
}

// Settle computes the payout of p at oracleValue: the deposit adjusted by the
// covered amount's price move, floored at zero, minus closeFee.
func Settle(p *Position, oracleValue, closeFee *big.Int) (*Settlement, error) {
	priceRatio, err := fixedpoint.Ratio(p.OracleValueAtDeposit, oracleValue)
	if err != nil {
		return nil, err
	}
	one := fixedpoint.OneInt()
	var base *big.Int
	if priceRatio.Cmp(one) <= 0 {
		gain := fixedpoint.Multiply(new(big.Int).Sub(one, priceRatio), p.Covered, one)
		base = fixedpoint.Add(p.Deposit, gain)
	} else {
		loss := fixedpoint.Multiply(new(big.Int).Sub(priceRatio, one), p.Covered, one)
		base = fixedpoint.SaturatingSub(p.Deposit, loss)
	}
	charge := fees.Apply(base, closeFee)
	return &Settlement{Base: base, Fee: charge.Fee, Withdraw: charge.Net}, nil
}

func (e *Engine) load(nonce uint64) (*Position, error) {
	pos, ok, err := e.state.GetPosition(nonce)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrPositionNotFound, nonce)
	}
	return pos.Clone(), nil
}

// requireHolder loads the position and checks caller holds its receipt.
func (e *Engine) requireHolder(caller crypto.Address, nonce uint64) (*Position, error) {
	pos, err := e.load(nonce)
	if err != nil {
		return nil, err
	}
	balance, err := e.tokens.BalanceOf(caller, HedgeToken, nonce)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(big.NewInt(1)) != 0 {
		return nil, fmt.Errorf("%w: #%d", ErrNotHolder, nonce)
	}
	return pos, nil
}

// unwind removes the position's exposure from the pool totals.
func (e *Engine) unwind(cfg *pool.AssetConfig, pos *Position) error {
	value := cfg.CollateralValue(pos.OracleValueAtDeposit, pos.Covered)
	return e.pools.Update(pos.Asset, func(p *pool.Pool) error {
		covered, err := fixedpoint.Sub(p.TotalCollateralCovered, pos.Covered)
		if err != nil {
			return err
		}
		coveredValue, err := fixedpoint.Sub(p.TotalCoveredValueInStablecoin, value)
		if err != nil {
			return err
		}
		p.TotalCollateralCovered, p.TotalCoveredValueInStablecoin = covered, coveredValue
		return nil
	})
}

// takeCloseFee moves the close fee from reserves into the fee bucket. The
// fee is already deducted from the holder's payout; the part reserves cannot
// fund is not accrued, so the bucket never claims collateral the pool lacks.
func (e *Engine) takeCloseFee(asset string, fee *big.Int) error {
	if fixedpoint.IsZero(fee) {
		return nil
	}
	taken, err := pool.UpdateValue(e.pools, asset, func(p *pool.Pool) (*big.Int, error) {
		taken := fixedpoint.Min(fee, p.CollateralReserves)
		p.CollateralReserves.Sub(p.CollateralReserves, taken)
		return taken, nil
	})
	if err != nil {
		return err
	}
	if taken.Cmp(fee) < 0 {
		e.logger.Debug("close fee exceeds reserves", "asset", asset, "fee", fee.String(), "accrued", taken.String())
	}
	return e.fees.AccrueFees(asset, taken)
}

// HasOpenPositions reports an error while positions on asset remain. The pool
// ledger consults it before removing an asset.
func (e *Engine) HasOpenPositions(asset string) error {
	if err := e.ready(); err != nil {
		return err
	}
	positions, err := e.state.ListPositions(pool.NormalizeAsset(asset))
	if err != nil {
		return err
	}
	if len(positions) > 0 {
		return fmt.Errorf("%d hedging positions open on %s", len(positions), pool.NormalizeAsset(asset))
	}
	return nil
}
