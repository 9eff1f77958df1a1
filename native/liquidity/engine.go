// Package liquidity lets providers commit collateral to a pool's reserves in
// exchange for fungible receipts valued by the collateral backing them.
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fees"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/pool"
	"hedgepool/native/tokens"
)

var (
	ErrInsufficientReserves = errors.New("liquidity: not enough reserves in pool")
	ErrInvalidAmount        = errors.New("liquidity: amount must be positive")
	ErrSlippageExceeded     = errors.New("liquidity: output below minimum")
	ErrReceiptsUnbacked     = errors.New("liquidity: receipts outstanding without backing")
	errNilState             = errors.New("liquidity: state not configured")
)

// ReceiptPool tracks the collateral backing an asset's liquidity receipts.
type ReceiptPool struct {
	Backing     *big.Int
	Outstanding *big.Int
}

// Clone returns a deep copy with nil fields mapped to zero.
func (r *ReceiptPool) Clone() *ReceiptPool {
	if r == nil {
		return &ReceiptPool{Backing: new(big.Int), Outstanding: new(big.Int)}
	}
	return &ReceiptPool{Backing: fixedpoint.Clone(r.Backing), Outstanding: fixedpoint.Clone(r.Outstanding)}
}

// ReceiptPoolRepository persists receipt pools keyed by asset.
type ReceiptPoolRepository interface {
	GetReceiptPool(asset string) (*ReceiptPool, bool, error)
	PutReceiptPool(asset string, rp *ReceiptPool) error
}

// UnitValue is the collateral value of one whole receipt at precision.
// Without outstanding receipts the value is 1:1. Receipts left without any
// backing are worth zero.
func UnitValue(rp *ReceiptPool, precision *big.Int) *big.Int {
	rp = rp.Clone()
	if rp.Outstanding.Sign() == 0 {
		return fixedpoint.Clone(precision)
	}
	unit, err := fixedpoint.Divide(rp.Backing, rp.Outstanding, precision)
	if err != nil {
		return fixedpoint.Clone(precision)
	}
	return unit
}

// Quote is the outcome of a liquidity operation.
type Quote struct {
	Collateral *big.Int
	Receipts   *big.Int
	Slippage   *big.Int
}

// Engine implements addLiquidity and removeLiquidity.
type Engine struct {
	pools   *pool.Ledger
	tokens  tokens.Ledger
	state   ReceiptPoolRepository
	tx      nativecommon.Transactor
	pauses  nativecommon.PauseView
	emitter events.Emitter
	logger  *slog.Logger
	vault   crypto.Address
}

// NewEngine wires the engine. vault is the module account holding pool
// collateral.
func NewEngine(pools *pool.Ledger, ledger tokens.Ledger, vault crypto.Address) *Engine {
	return &Engine{
		pools:   pools,
		tokens:  ledger,
		vault:   vault,
		tx:      nativecommon.Direct{},
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

func (e *Engine) SetState(state ReceiptPoolRepository) { e.state = state }

func (e *Engine) SetTransactor(tx nativecommon.Transactor) {
	if tx != nil {
		e.tx = tx
	}
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

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

func (e *Engine) ready() error {
	if e == nil || e.pools == nil || e.tokens == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// ReceiptPool returns the receipt pool of asset.
func (e *Engine) ReceiptPool(asset string) (*ReceiptPool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rp, _, err := e.state.GetReceiptPool(pool.NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	return rp.Clone(), nil
}

// Unit returns the current unit value of asset's receipts.
func (e *Engine) Unit(asset string) (*big.Int, error) {
	cfg, err := e.pools.RequireWhitelisted(asset)
	if err != nil {
		return nil, err
	}
	rp, err := e.ReceiptPool(asset)
	if err != nil {
		return nil, err
	}
	return UnitValue(rp, cfg.Precision()), nil
}

func (e *Engine) updateReceiptPool(asset string, fn func(rp *ReceiptPool) error) error {
	id := pool.NormalizeAsset(asset)
	rp, _, err := e.state.GetReceiptPool(id)
	if err != nil {
		return err
	}
	next := rp.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := fixedpoint.RequireNonNegative(next.Backing, next.Outstanding); err != nil {
		return fmt.Errorf("%w: receipt pool", fixedpoint.ErrInvariant)
	}
	return e.state.PutReceiptPool(id, next)
}

// AddLiquidity moves amount of collateral from caller into reserves and mints
// receipts at the current unit value.
func (e *Engine) AddLiquidity(ctx context.Context, caller crypto.Address, asset string, amount *big.Int) (*Quote, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleLiquidity); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var out *Quote
	err := e.tx.Atomic(nativecommon.Context(ctx), func(context.Context) error {
		cfg, err := e.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		id := cfg.ID
		unit, err := e.Unit(id)
		if err != nil {
			return err
		}
		if unit.Sign() == 0 {
			return fmt.Errorf("%w: %s", ErrReceiptsUnbacked, id)
		}
		receipts, err := fixedpoint.Divide(amount, unit, cfg.Precision())
		if err != nil {
			return err
		}
		if receipts.Sign() == 0 {
			return fmt.Errorf("%w: deposit below one receipt unit", ErrInvalidAmount)
		}
		if err := e.tokens.Transfer(caller, e.vault, id, tokens.FungibleNonce, amount); err != nil {
			return err
		}
		if err := e.pools.Update(id, func(p *pool.Pool) error {
			p.CollateralReserves.Add(p.CollateralReserves, amount)
			return nil
		}); err != nil {
			return err
		}
		if err := e.updateReceiptPool(id, func(rp *ReceiptPool) error {
			rp.Backing.Add(rp.Backing, amount)
			rp.Outstanding.Add(rp.Outstanding, receipts)
			return nil
		}); err != nil {
			return err
		}
		if err := e.tokens.Mint(caller, tokens.LiquidityToken(id), receipts); err != nil {
			return err
		}
		out = &Quote{Collateral: fixedpoint.Clone(amount), Receipts: receipts, Slippage: new(big.Int)}
		e.emitter.Emit(events.LiquidityChanged{Provider: caller, Asset: id, Collateral: out.Collateral, Receipts: receipts, Slippage: out.Slippage})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveLiquidity burns receipts and pays their collateral value minus the
// live slippage. The slippage stays in reserves; the receipt backing drops by
// the full value so the unit price is unchanged. minOut bounds the payout;
// nil disables the check.
func (e *Engine) RemoveLiquidity(ctx context.Context, caller crypto.Address, asset string, receipts, minOut *big.Int) (*Quote, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleLiquidity); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if receipts == nil || receipts.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var out *Quote
	err := e.tx.Atomic(nativecommon.Context(ctx), func(context.Context) error {
		cfg, err := e.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		id := cfg.ID
		unit, err := e.Unit(id)
		if err != nil {
			return err
		}
		value := fixedpoint.Multiply(receipts, unit, cfg.Precision())
		p, err := e.pools.Get(id)
		if err != nil {
			return err
		}
		slippagePct := fees.Slippage(fees.HedgingRatio(p, cfg), cfg)
		charge := fees.Apply(value, slippagePct)
		if minOut != nil && charge.Net.Cmp(minOut) < 0 {
			return fmt.Errorf("%w: %s < %s", ErrSlippageExceeded, charge.Net, minOut)
		}
		if err := e.pools.Update(id, func(p *pool.Pool) error {
			if charge.Net.Cmp(p.CollateralReserves) > 0 {
				return fmt.Errorf("%w: need %s, have %s", ErrInsufficientReserves, charge.Net, p.CollateralReserves)
			}
			p.CollateralReserves.Sub(p.CollateralReserves, charge.Net)
			return nil
		}); err != nil {
			return err
		}
		if err := e.tokens.Burn(caller, tokens.LiquidityToken(id), tokens.FungibleNonce, receipts); err != nil {
			return err
		}
		if err := e.updateReceiptPool(id, func(rp *ReceiptPool) error {
			backing, err := fixedpoint.Sub(rp.Backing, value)
			if err != nil {
				return err
			}
			outstanding, err := fixedpoint.Sub(rp.Outstanding, receipts)
			if err != nil {
				return err
			}
			rp.Backing, rp.Outstanding = backing, outstanding
			return nil
		}); err != nil {
			e.logger.Error("receipt pool invariant violated", "asset", id, "error", err)
			return err
		}
		if charge.Net.Sign() > 0 {
			if err := e.tokens.Transfer(e.vault, caller, id, tokens.FungibleNonce, charge.Net); err != nil {
				return err
			}
		}
		out = &Quote{Collateral: charge.Net, Receipts: fixedpoint.Clone(receipts), Slippage: charge.Fee}
		e.emitter.Emit(events.LiquidityChanged{Provider: caller, Asset: id, Collateral: charge.Net, Receipts: out.Receipts, Slippage: charge.Fee, Removed: true})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IssueForCollateral mints receipts worth collateral to holder and credits
// the same collateral to the backing, so the unit value is unchanged. Hedging
// payouts that exceed reserves settle through it.
func (e *Engine) IssueForCollateral(holder crypto.Address, asset string, collateral *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if fixedpoint.IsZero(collateral) {
		return new(big.Int), nil
	}
	cfg, err := e.pools.RequireWhitelisted(asset)
	if err != nil {
		return nil, err
	}
	unit, err := e.Unit(cfg.ID)
	if err != nil {
		return nil, err
	}
	if unit.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrReceiptsUnbacked, cfg.ID)
	}
	receipts, err := fixedpoint.Divide(collateral, unit, cfg.Precision())
	if err != nil {
		return nil, err
	}
	if receipts.Sign() == 0 {
		return receipts, nil
	}
	if err := e.updateReceiptPool(cfg.ID, func(rp *ReceiptPool) error {
		rp.Backing.Add(rp.Backing, collateral)
		rp.Outstanding.Add(rp.Outstanding, receipts)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := e.tokens.Mint(holder, tokens.LiquidityToken(cfg.ID), receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}

// CreditBacking raises the collateral behind the receipts. Fee and lending
// reward splits use it.
func (e *Engine) CreditBacking(asset string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if fixedpoint.IsZero(amount) {
		return nil
	}
	return e.updateReceiptPool(asset, func(rp *ReceiptPool) error {
		rp.Backing.Add(rp.Backing, amount)
		return nil
	})
}

// Outstanding reports an error when receipts of asset are still in
// circulation. The pool ledger consults it before removing an asset.
func (e *Engine) Outstanding(asset string) error {
	rp, err := e.ReceiptPool(asset)
	if err != nil {
		return err
	}
	if rp.Outstanding.Sign() != 0 || rp.Backing.Sign() != 0 {
		return fmt.Errorf("liquidity receipts outstanding for %s", pool.NormalizeAsset(asset))
	}
	return nil
}

// Position is the read-only view of a provider's share.
type Position struct {
	Receipts *big.Int
	Value    *big.Int
}

// ProviderPosition returns holder's receipts and their collateral value.
func (e *Engine) ProviderPosition(ctx context.Context, holder crypto.Address, asset string) (*Position, error) {
	var out *Position
	err := e.tx.View(nativecommon.Context(ctx), func(context.Context) error {
		cfg, err := e.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		balance, err := e.tokens.BalanceOf(holder, tokens.LiquidityToken(cfg.ID), tokens.FungibleNonce)
		if err != nil {
			return err
		}
		unit, err := e.Unit(cfg.ID)
		if err != nil {
			return err
		}
		out = &Position{Receipts: balance, Value: fixedpoint.Multiply(balance, unit, cfg.Precision())}
		return nil
	})
	return out, err
}
