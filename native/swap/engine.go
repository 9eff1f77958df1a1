// Package swap exchanges collateral for the stable-value token and back at
// the oracle value, charging the pool's mint and burn fees.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fees"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/oracle"
	"hedgepool/native/pool"
	"hedgepool/native/tokens"
)

var (
	ErrInvalidAmount         = errors.New("swap: amount must be positive")
	ErrSlippageExceeded      = errors.New("swap: output below minimum")
	ErrInsufficientLiquidity = errors.New("swap: pool cannot cover the redemption")
	// ErrRiskLimit matches every RiskViolation.
	ErrRiskLimit = errors.New("swap: risk limit")
	errNilState  = errors.New("swap: engine not configured")
)

const (
	DirectionSell = "sell"
	DirectionBuy  = "buy"
)

// DefaultStableToken is the stable-value token minted against collateral.
const DefaultStableToken = "HUSD"

// Result is the outcome of a swap. Amounts are in the units of the side they
// describe: collateral for sells' AmountIn and buys' AmountOut.
type Result struct {
	Asset       string
	Direction   string
	AmountIn    *big.Int
	AmountOut   *big.Int
	Fee         *big.Int
	OracleValue *big.Int
}

type Engine struct {
	pools   *pool.Ledger
	fees    *fees.Engine
	tokens  tokens.Ledger
	oracle  oracle.Source
	risk    *RiskEngine
	tx      nativecommon.Transactor
	pauses  nativecommon.PauseView
	emitter events.Emitter
	logger  *slog.Logger
	vault   crypto.Address
	stable  string
}

// NewEngine wires the swap engine. vault is the module account holding pool
// collateral.
func NewEngine(pools *pool.Ledger, feeEngine *fees.Engine, ledger tokens.Ledger, source oracle.Source, vault crypto.Address) *Engine {
	return &Engine{
		pools:   pools,
		fees:    feeEngine,
		tokens:  ledger,
		oracle:  source,
		vault:   vault,
		stable:  DefaultStableToken,
		tx:      nativecommon.Direct{},
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetStableToken overrides the stable-value token identifier.
func (e *Engine) SetStableToken(token string) {
	if t := tokens.NormalizeToken(token); t != "" {
		e.stable = t
	}
}

// StableToken returns the stable-value token identifier.
func (e *Engine) StableToken() string { return e.stable }

func (e *Engine) SetRiskEngine(risk *RiskEngine) { e.risk = risk }

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
	if e == nil || e.pools == nil || e.fees == nil || e.tokens == nil || e.oracle == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) begin(amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleSwap); err != nil {
		return err
	}
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// SellCollateral takes payment of collateral from caller, keeps the mint fee
// and mints the stable value of the remainder. minOut bounds the stable
// amount; nil disables the check.
func (e *Engine) SellCollateral(ctx context.Context, caller crypto.Address, asset string, payment, minOut *big.Int) (*Result, error) {
	if err := e.begin(payment); err != nil {
		return nil, err
	}
	var out *Result
	err := e.tx.Atomic(nativecommon.Context(ctx), func(ctx context.Context) error {
		cfg, err := e.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		id := cfg.ID
		oracleValue, err := e.oracle.CollateralValue(ctx, cfg.Ticker)
		if err != nil {
			return err
		}
		live, err := e.fees.Quote(id)
		if err != nil {
			return err
		}
		charge := fees.Apply(payment, live.MintFee)
		minted := cfg.CollateralValue(oracleValue, charge.Net)
		if minted.Sign() == 0 {
			return fmt.Errorf("%w: payment too small to mint", ErrInvalidAmount)
		}
		if minOut != nil && minted.Cmp(minOut) < 0 {
			return fmt.Errorf("%w: %s < %s", ErrSlippageExceeded, minted, minOut)
		}
		if err := e.risk.Check(caller, minted, true); err != nil {
			return err
		}
		if err := e.tokens.Transfer(caller, e.vault, id, tokens.FungibleNonce, payment); err != nil {
			return err
		}
		if err := e.pools.Update(id, func(p *pool.Pool) error {
			p.CollateralAmount.Add(p.CollateralAmount, charge.Net)
			p.StablecoinAmount.Add(p.StablecoinAmount, minted)
			return nil
		}); err != nil {
			return err
		}
		if err := e.fees.AccrueFees(id, charge.Fee); err != nil {
			return err
		}
		if err := e.tokens.Mint(caller, e.stable, minted); err != nil {
			return err
		}
		if err := e.risk.Record(caller, minted, true); err != nil {
			return err
		}
		out = &Result{
			Asset:       id,
			Direction:   DirectionSell,
			AmountIn:    fixedpoint.Clone(payment),
			AmountOut:   minted,
			Fee:         charge.Fee,
			OracleValue: oracleValue,
		}
		e.emit(caller, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BuyCollateral burns stableIn of the stable-value token from caller and pays
// out its collateral equivalent minus the burn fee. minOut bounds the
// collateral paid; nil disables the check.
func (e *Engine) BuyCollateral(ctx context.Context, caller crypto.Address, asset string, stableIn, minOut *big.Int) (*Result, error) {
	if err := e.begin(stableIn); err != nil {
		return nil, err
	}
	var out *Result
	err := e.tx.Atomic(nativecommon.Context(ctx), func(ctx context.Context) error {
		cfg, err := e.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		id := cfg.ID
		oracleValue, err := e.oracle.CollateralValue(ctx, cfg.Ticker)
		if err != nil {
			return err
		}
		gross, err := fixedpoint.Divide(stableIn, oracleValue, cfg.Precision())
		if err != nil {
			return err
		}
		live, err := e.fees.Quote(id)
		if err != nil {
			return err
		}
		charge := fees.Apply(gross, live.BurnFee)
		if charge.Net.Sign() == 0 {
			return fmt.Errorf("%w: redemption too small", ErrInvalidAmount)
		}
		if minOut != nil && charge.Net.Cmp(minOut) < 0 {
			return fmt.Errorf("%w: %s < %s", ErrSlippageExceeded, charge.Net, minOut)
		}
		if err := e.risk.Check(caller, stableIn, false); err != nil {
			return err
		}
		if err := e.pools.Update(id, func(p *pool.Pool) error {
			if p.CollateralAmount.Cmp(gross) < 0 {
				return fmt.Errorf("%w: collateral %s < %s", ErrInsufficientLiquidity, p.CollateralAmount, gross)
			}
			if p.StablecoinAmount.Cmp(stableIn) < 0 {
				return fmt.Errorf("%w: stable liability %s < %s", ErrInsufficientLiquidity, p.StablecoinAmount, stableIn)
			}
			p.CollateralAmount.Sub(p.CollateralAmount, gross)
			p.StablecoinAmount.Sub(p.StablecoinAmount, stableIn)
			return nil
		}); err != nil {
			return err
		}
		if err := e.fees.AccrueFees(id, charge.Fee); err != nil {
			return err
		}
		if err := e.tokens.Burn(caller, e.stable, tokens.FungibleNonce, stableIn); err != nil {
			return err
		}
		if err := e.tokens.Transfer(e.vault, caller, id, tokens.FungibleNonce, charge.Net); err != nil {
			return err
		}
		if err := e.risk.Record(caller, stableIn, false); err != nil {
			return err
		}
		out = &Result{
			Asset:       id,
			Direction:   DirectionBuy,
			AmountIn:    fixedpoint.Clone(stableIn),
			AmountOut:   charge.Net,
			Fee:         charge.Fee,
			OracleValue: oracleValue,
		}
		e.emit(caller, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) emit(caller crypto.Address, r *Result) {
	e.emitter.Emit(events.Swap{
		Caller:    caller,
		Asset:     r.Asset,
		Direction: r.Direction,
		AmountIn:  r.AmountIn,
		AmountOut: r.AmountOut,
		Fee:       r.Fee,
	})
	e.logger.Debug("swap executed",
		"asset", r.Asset,
		"direction", r.Direction,
		"in", r.AmountIn.String(),
		"out", r.AmountOut.String(),
		"fee", r.Fee.String())
}

// Quote previews a swap without touching state.
func (e *Engine) Quote(ctx context.Context, asset, direction string, amount *big.Int) (*Result, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var out *Result
	err := e.tx.View(nativecommon.Context(ctx), func(ctx context.Context) error {
		cfg, err := e.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		oracleValue, err := e.oracle.CollateralValue(ctx, cfg.Ticker)
		if err != nil {
			return err
		}
		live, err := e.fees.Quote(cfg.ID)
		if err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(direction)) {
		case DirectionSell:
			charge := fees.Apply(amount, live.MintFee)
			out = &Result{Asset: cfg.ID, Direction: DirectionSell, AmountIn: fixedpoint.Clone(amount),
				AmountOut: cfg.CollateralValue(oracleValue, charge.Net), Fee: charge.Fee, OracleValue: oracleValue}
		case DirectionBuy:
			gross, err := fixedpoint.Divide(amount, oracleValue, cfg.Precision())
			if err != nil {
				return err
			}
			charge := fees.Apply(gross, live.BurnFee)
			out = &Result{Asset: cfg.ID, Direction: DirectionBuy, AmountIn: fixedpoint.Clone(amount),
				AmountOut: charge.Net, Fee: charge.Fee, OracleValue: oracleValue}
		default:
			return fmt.Errorf("swap: unknown direction %q", direction)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
