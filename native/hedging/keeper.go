package hedging

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fees"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/pool"
	"hedgepool/native/tokens"
)

// ForceCloseHedgingPosition lets a keeper unwind a position while the pool's
// covered value exceeds its limit hedge amount. The payout is locked in and
// released when the holder later calls CloseHedgingPosition.
func (e *Engine) ForceCloseHedgingPosition(ctx context.Context, keeper crypto.Address, nonce uint64) (*Settlement, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleHedging); err != nil {
		return nil, err
	}
	if err := e.auth.RequireKeeper(keeper); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out *Settlement
	err := e.tx.Atomic(nativecommon.Context(ctx), func(ctx context.Context) error {
		pos, err := e.load(nonce)
		if err != nil {
			return err
		}
		if pos.IsClosed() {
			return ErrPositionClosed
		}
		cfg, err := e.pools.RequireWhitelisted(pos.Asset)
		if err != nil {
			return err
		}
		current, err := e.pools.Get(cfg.ID)
		if err != nil {
			return err
		}
		limit := fees.LimitHedgeAmount(current, cfg)
		if current.TotalCoveredValueInStablecoin.Cmp(limit) <= 0 {
			return fmt.Errorf("%w: covered %s, limit %s", ErrUnderLimitHedge, current.TotalCoveredValueInStablecoin, limit)
		}
		oracleValue, err := e.oracle.CollateralValue(ctx, cfg.Ticker)
		if err != nil {
			return err
		}
		live, err := e.fees.Quote(cfg.ID)
		if err != nil {
			return err
		}
		settlement, err := Settle(pos, oracleValue, live.ClosePositionFee())
		if err != nil {
			return err
		}
		if err := e.unwind(cfg, pos); err != nil {
			return err
		}
		if err := e.takeCloseFee(cfg.ID, settlement.Fee); err != nil {
			return err
		}
		pos.WithdrawAfterForceClose = fixedpoint.Clone(settlement.Withdraw)
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
		e.emitter.Emit(events.PositionForceClosed{
			Nonce:          nonce,
			Asset:          cfg.ID,
			WithdrawAmount: settlement.Withdraw,
			Fee:            settlement.Fee,
			Keeper:         keeper,
		})
		out = settlement
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LiquidateHedgingPosition removes a position whose margin ratio fell to or
// below the asset's maintenance ratio. The deposit stays in reserves.
func (e *Engine) LiquidateHedgingPosition(ctx context.Context, keeper crypto.Address, nonce uint64) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleHedging); err != nil {
		return err
	}
	if err := e.auth.RequireKeeper(keeper); err != nil {
		return err
	}
	if err := e.ready(); err != nil {
		return err
	}
	return e.tx.Atomic(nativecommon.Context(ctx), func(ctx context.Context) error {
		pos, err := e.load(nonce)
		if err != nil {
			return err
		}
		if pos.IsClosed() {
			return ErrPositionClosed
		}
		cfg, err := e.pools.RequireWhitelisted(pos.Asset)
		if err != nil {
			return err
		}
		oracleValue, err := e.oracle.CollateralValue(ctx, cfg.Ticker)
		if err != nil {
			return err
		}
		margin, err := MarginRatio(pos, oracleValue)
		if err != nil {
			return err
		}
		if margin.Cmp(fixedpoint.Clone(cfg.MaintenanceRatio)) > 0 {
			return fmt.Errorf("%w: %s > %s", ErrAboveMaintenanceRatio, margin, cfg.MaintenanceRatio)
		}
		if err := e.unwind(cfg, pos); err != nil {
			return err
		}
		holder, err := e.tokens.OwnerOf(HedgeToken, nonce)
		if err != nil {
			return err
		}
		if err := e.tokens.Burn(holder, HedgeToken, nonce, big.NewInt(1)); err != nil {
			return err
		}
		if err := e.state.DeletePosition(nonce); err != nil {
			return err
		}
		e.emitter.Emit(events.PositionLiquidated{
			Nonce:       nonce,
			Asset:       cfg.ID,
			Forfeited:   fixedpoint.Clone(pos.Deposit),
			MarginRatio: margin,
			Keeper:      keeper,
		})
		e.logger.Info("hedging position liquidated", "asset", cfg.ID, "nonce", nonce, "marginRatio", margin.String())
		return nil
	})
}

// Position returns a stored position.
func (e *Engine) Position(ctx context.Context, nonce uint64) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out *Position
	err := e.tx.View(nativecommon.Context(ctx), func(context.Context) error {
		var err error
		out, err = e.load(nonce)
		return err
	})
	return out, err
}

// Positions lists the positions on asset ordered by nonce.
func (e *Engine) Positions(ctx context.Context, asset string) ([]*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out []*Position
	err := e.tx.View(nativecommon.Context(ctx), func(context.Context) error {
		list, err := e.state.ListPositions(pool.NormalizeAsset(asset))
		if err != nil {
			return err
		}
		out = make([]*Position, 0, len(list))
		for _, p := range list {
			out = append(out, p.Clone())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
		return nil
	})
	return out, err
}

// Health is the live risk view of a position.
type Health struct {
	Position    *Position
	Holder      crypto.Address
	OracleValue *big.Int
	MarginRatio *big.Int
	Leverage    *big.Int
	Liquidable  bool
}

// Inspect evaluates a position against the current oracle value.
func (e *Engine) Inspect(ctx context.Context, nonce uint64) (*Health, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out *Health
	err := e.tx.View(nativecommon.Context(ctx), func(ctx context.Context) error {
		pos, err := e.load(nonce)
		if err != nil {
			return err
		}
		cfg, err := e.pools.RequireWhitelisted(pos.Asset)
		if err != nil {
			return err
		}
		oracleValue, err := e.oracle.CollateralValue(ctx, cfg.Ticker)
		if err != nil {
			return err
		}
		margin, err := MarginRatio(pos, oracleValue)
		if err != nil {
			return err
		}
		leverage, err := Leverage(pos.Deposit, pos.Covered)
		if err != nil {
			return err
		}
		holder, err := e.tokens.OwnerOf(HedgeToken, nonce)
		if err != nil && !errors.Is(err, tokens.ErrReceiptNotFound) {
			return err
		}
		out = &Health{
			Position:    pos,
			Holder:      holder,
			OracleValue: oracleValue,
			MarginRatio: margin,
			Leverage:    leverage,
			Liquidable:  !pos.IsClosed() && margin.Cmp(fixedpoint.Clone(cfg.MaintenanceRatio)) <= 0,
		}
		return nil
	})
	return out, err
}
