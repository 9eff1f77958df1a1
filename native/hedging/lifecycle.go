package hedging

import (
	"context"
	"fmt"
	"math/big"

	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fees"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/pool"
	"hedgepool/native/tokens"
)

// OpenHedgingPosition takes payment of collateral from caller, keeps the
// entry fee and records a position covering amountToCover units of the pool's
// collateral at the current oracle value. maxOracleValue bounds the entry
// price; nil disables the check.
func (e *Engine) OpenHedgingPosition(ctx context.Context, caller crypto.Address, asset string, payment, amountToCover, maxOracleValue *big.Int) (*Position, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleHedging); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(payment) || !positive(amountToCover) {
		return nil, ErrInvalidAmount
	}
	var out *Position
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
		if maxOracleValue != nil && oracleValue.Cmp(maxOracleValue) > 0 {
			return fmt.Errorf("%w: %s > %s", ErrOracleAboveMax, oracleValue, maxOracleValue)
		}
		coverValue := cfg.CollateralValue(oracleValue, amountToCover)

		current, err := e.pools.Get(id)
		if err != nil {
			return err
		}
		target := fees.TargetHedgeAmount(current, cfg)
		if fixedpoint.Add(current.TotalCoveredValueInStablecoin, coverValue).Cmp(target) > 0 {
			return fmt.Errorf("%w: target %s", ErrOverTargetHedge, target)
		}
		live, err := e.fees.Quote(id)
		if err != nil {
			return err
		}
		charge := fees.Apply(payment, live.OpenPositionFee())
		if charge.Net.Sign() == 0 {
			return fmt.Errorf("%w: fee %s", ErrPaymentBelowFee, charge.Fee)
		}
		deposit := charge.Net
		if err := checkLeverage(cfg, deposit, amountToCover); err != nil {
			return err
		}

		if err := e.tokens.Transfer(caller, e.vault, id, tokens.FungibleNonce, payment); err != nil {
			return err
		}
		if err := e.pools.Update(id, func(p *pool.Pool) error {
			p.TotalCollateralCovered.Add(p.TotalCollateralCovered, amountToCover)
			if p.TotalCollateralCovered.Cmp(p.CollateralAmount) > 0 {
				return fmt.Errorf("%w: covered %s of %s", ErrCoverExceedsPool, p.TotalCollateralCovered, p.CollateralAmount)
			}
			p.TotalCoveredValueInStablecoin.Add(p.TotalCoveredValueInStablecoin, coverValue)
			if p.TotalCoveredValueInStablecoin.Cmp(fees.TargetHedgeAmount(p, cfg)) > 0 {
				return ErrOverTargetHedge
			}
			p.CollateralReserves.Add(p.CollateralReserves, deposit)
			return nil
		}); err != nil {
			return err
		}
		if err := e.fees.AccrueFees(id, charge.Fee); err != nil {
			return err
		}
		createdAt := e.now()
		nonce, err := e.tokens.CreatePositionReceipt(caller, HedgeToken, tokens.Receipt{Asset: id, IssuedAt: createdAt})
		if err != nil {
			return err
		}
		pos := &Position{
			Nonce:                nonce,
			Asset:                id,
			Deposit:              deposit,
			Covered:              fixedpoint.Clone(amountToCover),
			OracleValueAtDeposit: oracleValue,
			CreatedAt:            createdAt,
		}
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
		e.emitter.Emit(events.PositionOpened{
			Nonce:       nonce,
			Owner:       caller,
			Asset:       id,
			Deposit:     deposit,
			Covered:     pos.Covered,
			Fee:         charge.Fee,
			OracleValue: oracleValue,
			Timestamp:   createdAt,
		})
		e.logger.Debug("hedging position opened", "asset", id, "nonce", nonce, "deposit", deposit.String(), "covered", pos.Covered.String())
		out = pos.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddMargin raises the deposit of an open position.
func (e *Engine) AddMargin(ctx context.Context, caller crypto.Address, nonce uint64, amount *big.Int) (*Position, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleHedging); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	var out *Position
	err := e.tx.Atomic(nativecommon.Context(ctx), func(context.Context) error {
		pos, err := e.requireHolder(caller, nonce)
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
		pos.Deposit = fixedpoint.Add(pos.Deposit, amount)
		if err := checkLeverage(cfg, pos.Deposit, pos.Covered); err != nil {
			return err
		}
		if err := e.tokens.Transfer(caller, e.vault, pos.Asset, tokens.FungibleNonce, amount); err != nil {
			return err
		}
		if err := e.pools.Update(pos.Asset, func(p *pool.Pool) error {
			p.CollateralReserves.Add(p.CollateralReserves, amount)
			return nil
		}); err != nil {
			return err
		}
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
		e.emitter.Emit(events.MarginChanged{Nonce: nonce, Amount: fixedpoint.Clone(amount), NewDeposit: fixedpoint.Clone(pos.Deposit)})
		out = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// RemoveMargin returns part of the deposit to the holder as long as the
// position stays within the leverage cap.
func (e *Engine) RemoveMargin(ctx context.Context, caller crypto.Address, nonce uint64, amount *big.Int) (*Position, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleHedging); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	var out *Position
	err := e.tx.Atomic(nativecommon.Context(ctx), func(context.Context) error {
		pos, err := e.requireHolder(caller, nonce)
		if err != nil {
			return err
		}
		if pos.IsClosed() {
			return ErrPositionClosed
		}
		if amount.Cmp(pos.Deposit) >= 0 {
			return fmt.Errorf("%w: %s >= %s", ErrRemoveExceedsDeposit, amount, pos.Deposit)
		}
		cfg, err := e.pools.RequireWhitelisted(pos.Asset)
		if err != nil {
			return err
		}
		pos.Deposit = new(big.Int).Sub(pos.Deposit, amount)
		if err := checkLeverage(cfg, pos.Deposit, pos.Covered); err != nil {
			return err
		}
		if err := e.pools.Update(pos.Asset, func(p *pool.Pool) error {
			if amount.Cmp(p.CollateralReserves) > 0 {
				return fmt.Errorf("%w: need %s, have %s", ErrInsufficientReserves, amount, p.CollateralReserves)
			}
			p.CollateralReserves.Sub(p.CollateralReserves, amount)
			return nil
		}); err != nil {
			return err
		}
		if err := e.tokens.Transfer(e.vault, caller, pos.Asset, tokens.FungibleNonce, amount); err != nil {
			return err
		}
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
		e.emitter.Emit(events.MarginChanged{Nonce: nonce, Amount: fixedpoint.Clone(amount), NewDeposit: fixedpoint.Clone(pos.Deposit), Removed: true})
		out = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// CloseHedgingPosition settles the position and pays the holder. The payout
// comes from reserves; whatever reserves cannot cover is paid in liquidity
// receipts. A force-closed position pays the amount locked in by the keeper.
// minOracleValue bounds the exit price; nil disables the check.
func (e *Engine) CloseHedgingPosition(ctx context.Context, caller crypto.Address, nonce uint64, minOracleValue *big.Int) (*CloseResult, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleHedging); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out *CloseResult
	err := e.tx.Atomic(nativecommon.Context(ctx), func(ctx context.Context) error {
		pos, err := e.requireHolder(caller, nonce)
		if err != nil {
			return err
		}
		cfg, err := e.pools.RequireWhitelisted(pos.Asset)
		if err != nil {
			return err
		}
		result := &CloseResult{Nonce: nonce, Fee: new(big.Int), WasForceClosed: pos.IsClosed()}
		withdraw := fixedpoint.Clone(pos.WithdrawAfterForceClose)
		if !pos.IsClosed() {
			if elapsed := e.now() - pos.CreatedAt; elapsed < int64(e.minPeriod.Seconds()) {
				return fmt.Errorf("%w: open for %ds", ErrTooEarly, elapsed)
			}
			oracleValue, err := e.oracle.CollateralValue(ctx, cfg.Ticker)
			if err != nil {
				return err
			}
			if minOracleValue != nil && oracleValue.Cmp(minOracleValue) < 0 {
				return fmt.Errorf("%w: %s < %s", ErrOracleBelowMin, oracleValue, minOracleValue)
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
			withdraw = settlement.Withdraw
			result.Fee = settlement.Fee
		}

		paid, err := pool.UpdateValue(e.pools, cfg.ID, func(p *pool.Pool) (*big.Int, error) {
			paid := fixedpoint.Min(withdraw, p.CollateralReserves)
			p.CollateralReserves.Sub(p.CollateralReserves, paid)
			return paid, nil
		})
		if err != nil {
			return err
		}
		result.Collateral = paid
		result.LiquidityUnits, err = e.liquidity.IssueForCollateral(caller, cfg.ID, new(big.Int).Sub(withdraw, paid))
		if err != nil {
			return err
		}
		if err := e.tokens.Burn(caller, HedgeToken, nonce, big.NewInt(1)); err != nil {
			return err
		}
		if err := e.state.DeletePosition(nonce); err != nil {
			return err
		}
		if paid.Sign() > 0 {
			if err := e.tokens.Transfer(e.vault, caller, cfg.ID, tokens.FungibleNonce, paid); err != nil {
				return err
			}
		}
		e.emitter.Emit(events.PositionClosed{
			Nonce:          nonce,
			Asset:          cfg.ID,
			CollateralPaid: paid,
			ReceiptsIssued: result.LiquidityUnits,
			Fee:            result.Fee,
			WasForceClosed: result.WasForceClosed,
		})
		out = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
