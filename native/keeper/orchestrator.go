// Package keeper drives the maintenance operations of the protocol: pool
// rebalancing, fee refresh, bucket splits, reserve lending and the forced
// exits of hedging positions.
package keeper

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
	"hedgepool/native/hedging"
	"hedgepool/native/liquidity"
	"hedgepool/native/oracle"
	"hedgepool/native/pool"
	"hedgepool/native/reserves"
)

var (
	ErrInsufficientReserves = errors.New("keeper: not enough reserves to rebalance pool")
	errNilState             = errors.New("keeper: orchestrator not configured")
)

// Rebalance is the outcome of RebalancePool.
type Rebalance struct {
	Asset             string
	OldStablecoin     *big.Int
	NewStablecoin     *big.Int
	ReservesDelta     *big.Int
	ReservesIncreased bool
}

// Split is the outcome of a bucket split.
type Split struct {
	Asset         string
	ProviderShare *big.Int
	ReserveShare  *big.Int
}

// Orchestrator exposes every keeper entry point. Each call checks the keeper
// pause switch and allowlist before delegating.
type Orchestrator struct {
	pools     *pool.Ledger
	fees      *fees.Engine
	liquidity *liquidity.Engine
	hedging   *hedging.Engine
	reserves  *reserves.Adapter
	oracle    oracle.Source
	tx        nativecommon.Transactor
	pauses    nativecommon.PauseView
	auth      *nativecommon.Authorizer
	emitter   events.Emitter
	logger    *slog.Logger
}

func New(pools *pool.Ledger, feeEngine *fees.Engine, lp *liquidity.Engine, hedge *hedging.Engine, adapter *reserves.Adapter, source oracle.Source) *Orchestrator {
	return &Orchestrator{
		pools:     pools,
		fees:      feeEngine,
		liquidity: lp,
		hedging:   hedge,
		reserves:  adapter,
		oracle:    source,
		tx:        nativecommon.Direct{},
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
	}
}

func (o *Orchestrator) SetTransactor(tx nativecommon.Transactor) {
	if tx != nil {
		o.tx = tx
	}
}

func (o *Orchestrator) SetPauses(p nativecommon.PauseView) { o.pauses = p }

func (o *Orchestrator) SetAuthorizer(auth *nativecommon.Authorizer) { o.auth = auth }

func (o *Orchestrator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	o.emitter = emitter
}

func (o *Orchestrator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

func (o *Orchestrator) guard(keeper crypto.Address) error {
	if o == nil || o.pools == nil || o.fees == nil || o.liquidity == nil || o.oracle == nil {
		return errNilState
	}
	if err := nativecommon.Guard(o.pauses, nativecommon.ModuleKeeper); err != nil {
		return err
	}
	return o.auth.RequireKeeper(keeper)
}

// Assets lists the whitelisted assets.
func (o *Orchestrator) Assets(ctx context.Context) ([]string, error) {
	if o == nil || o.pools == nil {
		return nil, errNilState
	}
	var out []string
	err := o.tx.View(nativecommon.Context(ctx), func(context.Context) error {
		var err error
		out, err = o.pools.Whitelisted()
		return err
	})
	return out, err
}

// RebalancePool reconciles the stable liability with the market value of the
// pool's collateral. A gain moves into reserves; a loss is covered from them.
func (o *Orchestrator) RebalancePool(ctx context.Context, keeper crypto.Address, asset string) (*Rebalance, error) {
	if err := o.guard(keeper); err != nil {
		return nil, err
	}
	var out *Rebalance
	err := o.tx.Atomic(nativecommon.Context(ctx), func(ctx context.Context) error {
		cfg, err := o.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		oracleValue, err := o.oracle.CollateralValue(ctx, cfg.Ticker)
		if err != nil {
			return err
		}
		out, err = pool.UpdateValue(o.pools, cfg.ID, func(p *pool.Pool) (*Rebalance, error) {
			value := cfg.CollateralValue(oracleValue, p.CollateralAmount)
			r := &Rebalance{Asset: cfg.ID, OldStablecoin: fixedpoint.Clone(p.StablecoinAmount), NewStablecoin: value}
			if value.Cmp(p.StablecoinAmount) > 0 {
				extra, err := fixedpoint.Divide(new(big.Int).Sub(value, p.StablecoinAmount), oracleValue, cfg.Precision())
				if err != nil {
					return nil, err
				}
				p.CollateralReserves.Add(p.CollateralReserves, extra)
				r.ReservesDelta, r.ReservesIncreased = extra, true
			} else {
				missing, err := fixedpoint.Divide(new(big.Int).Sub(p.StablecoinAmount, value), oracleValue, cfg.Precision())
				if err != nil {
					return nil, err
				}
				if missing.Cmp(p.CollateralReserves) > 0 {
					return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientReserves, missing, p.CollateralReserves)
				}
				p.CollateralReserves.Sub(p.CollateralReserves, missing)
				r.ReservesDelta = missing
			}
			p.StablecoinAmount = fixedpoint.Clone(value)
			return r, nil
		})
		if err != nil {
			return err
		}
		p, err := o.pools.Get(cfg.ID)
		if err != nil {
			return err
		}
		o.emitter.Emit(events.PoolRebalanced{
			Asset:             cfg.ID,
			CollateralAmount:  p.CollateralAmount,
			OldStablecoin:     out.OldStablecoin,
			NewStablecoin:     out.NewStablecoin,
			ReservesDelta:     out.ReservesDelta,
			ReservesIncreased: out.ReservesIncreased,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateFeesPercentage recomputes and caches the fee curves of asset.
func (o *Orchestrator) UpdateFeesPercentage(ctx context.Context, keeper crypto.Address, asset string) (*fees.Configuration, error) {
	if err := o.guard(keeper); err != nil {
		return nil, err
	}
	return o.fees.UpdateFeesPercentage(ctx, asset)
}

// SplitFees distributes the accumulated fee bucket.
func (o *Orchestrator) SplitFees(ctx context.Context, keeper crypto.Address, asset string) (*Split, error) {
	return o.split(ctx, keeper, asset, fees.BucketFees)
}

// SplitLendRewards distributes the accumulated lending rewards.
func (o *Orchestrator) SplitLendRewards(ctx context.Context, keeper crypto.Address, asset string) (*Split, error) {
	return o.split(ctx, keeper, asset, fees.BucketLendRewards)
}

// split drains bucket, credits the providers' share to the receipt backing
// and moves the rest into reserves. Without outstanding receipts everything
// goes to reserves.
func (o *Orchestrator) split(ctx context.Context, keeper crypto.Address, asset, bucket string) (*Split, error) {
	if err := o.guard(keeper); err != nil {
		return nil, err
	}
	var out *Split
	err := o.tx.Atomic(nativecommon.Context(ctx), func(context.Context) error {
		cfg, err := o.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		id := cfg.ID
		drained, err := o.fees.Drain(bucket, id)
		if err != nil {
			return err
		}
		out = &Split{Asset: id, ProviderShare: new(big.Int), ReserveShare: new(big.Int)}
		if drained.Sign() == 0 {
			return nil
		}
		share := cfg.ProviderFeeShare
		kind := events.TypeFeesSplit
		if bucket == fees.BucketLendRewards {
			share, kind = cfg.ProviderLendShare, events.TypeLendRewardsSplit
		}
		rp, err := o.liquidity.ReceiptPool(id)
		if err != nil {
			return err
		}
		if rp.Outstanding.Sign() > 0 {
			out.ProviderShare = fixedpoint.PercentageOf(share, drained)
		}
		out.ReserveShare = new(big.Int).Sub(drained, out.ProviderShare)
		if err := o.liquidity.CreditBacking(id, out.ProviderShare); err != nil {
			return err
		}
		if err := o.pools.Update(id, func(p *pool.Pool) error {
			p.CollateralReserves.Add(p.CollateralReserves, out.ReserveShare)
			return nil
		}); err != nil {
			return err
		}
		o.emitter.Emit(events.BucketSplit{Kind: kind, Asset: id, ProviderShare: out.ProviderShare, ReserveShare: out.ReserveShare})
		o.logger.Debug("bucket split", "bucket", bucket, "asset", id, "provider", out.ProviderShare.String(), "reserves", out.ReserveShare.String())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LendReserves hands part of the reserves to the lending collaborator.
func (o *Orchestrator) LendReserves(ctx context.Context, keeper crypto.Address, asset string) (*reserves.Continuation, error) {
	if err := o.guard(keeper); err != nil {
		return nil, err
	}
	if o.reserves == nil {
		return nil, errNilState
	}
	return o.reserves.Lend(ctx, keeper, asset)
}

// WithdrawLendedReserves asks the lending collaborator to return a loan.
func (o *Orchestrator) WithdrawLendedReserves(ctx context.Context, keeper crypto.Address, asset string) (*reserves.Continuation, error) {
	if err := o.guard(keeper); err != nil {
		return nil, err
	}
	if o.reserves == nil {
		return nil, errNilState
	}
	return o.reserves.Withdraw(ctx, keeper, asset)
}

// ForceCloseHedgingPosition closes a position while the pool is over its
// hedge limit, deferring the payout to the holder.
func (o *Orchestrator) ForceCloseHedgingPosition(ctx context.Context, keeper crypto.Address, nonce uint64) (*hedging.Settlement, error) {
	if err := o.guard(keeper); err != nil {
		return nil, err
	}
	if o.hedging == nil {
		return nil, errNilState
	}
	return o.hedging.ForceCloseHedgingPosition(ctx, keeper, nonce)
}

// LiquidateHedgingPosition forfeits an under-margined position to reserves.
func (o *Orchestrator) LiquidateHedgingPosition(ctx context.Context, keeper crypto.Address, nonce uint64) error {
	if err := o.guard(keeper); err != nil {
		return err
	}
	if o.hedging == nil {
		return errNilState
	}
	return o.hedging.LiquidateHedgingPosition(ctx, keeper, nonce)
}
