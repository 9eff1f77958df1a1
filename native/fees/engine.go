package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"hedgepool/core/events"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/pool"
)

var errNilState = errors.New("fees: state not configured")

// Bucket names for the accumulators.
const (
	BucketFees        = "fees"
	BucketLendRewards = "lendRewards"
)

// ConfigRepository caches the last computed Configuration per asset.
type ConfigRepository interface {
	GetFeeConfig(asset string) (*Configuration, bool, error)
	PutFeeConfig(asset string, cfg *Configuration) error
	DeleteFeeConfig(asset string) error
}

// AccumulatorRepository stores collected fees and lending rewards awaiting a
// split.
type AccumulatorRepository interface {
	GetAccumulated(bucket, asset string) (*big.Int, error)
	PutAccumulated(bucket, asset string, amount *big.Int) error
}

type engineState interface {
	ConfigRepository
	AccumulatorRepository
}

// Engine evaluates the curves against live pools and owns the fee buckets.
type Engine struct {
	pools   *pool.Ledger
	state   engineState
	tx      nativecommon.Transactor
	emitter events.Emitter
	logger  *slog.Logger
}

// NewEngine constructs a fee engine over the pool ledger.
func NewEngine(pools *pool.Ledger) *Engine {
	return &Engine{
		pools:   pools,
		tx:      nativecommon.Direct{},
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

func (e *Engine) SetTransactor(tx nativecommon.Transactor) {
	if e == nil || tx == nil {
		return
	}
	e.tx = tx
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

func (e *Engine) ready() error {
	if e == nil || e.pools == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// Quote computes the curves from the live pool. Operations that charge fees
// use it rather than the cache.
func (e *Engine) Quote(asset string) (*Configuration, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg, err := e.pools.Asset(asset)
	if err != nil {
		return nil, err
	}
	p, err := e.pools.Get(asset)
	if err != nil {
		return nil, err
	}
	return Compute(p, cfg), nil
}

// Refresh recomputes the curves and stores the snapshot.
func (e *Engine) Refresh(asset string) (*Configuration, error) {
	snapshot, err := e.Quote(asset)
	if err != nil {
		return nil, err
	}
	id := pool.NormalizeAsset(asset)
	if err := e.state.PutFeeConfig(id, snapshot); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.FeesUpdated{
		Asset:        id,
		HedgingRatio: snapshot.HedgingRatio,
		MintFee:      snapshot.MintFee,
		BurnFee:      snapshot.BurnFee,
		Slippage:     snapshot.Slippage,
	})
	return snapshot.Clone(), nil
}

// UpdateFeesPercentage is the atomic entry point for Refresh.
func (e *Engine) UpdateFeesPercentage(ctx context.Context, asset string) (*Configuration, error) {
	var out *Configuration
	err := e.tx.Atomic(nativecommon.Context(ctx), func(context.Context) error {
		var err error
		out, err = e.Refresh(asset)
		return err
	})
	return out, err
}

// Current returns the cached snapshot, computing one if none was stored. It
// serves reads; charging paths price with Quote.
func (e *Engine) Current(asset string) (*Configuration, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.pools.RequireWhitelisted(asset); err != nil {
		return nil, err
	}
	cached, ok, err := e.state.GetFeeConfig(pool.NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	if ok {
		return cached.Clone(), nil
	}
	return e.Quote(asset)
}

// Snapshot is the read-only query used by the API.
func (e *Engine) Snapshot(ctx context.Context, asset string) (*Configuration, error) {
	var out *Configuration
	err := e.tx.View(nativecommon.Context(ctx), func(context.Context) error {
		var err error
		out, err = e.Current(asset)
		return err
	})
	return out, err
}

// Forget drops the cached snapshot, used when an asset leaves the whitelist.
func (e *Engine) Forget(asset string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.state.DeleteFeeConfig(pool.NormalizeAsset(asset))
}

func (e *Engine) accrue(bucket, asset string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if fixedpoint.IsZero(amount) {
		return nil
	}
	if err := fixedpoint.RequireNonNegative(amount); err != nil {
		return err
	}
	id := pool.NormalizeAsset(asset)
	current, err := e.state.GetAccumulated(bucket, id)
	if err != nil {
		return err
	}
	return e.state.PutAccumulated(bucket, id, fixedpoint.Add(current, amount))
}

// AccrueFees adds collected hedging and swap fees to the fee bucket.
func (e *Engine) AccrueFees(asset string, amount *big.Int) error {
	return e.accrue(BucketFees, asset, amount)
}

// AccrueLendRewards adds lending yield to the rewards bucket.
func (e *Engine) AccrueLendRewards(asset string, amount *big.Int) error {
	return e.accrue(BucketLendRewards, asset, amount)
}

// Accumulated returns the current bucket balance.
func (e *Engine) Accumulated(bucket, asset string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	v, err := e.state.GetAccumulated(bucket, pool.NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	return fixedpoint.Clone(v), nil
}

// Drain zeroes a bucket and returns what it held.
func (e *Engine) Drain(bucket, asset string) (*big.Int, error) {
	amount, err := e.Accumulated(bucket, asset)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := e.state.PutAccumulated(bucket, pool.NormalizeAsset(asset), new(big.Int)); err != nil {
		return nil, err
	}
	return amount, nil
}

// Undistributed reports an error while either bucket of asset holds funds.
// The pool ledger consults it before removing an asset.
func (e *Engine) Undistributed(asset string) error {
	for _, bucket := range []string{BucketFees, BucketLendRewards} {
		amount, err := e.Accumulated(bucket, asset)
		if err != nil {
			return err
		}
		if amount.Sign() != 0 {
			return fmt.Errorf("%s bucket of %s holds %s", bucket, pool.NormalizeAsset(asset), amount)
		}
	}
	return nil
}
