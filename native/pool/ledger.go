package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
)

var (
	ErrNotWhitelisted            = errors.New("pool: collateral not whitelisted")
	ErrAlreadyWhitelisted        = errors.New("pool: collateral already whitelisted")
	ErrPoolNotEmpty              = errors.New("pool: pool not empty")
	ErrCoverageExceedsCollateral = errors.New("pool: covered collateral exceeds collateral amount")
	ErrInvalidAssetConfig        = errors.New("pool: invalid asset config")
	errNilState                  = errors.New("pool: state not configured")
)

// PoolRepository persists pools keyed by asset id.
type PoolRepository interface {
	GetPool(asset string) (*Pool, bool, error)
	PutPool(asset string, p *Pool) error
	DeletePool(asset string) error
}

// AssetRepository persists the whitelist and static asset parameters.
type AssetRepository interface {
	GetAsset(asset string) (*AssetConfig, bool, error)
	PutAsset(cfg *AssetConfig) error
	DeleteAsset(asset string) error
	ListAssets() ([]string, error)
}

// CleanlinessCheck reports why an asset still has protocol state outside the
// pool record (open positions, receipts, loans). Nil means clean.
type CleanlinessCheck func(asset string) error

// Ledger owns every pool mutation. Callers run inside an atomic unit; the
// exported operations that start their own unit say so.
type Ledger struct {
	pools   PoolRepository
	assets  AssetRepository
	tx      nativecommon.Transactor
	auth    *nativecommon.Authorizer
	emitter events.Emitter
	logger  *slog.Logger
	checks  []CleanlinessCheck
	removed []func(asset string) error
}

// NewLedger wires the ledger to its repositories.
func NewLedger(pools PoolRepository, assets AssetRepository) *Ledger {
	return &Ledger{
		pools:   pools,
		assets:  assets,
		tx:      nativecommon.Direct{},
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

func (l *Ledger) SetTransactor(tx nativecommon.Transactor) {
	if l == nil || tx == nil {
		return
	}
	l.tx = tx
}

func (l *Ledger) SetAuthorizer(auth *nativecommon.Authorizer) {
	if l == nil {
		return
	}
	l.auth = auth
}

func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

func (l *Ledger) SetLogger(logger *slog.Logger) {
	if l == nil || logger == nil {
		return
	}
	l.logger = logger
}

// AddCleanlinessCheck registers a predicate consulted before an asset leaves
// the whitelist.
func (l *Ledger) AddCleanlinessCheck(check CleanlinessCheck) {
	if l == nil || check == nil {
		return
	}
	l.checks = append(l.checks, check)
}

// OnRemove registers cleanup that runs inside the removal unit once the pool
// is gone, such as dropping cached fee snapshots.
func (l *Ledger) OnRemove(fn func(asset string) error) {
	if l == nil || fn == nil {
		return
	}
	l.removed = append(l.removed, fn)
}

func (l *Ledger) ready() error {
	if l == nil || l.pools == nil || l.assets == nil {
		return errNilState
	}
	return nil
}

// Asset returns the parameters of a whitelisted asset.
func (l *Ledger) Asset(asset string) (*AssetConfig, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	cfg, ok, err := l.assets.GetAsset(NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWhitelisted, NormalizeAsset(asset))
	}
	return cfg, nil
}

// RequireWhitelisted rejects unknown assets and returns their parameters.
func (l *Ledger) RequireWhitelisted(asset string) (*AssetConfig, error) {
	return l.Asset(asset)
}

// Get returns a copy of the pool for asset.
func (l *Ledger) Get(asset string) (*Pool, error) {
	if _, err := l.RequireWhitelisted(asset); err != nil {
		return nil, err
	}
	p, ok, err := l.pools.GetPool(NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	if !ok {
		return New(), nil
	}
	return p.Clone(), nil
}

// Set overwrites the pool after checking its invariants.
func (l *Ledger) Set(asset string, p *Pool) error {
	if _, err := l.RequireWhitelisted(asset); err != nil {
		return err
	}
	next := p.Clone()
	if err := next.CheckInvariants(); err != nil {
		return err
	}
	return l.pools.PutPool(NormalizeAsset(asset), next)
}

// Update is the read-modify-write path for every pool mutation. fn receives a
// private copy; nothing is written when fn or the invariant check fails.
func (l *Ledger) Update(asset string, fn func(p *Pool) error) error {
	_, err := UpdateValue(l, asset, func(p *Pool) (struct{}, error) {
		return struct{}{}, fn(p)
	})
	return err
}

// UpdateValue is Update for callbacks that produce a result.
func UpdateValue[T any](l *Ledger, asset string, fn func(p *Pool) (T, error)) (T, error) {
	var zero T
	current, err := l.Get(asset)
	if err != nil {
		return zero, err
	}
	out, err := fn(current)
	if err != nil {
		return zero, err
	}
	if err := current.CheckInvariants(); err != nil {
		if errors.Is(err, ErrCoverageExceedsCollateral) {
			return zero, err
		}
		l.logger.Error("pool invariant violated", "asset", NormalizeAsset(asset), "error", err)
		return zero, err
	}
	if err := l.pools.PutPool(NormalizeAsset(asset), current); err != nil {
		return zero, err
	}
	return out, nil
}

// Whitelisted lists the configured assets in ascending order.
func (l *Ledger) Whitelisted() ([]string, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	ids, err := l.assets.ListAssets()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Whitelist registers an asset with a zero pool. It does not start its own
// atomic unit.
func (l *Ledger) Whitelist(cfg *AssetConfig) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	next := cfg.Clone()
	next.ID = NormalizeAsset(next.ID)
	if _, ok, err := l.assets.GetAsset(next.ID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyWhitelisted, next.ID)
	}
	if err := l.assets.PutAsset(next); err != nil {
		return err
	}
	if err := l.pools.PutPool(next.ID, New()); err != nil {
		return err
	}
	l.emitter.Emit(events.CollateralWhitelisted{Asset: next.ID, Ticker: next.Ticker, Decimals: next.Decimals})
	return nil
}

// AddCollateralToWhitelist is the owner-only entry point for Whitelist.
func (l *Ledger) AddCollateralToWhitelist(ctx context.Context, caller crypto.Address, cfg *AssetConfig) error {
	if err := l.auth.RequireOwner(caller); err != nil {
		return err
	}
	return l.tx.Atomic(nativecommon.Context(ctx), func(context.Context) error {
		return l.Whitelist(cfg)
	})
}

// RemoveCollateralFromWhitelist deletes a clean pool. Any balance, open
// position, liquidity receipt or outstanding loan blocks removal.
func (l *Ledger) RemoveCollateralFromWhitelist(ctx context.Context, caller crypto.Address, asset string) error {
	if err := l.auth.RequireOwner(caller); err != nil {
		return err
	}
	id := NormalizeAsset(asset)
	return l.tx.Atomic(nativecommon.Context(ctx), func(context.Context) error {
		p, err := l.Get(id)
		if err != nil {
			return err
		}
		if !p.IsEmpty() {
			return fmt.Errorf("%w: %s has balances", ErrPoolNotEmpty, id)
		}
		for _, check := range l.checks {
			if err := check(id); err != nil {
				return fmt.Errorf("%w: %v", ErrPoolNotEmpty, err)
			}
		}
		if err := l.pools.DeletePool(id); err != nil {
			return err
		}
		if err := l.assets.DeleteAsset(id); err != nil {
			return err
		}
		for _, fn := range l.removed {
			if err := fn(id); err != nil {
				return err
			}
		}
		l.emitter.Emit(events.CollateralRemoved{Asset: id})
		return nil
	})
}

// Pool is the read-only query used by the API.
func (l *Ledger) Pool(ctx context.Context, asset string) (*Pool, *AssetConfig, error) {
	var (
		p   *Pool
		cfg *AssetConfig
	)
	err := l.tx.View(nativecommon.Context(ctx), func(context.Context) error {
		var err error
		if cfg, err = l.Asset(asset); err != nil {
			return err
		}
		p, err = l.Get(asset)
		return err
	})
	return p, cfg, err
}

// CollateralValue returns the stable value of amount at oracleValue, the price
// of one whole collateral unit.
func (c *AssetConfig) CollateralValue(oracleValue, amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, oracleValue)
	return out.Quo(out, c.Precision())
}
