// Package core assembles the protocol engines over a shared state store.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fees"
	"hedgepool/native/hedging"
	"hedgepool/native/keeper"
	"hedgepool/native/lending"
	"hedgepool/native/liquidity"
	"hedgepool/native/oracle"
	"hedgepool/native/pool"
	"hedgepool/native/reserves"
	"hedgepool/native/swap"
	"hedgepool/native/tokens"
	"hedgepool/state/stable"
	"hedgepool/storage"
)

// Module account names.
const (
	VaultAccount  = "vault"
	EscrowAccount = "lending-escrow"
)

// Options configures New.
type Options struct {
	DB      storage.Database
	Owner   crypto.Address
	Keepers []crypto.Address
	Oracle  oracle.Source

	// Lending is the external lending collaborator. When nil an in-process
	// market built from LendingConfig is used.
	Lending       reserves.LendingClient
	LendingConfig *lending.Config
	Epochs        reserves.EpochSource
	MinLendEpochs uint64

	MinHedgingPeriod time.Duration
	StableToken      string
	Risk             swap.RiskParameters
	Paused           []string

	Logger  *slog.Logger
	Emitter events.Emitter
	Now     func() time.Time
}

// Protocol holds every wired engine.
type Protocol struct {
	Store     *stable.Store
	Pools     *pool.Ledger
	Fees      *fees.Engine
	Tokens    *tokens.Engine
	Liquidity *liquidity.Engine
	Hedging   *hedging.Engine
	Reserves  *reserves.Adapter
	Swap      *swap.Engine
	Risk      *swap.RiskEngine
	Keeper    *keeper.Orchestrator
	Pauses    *nativecommon.Pauses
	Auth      *nativecommon.Authorizer

	// Market and Lending are set when the in-process lending market is used.
	Market  *lending.Market
	Lending *lending.AsyncClient

	Vault  crypto.Address
	Escrow crypto.Address
	logger *slog.Logger
}

// New wires the engines. Every engine shares the store's transactor, so
// nested calls join the caller's unit, and emits through the store so events
// of failed units are dropped.
func New(opts Options) (*Protocol, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if opts.Oracle == nil {
		return nil, fmt.Errorf("core: oracle source required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	epochs := opts.Epochs
	if epochs == nil {
		epochs = reserves.TimeEpochs(now(), 24*time.Hour, now)
	}

	store := stable.NewStore(opts.DB)
	store.SetLogger(logger)
	if opts.Emitter != nil {
		store.SetEmitter(opts.Emitter)
	}
	emitter := store.Emitter()

	p := &Protocol{
		Store:  store,
		Pauses: nativecommon.NewPauses(opts.Paused...),
		Auth:   nativecommon.NewAuthorizer(opts.Owner, opts.Keepers...),
		Vault:  crypto.ModuleAddress(VaultAccount),
		Escrow: crypto.ModuleAddress(EscrowAccount),
		logger: logger,
	}

	p.Pools = pool.NewLedger(store, store)
	p.Pools.SetTransactor(store)
	p.Pools.SetAuthorizer(p.Auth)
	p.Pools.SetEmitter(emitter)
	p.Pools.SetLogger(logger.With("module", "pool"))

	p.Fees = fees.NewEngine(p.Pools)
	p.Fees.SetState(store)
	p.Fees.SetTransactor(store)
	p.Fees.SetEmitter(emitter)
	p.Fees.SetLogger(logger.With("module", "fees"))

	p.Tokens = tokens.NewEngine(store, func() int64 { return now().Unix() })

	p.Liquidity = liquidity.NewEngine(p.Pools, p.Tokens, p.Vault)
	p.Liquidity.SetState(store)
	p.Liquidity.SetTransactor(store)
	p.Liquidity.SetPauses(p.Pauses)
	p.Liquidity.SetEmitter(emitter)
	p.Liquidity.SetLogger(logger.With("module", "liquidity"))

	p.Hedging = hedging.NewEngine(p.Pools, p.Fees, p.Liquidity, p.Tokens, opts.Oracle, p.Vault)
	p.Hedging.SetState(store)
	p.Hedging.SetTransactor(store)
	p.Hedging.SetPauses(p.Pauses)
	p.Hedging.SetAuthorizer(p.Auth)
	p.Hedging.SetEmitter(emitter)
	p.Hedging.SetLogger(logger.With("module", "hedging"))
	p.Hedging.SetNowFunc(now)
	p.Hedging.SetMinHedgingPeriod(opts.MinHedgingPeriod)

	p.Reserves = reserves.NewAdapter(p.Pools, p.Fees, p.Tokens, p.Vault, p.Escrow)
	p.Reserves.SetState(store)
	p.Reserves.SetTransactor(store)
	p.Reserves.SetPauses(p.Pauses)
	p.Reserves.SetAuthorizer(p.Auth)
	p.Reserves.SetEmitter(emitter)
	p.Reserves.SetLogger(logger.With("module", "reserves"))
	p.Reserves.SetNowFunc(now)
	p.Reserves.SetEpochs(epochs, opts.MinLendEpochs)
	client := opts.Lending
	if client == nil {
		cfg := lending.DefaultConfig()
		if opts.LendingConfig != nil {
			cfg = *opts.LendingConfig
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		p.Market = lending.NewMarket(cfg, epochs.Epoch)
		p.Lending = lending.NewAsyncClient(p.Market, cfg.QueueSize)
		p.Lending.SetLogger(logger.With("module", "lending"))
		p.Lending.Bind(p.Reserves)
		client = p.Lending
	}
	p.Reserves.SetClient(client)

	p.Risk = swap.NewRiskEngine(store, opts.Risk)
	p.Risk.SetClock(now)
	p.Swap = swap.NewEngine(p.Pools, p.Fees, p.Tokens, opts.Oracle, p.Vault)
	p.Swap.SetStableToken(opts.StableToken)
	p.Swap.SetRiskEngine(p.Risk)
	p.Swap.SetTransactor(store)
	p.Swap.SetPauses(p.Pauses)
	p.Swap.SetEmitter(emitter)
	p.Swap.SetLogger(logger.With("module", "swap"))

	p.Keeper = keeper.New(p.Pools, p.Fees, p.Liquidity, p.Hedging, p.Reserves, opts.Oracle)
	p.Keeper.SetTransactor(store)
	p.Keeper.SetPauses(p.Pauses)
	p.Keeper.SetAuthorizer(p.Auth)
	p.Keeper.SetEmitter(emitter)
	p.Keeper.SetLogger(logger.With("module", "keeper"))

	p.Pools.AddCleanlinessCheck(p.Hedging.HasOpenPositions)
	p.Pools.AddCleanlinessCheck(p.Liquidity.Outstanding)
	p.Pools.AddCleanlinessCheck(p.Reserves.Outstanding)
	p.Pools.AddCleanlinessCheck(p.Fees.Undistributed)
	p.Pools.OnRemove(p.Fees.Forget)
	return p, nil
}

// Start runs the in-process lending worker until ctx is cancelled. It is a
// no-op when an external lending client was supplied.
func (p *Protocol) Start(ctx context.Context) {
	if p == nil || p.Lending == nil {
		return
	}
	go func() {
		if err := p.Lending.Run(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("lending worker stopped", "error", err)
		}
	}()
}

// Close stops the in-process lending worker.
func (p *Protocol) Close() {
	if p == nil || p.Lending == nil {
		return
	}
	p.Lending.Close()
}
