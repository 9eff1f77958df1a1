// Package coretest builds a fully wired protocol over an in-memory database
// for package tests.
package coretest

import (
	"context"
	"math/big"
	"testing"
	"time"

	"hedgepool/core"
	"hedgepool/core/events"
	"hedgepool/crypto"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/oracle"
	"hedgepool/native/pool"
	"hedgepool/native/reserves"
	"hedgepool/native/tokens"
	"hedgepool/storage"
)

// Asset is the collateral every fixture whitelists.
const (
	Asset  = "WETH"
	Ticker = "WETH/USD"
)

// Env is a wired protocol plus handles on its clock, epochs and prices.
// Operator is the registered keeper account.
type Env struct {
	*core.Protocol
	T        testing.TB
	Ctx      context.Context
	Owner    crypto.Address
	Operator crypto.Address
	Prices   oracle.Static
	Recorder *events.Recorder
	Now      time.Time
	Epoch    uint64
}

// AssetConfig returns the parameters used for Asset: 6 decimals, fees from
// 0.2% to 0.4%, target hedge 50%, limit 90%, 10x leverage, 5% maintenance,
// lend 50% of reserves, providers take 60% of fees and 80% of lend rewards.
func AssetConfig() *pool.AssetConfig {
	pct := func(p int64) *big.Int { return big.NewInt(p * fixedpoint.Precision / 1000) }
	return &pool.AssetConfig{
		ID:                   Asset,
		Ticker:               Ticker,
		Decimals:             6,
		MinFee:               pct(2),
		MaxFee:               pct(4),
		TargetHedgingRatio:   pct(500),
		LimitHedgingRatio:    pct(900),
		MinSlippage:          pct(1),
		MaxSlippage:          pct(5),
		MaxLeverage:          big.NewInt(10 * fixedpoint.One),
		MaintenanceRatio:     big.NewInt(fixedpoint.One / 20),
		LendPercentage:       pct(500),
		MinReservesAfterLend: big.NewInt(0),
		ProviderFeeShare:     pct(600),
		ProviderLendShare:    pct(800),
	}
}

// Price is the initial WETH price: 2000 stable units with 6 decimals.
var Price = big.NewInt(2_000_000_000)

// New wires the protocol, whitelists Asset and registers a keeper. mutate may
// adjust the options before wiring.
func New(t testing.TB, mutate ...func(*core.Options)) *Env {
	t.Helper()
	env := &Env{
		T:        t,
		Ctx:      context.Background(),
		Owner:    Account(t),
		Operator: Account(t),
		Prices:   oracle.Static{Ticker: new(big.Int).Set(Price)},
		Recorder: &events.Recorder{},
		Now:      time.Unix(1_700_000_000, 0),
	}
	opts := core.Options{
		DB:            storage.NewMemDB(),
		Owner:         env.Owner,
		Keepers:       []crypto.Address{env.Operator},
		Oracle:        env.Prices,
		Epochs:        reserves.EpochFunc(func() uint64 { return env.Epoch }),
		MinLendEpochs: 2,
		Emitter:       env.Recorder,
		Now:           func() time.Time { return env.Now },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	p, err := core.New(opts)
	if err != nil {
		t.Fatalf("wire protocol: %v", err)
	}
	env.Protocol = p
	if err := p.Pools.AddCollateralToWhitelist(env.Ctx, env.Owner, AssetConfig()); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	t.Cleanup(p.Close)
	return env
}

// Account returns a fresh account address.
func Account(t testing.TB) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address()
}

// Fund mints collateral to addr.
func (e *Env) Fund(addr crypto.Address, amount int64) {
	e.T.Helper()
	if err := e.Tokens.Mint(addr, Asset, big.NewInt(amount)); err != nil {
		e.T.Fatalf("fund %s: %v", addr, err)
	}
}

// Balance returns addr's fungible balance of token.
func (e *Env) Balance(addr crypto.Address, token string) *big.Int {
	e.T.Helper()
	bal, err := e.Tokens.BalanceOf(addr, token, tokens.FungibleNonce)
	if err != nil {
		e.T.Fatalf("balance: %v", err)
	}
	return bal
}

// Pool returns the current pool of Asset.
func (e *Env) Pool() *pool.Pool {
	e.T.Helper()
	p, _, err := e.Pools.Pool(e.Ctx, Asset)
	if err != nil {
		e.T.Fatalf("pool: %v", err)
	}
	return p
}

// SetPrice moves the oracle price of Asset.
func (e *Env) SetPrice(v int64) { e.Prices[Ticker] = big.NewInt(v) }

// Advance moves the clock forward.
func (e *Env) Advance(d time.Duration) { e.Now = e.Now.Add(d) }

// SeedPool sells collateral into the pool so hedges have room. It returns the
// stable minted.
func (e *Env) SeedPool(amount int64) *big.Int {
	e.T.Helper()
	seller := Account(e.T)
	e.Fund(seller, amount)
	res, err := e.Swap.SellCollateral(e.Ctx, seller, Asset, big.NewInt(amount), nil)
	if err != nil {
		e.T.Fatalf("seed pool: %v", err)
	}
	return res.AmountOut
}
