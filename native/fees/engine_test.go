package fees

import (
	"context"
	"math/big"
	"testing"

	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/pool"
)

type mockState struct {
	pools   map[string]*pool.Pool
	assets  map[string]*pool.AssetConfig
	configs map[string]*Configuration
	buckets map[string]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		pools:   make(map[string]*pool.Pool),
		assets:  make(map[string]*pool.AssetConfig),
		configs: make(map[string]*Configuration),
		buckets: make(map[string]*big.Int),
	}
}

func (m *mockState) GetPool(asset string) (*pool.Pool, bool, error) {
	p, ok := m.pools[asset]
	return p.Clone(), ok, nil
}

func (m *mockState) PutPool(asset string, p *pool.Pool) error {
	m.pools[asset] = p.Clone()
	return nil
}

func (m *mockState) DeletePool(asset string) error {
	delete(m.pools, asset)
	return nil
}

func (m *mockState) GetAsset(asset string) (*pool.AssetConfig, bool, error) {
	cfg, ok := m.assets[asset]
	return cfg.Clone(), ok, nil
}

func (m *mockState) PutAsset(cfg *pool.AssetConfig) error {
	m.assets[cfg.ID] = cfg.Clone()
	return nil
}

func (m *mockState) DeleteAsset(asset string) error {
	delete(m.assets, asset)
	return nil
}

func (m *mockState) ListAssets() ([]string, error) {
	out := make([]string, 0, len(m.assets))
	for id := range m.assets {
		out = append(out, id)
	}
	return out, nil
}

func (m *mockState) GetFeeConfig(asset string) (*Configuration, bool, error) {
	cfg, ok := m.configs[asset]
	return cfg.Clone(), ok, nil
}

func (m *mockState) PutFeeConfig(asset string, cfg *Configuration) error {
	m.configs[asset] = cfg.Clone()
	return nil
}

func (m *mockState) DeleteFeeConfig(asset string) error {
	delete(m.configs, asset)
	return nil
}

func (m *mockState) GetAccumulated(bucket, asset string) (*big.Int, error) {
	return fixedpoint.Clone(m.buckets[bucket+"/"+asset]), nil
}

func (m *mockState) PutAccumulated(bucket, asset string, amount *big.Int) error {
	m.buckets[bucket+"/"+asset] = fixedpoint.Clone(amount)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *pool.Ledger, *mockState, *events.Recorder) {
	t.Helper()
	state := newMockState()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := key.PubKey().Address()
	ledger := pool.NewLedger(state, state)
	ledger.SetAuthorizer(nativecommon.NewAuthorizer(owner))
	if err := ledger.AddCollateralToWhitelist(context.Background(), owner, testAsset()); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	engine := NewEngine(ledger)
	engine.SetState(state)
	rec := &events.Recorder{}
	engine.SetEmitter(rec)
	return engine, ledger, state, rec
}

func TestRefreshCachesSnapshot(t *testing.T) {
	engine, ledger, state, rec := newTestEngine(t)

	current, err := engine.Current("WETH")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.MintFee.Cmp(pct("0.4")) != 0 {
		t.Fatalf("expected max mint fee on empty pool, got %s", current.MintFee)
	}
	if len(state.configs) != 0 {
		t.Fatalf("current must not write the cache")
	}

	if err := ledger.Update("WETH", func(p *pool.Pool) error {
		p.CollateralAmount.SetInt64(1_000)
		p.StablecoinAmount.SetInt64(100_000)
		p.TotalCoveredValueInStablecoin.SetInt64(50_000)
		p.TotalCollateralCovered.SetInt64(500)
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := engine.UpdateFeesPercentage(context.Background(), "weth"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cached, ok := state.configs["WETH"]
	if !ok {
		t.Fatalf("expected cached snapshot")
	}
	if cached.HedgingRatio.Cmp(fixedpoint.OneInt()) != 0 {
		t.Fatalf("expected full hedging ratio, got %s", cached.HedgingRatio)
	}
	if cached.MintFee.Cmp(pct("0.2")) != 0 || cached.BurnFee.Cmp(pct("0.4")) != 0 {
		t.Fatalf("unexpected fees: mint %s burn %s", cached.MintFee, cached.BurnFee)
	}
	if cached.Slippage.Sign() != 0 {
		t.Fatalf("expected zero slippage when fully hedged")
	}
	if types := rec.Types(); len(types) != 1 || types[0] != events.TypeFeesUpdated {
		t.Fatalf("unexpected events %v", types)
	}

	// The cache is a snapshot: pool changes are not visible until refresh.
	if err := ledger.Update("WETH", func(p *pool.Pool) error {
		p.TotalCoveredValueInStablecoin.SetInt64(0)
		p.TotalCollateralCovered.SetInt64(0)
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap, err := engine.Snapshot(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.HedgingRatio.Cmp(fixedpoint.OneInt()) != 0 {
		t.Fatalf("expected cached ratio")
	}
	live, err := engine.Quote("WETH")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if live.HedgingRatio.Sign() != 0 {
		t.Fatalf("expected live ratio zero, got %s", live.HedgingRatio)
	}
}

func TestQuoteRejectsUnknownAsset(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if _, err := engine.Quote("DOGE"); err == nil {
		t.Fatalf("expected whitelist error")
	}
}

func TestBuckets(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if err := engine.AccrueFees("WETH", big.NewInt(40)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := engine.AccrueFees("WETH", big.NewInt(2)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := engine.AccrueLendRewards("WETH", big.NewInt(7)); err != nil {
		t.Fatalf("accrue rewards: %v", err)
	}
	if err := engine.AccrueFees("WETH", big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative accrual to fail")
	}

	drained, err := engine.Drain(BucketFees, "WETH")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if drained.Int64() != 42 {
		t.Fatalf("expected 42 drained, got %s", drained)
	}
	left, err := engine.Accumulated(BucketFees, "WETH")
	if err != nil {
		t.Fatalf("accumulated: %v", err)
	}
	if left.Sign() != 0 {
		t.Fatalf("expected empty fee bucket, got %s", left)
	}
	rewards, err := engine.Accumulated(BucketLendRewards, "WETH")
	if err != nil {
		t.Fatalf("accumulated: %v", err)
	}
	if rewards.Int64() != 7 {
		t.Fatalf("expected rewards untouched, got %s", rewards)
	}
}
