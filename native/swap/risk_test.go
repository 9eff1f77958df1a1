package swap

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"hedgepool/crypto"
)

type memoryUsage struct {
	usage    map[string]*big.Int
	velocity map[string][]uint64
}

func newMemoryUsage() *memoryUsage {
	return &memoryUsage{usage: make(map[string]*big.Int), velocity: make(map[string][]uint64)}
}

func (m *memoryUsage) GetSwapUsage(addr crypto.Address, period string) (*big.Int, error) {
	if v, ok := m.usage[period+addr.String()]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memoryUsage) PutSwapUsage(addr crypto.Address, period string, amount *big.Int) error {
	m.usage[period+addr.String()] = new(big.Int).Set(amount)
	return nil
}

func (m *memoryUsage) GetSwapVelocity(addr crypto.Address) ([]uint64, error) {
	return append([]uint64{}, m.velocity[addr.String()]...), nil
}

func (m *memoryUsage) PutSwapVelocity(addr crypto.Address, samples []uint64) error {
	m.velocity[addr.String()] = append([]uint64{}, samples...)
	return nil
}

func testAddress(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[0] = b
	return crypto.MustNewAddress(crypto.AccountPrefix, raw)
}

func TestRiskParametersParse(t *testing.T) {
	denied := testAddress(1)
	cfg := RiskConfig{
		PerAddressDailyCap:   "10000e6",
		PerAddressMonthlyCap: "300_000e6",
		PerTxMin:             "1e6",
		PerTxMax:             "50000.5e6",
		VelocityWindowSecs:   600,
		VelocityMaxSwaps:     5,
		DenyList:             []string{" " + denied.String() + " ", denied.String()},
	}
	params, err := cfg.Parameters()
	if err != nil {
		t.Fatalf("parse parameters: %v", err)
	}
	if params.PerAddressDailyCap.Cmp(big.NewInt(10_000_000_000)) != 0 {
		t.Fatalf("unexpected daily cap: %s", params.PerAddressDailyCap)
	}
	if params.PerTxMax.Cmp(big.NewInt(50_000_500_000)) != 0 {
		t.Fatalf("unexpected per tx max: %s", params.PerTxMax)
	}
	if params.VelocityWindow != 10*time.Minute || params.VelocityMaxSwaps != 5 {
		t.Fatalf("unexpected velocity params: %+v", params)
	}
	if params.Allowed(denied) || !params.Allowed(testAddress(2)) {
		t.Fatalf("deny list not honoured")
	}
	if _, err := (RiskConfig{PerTxMin: "5", PerTxMax: "4"}).Parameters(); err == nil {
		t.Fatalf("expected inverted bounds to fail")
	}
	if _, err := (RiskConfig{PerTxMin: "1.5"}).Parameters(); err == nil {
		t.Fatalf("expected fractional amount to fail")
	}
	if _, err := (RiskConfig{DenyList: []string{"not-an-address"}}).Parameters(); err == nil {
		t.Fatalf("expected bad deny list entry to fail")
	}
}

func TestRiskEnginePerTxLimits(t *testing.T) {
	engine := NewRiskEngine(newMemoryUsage(), RiskParameters{PerTxMin: big.NewInt(10), PerTxMax: big.NewInt(100)})
	addr := testAddress(3)
	var violation *RiskViolation
	if err := engine.Check(addr, big.NewInt(5), true); !errors.As(err, &violation) || violation.Code != RiskCodePerTxMin {
		t.Fatalf("expected per tx min violation, got %v", err)
	}
	if err := engine.Check(addr, big.NewInt(500), false); !errors.As(err, &violation) || violation.Code != RiskCodePerTxMax {
		t.Fatalf("expected per tx max violation, got %v", err)
	}
	if err := engine.Check(addr, big.NewInt(50), true); err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
	if !errors.Is(&RiskViolation{Code: RiskCodeVelocity}, ErrRiskLimit) {
		t.Fatalf("violation must match ErrRiskLimit")
	}
}

func TestRiskEngineCapsAndVelocity(t *testing.T) {
	store := newMemoryUsage()
	engine := NewRiskEngine(store, RiskParameters{
		PerAddressDailyCap:   big.NewInt(100),
		PerAddressMonthlyCap: big.NewInt(150),
		VelocityWindow:       time.Minute,
		VelocityMaxSwaps:     3,
	})
	now := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })
	addr := testAddress(4)

	if err := engine.Record(addr, big.NewInt(80), true); err != nil {
		t.Fatalf("record: %v", err)
	}
	var violation *RiskViolation
	if err := engine.Check(addr, big.NewInt(30), true); !errors.As(err, &violation) || violation.Code != RiskCodeDailyCap {
		t.Fatalf("expected daily cap, got %v", err)
	}
	// redemptions are not capped
	if err := engine.Check(addr, big.NewInt(30), false); err != nil {
		t.Fatalf("redeem should pass caps: %v", err)
	}

	now = time.Date(2024, 2, 1, 0, 30, 0, 0, time.UTC)
	if err := engine.Check(addr, big.NewInt(90), true); err != nil {
		t.Fatalf("new month should reset caps: %v", err)
	}

	now = time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := engine.Record(addr, big.NewInt(1), false); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := engine.Check(addr, big.NewInt(1), false); !errors.As(err, &violation) || violation.Code != RiskCodeVelocity {
		t.Fatalf("expected velocity violation, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := engine.Check(addr, big.NewInt(1), false); err != nil {
		t.Fatalf("velocity window should have passed: %v", err)
	}
}

func TestNilRiskEngineAllowsEverything(t *testing.T) {
	var engine *RiskEngine
	if err := engine.Check(testAddress(5), big.NewInt(1), true); err != nil {
		t.Fatalf("nil engine: %v", err)
	}
	if err := engine.Record(testAddress(5), big.NewInt(1), true); err != nil {
		t.Fatalf("nil engine record: %v", err)
	}
}
