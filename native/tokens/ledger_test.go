package tokens

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"hedgepool/crypto"
	"hedgepool/native/fixedpoint"
)

type mockState struct {
	balances map[string]*big.Int
	supply   map[string]*big.Int
	nonces   map[string]uint64
	receipts map[string]*Receipt
}

func newMockState() *mockState {
	return &mockState{
		balances: make(map[string]*big.Int),
		supply:   make(map[string]*big.Int),
		nonces:   make(map[string]uint64),
		receipts: make(map[string]*Receipt),
	}
}

func key(token string, nonce uint64) string { return fmt.Sprintf("%s/%d", token, nonce) }

func (m *mockState) TokenBalance(token string, nonce uint64, owner crypto.Address) (*big.Int, error) {
	return fixedpoint.Clone(m.balances[key(token, nonce)+"/"+owner.String()]), nil
}

func (m *mockState) PutTokenBalance(token string, nonce uint64, owner crypto.Address, amount *big.Int) error {
	m.balances[key(token, nonce)+"/"+owner.String()] = fixedpoint.Clone(amount)
	return nil
}

func (m *mockState) TokenSupply(token string, nonce uint64) (*big.Int, error) {
	return fixedpoint.Clone(m.supply[key(token, nonce)]), nil
}

func (m *mockState) PutTokenSupply(token string, nonce uint64, amount *big.Int) error {
	m.supply[key(token, nonce)] = fixedpoint.Clone(amount)
	return nil
}

func (m *mockState) NextTokenNonce(token string) (uint64, error) {
	m.nonces[token]++
	return m.nonces[token], nil
}

func (m *mockState) TokenReceipt(token string, nonce uint64) (*Receipt, bool, error) {
	r, ok := m.receipts[key(token, nonce)]
	return r.Clone(), ok, nil
}

func (m *mockState) PutTokenReceipt(r *Receipt) error {
	m.receipts[key(r.Token, r.Nonce)] = r.Clone()
	return nil
}

func (m *mockState) DeleteTokenReceipt(token string, nonce uint64) error {
	delete(m.receipts, key(token, nonce))
	return nil
}

func account(t *testing.T) crypto.Address {
	t.Helper()
	k, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k.PubKey().Address()
}

func TestFungibleFlow(t *testing.T) {
	engine := NewEngine(newMockState(), func() int64 { return 42 })
	alice, bob := account(t), account(t)

	if err := engine.Mint(alice, "weth", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.Transfer(alice, bob, "WETH", FungibleNonce, big.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := engine.Transfer(alice, bob, "WETH", FungibleNonce, big.NewInt(71)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := engine.Burn(bob, "WETH", FungibleNonce, big.NewInt(10)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	a, _ := engine.BalanceOf(alice, "WETH", FungibleNonce)
	b, _ := engine.BalanceOf(bob, "WETH", FungibleNonce)
	s, _ := engine.Supply("WETH", FungibleNonce)
	if a.Int64() != 70 || b.Int64() != 20 || s.Int64() != 90 {
		t.Fatalf("unexpected balances alice=%s bob=%s supply=%s", a, b, s)
	}
	if err := engine.Mint(alice, "WETH", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestPositionReceipts(t *testing.T) {
	engine := NewEngine(newMockState(), func() int64 { return 42 })
	alice, bob := account(t), account(t)

	first, err := engine.CreatePositionReceipt(alice, "HEDGE", Receipt{Asset: "WETH"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := engine.CreatePositionReceipt(alice, "HEDGE", Receipt{Asset: "WBTC"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first == second || first == FungibleNonce {
		t.Fatalf("expected distinct non-zero nonces, got %d and %d", first, second)
	}
	meta, err := engine.ReadReceiptMetadata("HEDGE", second)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if meta.Asset != "WBTC" || meta.IssuedAt != 42 || !meta.Owner.Equal(alice) {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	if err := engine.Transfer(alice, bob, "HEDGE", first, big.NewInt(1)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, err := engine.OwnerOf("HEDGE", first)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if !owner.Equal(bob) {
		t.Fatalf("expected bob to own the receipt")
	}

	if err := engine.Burn(bob, "HEDGE", first, big.NewInt(1)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if _, err := engine.ReadReceiptMetadata("HEDGE", first); !errors.Is(err, ErrReceiptNotFound) {
		t.Fatalf("expected burned receipt to be gone, got %v", err)
	}
}
