// Package tokens keeps balances for collateral, the stable-value token,
// liquidity receipts and non-fungible hedge receipts.
package tokens

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"hedgepool/crypto"
	"hedgepool/native/fixedpoint"
)

var (
	ErrInsufficientBalance = errors.New("tokens: insufficient balance")
	ErrInvalidAmount       = errors.New("tokens: amount must be positive")
	ErrReceiptNotFound     = errors.New("tokens: receipt not found")
	ErrInvalidAccount      = errors.New("tokens: account required")
	errNilState            = errors.New("tokens: state not configured")
)

// Fungible balances live under nonce zero.
const FungibleNonce uint64 = 0

// Receipt records the metadata attached to a non-fungible receipt.
type Receipt struct {
	Token    string
	Nonce    uint64
	Asset    string
	Owner    crypto.Address
	IssuedAt int64
}

// Clone returns a copy.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// Ledger is the token collaborator used by the pool engines. Every call runs
// inside the caller's atomic unit.
type Ledger interface {
	Mint(to crypto.Address, token string, amount *big.Int) error
	Burn(from crypto.Address, token string, nonce uint64, amount *big.Int) error
	Transfer(from, to crypto.Address, token string, nonce uint64, amount *big.Int) error
	CreatePositionReceipt(to crypto.Address, token string, meta Receipt) (uint64, error)
	ReadReceiptMetadata(token string, nonce uint64) (*Receipt, error)
	BalanceOf(owner crypto.Address, token string, nonce uint64) (*big.Int, error)
	OwnerOf(token string, nonce uint64) (crypto.Address, error)
	Supply(token string, nonce uint64) (*big.Int, error)
}

type ledgerState interface {
	TokenBalance(token string, nonce uint64, owner crypto.Address) (*big.Int, error)
	PutTokenBalance(token string, nonce uint64, owner crypto.Address, amount *big.Int) error
	TokenSupply(token string, nonce uint64) (*big.Int, error)
	PutTokenSupply(token string, nonce uint64, amount *big.Int) error
	NextTokenNonce(token string) (uint64, error)
	TokenReceipt(token string, nonce uint64) (*Receipt, bool, error)
	PutTokenReceipt(r *Receipt) error
	DeleteTokenReceipt(token string, nonce uint64) error
}

// Engine implements Ledger over a persistent state backend.
type Engine struct {
	state ledgerState
	nowFn func() int64
}

// NewEngine returns a token engine over state.
func NewEngine(state ledgerState, now func() int64) *Engine {
	return &Engine{state: state, nowFn: now}
}

// NormalizeToken canonicalises token identifiers.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// LiquidityToken names the receipt token of an asset's liquidity pool.
func LiquidityToken(asset string) string {
	return "LIQ-" + NormalizeToken(asset)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e *Engine) credit(owner crypto.Address, token string, nonce uint64, amount *big.Int) error {
	current, err := e.state.TokenBalance(token, nonce, owner)
	if err != nil {
		return err
	}
	return e.state.PutTokenBalance(token, nonce, owner, fixedpoint.Add(current, amount))
}

func (e *Engine) debit(owner crypto.Address, token string, nonce uint64, amount *big.Int) error {
	current, err := e.state.TokenBalance(token, nonce, owner)
	if err != nil {
		return err
	}
	if fixedpoint.Clone(current).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, owner, fixedpoint.Clone(current), token, amount)
	}
	next, err := fixedpoint.Sub(current, amount)
	if err != nil {
		return err
	}
	return e.state.PutTokenBalance(token, nonce, owner, next)
}

func (e *Engine) adjustSupply(token string, nonce uint64, delta *big.Int) error {
	current, err := e.state.TokenSupply(token, nonce)
	if err != nil {
		return err
	}
	next := fixedpoint.Add(current, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: %s supply", fixedpoint.ErrUnderflow, token)
	}
	return e.state.PutTokenSupply(token, nonce, next)
}

// Mint creates fungible units for to.
func (e *Engine) Mint(to crypto.Address, token string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrInvalidAccount
	}
	if err := positive(amount); err != nil {
		return err
	}
	id := NormalizeToken(token)
	if err := e.credit(to, id, FungibleNonce, amount); err != nil {
		return err
	}
	return e.adjustSupply(id, FungibleNonce, amount)
}

// Burn destroys units held by from. Burning a receipt's full supply removes
// its metadata.
func (e *Engine) Burn(from crypto.Address, token string, nonce uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	id := NormalizeToken(token)
	if err := e.debit(from, id, nonce, amount); err != nil {
		return err
	}
	if err := e.adjustSupply(id, nonce, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if nonce == FungibleNonce {
		return nil
	}
	supply, err := e.state.TokenSupply(id, nonce)
	if err != nil {
		return err
	}
	if fixedpoint.IsZero(supply) {
		return e.state.DeleteTokenReceipt(id, nonce)
	}
	return nil
}

// Transfer moves units between accounts. Moving a receipt updates its owner.
func (e *Engine) Transfer(from, to crypto.Address, token string, nonce uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if to.IsZero() || from.IsZero() {
		return ErrInvalidAccount
	}
	if err := positive(amount); err != nil {
		return err
	}
	id := NormalizeToken(token)
	if err := e.debit(from, id, nonce, amount); err != nil {
		return err
	}
	if err := e.credit(to, id, nonce, amount); err != nil {
		return err
	}
	if nonce == FungibleNonce {
		return nil
	}
	receipt, ok, err := e.state.TokenReceipt(id, nonce)
	if err != nil || !ok {
		return err
	}
	receipt.Owner = to
	return e.state.PutTokenReceipt(receipt)
}

// CreatePositionReceipt issues a single non-fungible unit under a fresh nonce.
func (e *Engine) CreatePositionReceipt(to crypto.Address, token string, meta Receipt) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if to.IsZero() {
		return 0, ErrInvalidAccount
	}
	id := NormalizeToken(token)
	nonce, err := e.state.NextTokenNonce(id)
	if err != nil {
		return 0, err
	}
	one := big.NewInt(1)
	if err := e.credit(to, id, nonce, one); err != nil {
		return 0, err
	}
	if err := e.adjustSupply(id, nonce, one); err != nil {
		return 0, err
	}
	receipt := meta.Clone()
	receipt.Token = id
	receipt.Nonce = nonce
	receipt.Owner = to
	if receipt.IssuedAt == 0 && e.nowFn != nil {
		receipt.IssuedAt = e.nowFn()
	}
	if err := e.state.PutTokenReceipt(receipt); err != nil {
		return 0, err
	}
	return nonce, nil
}

// ReadReceiptMetadata returns the receipt's metadata.
func (e *Engine) ReadReceiptMetadata(token string, nonce uint64) (*Receipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	receipt, ok, err := e.state.TokenReceipt(NormalizeToken(token), nonce)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s #%d", ErrReceiptNotFound, NormalizeToken(token), nonce)
	}
	return receipt.Clone(), nil
}

// BalanceOf returns the balance held by owner.
func (e *Engine) BalanceOf(owner crypto.Address, token string, nonce uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	balance, err := e.state.TokenBalance(NormalizeToken(token), nonce, owner)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Clone(balance), nil
}

// OwnerOf returns the holder of a receipt.
func (e *Engine) OwnerOf(token string, nonce uint64) (crypto.Address, error) {
	receipt, err := e.ReadReceiptMetadata(token, nonce)
	if err != nil {
		return crypto.Address{}, err
	}
	return receipt.Owner, nil
}

// Supply returns the circulating supply.
func (e *Engine) Supply(token string, nonce uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	supply, err := e.state.TokenSupply(NormalizeToken(token), nonce)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Clone(supply), nil
}
