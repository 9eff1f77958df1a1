// Package lending is a reference supply-side yield market used as the
// external lending collaborator. Suppliers receive share receipts against a
// per-asset supply index that grows each epoch with the kinked interest
// curve.
package lending

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrInvalidAmount         = errors.New("lending: amount must be positive")
	ErrReceiptNotFound       = errors.New("lending: receipt not found")
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	ErrSupplyCapReached      = errors.New("lending: supply cap reached")
)

// Market holds every reserve and outstanding receipt.
type Market struct {
	mu          sync.Mutex
	cfg         Config
	model       *InterestModel
	utilisation *big.Rat
	epochFn     func() uint64
	reserves    map[string]*Reserve
	receipts    map[uint64]*Receipt
	nextNonce   uint64
}

// NewMarket returns an empty market. epoch reports the current lending epoch.
func NewMarket(cfg Config, epoch func() uint64) *Market {
	if epoch == nil {
		epoch = func() uint64 { return 0 }
	}
	utilisation := new(big.Rat)
	utilisation.SetFloat64(cfg.Utilisation)
	return &Market{
		cfg:         cfg,
		model:       cfg.Model(),
		utilisation: utilisation,
		epochFn:     epoch,
		reserves:    make(map[string]*Reserve),
		receipts:    make(map[uint64]*Receipt),
	}
}

func normalize(asset string) string { return strings.ToUpper(strings.TrimSpace(asset)) }

func (m *Market) reserve(asset string) *Reserve {
	id := normalize(asset)
	r, ok := m.reserves[id]
	if !ok {
		r = &Reserve{
			Asset:       id,
			Principal:   new(big.Int),
			Shares:      new(big.Int),
			Cash:        new(big.Int),
			SupplyIndex: new(big.Int).Set(ray),
			LastEpoch:   m.epochFn(),
		}
		m.reserves[id] = r
	}
	return r
}

// borrowed is the external demand implied by the configured utilisation.
func (m *Market) borrowed(r *Reserve) *big.Int {
	scaled := new(big.Rat).Mul(m.utilisation, new(big.Rat).SetInt(r.Principal))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// accrue grows the supply index up to the current epoch.
func (m *Market) accrue(r *Reserve) {
	now := m.epochFn()
	if now <= r.LastEpoch {
		return
	}
	delta := now - r.LastEpoch
	r.LastEpoch = now
	if r.Shares.Sign() == 0 {
		return
	}
	apy := m.model.SupplyAPY(m.borrowed(r), r.Principal, m.cfg.ReserveFactorBps)
	r.SupplyIndex = rayMul(r.SupplyIndex, rateFactor(apy, delta, m.cfg.EpochsPerYear))
}

// Fund adds interest liquidity to asset's reserve.
func (m *Market) Fund(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.reserve(asset)
	r.Cash.Add(r.Cash, amount)
	return nil
}

// Supply deposits amount and returns the receipt nonce.
func (m *Market) Supply(asset string, amount *big.Int) (uint64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.reserve(asset)
	m.accrue(r)
	if limit := m.cfg.MaxTotalSupply; limit != nil && limit.Sign() > 0 {
		if new(big.Int).Add(r.Principal, amount).Cmp(limit) > 0 {
			return 0, fmt.Errorf("%w: %s", ErrSupplyCapReached, r.Asset)
		}
	}
	shares := sharesFromLiquidity(amount, r.SupplyIndex)
	if shares.Sign() == 0 {
		return 0, ErrInvalidAmount
	}
	r.Principal.Add(r.Principal, amount)
	r.Shares.Add(r.Shares, shares)
	r.Cash.Add(r.Cash, amount)
	m.nextNonce++
	nonce := m.nextNonce
	m.receipts[nonce] = &Receipt{Nonce: nonce, Asset: r.Asset, Principal: cloneInt(amount), Shares: shares}
	return nonce, nil
}

// Value returns what redeeming the receipt would pay now.
func (m *Market) Value(nonce uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt, ok := m.receipts[nonce]
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrReceiptNotFound, nonce)
	}
	r := m.reserve(receipt.Asset)
	m.accrue(r)
	return liquidityFromShares(receipt.Shares, r.SupplyIndex), nil
}

// Redeem burns the receipt and pays principal plus accrued interest. It fails
// without side effects when the reserve lacks the cash.
func (m *Market) Redeem(nonce uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt, ok := m.receipts[nonce]
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrReceiptNotFound, nonce)
	}
	r := m.reserve(receipt.Asset)
	m.accrue(r)
	amount := liquidityFromShares(receipt.Shares, r.SupplyIndex)
	if amount.Cmp(r.Cash) > 0 {
		return nil, fmt.Errorf("%w: owed %s, cash %s", ErrInsufficientLiquidity, amount, r.Cash)
	}
	r.Cash.Sub(r.Cash, amount)
	r.Shares.Sub(r.Shares, receipt.Shares)
	r.Principal.Sub(r.Principal, receipt.Principal)
	if r.Principal.Sign() < 0 {
		r.Principal.SetInt64(0)
	}
	delete(m.receipts, nonce)
	return amount, nil
}

// Reserve returns a snapshot of asset's reserve.
func (m *Market) Reserve(asset string) *Reserve {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.reserve(asset)
	m.accrue(r)
	return r.Clone()
}

// SupplyRate returns the current annual supply rate of asset.
func (m *Market) SupplyRate(asset string) *big.Rat {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.reserve(asset)
	return m.model.SupplyAPY(m.borrowed(r), r.Principal, m.cfg.ReserveFactorBps)
}
