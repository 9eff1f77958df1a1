// Package oracle resolves collateral prices for the pool engines.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"hedgepool/native/fixedpoint"
)

var (
	// ErrNoFreshQuote indicates that no feed produced a quote within the
	// freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	ErrNotFound     = errors.New("oracle: quote not found")
	ErrInvalidQuote = errors.New("oracle: invalid quote")
)

// Quote is a price for one whole base unit expressed in quote units scaled by
// 10^Decimals.
type Quote struct {
	Price     *big.Int
	Decimals  uint32
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy.
func (q Quote) Clone() Quote {
	out := q
	if q.Price != nil {
		out.Price = new(big.Int).Set(q.Price)
	}
	return out
}

// Rescale converts the price to the supplied number of decimals, truncating
// when precision is lost.
func (q Quote) Rescale(decimals uint32) *big.Int {
	price := fixedpoint.Clone(q.Price)
	switch {
	case decimals == q.Decimals:
		return price
	case decimals > q.Decimals:
		return price.Mul(price, fixedpoint.PrecisionUnit(decimals-q.Decimals))
	default:
		return price.Quo(price, fixedpoint.PrecisionUnit(q.Decimals-decimals))
	}
}

// Feed resolves a price for the base/quote pair.
type Feed interface {
	GetPrice(ctx context.Context, base, quote string) (Quote, error)
}

// FeedFunc adapts a function to the Feed interface.
type FeedFunc func(ctx context.Context, base, quote string) (Quote, error)

func (f FeedFunc) GetPrice(ctx context.Context, base, quote string) (Quote, error) {
	return f(ctx, base, quote)
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SplitPair parses BASE/QUOTE. A bare symbol yields an empty quote.
func SplitPair(ticker string) (string, string) {
	base, quote, _ := strings.Cut(ticker, "/")
	return normaliseSymbol(base), normaliseSymbol(quote)
}

// ManualFeed provides an in-memory feed used for tests and manual overrides
// during incident response.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[string]Quote)}
}

func manualKey(base, quote string) string {
	return normaliseSymbol(base) + "_" + normaliseSymbol(quote)
}

// Set stores price for the pair.
func (m *ManualFeed) Set(base, quote string, price *big.Int, decimals uint32, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	m.mu.Lock()
	m.quotes[manualKey(base, quote)] = Quote{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		Timestamp: ts,
		Source:    "manual",
	}
	m.mu.Unlock()
}

// SetDecimal records a decimal rate such as "1843.25" at the supplied
// precision.
func (m *ManualFeed) SetDecimal(base, quote, rate string, decimals uint32, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	price, err := ParseDecimal(rate, decimals)
	if err != nil {
		return err
	}
	m.Set(base, quote, price, decimals, ts)
	return nil
}

// GetPrice implements Feed.
func (m *ManualFeed) GetPrice(_ context.Context, base, quote string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	stored, ok := m.quotes[manualKey(base, quote)]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s/%s", ErrNotFound, normaliseSymbol(base), normaliseSymbol(quote))
	}
	return stored.Clone(), nil
}

// ParseDecimal converts a positive decimal string into an integer scaled by
// 10^decimals.
func ParseDecimal(raw string, decimals uint32) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	rat, ok := new(big.Rat).SetString(trimmed)
	if trimmed == "" || !ok {
		return nil, fmt.Errorf("%w: rate %q", ErrInvalidQuote, raw)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rate must be positive", ErrInvalidQuote)
	}
	rat.Mul(rat, new(big.Rat).SetInt(fixedpoint.PrecisionUnit(decimals)))
	return new(big.Int).Quo(rat.Num(), rat.Denom()), nil
}

// Aggregator consults registered feeds in priority order until a fresh quote
// is obtained.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]Feed
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority and
// freshness window. A zero maxAge disables the freshness check.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority: prio,
		feeds:    make(map[string]Feed),
		maxAge:   maxAge,
		nowFn:    time.Now,
	}
}

// SetMaxAge updates the freshness window.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetNowFunc overrides the clock used for freshness checks.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// Register adds or replaces a feed. Unknown names are appended to the
// priority list.
func (a *Aggregator) Register(name string, feed Feed) {
	if a == nil || feed == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetPrice implements Feed. Missing, non-positive and stale quotes are
// skipped; when no feed answers the last error is returned.
func (a *Aggregator) GetPrice(ctx context.Context, base, quote string) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.nowFn()
	a.mu.RUnlock()

	baseSym := normaliseSymbol(base)
	quoteSym := normaliseSymbol(quote)
	if baseSym == "" || quoteSym == "" {
		return Quote{}, fmt.Errorf("%w: base and quote required", ErrInvalidQuote)
	}
	cutoff := now.Add(-maxAge)

	var lastErr error
	for _, name := range priority {
		if err := ctx.Err(); err != nil {
			return Quote{}, err
		}
		a.mu.RLock()
		feed := a.feeds[name]
		a.mu.RUnlock()
		if feed == nil {
			continue
		}
		q, err := feed.GetPrice(ctx, baseSym, quoteSym)
		if err != nil {
			lastErr = err
			continue
		}
		if q.Price == nil || q.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("%w: feed %s returned non-positive price", ErrInvalidQuote, name)
			continue
		}
		if maxAge > 0 && q.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := q.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}
