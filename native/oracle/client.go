package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hedgepool/observability"
)

// Source yields the stable-value price of one whole collateral unit.
type Source interface {
	CollateralValue(ctx context.Context, ticker string) (*big.Int, error)
}

// Client adapts a Feed into a Source denominated in the stablecoin.
type Client struct {
	feed           Feed
	quote          string
	stableDecimals uint32
	nowFn          func() time.Time
	tracer         trace.Tracer
}

// NewClient returns a client quoting tickers without an explicit quote
// currency against defaultQuote and rescaling prices to stableDecimals.
func NewClient(feed Feed, defaultQuote string, stableDecimals uint32) *Client {
	return &Client{
		feed:           feed,
		quote:          normaliseSymbol(defaultQuote),
		stableDecimals: stableDecimals,
		nowFn:          time.Now,
		tracer:         otel.Tracer("hedgepool/oracle"),
	}
}

// SetNowFunc overrides the clock used for freshness metrics.
func (c *Client) SetNowFunc(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.nowFn = now
}

// CollateralValue fetches the ticker and rescales it to the stablecoin's
// decimals. A zero price is rejected.
func (c *Client) CollateralValue(ctx context.Context, ticker string) (*big.Int, error) {
	if c == nil || c.feed == nil {
		return nil, fmt.Errorf("oracle client not configured")
	}
	base, quote := SplitPair(ticker)
	if quote == "" {
		quote = c.quote
	}
	pair := base + "/" + quote
	ctx, span := c.tracer.Start(ctx, "oracle.CollateralValue", trace.WithAttributes(attribute.String("pair", pair)))
	defer span.End()

	q, err := c.feed.GetPrice(ctx, base, quote)
	observability.Oracle().RecordFetch(pair, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("oracle: %s: %w", pair, err)
	}
	observability.Oracle().RecordFreshness(pair, c.nowFn().Sub(q.Timestamp))
	value := q.Rescale(c.stableDecimals)
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s rescaled to zero", ErrInvalidQuote, pair)
	}
	span.SetAttributes(attribute.String("source", q.Source), attribute.String("value", value.String()))
	return value, nil
}

// Static is a fixed-price Source used by tests and dry runs.
type Static map[string]*big.Int

// CollateralValue implements Source.
func (s Static) CollateralValue(_ context.Context, ticker string) (*big.Int, error) {
	v, ok := s[ticker]
	if !ok || v == nil || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	return new(big.Int).Set(v), nil
}
