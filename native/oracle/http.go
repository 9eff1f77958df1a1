package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed queries a JSON price endpoint of the form
// GET <endpoint>?base=WETH&quote=USD -> {"price":"1843.25","timestamp":1700000000}.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	decimals uint32
	name     string
}

// NewHTTPFeed constructs an HTTP feed. Prices are parsed at the supplied
// decimals. When client is nil a client with a ten second timeout is used.
func NewHTTPFeed(name string, client HTTPDoer, endpoint, apiKey string, decimals uint32) *HTTPFeed {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if strings.TrimSpace(name) == "" {
		name = "http"
	}
	return &HTTPFeed{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		decimals: decimals,
		name:     strings.ToLower(strings.TrimSpace(name)),
	}
}

// GetPrice implements Feed.
func (f *HTTPFeed) GetPrice(ctx context.Context, base, quote string) (Quote, error) {
	if f == nil || f.endpoint == "" {
		return Quote{}, fmt.Errorf("http feed not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("base", normaliseSymbol(base))
	values.Set("quote", normaliseSymbol(quote))
	req.URL.RawQuery = values.Encode()
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("%s feed: status %d: %s", f.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("%s feed: decode: %w", f.name, err)
	}
	price, err := ParseDecimal(payload.Price, f.decimals)
	if err != nil {
		return Quote{}, fmt.Errorf("%s feed: %w", f.name, err)
	}
	return Quote{
		Price:     price,
		Decimals:  f.decimals,
		Timestamp: time.Unix(payload.Timestamp, 0),
		Source:    f.name,
	}, nil
}
