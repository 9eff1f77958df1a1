package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hedgepool/core/coretest"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/oracle"
)

type harness struct {
	env     *coretest.Env
	prices  *oracle.ManualFeed
	handler http.Handler
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	env := coretest.New(t)
	prices := oracle.NewManualFeed()
	srv, err := New(cfg, env.Protocol, prices, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return &harness{env: env, prices: prices, handler: srv.Handler()}
}

func (h *harness) request(t *testing.T, method, path string, account crypto.Address, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if !account.IsZero() {
		req.Header.Set(HeaderAccount, account.String())
	}
	return req
}

func (h *harness) do(t *testing.T, method, path string, account crypto.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, h.request(t, method, path, account, body))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestSellAndPoolView(t *testing.T) {
	h := newHarness(t, Config{})
	seller := coretest.Account(t)
	h.env.Fund(seller, 1_000_000)

	rec := h.do(t, http.MethodPost, "/v1/swap/sell", seller, map[string]string{
		"asset": "weth", "amount": "1000000", "min_out": "1992000000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sold swapResponse
	decodeBody(t, rec, &sold)
	require.Equal(t, "1992000000", sold.AmountOut)
	require.Equal(t, "4000", sold.Fee)
	require.Equal(t, "sell", sold.Direction)

	rec = h.do(t, http.MethodGet, "/v1/pools/weth", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view poolResponse
	decodeBody(t, rec, &view)
	require.Equal(t, coretest.Asset, view.Asset)
	require.Equal(t, "996000", view.CollateralAmount)
	require.Equal(t, "1992000000", view.StablecoinAmount)
	require.NotNil(t, view.Fees)

	rec = h.do(t, http.MethodGet, "/v1/pools/WETH/quote?direction=buy&amount=1000000000", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var quote swapResponse
	decodeBody(t, rec, &quote)
	require.Equal(t, "buy", quote.Direction)
	require.Equal(t, "499000", quote.AmountOut)
}

func TestHedgeLifecycle(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.SeedPool(10_000_000)
	hedger := coretest.Account(t)
	h.env.Fund(hedger, 1_000_000)

	rec := h.do(t, http.MethodPost, "/v1/positions", hedger, map[string]string{
		"asset": coretest.Asset, "payment": "1000000", "amount_to_cover": "4000000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var opened positionResponse
	decodeBody(t, rec, &opened)
	require.Equal(t, "998000", opened.Deposit)
	require.Equal(t, hedger.String(), opened.Holder)

	path := fmt.Sprintf("/v1/positions/%d", opened.Nonce)
	rec = h.do(t, http.MethodGet, path, crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health positionResponse
	decodeBody(t, rec, &health)
	require.False(t, health.Liquidable)
	require.Equal(t, hedger.String(), health.Holder)

	rec = h.do(t, http.MethodGet, "/v1/pools/WETH/positions", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"deposit":"998000"`)

	stranger := coretest.Account(t)
	rec = h.do(t, http.MethodPost, path+"/close", stranger, map[string]string{})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, path+"/margin/remove", hedger, map[string]string{"amount": "998000"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, path+"/margin/add", hedger, map[string]string{"amount": "0"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	h.env.Advance(time.Hour)
	rec = h.do(t, http.MethodPost, path+"/close", hedger, map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, path, crypto.Address{}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorStatuses(t *testing.T) {
	h := newHarness(t, Config{})
	user := coretest.Account(t)

	cases := map[string]struct {
		method  string
		path    string
		account crypto.Address
		body    any
		status  int
	}{
		"missing account": {http.MethodPost, "/v1/swap/sell", crypto.Address{}, map[string]string{"asset": "WETH", "amount": "1"}, http.StatusBadRequest},
		"bad amount":      {http.MethodPost, "/v1/swap/sell", user, map[string]string{"asset": "WETH", "amount": "1.5"}, http.StatusBadRequest},
		"unknown field":   {http.MethodPost, "/v1/swap/sell", user, map[string]string{"asset": "WETH", "amount": "1", "extra": "x"}, http.StatusBadRequest},
		"unknown asset":   {http.MethodGet, "/v1/pools/DOGE", crypto.Address{}, nil, http.StatusNotFound},
		"no balance":      {http.MethodPost, "/v1/swap/sell", user, map[string]string{"asset": "WETH", "amount": "1000"}, http.StatusUnprocessableEntity},
		"not keeper":      {http.MethodPost, "/v1/keeper/pools/WETH/rebalance", user, nil, http.StatusForbidden},
		"not owner":       {http.MethodDelete, "/v1/admin/pools/WETH", user, nil, http.StatusForbidden},
		"bad nonce":       {http.MethodGet, "/v1/positions/zero", crypto.Address{}, nil, http.StatusBadRequest},
		"no loan":         {http.MethodPost, "/v1/keeper/pools/WETH/withdraw", h.env.Operator, nil, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.do(t, tc.method, tc.path, tc.account, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var body errorResponse
			decodeBody(t, rec, &body)
			require.NotEmpty(t, body.Error)
			require.NotEmpty(t, body.RequestID)
		})
	}
}

func TestKeeperRoutes(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.SeedPool(10_000_000)

	rec := h.do(t, http.MethodPost, "/v1/keeper/pools/WETH/fees", h.env.Operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snapshot feesResponse
	decodeBody(t, rec, &snapshot)
	require.NotEmpty(t, snapshot.MintFee)

	rec = h.do(t, http.MethodPost, "/v1/keeper/pools/WETH/split-fees", h.env.Operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"reserve_share"`)

	rec = h.do(t, http.MethodGet, "/v1/pools/WETH/loan", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"lent":false}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/v1/lending/pending", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"pending":[]}`, rec.Body.String())
}

func TestAdminPauseBlocksModule(t *testing.T) {
	h := newHarness(t, Config{})
	seller := coretest.Account(t)
	h.env.Fund(seller, 1_000_000)
	sell := map[string]string{"asset": "WETH", "amount": "1000000"}

	rec := h.do(t, http.MethodPut, "/v1/admin/pauses/swap", seller, map[string]bool{"paused": true})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPut, "/v1/admin/pauses/swap", h.env.Owner, map[string]bool{"paused": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, h.env.Pauses.IsPaused(nativecommon.ModuleSwap))

	rec = h.do(t, http.MethodPost, "/v1/swap/sell", seller, sell)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(t, http.MethodPut, "/v1/admin/pauses/swap", h.env.Owner, map[string]bool{"paused": false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodPost, "/v1/swap/sell", seller, sell)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPut, "/v1/admin/pauses/bank", h.env.Owner, map[string]bool{"paused": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminWhitelistAndPrice(t *testing.T) {
	h := newHarness(t, Config{StableDecimals: 6})
	listing := map[string]any{
		"id": "wbtc", "ticker": "WBTC/USD", "decimals": 8,
		"min_fee": "0.1", "max_fee": "0.3", "target_hedging_ratio": "50", "limit_hedging_ratio": "90",
		"min_slippage": "0.1", "max_slippage": "0.5", "max_leverage": "5", "maintenance_ratio": "0.05",
		"lend_percentage": "25", "min_reserves_after_lend": "0", "provider_fee_share": "50", "provider_lend_share": "50",
	}

	rec := h.do(t, http.MethodPost, "/v1/admin/pools", h.env.Owner, listing)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = h.do(t, http.MethodPost, "/v1/admin/pools", h.env.Owner, listing)
	require.Equal(t, http.StatusConflict, rec.Code)

	listing["id"] = "bad"
	listing["max_fee"] = "nope"
	rec = h.do(t, http.MethodPost, "/v1/admin/pools", h.env.Owner, listing)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/assets", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "WBTC")

	rec = h.do(t, http.MethodPut, "/v1/admin/prices/wbtc/usd", h.env.Owner, map[string]string{"rate": "65000.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote, err := h.prices.GetPrice(h.env.Ctx, "WBTC", "USD")
	require.NoError(t, err)
	require.Equal(t, int64(65_000_500_000), quote.Price.Int64())

	rec = h.do(t, http.MethodDelete, "/v1/admin/pools/WBTC", h.env.Owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestBearerTokenRequired(t *testing.T) {
	h := newHarness(t, Config{BearerToken: "secret"})

	rec := h.do(t, http.MethodGet, "/v1/assets", crypto.Address{}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/assets", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/healthz", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitPerAccount(t *testing.T) {
	h := newHarness(t, Config{RateLimit: RateLimit{RequestsPerMinute: 1, Burst: 2}})
	first, second := coretest.Account(t), coretest.Account(t)

	for i := 0; i < 2; i++ {
		rec := h.do(t, http.MethodGet, "/v1/assets", first, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := h.do(t, http.MethodGet, "/v1/assets", first, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/assets", second, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDEcho(t *testing.T) {
	h := newHarness(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "trace-123")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, "trace-123", rec.Header().Get(HeaderRequestID))

	rec = h.do(t, http.MethodGet, "/healthz", crypto.Address{}, nil)
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))
	require.True(t, strings.Contains(rec.Body.String(), "ok"))
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	limiter.obtain("a")
	limiter.obtain("b")
	require.Len(t, limiter.visitors, 2)

	now = now.Add(time.Hour)
	limiter.obtain("c")
	require.Len(t, limiter.visitors, 1)
}
