package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"hedgepool/core"
	"hedgepool/core/coretest"
	"hedgepool/core/events"
	"hedgepool/crypto"
	"hedgepool/native/oracle"
	"hedgepool/services/stabled/journal"
)

func newJournalHarness(t *testing.T) (*harness, *journal.Journal) {
	t.Helper()
	db, err := journal.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	j, err := journal.New(ctx, db)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = j.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	env := coretest.New(t, func(o *core.Options) {
		o.Emitter = events.Fanout{o.Emitter, j}
	})
	prices := oracle.NewManualFeed()
	srv, err := New(Config{}, env.Protocol, prices, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	srv.SetJournal(j)
	return &harness{env: env, prices: prices, handler: srv.Handler()}, j
}

func waitForSeq(t *testing.T, j *journal.Journal, seq uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		head, _ := j.Head()
		return head >= seq
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEventsListing(t *testing.T) {
	h, j := newJournalHarness(t)
	seller := coretest.Account(t)
	h.env.Fund(seller, 1_000_000)
	waitForSeq(t, j, 1)

	rec := h.do(t, http.MethodPost, "/v1/swap/sell", seller, map[string]string{"asset": "WETH", "amount": "1000000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		list, err := j.List(context.Background(), journal.Filter{Type: events.TypeSwap})
		return err == nil && len(list) == 1
	}, 5*time.Second, 10*time.Millisecond)

	rec = h.do(t, http.MethodGet, "/v1/events?type="+events.TypeSwap+"&asset=weth", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page eventsResponse
	decodeBody(t, rec, &page)
	require.Len(t, page.Events, 1)
	require.Equal(t, "1992000000", page.Events[0].Attributes["amountOut"])
	require.Equal(t, seller.String(), page.Events[0].Attributes["caller"])
	require.GreaterOrEqual(t, page.Head, page.Events[0].Seq)

	rec = h.do(t, http.MethodGet, "/v1/events?type=pool.whitelisted", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &page)
	require.Len(t, page.Events, 1)
	require.Equal(t, coretest.Asset, page.Events[0].Asset)

	rec = h.do(t, http.MethodGet, "/v1/events?after=1000", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &page)
	require.Empty(t, page.Events)

	rec = h.do(t, http.MethodGet, "/v1/events?after=x", crypto.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/events?limit=-1", crypto.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsDisabledWithoutJournal(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.do(t, http.MethodGet, "/v1/events", crypto.Address{}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/events/stream", crypto.Address{}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStreamReplaysThenFollows(t *testing.T) {
	h, j := newJournalHarness(t)
	seller := coretest.Account(t)
	h.env.Fund(seller, 2_000_000)
	sell := map[string]string{"asset": "WETH", "amount": "1000000"}

	rec := h.do(t, http.MethodPost, "/v1/swap/sell", seller, sell)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		list, err := j.List(context.Background(), journal.Filter{Type: events.TypeSwap})
		return err == nil && len(list) == 1
	}, 5*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/stream?type=" + events.TypeSwap
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() journal.Record {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var out journal.Record
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	}

	first := read()
	require.Equal(t, events.TypeSwap, first.Type)
	require.Equal(t, "1000000", first.Attributes["amountIn"])

	rec = h.do(t, http.MethodPost, "/v1/swap/sell", seller, sell)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	second := read()
	require.Equal(t, events.TypeSwap, second.Type)
	require.Greater(t, second.Seq, first.Seq)
	require.NotEmpty(t, second.PrevDigest)
}
