// Package server exposes the protocol over an HTTP JSON API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hedgepool/core"
	"hedgepool/native/oracle"
	"hedgepool/services/stabled/journal"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress  string
	RateLimit      RateLimit
	StableDecimals uint32

	// BearerToken, when set, is accepted on every /v1 request.
	BearerToken string
	// Auth enables JWT bearer tokens alongside or instead of BearerToken.
	Auth AuthConfig
}

// Server hosts the protocol API.
type Server struct {
	cfg      Config
	protocol *core.Protocol
	prices   *oracle.ManualFeed
	journal  *journal.Journal
	limiter  *RateLimiter
	logger   *slog.Logger
	router   http.Handler
}

// New constructs the server. prices may be nil; when set, owners can pin
// manual quotes through the admin routes.
func New(cfg Config, protocol *core.Protocol, prices *oracle.ManualFeed, logger *slog.Logger) (*Server, error) {
	if protocol == nil {
		return nil, fmt.Errorf("server: protocol required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7080"
	}
	s := &Server{
		cfg:      cfg,
		protocol: protocol,
		prices:   prices,
		limiter:  NewRateLimiter(cfg.RateLimit),
		logger:   logger,
	}
	s.router = s.routes()
	return s, nil
}

// SetJournal exposes the event journal through /v1/events.
func (s *Server) SetJournal(j *journal.Journal) {
	s.journal = j
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "stabled")
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestID)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Use(s.limiter.Middleware)

		api.Get("/assets", s.observe("pool", "assets", s.handleAssets))
		api.Get("/pools/{asset}", s.observe("pool", "get", s.handlePool))
		api.Get("/pools/{asset}/fees", s.observe("fees", "current", s.handleFees))
		api.Get("/pools/{asset}/quote", s.observe("swap", "quote", s.handleQuote))
		api.Get("/pools/{asset}/positions", s.observe("hedging", "list", s.handlePositions))
		api.Get("/pools/{asset}/liquidity/{account}", s.observe("liquidity", "position", s.handleProviderPosition))
		api.Get("/pools/{asset}/loan", s.observe("lending", "loan", s.handleLoan))
		api.Get("/lending/pending", s.observe("lending", "pending", s.handlePending))
		api.Get("/events", s.observe("journal", "list", s.handleEvents))
		api.Get("/events/stream", s.handleEventStream)

		api.Post("/swap/sell", s.observe("swap", "sell", s.handleSell))
		api.Post("/swap/buy", s.observe("swap", "buy", s.handleBuy))

		api.Post("/liquidity/add", s.observe("liquidity", "add", s.handleAddLiquidity))
		api.Post("/liquidity/remove", s.observe("liquidity", "remove", s.handleRemoveLiquidity))

		api.Post("/positions", s.observe("hedging", "open", s.handleOpen))
		api.Get("/positions/{nonce}", s.observe("hedging", "inspect", s.handleInspect))
		api.Post("/positions/{nonce}/margin/add", s.observe("hedging", "add_margin", s.handleAddMargin))
		api.Post("/positions/{nonce}/margin/remove", s.observe("hedging", "remove_margin", s.handleRemoveMargin))
		api.Post("/positions/{nonce}/close", s.observe("hedging", "close", s.handleClose))

		api.Route("/keeper", func(k chi.Router) {
			k.Post("/pools/{asset}/rebalance", s.observe("keeper", "rebalance", s.handleRebalance))
			k.Post("/pools/{asset}/fees", s.observe("keeper", "update_fees", s.handleUpdateFees))
			k.Post("/pools/{asset}/split-fees", s.observe("keeper", "split_fees", s.handleSplitFees))
			k.Post("/pools/{asset}/split-rewards", s.observe("keeper", "split_rewards", s.handleSplitRewards))
			k.Post("/pools/{asset}/lend", s.observe("keeper", "lend", s.handleLend))
			k.Post("/pools/{asset}/withdraw", s.observe("keeper", "withdraw", s.handleWithdrawLoan))
			k.Post("/positions/{nonce}/force-close", s.observe("keeper", "force_close", s.handleForceClose))
			k.Post("/positions/{nonce}/liquidate", s.observe("keeper", "liquidate", s.handleLiquidate))
		})

		api.Route("/admin", func(a chi.Router) {
			a.Post("/pools", s.observe("admin", "whitelist", s.handleWhitelist))
			a.Delete("/pools/{asset}", s.observe("admin", "remove", s.handleRemove))
			a.Put("/pauses/{module}", s.observe("admin", "pause", s.handlePause))
			a.Put("/prices/{base}/{quote}", s.observe("admin", "price", s.handleSetPrice))
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
