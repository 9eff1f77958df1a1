package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"hedgepool/config"
	"hedgepool/core"
	"hedgepool/native/oracle"
	"hedgepool/native/pool"
	"hedgepool/observability"
	"hedgepool/services/stabled/journal"
	"hedgepool/services/stabled/server"
)

// manualSource is the aggregator name of the operator-pinned prices.
const manualSource = "manual"

// buildOracle registers the configured HTTP sources in order followed by the
// manual feed. Manual quotes are stamped at read time so pinned prices never
// go stale.
func buildOracle(cfg *config.Config, client *http.Client) (*oracle.Client, *oracle.ManualFeed, error) {
	manual := oracle.NewManualFeed()
	prices, err := cfg.ManualPrices()
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	for pair, price := range prices {
		base, quote := oracle.SplitPair(pair)
		manual.Set(base, quote, price, cfg.StableDecimals, now)
	}

	agg := oracle.NewAggregator(nil, cfg.Oracle.MaxAge())
	for _, src := range cfg.Oracle.Sources {
		switch strings.ToLower(src.Type) {
		case "http":
			agg.Register(src.Name, oracle.NewHTTPFeed(src.Name, client, src.Endpoint, cfg.Oracle.APIKey, src.Decimals))
		default:
			return nil, nil, fmt.Errorf("oracle source %s: unsupported type %q", src.Name, src.Type)
		}
	}
	agg.Register(manualSource, oracle.FeedFunc(func(ctx context.Context, base, quote string) (oracle.Quote, error) {
		q, err := manual.GetPrice(ctx, base, quote)
		if err != nil {
			return oracle.Quote{}, err
		}
		q.Timestamp = time.Now()
		return q, nil
	}))
	return oracle.NewClient(agg, cfg.Oracle.DefaultQuote, cfg.StableDecimals), manual, nil
}

// whitelistAssets lists every configured asset not yet known to the store.
func whitelistAssets(ctx context.Context, p *core.Protocol, cfg *config.Config, logger *slog.Logger) error {
	params, err := cfg.AssetParameters()
	if err != nil {
		return err
	}
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return err
	}
	for _, asset := range params {
		err := p.Pools.AddCollateralToWhitelist(ctx, owner, asset)
		switch {
		case errors.Is(err, pool.ErrAlreadyWhitelisted):
			continue
		case err != nil:
			return fmt.Errorf("whitelist %s: %w", asset.ID, err)
		}
		logger.Info("collateral whitelisted", "asset", asset.ID, "ticker", asset.Ticker)
	}
	return nil
}

// refreshPoolGauges periodically publishes pool and lending gauges.
func refreshPoolGauges(ctx context.Context, p *core.Protocol, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := recordPools(ctx, p); err != nil {
			logger.Warn("pool gauge refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func recordPools(ctx context.Context, p *core.Protocol) error {
	assets, err := p.Keeper.Assets(ctx)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		state, cfg, err := p.Pools.Pool(ctx, asset)
		if err != nil {
			return err
		}
		server.RecordPool(cfg, state)
	}
	pending, err := p.Reserves.Pending(ctx)
	if err != nil {
		return err
	}
	observability.Protocol().SetPending(len(pending))
	return nil
}

// openJournal connects the event journal; nil means journaling is disabled.
func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*journal.Journal, error) {
	if cfg.Journal.Disabled {
		return nil, nil
	}
	if strings.EqualFold(cfg.Journal.Driver, "sqlite") && strings.TrimSpace(cfg.Journal.DSN) == "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := journal.Open(cfg.Journal.Driver, cfg.JournalDSN())
	if err != nil {
		return nil, err
	}
	j, err := journal.New(ctx, db, journal.WithLogger(logger), journal.WithQueueSize(cfg.Journal.QueueSize))
	if err != nil {
		return nil, err
	}
	seq, head := j.Head()
	logger.Info("event journal ready", "driver", cfg.Journal.Driver, "head_seq", seq, "head_digest", head)
	return j, nil
}
