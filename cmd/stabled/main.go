package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"hedgepool/cmd/internal/passphrase"
	"hedgepool/config"
	"hedgepool/core"
	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/keeper"
	"hedgepool/native/reserves"
	"hedgepool/observability"
	"hedgepool/observability/logging"
	telemetry "hedgepool/observability/otel"
	"hedgepool/services/stabled/server"
	"hedgepool/storage"
)

const passphraseEnv = "STABLED_KEYSTORE_PASSPHRASE"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./stabled.toml", "path to stabled configuration file")
	flag.Parse()

	pass, err := passphrase.NewSource(passphraseEnv).Get()
	if err != nil {
		log.Fatalf("stabled: %v", err)
	}
	cfg, err := config.Load(cfgPath, config.WithKeystorePassphrase(pass))
	if err != nil {
		log.Fatalf("stabled: load config: %v", err)
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service:    "stabled",
		Env:        cfg.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "stabled",
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("stabled: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.NewLevelDB(cfg.DatabasePath())
	if err != nil {
		log.Fatalf("stabled: open storage: %v", err)
	}
	defer db.Close()

	httpClient := &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	source, prices, err := buildOracle(cfg, httpClient)
	if err != nil {
		log.Fatalf("stabled: oracle: %v", err)
	}

	owner, err := cfg.OwnerAddress()
	if err != nil {
		log.Fatalf("stabled: owner: %v", err)
	}
	keepers, err := cfg.KeeperAddresses()
	if err != nil {
		log.Fatalf("stabled: keepers: %v", err)
	}
	risk, err := cfg.Risk.Parameters()
	if err != nil {
		log.Fatalf("stabled: risk: %v", err)
	}
	lendingCfg := cfg.Lending

	emitter := events.Fanout{observability.NewEventLogger(logger.With("component", "events"))}
	eventJournal, err := openJournal(context.Background(), cfg, logger.With("component", "journal"))
	if err != nil {
		log.Fatalf("stabled: journal: %v", err)
	}
	if eventJournal != nil {
		emitter = append(emitter, eventJournal)
		defer eventJournal.Close(5 * time.Second)
	}

	protocol, err := core.New(core.Options{
		DB:               db,
		Owner:            owner,
		Keepers:          keepers,
		Oracle:           source,
		LendingConfig:    &lendingCfg,
		Epochs:           reserves.TimeEpochs(time.Unix(0, 0), cfg.EpochLength(), time.Now),
		MinLendEpochs:    cfg.MinLendEpochs,
		MinHedgingPeriod: cfg.MinHedgingPeriod(),
		StableToken:      cfg.StableToken,
		Risk:             risk,
		Paused:           cfg.PausedModules(),
		Logger:           logger,
		Emitter:          emitter,
	})
	if err != nil {
		log.Fatalf("stabled: wire protocol: %v", err)
	}
	defer protocol.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := whitelistAssets(rootCtx, protocol, cfg, logger); err != nil {
		log.Fatalf("stabled: %v", err)
	}
	protocol.Start(rootCtx)

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		StableDecimals: cfg.StableDecimals,
		BearerToken:    cfg.APIToken,
		Auth: server.AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			ClockSkew: cfg.Auth.ClockSkew(),
		},
	}, protocol, prices, logger.With("component", "api"))
	if err != nil {
		log.Fatalf("stabled: server: %v", err)
	}

	group, ctx := errgroup.WithContext(rootCtx)
	if eventJournal != nil {
		srv.SetJournal(eventJournal)
		group.Go(func() error { return eventJournal.Run(ctx) })
	}
	group.Go(func() error { return srv.Run(ctx) })
	group.Go(func() error {
		return refreshPoolGauges(ctx, protocol, time.Duration(cfg.Keeper.PoolGaugeRefreshSec)*time.Second, logger)
	})
	if !cfg.Keeper.Disabled {
		scheduler, err := newScheduler(cfg, protocol, pass, logger)
		if err != nil {
			log.Fatalf("stabled: keeper: %v", err)
		}
		group.Go(func() error {
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stabled exited", "error", err)
		os.Exit(1)
	}
}

func newScheduler(cfg *config.Config, p *core.Protocol, pass string, logger *slog.Logger) (*keeper.Scheduler, error) {
	key, err := crypto.LoadFromKeystore(cfg.KeeperKeystorePath, pass)
	if err != nil {
		return nil, err
	}
	account := key.PubKey().Address()
	observability.Keeper().SetPause(p.Pauses.IsPaused(nativecommon.ModuleKeeper))
	return keeper.NewScheduler(p.Keeper, account, cfg.Keeper.Interval(),
		keeper.WithLogger(logger.With("component", "keeper")),
		keeper.WithMetrics(observability.Keeper()),
		keeper.WithLending(cfg.Keeper.LendInterval()),
		keeper.WithAutoForceClose(cfg.Keeper.AutoForceClose),
		keeper.WithAutoLiquidate(cfg.Keeper.AutoLiquidate),
	)
}
