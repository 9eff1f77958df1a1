package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"hedgepool/native/fixedpoint"
	"hedgepool/native/pool"
)

// KeeperConfig drives the maintenance scheduler.
type KeeperConfig struct {
	Disabled            bool  `toml:"Disabled"`
	IntervalSecs        int64 `toml:"IntervalSeconds"`
	LendIntervalSecs    int64 `toml:"LendIntervalSeconds"`
	AutoForceClose      bool  `toml:"AutoForceClose"`
	AutoLiquidate       bool  `toml:"AutoLiquidate"`
	PoolGaugeRefreshSec int64 `toml:"PoolGaugeRefreshSeconds"`
}

func (k *KeeperConfig) applyDefaults() {
	if k.IntervalSecs <= 0 {
		k.IntervalSecs = 60
	}
	if k.PoolGaugeRefreshSec <= 0 {
		k.PoolGaugeRefreshSec = 30
	}
}

// Interval returns the scheduler tick period.
func (k KeeperConfig) Interval() time.Duration {
	return time.Duration(k.IntervalSecs) * time.Second
}

// LendInterval returns the lend/withdraw cycle period; zero disables it.
func (k KeeperConfig) LendInterval() time.Duration {
	if k.LendIntervalSecs <= 0 {
		return 0
	}
	return time.Duration(k.LendIntervalSecs) * time.Second
}

// OracleSource describes an upstream price feed.
type OracleSource struct {
	Name     string `toml:"Name"`
	Type     string `toml:"Type"`
	Endpoint string `toml:"Endpoint"`
	Decimals uint32 `toml:"Decimals"`
}

// OracleConfig tunes price aggregation. Prices seeds a manual feed, keyed by
// BASE/QUOTE with decimal values, which is consulted after Sources.
type OracleConfig struct {
	DefaultQuote string            `toml:"DefaultQuote"`
	MaxAgeSecs   int64             `toml:"MaxAgeSeconds"`
	APIKey       string            `toml:"APIKey,omitempty"`
	Sources      []OracleSource    `toml:"Sources"`
	Prices       map[string]string `toml:"Prices"`
}

func (o *OracleConfig) applyDefaults() {
	if strings.TrimSpace(o.DefaultQuote) == "" {
		o.DefaultQuote = "USD"
	}
	if o.MaxAgeSecs <= 0 {
		o.MaxAgeSecs = 120
	}
	for i := range o.Sources {
		if strings.TrimSpace(o.Sources[i].Type) == "" {
			o.Sources[i].Type = "http"
		}
		if o.Sources[i].Decimals == 0 {
			o.Sources[i].Decimals = 8
		}
	}
}

// MaxAge returns the oldest quote the aggregator accepts.
func (o OracleConfig) MaxAge() time.Duration {
	return time.Duration(o.MaxAgeSecs) * time.Second
}

// RateLimitConfig bounds API requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

func (r *RateLimitConfig) applyDefaults() {
	if r.RequestsPerMinute <= 0 {
		r.RequestsPerMinute = 600
	}
	if r.Burst <= 0 {
		r.Burst = 60
	}
}

// LoggingConfig selects the log level and optional rotated log file.
type LoggingConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	// SampleRatio keeps this fraction of root traces; zero keeps all.
	SampleRatio float64 `toml:"SampleRatio"`
}

func (t *TelemetryConfig) applyDefaults() {
	if strings.TrimSpace(t.Endpoint) == "" {
		t.Endpoint = "localhost:4318"
	}
}

// JournalConfig selects where protocol events are journaled. An empty DSN
// with the sqlite driver means DataDir/journal.db.
type JournalConfig struct {
	Disabled  bool   `toml:"Disabled"`
	Driver    string `toml:"Driver"`
	DSN       string `toml:"DSN,omitempty"`
	QueueSize int    `toml:"QueueSize"`
}

func (j *JournalConfig) applyDefaults() {
	if strings.TrimSpace(j.Driver) == "" {
		j.Driver = "sqlite"
	}
	if j.QueueSize <= 0 {
		j.QueueSize = 1024
	}
}

// AuthConfig enables HMAC signed JWT bearer tokens on the API.
type AuthConfig struct {
	JWTSecret     string `toml:"JWTSecret,omitempty"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
	ClockSkewSecs int64  `toml:"ClockSkewSeconds"`
}

// ClockSkew returns the tolerated clock drift for token timestamps.
func (a AuthConfig) ClockSkew() time.Duration {
	return time.Duration(a.ClockSkewSecs) * time.Second
}

// Pauses lists modules that start paused.
type Pauses struct {
	Hedging   bool `toml:"Hedging"`
	Liquidity bool `toml:"Liquidity"`
	Swap      bool `toml:"Swap"`
	Lending   bool `toml:"Lending"`
	Keeper    bool `toml:"Keeper"`
}

// Asset is the file form of a collateral listing. Percentages are decimal
// strings ("0.4" is 0.4%), ratios are multiples ("10" is 10x).
type Asset struct {
	ID                   string `toml:"ID" yaml:"id" json:"id"`
	Ticker               string `toml:"Ticker" yaml:"ticker" json:"ticker"`
	Decimals             uint32 `toml:"Decimals" yaml:"decimals" json:"decimals"`
	MinFee               string `toml:"MinFee" yaml:"min_fee" json:"min_fee"`
	MaxFee               string `toml:"MaxFee" yaml:"max_fee" json:"max_fee"`
	TargetHedgingRatio   string `toml:"TargetHedgingRatio" yaml:"target_hedging_ratio" json:"target_hedging_ratio"`
	LimitHedgingRatio    string `toml:"LimitHedgingRatio" yaml:"limit_hedging_ratio" json:"limit_hedging_ratio"`
	MinSlippage          string `toml:"MinSlippage" yaml:"min_slippage" json:"min_slippage"`
	MaxSlippage          string `toml:"MaxSlippage" yaml:"max_slippage" json:"max_slippage"`
	MaxLeverage          string `toml:"MaxLeverage" yaml:"max_leverage" json:"max_leverage"`
	MaintenanceRatio     string `toml:"MaintenanceRatio" yaml:"maintenance_ratio" json:"maintenance_ratio"`
	LendPercentage       string `toml:"LendPercentage" yaml:"lend_percentage" json:"lend_percentage"`
	MinReservesAfterLend string `toml:"MinReservesAfterLend" yaml:"min_reserves_after_lend" json:"min_reserves_after_lend"`
	ProviderFeeShare     string `toml:"ProviderFeeShare" yaml:"provider_fee_share" json:"provider_fee_share"`
	ProviderLendShare    string `toml:"ProviderLendShare" yaml:"provider_lend_share" json:"provider_lend_share"`
}

// DefaultAsset is the WETH listing written into new configuration files.
func DefaultAsset() Asset {
	return Asset{
		ID:                   "WETH",
		Ticker:               "WETH/USD",
		Decimals:             18,
		MinFee:               "0.2",
		MaxFee:               "0.4",
		TargetHedgingRatio:   "50",
		LimitHedgingRatio:    "90",
		MinSlippage:          "0.1",
		MaxSlippage:          "0.5",
		MaxLeverage:          "10",
		MaintenanceRatio:     "0.05",
		LendPercentage:       "50",
		MinReservesAfterLend: "0",
		ProviderFeeShare:     "60",
		ProviderLendShare:    "80",
	}
}

// Parameters converts the listing into ledger parameters and validates them.
func (a Asset) Parameters() (*pool.AssetConfig, error) {
	cfg := &pool.AssetConfig{
		ID:       pool.NormalizeAsset(a.ID),
		Ticker:   strings.TrimSpace(a.Ticker),
		Decimals: a.Decimals,
	}
	percents := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"MinFee", a.MinFee, &cfg.MinFee},
		{"MaxFee", a.MaxFee, &cfg.MaxFee},
		{"TargetHedgingRatio", a.TargetHedgingRatio, &cfg.TargetHedgingRatio},
		{"LimitHedgingRatio", a.LimitHedgingRatio, &cfg.LimitHedgingRatio},
		{"MinSlippage", a.MinSlippage, &cfg.MinSlippage},
		{"MaxSlippage", a.MaxSlippage, &cfg.MaxSlippage},
		{"LendPercentage", a.LendPercentage, &cfg.LendPercentage},
		{"ProviderFeeShare", a.ProviderFeeShare, &cfg.ProviderFeeShare},
		{"ProviderLendShare", a.ProviderLendShare, &cfg.ProviderLendShare},
	}
	for _, f := range percents {
		v, err := fixedpoint.ParsePercent(f.raw)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %s: %w", cfg.ID, f.name, err)
		}
		*f.dst = v
	}
	var err error
	if cfg.MaxLeverage, err = fixedpoint.ParseRatio(a.MaxLeverage); err != nil {
		return nil, fmt.Errorf("asset %s: MaxLeverage: %w", cfg.ID, err)
	}
	if cfg.MaintenanceRatio, err = fixedpoint.ParseRatio(a.MaintenanceRatio); err != nil {
		return nil, fmt.Errorf("asset %s: MaintenanceRatio: %w", cfg.ID, err)
	}
	if cfg.MinReservesAfterLend, err = fixedpoint.ParseAmount(a.MinReservesAfterLend); err != nil {
		return nil, fmt.Errorf("asset %s: MinReservesAfterLend: %w", cfg.ID, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
