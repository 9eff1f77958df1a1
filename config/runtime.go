package config

import (
	"fmt"
	"math/big"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/oracle"
	"hedgepool/native/pool"
)

// OwnerAddress decodes the configured owner.
func (c *Config) OwnerAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(c.Owner))
}

// KeeperAddresses decodes the keeper allowlist. An empty list leaves keeper
// operations permissionless.
func (c *Config) KeeperAddresses() ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(c.Keepers))
	for _, raw := range c.Keepers {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("keeper %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// PausedModules lists the modules configured to start paused.
func (c *Config) PausedModules() []string {
	var out []string
	flags := map[string]bool{
		nativecommon.ModuleHedging:   c.Pauses.Hedging,
		nativecommon.ModuleLiquidity: c.Pauses.Liquidity,
		nativecommon.ModuleSwap:      c.Pauses.Swap,
		nativecommon.ModuleLending:   c.Pauses.Lending,
		nativecommon.ModuleKeeper:    c.Pauses.Keeper,
	}
	for module, paused := range flags {
		if paused {
			out = append(out, module)
		}
	}
	sort.Strings(out)
	return out
}

// AssetParameters converts every configured listing.
func (c *Config) AssetParameters() ([]*pool.AssetConfig, error) {
	out := make([]*pool.AssetConfig, 0, len(c.Assets))
	for _, asset := range c.Assets {
		params, err := asset.Parameters()
		if err != nil {
			return nil, err
		}
		out = append(out, params)
	}
	return out, nil
}

// MinHedgingPeriod returns the minimum time a position stays open.
func (c *Config) MinHedgingPeriod() time.Duration {
	return time.Duration(c.MinHedgingPeriodSecs) * time.Second
}

// EpochLength returns the lending epoch length.
func (c *Config) EpochLength() time.Duration {
	return time.Duration(c.EpochSeconds) * time.Second
}

// DatabasePath is the LevelDB directory under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "state")
}

// JournalDSN returns the journal connection string.
func (c *Config) JournalDSN() string {
	if dsn := strings.TrimSpace(c.Journal.DSN); dsn != "" {
		return dsn
	}
	return filepath.Join(c.DataDir, "journal.db")
}

// ManualPrices parses Oracle.Prices into quotes at the stable decimals.
func (c *Config) ManualPrices() (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(c.Oracle.Prices))
	for pair, raw := range c.Oracle.Prices {
		base, quote := oracle.SplitPair(pair)
		if quote == "" {
			quote = c.Oracle.DefaultQuote
		}
		value, err := oracle.ParseDecimal(raw, c.StableDecimals)
		if err != nil {
			return nil, fmt.Errorf("oracle price %s: %w", pair, err)
		}
		out[strings.ToUpper(base)+"/"+strings.ToUpper(quote)] = value
	}
	return out, nil
}
