package config

import (
	"fmt"
	"strings"

	"hedgepool/crypto"
	"hedgepool/native/pool"
)

var (
	MinKeeperIntervalSeconds = int64(1)
	MaxStableDecimals        = uint32(36)
	MinJWTSecretLength       = 32
)

// Validate rejects inconsistent configuration before anything is wired.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("config: Owner must be set")
	}
	if _, err := crypto.DecodeAddress(c.Owner); err != nil {
		return fmt.Errorf("config: Owner: %w", err)
	}
	for _, keeper := range c.Keepers {
		if _, err := crypto.DecodeAddress(keeper); err != nil {
			return fmt.Errorf("config: keeper %q: %w", keeper, err)
		}
	}
	if c.StableDecimals > MaxStableDecimals {
		return fmt.Errorf("config: StableDecimals %d out of range", c.StableDecimals)
	}
	if c.MinHedgingPeriodSecs < 0 {
		return fmt.Errorf("config: MinHedgingPeriodSeconds must not be negative")
	}
	if c.Keeper.IntervalSecs < MinKeeperIntervalSeconds {
		return fmt.Errorf("config: keeper.IntervalSeconds too small")
	}
	if c.Keeper.LendIntervalSecs < 0 {
		return fmt.Errorf("config: keeper.LendIntervalSeconds must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Journal.Driver)) {
	case "sqlite":
	case "postgres":
		if !c.Journal.Disabled && strings.TrimSpace(c.Journal.DSN) == "" {
			return fmt.Errorf("config: journal.DSN required for postgres")
		}
	default:
		return fmt.Errorf("config: journal.Driver %q unsupported", c.Journal.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry.SampleRatio must be within [0, 1]")
	}
	if c.Auth.ClockSkewSecs < 0 {
		return fmt.Errorf("config: auth.ClockSkewSeconds must not be negative")
	}
	if secret := strings.TrimSpace(c.Auth.JWTSecret); secret != "" && len(secret) < MinJWTSecretLength {
		return fmt.Errorf("config: auth.JWTSecret shorter than %d bytes", MinJWTSecretLength)
	}
	if err := c.Lending.Validate(); err != nil {
		return err
	}
	if _, err := c.Risk.Parameters(); err != nil {
		return err
	}
	for _, src := range c.Oracle.Sources {
		switch strings.ToLower(strings.TrimSpace(src.Type)) {
		case "http":
			if strings.TrimSpace(src.Endpoint) == "" {
				return fmt.Errorf("config: oracle source %q: Endpoint required", src.Name)
			}
		default:
			return fmt.Errorf("config: oracle source %q: unsupported type %q", src.Name, src.Type)
		}
	}
	if len(c.Oracle.Sources) == 0 && len(c.Oracle.Prices) == 0 {
		return fmt.Errorf("config: at least one oracle source or manual price must be configured")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		params, err := asset.Parameters()
		if err != nil {
			return err
		}
		if _, dup := seen[params.ID]; dup {
			return fmt.Errorf("config: %w: %s listed twice", pool.ErrAlreadyWhitelisted, params.ID)
		}
		seen[params.ID] = struct{}{}
	}
	return nil
}
