package lending

import (
	"errors"
	"math/big"
)

// Config captures the runtime configuration of the reference yield market.
type Config struct {
	EpochsPerYear    uint64  `toml:"EpochsPerYear"`
	ReserveFactorBps uint64  `toml:"ReserveFactorBps"`
	BaseRate         float64 `toml:"BaseRate"`
	Slope1           float64 `toml:"Slope1"`
	Slope2           float64 `toml:"Slope2"`
	Kink             float64 `toml:"Kink"`
	// Utilisation is the external borrow demand as a share of supply.
	Utilisation float64 `toml:"Utilisation"`
	// QueueSize bounds the pending request queue of the async client.
	QueueSize int `toml:"QueueSize"`
	// MaxTotalSupply caps supplied principal per asset; nil or zero disables.
	MaxTotalSupply *big.Int `toml:"-"`
}

// DefaultConfig mirrors DefaultInterestModel with daily epochs.
func DefaultConfig() Config {
	return Config{
		EpochsPerYear:    365,
		ReserveFactorBps: 1_000,
		BaseRate:         0.02,
		Slope1:           0.15,
		Slope2:           0.6,
		Kink:             0.8,
		Utilisation:      0.5,
		QueueSize:        64,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.EpochsPerYear == 0 {
		return errors.New("lending: EpochsPerYear must be positive")
	}
	if c.ReserveFactorBps > 10_000 {
		return errors.New("lending: ReserveFactorBps exceeds 100%")
	}
	if c.Utilisation < 0 || c.Utilisation > 1 {
		return errors.New("lending: Utilisation must be within [0, 1]")
	}
	if c.Kink < 0 || c.Kink > 1 {
		return errors.New("lending: Kink must be within [0, 1]")
	}
	if c.BaseRate < 0 || c.Slope1 < 0 || c.Slope2 < 0 {
		return errors.New("lending: rates must be non-negative")
	}
	return nil
}

// Model builds the interest model described by the configuration.
func (c Config) Model() *InterestModel {
	return NewInterestModel(c.BaseRate, c.Slope1, c.Slope2, c.Kink)
}
