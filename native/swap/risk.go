package swap

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"hedgepool/crypto"
)

// RiskConfig captures operator-defined swap guardrails parsed from configuration.
type RiskConfig struct {
	PerAddressDailyCap   string   `toml:"PerAddressDailyCap"`
	PerAddressMonthlyCap string   `toml:"PerAddressMonthlyCap"`
	PerTxMin             string   `toml:"PerTxMin"`
	PerTxMax             string   `toml:"PerTxMax"`
	VelocityWindowSecs   int64    `toml:"VelocityWindowSeconds"`
	VelocityMaxSwaps     uint64   `toml:"VelocityMaxSwaps"`
	DenyList             []string `toml:"DenyList"`
}

// RiskParameters represents canonical, runtime-ready interpretations of the risk settings.
type RiskParameters struct {
	PerAddressDailyCap   *big.Int
	PerAddressMonthlyCap *big.Int
	PerTxMin             *big.Int
	PerTxMax             *big.Int
	VelocityWindow       time.Duration
	VelocityMaxSwaps     uint64
	Denied               map[string]struct{}
}

// Normalise trims whitespace, drops duplicate deny list entries and clamps
// negative windows.
func (rc RiskConfig) Normalise() RiskConfig {
	cfg := RiskConfig{
		PerAddressDailyCap:   strings.TrimSpace(rc.PerAddressDailyCap),
		PerAddressMonthlyCap: strings.TrimSpace(rc.PerAddressMonthlyCap),
		PerTxMin:             strings.TrimSpace(rc.PerTxMin),
		PerTxMax:             strings.TrimSpace(rc.PerTxMax),
		VelocityWindowSecs:   rc.VelocityWindowSecs,
		VelocityMaxSwaps:     rc.VelocityMaxSwaps,
	}
	if cfg.VelocityWindowSecs < 0 {
		cfg.VelocityWindowSecs = 0
	}
	seen := make(map[string]struct{}, len(rc.DenyList))
	for _, raw := range rc.DenyList {
		entry := strings.ToLower(strings.TrimSpace(raw))
		if entry == "" {
			continue
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		cfg.DenyList = append(cfg.DenyList, entry)
	}
	sort.Strings(cfg.DenyList)
	return cfg
}

// Parameters converts the textual configuration into runtime big integers and bounds.
func (rc RiskConfig) Parameters() (RiskParameters, error) {
	normalized := rc.Normalise()
	params := RiskParameters{VelocityMaxSwaps: normalized.VelocityMaxSwaps}
	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"PerAddressDailyCap", normalized.PerAddressDailyCap, &params.PerAddressDailyCap},
		{"PerAddressMonthlyCap", normalized.PerAddressMonthlyCap, &params.PerAddressMonthlyCap},
		{"PerTxMin", normalized.PerTxMin, &params.PerTxMin},
		{"PerTxMax", normalized.PerTxMax, &params.PerTxMax},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		amount, err := ParseAmount(f.raw)
		if err != nil {
			return params, fmt.Errorf("risk: invalid %s: %w", f.name, err)
		}
		*f.dst = amount
	}
	if params.PerTxMin != nil && params.PerTxMax != nil && params.PerTxMax.Sign() > 0 && params.PerTxMin.Cmp(params.PerTxMax) > 0 {
		return params, fmt.Errorf("risk: PerTxMin above PerTxMax")
	}
	if normalized.VelocityWindowSecs > 0 {
		params.VelocityWindow = time.Duration(normalized.VelocityWindowSecs) * time.Second
	}
	if len(normalized.DenyList) > 0 {
		params.Denied = make(map[string]struct{}, len(normalized.DenyList))
		for _, entry := range normalized.DenyList {
			addr, err := crypto.DecodeAddress(entry)
			if err != nil {
				return params, fmt.Errorf("sanctions: decode deny list entry %q: %w", entry, err)
			}
			params.Denied[addr.String()] = struct{}{}
		}
	}
	return params, nil
}

// Allowed reports whether addr may swap.
func (params RiskParameters) Allowed(addr crypto.Address) bool {
	if len(params.Denied) == 0 {
		return true
	}
	_, denied := params.Denied[addr.String()]
	return !denied
}

// RiskCode enumerates supported limit violation categories.
type RiskCode string

const (
	RiskCodeSanctioned RiskCode = "sanctioned"
	RiskCodePerTxMin   RiskCode = "per_tx_min"
	RiskCodePerTxMax   RiskCode = "per_tx_max"
	RiskCodeDailyCap   RiskCode = "daily_cap"
	RiskCodeMonthlyCap RiskCode = "monthly_cap"
	RiskCodeVelocity   RiskCode = "velocity"
)

// RiskViolation conveys a violated guardrail alongside diagnostic context for alerts.
type RiskViolation struct {
	Code    RiskCode
	Message string
	Limit   *big.Int
	Current *big.Int
	Count   int
}

func (rv *RiskViolation) Error() string {
	if rv == nil {
		return ""
	}
	if strings.TrimSpace(rv.Message) != "" {
		return "swap: " + rv.Message
	}
	return fmt.Sprintf("swap: risk violation: %s", rv.Code)
}

// Is lets errors.Is match any violation against ErrRiskLimit.
func (rv *RiskViolation) Is(target error) bool { return target == ErrRiskLimit }

// UsageRepository persists per-address swap counters. Keys are period labels
// such as "d/2024-01-31" or "m/2024-01".
type UsageRepository interface {
	GetSwapUsage(addr crypto.Address, period string) (*big.Int, error)
	PutSwapUsage(addr crypto.Address, period string, amount *big.Int) error
	GetSwapVelocity(addr crypto.Address) ([]uint64, error)
	PutSwapVelocity(addr crypto.Address, samples []uint64) error
}

// RiskEngine evaluates swap guardrails against stored counters. Counters are
// read and written inside the swap's atomic unit.
type RiskEngine struct {
	store  UsageRepository
	params RiskParameters
	clock  func() time.Time
}

// NewRiskEngine constructs a risk engine backed by the provided repository.
func NewRiskEngine(store UsageRepository, params RiskParameters) *RiskEngine {
	return &RiskEngine{store: store, params: params, clock: time.Now}
}

// SetClock overrides the time source, enabling deterministic unit tests.
func (re *RiskEngine) SetClock(clock func() time.Time) {
	if re == nil || clock == nil {
		return
	}
	re.clock = clock
}

// Parameters returns the active guardrails.
func (re *RiskEngine) Parameters() RiskParameters {
	if re == nil {
		return RiskParameters{}
	}
	return re.params
}

// Check evaluates the guardrails for a swap worth value in stable units. Caps
// apply to mints only.
func (re *RiskEngine) Check(addr crypto.Address, value *big.Int, mint bool) error {
	if re == nil {
		return nil
	}
	p := re.params
	if !p.Allowed(addr) {
		return &RiskViolation{Code: RiskCodeSanctioned, Message: fmt.Sprintf("address %s is sanctioned", addr)}
	}
	if p.PerTxMin != nil && p.PerTxMin.Sign() > 0 && value.Cmp(p.PerTxMin) < 0 {
		return &RiskViolation{
			Code:    RiskCodePerTxMin,
			Message: fmt.Sprintf("amount %s below minimum %s", value, p.PerTxMin),
			Limit:   new(big.Int).Set(p.PerTxMin),
			Current: new(big.Int).Set(value),
		}
	}
	if p.PerTxMax != nil && p.PerTxMax.Sign() > 0 && value.Cmp(p.PerTxMax) > 0 {
		return &RiskViolation{
			Code:    RiskCodePerTxMax,
			Message: fmt.Sprintf("amount %s exceeds maximum %s", value, p.PerTxMax),
			Limit:   new(big.Int).Set(p.PerTxMax),
			Current: new(big.Int).Set(value),
		}
	}
	if re.store == nil {
		return nil
	}
	now := re.clock().UTC()
	if mint {
		caps := []struct {
			code   RiskCode
			label  string
			period string
			limit  *big.Int
		}{
			{RiskCodeDailyCap, "daily", dayPeriod(now), p.PerAddressDailyCap},
			{RiskCodeMonthlyCap, "monthly", monthPeriod(now), p.PerAddressMonthlyCap},
		}
		for _, c := range caps {
			if c.limit == nil || c.limit.Sign() <= 0 {
				continue
			}
			used, err := re.store.GetSwapUsage(addr, c.period)
			if err != nil {
				return err
			}
			projected := new(big.Int).Add(used, value)
			if projected.Cmp(c.limit) > 0 {
				return &RiskViolation{
					Code:    c.code,
					Message: fmt.Sprintf("%s cap %s exceeded", c.label, c.limit),
					Limit:   new(big.Int).Set(c.limit),
					Current: projected,
				}
			}
		}
	}
	if p.VelocityWindow > 0 && p.VelocityMaxSwaps > 0 {
		samples, err := re.store.GetSwapVelocity(addr)
		if err != nil {
			return err
		}
		recent := filterSamples(samples, now.Add(-p.VelocityWindow))
		if uint64(len(recent)) >= p.VelocityMaxSwaps {
			return &RiskViolation{
				Code:    RiskCodeVelocity,
				Message: fmt.Sprintf("velocity exceeded %d swaps in %s", p.VelocityMaxSwaps, p.VelocityWindow),
				Count:   len(recent),
			}
		}
	}
	return nil
}

// Record books a successful swap against the counters.
func (re *RiskEngine) Record(addr crypto.Address, value *big.Int, mint bool) error {
	if re == nil || re.store == nil {
		return nil
	}
	now := re.clock().UTC()
	if mint {
		for _, period := range []string{dayPeriod(now), monthPeriod(now)} {
			used, err := re.store.GetSwapUsage(addr, period)
			if err != nil {
				return err
			}
			if err := re.store.PutSwapUsage(addr, period, new(big.Int).Add(used, value)); err != nil {
				return err
			}
		}
	}
	if re.params.VelocityWindow <= 0 {
		return nil
	}
	samples, err := re.store.GetSwapVelocity(addr)
	if err != nil {
		return err
	}
	cleaned := filterSamples(samples, now.Add(-re.params.VelocityWindow))
	cleaned = append(cleaned, uint64(now.Unix()))
	return re.store.PutSwapVelocity(addr, cleaned)
}

// ParseAmount parses an integer amount, accepting underscores and scientific
// notation such as "5e18".
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	normalized := trimmed
	var exponent int64
	if idx := strings.IndexAny(normalized, "eE"); idx != -1 {
		expPart := strings.TrimSpace(normalized[idx+1:])
		if expPart == "" {
			return nil, fmt.Errorf("invalid scientific notation")
		}
		expValue, err := strconv.ParseInt(expPart, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid scientific notation")
		}
		exponent = expValue
		normalized = strings.TrimSpace(normalized[:idx])
	}
	normalized = strings.TrimPrefix(normalized, "+")
	if strings.HasPrefix(normalized, "-") {
		return nil, fmt.Errorf("amount must not be negative")
	}
	parts := strings.Split(normalized, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format")
	}
	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	digits := integerPart + fractionalPart
	if digits == "" {
		return big.NewInt(0), nil
	}
	if !isDigits(digits) {
		return nil, fmt.Errorf("invalid amount format")
	}
	fracLen := len(fractionalPart)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	digits = strings.TrimLeft(digits, "0")
	totalExponent := exponent - int64(fracLen)
	if totalExponent < 0 {
		return nil, fmt.Errorf("amount must be an integer")
	}
	if digits == "" {
		digits = "0"
	}
	if totalExponent > 0 {
		digits += strings.Repeat("0", int(totalExponent))
	}
	amount := new(big.Int)
	if _, ok := amount.SetString(digits, 10); !ok {
		return nil, fmt.Errorf("invalid amount value")
	}
	return amount, nil
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func dayPeriod(ts time.Time) string {
	return "d/" + ts.UTC().Format("2006-01-02")
}

func monthPeriod(ts time.Time) string {
	return "m/" + ts.UTC().Format("2006-01")
}

func filterSamples(samples []uint64, cutoff time.Time) []uint64 {
	if len(samples) == 0 {
		return []uint64{}
	}
	threshold := cutoff.Unix()
	filtered := make([]uint64, 0, len(samples))
	for _, sample := range samples {
		if int64(sample) >= threshold {
			filtered = append(filtered, sample)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })
	return filtered
}
