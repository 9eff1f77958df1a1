package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"hedgepool/crypto"
	"hedgepool/native/lending"
	"hedgepool/native/swap"
)

// Config is the stabled daemon configuration.
type Config struct {
	ListenAddress      string   `toml:"ListenAddress"`
	DataDir            string   `toml:"DataDir"`
	Env                string   `toml:"Env"`
	Owner              string   `toml:"Owner"`
	Keepers            []string `toml:"Keepers"`
	KeeperKeystorePath string   `toml:"KeeperKeystorePath"`
	APIToken           string   `toml:"APIToken,omitempty"`

	StableToken          string `toml:"StableToken"`
	StableDecimals       uint32 `toml:"StableDecimals"`
	MinHedgingPeriodSecs int64  `toml:"MinHedgingPeriodSeconds"`
	MinLendEpochs        uint64 `toml:"MinLendEpochs"`
	EpochSeconds         int64  `toml:"EpochSeconds"`

	Keeper    KeeperConfig    `toml:"keeper"`
	Oracle    OracleConfig    `toml:"oracle"`
	Lending   lending.Config  `toml:"lending"`
	Risk      swap.RiskConfig `toml:"risk"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Journal   JournalConfig   `toml:"journal"`
	Auth      AuthConfig      `toml:"auth"`
	Pauses    Pauses          `toml:"pauses"`
	Assets    []Asset         `toml:"Assets"`
}

// LoadOption adjusts how Load resolves secrets and overrides.
type LoadOption func(*loadOptions)

type loadOptions struct {
	passphrase string
	lookupEnv  func(string) (string, bool)
}

// WithKeystorePassphrase sets the passphrase used when a keeper keystore has
// to be created.
func WithKeystorePassphrase(passphrase string) LoadOption {
	return func(o *loadOptions) { o.passphrase = passphrase }
}

// WithEnv replaces os.LookupEnv for STABLED_* overrides.
func WithEnv(lookup func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) {
		if lookup != nil {
			o.lookupEnv = lookup
		}
	}
}

// Load reads the configuration at path, writing a default file and keeper
// keystore when none exists. STABLED_* environment variables override file
// values and the result is validated.
func Load(path string, opts ...LoadOption) (*Config, error) {
	options := loadOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(&options)
	}
	if pass, ok := options.lookupEnv("STABLED_KEYSTORE_PASSPHRASE"); ok && options.passphrase == "" {
		options.passphrase = pass
	}

	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path, options.passphrase)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = &Config{}
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s: unknown field %q", path, undecoded[0].String())
		}
		if err := ensureKeystore(path, cfg, options.passphrase); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	if err := applyEnv(cfg, options.lookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./stabled-data"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "local"
	}
	if strings.TrimSpace(cfg.StableToken) == "" {
		cfg.StableToken = swap.DefaultStableToken
	}
	if cfg.StableDecimals == 0 {
		cfg.StableDecimals = 6
	}
	if cfg.EpochSeconds <= 0 {
		cfg.EpochSeconds = 86_400
	}
	if cfg.Keepers == nil {
		cfg.Keepers = []string{}
	}
	defaults := lending.DefaultConfig()
	if cfg.Lending.EpochsPerYear == 0 {
		cfg.Lending.EpochsPerYear = defaults.EpochsPerYear
	}
	if cfg.Lending.QueueSize <= 0 {
		cfg.Lending.QueueSize = defaults.QueueSize
	}
	cfg.Keeper.applyDefaults()
	cfg.Oracle.applyDefaults()
	cfg.RateLimit.applyDefaults()
	cfg.Telemetry.applyDefaults()
	cfg.Journal.applyDefaults()
}

// applyEnv applies STABLED_* overrides. Secrets are expected to arrive this
// way rather than through the file.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("STABLED_LISTEN", &cfg.ListenAddress)
	str("STABLED_DATA_DIR", &cfg.DataDir)
	str("STABLED_ENV", &cfg.Env)
	str("STABLED_OWNER", &cfg.Owner)
	str("STABLED_API_TOKEN", &cfg.APIToken)
	str("STABLED_LOG_LEVEL", &cfg.Logging.Level)
	str("STABLED_LOG_FILE", &cfg.Logging.File)
	str("STABLED_OTEL_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("STABLED_OTEL_HEADERS", &cfg.Telemetry.Headers)
	str("STABLED_ORACLE_API_KEY", &cfg.Oracle.APIKey)
	str("STABLED_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("STABLED_JOURNAL_DSN", &cfg.Journal.DSN)
	if v, ok := lookup("STABLED_KEEPERS"); ok {
		cfg.Keepers = splitList(v)
	}
	if v, ok := lookup("STABLED_KEEPER_INTERVAL_SECONDS"); ok && strings.TrimSpace(v) != "" {
		secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("STABLED_KEEPER_INTERVAL_SECONDS: %w", err)
		}
		cfg.Keeper.IntervalSecs = secs
	}
	return nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func ensureKeystore(configPath string, cfg *Config, passphrase string) error {
	keystorePath := cfg.KeeperKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.KeeperKeystorePath != keystorePath {
		cfg.KeeperKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault writes a local development configuration with a fresh
// keeper key that is also the owner.
func createDefault(path, passphrase string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}
	operator := key.PubKey().Address().String()

	cfg := &Config{
		ListenAddress:      ":7080",
		DataDir:            "./stabled-data",
		Env:                "local",
		Owner:              operator,
		Keepers:            []string{operator},
		KeeperKeystorePath: keystorePath,
		StableToken:        swap.DefaultStableToken,
		StableDecimals:     6,
		MinLendEpochs:      2,
		EpochSeconds:       86_400,
		Lending:            lending.DefaultConfig(),
		Oracle: OracleConfig{
			DefaultQuote: "USD",
			Prices:       map[string]string{"WETH/USD": "2000"},
		},
		Assets: []Asset{DefaultAsset()},
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "keeper.keystore")
}
