// Package config defines all configuration for the trading client.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via PM_*/POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"polymarket-mm/internal/ratelimit"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun      bool              `mapstructure:"dry_run"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	API         APIConfig         `mapstructure:"api"`
	Contracts   ContractsConfig   `mapstructure:"contracts"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

// CredentialsConfig controls the on-disk cache of derived L2 API
// credentials, so a restart doesn't re-derive (or re-mint) a key against
// the exchange every time.
type CredentialsConfig struct {
	CacheDir string `mapstructure:"cache_dir"`
}

// ContractsConfig holds the on-chain addresses the order builder and CTF
// adapter need: the CTF exchange contracts that EIP-712 orders verify
// against, and the collateral/conditional-token contracts the interface-only
// CTF adapter builds calldata for. Defaults are Polygon mainnet addresses.
type ContractsConfig struct {
	ExchangeAddress          string `mapstructure:"exchange_address"`
	NegRiskExchangeAddress   string `mapstructure:"neg_risk_exchange_address"`
	NegRiskAdapterAddress    string `mapstructure:"neg_risk_adapter_address"`
	CollateralAddress        string `mapstructure:"collateral_address"`
	ConditionalTokensAddress string `mapstructure:"conditional_tokens_address"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints, transport tuning, and optional
// pre-derived L2 credentials. If ApiKey/Secret/Passphrase are empty, the bot
// derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	DataBaseURL  string `mapstructure:"data_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	RTDSURL      string `mapstructure:"rtds_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`

	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout          time.Duration `mapstructure:"connect_timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryBackoffBase        time.Duration `mapstructure:"retry_backoff_base"`
	RetryBackoffMax         time.Duration `mapstructure:"retry_backoff_max"`
	EnableRateLimiting      bool          `mapstructure:"enable_rate_limiting"`
	RateLimitMargin         float64       `mapstructure:"rate_limit_margin"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	PoolConnections         int           `mapstructure:"pool_connections"`
	PoolMaxSize             int           `mapstructure:"pool_max_size"`
	BatchMaxWorkers         int           `mapstructure:"batch_max_workers"`
	MinOrderSize            float64       `mapstructure:"min_order_size"`
	WSReconnectDelay        time.Duration `mapstructure:"ws_reconnect_delay"`
	WSMaxReconnects         int           `mapstructure:"ws_max_reconnects"`
	RTDSAutoReconnect       bool          `mapstructure:"rtds_auto_reconnect"`
	RTDSPingInterval        time.Duration `mapstructure:"rtds_ping_interval"`
	EnableRTDS              bool          `mapstructure:"enable_rtds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// applyDefaults fills in transport tuning fields left zero by the YAML file,
// matching the published exchange defaults.
func applyDefaults(cfg *Config) {
	if cfg.API.RequestTimeout == 0 {
		cfg.API.RequestTimeout = 10 * time.Second
	}
	if cfg.API.ConnectTimeout == 0 {
		cfg.API.ConnectTimeout = 5 * time.Second
	}
	if cfg.API.MaxRetries == 0 {
		cfg.API.MaxRetries = 3
	}
	if cfg.API.RetryBackoffBase == 0 {
		cfg.API.RetryBackoffBase = 250 * time.Millisecond
	}
	if cfg.API.RetryBackoffMax == 0 {
		cfg.API.RetryBackoffMax = 10 * time.Second
	}
	if cfg.API.RateLimitMargin == 0 {
		cfg.API.RateLimitMargin = 0.8
	}
	if cfg.API.CircuitBreakerThreshold == 0 {
		cfg.API.CircuitBreakerThreshold = 5
	}
	if cfg.API.CircuitBreakerTimeout == 0 {
		cfg.API.CircuitBreakerTimeout = 30 * time.Second
	}
	if cfg.API.PoolConnections == 0 {
		cfg.API.PoolConnections = 20
	}
	if cfg.API.PoolMaxSize == 0 {
		cfg.API.PoolMaxSize = 20
	}
	if cfg.API.BatchMaxWorkers == 0 {
		cfg.API.BatchMaxWorkers = 5
	}
	if cfg.API.WSReconnectDelay == 0 {
		cfg.API.WSReconnectDelay = time.Second
	}
	if cfg.API.WSMaxReconnects == 0 {
		cfg.API.WSMaxReconnects = 10
	}
	if cfg.API.RTDSPingInterval == 0 {
		cfg.API.RTDSPingInterval = 5 * time.Second
	}
	if cfg.Contracts.ExchangeAddress == "" {
		cfg.Contracts.ExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	}
	if cfg.Contracts.NegRiskExchangeAddress == "" {
		cfg.Contracts.NegRiskExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	}
	if cfg.Contracts.NegRiskAdapterAddress == "" {
		cfg.Contracts.NegRiskAdapterAddress = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"
	}
	if cfg.Contracts.CollateralAddress == "" {
		cfg.Contracts.CollateralAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	}
	if cfg.Contracts.ConditionalTokensAddress == "" {
		cfg.Contracts.ConditionalTokensAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	}
	if cfg.Credentials.CacheDir == "" {
		cfg.Credentials.CacheDir = "data/credentials"
	}
}

// Load reads config from a YAML file with env var overrides. PM_* is the
// primary env prefix; POLY_* is kept as a secondary alias for the four
// fields the bot has always special-cased (private key, API key, API
// secret, passphrase) plus dry-run, for backward compatibility.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Sensitive fields: PM_* primary, POLY_* secondary alias.
	overrideString(&cfg.Wallet.PrivateKey, "PM_PRIVATE_KEY", "POLY_PRIVATE_KEY")
	overrideString(&cfg.API.ApiKey, "PM_API_KEY", "POLY_API_KEY")
	overrideString(&cfg.API.Secret, "PM_API_SECRET", "POLY_API_SECRET")
	overrideString(&cfg.API.Passphrase, "PM_PASSPHRASE", "POLY_PASSPHRASE")

	for _, name := range []string{"PM_DRY_RUN", "POLY_DRY_RUN"} {
		if val := os.Getenv(name); val == "true" || val == "1" {
			cfg.DryRun = true
		}
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func overrideString(field *string, primary, secondary string) {
	if v := os.Getenv(primary); v != "" {
		*field = v
		return
	}
	if v := os.Getenv(secondary); v != "" {
		*field = v
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.RequestTimeout < time.Second {
		return fmt.Errorf("api.request_timeout must be >= 1s")
	}
	if c.API.ConnectTimeout < time.Second {
		return fmt.Errorf("api.connect_timeout must be >= 1s")
	}
	if c.API.MaxRetries < 0 || c.API.MaxRetries > 10 {
		return fmt.Errorf("api.max_retries must be between 0 and 10")
	}
	if c.API.RetryBackoffBase < time.Second {
		return fmt.Errorf("api.retry_backoff_base must be >= 1s")
	}
	if c.API.RateLimitMargin < 0.1 || c.API.RateLimitMargin > 1.0 {
		return fmt.Errorf("api.rate_limit_margin must be between 0.1 and 1.0")
	}
	return nil
}

// DefaultRateLimits returns the exchange's published per-endpoint quotas,
// keyed "METHOD:/path". These are the starting point for internal/ratelimit;
// a deployment can override individual entries without losing the rest.
func DefaultRateLimits() map[string]ratelimit.Config {
	sec := time.Second
	return map[string]ratelimit.Config{
		"POST:/order":              {Limit: 2400, Window: 10 * sec, Burst: 2400, Sustained: 24000, SustainedWindow: 600 * sec},
		"DELETE:/order":            {Limit: 2400, Window: 10 * sec, Burst: 2400, Sustained: 24000, SustainedWindow: 600 * sec},
		"POST:/orders":             {Limit: 2400, Window: 10 * sec, Burst: 2400, Sustained: 24000, SustainedWindow: 600 * sec},
		"DELETE:/cancel-all":       {Limit: 2400, Window: 10 * sec, Burst: 2400, Sustained: 24000, SustainedWindow: 600 * sec},
		"GET:/book":                {Limit: 200, Window: 10 * sec},
		"GET:/midpoint":            {Limit: 200, Window: 10 * sec},
		"GET:/price":               {Limit: 200, Window: 10 * sec},
		"GET:/last_trade_price":    {Limit: 200, Window: 10 * sec},
		"GET:/spread":              {Limit: 200, Window: 10 * sec},
		"GET:/data/order":          {Limit: 200, Window: 10 * sec},
		"GET:/data/orders":         {Limit: 200, Window: 10 * sec},
		"GET:/data/trades":        {Limit: 75, Window: 10 * sec},
		"GET:/balance":             {Limit: 20, Window: 10 * sec},
		"GET:/balances":            {Limit: 20, Window: 10 * sec},
		"POST:/auth/api-key":       {Limit: 50, Window: 10 * sec},
		"GET:/auth/derive-api-key": {Limit: 50, Window: 10 * sec},
		"POST:/auth/nonce":         {Limit: 50, Window: 10 * sec},
		"GET:/ok":                  {Limit: 50, Window: 10 * sec},
		"CLOB:default":             {Limit: 5000, Window: 10 * sec},
		"GET:/markets":             {Limit: 125, Window: 10 * sec},
		"GET:/search":              {Limit: 300, Window: 10 * sec},
		"GET:/events":              {Limit: 100, Window: 10 * sec},
		"GET:/tags":                {Limit: 100, Window: 10 * sec},
		"GAMMA:default":            {Limit: 750, Window: 10 * sec},
		"DATA:default":             {Limit: 200, Window: 10 * sec},
	}
}

// DefaultRateLimitFallback is applied to any endpoint key not present in
// DefaultRateLimits, mirroring the published catch-all quota.
func DefaultRateLimitFallback() ratelimit.Config {
	return ratelimit.Config{Limit: 100, Window: 10 * time.Second}
}
