package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Collaborator modes.
const (
	ModeSimulated = "simulated"
	ModeEthereum  = "ethereum"
)

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress string            `yaml:"listen"`
	Environment   string            `yaml:"environment"`
	StatePath     string            `yaml:"state_path"`
	AuditPath     string            `yaml:"audit_path"`
	Idempotency   IdempotencyConfig `yaml:"idempotency"`
	VaultConfig   string            `yaml:"vault_config"`
	Mode          string            `yaml:"mode"`
	Swap          SwapConfig        `yaml:"swap"`
	Ethereum      EthereumConfig    `yaml:"ethereum"`
	Harvest       HarvestConfig     `yaml:"harvest"`
	Auth          AuthConfig        `yaml:"auth"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	Logging       LoggingConfig     `yaml:"logging"`
	Telemetry     TelemetryConfig   `yaml:"telemetry"`
	Simulated     SimulatedConfig   `yaml:"simulated"`
}

// SwapConfig points at the conversion router.
type SwapConfig struct {
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
}

// EthereumConfig wires the booster staking adapter.
type EthereumConfig struct {
	RPCURL         string   `yaml:"rpc_url"`
	ChainID        int64    `yaml:"chain_id"`
	PrivateKey     string   `yaml:"private_key"`
	Booster        string   `yaml:"booster"`
	RewardPool     string   `yaml:"reward_pool"`
	BoosterPoolID  int64    `yaml:"booster_pid"`
	GasLimit       uint64   `yaml:"gas_limit"`
	ReceiptTimeout Duration `yaml:"receipt_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`
}

// IdempotencyConfig locates the replay store for user mutations. An empty
// path disables Idempotency-Key handling.
type IdempotencyConfig struct {
	Path string   `yaml:"path"`
	TTL  Duration `yaml:"ttl"`
}

// HarvestConfig drives the periodic harvester.
type HarvestConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// AuthConfig configures admin bearer tokens.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimitConfig throttles API clients.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
	// TrustProxyHeaders keys clients by X-Real-IP / X-Forwarded-For.
	TrustProxyHeaders bool    `yaml:"trust_proxy_headers"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig mirrors otel.Config.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Headers     string  `yaml:"headers"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// SimulatedConfig tunes the in-process collaborators used in simulated mode.
type SimulatedConfig struct {
	DripA string `yaml:"drip_a"`
	DripB string `yaml:"drip_b"`
}

const (
	envListen        = "VAULTD_LISTEN"
	envEnvironment   = "VAULTD_ENV"
	envHMACSecret    = "VAULTD_JWT_SECRET"
	envRPCURL        = "VAULTD_ETH_RPC_URL"
	envPrivateKey    = "VAULTD_ETH_PRIVATE_KEY"
	envSwapEndpoint  = "VAULTD_SWAP_ENDPOINT"
	envSwapAPIKey    = "VAULTD_SWAP_API_KEY"
	envLogLevel      = "VAULTD_LOG_LEVEL"
	envOTELEndpoint  = "VAULTD_OTEL_ENDPOINT"
	envHarvestEnable = "VAULTD_HARVEST_ENABLED"
)

// Load reads configuration from the supplied path and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddress = stringFromEnv(envListen, cfg.ListenAddress)
	cfg.Environment = stringFromEnv(envEnvironment, cfg.Environment)
	cfg.Auth.HMACSecret = stringFromEnv(envHMACSecret, cfg.Auth.HMACSecret)
	cfg.Ethereum.RPCURL = stringFromEnv(envRPCURL, cfg.Ethereum.RPCURL)
	cfg.Ethereum.PrivateKey = stringFromEnv(envPrivateKey, cfg.Ethereum.PrivateKey)
	cfg.Swap.Endpoint = stringFromEnv(envSwapEndpoint, cfg.Swap.Endpoint)
	cfg.Swap.APIKey = stringFromEnv(envSwapAPIKey, cfg.Swap.APIKey)
	cfg.Logging.Level = stringFromEnv(envLogLevel, cfg.Logging.Level)
	cfg.Telemetry.Endpoint = stringFromEnv(envOTELEndpoint, cfg.Telemetry.Endpoint)
	cfg.Harvest.Enabled = boolFromEnv(envHarvestEnable, cfg.Harvest.Enabled)
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "/var/data/vaultd/state"
	}
	if cfg.AuditPath == "" {
		cfg.AuditPath = "/var/data/vaultd/audit.sqlite"
	}
	if cfg.Idempotency.TTL.Duration == 0 {
		cfg.Idempotency.TTL.Duration = 24 * time.Hour
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeSimulated
	}
	if cfg.Swap.Timeout.Duration == 0 {
		cfg.Swap.Timeout.Duration = 10 * time.Second
	}
	if cfg.Ethereum.GasLimit == 0 {
		cfg.Ethereum.GasLimit = 600_000
	}
	if cfg.Ethereum.ReceiptTimeout.Duration == 0 {
		cfg.Ethereum.ReceiptTimeout.Duration = 2 * time.Minute
	}
	if cfg.Ethereum.PollInterval.Duration == 0 {
		cfg.Ethereum.PollInterval.Duration = 2 * time.Second
	}
	if cfg.Harvest.Interval.Duration == 0 {
		cfg.Harvest.Interval.Duration = time.Hour
	}
	if cfg.Harvest.Timeout.Duration == 0 {
		cfg.Harvest.Timeout.Duration = 2 * time.Minute
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.VaultConfig) == "" {
		return fmt.Errorf("vault_config must point at the vault TOML file")
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmac_secret must be configured")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be non-negative")
	}
	if cfg.Idempotency.TTL.Duration < 0 {
		return fmt.Errorf("idempotency.ttl must be non-negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	switch cfg.Mode {
	case ModeSimulated:
	case ModeEthereum:
		if strings.TrimSpace(cfg.Swap.Endpoint) == "" {
			return fmt.Errorf("swap.endpoint required in ethereum mode")
		}
		if strings.TrimSpace(cfg.Ethereum.RPCURL) == "" {
			return fmt.Errorf("ethereum.rpc_url required in ethereum mode")
		}
		if strings.TrimSpace(cfg.Ethereum.PrivateKey) == "" {
			return fmt.Errorf("ethereum.private_key required in ethereum mode")
		}
		if strings.TrimSpace(cfg.Ethereum.Booster) == "" || strings.TrimSpace(cfg.Ethereum.RewardPool) == "" {
			return fmt.Errorf("ethereum.booster and ethereum.reward_pool required in ethereum mode")
		}
		if cfg.Ethereum.ChainID <= 0 {
			return fmt.Errorf("ethereum.chain_id must be positive")
		}
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	return nil
}

// Sanitized returns a copy with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	clone.Auth.HMACSecret = maskSecret(clone.Auth.HMACSecret)
	clone.Ethereum.PrivateKey = maskSecret(clone.Ethereum.PrivateKey)
	clone.Swap.APIKey = maskSecret(clone.Swap.APIKey)
	return clone
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	return "***"
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
