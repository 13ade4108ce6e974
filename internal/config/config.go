package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"subnet-delegation-service/internal/retry"
	"subnet-delegation-service/internal/transport"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const DefaultChainEndpoint = "wss://entrypoint-finney.opentensor.ai:443"

type ctxKey struct{}

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(ctxKey{}).(*Config)
	return cfg
}

type Config struct {
	ListenAddr  string `yaml:"listenAddr"  envconfig:"LISTEN_ADDR"`
	DatabaseURL string `yaml:"databaseUrl" envconfig:"DATABASE_URL"`
	LogLevel    string `yaml:"logLevel"    envconfig:"LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat"   envconfig:"LOG_FORMAT"`

	ChainEndpoint     string `yaml:"chainEndpoint"     envconfig:"CHAIN_ENDPOINT"`
	ValidatorAddress  string `yaml:"validatorAddress"  envconfig:"VALIDATOR_ADDRESS"`
	OwnerAccount      string `yaml:"ownerAccount"      envconfig:"OWNER_ACCOUNT"`
	IncludeOwnerVotes bool   `yaml:"includeOwnerVotes" envconfig:"INCLUDE_OWNER_VOTES"`

	PriceFeedURL  string        `yaml:"priceFeedUrl"  envconfig:"PRICE_FEED_URL"`
	PriceFeedID   string        `yaml:"priceFeedId"   envconfig:"PRICE_FEED_ID"`
	PriceCacheTTL time.Duration `yaml:"priceCacheTtl" envconfig:"PRICE_CACHE_TTL"`

	// StakeRefreshInterval of zero disables the background refresher.
	StakeRefreshInterval  time.Duration `yaml:"stakeRefreshInterval"  envconfig:"STAKE_REFRESH_INTERVAL"`
	StakeRefreshWorkers   int           `yaml:"stakeRefreshWorkers"   envconfig:"STAKE_REFRESH_WORKERS"`
	ChainQueriesPerSecond float64       `yaml:"chainQueriesPerSecond" envconfig:"CHAIN_QUERIES_PER_SECOND"`

	ChainTxTimeout     time.Duration `yaml:"chainTxTimeout"     envconfig:"CHAIN_TX_TIMEOUT"`
	ChainTxMaxAttempts int           `yaml:"chainTxMaxAttempts" envconfig:"CHAIN_TX_MAX_ATTEMPTS"`
	ChainTxRetryDelay  time.Duration `yaml:"chainTxRetryDelay"  envconfig:"CHAIN_TX_RETRY_DELAY"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins" envconfig:"CORS_ALLOWED_ORIGINS"`
	Tracing            bool     `yaml:"tracing"            envconfig:"TRACING"`
	TracingStdout      bool     `yaml:"tracingStdout"      envconfig:"TRACING_STDOUT"`

	// Client settings.
	APIURL        string `yaml:"apiUrl" envconfig:"API_URL"`
	DelegatorSeed string `yaml:"-"      envconfig:"DELEGATOR_SEED"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:            ":3000",
		DatabaseURL:           "delegations.db",
		LogLevel:              "info",
		LogFormat:             "json",
		ChainEndpoint:         DefaultChainEndpoint,
		PriceFeedURL:          transport.DefaultPriceFeedURL,
		PriceFeedID:           transport.TAOUSDFeedID,
		PriceCacheTTL:         30 * time.Second,
		StakeRefreshInterval:  time.Minute,
		StakeRefreshWorkers:   4,
		ChainQueriesPerSecond: 10,
		ChainTxTimeout:        time.Minute,
		ChainTxMaxAttempts:    retry.DefaultPolicy().MaxAttempts,
		ChainTxRetryDelay:     retry.DefaultPolicy().Delay,
		APIURL:                "http://localhost:3000",
	}
}

// LoadConfig applies, in order: defaults, the YAML file (if any), a .env
// file in the working directory (if any), and the process environment.
// Variables already set in the environment win over .env.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (must be 'json' or 'text')", c.LogFormat)
	}
	if c.PriceCacheTTL < 0 {
		return errors.New("PRICE_CACHE_TTL must not be negative")
	}
	if c.StakeRefreshInterval < 0 {
		return errors.New("STAKE_REFRESH_INTERVAL must not be negative")
	}
	if c.StakeRefreshWorkers < 1 {
		return errors.New("STAKE_REFRESH_WORKERS must be at least 1")
	}
	if c.ChainQueriesPerSecond < 0 {
		return errors.New("CHAIN_QUERIES_PER_SECOND must not be negative")
	}
	if c.ChainTxTimeout <= 0 {
		return errors.New("CHAIN_TX_TIMEOUT must be positive")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid chain retry policy: %w", err)
	}
	return nil
}

// ValidateChain checks the settings needed to talk to the chain.
func (c *Config) ValidateChain() error {
	if c.ChainEndpoint == "" {
		return errors.New("CHAIN_ENDPOINT must not be empty")
	}
	if c.ValidatorAddress == "" {
		return errors.New("VALIDATOR_ADDRESS must not be empty")
	}
	if _, err := transport.ParseAddress(c.ValidatorAddress); err != nil {
		return fmt.Errorf("invalid VALIDATOR_ADDRESS: %w", err)
	}
	return nil
}

func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.ChainTxMaxAttempts,
		Delay:       c.ChainTxRetryDelay,
	}
}

// Owner is the account whose weights stand in for unvoted stake.
func (c *Config) Owner() string {
	if c.OwnerAccount != "" {
		return c.OwnerAccount
	}
	return c.ValidatorAddress
}
