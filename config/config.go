// Package config handles configuration loading and management
package config

import (
	"fmt"
	"math/big"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/client"
	"gopkg.in/yaml.v3"
)

// Provider keys accepted in the enabled provider list.
const (
	ProviderGelato   = "gelato"
	ProviderAlchemy  = "alchemy"
	ProviderZeroDev  = "zerodev"
	ProviderPimlico  = "pimlico"
	ProviderThirdweb = "thirdweb"
)

// AllProviders lists every provider key in launch order.
var AllProviders = []string{ProviderGelato, ProviderAlchemy, ProviderZeroDev, ProviderPimlico, ProviderThirdweb}

// Config holds the application configuration
type Config struct {
	RPCURL     string
	ChainID    int64
	LogLevel   string
	ListenAddr string

	// Providers lists the enabled provider keys in launch order.
	Providers []string

	Alchemy    AlchemyConfig
	UltraRelay UltraRelayConfig
	Pimlico    PimlicoConfig
	Thirdweb   ThirdwebConfig
	Gelato     GelatoConfig

	Retry  RetryConfig
	Runner RunnerConfig
}

// AlchemyConfig configures the Alchemy bundler and gas manager.
type AlchemyConfig struct {
	APIKey   string
	PolicyID string
	// URL overrides the bundler endpoint derived from APIKey.
	URL string
}

// UltraRelayConfig configures the ZeroDev UltraRelay bundler.
type UltraRelayConfig struct {
	URL string
}

// PimlicoConfig configures the Pimlico bundler and paymaster.
type PimlicoConfig struct {
	URL string
}

// ThirdwebConfig configures both sides of the thirdweb route.
type ThirdwebConfig struct {
	// SecretKey authenticates the server side against the thirdweb bundler.
	SecretKey string
	// BundlerURL overrides the bundler endpoint derived from the chain id.
	BundlerURL string
	// RouteURL is the transaction route called by the benchmark. Empty means
	// the run command serves the route itself on loopback.
	RouteURL string
	// RouteSecret enables HS256 bearer tokens on the route.
	RouteSecret string
}

// GelatoConfig configures the Gelato relay.
type GelatoConfig struct {
	APIKey   string
	RelayURL string
}

// RetryConfig configures the confirmation poller.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	MinDelay time.Duration `yaml:"minDelay"`
	MaxDelay time.Duration `yaml:"maxDelay"`
}

// RunnerConfig configures the orchestrator.
type RunnerConfig struct {
	AdapterTimeout time.Duration `yaml:"adapterTimeout"`
	Prepare        bool          `yaml:"prepare"`
	PrepareTimeout time.Duration `yaml:"prepareTimeout"`
}

// overrides is the YAML file shape. Unset fields keep their env or default value.
type overrides struct {
	Providers []string `yaml:"providers"`
	RPCURL    string   `yaml:"rpcUrl"`
	ChainID   int64    `yaml:"chainId"`

	Retry  *RetryConfig `yaml:"retry"`
	Runner *struct {
		AdapterTimeout *time.Duration `yaml:"adapterTimeout"`
		Prepare        *bool          `yaml:"prepare"`
		PrepareTimeout *time.Duration `yaml:"prepareTimeout"`
	} `yaml:"runner"`
}

// Load reads configuration from environment variables and .env file, then
// applies the YAML overrides at path when path is not empty.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// It's okay if the file doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv builds a configuration from the process environment alone.
func FromEnv() (*Config, error) {
	policy := client.DefaultRetryPolicy()
	runner := benchmark.DefaultRunnerConfig()

	cfg := &Config{
		RPCURL:     getEnv("https://sepolia.base.org", "RPC_URL"),
		LogLevel:   getEnv("info", "LOG_LEVEL"),
		ListenAddr: getEnv(":3000", "LISTEN_ADDR"),
		Providers:  parseList(getEnv(strings.Join(AllProviders, ","), "PROVIDERS")),
		Alchemy: AlchemyConfig{
			APIKey:   getEnv("", "ALCHEMY_API_KEY", "NEXT_PUBLIC_ALCHEMY_API_KEY"),
			PolicyID: getEnv("", "ALCHEMY_POLICY_ID", "NEXT_PUBLIC_PAYMASTER_POLICY_ID"),
			URL:      getEnv("", "ALCHEMY_URL"),
		},
		UltraRelay: UltraRelayConfig{
			URL: getEnv("", "ULTRA_RELAY_URL", "NEXT_PUBLIC_ULTRA_RELAY_URL"),
		},
		Pimlico: PimlicoConfig{
			URL: getEnv("", "PIMLICO_URL", "NEXT_PUBLIC_PIMLICO_URL"),
		},
		Thirdweb: ThirdwebConfig{
			SecretKey:   getEnv("", "THIRDWEB_SECRET_KEY"),
			BundlerURL:  getEnv("", "THIRDWEB_BUNDLER_URL"),
			RouteURL:    getEnv("", "THIRDWEB_TX_URL"),
			RouteSecret: getEnv("", "THIRDWEB_ROUTE_SECRET"),
		},
		Gelato: GelatoConfig{
			APIKey:   getEnv("", "GELATO_API_KEY", "GELATO_SPONSOR_API_KEY"),
			RelayURL: getEnv(client.DefaultRelayURL, "GELATO_RELAY_URL"),
		},
		Retry: RetryConfig{
			Attempts: policy.Attempts,
			MinDelay: policy.MinDelay,
			MaxDelay: policy.MaxDelay,
		},
		Runner: RunnerConfig{
			AdapterTimeout: runner.AdapterTimeout,
			Prepare:        runner.PrepareConfig.Enabled,
			PrepareTimeout: runner.PrepareConfig.Timeout,
		},
	}

	chainID, err := strconv.ParseInt(getEnv("84532", "CHAIN_ID"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CHAIN_ID: %w", err)
	}
	cfg.ChainID = chainID

	if v := getEnv("", "RETRY_ATTEMPTS"); v != "" {
		attempts, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_ATTEMPTS: %w", err)
		}
		cfg.Retry.Attempts = attempts
	}

	if v := getEnv("", "ADAPTER_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ADAPTER_TIMEOUT: %w", err)
		}
		cfg.Runner.AdapterTimeout = timeout
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var o overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if providers := normalizeList(o.Providers); len(providers) > 0 {
		c.Providers = providers
	}
	if o.RPCURL != "" {
		c.RPCURL = o.RPCURL
	}
	if o.ChainID != 0 {
		c.ChainID = o.ChainID
	}

	if o.Retry != nil {
		if o.Retry.Attempts != 0 {
			c.Retry.Attempts = o.Retry.Attempts
		}
		if o.Retry.MinDelay != 0 {
			c.Retry.MinDelay = o.Retry.MinDelay
		}
		if o.Retry.MaxDelay != 0 {
			c.Retry.MaxDelay = o.Retry.MaxDelay
		}
	}

	if r := o.Runner; r != nil {
		if r.AdapterTimeout != nil {
			c.Runner.AdapterTimeout = *r.AdapterTimeout
		}
		if r.Prepare != nil {
			c.Runner.Prepare = *r.Prepare
		}
		if r.PrepareTimeout != nil {
			c.Runner.PrepareTimeout = *r.PrepareTimeout
		}
	}

	return nil
}

// Validate checks the settings shared by all providers. Missing provider
// credentials are not an error here; they fail that provider's setup.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is empty")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("invalid chain id %d", c.ChainID)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers enabled")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if !slices.Contains(AllProviders, p) {
			return fmt.Errorf("unknown provider %q (known: %s)", p, strings.Join(AllProviders, ", "))
		}
		if seen[p] {
			return fmt.Errorf("provider %q listed twice", p)
		}
		seen[p] = true
	}

	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	if c.Runner.AdapterTimeout < 0 || c.Runner.PrepareTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	return nil
}

// Enabled returns true if the provider key is enabled.
func (c *Config) Enabled(provider string) bool {
	return slices.Contains(c.Providers, provider)
}

// ChainIDBig returns the chain id as a big integer.
func (c *Config) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

// RetryPolicy returns the confirmation poller policy.
func (c *Config) RetryPolicy() client.RetryPolicy {
	return client.RetryPolicy{
		Attempts: c.Retry.Attempts,
		MinDelay: c.Retry.MinDelay,
		MaxDelay: c.Retry.MaxDelay,
	}
}

// RunnerConfig returns the orchestrator configuration.
func (c *Config) RunnerConfig() benchmark.RunnerConfig {
	return benchmark.RunnerConfig{
		AdapterTimeout: c.Runner.AdapterTimeout,
		PrepareConfig: benchmark.PrepareConfig{
			Enabled: c.Runner.Prepare,
			Timeout: c.Runner.PrepareTimeout,
		},
	}
}

// AlchemyURL returns the Alchemy bundler endpoint, or "" without an API key.
func (c *Config) AlchemyURL() string {
	if c.Alchemy.URL != "" {
		return c.Alchemy.URL
	}
	if c.Alchemy.APIKey == "" {
		return ""
	}
	return "https://base-sepolia.g.alchemy.com/v2/" + c.Alchemy.APIKey
}

// ThirdwebBundlerURL returns the thirdweb bundler endpoint for the chain.
func (c *Config) ThirdwebBundlerURL() string {
	if c.Thirdweb.BundlerURL != "" {
		return c.Thirdweb.BundlerURL
	}
	return fmt.Sprintf("https://%d.bundler.thirdweb.com/v2", c.ChainID)
}

// getEnv returns the first non-empty variable among keys.
func getEnv(defaultValue string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func parseList(s string) []string {
	return normalizeList(strings.Split(s, ","))
}

// normalizeList trims and lowercases entries and drops empty ones.
func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func secret(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "********"
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func (c *Config) String() string {
	return fmt.Sprintf(`Current Configuration:
======================
RPC URL:               %s
Chain ID:              %d
Listen Address:        %s
Log Level:             %s
Providers:             %s
Alchemy API Key:       %s
Alchemy Policy ID:     %s
UltraRelay URL:        %s
Pimlico URL:           %s
Thirdweb Secret Key:   %s
Thirdweb Route URL:    %s
Thirdweb Route Secret: %s
Gelato API Key:        %s
Gelato Relay URL:      %s
Retry:                 %d attempts, %s..%s
Adapter Timeout:       %s
Warm-up:               %t (timeout %s)`,
		c.RPCURL,
		c.ChainID,
		c.ListenAddr,
		c.LogLevel,
		strings.Join(c.Providers, ", "),
		secret(c.Alchemy.APIKey),
		orNotSet(c.Alchemy.PolicyID),
		secret(c.UltraRelay.URL),
		secret(c.Pimlico.URL),
		secret(c.Thirdweb.SecretKey),
		orNotSet(c.Thirdweb.RouteURL),
		secret(c.Thirdweb.RouteSecret),
		secret(c.Gelato.APIKey),
		c.Gelato.RelayURL,
		c.Retry.Attempts,
		c.Retry.MinDelay,
		c.Retry.MaxDelay,
		c.Runner.AdapterTimeout,
		c.Runner.Prepare,
		c.Runner.PrepareTimeout,
	)
}
