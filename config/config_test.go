package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"RPC_URL", "CHAIN_ID", "LOG_LEVEL", "LISTEN_ADDR", "PROVIDERS",
		"ALCHEMY_API_KEY", "NEXT_PUBLIC_ALCHEMY_API_KEY", "ALCHEMY_POLICY_ID", "NEXT_PUBLIC_PAYMASTER_POLICY_ID", "ALCHEMY_URL",
		"ULTRA_RELAY_URL", "NEXT_PUBLIC_ULTRA_RELAY_URL", "PIMLICO_URL", "NEXT_PUBLIC_PIMLICO_URL",
		"THIRDWEB_SECRET_KEY", "THIRDWEB_BUNDLER_URL", "THIRDWEB_TX_URL", "THIRDWEB_ROUTE_SECRET",
		"GELATO_API_KEY", "GELATO_SPONSOR_API_KEY", "GELATO_RELAY_URL", "RETRY_ATTEMPTS", "ADAPTER_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://sepolia.base.org", cfg.RPCURL)
	assert.Equal(t, int64(84532), cfg.ChainID)
	assert.Equal(t, AllProviders, cfg.Providers)
	assert.Equal(t, 15, cfg.Retry.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.MinDelay)
	assert.Equal(t, 4*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2*time.Minute, cfg.Runner.AdapterTimeout)
	assert.True(t, cfg.Runner.Prepare)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_PublicFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEXT_PUBLIC_ALCHEMY_API_KEY", "public-key")
	t.Setenv("NEXT_PUBLIC_PAYMASTER_POLICY_ID", "policy")
	t.Setenv("NEXT_PUBLIC_ULTRA_RELAY_URL", "https://relay.example")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "public-key", cfg.Alchemy.APIKey)
	assert.Equal(t, "policy", cfg.Alchemy.PolicyID)
	assert.Equal(t, "https://relay.example", cfg.UltraRelay.URL)
	assert.Equal(t, "https://base-sepolia.g.alchemy.com/v2/public-key", cfg.AlchemyURL())

	t.Setenv("ALCHEMY_API_KEY", "primary")
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.Alchemy.APIKey)
}

func TestFromEnv_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAIN_ID", "base")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAIN_ID")

	t.Setenv("CHAIN_ID", "")
	t.Setenv("ADAPTER_TIMEOUT", "soon")
	_, err = FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADAPTER_TIMEOUT")
}

func TestApplyFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "benchmark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers: [pimlico, zerodev]
retry:
  attempts: 30
  maxDelay: 8s
runner:
  adapterTimeout: 90s
  prepare: false
`), 0o600))

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.applyFile(path))

	assert.Equal(t, []string{ProviderPimlico, ProviderZeroDev}, cfg.Providers)
	assert.Equal(t, 30, cfg.Retry.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.MinDelay)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 90*time.Second, cfg.Runner.AdapterTimeout)
	assert.False(t, cfg.Runner.Prepare)
	assert.Equal(t, time.Minute, cfg.Runner.PrepareTimeout)
	assert.True(t, cfg.Enabled(ProviderPimlico))
	assert.False(t, cfg.Enabled(ProviderGelato))
}

func TestApplyFile_NormalizesProviders(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROVIDERS", " Alchemy , PIMLICO ")

	path := filepath.Join(t.TempDir(), "benchmark.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: [\" Alchemy\", ThirdWeb, \"\"]\n"), 0o600))

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{ProviderAlchemy, ProviderPimlico}, cfg.Providers)

	require.NoError(t, cfg.applyFile(path))
	assert.Equal(t, []string{ProviderAlchemy, ProviderThirdweb}, cfg.Providers)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.Providers = []string{"biconomy"} }, "unknown provider"},
		{"duplicate provider", func(c *Config) { c.Providers = []string{ProviderGelato, ProviderGelato} }, "listed twice"},
		{"no providers", func(c *Config) { c.Providers = nil }, "no providers"},
		{"bad chain id", func(c *Config) { c.ChainID = 0 }, "invalid chain id"},
		{"bad retry", func(c *Config) { c.Retry.Attempts = 0 }, "invalid retry policy"},
		{"inverted delays", func(c *Config) { c.Retry.MinDelay = 10 * time.Second }, "invalid retry policy"},
		{"zero min delay", func(c *Config) { c.Retry.MinDelay = 0 }, "invalid retry policy"},
		{"negative timeout", func(c *Config) { c.Runner.AdapterTimeout = -time.Second }, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			cfg, err := FromEnv()
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConversions(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAIN_ID", "8453")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://8453.bundler.thirdweb.com/v2", cfg.ThirdwebBundlerURL())
	assert.Equal(t, int64(8453), cfg.ChainIDBig().Int64())
	assert.Equal(t, cfg.Retry.Attempts, cfg.RetryPolicy().Attempts)

	runner := cfg.RunnerConfig()
	assert.Equal(t, cfg.Runner.AdapterTimeout, runner.AdapterTimeout)
	assert.Equal(t, cfg.Runner.Prepare, runner.PrepareConfig.Enabled)
}

func TestString_MasksSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("THIRDWEB_SECRET_KEY", "tw-secret-value")
	t.Setenv("GELATO_API_KEY", "gelato-secret-value")

	cfg, err := FromEnv()
	require.NoError(t, err)

	out := cfg.String()
	assert.NotContains(t, out, "tw-secret-value")
	assert.NotContains(t, out, "gelato-secret-value")
	assert.Contains(t, out, "********")
	assert.Contains(t, out, "(not set)")
}
