package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	DataStore DataStoreConfig `yaml:"datastore"`
	Auth      AuthConfig      `yaml:"auth"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	Providers      []ProviderConfig     `yaml:"providers"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// DataStoreConfig selects and configures the persistence backend.
type DataStoreConfig struct {
	// Backend is "rest" or "sqlite".
	Backend string `yaml:"backend"`
	// BaseURL and APIKey configure the REST backend.
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	// RequestsPerSec bounds outbound REST calls (0 = unlimited).
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	// Path configures the sqlite backend.
	Path string `yaml:"path"`
}

// AuthConfig configures the auth provider client.
type AuthConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// GatewayConfig holds WebSocket gateway settings. An empty Token disables
// connection auth, which is only sensible for localhost development.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Token   string `yaml:"token"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// Environment variables holding per-provider credentials. A key set in the
// environment overrides the YAML value; absence of all three puts the
// gateway in demo mode.
var credentialEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

// Load reads, parses, and defaults a configuration file. A missing file is
// not an error: the defaults describe a credential-less demo deployment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the zero-credential configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Providers: []ProviderConfig{
				{Name: "openai", Model: "gpt-4o-mini"},
				{Name: "anthropic", Model: "claude-3-5-sonnet-20241022"},
				{Name: "google", Model: "gemini-2.0-flash"},
			},
		},
		DataStore: DataStoreConfig{
			Backend: "sqlite",
			Path:    "prism.db",
			Timeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			CacheTTL: 30 * time.Second,
			Timeout:  10 * time.Second,
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8750",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnv overlays provider credentials from the environment.
func (c *Config) applyEnv() {
	for i := range c.LLM.Providers {
		envName, ok := credentialEnv[c.LLM.Providers[i].Name]
		if !ok {
			continue
		}
		if v := os.Getenv(envName); v != "" {
			c.LLM.Providers[i].APIKey = v
		}
	}
}

func (c *Config) validate() error {
	switch c.DataStore.Backend {
	case "rest":
		if c.DataStore.BaseURL == "" {
			return fmt.Errorf("datastore.base_url required for rest backend")
		}
	case "sqlite", "":
		if c.DataStore.Path == "" {
			return fmt.Errorf("datastore.path required for sqlite backend")
		}
	default:
		return fmt.Errorf("unknown datastore backend %q", c.DataStore.Backend)
	}
	return nil
}

// Provider returns the configuration block for the named provider, if any.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
