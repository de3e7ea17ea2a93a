// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the llmgateway process. Each
// nested struct corresponds to one of the recognized configuration
// sections below.
type Config struct {
	Server         ServerConfig         `koanf:"server"`
	Auth           AuthConfig           `koanf:"auth"`
	Vertex         VertexConfig         `koanf:"vertex"`
	OpenAI         OpenAIConfig         `koanf:"openai"`
	Anthropic      AnthropicConfig      `koanf:"anthropic"`
	RateLimit      RateLimitConfig      `koanf:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
	Log            LogConfig            `koanf:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host                string        `koanf:"host"`
	Port                int           `koanf:"port"`
	MaxRequestSize      int64         `koanf:"max_request_size"`
	ShutdownGracePeriod time.Duration `koanf:"shutdown_grace_period"`
}

// AuthConfig controls bearer-token authentication of inbound clients.
type AuthConfig struct {
	RequireAuth bool   `koanf:"require_auth"`
	MasterKey   string `koanf:"master_key"`
}

// VertexConfig configures the Gemini/Vertex adapter's two auth modes.
type VertexConfig struct {
	ProjectID       string `koanf:"project_id"`
	Region          string `koanf:"region"`
	APIKey          string `koanf:"api_key"`
	APIKeyBaseURL   string `koanf:"api_key_base_url"`
	OAuthBaseURL    string `koanf:"oauth_base_url"`
	CredentialsPath string `koanf:"credentials_path"`
}

// OpenAIConfig configures the ChatGPT-web (OpenAI-Web) adapter and its
// harvester side-car.
type OpenAIConfig struct {
	HarvesterURL          string `koanf:"harvester_url"`
	AccessTokenTTLSecs    int    `koanf:"access_token_ttl_secs"`
	ArkoseTokenTTLSecs    int    `koanf:"arkose_token_ttl_secs"`
	TLSFingerprintEnabled bool   `koanf:"tls_fingerprint_enabled"`
	TLSFingerprintTarget  string `koanf:"tls_fingerprint_target"`
}

// AnthropicConfig configures the Anthropic-CLI bridge adapter.
type AnthropicConfig struct {
	BridgeURL string `koanf:"bridge_url"`
}

// RateLimitConfig configures the global token-bucket admission gate.
type RateLimitConfig struct {
	Capacity        float64 `koanf:"capacity"`
	RefillPerSecond float64 `koanf:"refill_per_second"`
}

// CircuitBreakerConfig configures the per-provider breaker defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int `koanf:"failure_threshold"`
	TimeoutSecs      int `koanf:"timeout_secs"`
	SuccessThreshold int `koanf:"success_threshold"`

	// Timeout is derived from TimeoutSecs after loading; it isn't a koanf
	// key itself (time.Duration can't round-trip seconds-as-int cleanly).
	Timeout time.Duration `koanf:"-"`
}

// LogConfig controls logrus setup.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, expands ${VAR} placeholders, validates, and returns a
// fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Any env var starting with LLMGATEWAY_ can override a config value.
	// LLMGATEWAY_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("LLMGATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMGATEWAY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := defaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPlaceholders(&cfg)
	cfg.CircuitBreaker.Timeout = time.Duration(cfg.CircuitBreaker.TimeoutSecs) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// defaultConfig seeds every field koanf.Unmarshal might leave untouched
// because config.yaml didn't mention it. Unmarshal merges onto whatever
// the struct already holds, so starting from these defaults and letting
// the file/env layers overwrite them gives "defaults, file, env" ordering
// without a separate confmap provider layer.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			MaxRequestSize:      10 * 1024 * 1024,
			ShutdownGracePeriod: 10 * time.Second,
		},
		Vertex: VertexConfig{
			APIKeyBaseURL: "https://generativelanguage.googleapis.com",
			OAuthBaseURL:  "https://us-central1-aiplatform.googleapis.com",
		},
		OpenAI: OpenAIConfig{
			HarvesterURL:       "http://localhost:4002",
			AccessTokenTTLSecs: 3600,
			ArkoseTokenTTLSecs: 120,
		},
		Anthropic: AnthropicConfig{
			BridgeURL: "http://localhost:4001",
		},
		RateLimit: RateLimitConfig{
			Capacity:        50,
			RefillPerSecond: 5,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 10,
			TimeoutSecs:      60,
			SuccessThreshold: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// expandPlaceholders resolves ${VAR_NAME} references in string fields that
// commonly carry secrets, by looking the name up in the process
// environment. Fields that aren't set to a placeholder are left untouched.
func expandPlaceholders(cfg *Config) {
	cfg.Auth.MasterKey = expandOne(cfg.Auth.MasterKey)
	cfg.Vertex.APIKey = expandOne(cfg.Vertex.APIKey)
}

func expandOne(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// Validate enforces the invariants required at load time:
// port in range, a non-empty master key when auth is required, and at
// least one Google credential mode configured.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Auth.RequireAuth && c.Auth.MasterKey == "" {
		return fmt.Errorf("auth.master_key must be set when auth.require_auth is true")
	}
	if c.Vertex.APIKey == "" && c.Vertex.CredentialsPath == "" {
		return fmt.Errorf("at least one of vertex.api_key or vertex.credentials_path must be set")
	}
	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("rate_limit.capacity must be positive")
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.success_threshold must be positive")
	}
	return nil
}
