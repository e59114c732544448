// Package config loads the gateway's YAML configuration (§6) with
// environment-variable overrides at the leaves, using a typed-struct-with-
// defaults layering backed by a file instead of environment variables
// alone.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object. Every section maps to one row
// of the §6 configuration table.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Registry       RegistryConfig       `yaml:"registry"`
	SmartDiscovery SmartDiscoveryConfig `yaml:"smart_discovery"`
	ExternalMCP    ExternalMCPConfig    `yaml:"external_mcp"`
	Transports     TransportsConfig     `yaml:"transports"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Auth           AuthConfig           `yaml:"auth"`
}

type TLSConfig struct {
	Mode string `yaml:"mode"` // "off", "auto", "manual"
}

type ServerConfig struct {
	Host        string    `yaml:"host"`
	Port        int       `yaml:"port"`
	WebSocket   bool      `yaml:"websocket"`
	TimeoutS    int       `yaml:"timeout_s"`
	TLS         TLSConfig `yaml:"tls"`
}

func (s ServerConfig) Timeout() time.Duration { return time.Duration(s.TimeoutS) * time.Second }

type ValidationConfig struct {
	Strict bool `yaml:"strict"`
}

type RegistryConfig struct {
	Paths      []string         `yaml:"paths"`
	HotReload  bool             `yaml:"hot_reload"`
	Validation ValidationConfig `yaml:"validation"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	TimeoutS int    `yaml:"timeout_s"`
}

type SemanticConfig struct {
	Backend string `yaml:"backend"` // local_model | remote_openai_like | remote_ollama | disabled
	Model   string `yaml:"model"`
	TopK    int    `yaml:"top_k"`
}

// RulePattern is one high-precision fast-path entry for the rule-based
// discovery strategy: match is an expr-lang/expr boolean expression
// evaluated against the request text and context; on match, tool fires
// with the given confidence.
type RulePattern struct {
	Tool       string  `yaml:"tool"`
	Match      string  `yaml:"match"`
	Confidence float64 `yaml:"confidence"`
}

type SmartDiscoveryConfig struct {
	Enabled                 bool           `yaml:"enabled"`
	ToolSelectionMode       string         `yaml:"tool_selection_mode"`
	DefaultConfidenceThresh float64        `yaml:"default_confidence_threshold"`
	LLM                     LLMConfig      `yaml:"llm"`
	Semantic                SemanticConfig `yaml:"semantic"`
	Rules                   []RulePattern  `yaml:"rules"`
}

type RestartConfig struct {
	Max         int `yaml:"max"`
	BaseBackoffS int `yaml:"base_backoff_s"`
	CeilingS     int `yaml:"ceiling_s"`
}

type ExternalMCPConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	ConfigFile              string        `yaml:"config_file"`
	CapabilitiesOutputDir   string        `yaml:"capabilities_output_dir"`
	RefreshIntervalMinutes  int           `yaml:"refresh_interval_minutes"`
	Restart                 RestartConfig `yaml:"restart"`
}

type TransportsConfig struct {
	Stdio           bool `yaml:"stdio"`
	WebSocket       bool `yaml:"websocket"`
	SSE             bool `yaml:"sse"`
	StreamableHTTP  bool `yaml:"streamable_http"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type AuthConfig struct {
	APIKeyHeader string `yaml:"api_key_header"`
	JWTIssuer    string `yaml:"jwt_issuer"`
	JWTAudience  string `yaml:"jwt_audience"`
	JWTSecret    string `yaml:"-"` // never serialised; env-only
}

// Default returns the built-in defaults, applied before the YAML file and
// environment overrides are layered on.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			WebSocket: true,
			TimeoutS: 30,
			TLS:      TLSConfig{Mode: "off"},
		},
		Registry: RegistryConfig{
			Paths:      []string{"./capabilities"},
			HotReload:  true,
			Validation: ValidationConfig{Strict: true},
		},
		SmartDiscovery: SmartDiscoveryConfig{
			Enabled:                 true,
			ToolSelectionMode:       "hybrid",
			DefaultConfidenceThresh: 0.6,
			LLM:                     LLMConfig{Provider: "openai", Model: "gpt-4o-mini", TimeoutS: 15},
			Semantic:                SemanticConfig{Backend: "disabled", Model: "text-embedding-3-small", TopK: 5},
		},
		ExternalMCP: ExternalMCPConfig{
			Enabled:                true,
			ConfigFile:             "./external_mcp.yaml",
			CapabilitiesOutputDir:  "./capabilities/.external",
			RefreshIntervalMinutes: 10,
			Restart:                RestartConfig{Max: 0, BaseBackoffS: 1, CeilingS: 60},
		},
		Transports: TransportsConfig{Stdio: true, WebSocket: true, SSE: true, StreamableHTTP: true},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "mcpgateway"),
		},
		Auth: AuthConfig{
			APIKeyHeader: envStr("AUTH_API_KEY_HEADER", "Authorization"),
			JWTIssuer:    envStr("AUTH_JWT_ISSUER", ""),
			JWTAudience:  envStr("AUTH_JWT_AUDIENCE", ""),
			JWTSecret:    envStr("AUTH_JWT_SECRET", ""),
		},
	}
}

// Load reads path, merges it over the defaults, and layers on a small set
// of environment overrides for the fields operators most often need to
// change per-deployment without editing the file (port, host).
// An empty path is not an error: it yields Default() with env overrides
// only, so the gateway starts zero-config-friendly.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if p := os.Getenv("MCPGATEWAY_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			cfg.Server.Port = port
		}
	}
	if h := os.Getenv("MCPGATEWAY_HOST"); h != "" {
		cfg.Server.Host = h
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
