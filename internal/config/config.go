// Package config provides configuration loading for agenticbot.
//
// Configuration comes from an optional YAML file overridden by environment
// variables, with defaults for everything that has one.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete agenticbot configuration.
type Config struct {
	Engine    EngineConfig    `koanf:"engine"`
	LLM       LLMConfig       `koanf:"llm"`
	Warehouse WarehouseConfig `koanf:"warehouse"`
	Schema    SchemaConfig    `koanf:"schema"`
	Store     StoreConfig     `koanf:"store"`
	Trail     TrailConfig     `koanf:"trail"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// EngineConfig holds the orchestration ceilings and timeouts.
type EngineConfig struct {
	MaxIterations          int      `koanf:"max_iterations"`
	MaxClarificationRounds int      `koanf:"max_clarification_rounds"`
	CollaboratorTimeout    Duration `koanf:"collaborator_timeout"`
	PolicyTimeout          Duration `koanf:"policy_timeout"`
	// Policy selects the decision policy: llm or rules.
	Policy string `koanf:"policy"`
}

// LLMConfig selects the model used by the policy and the collaborators.
type LLMConfig struct {
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	RateLimit   float64 `koanf:"rate_limit"`
	Burst       int     `koanf:"burst"`
}

// WarehouseConfig configures the SQL executor.
type WarehouseConfig struct {
	Driver       string   `koanf:"driver"`
	DSN          Secret   `koanf:"dsn"`
	MaxRows      int      `koanf:"max_rows"`
	QueryTimeout Duration `koanf:"query_timeout"`
}

// SchemaConfig locates the schema context document.
type SchemaConfig struct {
	Path string `koanf:"path"`
}

// StoreConfig selects where session records live.
type StoreConfig struct {
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

// TrailConfig configures publishing of the decision trail.
type TrailConfig struct {
	Enabled bool   `koanf:"enabled"`
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`

	// AllowList holds patterns exempt from credential redaction.
	AllowList []string `koanf:"allow_list"`
	// AllowListFile is a gitleaks-style TOML allowlist merged into AllowList.
	AllowListFile string `koanf:"allow_list_file"`
	// Gitleaks adds the gitleaks rule set to the built-in credential rules.
	Gitleaks bool `koanf:"gitleaks"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Endpoint      string `koanf:"endpoint"`
	Protocol      string `koanf:"protocol"`
	Insecure      bool   `koanf:"insecure"`
	TLSSkipVerify bool   `koanf:"tls_skip_verify"`
	ServiceName   string `koanf:"service_name"`
}

// Supported values.
const (
	PolicyLLM   = "llm"
	PolicyRules = "rules"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.MaxClarificationRounds < 0 {
		return fmt.Errorf("engine.max_clarification_rounds must be >= 0, got %d", c.Engine.MaxClarificationRounds)
	}
	if c.Engine.CollaboratorTimeout <= 0 || c.Engine.PolicyTimeout <= 0 {
		return errors.New("engine timeouts must be positive")
	}
	switch c.Engine.Policy {
	case PolicyLLM, PolicyRules:
	default:
		return fmt.Errorf("unknown engine.policy %q (want llm or rules)", c.Engine.Policy)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm.provider %q (want openai or anthropic)", c.LLM.Provider)
	}
	if c.LLM.RateLimit < 0 || c.LLM.Burst < 0 {
		return errors.New("llm rate limit and burst must be >= 0")
	}

	if c.Warehouse.MaxRows <= 0 {
		return fmt.Errorf("warehouse.max_rows must be positive, got %d", c.Warehouse.MaxRows)
	}
	if c.Warehouse.QueryTimeout <= 0 {
		return errors.New("warehouse.query_timeout must be positive")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q (want memory or sqlite)", c.Store.Backend)
	}

	if c.Trail.Enabled && c.Trail.NATSURL == "" {
		return errors.New("trail.nats_url is required when the trail is enabled")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 10
	}
	if cfg.Engine.MaxClarificationRounds == 0 {
		cfg.Engine.MaxClarificationRounds = 3
	}
	if cfg.Engine.CollaboratorTimeout == 0 {
		cfg.Engine.CollaboratorTimeout = Duration(60 * time.Second)
	}
	if cfg.Engine.PolicyTimeout == 0 {
		cfg.Engine.PolicyTimeout = Duration(30 * time.Second)
	}
	if cfg.Engine.Policy == "" {
		cfg.Engine.Policy = PolicyLLM
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.RateLimit == 0 {
		cfg.LLM.RateLimit = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 4
	}

	if cfg.Warehouse.Driver == "" {
		cfg.Warehouse.Driver = "sqlite"
	}
	if cfg.Warehouse.MaxRows == 0 {
		cfg.Warehouse.MaxRows = 1000
	}
	if cfg.Warehouse.QueryTimeout == 0 {
		cfg.Warehouse.QueryTimeout = Duration(30 * time.Second)
	}

	if cfg.Schema.Path == "" {
		cfg.Schema.Path = "context/systemcontext.md"
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}

	if cfg.Trail.Subject == "" {
		cfg.Trail.Subject = "agenticbot.trail"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "agenticbot"
	}
}
