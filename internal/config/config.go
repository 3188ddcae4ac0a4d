// Package config loads the orchestrator's configuration table through
// spf13/viper: enumerated options with environment-scoped defaults,
// ORCH_-prefixed environment overrides, and an optional YAML overlay file.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment selects the TTL default profile (dev=3h, staging=12h,
// prod=24h).
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// Config mirrors the orchestrator's configuration table, one field per
// option.
type Config struct {
	Environment Environment

	WorkflowTTLHours      int
	EngineNodeTimeoutMS   int
	EngineMaxRetries      int
	ApprovalExpiryHours   int
	ChainMaxDepth         int
	DisclosureStrategy    string
	DisclosureMaxTools    int
	GatewayStreamBuffer   int

	HTTPAddr         string
	StorePath        string
	ToolManifestPath string

	// StoreDriver selects the checkpoint store backend: "sqlite" (default)
	// or "mysql". MySQLDSN is required when StoreDriver is "mysql".
	StoreDriver string
	MySQLDSN    string

	// ModelProvider selects the specialist dispatch's ChatModel backend:
	// "anthropic", "google", "openai", or "" (mock, the default — no live
	// provider credentials required). ModelName and ModelAPIKey are passed
	// through to the selected provider's constructor unchanged.
	ModelProvider string
	ModelName     string
	ModelAPIKey   string
}

func defaultTTLHours(env Environment) int {
	switch env {
	case EnvDev:
		return 3
	case EnvStaging:
		return 12
	default:
		return 24
	}
}

// Load builds a Config from defaults, an optional YAML file at configPath
// (skipped if empty or absent), and ORCH_-prefixed environment variables,
// in that increasing order of precedence.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	env := Environment(v.GetString("environment"))
	if env == "" {
		env = EnvDev
	}

	v.SetDefault("environment", string(env))
	v.SetDefault("workflow.ttl_hours", defaultTTLHours(env))
	v.SetDefault("engine.node_timeout_ms", 120000)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("approval.expiry_hours", 24)
	v.SetDefault("chain.max_depth", 20)
	v.SetDefault("disclosure.default_strategy", "minimal")
	v.SetDefault("disclosure.max_tools", 30)
	v.SetDefault("gateway.stream_buffer", 256)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.path", "orchestrator.db")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.mysql_dsn", "")
	v.SetDefault("tools.manifest_path", "tools.yaml")
	v.SetDefault("model.provider", "")
	v.SetDefault("model.name", "")
	v.SetDefault("model.api_key", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	return Config{
		Environment:          Environment(v.GetString("environment")),
		WorkflowTTLHours:     v.GetInt("workflow.ttl_hours"),
		EngineNodeTimeoutMS:  v.GetInt("engine.node_timeout_ms"),
		EngineMaxRetries:     v.GetInt("engine.max_retries"),
		ApprovalExpiryHours:  v.GetInt("approval.expiry_hours"),
		ChainMaxDepth:        v.GetInt("chain.max_depth"),
		DisclosureStrategy:   v.GetString("disclosure.default_strategy"),
		DisclosureMaxTools:   v.GetInt("disclosure.max_tools"),
		GatewayStreamBuffer:  v.GetInt("gateway.stream_buffer"),
		HTTPAddr:             v.GetString("http.addr"),
		StorePath:            v.GetString("store.path"),
		ToolManifestPath:     v.GetString("tools.manifest_path"),
		StoreDriver:          v.GetString("store.driver"),
		MySQLDSN:             v.GetString("store.mysql_dsn"),
		ModelProvider:        v.GetString("model.provider"),
		ModelName:            v.GetString("model.name"),
		ModelAPIKey:          v.GetString("model.api_key"),
	}, nil
}

// WorkflowTTL is WorkflowTTLHours as a time.Duration.
func (c Config) WorkflowTTL() time.Duration {
	return time.Duration(c.WorkflowTTLHours) * time.Hour
}

// ApprovalExpiry is ApprovalExpiryHours as a time.Duration.
func (c Config) ApprovalExpiry() time.Duration {
	return time.Duration(c.ApprovalExpiryHours) * time.Hour
}

// EngineNodeTimeout is EngineNodeTimeoutMS as a time.Duration.
func (c Config) EngineNodeTimeout() time.Duration {
	return time.Duration(c.EngineNodeTimeoutMS) * time.Millisecond
}
