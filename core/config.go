package core

// config.go – construction-injected configuration. Every *Config type is
// already defined alongside its component (ManaLedgerConfig,
// GovernanceConfig, GossipConfig, MeshRuntimeConfig, ResourceLimits);
// NodeConfig simply aggregates them into the one object a binary entry
// point loads from YAML and passes down before constructing the
// ledger and network layer.
//
// Loading uses gopkg.in/yaml.v3 for the file, and github.com/joho/godotenv
// to load a local .env into the process environment during development;
// no NodeConfig field is taken from the environment, and component
// constructors never call os.Getenv, so every component stays testable by
// construction.

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NodeConfig is the top-level configuration for one ICN node process,
// assembled once at startup and handed down to every component
// constructor — no component reads environment or files on its own.
type NodeConfig struct {
	NodeID string `yaml:"node_id"`

	Mana ManaLedgerConfig `yaml:"mana"`
	Governance GovernanceConfig `yaml:"governance"`
	Gossip GossipConfig `yaml:"gossip"`
	Mesh MeshRuntimeConfig `yaml:"mesh"`
	Resources ResourceLimits `yaml:"resources"`

	DataDir string `yaml:"data_dir"`
}

// LoadNodeConfig loads .env into the process environment (if present) and
// then parses the YAML file at path. Every NodeConfig value comes from the
// YAML file; environment variables do not override any of them.
func LoadNodeConfig(path string) (NodeConfig, error) {
	_ = godotenv.Load() // optional; absence is not an error

	raw, err := os.ReadFile(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("%w: read config %s: %v", ErrInvalidParameters, path, err)
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("%w: parse config %s: %v", ErrDeserialization, path, err)
	}
	if cfg.NodeID == "" {
		return NodeConfig{}, fmt.Errorf("%w: node_id is required", ErrInvalidParameters)
	}
	return cfg, nil
}
