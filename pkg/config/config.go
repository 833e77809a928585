// Package config implements the node's YAML configuration: storage backend
// selection, the runtime registry to wire up, genesis builtin services, and
// the ambient logging/metrics surface — the non-protocol settings every
// dispatcher node needs at startup, grounded on the teacher's
// pkg/config.Load/LoadFile pattern.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StorageBackend selects the durable Store implementation.
type StorageBackend string

const (
	// StorageMemory keeps all state in memory; useful for tests and
	// ephemeral demo networks.
	StorageMemory StorageBackend = "memory"
	// StorageBolt uses go.etcd.io/bbolt.
	StorageBolt StorageBackend = "bolt"
	// StorageLevel uses github.com/syndtr/goleveldb.
	StorageLevel StorageBackend = "leveldb"
)

// Logger mirrors the teacher's pkg/config.Logger: the handful of knobs that
// shape zap's production config without exposing the whole zap.Config.
type Logger struct {
	LogEncoding string `yaml:"LogEncoding"`
	LogLevel    string `yaml:"LogLevel"`
	LogPath     string `yaml:"LogPath"`
}

// Validate returns an error if l is not a recognized encoding.
func (l Logger) Validate() error {
	if l.LogEncoding != "" && l.LogEncoding != "console" && l.LogEncoding != "json" {
		return fmt.Errorf("invalid LogEncoding: %s", l.LogEncoding)
	}
	return nil
}

// BasicService is used as a simple base for optional node services,
// matching the teacher's pkg/config.BasicService.
type BasicService struct {
	Enabled   bool     `yaml:"Enabled"`
	Addresses []string `yaml:"Addresses"`
}

// StorageConfiguration selects and configures the durable backend.
type StorageConfiguration struct {
	Backend     StorageBackend `yaml:"Backend"`
	BoltDBPath  string         `yaml:"BoltDBPath"`
	LevelDBPath string         `yaml:"LevelDBPath"`
}

// Validate checks the storage backend selection is coherent.
func (s StorageConfiguration) Validate() error {
	switch s.Backend {
	case StorageMemory, "":
		return nil
	case StorageBolt:
		if s.BoltDBPath == "" {
			return fmt.Errorf("storage backend %q requires BoltDBPath", StorageBolt)
		}
		return nil
	case StorageLevel:
		if s.LevelDBPath == "" {
			return fmt.Errorf("storage backend %q requires LevelDBPath", StorageLevel)
		}
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}

// RuntimeSpec names one runtime to register at node construction. Native is
// currently the only environment this module hosts (spec.md §4.1's
// polymorphic contract is still honored: ID is assigned freely and more
// runtimes could be registered the same way).
type RuntimeSpec struct {
	ID uint32 `yaml:"ID"`
}

// ServiceArtifact is one native service factory to make available for
// deployment — not yet deployed or started, just registered.
type ServiceArtifact struct {
	Name    string `yaml:"Name"`
	Version string `yaml:"Version"`
}

// GenesisInstance describes a builtin service instance to start during
// genesis processing via Dispatcher.AddBuiltinService (spec.md §4.2.2).
type GenesisInstance struct {
	ID       uint32          `yaml:"ID"`
	Name     string          `yaml:"Name"`
	Artifact ServiceArtifact `yaml:"Artifact"`
	// ConstructorHex is the hex-encoded constructor payload passed to
	// ConfigureService; the wallet service ignores it, the reconfig
	// service decodes it as a genesis reconfig.Config.
	ConstructorHex string `yaml:"ConstructorHex"`
}

// ApplicationConfiguration is the node-specific settings block, the
// counterpart of the teacher's ApplicationConfiguration.
type ApplicationConfiguration struct {
	LogLevel   string               `yaml:"LogLevel"`
	LogPath    string               `yaml:"LogPath"`
	Storage    StorageConfiguration `yaml:"Storage"`
	Prometheus BasicService         `yaml:"Prometheus"`
	Runtimes   []RuntimeSpec        `yaml:"Runtimes"`
	Services   []ServiceArtifact    `yaml:"Services"`
	Genesis    []GenesisInstance    `yaml:"Genesis"`
}

// Validate checks the application configuration's structural invariants.
func (a ApplicationConfiguration) Validate() error {
	if err := a.Storage.Validate(); err != nil {
		return err
	}
	seen := make(map[uint32]bool, len(a.Runtimes))
	for _, r := range a.Runtimes {
		if seen[r.ID] {
			return fmt.Errorf("duplicate runtime id %d", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// Config is the top-level node configuration, mirroring the teacher's
// two-section Config{ProtocolConfiguration, ApplicationConfiguration}
// split, minus the protocol section: consensus/network parameters are out
// of scope for this dispatcher (spec.md §1 Non-goals).
type Config struct {
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
}

// Validate runs every section's Validate.
func (c Config) Validate() error {
	return c.ApplicationConfiguration.Validate()
}

// LoadFile loads config from configPath, optionally rewriting relative
// storage paths against relativePath, matching the teacher's
// pkg/config.LoadFile shape.
func LoadFile(configPath string, relativePath ...string) (Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}

	cfg := Config{
		ApplicationConfiguration: ApplicationConfiguration{
			Storage: StorageConfiguration{Backend: StorageMemory},
		},
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if len(relativePath) == 1 && relativePath[0] != "" {
		updateRelativePaths(relativePath[0], &cfg)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func updateRelativePaths(base string, cfg *Config) {
	updatePath := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	updatePath(&cfg.ApplicationConfiguration.LogPath)
	updatePath(&cfg.ApplicationConfiguration.Storage.BoltDBPath)
	updatePath(&cfg.ApplicationConfiguration.Storage.LevelDBPath)
}
