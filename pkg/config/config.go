/*
Package config loads a node's on-disk configuration: the identity
secret file, the data directory, transport listen hints, directory
backend endpoints, and sync-task tuning knobs (spec.md §6.5).

Environment overrides take precedence over the YAML file, which in
turn takes precedence over the built-in defaults.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a node's full runtime configuration.
type Config struct {
	// DataDir holds the node's embedded database file and any other
	// local state.
	DataDir string `yaml:"dataDir"`
	// SecretFile holds the BIP-39 mnemonic of the identity secret, one
	// word per line or space-separated (spec.md §6.5).
	SecretFile string `yaml:"secretFile"`
	// ListenAddr is the local address the reconciliation RPC server
	// binds to.
	ListenAddr string `yaml:"listenAddr"`
	// AdvertiseAddr is the address advertised in this node's directory
	// ticket, if different from ListenAddr (e.g. behind NAT).
	AdvertiseAddr string `yaml:"advertiseAddr,omitempty"`

	Directory DirectoryConfig `yaml:"directory"`
	Sync      SyncConfig      `yaml:"sync"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DirectoryConfig configures the backends Resolver races (spec.md §4.8).
type DirectoryConfig struct {
	RelayURL string `yaml:"relayURL,omitempty"`
}

// SyncConfig overrides the connection pool's per-peer backoff
// schedule (spec.md §4.9.3). A zero value leaves the package default.
type SyncConfig struct {
	InitialBackoff time.Duration `yaml:"initialBackoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"maxBackoff,omitempty"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"jsonOutput"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// Default returns a Config with every field at its built-in default.
func Default() Config {
	return Config{
		DataDir:    "./rostra-data",
		SecretFile: "./rostra-data/secret.mnemonic",
		ListenAddr: "0.0.0.0:4947",
		Log: LogConfig{
			Level:      "info",
			JSONOutput: false,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9946",
		},
	}
}

// Load reads path as YAML over Default(), then applies environment
// overrides. A missing file is not an error — the defaults (plus any
// env overrides) are used as-is, matching spec.md §6.5's "everything
// else is defaulted".
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets ROSTRA_* environment variables override
// whatever the YAML file (or the defaults) set, for container/systemd
// deployments that prefer env injection over a mounted file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROSTRA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ROSTRA_SECRET_FILE"); v != "" {
		cfg.SecretFile = v
	}
	if v := os.Getenv("ROSTRA_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ROSTRA_ADVERTISE_ADDR"); v != "" {
		cfg.AdvertiseAddr = v
	}
	if v := os.Getenv("ROSTRA_DIRECTORY_RELAY_URL"); v != "" {
		cfg.Directory.RelayURL = v
	}
	if v := os.Getenv("ROSTRA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ROSTRA_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.JSONOutput = b
		}
	}
	if v := os.Getenv("ROSTRA_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
}
