package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Redis holds the pub/sub store connection settings.
type Redis struct {
	Endpoint string `toml:"endpoint"` // host:port
	DB       int    `toml:"db"`
	Password string `toml:"password"`
	// ConfigureNotifications asks the server to emit hash keyspace events on
	// startup. Leave off when the server is managed elsewhere.
	ConfigureNotifications bool `toml:"configure_notifications"`
}

// Automator holds the observing coordination settings.
type Automator struct {
	AntennaKey      string   `toml:"antenna_key"`
	Instances       []string `toml:"instances"`
	DAQDomain       string   `toml:"daq_domain"`
	DurationSeconds int      `toml:"duration"`
	NotifyEvent     string   `toml:"notify_event"`
	LockPath        string   `toml:"lock_path"`
}

// Gateway holds settings for the hashpipe gateway interface.
type Gateway struct {
	MetaHash         string `toml:"meta_hash"`
	SourceField      string `toml:"source_field"`
	StartLeadPackets int64  `toml:"start_lead_packets"`
	TimeoutSeconds   int    `toml:"timeout"`
}

// History configures the observing-session journal.
type History struct {
	Path string `toml:"path"` // empty disables the journal
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Metrics configures the Prometheus HTTP listener.
type Metrics struct {
	Addr string `toml:"addr"` // empty disables the listener
}

// Health configures the gRPC health service.
type Health struct {
	GRPCAddr string `toml:"grpc_addr"` // empty disables the listener
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool    `toml:"enabled"`
	ServiceName string  `toml:"service_name"`
	Namespace   string  `toml:"namespace"` // service.namespace resource attribute
	Exporter    string  `toml:"exporter"` // stdout | otlp
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Config is the full automator configuration.
type Config struct {
	Redis     Redis     `toml:"redis"`
	Automator Automator `toml:"automator"`
	Gateway   Gateway   `toml:"gateway"`
	History   History   `toml:"history"`
	Logging   Logging   `toml:"logging"`
	Metrics   Metrics   `toml:"metrics"`
	Health    Health    `toml:"health"`
	Tracing   Tracing   `toml:"tracing"`
}

// Duration returns the standard recording duration.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.Automator.DurationSeconds) * time.Second
}

// GatewayTimeout returns the per-call deadline for gateway queries.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// DefaultConfigPath returns the default location of the config file.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the TOML file at path (or the default location when empty),
// applies defaults, normalises and validates. It returns the config, the
// resolved path and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
	}
	resolved, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(resolved)
	switch {
	case err == nil:
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", resolved)
		}
		return resolved, true, nil
	case errors.Is(err, fs.ErrNotExist):
		if explicit {
			return "", false, fmt.Errorf("config file %q not found", resolved)
		}
		return resolved, false, nil
	default:
		return "", false, fmt.Errorf("stat config: %w", err)
	}
}

func expandPath(pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		pathValue = filepath.Join(home, strings.TrimPrefix(pathValue, "~"))
	}
	return filepath.Abs(pathValue)
}

// CreateSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func CreateSample(path string) error {
	resolved, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config file %q already exists", resolved)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(sampleConfig), 0o644)
}
