// Package config loads client configuration from the data directory,
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the CLI needs to assemble an engine.
type Config struct {
	// ServerURL is the sync service base URL.
	ServerURL string `mapstructure:"server_url"`
	// Username and Password authenticate against the service. The
	// password is hashed client-side before it touches the wire.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// DeviceName labels this installation in synced records.
	DeviceName string `mapstructure:"device_name"`

	// Strategy is the document id strategy: "filename" or "partial".
	Strategy string `mapstructure:"strategy"`

	// Store selects the cache backend: "file" or "sqlite".
	Store string `mapstructure:"store"`

	// DataDir holds the progress cache, device id, and log file.
	DataDir string `mapstructure:"data_dir"`

	// DebounceInterval gates automatic pushes.
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
	// Timeout bounds every request to the server.
	Timeout time.Duration `mapstructure:"timeout"`
	// MinPositionDelta is the minimum advance for a debounced push.
	MinPositionDelta int64 `mapstructure:"min_position_delta"`
	// AdoptRemoteThreshold is the percentage lead required to adopt a
	// remote position during conflict resolution. Must be within
	// (0,1]; zero is rejected rather than silently replaced by the
	// engine default.
	AdoptRemoteThreshold float64 `mapstructure:"adopt_remote_threshold"`
}

// DefaultDataDir returns ~/.kosync, falling back to a relative .kosync
// when the home directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kosync"
	}
	return filepath.Join(home, ".kosync")
}

// Load reads config.yaml from the data dir (or the explicit file given),
// applies KOSYNC_* environment overrides, and fills in defaults.
//
// A missing config file is not an error; env vars and defaults still
// apply so the CLI works with nothing but KOSYNC_USERNAME and
// KOSYNC_PASSWORD set.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", "https://sync.koreader.rocks")
	// Credentials default empty so the keys are known to viper and the
	// KOSYNC_USERNAME / KOSYNC_PASSWORD env overrides are picked up.
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("device_name", defaultDeviceName())
	v.SetDefault("strategy", "filename")
	v.SetDefault("store", "file")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("debounce_interval", 25*time.Second)
	v.SetDefault("timeout", 12*time.Second)
	v.SetDefault("min_position_delta", 1)
	v.SetDefault("adopt_remote_threshold", 0.02)

	v.SetEnvPrefix("KOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDataDir())
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Strategy != "filename" && c.Strategy != "partial" {
		return fmt.Errorf("strategy must be \"filename\" or \"partial\" (got %q)", c.Strategy)
	}
	if c.Store != "file" && c.Store != "sqlite" {
		return fmt.Errorf("store must be \"file\" or \"sqlite\" (got %q)", c.Store)
	}
	// Zero means "unset" to the engine and would silently become the
	// default, so require a real threshold.
	if c.AdoptRemoteThreshold <= 0 || c.AdoptRemoteThreshold > 1 {
		return fmt.Errorf("adopt_remote_threshold must be within (0,1] (got %g)", c.AdoptRemoteThreshold)
	}
	return nil
}

// defaultDeviceName derives a label from the hostname.
func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "kosync"
	}
	return "kosync-" + host
}
