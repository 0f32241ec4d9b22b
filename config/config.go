// Package config loads the relay server configuration with Viper: defaults,
// an optional TOML file, and GRIDSYNC_-prefixed environment variables.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/gridsync/errors"
)

// Config is the relay server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig configures the WebSocket relay listener.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig configures document snapshot persistence.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// DefaultAddr is the relay listen address used when none is configured.
const DefaultAddr = ":877"

// SetDefaults installs the default values on a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("database.path", "gridsync.db")
	v.SetDefault("log.json", false)
}

// Load reads configuration from defaults, the optional config file, and the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("GRIDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper unmarshals configuration from a provided Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if cfg.Server.Addr == "" {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "server.addr must not be empty")
	}
	return &cfg, nil
}
