// Package config loads the connection parameters and dispatch flags that
// programs embedding exmdb-go need to hand to client.New, from environment
// variables, an optional YAML file, and defaults — in that order of
// precedence, using a layered viper loader.
//
// The core library (pkg/exmdb/...) never imports this package; it is wiring
// for callers (tests, example tools) who would otherwise hand-roll flag
// parsing for every administrative script.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Connection holds the parameters needed to open and authenticate an
// exmdb connection, plus the client dispatch flags controlling reconnect
// behavior.
type Connection struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           uint16 `mapstructure:"port" yaml:"port"`
	Prefix         string `mapstructure:"prefix" yaml:"prefix"`
	IsPrivate      bool   `mapstructure:"is_private" yaml:"is_private"`
	AutoReconnect  bool   `mapstructure:"auto_reconnect" yaml:"auto_reconnect"`
	DialTimeoutSec int    `mapstructure:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
}

func defaults() Connection {
	return Connection{
		Host:           "127.0.0.1",
		Port:           5000,
		Prefix:         "",
		IsPrivate:      true,
		AutoReconnect:  true,
		DialTimeoutSec: 3,
	}
}

// Load reads EXMDB_* environment variables and, if configPath is non-empty,
// a YAML file, layering them over Connection's defaults.
func Load(configPath string) (Connection, error) {
	v := viper.New()
	v.SetEnvPrefix("EXMDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaults()
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("prefix", cfg.Prefix)
	v.SetDefault("is_private", cfg.IsPrivate)
	v.SetDefault("auto_reconnect", cfg.AutoReconnect)
	v.SetDefault("dial_timeout_seconds", cfg.DialTimeoutSec)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file %q: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
