// Package config loads the valscope configuration file.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config represents the valscope configuration.
type Config struct {
	Delve   DelveConfig  `mapstructure:"delve"`
	Layouts string       `mapstructure:"layouts"`
	Render  RenderConfig `mapstructure:"render"`
	Server  ServerConfig `mapstructure:"server"`
}

// DelveConfig configures the delve backend.
type DelveConfig struct {
	Path string `mapstructure:"path"`
}

// RenderConfig configures the value renderer.
type RenderConfig struct {
	DepthBudget int `mapstructure:"depth_budget"`
}

// ServerConfig configures the HTTP inspection surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ListenAddr returns the host:port the inspection server binds to.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load loads the configuration from valscope.yml in the working directory,
// falling back to defaults when no file exists.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("delve.path", "dlv")
	v.SetDefault("layouts", "layouts.yml")
	v.SetDefault("render.depth_budget", 32)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 7357)

	v.SetConfigName("valscope")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VALSCOPE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: defaults apply.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Render.DepthBudget <= 0 {
		return nil, fmt.Errorf("render.depth_budget must be positive, got %d", config.Render.DepthBudget)
	}

	return &config, nil
}
