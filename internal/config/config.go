// Package config provides Viper-based configuration loading for the lobby
// server and client.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LobbyConfig holds lobby server listener settings.
type LobbyConfig struct {
	// Host is the bind address for the lobby listener.
	Host string `mapstructure:"host"`
	// Port is the first TCP port tried for the lobby listener.
	Port int `mapstructure:"port"`
	// BindAttempts caps how many consecutive ports are tried when a port is in use.
	BindAttempts int `mapstructure:"bind_attempts"`
	// BindRetryDelay is the pause between bind attempts.
	BindRetryDelay time.Duration `mapstructure:"bind_retry_delay"`
	// ReadTimeout is the per-read timeout for connections. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write timeout for connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SendQueue is the outbound line buffer per connection.
	SendQueue int `mapstructure:"send_queue"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l LobbyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// ClientConfig holds client agent settings.
type ClientConfig struct {
	// Host is the lobby server address to dial.
	Host string `mapstructure:"host"`
	// Port is the lobby server port to dial.
	Port int `mapstructure:"port"`
	// ConnectTimeout bounds the dial so the UI is never blocked on a dead server.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// WriteTimeout is the per-write timeout for outgoing lines.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// EventBuffer is the capacity of the reader-to-UI event queue.
	EventBuffer int `mapstructure:"event_buffer"`
	// PlaceholdersFile is an optional YAML file listing offline roster placeholders.
	PlaceholdersFile string `mapstructure:"placeholders_file"`
}

// Addr returns the "host:port" dial address.
func (c ClientConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// Output is "stderr", "stdout", or a file path.
	Output string `mapstructure:"output"`
}

// Config is the top-level application configuration.
type Config struct {
	Lobby   LobbyConfig   `mapstructure:"lobby"`
	Client  ClientConfig  `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLobby(c.Lobby); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateClient(c.Client); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLobby(l LobbyConfig) error {
	var errs []string
	if l.Host == "" {
		errs = append(errs, "lobby.host must not be empty")
	}
	// Port 0 asks the kernel for an ephemeral port.
	if l.Port < 0 || l.Port > 65535 {
		errs = append(errs, fmt.Sprintf("lobby.port must be 0-65535, got %d", l.Port))
	}
	if l.BindAttempts < 1 {
		errs = append(errs, fmt.Sprintf("lobby.bind_attempts must be >= 1, got %d", l.BindAttempts))
	}
	if l.BindRetryDelay < 0 {
		errs = append(errs, "lobby.bind_retry_delay must not be negative")
	}
	if l.ReadTimeout < 0 {
		errs = append(errs, "lobby.read_timeout must not be negative")
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, "lobby.write_timeout must not be negative")
	}
	if l.SendQueue < 1 {
		errs = append(errs, fmt.Sprintf("lobby.send_queue must be >= 1, got %d", l.SendQueue))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateClient(c ClientConfig) error {
	var errs []string
	if c.Host == "" {
		errs = append(errs, "client.host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("client.port must be 1-65535, got %d", c.Port))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, "client.connect_timeout must be positive")
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, "client.write_timeout must not be negative")
	}
	if c.EventBuffer < 1 {
		errs = append(errs, fmt.Sprintf("client.event_buffer must be >= 1, got %d", c.EventBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.Output == "" {
		return fmt.Errorf("logging.output must not be empty")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and
// environment overrides only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with MATHBLAST_ prefix
	v.SetEnvPrefix("MATHBLAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() Config {
	return Config{
		Lobby: LobbyConfig{
			Host:           "127.0.0.1",
			Port:           5000,
			BindAttempts:   10,
			BindRetryDelay: 200 * time.Millisecond,
			WriteTimeout:   5 * time.Second,
			SendQueue:      64,
		},
		Client: ClientConfig{
			Host:           "127.0.0.1",
			Port:           5000,
			ConnectTimeout: time.Second,
			WriteTimeout:   5 * time.Second,
			EventBuffer:    64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("lobby.host", d.Lobby.Host)
	v.SetDefault("lobby.port", d.Lobby.Port)
	v.SetDefault("lobby.bind_attempts", d.Lobby.BindAttempts)
	v.SetDefault("lobby.bind_retry_delay", d.Lobby.BindRetryDelay.String())
	v.SetDefault("lobby.read_timeout", "0s")
	v.SetDefault("lobby.write_timeout", d.Lobby.WriteTimeout.String())
	v.SetDefault("lobby.send_queue", d.Lobby.SendQueue)

	v.SetDefault("client.host", d.Client.Host)
	v.SetDefault("client.port", d.Client.Port)
	v.SetDefault("client.connect_timeout", d.Client.ConnectTimeout.String())
	v.SetDefault("client.write_timeout", d.Client.WriteTimeout.String())
	v.SetDefault("client.event_buffer", d.Client.EventBuffer)
	v.SetDefault("client.placeholders_file", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}
