// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package config loads the service configuration from a TOML file with
// environment variable overrides for the broker connection.
package config

import (
	"log/slog"

	"github.com/BurntSushi/toml"

	"github.com/Orama4/devices-service/command"
	"github.com/Orama4/devices-service/errors"
	"github.com/Orama4/devices-service/iso"
	"github.com/Orama4/devices-service/monitor"
	"github.com/Orama4/devices-service/mqtt"
)

type (
	// Config is the resolved service configuration.
	Config struct {
		Broker  Broker  `toml:"broker"`
		Command Command `toml:"command"`
		Monitor Monitor `toml:"monitor"`
		Log     Log     `toml:"log"`
	}

	// Broker holds the MQTT connection parameters.
	Broker struct {
		Hostname  string `toml:"hostname"`
		Port      uint16 `toml:"port"`
		ClientID  string `toml:"client_id"`
		Username  string `toml:"username"`
		Password  string `toml:"password"`
		KeepAlive uint16 `toml:"keep_alive"`
	}

	// Command holds the correlator parameters. Durations are ISO 8601
	// strings (e.g. "PT5S").
	Command struct {
		ResponseTimeout iso.Duration `toml:"response_timeout"`
	}

	// Monitor holds the health monitor parameters.
	Monitor struct {
		SweepInterval iso.Duration `toml:"sweep_interval"`
		StaleAfter    iso.Duration `toml:"stale_after"`
	}

	// Log holds the logging parameters.
	Log struct {
		Level string `toml:"level"`
	}
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Broker: Broker{
			Hostname:  "localhost",
			Port:      1883,
			KeepAlive: 60,
		},
		Command: Command{
			ResponseTimeout: iso.Duration(command.DefaultResponseTimeout),
		},
		Monitor: Monitor{
			SweepInterval: iso.Duration(monitor.DefaultSweepInterval),
			StaleAfter:    iso.Duration(monitor.DefaultStaleAfter),
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the TOML file at path (when non-empty) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, &errors.Error{
				Message:       "could not load configuration file",
				Kind:          errors.ConfigurationInvalid,
				NestedError:   err,
				PropertyName:  "path",
				PropertyValue: path,
			}
		}
	}

	env, err := mqtt.SettingsFromEnv()
	if err != nil {
		return cfg, err
	}
	if env.Hostname != "" {
		cfg.Broker.Hostname = env.Hostname
	}
	if env.Port != 0 {
		cfg.Broker.Port = env.Port
	}
	if env.ClientID != "" {
		cfg.Broker.ClientID = env.ClientID
	}
	if env.Username != "" {
		cfg.Broker.Username = env.Username
	}
	if len(env.Password) > 0 {
		cfg.Broker.Password = string(env.Password)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Broker.Hostname == "" {
		return &errors.Error{
			Message:      "broker hostname must be set",
			Kind:         errors.ConfigurationInvalid,
			PropertyName: "broker.hostname",
		}
	}
	for name, d := range map[string]iso.Duration{
		"command.response_timeout": c.Command.ResponseTimeout,
		"monitor.sweep_interval":   c.Monitor.SweepInterval,
		"monitor.stale_after":      c.Monitor.StaleAfter,
	} {
		if d <= 0 {
			return &errors.Error{
				Message:      "duration must be positive",
				Kind:         errors.ConfigurationInvalid,
				PropertyName: name,
			}
		}
	}
	return nil
}

// ConnectionSettings maps the broker section onto the transport settings.
func (c Config) ConnectionSettings() mqtt.ConnectionSettings {
	settings := mqtt.ConnectionSettings{
		Hostname:  c.Broker.Hostname,
		Port:      c.Broker.Port,
		ClientID:  c.Broker.ClientID,
		Username:  c.Broker.Username,
		KeepAlive: c.Broker.KeepAlive,
	}
	if c.Broker.Password != "" {
		settings.Password = []byte(c.Broker.Password)
	}
	return settings
}

// LogLevel maps the configured level onto an slog level.
func (c Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return level, &errors.Error{
			Message:       "unknown log level",
			Kind:          errors.ConfigurationInvalid,
			NestedError:   err,
			PropertyName:  "log.level",
			PropertyValue: c.Log.Level,
		}
	}
	return level, nil
}
