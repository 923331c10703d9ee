// Package config loads pulsewatch settings from file and environment through Viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/HerbHall/pulsewatch/internal/store"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. PW_PULSE_POLL_INTERVAL=30s.
const EnvPrefix = "PW"

// envReplacer maps nested keys to env names: pulse.poll_interval -> PW_PULSE_POLL_INTERVAL.
var envReplacer = strings.NewReplacer(".", "_")

// SetDefaults registers every default recognized by pulsewatch on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pulse.poll_interval", "60s")
	v.SetDefault("pulse.timeout", "10s")
	v.SetDefault("pulse.max_history_size", 100)
	v.SetDefault("pulse.startup_stagger", "250ms")
	v.SetDefault("pulse.shutdown_grace", "15s")
	v.SetDefault("pulse.notify_timeout", "10s")
	v.SetDefault("pulse.notify_rate", "1s")
	v.SetDefault("pulse.notify_burst", 5)
	v.SetDefault("pulse.product_name", "Pulsewatch")

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.backend", store.BackendSQLite)
	v.SetDefault("storage.sqlite.path", "./data/pulsewatch.db")
	v.SetDefault("storage.file.path", "./data/pulsewatch.json")
	v.SetDefault("storage.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongodb.database", "pulsewatch")

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
}

// Load reads configuration from configPath, or from pulsewatch.yaml in the
// standard search paths when configPath is empty. A missing file is not an error.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pulsewatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/pulsewatch")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Storage extracts the persistence settings. MaxHistory and AppVersion are
// filled in by the caller.
func Storage(v *viper.Viper) store.Config {
	return store.Config{
		Enabled:       v.GetBool("storage.enabled"),
		Backend:       v.GetString("storage.backend"),
		SQLitePath:    v.GetString("storage.sqlite.path"),
		FilePath:      v.GetString("storage.file.path"),
		MongoURI:      v.GetString("storage.mongodb.uri"),
		MongoDatabase: v.GetString("storage.mongodb.database"),
		MaxHistory:    v.GetInt("pulse.max_history_size"),
	}
}
