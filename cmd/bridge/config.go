package main

import (
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-auth-bridge"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix            = "AUTH"
	defaultPurgeInterval = 10 * time.Minute
)

// configKeys are the viper keys decoded into auth.Config
var configKeys = []string{
	"audience_attr",
	"key_source_domain",
	"issuer",
	"allowed_algorithms",
	"leeway",
	"discovery",
	"jwks_refresh_interval",
	"jwks_requests_per_minute",
	"jwks_refresh_timeout",
	"hmac_secret",
	"model",
	"identifier",
	"shared_secret",
	"mapping_strategy",
	"namespace_delimiter",
	"token_lookup",
	"auth_scheme",
	"session_backend",
	"redis_addr",
	"redis_prefix",
	"database_dsn",
	"purge_interval",
	"listen_addr",
	"log_level",
	"log_format",
}

// loadConfig merges, by increasing precedence, defaults, the YAML file at
// path, AUTH_* environment variables and flags.
func loadConfig(flags *pflag.FlagSet, path string) (auth.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return auth.Config{}, err
		}
	}
	v.SetDefault("purge_interval", defaultPurgeInterval)

	if flags != nil {
		for flag, key := range map[string]string{
			"listen-addr": "listen_addr",
			"log-level":   "log_level",
			"log-format":  "log_format",
		} {
			if f := flags.Lookup(flag); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return auth.Config{}, err
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return auth.Config{}, auth.WrapError(auth.ErrInvalidConfig, err, map[string]any{"source": path})
		}
	} else {
		v.SetConfigName("bridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bridge")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return auth.Config{}, auth.WrapError(auth.ErrInvalidConfig, err, map[string]any{"source": "bridge.yaml"})
			}
		}
	}

	var cfg auth.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return auth.Config{}, auth.WrapError(auth.ErrInvalidConfig, err, nil)
	}

	return cfg.WithDefaults(), nil
}

// redact hides secrets before printing
func redact(cfg auth.Config) auth.Config {
	if cfg.SharedSecret != "" {
		cfg.SharedSecret = "********"
	}
	if cfg.HMACSecret != "" {
		cfg.HMACSecret = "********"
	}
	return cfg
}
