// Package rpcconfig loads Client/Server tuning knobs from environment
// variables (and an optional .env file), grounded on the teacher's
// pkg/config loader.
package rpcconfig

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the client and server brokers accept.
// Callers may build one by hand or via Load.
type Config struct {
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	AcceptTimeout      time.Duration `mapstructure:"accept_timeout"`
	DefaultCallTimeout time.Duration `mapstructure:"default_call_timeout"`
	OutboundQueueDepth int           `mapstructure:"outbound_queue_depth"`
	PublishHighWaterMark int         `mapstructure:"publish_high_water_mark"`
}

// Default returns the baseline Config used when no override is supplied.
func Default() *Config {
	return &Config{
		DialTimeout:          10 * time.Second,
		AcceptTimeout:        0,
		DefaultCallTimeout:   30 * time.Second,
		OutboundQueueDepth:   256,
		PublishHighWaterMark: 64,
	}
}

// Load populates target (normally a *Config) from environment
// variables prefixed with prefix (case-insensitive), falling back to
// an optional .env file in the working directory. FOO_BAR_BAZ becomes
// the key bar_baz, matching the Config struct's mapstructure tags.
func Load(prefix string, target any) error {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	upperPrefix := strings.ToUpper(prefix) + "_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		if !strings.HasPrefix(strings.ToUpper(key), upperPrefix) {
			continue
		}
		rest := key[len(upperPrefix):]
		field := strings.ToLower(rest)
		v.Set(field, val)
	}

	return v.Unmarshal(target)
}
