// Package config loads the proxy's runtime configuration via viper
// (file + environment, with defaults), pairing a typed struct with a
// viper-backed loader and an atomically-swappable holder for hot reload.
package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the struct handed to the engine, one field per tunable the
// proxy accepts from file, environment, or default.
type Config struct {
	MushAddress      string   `mapstructure:"mush_address"`
	LocalPort        int      `mapstructure:"local_port"`
	AdminAddress     string   `mapstructure:"admin_address"`
	HeartbeatUser    string   `mapstructure:"heartbeat_user"`
	HeartbeatPass    string   `mapstructure:"heartbeat_pass"`
	HeartbeatInterval Duration `mapstructure:"heartbeat_interval"`
	ConnectSuccess   string   `mapstructure:"connect_success"`
	ConnectFail      string   `mapstructure:"connect_fail"`
	RemoteHostnameCmd string  `mapstructure:"remotehostname_cmd"`
	OfflineNotice    string   `mapstructure:"offline_notice"`
	OnlineNotice     string   `mapstructure:"online_notice"`
	AuthTimeout      Duration `mapstructure:"auth_timeout"`
	UnauthTimeout    Duration `mapstructure:"unauth_timeout"`
	ProbeTimeout     Duration `mapstructure:"probe_timeout"`
	LogLevel         string   `mapstructure:"log_level"`

	// compiled, derived from ConnectSuccess/ConnectFail on Validate.
	ReSuccess *regexp.Regexp `mapstructure:"-"`
	ReFail    *regexp.Regexp `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("local_port", 4000)
	v.SetDefault("admin_address", "127.0.0.1:4001")
	v.SetDefault("heartbeat_interval", "10s")
	v.SetDefault("connect_success", "Last connect was from.*")
	v.SetDefault("connect_fail", "Either that player .*not exist.*")
	v.SetDefault("remotehostname_cmd", "@REMOTEHOSTNAME")
	v.SetDefault("offline_notice", "\n*** The game server is temporarily unreachable. Hang tight. ***\n")
	v.SetDefault("online_notice", "\n*** Reconnected. ***\n")
	v.SetDefault("auth_timeout", "4s")
	v.SetDefault("unauth_timeout", "300s")
	v.SetDefault("probe_timeout", "10s")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the given file path (if non-empty), the
// environment (MUPROXY_* prefixed), and defaults, in viper's usual
// precedence order, then validates the result.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("muproxy")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	// Duration is its own type, so viper's built-in string-to-time.Duration
	// hook does not apply to it; strings such as "10s" are parsed here.
	durationHook := func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(Duration(0)) {
			return data, nil
		}
		d, err := time.ParseDuration(data.(string))
		if err != nil {
			return nil, err
		}
		return Duration(d), nil
	}
	if err := v.Unmarshal(cfg, viper.DecodeHook(durationHook)); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and compiles the auth-correlation
// patterns from the "connect_success"/"connect_fail" tunables.
func (c *Config) Validate() error {
	if c.MushAddress == "" {
		return fmt.Errorf("mush_address is required")
	}
	if c.LocalPort <= 0 || c.LocalPort > 65535 {
		return fmt.Errorf("local_port out of range: %d", c.LocalPort)
	}
	re, err := regexp.Compile(c.ConnectSuccess)
	if err != nil {
		return fmt.Errorf("connect_success: %w", err)
	}
	c.ReSuccess = re

	re, err = regexp.Compile(c.ConnectFail)
	if err != nil {
		return fmt.Errorf("connect_fail: %w", err)
	}
	c.ReFail = re

	if c.HeartbeatInterval.Time() <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.AuthTimeout.Time() <= 0 {
		return fmt.Errorf("auth_timeout must be positive")
	}
	if c.UnauthTimeout.Time() <= 0 {
		return fmt.Errorf("unauth_timeout must be positive")
	}
	if c.ProbeTimeout.Time() <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	return nil
}
