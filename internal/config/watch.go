package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchReload wires viper's fsnotify-backed file watcher to onChange,
// re-decoding and re-validating the config before handing it to the
// callback. This is the file-change half of the reload path; the
// signal-driven half (SIGHUP) lives in cmd/muproxy.
func WatchReload(v *viper.Viper, onChange func(cfg *Config, err error)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := decode(v)
		onChange(cfg, err)
	})
	v.WatchConfig()
}
