package config

import "github.com/nabbar/muproxy/internal/xatomic"

// Live holds the currently active Config, swapped atomically by the
// reload path in cmd/muproxy (applyReload) so the dispatcher and heartbeat controller, which both
// read it on every iteration, never observe a half-updated struct.
type Live struct {
	v xatomic.Value[*Config]
}

func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.v.Store(cfg)
	return l
}

func (l *Live) Get() *Config { return l.v.Load() }

func (l *Live) Set(cfg *Config) { l.v.Store(cfg) }
