package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Rebindable is implemented by components whose tunables can change
// without a process restart. The diagnostics engine is the one
// implementation: it re-reads its region and instance thresholds.
// Components that need a reconnect (Qdrant host/port,
// the journal path) are intentionally not Rebindable; those require a
// restart.
type Rebindable interface {
	Rebind(cfg *Config)
}

// Watch enables Viper's file watcher and re-unmarshals into a fresh
// Config on every change, calling Rebind on each registered component.
// It returns immediately; reloads happen on fsnotify's goroutine.
func Watch(v *viper.Viper, logger *slog.Logger, components ...Rebindable) {
	if logger == nil {
		logger = slog.Default()
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			logger.Error("config: reload failed, keeping previous settings", "error", err)
			return
		}
		logger.Info("config: reloaded", "file", e.Name)
		for _, c := range components {
			c.Rebind(&cfg)
		}
	})
	v.WatchConfig()
}
