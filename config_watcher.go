// config_watcher.go: hot reload of client configuration files with Argus
//
// Only tunables that can change on a live session are applied on reload
// (request timeout and fetch retry policy). Changes to the transport or the
// endpoint are logged and take effect on the next session.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ConfigApplier receives validated configuration on every reload.
type ConfigApplier interface {
	ApplyConfig(config ClientConfig) error
}

// ConfigApplierFunc adapts a function to ConfigApplier.
type ConfigApplierFunc func(config ClientConfig) error

// ApplyConfig implements ConfigApplier.
func (f ConfigApplierFunc) ApplyConfig(config ClientConfig) error {
	return f(config)
}

// ConfigWatcherOptions configures a ConfigWatcher.
type ConfigWatcherOptions struct {
	// PollInterval is how often argus stats the file.
	PollInterval time.Duration

	// CacheTTL bounds argus' stat cache.
	CacheTTL time.Duration

	// Audit enables the argus audit trail.
	Audit argus.AuditConfig

	// Env controls ${VAR} expansion and overrides on reload.
	Env EnvConfigOptions

	Logger Logger
}

// DefaultConfigWatcherOptions returns options suited for a development session.
func DefaultConfigWatcherOptions() ConfigWatcherOptions {
	return ConfigWatcherOptions{
		PollInterval: 2 * time.Second,
		CacheTTL:     1 * time.Second,
		Audit: argus.AuditConfig{
			Enabled:       false,
			MinLevel:      argus.AuditInfo,
			BufferSize:    100,
			FlushInterval: 5 * time.Second,
		},
		Env: DefaultEnvConfigOptions(),
	}
}

// ConfigWatcher watches one configuration file and applies reloads.
type ConfigWatcher struct {
	path    string
	applier ConfigApplier
	options ConfigWatcherOptions
	logger  Logger
	watcher *argus.Watcher

	current atomic.Pointer[ClientConfig]
	reloads atomic.Int64

	mu      sync.Mutex
	running bool
	stopped bool
}

// NewConfigWatcher creates a watcher for path. The initial configuration is
// loaded and validated here so that a broken file fails early.
func NewConfigWatcher(path string, applier ConfigApplier, options ConfigWatcherOptions) (*ConfigWatcher, error) {
	if applier == nil {
		return nil, NewConfigWatcherError("applier is required", nil)
	}
	defaults := DefaultConfigWatcherOptions()
	if options.PollInterval <= 0 {
		options.PollInterval = defaults.PollInterval
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = defaults.CacheTTL
	}
	if options.Env.Prefix == "" && options.Env.Defaults == nil {
		options.Env = defaults.Env
	}
	logger := options.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	logger = logger.With("component", "config_watcher", "path", path)

	initial, err := loadConfigFromFile(path, options.Env)
	if err != nil {
		return nil, err
	}

	cw := &ConfigWatcher{
		path:    path,
		applier: applier,
		options: options,
		logger:  logger,
	}
	cw.current.Store(&initial)
	cw.watcher = argus.New(argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      1,
		Audit:                options.Audit,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, file string) {
			logger.Error("Config file watching error", "error", err, "file", file)
		},
	})
	return cw, nil
}

// Start begins watching. It fails when the watcher was stopped before.
func (cw *ConfigWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.stopped {
		return NewConfigWatcherError("watcher was stopped and cannot be restarted", nil)
	}
	if cw.running {
		return nil
	}
	if err := cw.watcher.Watch(cw.path, cw.handleChange); err != nil {
		return NewConfigWatcherError("failed to watch config file", err)
	}
	if err := cw.watcher.Start(); err != nil {
		return NewConfigWatcherError("failed to start argus watcher", err)
	}
	cw.running = true
	cw.logger.Info("Config watcher started", "poll_interval", cw.options.PollInterval)
	return nil
}

// Stop ends watching. It is permanent.
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.stopped {
		return nil
	}
	cw.stopped = true
	if !cw.running {
		return nil
	}
	cw.running = false
	if err := cw.watcher.Stop(); err != nil {
		return NewConfigWatcherError("failed to stop argus watcher", err)
	}
	cw.logger.Info("Config watcher stopped", "reloads", cw.reloads.Load())
	return nil
}

// Current returns the last configuration that loaded and applied cleanly.
func (cw *ConfigWatcher) Current() ClientConfig {
	return *cw.current.Load()
}

// Reloads returns the number of applied reloads.
func (cw *ConfigWatcher) Reloads() int64 {
	return cw.reloads.Load()
}

func (cw *ConfigWatcher) handleChange(event argus.ChangeEvent) {
	cw.logger.Debug("Config file change detected",
		"mod_time", event.ModTime,
		"size", event.Size,
		"is_create", event.IsCreate,
		"is_delete", event.IsDelete,
		"is_modify", event.IsModify)

	if event.IsDelete {
		cw.logger.Warn("Config file was deleted, keeping current configuration")
		return
	}
	if err := cw.Reload(); err != nil {
		cw.logger.Error("Config reload failed, keeping current configuration", "error", err)
	}
}

// Reload loads the file and applies it. The previous configuration stays in
// effect when loading, validation or application fails.
func (cw *ConfigWatcher) Reload() error {
	next, err := loadConfigFromFile(cw.path, cw.options.Env)
	if err != nil {
		return err
	}

	previous := cw.Current()
	if previous.Transport != next.Transport || previous.Endpoint != next.Endpoint {
		cw.logger.Warn("Transport settings changed; they apply to new sessions only",
			"transport", next.Transport,
			"endpoint", next.Endpoint)
	}

	if err := cw.applier.ApplyConfig(next); err != nil {
		return NewConfigWatcherError("failed to apply configuration", err)
	}
	cw.current.Store(&next)
	cw.reloads.Add(1)
	cw.logger.Info("Configuration reloaded",
		"request_timeout", next.RequestTimeout,
		"fetch_retries", next.Fetch.Retries,
		"fetch_base_delay", next.Fetch.BaseDelay)
	return nil
}
