package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	logx "herald/pkg/logx"
)

// Manager owns the current config and reloads it when the file changes.
type Manager struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64
}

func NewManager(path string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{path: path, log: log.With(logx.String("comp", "config"))}
}

func (m *Manager) Path() string { return m.path }

// SetLogger replaces the bootstrap logger once logging is configured.
func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		return
	}
	m.mu.Lock()
	m.log = log.With(logx.String("comp", "config"))
	m.mu.Unlock()
}

func (m *Manager) logger() logx.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.log
}

// Parse reads, expands and strictly decodes the file, then applies defaults.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	if b, err = expandEnv(b); err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	jb, _, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%s: trailing data", m.path)
		}
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if _, err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Watch reloads the config on change and calls apply with the previous and
// new values. Invalid or unchanged files are skipped.
func (m *Manager) Watch(ctx context.Context, apply func(old, cur *Config)) error {
	log := m.logger()
	return WatchPath(ctx, m.path, log, func() {
		cfg, err := m.Parse()
		if err == nil {
			_, err = cfg.Validate()
		}
		if err != nil {
			log.Warn("config rejected", logx.String("path", m.path), logx.Any("err", err))
			return
		}
		h := hashConfig(cfg)
		m.mu.RLock()
		old, unchanged := m.cfg, h != 0 && h == m.lastHash
		m.mu.RUnlock()
		if unchanged {
			log.Debug("config unchanged; skipping", logx.String("path", m.path))
			return
		}
		m.commit(cfg)
		if apply != nil {
			apply(old, cfg)
		}
	})
}
