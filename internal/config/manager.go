package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeEvent describes a reload of the configuration file
type ChangeEvent struct {
	File      string
	Action    string // create, modify, manual_reload
	Config    *Config
	Timestamp time.Time
}

// ChangeHandler is called after a successful reload
type ChangeHandler func(event ChangeEvent) error

// Manager holds the current configuration and reloads it when the file changes
type Manager struct {
	path    string
	current *Config

	handlers []ChangeHandler
	watcher  *fsnotify.Watcher
	started  bool
	stopCh   chan struct{}
	logger   *zap.Logger

	mu        sync.RWMutex
	watcherMu sync.Mutex

	debounce time.Duration
}

// NewManager loads path once and prepares a watcher for it
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:     path,
		current:  cfg,
		stopCh:   make(chan struct{}),
		logger:   logger,
		debounce: 50 * time.Millisecond,
	}, nil
}

// Current returns the last successfully loaded configuration
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// RegisterHandler adds a handler run after every successful reload
func (m *Manager) RegisterHandler(handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Start watches the directory of the configuration file. Editors replace
// files on save, so the directory is watched rather than the file.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.started = true
	m.mu.Unlock()

	go m.watchLoop(ctx)

	m.logger.Info("Configuration watcher started", zap.String("path", m.path))
	return nil
}

// Stop stops watching
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing file watcher", zap.Error(err))
	}
	m.started = false
	m.logger.Info("Configuration watcher stopped")
	return nil
}

// Reload rereads the file and notifies handlers
func (m *Manager) Reload() error {
	return m.reload("manual_reload")
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(m.path) {
		return
	}

	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	default:
		// removal keeps the last good configuration
		return
	}

	// rapid successive writes
	time.Sleep(m.debounce)

	if err := m.reload(action); err != nil {
		m.logger.Error("Failed to reload configuration, keeping previous",
			zap.String("path", m.path),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (m *Manager) reload(action string) error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	event := ChangeEvent{
		File:      filepath.Base(m.path),
		Action:    action,
		Config:    cfg,
		Timestamp: time.Now(),
	}
	for _, h := range handlers {
		if err := h(event); err != nil {
			m.logger.Error("Configuration handler error",
				zap.String("file", event.File),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}

	m.logger.Info("Configuration reloaded",
		zap.String("path", m.path),
		zap.String("action", action),
	)
	return nil
}
