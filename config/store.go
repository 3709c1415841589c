package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"multicompletion/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// EnvConfig holds a JSON settings object passed by the editor when spawning the daemon
const EnvConfig = "MULTICOMPLETION_CONFIG"

// Store owns the current settings snapshot. Readers call Snapshot once per
// request; writers replace the whole snapshot.
type Store struct {
	current  atomic.Pointer[Settings]
	envJSON  string
	filePath string
	writeMu  sync.Mutex
}

// NewStore creates a store holding the given settings, without any backing sources
func NewStore(s Settings) *Store {
	st := &Store{}
	s.normalize()
	s = s.clone()
	st.current.Store(&s)
	return st
}

// Load builds a store from defaults, the JSON object in envJSON, and the YAML
// file at filePath (either may be empty). The file wins over the env.
func Load(envJSON, filePath string) (*Store, error) {
	st := &Store{envJSON: envJSON, filePath: filePath}
	if err := st.Reload(); err != nil {
		return nil, err
	}
	return st, nil
}

// Snapshot returns a copy of the current settings
func (st *Store) Snapshot() Settings {
	return st.current.Load().clone()
}

// FilePath returns the YAML file backing this store, if any
func (st *Store) FilePath() string {
	return st.filePath
}

// Reload re-reads every source and swaps in the result
func (st *Store) Reload() error {
	s := Defaults()

	if st.envJSON != "" {
		if err := json.Unmarshal([]byte(st.envJSON), &s); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvConfig, err)
		}
	}

	if st.filePath != "" {
		data, err := os.ReadFile(st.filePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Debug("config: %s does not exist, using defaults", st.filePath)
		case err != nil:
			return fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return fmt.Errorf("invalid config file %s: %w", st.filePath, err)
			}
		}
	}

	s.normalize()
	st.current.Store(&s)
	return nil
}

// Update applies fn to a copy of the current settings, stores the result and
// persists it to the config file when one is configured.
func (st *Store) Update(fn func(s *Settings)) (Settings, error) {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	next := st.Snapshot()
	fn(&next)
	next.normalize()
	st.current.Store(&next)

	if st.filePath == "" {
		return next.clone(), nil
	}

	data, err := yaml.Marshal(&next)
	if err != nil {
		return next.clone(), fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.WriteFile(st.filePath, data, 0644); err != nil {
		return next.clone(), fmt.Errorf("failed to write config file: %w", err)
	}
	return next.clone(), nil
}

// Watch reloads the config file whenever it is written or replaced.
// It blocks until ctx is done. Without a config file it returns immediately.
func (st *Store) Watch(ctx context.Context) error {
	if st.filePath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often save by rename, which drops file watches
	target := filepath.Clean(st.filePath)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	logger.Info("config: watching %s", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := st.Reload(); err != nil {
				logger.Warn("config: reload failed, keeping previous settings: %v", err)
				continue
			}
			logger.Info("config: reloaded %s", target)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watcher error: %v", err)
		}
	}
}
