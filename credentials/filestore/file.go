// Package filestore provides a read-only credentials.Store backed by a YAML
// file on disk. The file is re-read whenever it changes, so operators can
// rotate tenant keys without restarting the broker.
//
// File format:
//
//	tenants:
//	  - tenant_id: hotel-aurora
//	    name: Hotel Aurora
//	    keys:
//	      QUENDOO_API_KEY: qk_live_abc123
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/quendoo/mcp-broker/credentials"
)

type fileDoc struct {
	Tenants []fileTenant `yaml:"tenants"`
}

type fileTenant struct {
	TenantID string            `yaml:"tenant_id"`
	Name     string            `yaml:"name"`
	Keys     map[string]string `yaml:"keys"`
}

// Store serves tenant keys from a YAML file, reloading on change.
type Store struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	tenants map[string]fileTenant

	watcher *fsnotify.Watcher
	done    chan struct{}
}

var _ credentials.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for reload events.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Open loads the file and starts watching its directory for changes.
// Watching the directory rather than the file survives the rename-and-replace
// pattern most editors and config management tools use.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path: path,
		log:  slog.New(slog.DiscardHandler),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

// Close stops the file watcher.
func (s *Store) Close() error {
	close(s.done)
	return s.watcher.Close()
}

func (s *Store) GetKey(ctx context.Context, tenantID, keyName string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return "", credentials.ErrTenantNotFound
	}
	value, ok := t.Keys[keyName]
	if !ok || value == "" {
		return "", credentials.ErrKeyNotFound
	}
	return value, nil
}

func (s *Store) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	tenants := make(map[string]fileTenant, len(doc.Tenants))
	for _, t := range doc.Tenants {
		if t.TenantID == "" {
			return errors.New("tenant entry missing tenant_id")
		}
		tenants[t.TenantID] = t
	}
	s.mu.Lock()
	s.tenants = tenants
	s.mu.Unlock()
	return nil
}

func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				// Keep serving the previous snapshot on a bad write.
				s.log.Error("credentials.file.reload.failed", "path", s.path, "err", err)
				continue
			}
			s.log.Info("credentials.file.reloaded", "path", s.path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("credentials.file.watch.error", "err", err)
		}
	}
}
