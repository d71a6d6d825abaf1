package rules

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Store holds the live thresholds config and swaps it on reload.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

// NewStore wraps an initial config.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// ForStation resolves thresholds from the current config.
func (s *Store) ForStation(stationID string) Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ForStation(stationID)
}

// Config returns the current config.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Replace swaps in a new config.
func (s *Store) Replace(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Watch reloads path into the store on every write until ctx is cancelled.
// A file that fails to load leaves the previous config in place.
func (s *Store) Watch(ctx context.Context, path string, logger logrus.FieldLogger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	logger.WithField("path", path).Info("rules: watching thresholds")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// editors that save atomically show up as Create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				logger.WithError(err).WithField("path", path).Error("rules: reload failed, keeping previous thresholds")
				continue
			}
			s.Replace(cfg)
			logger.WithFields(logrus.Fields{"path": path, "stations": len(cfg.Stations)}).Info("rules: thresholds reloaded")
			_ = watcher.Add(path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("rules: watcher error")
		}
	}
}
