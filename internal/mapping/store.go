package mapping

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/newrelic/nr-catalog-sync/pkg/query"
	log "github.com/sirupsen/logrus"
)

// Store holds the current mapping snapshot. A sync pass takes one snapshot
// with Current and keeps it for its whole run; reloads swap the pointer
// and never touch a published Config.
type Store struct {
	path     string
	compiler *query.Compiler
	logger   *log.Logger
	current  atomic.Pointer[Config]
}

func NewStore(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New()
	}

	compiler, err := query.NewCompiler(0)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, compiler: compiler, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// StaticStore wraps an already compiled Config.
func StaticStore(config *Config) *Store {
	s := &Store{logger: log.New()}
	s.current.Store(config)
	return s
}

func (s *Store) Current() *Config {
	return s.current.Load()
}

// Reload re-reads the mapping file. On failure the previous snapshot stays
// in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("mapping store has no file")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read mapping file %s: %w", s.path, err)
	}

	config, err := Parse(data, s.compiler)
	if err != nil {
		return err
	}

	for _, e := range config.Invalid {
		s.logger.Warnf("invalid resource mapping: %s", e)
	}

	s.current.Store(config)
	s.logger.Debugf(
		"loaded mapping file %s with kinds %v",
		s.path,
		config.Kinds(),
	)

	return nil
}

// Watch reloads the mapping file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file by
// renaming are noticed too.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("mapping store has no file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	s.logger.Debugf("watching mapping file %s", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != path {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			s.logger.Tracef("mapping file event %s", event)

			if err := s.Reload(); err != nil {
				s.logger.Warnf("keeping previous mappings, reload failed: %s", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warnf("mapping file watch error: %s", err)
		}
	}
}
