// Package settings stores the user's memory-service connection settings in
// a YAML file and reloads them when the file changes.
package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultAPIURL is the memory service used when none is configured.
	DefaultAPIURL = "https://reattend.com"

	// reloadDebounce collapses the burst of events an editor save produces.
	reloadDebounce = 250 * time.Millisecond
)

// ErrInvalid wraps every validation failure returned by Validate and Save.
var ErrInvalid = errors.New("invalid settings")

// Settings is the persisted connection configuration.
type Settings struct {
	APIURL   string `yaml:"api_url" json:"api_url"`
	APIToken string `yaml:"api_token" json:"api_token"`
}

// normalized fills defaults and trims whitespace.
func (s Settings) normalized() Settings {
	s.APIURL = strings.TrimRight(strings.TrimSpace(s.APIURL), "/")
	s.APIToken = strings.TrimSpace(s.APIToken)
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}
	return s
}

// Validate checks that the API URL is an absolute http(s) URL.
func (s Settings) Validate() error {
	u, err := url.Parse(s.APIURL)
	if err != nil {
		return fmt.Errorf("%w: api_url: %v", ErrInvalid, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api_url %q must be an absolute http(s) URL", ErrInvalid, s.APIURL)
	}
	return nil
}

// DefaultPath returns ~/.config/ambient/settings.yaml, or the platform
// equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ambient", "settings.yaml")
}

// Store holds the current settings and keeps them in sync with the file.
type Store struct {
	path     string
	logger   log.Logger
	onChange func(Settings)

	mu  sync.RWMutex
	cur Settings
}

// Open loads settings from path. A missing file yields the defaults; it is
// created on the first Save.
func Open(path string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Store{path: path, logger: logger}
	cur, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s.cur = cur
	return s, nil
}

// OnChange registers fn to be called after every successful reload or save.
// It must be called before Watch.
func (s *Store) OnChange(fn func(Settings)) {
	s.onChange = fn
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Endpoint returns the API base URL and token.
func (s *Store) Endpoint() (string, string) {
	cur := s.Get()
	return cur.APIURL, cur.APIToken
}

// HasCredential reports whether an API token is configured.
func (s *Store) HasCredential() bool {
	return s.Get().APIToken != ""
}

// Save validates and persists next, replacing the file atomically.
func (s *Store) Save(next Settings) error {
	next = next.normalized()
	if err := next.Validate(); err != nil {
		return err
	}

	b, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := writeAtomic(s.path, b); err != nil {
		return err
	}

	s.set(next)
	return nil
}

// Reload re-reads the settings file. Invalid contents leave the current
// settings in place.
func (s *Store) Reload() error {
	next, err := readFile(s.path)
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	s.set(next)
	return nil
}

func (s *Store) set(next Settings) {
	s.mu.Lock()
	changed := s.cur != next
	s.cur = next
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(next)
	}
}

// Watch reloads the settings whenever the file is written, created or
// renamed into place, until ctx is cancelled. The parent directory is
// watched so atomic replacements are seen.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	name := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := s.Reload(); err != nil {
					s.logger.Warn(ctx, "settings reload failed, keeping previous settings", "path", s.path, "error", err)
					return
				}
				s.logger.Info(ctx, "settings reloaded", "path", s.path, "connected", s.HasCredential())
			})
			timerMu.Unlock()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn(ctx, "settings watcher error", "error", err)
		}
	}
}

func readFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}.normalized(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s.normalized(), nil
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}
