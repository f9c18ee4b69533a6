// Package prefs persists the user's display preferences.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/fpang/sonic-diagnostic/internal/lang"
)

const (
	dirName  = ".sonic-diagnostic"
	fileName = "preferences.yaml"
)

// Theme is the presentation theme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Preferences is everything that survives a restart.
type Preferences struct {
	Language lang.Language `yaml:"language,omitempty"`
	Theme    Theme         `yaml:"theme,omitempty"`
}

// Store loads and saves Preferences.
type Store interface {
	Load() (Preferences, error)
	Save(Preferences) error
}

// DefaultPath returns ~/.sonic-diagnostic/preferences.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName), nil
}

// FileStore keeps preferences in a YAML file.
type FileStore struct {
	Path string
}

// NewFileStore returns a FileStore at the default path.
func NewFileStore() (*FileStore, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return &FileStore{Path: path}, nil
}

// Load reads the file. A missing file yields empty Preferences. Unsupported
// values are dropped with a warning rather than failing startup.
func (s *FileStore) Load() (Preferences, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Preferences{}, nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("failed to read preferences: %w", err)
	}

	var p Preferences
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Preferences{}, fmt.Errorf("failed to parse %s: %w", s.Path, err)
	}
	if p.Language != "" && !p.Language.Valid() {
		log.Warn().Str("language", string(p.Language)).Str("file", s.Path).Msg("Ignoring unsupported stored language")
		p.Language = ""
	}
	if p.Theme != "" && p.Theme != ThemeLight && p.Theme != ThemeDark {
		log.Warn().Str("theme", string(p.Theme)).Str("file", s.Path).Msg("Ignoring unsupported stored theme")
		p.Theme = ""
	}
	return p, nil
}

// Save writes p atomically with owner-only permissions.
func (s *FileStore) Save(p Preferences) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), fileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	log.Debug().Str("file", s.Path).Str("language", string(p.Language)).Msg("Preferences saved")
	return nil
}

// MemoryStore keeps preferences in memory. The zero value is ready to use.
type MemoryStore struct {
	mu sync.Mutex
	p  Preferences
}

func (m *MemoryStore) Load() (Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p, nil
}

func (m *MemoryStore) Save(p Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = p
	return nil
}

// LanguageOr returns the stored language, or fallback if none is stored or
// the store cannot be read.
func LanguageOr(s Store, fallback lang.Language) lang.Language {
	if s == nil {
		return fallback
	}
	p, err := s.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Could not load preferences")
		return fallback
	}
	if p.Language == "" {
		return fallback
	}
	return p.Language
}

// SetLanguage updates only the language key.
func SetLanguage(s Store, l lang.Language) error {
	if !l.Valid() {
		return fmt.Errorf("unsupported language %q", l)
	}
	p, err := s.Load()
	if err != nil {
		return err
	}
	p.Language = l
	return s.Save(p)
}
