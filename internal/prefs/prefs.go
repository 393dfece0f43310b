// Package prefs remembers client-local preferences, currently the last
// display name, between runs of the terminal client.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileName = "prefs.json"

// Prefs is the persisted preference document.
type Prefs struct {
	Name string `json:"chatUsername,omitempty"`
}

// Store reads and writes Prefs at a fixed path.
type Store struct {
	path string
	mu   sync.Mutex
}

// DefaultPath returns the preferences file under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "globalchat", fileName), nil
}

// NewStore returns a store for path. The file need not exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store uses.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved preferences. A missing file yields zero Prefs.
func (s *Store) Load() (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Prefs, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Prefs{}, nil
	}
	if err != nil {
		return Prefs{}, fmt.Errorf("read prefs: %w", err)
	}

	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return Prefs{}, fmt.Errorf("decode prefs %s: %w", s.path, err)
	}
	return p, nil
}

// LoadName returns the saved display name, or "" when none is saved.
func (s *Store) LoadName() (string, error) {
	p, err := s.Load()
	return p.Name, err
}

// SaveName stores name after trimming it. Blank names are ignored so a
// cleared input never erases the remembered name.
func (s *Store) SaveName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load()
	if err != nil {
		p = Prefs{}
	}
	if p.Name == name {
		return nil
	}
	p.Name = name
	return s.write(p)
}

// write replaces the file atomically.
func (s *Store) write(p Prefs) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fileName+".*")
	if err != nil {
		return fmt.Errorf("create prefs file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}
