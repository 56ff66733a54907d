// Package settings persists tool settings as YAML files, one per tool, and
// watches them for changes.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/spotbridge/internal/configurator"
	"github.com/Iron-Ham/spotbridge/internal/errors"
)

// Extension is the file extension of settings files.
const Extension = ".yaml"

// File is the on-disk form of one tool's settings.
type File struct {
	Tool     string         `yaml:"tool"`
	Settings map[string]any `yaml:"settings"`
}

// Store reads and writes settings files under a directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore creates a store rooted at dir on fs.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Dir returns the settings directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the settings file of a tool.
func (s *Store) Path(tool string) string {
	return filepath.Join(s.dir, strings.ToLower(tool)+Extension)
}

// Save writes the current settings of c and returns the file path.
func (s *Store) Save(c *configurator.Configurator) (string, error) {
	path := s.Path(c.Name())
	if err := s.WriteFile(path, File{Tool: c.Name(), Settings: c.ToSettingsMap()}); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile writes f to path.
func (s *Store) WriteFile(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// ReadFile reads a settings file.
func (s *Store) ReadFile(path string) (File, error) {
	var f File
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, errors.NewNotFoundError("settings file", path)
		}
		return f, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, errors.NewValidationError("invalid settings file").WithField(path).WithCause(err)
	}
	return f, nil
}

// Load applies the saved settings of c's tool to c. It reports false when
// no settings were saved.
func (s *Store) Load(c *configurator.Configurator) (bool, error) {
	return s.LoadFile(s.Path(c.Name()), c)
}

// LoadFile applies the settings file at path to c.
func (s *Store) LoadFile(path string, c *configurator.Configurator) (bool, error) {
	f, err := s.ReadFile(path)
	if err != nil {
		var nf *errors.NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	if f.Tool != "" && !strings.EqualFold(f.Tool, c.Name()) {
		return false, errors.NewValidationError(fmt.Sprintf("settings are for %s, not %s", f.Tool, c.Name())).
			WithField("tool").WithValue(f.Tool)
	}
	if err := c.LoadFromSettingsMap(f.Settings); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the tools with saved settings, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	var tools []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		tools = append(tools, strings.TrimSuffix(e.Name(), Extension))
	}
	sort.Strings(tools)
	return tools, nil
}

// Remove deletes the saved settings of a tool.
func (s *Store) Remove(tool string) error {
	if err := s.fs.Remove(s.Path(tool)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove settings: %w", err)
	}
	return nil
}
