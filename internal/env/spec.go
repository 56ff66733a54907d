// Package env provisions the isolated Python environments detectors run in.
//
// An environment is described by a manifest: either a pixi TOML manifest or
// a conda environment YAML. Environments are built once into a cache
// directory keyed by name and content hash, and reused afterwards.
package env

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is the kind of manifest an environment is described by.
type Format int

// Manifest formats.
const (
	FormatUnknown Format = iota
	FormatPixi
	FormatConda
)

func (f Format) String() string {
	switch f {
	case FormatPixi:
		return "pixi"
	case FormatConda:
		return "conda"
	default:
		return "unknown"
	}
}

// ManifestFile returns the file name the manifest is written to inside
// the environment directory.
func (f Format) ManifestFile() string {
	switch f {
	case FormatPixi:
		return "pixi.toml"
	case FormatConda:
		return "environment.yml"
	default:
		return ""
	}
}

// DefaultName names environments whose manifest has no name.
const DefaultName = "env"

// Spec is the textual manifest of an environment.
type Spec struct {
	Content string
}

type pixiManifest struct {
	Workspace *struct {
		Name string `toml:"name"`
	} `toml:"workspace"`
	Project *struct {
		Name string `toml:"name"`
	} `toml:"project"`
}

type condaManifest struct {
	Name         string `yaml:"name"`
	Dependencies []any  `yaml:"dependencies"`
}

func (s Spec) pixi() (pixiManifest, bool) {
	var m pixiManifest
	if err := toml.Unmarshal([]byte(s.Content), &m); err != nil {
		return m, false
	}
	return m, m.Workspace != nil || m.Project != nil
}

func (s Spec) conda() (condaManifest, bool) {
	var m condaManifest
	if err := yaml.Unmarshal([]byte(s.Content), &m); err != nil {
		return m, false
	}
	return m, m.Dependencies != nil
}

// DetectFormat inspects the manifest. A TOML document with a [workspace]
// or [project] table is a pixi manifest; a YAML document with a
// dependencies list is a conda manifest.
func (s Spec) DetectFormat() Format {
	if strings.TrimSpace(s.Content) == "" {
		return FormatUnknown
	}
	if _, ok := s.pixi(); ok {
		return FormatPixi
	}
	if _, ok := s.conda(); ok {
		return FormatConda
	}
	return FormatUnknown
}

// Name returns the environment name declared by the manifest, or
// DefaultName.
func (s Spec) Name() string {
	var name string
	switch s.DetectFormat() {
	case FormatPixi:
		m, _ := s.pixi()
		if m.Workspace != nil {
			name = m.Workspace.Name
		}
		if name == "" && m.Project != nil {
			name = m.Project.Name
		}
	case FormatConda:
		m, _ := s.conda()
		name = m.Name
	}
	if name = sanitize(name); name == "" {
		return DefaultName
	}
	return name
}

// Hash returns the hex sha256 of the manifest content.
func (s Spec) Hash() string {
	sum := sha256.Sum256([]byte(s.Content))
	return hex.EncodeToString(sum[:])
}

// ID returns the cache key of the environment: its name and a hash prefix.
func (s Spec) ID() string {
	return s.Name() + "-" + s.Hash()[:12]
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
}
