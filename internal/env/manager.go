package env

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/logging"
)

// readyMarker is written into an environment directory once its build
// succeeded. Directories without it are incomplete.
const readyMarker = ".spotbridge-ready"

// buildFailedMessage is the message of every build failure.
const buildFailedMessage = "Failed to create Appose environment"

// Environment is a built, usable environment.
type Environment struct {
	Name   string
	ID     string
	Dir    string
	Format Format
	// Python is the command prefix that runs the environment's interpreter.
	Python []string
}

// Provisioner turns a manifest into a usable environment.
type Provisioner interface {
	Build(ctx context.Context, spec Spec) (*Environment, error)
}

// CommandRunner runs an external builder and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Options configure a Manager.
type Options struct {
	// Root is the cache directory environments are built under.
	Root string
	// PixiPath and MicromambaPath locate the builders.
	PixiPath       string
	MicromambaPath string
	// BuildTimeout bounds waiting for the lock plus the build itself.
	BuildTimeout time.Duration
	// LockPoll is the initial interval between lock attempts.
	LockPoll time.Duration
	Runner   CommandRunner
	Logger   *logging.Logger
}

// Manager is the Provisioner backed by a local cache directory. It is safe
// for concurrent use, and coordinates with other processes through a file
// lock per environment.
type Manager struct {
	opts   Options
	logger *logging.Logger

	mu    sync.Mutex
	cache map[string]*Environment
}

// NewManager creates a Manager. Zero options get defaults.
func NewManager(opts Options) *Manager {
	if opts.PixiPath == "" {
		opts.PixiPath = "pixi"
	}
	if opts.MicromambaPath == "" {
		opts.MicromambaPath = "micromamba"
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 30 * time.Minute
	}
	if opts.LockPoll <= 0 {
		opts.LockPoll = 250 * time.Millisecond
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		opts:   opts,
		logger: logger,
		cache:  make(map[string]*Environment),
	}
}

// Root returns the cache directory.
func (m *Manager) Root() string { return m.opts.Root }

func (m *Manager) lockPath(id string) string {
	return filepath.Join(m.opts.Root, id+".lock")
}

// Build returns the environment described by spec, building it first if
// needed. Failures are *errors.EnvironmentError and are never retried.
func (m *Manager) Build(ctx context.Context, spec Spec) (*Environment, error) {
	format := spec.DetectFormat()
	if format == FormatUnknown {
		return nil, errors.NewEnvironmentError(buildFailedMessage, errors.ErrUnknownManifest)
	}

	id := spec.ID()
	m.mu.Lock()
	if env, ok := m.cache[id]; ok {
		m.mu.Unlock()
		return env, nil
	}
	m.mu.Unlock()

	env := m.describe(spec, format)
	logger := m.logger.WithEnv(env.Name)

	if isReady(env.Dir) {
		logger.Debug("environment cached", "dir", env.Dir)
		return m.remember(env), nil
	}

	if err := os.MkdirAll(m.opts.Root, 0755); err != nil {
		return nil, errors.NewEnvironmentError(buildFailedMessage, err).WithEnvName(env.Name).WithDir(env.Dir)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.BuildTimeout)
	defer cancel()

	lock, err := waitLock(ctx, m.lockPath(id), m.opts.LockPoll)
	if err != nil {
		cause := fmt.Errorf("%w: %w", errors.ErrEnvLocked, err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cause = errors.NewTimeoutError("waiting for environment lock", m.opts.BuildTimeout).WithCause(cause)
		}
		return nil, errors.NewEnvironmentError(buildFailedMessage, cause).
			WithEnvName(env.Name).WithDir(env.Dir)
	}
	defer func() {
		if err := lock.release(); err != nil {
			logger.Warn("failed to release environment lock", "error", err.Error())
		}
	}()

	// Another process may have finished the build while we waited.
	if isReady(env.Dir) {
		logger.Debug("environment built by another process", "dir", env.Dir)
		return m.remember(env), nil
	}

	start := time.Now()
	logger.Info("building environment",
		"format", format.String(),
		"dir", env.Dir,
		"manifest", logging.Indent(spec.Content, 4))

	if err := m.build(ctx, spec, env); err != nil {
		logger.Error("environment build failed", "error", err.Error())
		return nil, err
	}

	logger.Info("environment ready", "dir", env.Dir, "duration_ms", time.Since(start).Milliseconds())
	return m.remember(env), nil
}

func (m *Manager) build(ctx context.Context, spec Spec, env *Environment) error {
	fail := func(cause error, output []byte) error {
		return errors.NewEnvironmentError(buildFailedMessage, cause).
			WithEnvName(env.Name).
			WithDir(env.Dir).
			WithBuildOutput(strings.TrimSpace(string(output)))
	}

	if err := os.MkdirAll(env.Dir, 0755); err != nil {
		return fail(err, nil)
	}
	manifest := filepath.Join(env.Dir, env.Format.ManifestFile())
	if err := os.WriteFile(manifest, []byte(spec.Content), 0644); err != nil {
		return fail(err, nil)
	}

	var name string
	var args []string
	switch env.Format {
	case FormatPixi:
		name, args = m.opts.PixiPath, []string{"install", "--manifest-path", manifest}
	case FormatConda:
		name, args = m.opts.MicromambaPath, []string{"create", "-y", "-p", filepath.Join(env.Dir, "env"), "-f", manifest}
	}

	out, err := m.opts.Runner.Run(ctx, env.Dir, name, args...)
	if err != nil {
		return fail(fmt.Errorf("%w: %s: %w", errors.ErrBuildFailed, name, err), out)
	}

	marker := fmt.Sprintf("%s\n%s\n", spec.Hash(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(env.Dir, readyMarker), []byte(marker), 0644); err != nil {
		return fail(err, out)
	}
	return nil
}

// describe returns the environment spec would produce, without building it.
func (m *Manager) describe(spec Spec, format Format) *Environment {
	id := spec.ID()
	dir := filepath.Join(m.opts.Root, id)
	env := &Environment{
		Name:   spec.Name(),
		ID:     id,
		Dir:    dir,
		Format: format,
	}
	switch format {
	case FormatPixi:
		env.Python = []string{m.opts.PixiPath, "run", "--manifest-path", filepath.Join(dir, format.ManifestFile()), "python"}
	case FormatConda:
		env.Python = []string{filepath.Join(dir, "env", "bin", "python")}
	}
	return env
}

func (m *Manager) remember(env *Environment) *Environment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[env.ID]; ok {
		return cached
	}
	m.cache[env.ID] = env
	return env
}

func isReady(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, readyMarker))
	return err == nil
}

// Info describes one cached environment directory.
type Info struct {
	ID      string
	Dir     string
	Ready   bool
	ModTime time.Time
}

// List returns the environment directories under the cache root, sorted
// by ID. A missing root yields an empty list.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.opts.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read environment cache: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(m.opts.Root, e.Name())
		info := Info{ID: e.Name(), Dir: dir, Ready: isReady(dir)}
		if fi, err := e.Info(); err == nil {
			info.ModTime = fi.ModTime()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Prune removes the cached environments whose ID matches the glob pattern
// and returns the removed IDs. Environments locked by a running build are
// skipped.
func (m *Manager) Prune(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.NewValidationError("invalid prune pattern").
			WithField("pattern").WithValue(pattern).WithCause(err)
	}

	infos, err := m.List()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, info := range infos {
		if !g.Match(info.ID) {
			continue
		}
		lock, err := tryLock(m.lockPath(info.ID))
		if errors.Is(err, errLockHeld) {
			m.logger.Warn("skipping environment being built", "id", info.ID)
			continue
		}
		if err != nil {
			return removed, err
		}
		rmErr := os.RemoveAll(info.Dir)
		_ = os.Remove(m.lockPath(info.ID))
		_ = lock.release()
		if rmErr != nil {
			return removed, fmt.Errorf("failed to remove environment %s: %w", info.ID, rmErr)
		}

		m.mu.Lock()
		delete(m.cache, info.ID)
		m.mu.Unlock()

		m.logger.Info("environment pruned", "id", info.ID)
		removed = append(removed, info.ID)
	}
	return removed, nil
}
