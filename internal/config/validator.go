package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is one rejected config value.
type ValidationError struct {
	Field   string // dotted key, e.g. "engine.cancel_grace_seconds"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is every problem Validate found, in check order.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	lines := []string{fmt.Sprintf("%d validation errors:", len(e))}
	for i, err := range e {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, err))
	}
	return strings.Join(lines, "\n") + "\n"
}

// ValidLogLevels returns the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

const (
	maxPathLength          = 4096
	maxBuildTimeoutMinutes = 24 * 60
	maxCancelGraceSeconds  = 300
	maxLogSizeMB           = 1000
)

// checker accumulates ValidationErrors.
type checker struct{ errs ValidationErrors }

func (c *checker) fail(field string, value any, format string, args ...any) {
	c.errs = append(c.errs, ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) notBlank(field, value string) {
	if strings.TrimSpace(value) == "" {
		c.fail(field, value, "must not be empty")
	}
}

// within checks lo <= v <= hi; a lo of 1 reads as "must be positive".
func (c *checker) within(field string, v, lo, hi int) {
	switch {
	case v < lo && lo == 1:
		c.fail(field, v, "must be positive")
	case v < lo:
		c.fail(field, v, "must be non-negative")
	case hi > 0 && v > hi:
		c.fail(field, v, "exceeds maximum of %d", hi)
	}
}

func (c *checker) oneOf(field, value string, allowed []string) {
	if value != "" && !slices.Contains(allowed, value) {
		c.fail(field, value, "must be one of: %s", strings.Join(allowed, ", "))
	}
}

// path checks an optional directory setting.
func (c *checker) path(field, p string) {
	if strings.ContainsRune(p, 0) {
		c.fail(field, p, "path contains invalid null character")
	}
	if len(p) > maxPathLength {
		c.fail(field, p, "path exceeds maximum length of %d characters", maxPathLength)
	}
}

// Validate returns every invalid value in c, or nil.
func (c *Config) Validate() []ValidationError {
	var ck checker

	env := c.Environment
	ck.path("environment.cache_dir", env.CacheDir)
	ck.notBlank("environment.pixi_path", env.PixiPath)
	ck.notBlank("environment.micromamba_path", env.MicromambaPath)
	ck.within("environment.build_timeout_minutes", env.BuildTimeoutMinutes, 1, maxBuildTimeoutMinutes)
	ck.within("environment.lock_poll_ms", env.LockPollMs, 1, 0)
	if env.LockPollMs > 0 && env.BuildTimeoutMinutes > 0 && env.LockPoll() >= env.BuildTimeout() {
		ck.fail("environment.lock_poll_ms", env.LockPollMs, "must be shorter than the build timeout")
	}

	ck.within("engine.cancel_grace_seconds", c.Engine.CancelGraceSeconds, 0, maxCancelGraceSeconds)
	ck.notBlank("engine.shm_dir", c.Engine.ShmDir)
	ck.path("engine.shm_dir", c.Engine.ShmDir)
	ck.notBlank("engine.bootstrap", c.Engine.Bootstrap)

	ck.oneOf("detector.default", c.Detector.Default, ValidDetectors())
	if c.Detector.SmoothingScale < 0 {
		ck.fail("detector.smoothing_scale", c.Detector.SmoothingScale, "must be non-negative")
	}
	ck.path("detector.settings_dir", c.Detector.SettingsDir)

	ck.oneOf("logging.level", c.Logging.Level, ValidLogLevels())
	ck.within("logging.max_size_mb", c.Logging.MaxSizeMB, 1, maxLogSizeMB)
	ck.within("logging.max_backups", c.Logging.MaxBackups, 0, 0)
	ck.path("logging.dir", c.Logging.Dir)

	return ck.errs
}
