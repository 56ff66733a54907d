package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. SPOTBRIDGE_ENGINE_CANCEL_GRACE_SECONDS.
const EnvPrefix = "SPOTBRIDGE"

// Config represents the complete spotbridge configuration
type Config struct {
	Environment EnvironmentConfig `mapstructure:"environment"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// EnvironmentConfig controls how tool environments are built and cached
type EnvironmentConfig struct {
	// CacheDir is where environments are built. Empty means
	// $XDG_DATA_HOME/spotbridge/envs (or ~/.local/share/spotbridge/envs).
	// Supports ~ for home directory expansion.
	CacheDir string `mapstructure:"cache_dir"`
	// PixiPath is the pixi executable used for TOML manifests (default: "pixi")
	PixiPath string `mapstructure:"pixi_path"`
	// MicromambaPath is the executable used for conda YAML manifests (default: "micromamba")
	MicromambaPath string `mapstructure:"micromamba_path"`
	// BuildTimeoutMinutes bounds a single environment build, including
	// waiting for another process building the same environment (default: 30)
	BuildTimeoutMinutes int `mapstructure:"build_timeout_minutes"`
	// LockPollMs is the initial interval between attempts to take the build lock (default: 250)
	LockPollMs int `mapstructure:"lock_poll_ms"`
}

// EngineConfig controls detector execution
type EngineConfig struct {
	// ForbidMultithreading serializes runs on the same image (default: false)
	ForbidMultithreading bool `mapstructure:"forbid_multithreading"`
	// CancelGraceSeconds is how long a canceled task may take to acknowledge
	// before its worker is killed (default: 5)
	CancelGraceSeconds int `mapstructure:"cancel_grace_seconds"`
	// ShmDir is the directory backing shared memory segments (default: /dev/shm)
	ShmDir string `mapstructure:"shm_dir"`
	// Bootstrap is the Python statement that starts the worker loop
	Bootstrap string `mapstructure:"bootstrap"`
}

// DetectorConfig holds defaults for the run command
type DetectorConfig struct {
	// Default is the tool used when none is given (default: "cellpose")
	Default string `mapstructure:"default"`
	// SettingsDir is where named settings files are stored. Empty means
	// ConfigDir()/settings.
	SettingsDir string `mapstructure:"settings_dir"`
	// SimplifyContour replaces 2D outlines by their convex hull (default: true)
	SimplifyContour bool `mapstructure:"simplify_contour"`
	// SmoothingScale smooths 2D outlines over this physical length; 0 disables (default: 0)
	SmoothingScale float64 `mapstructure:"smoothing_scale"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging to a file is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory. Empty means ConfigDir()/logs.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// DefaultBootstrap starts the Appose Python worker.
const DefaultBootstrap = "import appose.python_worker; appose.python_worker.main()"

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Environment: EnvironmentConfig{
			CacheDir:            "", // Empty means use the data directory
			PixiPath:            "pixi",
			MicromambaPath:      "micromamba",
			BuildTimeoutMinutes: 30,
			LockPollMs:          250,
		},
		Engine: EngineConfig{
			ForbidMultithreading: false,
			CancelGraceSeconds:   5,
			ShmDir:               "/dev/shm",
			Bootstrap:            DefaultBootstrap,
		},
		Detector: DetectorConfig{
			Default:         "cellpose",
			SettingsDir:     "",
			SimplifyContour: true,
			SmoothingScale:  0,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// BuildTimeout returns the build timeout as a time.Duration
func (c *EnvironmentConfig) BuildTimeout() time.Duration {
	return time.Duration(c.BuildTimeoutMinutes) * time.Minute
}

// LockPoll returns the initial lock polling interval as a time.Duration
func (c *EnvironmentConfig) LockPoll() time.Duration {
	return time.Duration(c.LockPollMs) * time.Millisecond
}

// ResolveCacheDir returns the resolved environment cache directory.
func (c *EnvironmentConfig) ResolveCacheDir() string {
	if c.CacheDir == "" {
		return filepath.Join(DataDir(), "envs")
	}
	return expandHome(c.CacheDir)
}

// CancelGrace returns the cancel grace period as a time.Duration
func (c *EngineConfig) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceSeconds) * time.Second
}

// ResolveSettingsDir returns the resolved settings directory.
func (c *DetectorConfig) ResolveSettingsDir() string {
	if c.SettingsDir == "" {
		return filepath.Join(ConfigDir(), "settings")
	}
	return expandHome(c.SettingsDir)
}

// ResolveDir returns the resolved log directory.
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir == "" {
		return filepath.Join(ConfigDir(), "logs")
	}
	return expandHome(c.Dir)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Environment defaults
	viper.SetDefault("environment.cache_dir", defaults.Environment.CacheDir)
	viper.SetDefault("environment.pixi_path", defaults.Environment.PixiPath)
	viper.SetDefault("environment.micromamba_path", defaults.Environment.MicromambaPath)
	viper.SetDefault("environment.build_timeout_minutes", defaults.Environment.BuildTimeoutMinutes)
	viper.SetDefault("environment.lock_poll_ms", defaults.Environment.LockPollMs)

	// Engine defaults
	viper.SetDefault("engine.forbid_multithreading", defaults.Engine.ForbidMultithreading)
	viper.SetDefault("engine.cancel_grace_seconds", defaults.Engine.CancelGraceSeconds)
	viper.SetDefault("engine.shm_dir", defaults.Engine.ShmDir)
	viper.SetDefault("engine.bootstrap", defaults.Engine.Bootstrap)

	// Detector defaults
	viper.SetDefault("detector.default", defaults.Detector.Default)
	viper.SetDefault("detector.settings_dir", defaults.Detector.SettingsDir)
	viper.SetDefault("detector.simplify_contour", defaults.Detector.SimplifyContour)
	viper.SetDefault("detector.smoothing_scale", defaults.Detector.SmoothingScale)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// BindEnv makes every config key overridable from SPOTBRIDGE_* variables.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "spotbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".spotbridge"
	}
	return filepath.Join(home, ".config", "spotbridge")
}

// DataDir returns the path to the user's data directory
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "spotbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".spotbridge"
	}
	return filepath.Join(home, ".local", "share", "spotbridge")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidDetectors returns the names of the built-in detectors.
// Must match the tools registry.
func ValidDetectors() []string {
	return []string{"cellpose", "stardist"}
}
