package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/spotbridge/internal/config"
	"github.com/Iron-Ham/spotbridge/internal/configurator"
	"github.com/Iron-Ham/spotbridge/internal/engine"
	"github.com/Iron-Ham/spotbridge/internal/env"
	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/event"
	"github.com/Iron-Ham/spotbridge/internal/logging"
	"github.com/Iron-Ham/spotbridge/internal/settings"
	"github.com/Iron-Ham/spotbridge/internal/tools"
)

// app holds the services shared by commands, built from the loaded config.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	envs   *env.Manager
	store  *settings.Store
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLoggerWithRotation(cfg.Logging.ResolveDir(), cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		if err != nil {
			return nil, err
		}
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		envs: env.NewManager(env.Options{
			Root:           cfg.Environment.ResolveCacheDir(),
			PixiPath:       cfg.Environment.PixiPath,
			MicromambaPath: cfg.Environment.MicromambaPath,
			BuildTimeout:   cfg.Environment.BuildTimeout(),
			LockPoll:       cfg.Environment.LockPoll(),
			Logger:         logger,
		}),
		store: settings.NewStore(afero.NewOsFs(), cfg.Detector.ResolveSettingsDir()),
	}, nil
}

func (a *app) Close() {
	_ = a.logger.Close()
}

func (a *app) engine(bus *event.Bus) *engine.Engine {
	return engine.New(engine.Options{
		Provisioner:          a.envs,
		ShmDir:               a.cfg.Engine.ShmDir,
		Bootstrap:            a.cfg.Engine.Bootstrap,
		CancelGrace:          a.cfg.Engine.CancelGrace(),
		ForbidMultithreading: a.cfg.Engine.ForbidMultithreading,
		Bus:                  bus,
		Logger:               a.logger,
	})
}

// toolFlags select and configure a tool. They are shared by every command
// that builds a configurator.
type toolFlags struct {
	script   string
	envFile  string
	settings string
	noSaved  bool
	set      []string
}

func (f *toolFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.script, "script", "", "script template of a custom tool")
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "environment manifest of a custom tool (pixi.toml or environment.yml)")
	cmd.Flags().StringVar(&f.settings, "settings", "", "settings file to apply instead of the saved settings")
	cmd.Flags().BoolVar(&f.noSaved, "defaults", false, "ignore saved settings")
	cmd.Flags().StringArrayVar(&f.set, "set", nil, "set an argument, as KEY=VALUE (repeatable)")
}

// shapeFlags describe the image a configurator is built for when no image
// is at hand.
type shapeFlags struct {
	channels   int
	units      string
	pixelSize  float64
	pixelDepth float64
}

func (f *shapeFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.channels, "channels", 1, "number of channels of the target image")
	cmd.Flags().StringVar(&f.units, "units", "pixel", "spatial calibration unit")
	cmd.Flags().Float64Var(&f.pixelSize, "pixel-size", 1, "XY pixel size")
	cmd.Flags().Float64Var(&f.pixelDepth, "pixel-depth", 1, "Z voxel depth")
}

func (f *shapeFlags) shape() tools.Shape {
	return tools.Shape{Channels: f.channels, Units: f.units, PixelSize: f.pixelSize, PixelDepth: f.pixelDepth}
}

// configurator resolves the named tool and applies, in order, the saved or
// given settings file and the --set overrides.
func (a *app) configurator(name string, f *toolFlags, shape tools.Shape) (*configurator.Configurator, error) {
	c, err := a.resolve(name, f, shape)
	if err != nil {
		return nil, err
	}

	switch {
	case f.settings != "":
		if _, err := a.store.LoadFile(f.settings, c); err != nil {
			return nil, err
		}
	case !f.noSaved:
		ok, err := a.store.Load(c)
		if err != nil {
			return nil, err
		}
		if ok {
			a.logger.Debug("applied saved settings", "tool", c.Name(), "path", a.store.Path(c.Name()))
		}
	}

	if err := applySets(c, f.set); err != nil {
		return nil, err
	}
	return c, nil
}

func (a *app) resolve(name string, f *toolFlags, shape tools.Shape) (*configurator.Configurator, error) {
	if f.script == "" && f.envFile == "" {
		return tools.Lookup(name, shape)
	}
	if f.script == "" || f.envFile == "" {
		return nil, errors.NewValidationError("a custom tool needs both --script and --env-file").WithField("script")
	}
	script, err := os.ReadFile(f.script)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	manifest, err := os.ReadFile(f.envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read environment manifest: %w", err)
	}
	return tools.NewCustom(name, string(script), string(manifest), shape), nil
}

// applySets applies KEY=VALUE overrides. Setting a member of a selectable
// group also selects it.
func applySets(c *configurator.Configurator, sets []string) error {
	if len(sets) == 0 {
		return nil
	}
	values := make(map[string]any, len(sets))
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return errors.NewValidationError("expected KEY=VALUE").WithField("set").WithValue(kv)
		}
		if _, known := c.Argument(key); !known {
			if _, known = c.Selectable(key); !known {
				return errors.NewNotFoundError("argument", key)
			}
		}
		values[key] = value
	}
	if err := c.LoadFromSettingsMap(values); err != nil {
		return err
	}
	for key := range values {
		a, ok := c.Argument(key)
		if !ok {
			continue
		}
		for _, s := range c.Selectables() {
			if s.Contains(a) {
				s.SelectArgument(a)
			}
		}
	}
	return nil
}
