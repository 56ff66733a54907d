package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/spotbridge/internal/console"
	"github.com/Iron-Ham/spotbridge/internal/engine"
	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/event"
	"github.com/Iron-Ham/spotbridge/internal/image"
	"github.com/Iron-Ham/spotbridge/internal/ndarray"
	"github.com/Iron-Ham/spotbridge/internal/settings"
	"github.com/Iron-Ham/spotbridge/internal/spot"
	"github.com/Iron-Ham/spotbridge/internal/tools"
)

var runCmd = &cobra.Command{
	Use:   "run [tool]",
	Short: "Detect spots in an image with an external tool",
	Long: `Detect spots in a raw image with an external tool.

The tool defaults to detector.default. The image is read as little-endian
pixels, first axis fastest. Its layout is given by --axes, --dims and
--dtype. Spots are written as YAML.

Examples:
  # Cellpose on a two-channel time-lapse
  spotbridge run cellpose --image cells.raw --axes XYCT --dims 512,512,2,10 \
      --dtype uint16 --calibration 0.2,0.2,1,60 --units µm

  # Only frames 2 to 5, rerun whenever the saved settings change
  spotbridge run cellpose --image cells.raw --axes XYCT --dims 512,512,2,10 \
      --min 0,0,2 --max 511,511,5 --watch

  # A custom tool
  spotbridge run mytool --script detect.py --env-file pixi.toml --image a.raw \
      --axes XY --dims 256,256`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runTool  toolFlags
	runImage imageFlags
	runOut   string
	runWatch bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runTool.register(runCmd)
	runImage.register(runCmd)
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "write spots to this file instead of stdout")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "rerun whenever the settings file changes")
	_ = runCmd.MarkFlagRequired("image")
}

// imageFlags locate and describe a raw image.
type imageFlags struct {
	path        string
	axes        string
	dims        []int64
	dtype       string
	calibration []float64
	units       string
	min         []int64
	max         []int64
}

func (f *imageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "image", "i", "", "raw image file")
	cmd.Flags().StringVar(&f.axes, "axes", "XY", "axis order, e.g. XYZCT")
	cmd.Flags().Int64SliceVar(&f.dims, "dims", nil, "size of each axis")
	cmd.Flags().StringVar(&f.dtype, "dtype", string(ndarray.Float32), "pixel type: uint8, uint16, int32, uint32, float32, float64")
	cmd.Flags().Float64SliceVar(&f.calibration, "calibration", nil, "pixel size of each axis (default 1)")
	cmd.Flags().StringVar(&f.units, "units", "pixel", "spatial calibration unit")
	cmd.Flags().Int64SliceVar(&f.min, "min", nil, "interval start, one value per non-channel axis")
	cmd.Flags().Int64SliceVar(&f.max, "max", nil, "interval end (inclusive), one value per non-channel axis")
}

func (f *imageFlags) load() (*image.Image, image.Interval, error) {
	axes, err := image.ParseAxes(f.axes)
	if err != nil {
		return nil, image.Interval{}, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, image.Interval{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	name := strings.TrimSuffix(filepath.Base(f.path), filepath.Ext(f.path))
	img, err := image.ReadRaw(file, name, ndarray.DType(f.dtype), axes, f.dims, f.calibration)
	if err != nil {
		return nil, image.Interval{}, err
	}

	if len(f.min) == 0 && len(f.max) == 0 {
		return img, image.Interval{}, nil
	}
	iv, err := image.NewInterval(f.min, f.max)
	if err != nil {
		return nil, image.Interval{}, err
	}
	return img, iv, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	tool := a.cfg.Detector.Default
	if len(args) == 1 {
		tool = args[0]
	}

	img, iv, err := runImage.load()
	if err != nil {
		return err
	}
	shape := tools.ShapeOf(img, runImage.units)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := console.New(os.Stderr)
	bus := event.NewBus().WithLogger(a.logger)
	bus.Subscribe(event.TypeEnvironmentReady, func(e event.Event) {
		out.SetStatus("Environment ready: " + e.(event.EnvironmentReadyEvent).Name)
	})
	bus.Subscribe(event.TypeSettingsChanged, func(e event.Event) {
		out.SetStatus("Settings changed: " + e.(event.SettingsChangedEvent).Path)
	})
	eng := a.engine(bus)

	detect := func() error {
		c, err := a.configurator(tool, &runTool, shape)
		if err != nil {
			return err
		}
		simplify, smoothing := tools.ContourOptions(c, a.cfg.Detector.SimplifyContour, a.cfg.Detector.SmoothingScale)
		res := eng.Detect(ctx, engine.Request{
			Configurator:    c,
			Image:           img,
			Interval:        iv,
			Sink:            out,
			SimplifyContour: simplify,
			SmoothingScale:  smoothing,
		})
		out.Summary(res)
		if !res.OK {
			return res.Err
		}
		return writeSpots(cmd, res.Spots)
	}

	if err := detect(); err != nil && !runWatch {
		return err
	}
	if !runWatch {
		return nil
	}

	path := runTool.settings
	if path == "" {
		path = a.store.Path(tool)
	}
	return watchAndRerun(ctx, a, bus, path, detect)
}

// watchAndRerun reruns detect after every change of the settings file at
// path, until ctx is done. Failed reruns are reported and watching goes on.
func watchAndRerun(ctx context.Context, a *app, bus *event.Bus, path string, detect func() error) error {
	changes := make(chan string, 1)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- settings.Watch(ctx, path, a.logger, func(p string) {
			select {
			case changes <- p:
			default:
			}
		})
	}()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			return err
		case p := <-changes:
			bus.Publish(event.NewSettingsChangedEvent(p))
			if err := detect(); err != nil {
				a.logger.Warn("rerun failed", "error", err)
			}
		}
	}
}

// spotRecord is the YAML form of a spot.
type spotRecord struct {
	ID      int64        `yaml:"id"`
	Frame   int          `yaml:"frame"`
	X       float64      `yaml:"x"`
	Y       float64      `yaml:"y"`
	Z       float64      `yaml:"z"`
	T       float64      `yaml:"t"`
	Radius  float64      `yaml:"radius"`
	Quality float64      `yaml:"quality"`
	Contour [][2]float64 `yaml:"contour,omitempty,flow"`
}

func spotRecords(spots *spot.Collection) []spotRecord {
	records := make([]spotRecord, 0, spots.Count())
	for _, s := range spots.All() {
		r := spotRecord{
			ID:      s.ID,
			Frame:   s.FrameIndex(),
			X:       s.Feature(spot.PositionX),
			Y:       s.Feature(spot.PositionY),
			Z:       s.Feature(spot.PositionZ),
			T:       s.Feature(spot.PositionT),
			Radius:  s.Feature(spot.Radius),
			Quality: s.Feature(spot.Quality),
		}
		for _, p := range s.Contour {
			r.Contour = append(r.Contour, [2]float64{p.X, p.Y})
		}
		records = append(records, r)
	}
	return records
}

func encodeSpots(w io.Writer, spots *spot.Collection) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(spotRecords(spots)); err != nil {
		return fmt.Errorf("failed to encode spots: %w", err)
	}
	return enc.Close()
}

func writeSpots(cmd *cobra.Command, spots *spot.Collection) error {
	if runOut == "" {
		return encodeSpots(cmd.OutOrStdout(), spots)
	}
	f, err := os.Create(runOut)
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	if err := encodeSpots(f, spots); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
