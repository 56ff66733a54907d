// Package engine runs one detection: it provisions the tool's environment,
// ships the image to a worker through shared memory, executes the tool's
// script and turns the returned label image into spots in the coordinates
// of the source image.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/spotbridge/internal/configurator"
	"github.com/Iron-Ham/spotbridge/internal/env"
	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/event"
	"github.com/Iron-Ham/spotbridge/internal/image"
	"github.com/Iron-Ham/spotbridge/internal/labels"
	"github.com/Iron-Ham/spotbridge/internal/logging"
	"github.com/Iron-Ham/spotbridge/internal/ndarray"
	"github.com/Iron-Ham/spotbridge/internal/reconcile"
	"github.com/Iron-Ham/spotbridge/internal/service"
	"github.com/Iron-Ham/spotbridge/internal/shm"
	"github.com/Iron-Ham/spotbridge/internal/spot"
)

// Output and input names exchanged with the worker.
const (
	inputImage  = "image"
	inputAxes   = "axes"
	outputMasks = "masks"
)

// Run stages, reported in RunFailed events.
const (
	StageInput       = "input"
	StageConfigure   = "configure"
	StageEnvironment = "environment"
	StageTask        = "task"
	StageConvert     = "convert"
)

// Request describes one detection.
type Request struct {
	Configurator *configurator.Configurator
	Image        *image.Image
	// Interval is the region to process. It spans every axis of Image
	// except the channel axis, which is always processed whole; an
	// interval spanning the channel axis too is accepted. The zero value
	// processes the whole image.
	Interval        image.Interval
	Sink            Sink
	SimplifyContour bool
	SmoothingScale  float64
}

// Result is the outcome of a detection. Err holds the typed error behind
// Message when OK is false.
type Result struct {
	OK             bool
	Message        string
	Spots          *spot.Collection
	ProcessingTime time.Duration
	Err            error
}

// Options configure an Engine.
type Options struct {
	Provisioner env.Provisioner
	// ShmDir is where shared-memory segments are allocated.
	ShmDir string
	// Bootstrap overrides the statement starting the worker loop.
	Bootstrap   string
	CancelGrace time.Duration
	// ForbidMultithreading serializes runs on the same image.
	ForbidMultithreading bool
	// ServiceOptions are appended to the options of every worker.
	ServiceOptions []service.Option
	Bus            *event.Bus
	Logger         *logging.Logger
}

// Engine executes detections. It is safe for concurrent use.
type Engine struct {
	opts   Options
	bus    *event.Bus
	logger *logging.Logger
	images *keyedMutex
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Bootstrap == "" {
		opts.Bootstrap = service.DefaultBootstrap
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 5 * time.Second
	}
	e := &Engine{
		opts:   opts,
		bus:    opts.Bus,
		logger: opts.Logger,
		images: newKeyedMutex(),
	}
	if e.bus == nil {
		e.bus = event.NewBus()
	}
	if e.logger == nil {
		e.logger = logging.NopLogger()
	}
	return e
}

// Bus returns the bus lifecycle events are published on.
func (e *Engine) Bus() *event.Bus { return e.bus }

// run carries the state of one Detect call.
type run struct {
	id     string
	tool   string
	req    Request
	sink   Sink
	logger *logging.Logger

	interval image.Interval
	taskID   string
}

// Detect runs the detection described by req. It never panics on bad
// input; every failure is reported through Result.
func (e *Engine) Detect(ctx context.Context, req Request) Result {
	start := time.Now()
	r := &run{id: uuid.NewString(), req: req, sink: req.Sink}
	if r.sink == nil {
		r.sink = NopSink{}
	}
	if req.Configurator != nil {
		r.tool = req.Configurator.Name()
	}
	r.logger = e.logger.WithRun(r.id).WithTool(r.tool)

	spots, stage, err := e.detect(ctx, r)
	elapsed := time.Since(start)
	if err != nil {
		msg := failureMessage(r.tool, err)
		r.logger.Error("detection failed", "stage", stage, "error", err.Error())
		r.sink.Log(msg + "\n")
		e.bus.Publish(event.NewRunFailedEvent(r.id, r.tool, stage, msg))
		return Result{Message: msg, ProcessingTime: elapsed, Err: err}
	}

	r.logger.Info("detection finished",
		"spots", spots.Count(),
		"frames", len(spots.Frames()),
		"duration_ms", elapsed.Milliseconds())
	e.bus.Publish(event.NewRunFinishedEvent(r.id, r.tool, spots.Count(), len(spots.Frames()), elapsed))
	return Result{OK: true, Spots: spots, ProcessingTime: elapsed}
}

func (e *Engine) detect(ctx context.Context, r *run) (*spot.Collection, string, error) {
	req := r.req
	if err := checkInput(req); err != nil {
		return nil, StageInput, err
	}
	if err := req.Configurator.Check(); err != nil {
		return nil, StageConfigure, err
	}

	iv, err := matchInterval(req.Image, req.Interval)
	if err != nil {
		return nil, StageInput, err
	}
	r.interval = iv
	axes := image.AxesOrder(req.Image)

	if e.opts.ForbidMultithreading {
		unlock, err := e.images.Lock(ctx, req.Image.Name)
		if err != nil {
			return nil, StageInput, errors.Wrapf(err, "waiting for image %s", req.Image.Name)
		}
		defer unlock()
	}

	r.sink.Log(fmt.Sprintf("Running detector on: %s\n", r.tool))
	r.sink.Log(fmt.Sprintf("This machine: %s / %s\n", runtime.GOOS, runtime.GOARCH))
	r.logger.Info("detection started", "image", req.Image.Name, "interval", iv.String())
	e.bus.Publish(event.NewRunStartedEvent(r.id, r.tool, req.Image.Name, iv.String()))

	spec := req.Configurator.EnvSpec()
	r.sink.Log("Env file content:\n" + logging.Indent(spec, 2) + "\n\n")
	script, err := req.Configurator.MakeScript()
	if err != nil {
		return nil, StageConfigure, err
	}
	r.sink.Log("Python script:\n" + logging.Indent(script, 2) + "\n\n")
	r.logger.Debug("script rendered", "script", script)

	r.sink.SetStatus("Preparing environment")
	environment, err := e.environment(ctx, spec)
	if err != nil {
		return nil, StageEnvironment, err
	}
	r.logger.Info("environment ready", "env", environment.Name, "dir", environment.Dir)
	e.bus.Publish(event.NewEnvironmentReadyEvent(r.id, environment.Name, environment.Dir))

	arena := shm.NewArena(e.opts.ShmDir)
	defer func() {
		if err := arena.Release(); err != nil {
			r.logger.Warn("failed to release shared memory", "error", err.Error())
		}
	}()

	input, err := image.CopyToNDArray(req.Image, iv, arena)
	if err != nil {
		return nil, StageInput, err
	}

	outputs, err := e.execute(ctx, r, environment, script, map[string]any{
		inputImage: input,
		inputAxes:  axes,
	})
	if err != nil {
		return nil, StageTask, err
	}

	mask, err := e.readMasks(r, arena, outputs)
	if err != nil {
		return nil, StageTask, err
	}

	r.sink.Log("Converting masks to spots.\n")
	raw, err := labels.ToSpots(mask, labels.Options{
		SimplifyContour: req.SimplifyContour,
		SmoothingScale:  req.SmoothingScale,
	})
	if err != nil {
		return nil, StageConvert, err
	}
	r.logger.Debug("masks converted", "summary", labels.Describe(raw))
	return reconcile.Apply(raw, reconcile.NewContext(req.Image, iv)), "", nil
}

func checkInput(req Request) error {
	if req.Image == nil {
		return errors.NewInputError("Image is null.").WithInput("image")
	}
	if req.Configurator == nil {
		return errors.NewInputError("Configurator is null.").WithInput("configurator")
	}
	if err := req.Image.Validate(); err != nil {
		return err
	}
	if req.Image.DimensionIndex(image.X) < 0 || req.Image.DimensionIndex(image.Y) < 0 {
		return errors.NewInputError("image needs X and Y axes").WithInput("image")
	}
	return nil
}

// matchInterval returns the processed interval spanning every axis of img.
func matchInterval(img *image.Image, iv image.Interval) (image.Interval, error) {
	if iv.Min == nil && iv.Max == nil {
		return image.FullInterval(img), nil
	}
	grown, err := image.GrowToChannels(img, iv)
	if err != nil {
		return image.Interval{}, err
	}
	if !image.Contains(img, grown) {
		return image.Interval{}, errors.NewInputError(fmt.Sprintf("interval %s is outside the image", grown)).WithInput("interval")
	}
	return grown, nil
}

func (e *Engine) environment(ctx context.Context, spec string) (*env.Environment, error) {
	if e.opts.Provisioner == nil {
		return nil, errors.NewEnvironmentError("Failed to create Appose environment", errors.New("no provisioner configured"))
	}
	environment, err := e.opts.Provisioner.Build(ctx, env.Spec{Content: spec})
	if err != nil {
		var envErr *errors.EnvironmentError
		if errors.As(err, &envErr) {
			return nil, err
		}
		return nil, errors.NewEnvironmentError("Failed to create Appose environment", err)
	}
	return environment, nil
}

// execute runs script in a fresh worker of environment and returns the
// task outputs.
func (e *Engine) execute(ctx context.Context, r *run, environment *env.Environment, script string, inputs map[string]any) (map[string]any, error) {
	opts := []service.Option{
		service.WithBootstrap(e.opts.Bootstrap),
		service.WithCancelGrace(e.opts.CancelGrace),
		service.WithLogger(r.logger.WithEnv(environment.Name)),
	}
	svc := service.New(environment.Python, append(opts, e.opts.ServiceOptions...)...)
	if err := svc.Start(ctx); err != nil {
		return nil, errors.NewTaskFailure(r.tool, err.Error()).WithCause(errors.Join(errors.ErrWorkerCrashed, err))
	}
	defer func() {
		if err := svc.Close(); err != nil {
			r.logger.Warn("failed to stop worker", "error", err.Error())
		}
	}()

	task := svc.Task(script, inputs)
	r.taskID = task.ID

	var wg conc.WaitGroup
	wg.Go(func() { e.forward(r, task) })

	r.sink.SetStatus("Starting task")
	if err := task.Start(); err != nil {
		wg.Wait()
		return nil, errors.NewTaskFailure(r.tool, err.Error()).WithTaskID(task.ID).WithCause(err)
	}
	err := task.Wait(ctx)
	wg.Wait()
	if err != nil {
		remote := task.ErrorMessage()
		if remote == "" {
			remote = err.Error()
		}
		return nil, errors.NewTaskFailure(r.tool, remote).WithTaskID(task.ID).WithCause(err)
	}
	return task.Outputs()
}

// forward relays task events: messages to the log, counters to progress.
func (e *Engine) forward(r *run, task *service.Task) {
	for ev := range task.Events() {
		switch {
		case ev.Type != service.ResponseUpdate:
			r.logger.Debug("task event", "task", task.ID, "type", string(ev.Type), "state", ev.State.String())
		case ev.Message != "":
			r.sink.Log(ev.Message + "\n")
			r.logger.Info("task message", "task", task.ID, "message", ev.Message)
			e.bus.Publish(event.NewTaskMessageEvent(r.id, task.ID, ev.Message))
		default:
			pe := event.NewTaskProgressEvent(r.id, task.ID, ev.Current, ev.Maximum)
			if f := pe.Fraction(); f >= 0 {
				r.sink.SetProgress(f)
			}
			e.bus.Publish(pe)
		}
	}
}

// readMasks maps the "masks" output and reads it as a label image with
// axes X, Y and, when the source has them, Z and Time.
func (e *Engine) readMasks(r *run, arena *shm.Arena, outputs map[string]any) (*image.Image, error) {
	missing := func(cause error) error {
		return errors.NewTaskFailure(r.tool, cause.Error()).
			WithTaskID(r.taskID).
			WithMessage(fmt.Sprintf("Task did not return a valid %q output: %v", outputMasks, cause)).
			WithCause(errors.Join(errors.ErrMissingOutput, cause))
	}

	v, ok := outputs[outputMasks]
	if !ok || !ndarray.IsWire(v) {
		return nil, missing(fmt.Errorf("output %q is absent or not an array", outputMasks))
	}
	w, err := ndarray.DecodeWire(v)
	if err != nil {
		return nil, missing(err)
	}
	arr, err := ndarray.Open(arena, w)
	if err != nil {
		return nil, missing(err)
	}

	img := r.req.Image
	cal := img.SpatialCalibration()
	axes := []image.AxisType{image.X, image.Y}
	calibration := []float64{cal[0], cal[1]}
	dims := []int64{
		r.interval.Dimension(img.DimensionIndex(image.X)),
		r.interval.Dimension(img.DimensionIndex(image.Y)),
	}
	if zd := img.DimensionIndex(image.Z); zd >= 0 {
		axes = append(axes, image.Z)
		calibration = append(calibration, cal[2])
		dims = append(dims, r.interval.Dimension(zd))
	}
	if td := img.DimensionIndex(image.Time); td >= 0 {
		axes = append(axes, image.Time)
		calibration = append(calibration, img.FrameInterval())
		dims = append(dims, r.interval.Dimension(td))
	}

	mask, err := image.FromNDArray("Masks_"+img.Name, arr, axes, dims, calibration)
	if err != nil {
		return nil, missing(err)
	}
	return mask, nil
}

// failureMessage renders err for Result.Message, prefixed with the tool.
func failureMessage(tool string, err error) string {
	var tf *errors.TaskFailure
	if errors.As(err, &tf) {
		return err.Error()
	}
	return fmt.Sprintf("[Detector%s] %s", tool, err.Error())
}
