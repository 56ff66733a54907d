package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/spotbridge/internal/argument"
	"github.com/Iron-Ham/spotbridge/internal/configurator"
	"github.com/Iron-Ham/spotbridge/internal/env"
	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/event"
	"github.com/Iron-Ham/spotbridge/internal/image"
	"github.com/Iron-Ham/spotbridge/internal/ndarray"
	"github.com/Iron-Ham/spotbridge/internal/service"
	"github.com/Iron-Ham/spotbridge/internal/shm"
	"github.com/Iron-Ham/spotbridge/internal/spot"
	"github.com/Iron-Ham/spotbridge/internal/testutil"
)

const shmDirEnv = "SPOTBRIDGE_TEST_SHM_DIR"

// chattyUpdates is how many extra updates the "chatty" worker sends.
const chattyUpdates = 600

// TestHelperProcess is not a real test. It is re-executed as the worker:
// it thresholds channel 0 of the input image into a label image, where
// every positive pixel value becomes its label. The -c argument selects
// the behavior.
func TestHelperProcess(t *testing.T) {
	if !testutil.IsHelperProcess() {
		return
	}
	defer os.Exit(0)

	mode := testutil.HelperMode()
	dir := os.Getenv(shmDirEnv)
	out := json.NewEncoder(os.Stdout)
	respond := func(r service.Response) { _ = out.Encode(r) }

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req service.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			os.Exit(2)
		}
		if req.RequestType != service.RequestExecute {
			continue
		}
		respond(service.Response{Task: req.Task, ResponseType: service.ResponseLaunch})
		respond(service.Response{Task: req.Task, ResponseType: service.ResponseUpdate, Message: "Loading model"})
		respond(service.Response{Task: req.Task, ResponseType: service.ResponseUpdate, Current: 1, Maximum: 2})
		if mode == "chatty" {
			for i := range chattyUpdates {
				if i%2 == 0 {
					respond(service.Response{Task: req.Task, ResponseType: service.ResponseUpdate, Message: fmt.Sprintf("tick %d", i)})
				} else {
					respond(service.Response{Task: req.Task, ResponseType: service.ResponseUpdate, Current: int64(i), Maximum: chattyUpdates})
				}
			}
		}

		switch mode {
		case "fail":
			respond(service.Response{Task: req.Task, ResponseType: service.ResponseFailure, Error: "ValueError: bad diameter"})
			continue
		case "nomasks":
			respond(service.Response{Task: req.Task, ResponseType: service.ResponseCompletion, Outputs: map[string]any{}})
			continue
		}

		masks, err := threshold(dir, req.Inputs)
		if err != nil {
			respond(service.Response{Task: req.Task, ResponseType: service.ResponseFailure, Error: err.Error()})
			continue
		}
		respond(service.Response{Task: req.Task, ResponseType: service.ResponseCompletion, Outputs: map[string]any{
			"masks":  masks,
			"script": req.Script,
		}})
	}
}

// threshold builds the label array of channel 0. The input segment is only
// unmapped; the output segment is left for the caller to own.
func threshold(dir string, inputs map[string]any) (*ndarray.NDArray, error) {
	w, err := ndarray.DecodeWire(inputs["image"])
	if err != nil {
		return nil, err
	}
	in, err := ndarray.Open(shm.NewArena(dir), w)
	if err != nil {
		return nil, err
	}
	defer in.Segment().Close()

	axes := inputs["axes"].(map[string]any)
	c := -1
	if v, ok := axes["Channel"]; ok {
		c = int(v.(float64))
	}

	var outShape []int64
	for d, n := range in.Shape {
		if d != c {
			outShape = append(outShape, n)
		}
	}
	masks, err := ndarray.New(shm.NewArena(dir), ndarray.Int32, outShape)
	if err != nil {
		return nil, err
	}
	defer masks.Segment().Close()

	// Walk the input in C order, keeping channel 0 only.
	idx := make([]int64, len(in.Shape))
	o := 0
	for i := 0; i < in.Len(); i++ {
		if c < 0 || idx[c] == 0 {
			if v := in.At(i); v > 0 {
				masks.SetAt(o, v)
			}
			o++
		}
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < in.Shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return masks, nil
}

type fakeProvisioner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProvisioner) Build(_ context.Context, spec env.Spec) (*env.Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &env.Environment{
		Name:   spec.Name(),
		ID:     spec.ID(),
		Dir:    "/nonexistent",
		Format: spec.DetectFormat(),
		Python: testutil.HelperCommand(),
	}, nil
}

func (p *fakeProvisioner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingSink struct {
	mu       sync.Mutex
	logs     []string
	status   []string
	progress []float64
}

func (s *recordingSink) Log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, msg)
}

func (s *recordingSink) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = append(s.status, status)
}

func (s *recordingSink) SetProgress(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, f)
}

func (s *recordingSink) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.logs, "")
}

const testManifest = `[workspace]
name = "fake-detector"
channels = ["conda-forge"]
platforms = ["linux-64"]

[dependencies]
python = "3.11"
`

func newConfigurator(t *testing.T) *configurator.Configurator {
	t.Helper()
	c := configurator.New("Fake", "diameter = ${DIAMETER}\nuse_gpu = ${USE_GPU}\n", testManifest)
	c.AddDouble(argument.Spec{Key: "DIAMETER", Name: "Diameter", Default: 30.0, Min: argument.Bound(0)})
	c.AddFlag(argument.Spec{Key: "USE_GPU", Name: "Use GPU", Default: false})
	if err := c.Check(); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	return c
}

// newXYCT returns an 8x8 image with 2 channels and 3 frames, calibrated
// 0.5 in X and Y and 2 in time. Channel 0 holds a 2x2 square labeled 1 at
// x 4..5, y 2..3 in frames 1 and 2; channel 1 holds noise the worker must
// ignore.
func newXYCT(t *testing.T) *image.Image {
	t.Helper()
	img, err := image.New("cells",
		[]image.AxisType{image.X, image.Y, image.Channel, image.Time},
		[]int64{8, 8, 2, 3},
		[]float64{0.5, 0.5, 1, 2},
	)
	if err != nil {
		t.Fatal(err)
	}
	for f := int64(1); f <= 2; f++ {
		for y := int64(2); y <= 3; y++ {
			for x := int64(4); x <= 5; x++ {
				img.Set(1, x, y, 0, f)
			}
		}
	}
	img.Set(7, 0, 0, 1, 1)
	return img
}

func newTestEngine(t *testing.T, mode string, p env.Provisioner, bus *event.Bus) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		Provisioner: p,
		ShmDir:      dir,
		Bootstrap:   mode,
		CancelGrace: 500 * time.Millisecond,
		ServiceOptions: []service.Option{
			service.WithEnv(testutil.HelperEnv(shmDirEnv + "=" + dir)...),
		},
		Bus: bus,
	}), dir
}

func TestDetect_EndToEnd(t *testing.T) {
	p := &fakeProvisioner{}
	bus := event.NewBus()
	var (
		mu    sync.Mutex
		types []string
	)
	bus.SubscribeAll(func(ev event.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, ev.EventType())
	})
	e, dir := newTestEngine(t, "masks", p, bus)
	sink := &recordingSink{}

	// X from 2, all of Y, frames 1..2; the channel axis is omitted.
	iv, err := image.NewInterval([]int64{2, 0, 1}, []int64{7, 7, 2})
	if err != nil {
		t.Fatal(err)
	}
	res := e.Detect(context.Background(), Request{
		Configurator: newConfigurator(t),
		Image:        newXYCT(t),
		Interval:     iv,
		Sink:         sink,
	})
	if !res.OK {
		t.Fatalf("Detect() failed: %s (%v)", res.Message, res.Err)
	}
	if p.Calls() != 1 {
		t.Errorf("provisioner called %d times, want 1", p.Calls())
	}

	frames := res.Spots.Frames()
	if len(frames) != 2 || frames[0] != 1 || frames[1] != 2 {
		t.Fatalf("Frames() = %v, want [1 2]", frames)
	}
	for _, s := range res.Spots.All() {
		// Local centroid x = 2.5 plus the interval origin 2, times 0.5.
		if got := s.Feature(spot.PositionX); got != 2.25 {
			t.Errorf("POSITION_X = %v, want 2.25", got)
		}
		if got := s.Feature(spot.PositionY); got != 1.25 {
			t.Errorf("POSITION_Y = %v, want 1.25", got)
		}
		if got, want := s.Feature(spot.PositionT), float64(s.FrameIndex())*2; got != want {
			t.Errorf("POSITION_T = %v, want %v", got, want)
		}
		if s.Feature(spot.Quality) != 4 {
			t.Errorf("QUALITY = %v, want 4", s.Feature(spot.Quality))
		}
	}

	logs := sink.joined()
	for _, want := range []string{"Env file content:", "diameter = 30", "use_gpu = False", "Loading model", "Converting masks to spots."} {
		if !strings.Contains(logs, want) {
			t.Errorf("log output missing %q:\n%s", want, logs)
		}
	}
	if len(sink.progress) != 1 || sink.progress[0] != 0.5 {
		t.Errorf("progress = %v, want [0.5]", sink.progress)
	}

	mu.Lock()
	got := strings.Join(types, ",")
	mu.Unlock()
	want := strings.Join([]string{
		event.TypeRunStarted,
		event.TypeEnvironmentReady,
		event.TypeTaskProgress,
		event.TypeTaskProgress,
		event.TypeRunFinished,
	}, ",")
	if got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
	testutil.AssertEmptyDir(t, dir)
}

// slowSink records like recordingSink but pauses on every call.
type slowSink struct {
	recordingSink
	delay time.Duration
}

func (s *slowSink) Log(msg string) {
	time.Sleep(s.delay)
	s.recordingSink.Log(msg)
}

func (s *slowSink) SetProgress(f float64) {
	time.Sleep(s.delay)
	s.recordingSink.SetProgress(f)
}

func TestDetect_SlowSinkGetsEveryUpdateInOrder(t *testing.T) {
	e, _ := newTestEngine(t, "chatty", &fakeProvisioner{}, nil)
	sink := &slowSink{delay: 200 * time.Microsecond}
	res := e.Detect(context.Background(), Request{
		Configurator: newConfigurator(t),
		Image:        newXYCT(t),
		Sink:         sink,
	})
	if !res.OK {
		t.Fatalf("Detect() failed: %s (%v)", res.Message, res.Err)
	}

	var ticks []string
	for _, l := range sink.logs {
		if strings.HasPrefix(l, "tick ") {
			ticks = append(ticks, strings.TrimSpace(l))
		}
	}
	wantProgress := []float64{0.5}
	var wantTicks []string
	for i := range chattyUpdates {
		if i%2 == 0 {
			wantTicks = append(wantTicks, fmt.Sprintf("tick %d", i))
		} else {
			wantProgress = append(wantProgress, float64(i)/chattyUpdates)
		}
	}
	if strings.Join(ticks, ",") != strings.Join(wantTicks, ",") {
		t.Errorf("got %d messages, want %d in order; first ones: %v", len(ticks), len(wantTicks), ticks[:min(5, len(ticks))])
	}
	if len(sink.progress) != len(wantProgress) {
		t.Fatalf("got %d progress updates, want %d", len(sink.progress), len(wantProgress))
	}
	for i, want := range wantProgress {
		if sink.progress[i] != want {
			t.Fatalf("progress[%d] = %v, want %v", i, sink.progress[i], want)
		}
	}
}

func TestDetect_WholeImage(t *testing.T) {
	e, dir := newTestEngine(t, "masks", &fakeProvisioner{}, nil)
	res := e.Detect(context.Background(), Request{
		Configurator: newConfigurator(t),
		Image:        newXYCT(t),
	})
	if !res.OK {
		t.Fatalf("Detect() failed: %s", res.Message)
	}
	if res.Spots.Count() != 2 {
		t.Errorf("Count() = %d, want 2", res.Spots.Count())
	}
	for _, s := range res.Spots.All() {
		if got := s.Feature(spot.PositionX); got != 2.25 {
			t.Errorf("POSITION_X = %v, want 2.25", got)
		}
	}
	testutil.AssertEmptyDir(t, dir)
}

func TestDetect_ConfigurationErrorBeforeProvisioning(t *testing.T) {
	p := &fakeProvisioner{}
	e, _ := newTestEngine(t, "masks", p, nil)

	c := configurator.New("Fake", "model = ${MODEL}\n", testManifest)
	c.AddString(argument.Spec{Key: "MODEL", Name: "Model", Required: true})

	res := e.Detect(context.Background(), Request{Configurator: c, Image: newXYCT(t)})
	if res.OK {
		t.Fatal("Detect() should fail with a missing required argument")
	}
	var cfgErr *errors.ConfigurationError
	if !errors.As(res.Err, &cfgErr) {
		t.Errorf("Err = %T, want *ConfigurationError", res.Err)
	}
	if !strings.HasPrefix(res.Message, "[DetectorFake] ") {
		t.Errorf("Message = %q, want tool prefix", res.Message)
	}
	if p.Calls() != 0 {
		t.Errorf("provisioner called %d times, want 0", p.Calls())
	}
}

func TestDetect_InputErrors(t *testing.T) {
	p := &fakeProvisioner{}
	e, _ := newTestEngine(t, "masks", p, nil)
	outside, _ := image.NewInterval([]int64{0, 0, 0}, []int64{9, 7, 2})
	badRank, _ := image.NewInterval([]int64{0}, []int64{1})

	tests := []struct {
		name string
		req  Request
	}{
		{"nil image", Request{Configurator: newConfigurator(t)}},
		{"nil configurator", Request{Image: newXYCT(t)}},
		{"interval outside image", Request{Configurator: newConfigurator(t), Image: newXYCT(t), Interval: outside}},
		{"interval rank", Request{Configurator: newConfigurator(t), Image: newXYCT(t), Interval: badRank}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Detect(context.Background(), tt.req)
			if res.OK {
				t.Fatal("Detect() should fail")
			}
			if !errors.Is(res.Err, errors.ErrInvalidInput) {
				t.Errorf("Err = %v, want ErrInvalidInput", res.Err)
			}
		})
	}
	if p.Calls() != 0 {
		t.Errorf("provisioner called %d times, want 0", p.Calls())
	}
}

func TestDetect_EnvironmentFailure(t *testing.T) {
	p := &fakeProvisioner{err: errors.NewEnvironmentError("Failed to create Appose environment", errors.ErrBuildFailed)}
	e, _ := newTestEngine(t, "masks", p, nil)

	res := e.Detect(context.Background(), Request{Configurator: newConfigurator(t), Image: newXYCT(t)})
	if res.OK {
		t.Fatal("Detect() should fail")
	}
	if !errors.Is(res.Err, errors.ErrBuildFailed) {
		t.Errorf("Err = %v, want ErrBuildFailed", res.Err)
	}
	if !strings.Contains(res.Message, "Failed to create Appose environment") {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestDetect_TaskFailure(t *testing.T) {
	bus := event.NewBus()
	var failed []event.RunFailedEvent
	bus.Subscribe(event.TypeRunFailed, func(ev event.Event) {
		failed = append(failed, ev.(event.RunFailedEvent))
	})
	e, dir := newTestEngine(t, "fail", &fakeProvisioner{}, bus)

	res := e.Detect(context.Background(), Request{Configurator: newConfigurator(t), Image: newXYCT(t)})
	if res.OK {
		t.Fatal("Detect() should fail")
	}
	want := "[DetectorFake] Python script failed with error: ValueError: bad diameter"
	if res.Message != want {
		t.Errorf("Message = %q, want %q", res.Message, want)
	}
	if !errors.Is(res.Err, errors.ErrTaskFailed) {
		t.Errorf("Err = %v, want ErrTaskFailed", res.Err)
	}
	if len(failed) != 1 || failed[0].Stage != StageTask {
		t.Errorf("RunFailed events = %+v", failed)
	}
	testutil.AssertEmptyDir(t, dir)
}

func TestDetect_MissingMasks(t *testing.T) {
	e, dir := newTestEngine(t, "nomasks", &fakeProvisioner{}, nil)

	res := e.Detect(context.Background(), Request{Configurator: newConfigurator(t), Image: newXYCT(t)})
	if res.OK {
		t.Fatal("Detect() should fail without masks")
	}
	if !errors.Is(res.Err, errors.ErrMissingOutput) {
		t.Errorf("Err = %v, want ErrMissingOutput", res.Err)
	}
	if res.Spots != nil {
		t.Error("a failed run must not return spots")
	}
	testutil.AssertEmptyDir(t, dir)
}

func TestKeyedMutex(t *testing.T) {
	ctx := context.Background()
	k := newKeyedMutex()
	unlock, err := k.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	other := make(chan struct{})
	go func() {
		if u, err := k.Lock(ctx, "b"); err == nil {
			u()
		}
		close(other)
	}()
	select {
	case <-other:
	case <-time.After(5 * time.Second):
		t.Fatal("different keys must not block each other")
	}

	same := make(chan struct{})
	go func() {
		if u, err := k.Lock(ctx, "a"); err == nil {
			u()
		}
		close(same)
	}()
	select {
	case <-same:
		t.Fatal("same key acquired twice")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-same:
	case <-time.After(5 * time.Second):
		t.Fatal("unlock did not release the key")
	}
	if n := k.size(); n != 0 {
		t.Errorf("size() = %d after all unlocks, want 0", n)
	}
}

func TestKeyedMutex_CancelWhileWaiting(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "img")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	go func() {
		u, err := k.Lock(ctx, "img")
		if u != nil {
			u()
		}
		got <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-got:
		if err != context.Canceled {
			t.Errorf("Lock() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter ignored cancellation")
	}

	unlock()
	unlock()
	if n := k.size(); n != 0 {
		t.Errorf("size() = %d, want 0", n)
	}
	u, err := k.Lock(context.Background(), "img")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	u()
}

func TestDetect_CancelledWhileImageLocked(t *testing.T) {
	e, _ := newTestEngine(t, "masks", &fakeProvisioner{}, nil)
	e.opts.ForbidMultithreading = true
	img := newXYCT(t)
	unlock, err := e.images.Lock(context.Background(), img.Name)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := e.Detect(ctx, Request{
		Configurator: newConfigurator(t),
		Image:        img,
		Sink:         &recordingSink{},
	})
	if res.OK {
		t.Fatal("Detect() succeeded while the image was held")
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want context.DeadlineExceeded", res.Err)
	}
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.NewTaskFailure("Cellpose", "boom"), "[DetectorCellpose] Python script failed with error: boom"},
		{fmt.Errorf("plain"), "[DetectorCellpose] plain"},
	}
	for _, tt := range tests {
		if got := failureMessage("Cellpose", tt.err); got != tt.want {
			t.Errorf("failureMessage() = %q, want %q", got, tt.want)
		}
	}
}
