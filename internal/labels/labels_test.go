package labels

import (
	"math"
	"testing"

	"github.com/Iron-Ham/spotbridge/internal/image"
	"github.com/Iron-Ham/spotbridge/internal/spot"
)

func fillRect(img *image.Image, label float32, x0, x1, y0, y1 int64, rest ...int64) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			img.Set(label, append([]int64{x, y}, rest...)...)
		}
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestToSpots_2D(t *testing.T) {
	mask, err := image.New("masks", []image.AxisType{image.X, image.Y}, []int64{10, 8}, []float64{0.5, 0.25})
	if err != nil {
		t.Fatal(err)
	}
	fillRect(mask, 1, 1, 3, 1, 3) // 3x3 centred on (2, 2)
	fillRect(mask, 7, 6, 7, 4, 5) // 2x2 centred on (6.5, 4.5)

	spots, err := ToSpots(mask, Options{})
	if err != nil {
		t.Fatalf("ToSpots() error = %v", err)
	}
	if len(spots) != 2 {
		t.Fatalf("got %d spots, want 2", len(spots))
	}

	a, b := spots[0], spots[1]
	if !near(a.Feature(spot.PositionX), 1.0) || !near(a.Feature(spot.PositionY), 0.5) {
		t.Errorf("spot 1 position = %v", a.Position())
	}
	if a.Feature(spot.Quality) != 9 {
		t.Errorf("spot 1 quality = %v, want 9", a.Feature(spot.Quality))
	}
	wantRadius := math.Sqrt(9 * 0.5 * 0.25 / math.Pi)
	if !near(a.Feature(spot.Radius), wantRadius) {
		t.Errorf("spot 1 radius = %v, want %v", a.Feature(spot.Radius), wantRadius)
	}
	if !near(b.Feature(spot.PositionX), 3.25) || !near(b.Feature(spot.PositionY), 1.125) {
		t.Errorf("spot 7 position = %v", b.Position())
	}
	if !near(a.Bounds.Min[0], -0.75) || !near(a.Bounds.Max[0], 0.75) {
		t.Errorf("spot 1 X bounds = [%v, %v], want [-0.75, 0.75]", a.Bounds.Min[0], a.Bounds.Max[0])
	}
	// Every pixel of a 3x3 square except the centre is on the edge.
	if len(a.Contour) != 8 {
		t.Errorf("spot 1 contour has %d points, want 8", len(a.Contour))
	}
	for _, s := range spots {
		if s.FrameIndex() != 0 {
			t.Errorf("FrameIndex() = %d, want 0 without time axis", s.FrameIndex())
		}
	}
}

func TestToSpots_SimplifiedContourIsHull(t *testing.T) {
	mask, _ := image.New("masks", []image.AxisType{image.X, image.Y}, []int64{10, 10}, nil)
	fillRect(mask, 3, 2, 6, 2, 6)

	spots, err := ToSpots(mask, Options{SimplifyContour: true})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(spots[0].Contour); n != 4 {
		t.Errorf("hull of a square has %d points, want 4", n)
	}
}

func TestToSpots_SmoothingKeepsPointCount(t *testing.T) {
	mask, _ := image.New("masks", []image.AxisType{image.X, image.Y}, []int64{12, 12}, nil)
	fillRect(mask, 1, 2, 8, 2, 8)

	raw, _ := ToSpots(mask, Options{})
	smoothed, err := ToSpots(mask, Options{SmoothingScale: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(raw[0].Contour) != len(smoothed[0].Contour) {
		t.Errorf("smoothing changed point count: %d -> %d", len(raw[0].Contour), len(smoothed[0].Contour))
	}
	if raw[0].Position() != smoothed[0].Position() {
		t.Error("smoothing moved the spot")
	}
}

func TestToSpots_3DWithFrames(t *testing.T) {
	mask, err := image.New("masks",
		[]image.AxisType{image.X, image.Y, image.Z, image.Time},
		[]int64{6, 6, 4, 2},
		[]float64{1, 1, 2, 5},
	)
	if err != nil {
		t.Fatal(err)
	}
	// Frame 0: a 2x2x2 cube. Frame 1: two single-pixel labels.
	for z := int64(1); z <= 2; z++ {
		fillRect(mask, 5, 1, 2, 1, 2, z, 0)
	}
	mask.Set(2, 4, 4, 3, 1)
	mask.Set(9, 0, 0, 0, 1)

	spots, err := ToSpots(mask, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(spots) != 3 {
		t.Fatalf("got %d spots, want 3", len(spots))
	}
	cube := spots[0]
	if cube.FrameIndex() != 0 || cube.Feature(spot.Quality) != 8 {
		t.Errorf("cube frame %d quality %v", cube.FrameIndex(), cube.Feature(spot.Quality))
	}
	if !near(cube.Feature(spot.PositionZ), 3) {
		t.Errorf("cube z = %v, want 3 (1.5 slices * 2)", cube.Feature(spot.PositionZ))
	}
	wantRadius := math.Cbrt(3 * 16 / (4 * math.Pi))
	if !near(cube.Feature(spot.Radius), wantRadius) {
		t.Errorf("cube radius = %v, want %v", cube.Feature(spot.Radius), wantRadius)
	}
	if cube.Contour != nil {
		t.Error("3D spots carry no 2D contour")
	}
	// Labels of one frame come out in ascending order.
	if spots[1].FrameIndex() != 1 || spots[1].Feature(spot.PositionX) != 4 {
		t.Errorf("second spot = %s", spots[1])
	}
	if spots[2].FrameIndex() != 1 || spots[2].Feature(spot.PositionX) != 0 {
		t.Errorf("third spot = %s", spots[2])
	}
}

func TestToSpots_RejectsChannelAxis(t *testing.T) {
	mask, _ := image.New("masks", []image.AxisType{image.X, image.Y, image.Channel}, []int64{2, 2, 2}, nil)
	if _, err := ToSpots(mask, Options{}); err == nil {
		t.Error("ToSpots() should reject a channel axis")
	}
}

func TestToSpots_EmptyMask(t *testing.T) {
	mask, _ := image.New("masks", []image.AxisType{image.X, image.Y}, []int64{4, 4}, nil)
	spots, err := ToSpots(mask, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(spots) != 0 {
		t.Errorf("got %d spots from an empty mask", len(spots))
	}
	if got := Describe(spots); got != "0 spots in 0 frames" {
		t.Errorf("Describe() = %q", got)
	}
}
