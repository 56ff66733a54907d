// Package reconcile maps spots detected in a cropped region back into the
// coordinate space of the source image.
package reconcile

import (
	"github.com/Iron-Ham/spotbridge/internal/image"
	"github.com/Iron-Ham/spotbridge/internal/spot"
)

// Context describes the crop a set of spots was detected in.
type Context struct {
	// Interval is the processed region of the source image.
	Interval image.Interval
	// Calibration is the X, Y, Z pixel size of the source image.
	Calibration [3]float64
	// SpatialAxes gives, for X, Y and Z, the interval dimension holding
	// that axis, or -1.
	SpatialAxes [3]int
	// MinT is the first processed frame.
	MinT int64
	// FrameInterval is the time between two frames.
	FrameInterval float64
}

// NewContext builds the context of a run over iv, an interval of img
// spanning all of img's axes.
func NewContext(img *image.Image, iv image.Interval) Context {
	ctx := Context{
		Interval:      iv,
		Calibration:   img.SpatialCalibration(),
		SpatialAxes:   [3]int{-1, -1, -1},
		FrameInterval: img.FrameInterval(),
	}
	for i, a := range []image.AxisType{image.X, image.Y, image.Z} {
		ctx.SpatialAxes[i] = img.DimensionIndex(a)
	}
	if td := img.DimensionIndex(image.Time); td >= 0 {
		ctx.MinT = iv.Min[td]
	}
	return ctx
}

// Offset returns the physical position of the interval origin.
func (c Context) Offset() [3]float64 {
	var off [3]float64
	for i, d := range c.SpatialAxes {
		if d < 0 || d >= c.Interval.NumDimensions() {
			continue
		}
		off[i] = float64(c.Interval.Min[d]) * c.Calibration[i]
	}
	return off
}

// Apply shifts every spot by the interval origin and moves it to its
// absolute frame, setting POSITION_T from the frame interval. Spot count,
// bounds and contours are left untouched. The spots are returned as a
// collection keyed by absolute frame.
func Apply(spots []*spot.Spot, c Context) *spot.Collection {
	off := c.Offset()
	out := spot.NewCollection()
	for _, s := range spots {
		for i, key := range spot.PositionFeatures {
			s.Put(key, s.Feature(key)+off[i])
		}
		frame := s.FrameIndex() + int(c.MinT)
		s.Put(spot.PositionT, float64(frame)*c.FrameInterval)
		out.Add(s, frame)
	}
	return out
}
