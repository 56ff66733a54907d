// Package image holds the in-memory source image handed to the engine,
// the axis-aligned intervals cropped from it and the conversions to and
// from the shared-memory arrays read by the worker.
//
// Pixels are stored with the first axis varying fastest. Arrays shipped to
// the worker list their shape in reverse axis order, so the same bytes read
// as a C-ordered array on the remote side.
package image

import (
	"fmt"
	"math"

	"github.com/Iron-Ham/spotbridge/internal/errors"
)

// AxisType is the semantic label of an image axis.
type AxisType string

const (
	X       AxisType = "X"
	Y       AxisType = "Y"
	Z       AxisType = "Z"
	Channel AxisType = "Channel"
	Time    AxisType = "Time"
)

// IsSpatial reports whether a is X, Y or Z.
func (a AxisType) IsSpatial() bool {
	return a == X || a == Y || a == Z
}

// ParseAxis converts a label, as found in settings files, to an AxisType.
func ParseAxis(s string) (AxisType, error) {
	switch AxisType(s) {
	case X, Y, Z, Channel, Time:
		return AxisType(s), nil
	}
	switch s {
	case "x":
		return X, nil
	case "y":
		return Y, nil
	case "z":
		return Z, nil
	case "c", "C":
		return Channel, nil
	case "t", "T":
		return Time, nil
	}
	return "", errors.NewValidationError("unknown axis").WithField("axis").WithValue(s)
}

// Image is a calibrated n-dimensional image.
type Image struct {
	Name        string
	Axes        []AxisType
	Dims        []int64
	Calibration []float64
	Data        []float32
}

// New allocates a zero-filled image. A nil calibration defaults to 1 on
// every axis.
func New(name string, axes []AxisType, dims []int64, calibration []float64) (*Image, error) {
	if calibration == nil {
		calibration = make([]float64, len(dims))
		for i := range calibration {
			calibration[i] = 1
		}
	}
	n, err := checkShape(axes, dims, calibration)
	if err != nil {
		return nil, err
	}
	return &Image{
		Name:        name,
		Axes:        append([]AxisType(nil), axes...),
		Dims:        append([]int64(nil), dims...),
		Calibration: append([]float64(nil), calibration...),
		Data:        make([]float32, n),
	}, nil
}

func checkShape(axes []AxisType, dims []int64, calibration []float64) (int64, error) {
	if len(axes) == 0 || len(axes) != len(dims) {
		return 0, errors.NewInputError(fmt.Sprintf("got %d axes for %d dimensions", len(axes), len(dims))).WithInput("image")
	}
	if len(calibration) != len(dims) {
		return 0, errors.NewInputError(fmt.Sprintf("got %d calibration values for %d dimensions", len(calibration), len(dims))).WithInput("image")
	}
	seen := make(map[AxisType]bool, len(axes))
	n := int64(1)
	for d, a := range axes {
		if seen[a] {
			return 0, errors.NewInputError(fmt.Sprintf("duplicate axis %s", a)).WithInput("image")
		}
		seen[a] = true
		if dims[d] <= 0 {
			return 0, errors.NewInputError(fmt.Sprintf("dimension %d has size %d", d, dims[d])).WithInput("image")
		}
		if c := calibration[d]; a.IsSpatial() && (c <= 0 || math.IsInf(c, 0) || math.IsNaN(c)) {
			return 0, errors.NewInputError(fmt.Sprintf("axis %s has calibration %v, want a positive value", a, c)).WithInput("image")
		}
		n *= dims[d]
	}
	return n, nil
}

// NumDimensions returns the number of axes.
func (img *Image) NumDimensions() int { return len(img.Dims) }

// DimensionIndex returns the index of axis a, or -1.
func (img *Image) DimensionIndex(a AxisType) int {
	for d, axis := range img.Axes {
		if axis == a {
			return d
		}
	}
	return -1
}

// Dimension returns the size along axis a, or 1 when absent.
func (img *Image) Dimension(a AxisType) int64 {
	if d := img.DimensionIndex(a); d >= 0 {
		return img.Dims[d]
	}
	return 1
}

// Index returns the flat offset of pos.
func (img *Image) Index(pos []int64) int {
	idx, stride := int64(0), int64(1)
	for d := range img.Dims {
		idx += pos[d] * stride
		stride *= img.Dims[d]
	}
	return int(idx)
}

// At returns the pixel value at pos.
func (img *Image) At(pos ...int64) float32 { return img.Data[img.Index(pos)] }

// Set stores v at pos.
func (img *Image) Set(v float32, pos ...int64) { img.Data[img.Index(pos)] = v }

// SpatialCalibration returns the X, Y and Z pixel sizes. Missing axes
// have size 1.
func (img *Image) SpatialCalibration() [3]float64 {
	cal := [3]float64{1, 1, 1}
	for i, a := range []AxisType{X, Y, Z} {
		if d := img.DimensionIndex(a); d >= 0 {
			cal[i] = img.Calibration[d]
		}
	}
	return cal
}

// FrameInterval returns the time between frames, or 1 without a time axis.
func (img *Image) FrameInterval() float64 {
	if d := img.DimensionIndex(Time); d >= 0 {
		return img.Calibration[d]
	}
	return 1
}

// Validate checks the internal consistency of img.
func (img *Image) Validate() error {
	if img == nil {
		return errors.NewInputError("Image is null.").WithInput("image")
	}
	n, err := checkShape(img.Axes, img.Dims, img.Calibration)
	if err != nil {
		return err
	}
	if int64(len(img.Data)) != n {
		return errors.NewInputError(fmt.Sprintf("image holds %d pixels, dimensions need %d", len(img.Data), n)).WithInput("image")
	}
	return nil
}

// AxesOrder maps every axis label to its position in the reversed order
// used by the shared-memory array.
func AxesOrder(img *Image) map[string]int {
	n := img.NumDimensions()
	order := make(map[string]int, n)
	for d, a := range img.Axes {
		order[string(a)] = n - d - 1
	}
	return order
}
