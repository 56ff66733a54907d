package image

import (
	"fmt"

	"github.com/Iron-Ham/spotbridge/internal/errors"
)

// Interval is an axis-aligned box, bounds inclusive.
type Interval struct {
	Min []int64
	Max []int64
}

// NewInterval builds an interval from its bounds.
func NewInterval(min, max []int64) (Interval, error) {
	if len(min) != len(max) {
		return Interval{}, errors.NewInputError(fmt.Sprintf("interval bounds have %d and %d dimensions", len(min), len(max))).WithInput("interval")
	}
	for d := range min {
		if max[d] < min[d] {
			return Interval{}, errors.NewInputError(fmt.Sprintf("interval dimension %d is empty: [%d, %d]", d, min[d], max[d])).WithInput("interval")
		}
	}
	return Interval{Min: append([]int64(nil), min...), Max: append([]int64(nil), max...)}, nil
}

// FullInterval spans every pixel of img.
func FullInterval(img *Image) Interval {
	iv := Interval{Min: make([]int64, img.NumDimensions()), Max: make([]int64, img.NumDimensions())}
	for d, n := range img.Dims {
		iv.Max[d] = n - 1
	}
	return iv
}

// NumDimensions returns the number of axes.
func (iv Interval) NumDimensions() int { return len(iv.Min) }

// Dimension returns the number of pixels along d.
func (iv Interval) Dimension(d int) int64 { return iv.Max[d] - iv.Min[d] + 1 }

// Dims returns the size along every axis.
func (iv Interval) Dims() []int64 {
	dims := make([]int64, len(iv.Min))
	for d := range dims {
		dims[d] = iv.Dimension(d)
	}
	return dims
}

// Size returns the number of pixels.
func (iv Interval) Size() int64 {
	n := int64(1)
	for d := range iv.Min {
		n *= iv.Dimension(d)
	}
	return n
}

// String implements fmt.Stringer.
func (iv Interval) String() string {
	return fmt.Sprintf("%v-%v", iv.Min, iv.Max)
}

// WithoutAxis drops dimension d, producing the interval form callers use
// when the channel axis is implied.
func (iv Interval) WithoutAxis(d int) Interval {
	out := Interval{}
	for i := range iv.Min {
		if i == d {
			continue
		}
		out.Min = append(out.Min, iv.Min[i])
		out.Max = append(out.Max, iv.Max[i])
	}
	return out
}

// GrowToChannels returns an interval over img spanning every channel.
// The given interval either has one dimension per image axis, or omits the
// channel axis; other axes are left untouched. Without a channel axis the
// interval is returned as-is.
func GrowToChannels(img *Image, iv Interval) (Interval, error) {
	n := img.NumDimensions()
	c := img.DimensionIndex(Channel)
	if c < 0 {
		if iv.NumDimensions() != n {
			return Interval{}, dimensionMismatch(iv, n)
		}
		return iv, nil
	}

	var skip int
	switch iv.NumDimensions() {
	case n:
		skip = 0
	case n - 1:
		skip = 1
	default:
		return Interval{}, dimensionMismatch(iv, n)
	}

	out := Interval{Min: make([]int64, n), Max: make([]int64, n)}
	for d := 0; d < c; d++ {
		out.Min[d], out.Max[d] = iv.Min[d], iv.Max[d]
	}
	out.Min[c], out.Max[c] = 0, img.Dims[c]-1
	for d := c + 1; d < n; d++ {
		out.Min[d], out.Max[d] = iv.Min[d-skip], iv.Max[d-skip]
	}
	return out, nil
}

func dimensionMismatch(iv Interval, n int) error {
	return errors.NewInputError(fmt.Sprintf("interval has %d dimensions, image has %d", iv.NumDimensions(), n)).WithInput("interval")
}

// Contains reports whether iv lies inside img.
func Contains(img *Image, iv Interval) bool {
	if iv.NumDimensions() != img.NumDimensions() {
		return false
	}
	for d := range iv.Min {
		if iv.Min[d] < 0 || iv.Max[d] >= img.Dims[d] || iv.Max[d] < iv.Min[d] {
			return false
		}
	}
	return true
}

// ForEach visits every position of iv with the first axis varying
// fastest. pos is reused between calls.
func (iv Interval) ForEach(fn func(pos []int64)) {
	n := iv.NumDimensions()
	if n == 0 {
		return
	}
	pos := append([]int64(nil), iv.Min...)
	for {
		fn(pos)
		d := 0
		for ; d < n; d++ {
			pos[d]++
			if pos[d] <= iv.Max[d] {
				break
			}
			pos[d] = iv.Min[d]
		}
		if d == n {
			return
		}
	}
}
