package image

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/ndarray"
)

// ReadRaw reads a little-endian raw pixel stream, first axis fastest, into
// a new image.
func ReadRaw(r io.Reader, name string, dtype ndarray.DType, axes []AxisType, dims []int64, calibration []float64) (*Image, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, errors.NewValidationError("unsupported pixel type").WithField("dtype").WithValue(string(dtype))
	}
	img, err := New(name, axes, dims, calibration)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(r)
	buf := make([]byte, size)
	for i := range img.Data {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, errors.NewInputError(fmt.Sprintf("pixel data ends after %d of %d pixels: %v", i, len(img.Data), err)).WithInput("image")
		}
		img.Data[i] = decodePixel(dtype, buf)
	}
	return img, nil
}

func decodePixel(dtype ndarray.DType, b []byte) float32 {
	le := binary.LittleEndian
	switch dtype {
	case ndarray.Uint8:
		return float32(b[0])
	case ndarray.Uint16:
		return float32(le.Uint16(b))
	case ndarray.Int32:
		return float32(int32(le.Uint32(b)))
	case ndarray.Uint32:
		return float32(le.Uint32(b))
	case ndarray.Float32:
		return math.Float32frombits(le.Uint32(b))
	default:
		return float32(math.Float64frombits(le.Uint64(b)))
	}
}

// ParseAxes converts a compact axis string such as "XYCT" to axis types.
func ParseAxes(s string) ([]AxisType, error) {
	axes := make([]AxisType, 0, len(s))
	for _, r := range s {
		a, err := ParseAxis(string(r))
		if err != nil {
			return nil, err
		}
		axes = append(axes, a)
	}
	return axes, nil
}
