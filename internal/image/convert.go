package image

import (
	"fmt"

	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/ndarray"
	"github.com/Iron-Ham/spotbridge/internal/shm"
)

// CopyToNDArray copies the pixels of img inside iv into a float32 array
// allocated in arena. The array shape lists the interval dimensions in
// reverse axis order.
func CopyToNDArray(img *Image, iv Interval, arena *shm.Arena) (*ndarray.NDArray, error) {
	if !Contains(img, iv) {
		return nil, errors.NewInputError(fmt.Sprintf("interval %s is outside the image", iv)).WithInput("interval")
	}
	dims := iv.Dims()
	shape := make([]int64, len(dims))
	for d := range dims {
		shape[len(dims)-1-d] = dims[d]
	}
	arr, err := ndarray.New(arena, ndarray.Float32, shape)
	if err != nil {
		return nil, err
	}
	i := 0
	iv.ForEach(func(pos []int64) {
		arr.SetAt(i, float64(img.Data[img.Index(pos)]))
		i++
	})
	return arr, nil
}

// FromNDArray reads an array returned by the worker as an image with the
// given axes, fastest first. The array shape must be the reverse of dims
// once singleton axes are dropped. Integer labels must fit the float32
// raster exactly.
func FromNDArray(name string, arr *ndarray.NDArray, axes []AxisType, dims []int64, calibration []float64) (*Image, error) {
	img, err := New(name, axes, dims, calibration)
	if err != nil {
		return nil, err
	}
	if int64(arr.Len()) != int64(len(img.Data)) {
		return nil, errors.NewInputError(fmt.Sprintf("array of shape %v does not fit dimensions %v", arr.Shape, dims)).WithInput("masks")
	}
	if !sameNonSingleton(arr.Shape, dims) {
		return nil, errors.NewInputError(fmt.Sprintf("array of shape %v does not match dimensions %v", arr.Shape, dims)).WithInput("masks")
	}
	exact := arr.DType == ndarray.Int32 || arr.DType == ndarray.Uint32
	for i := range img.Data {
		v := arr.At(i)
		img.Data[i] = float32(v)
		if exact && float64(img.Data[i]) != v {
			return nil, errors.NewInputError(fmt.Sprintf("label %v cannot be stored without merging it with its neighbours", v)).WithInput("masks")
		}
	}
	return img, nil
}

func sameNonSingleton(shape, dims []int64) bool {
	var a, b []int64
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] != 1 {
			a = append(a, shape[i])
		}
	}
	for _, d := range dims {
		if d != 1 {
			b = append(b, d)
		}
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
