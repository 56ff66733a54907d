package image

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/Iron-Ham/spotbridge/internal/ndarray"
)

func TestReadRaw(t *testing.T) {
	tests := []struct {
		name  string
		dtype ndarray.DType
		write any
	}{
		{"uint8", ndarray.Uint8, []uint8{0, 1, 2, 3, 4, 5}},
		{"uint16", ndarray.Uint16, []uint16{0, 1, 2, 3, 4, 5}},
		{"int32", ndarray.Int32, []int32{0, 1, 2, 3, 4, 5}},
		{"float32", ndarray.Float32, []float32{0, 1, 2, 3, 4, 5}},
		{"float64", ndarray.Float64, []float64{0, 1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := binary.Write(&buf, binary.LittleEndian, tt.write); err != nil {
				t.Fatal(err)
			}
			img, err := ReadRaw(&buf, "raw", tt.dtype, []AxisType{X, Y}, []int64{3, 2}, nil)
			if err != nil {
				t.Fatalf("ReadRaw() error = %v", err)
			}
			if got := img.At(2, 1); got != 5 {
				t.Errorf("At(2, 1) = %v, want 5", got)
			}
			if got := img.At(1, 0); got != 1 {
				t.Errorf("At(1, 0) = %v, want 1", got)
			}
		})
	}
}

func TestReadRaw_Errors(t *testing.T) {
	if _, err := ReadRaw(bytes.NewReader(make([]byte, 5)), "raw", ndarray.Uint8, []AxisType{X, Y}, []int64{3, 2}, nil); err == nil {
		t.Error("short stream should fail")
	}
	if _, err := ReadRaw(bytes.NewReader(nil), "raw", ndarray.DType("complex64"), []AxisType{X}, []int64{1}, nil); err == nil {
		t.Error("unknown dtype should fail")
	}
}

func TestParseAxes(t *testing.T) {
	axes, err := ParseAxes("XYCT")
	if err != nil {
		t.Fatal(err)
	}
	want := []AxisType{X, Y, Channel, Time}
	for i := range want {
		if axes[i] != want[i] {
			t.Errorf("axis %d = %s, want %s", i, axes[i], want[i])
		}
	}
	if _, err := ParseAxes("XQ"); err == nil {
		t.Error("ParseAxes(XQ) should fail")
	}
}
