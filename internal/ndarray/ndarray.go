// Package ndarray describes typed n-dimensional arrays living in shared
// memory, and their JSON form on the worker protocol.
package ndarray

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Iron-Ham/spotbridge/internal/shm"
)

// DType is the element type, named as numpy names it.
type DType string

const (
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Int32   DType = "int32"
	Uint32  DType = "uint32"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Size returns the element size in bytes, or 0 for unknown types.
func (d DType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// NDArray is a C-ordered array backed by a shared-memory segment.
type NDArray struct {
	DType   DType
	Shape   []int64
	segment *shm.Segment
}

// NumElements returns the product of the shape.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, s := range shape {
		n *= s
	}
	return n
}

// New allocates an array in arena.
func New(arena *shm.Arena, dtype DType, shape []int64) (*NDArray, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("ndarray: unsupported dtype %q", dtype)
	}
	n := NumElements(shape)
	if n <= 0 {
		return nil, fmt.Errorf("ndarray: empty shape %v", shape)
	}
	seg, err := arena.Create(int(n) * dtype.Size())
	if err != nil {
		return nil, err
	}
	return &NDArray{DType: dtype, Shape: append([]int64(nil), shape...), segment: seg}, nil
}

// Segment returns the backing segment.
func (a *NDArray) Segment() *shm.Segment { return a.segment }

// Len returns the number of elements.
func (a *NDArray) Len() int { return int(NumElements(a.Shape)) }

// At returns element i, converted to float64.
func (a *NDArray) At(i int) float64 {
	b := a.segment.Bytes()
	switch a.DType {
	case Uint8:
		return float64(b[i])
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b[2*i:]))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b[4*i:])))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b[4*i:]))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	default:
		return 0
	}
}

// SetAt stores v at element i, converting to the array's dtype.
func (a *NDArray) SetAt(i int, v float64) {
	b := a.segment.Bytes()
	switch a.DType {
	case Uint8:
		b[i] = uint8(v)
	case Uint16:
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	case Int32:
		binary.LittleEndian.PutUint32(b[4*i:], uint32(int32(v)))
	case Uint32:
		binary.LittleEndian.PutUint32(b[4*i:], uint32(v))
	case Float32:
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
}

// Wire is the protocol form of an array.
type Wire struct {
	Type  string  `json:"appose_type"`
	DType DType   `json:"dtype"`
	Shape []int64 `json:"shape"`
	Shm   WireShm `json:"shm"`
}

// WireShm is the protocol form of a shared-memory segment.
type WireShm struct {
	Type  string `json:"appose_type"`
	Name  string `json:"name"`
	RSize int    `json:"rsize"`
}

const (
	wireNDArray = "ndarray"
	wireShm     = "shm"
)

// Wire returns the protocol form of a.
func (a *NDArray) Wire() Wire {
	return Wire{
		Type:  wireNDArray,
		DType: a.DType,
		Shape: a.Shape,
		Shm:   WireShm{Type: wireShm, Name: a.segment.Name(), RSize: a.segment.Size()},
	}
}

// MarshalJSON encodes a in its protocol form.
func (a *NDArray) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Wire())
}

// IsWire reports whether a decoded JSON value is an array in protocol form.
func IsWire(v any) bool {
	m, ok := v.(map[string]any)
	return ok && m["appose_type"] == wireNDArray
}

// DecodeWire converts a decoded JSON value into a Wire.
func DecodeWire(v any) (Wire, error) {
	var w Wire
	raw, err := json.Marshal(v)
	if err != nil {
		return w, fmt.Errorf("ndarray: %w", err)
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return w, fmt.Errorf("ndarray: %w", err)
	}
	if w.Type != wireNDArray {
		return w, fmt.Errorf("ndarray: value is a %q, not an ndarray", w.Type)
	}
	return w, nil
}

// Open maps the array described by w into arena.
func Open(arena *shm.Arena, w Wire) (*NDArray, error) {
	if w.DType.Size() == 0 {
		return nil, fmt.Errorf("ndarray: unsupported dtype %q", w.DType)
	}
	need := int(NumElements(w.Shape)) * w.DType.Size()
	seg, err := arena.Open(w.Shm.Name, w.Shm.RSize)
	if err != nil {
		return nil, err
	}
	if seg.Size() < need {
		return nil, fmt.Errorf("ndarray: segment %s holds %d bytes, shape %v needs %d", seg.Name(), seg.Size(), w.Shape, need)
	}
	return &NDArray{DType: w.DType, Shape: append([]int64(nil), w.Shape...), segment: seg}, nil
}
