// Package spot holds detected objects and the frame-indexed collection
// handed back to callers of the engine.
package spot

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Feature keys.
const (
	PositionX = "POSITION_X"
	PositionY = "POSITION_Y"
	PositionZ = "POSITION_Z"
	PositionT = "POSITION_T"
	Frame     = "FRAME"
	Radius    = "RADIUS"
	Quality   = "QUALITY"
)

// PositionFeatures are the spatial position keys, in X, Y, Z order.
var PositionFeatures = [3]string{PositionX, PositionY, PositionZ}

var nextID atomic.Int64

// Point is a 2D offset relative to the spot position.
type Point struct {
	X, Y float64
}

// Bounds is the extent of a spot relative to its position, in physical
// units.
type Bounds struct {
	Min [3]float64
	Max [3]float64
}

// Spot is one detected object.
type Spot struct {
	ID       int64
	Features map[string]float64
	Bounds   Bounds
	// Contour is the outline of a 2D spot, relative to its position.
	Contour []Point
}

// New creates a spot at (x, y, z).
func New(x, y, z, radius, quality float64) *Spot {
	return &Spot{
		ID: nextID.Add(1),
		Features: map[string]float64{
			PositionX: x,
			PositionY: y,
			PositionZ: z,
			Radius:    radius,
			Quality:   quality,
			Frame:     0,
			PositionT: 0,
		},
	}
}

// Feature returns the value of key, or 0.
func (s *Spot) Feature(key string) float64 { return s.Features[key] }

// Put sets feature key.
func (s *Spot) Put(key string, v float64) { s.Features[key] = v }

// Position returns the X, Y and Z position.
func (s *Spot) Position() [3]float64 {
	return [3]float64{s.Features[PositionX], s.Features[PositionY], s.Features[PositionZ]}
}

// FrameIndex returns the frame the spot belongs to.
func (s *Spot) FrameIndex() int { return int(s.Features[Frame]) }

// String implements fmt.Stringer.
func (s *Spot) String() string {
	p := s.Position()
	return fmt.Sprintf("spot %d (%.3g, %.3g, %.3g) t=%d", s.ID, p[0], p[1], p[2], s.FrameIndex())
}

// Collection stores spots by frame.
type Collection struct {
	frames map[int][]*Spot
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{frames: make(map[int][]*Spot)}
}

// FromSlice groups spots by their FRAME feature.
func FromSlice(spots []*Spot) *Collection {
	c := NewCollection()
	for _, s := range spots {
		c.Add(s, s.FrameIndex())
	}
	return c
}

// Add stores s in frame, updating its FRAME feature.
func (c *Collection) Add(s *Spot, frame int) {
	s.Put(Frame, float64(frame))
	c.frames[frame] = append(c.frames[frame], s)
}

// Frames returns the frames holding at least one spot, ascending.
func (c *Collection) Frames() []int {
	frames := make([]int, 0, len(c.frames))
	for f, spots := range c.frames {
		if len(spots) > 0 {
			frames = append(frames, f)
		}
	}
	sort.Ints(frames)
	return frames
}

// InFrame returns the spots of frame.
func (c *Collection) InFrame(frame int) []*Spot {
	return append([]*Spot(nil), c.frames[frame]...)
}

// Count returns the total number of spots.
func (c *Collection) Count() int {
	n := 0
	for _, spots := range c.frames {
		n += len(spots)
	}
	return n
}

// All returns every spot ordered by frame, then insertion.
func (c *Collection) All() []*Spot {
	out := make([]*Spot, 0, c.Count())
	for _, f := range c.Frames() {
		out = append(out, c.frames[f]...)
	}
	return out
}
