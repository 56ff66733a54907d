// Package labels converts a label raster into spots.
//
// Every non-zero label value of a frame becomes one spot. Positions are
// expressed in the physical coordinates of the raster itself; callers that
// cropped the raster out of a larger image shift them afterwards (see
// package reconcile).
package labels

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/image"
	"github.com/Iron-Ham/spotbridge/internal/spot"
)

// Options tune the outline of 2D spots.
type Options struct {
	// SimplifyContour replaces the outline by its convex hull.
	SimplifyContour bool
	// SmoothingScale is the physical length over which the outline is
	// smoothed. 0 disables smoothing.
	SmoothingScale float64
}

type region struct {
	xs, ys, zs []float64
}

func (r *region) add(x, y, z int64) {
	r.xs = append(r.xs, float64(x))
	r.ys = append(r.ys, float64(y))
	r.zs = append(r.zs, float64(z))
}

// ToSpots converts mask into spots. The mask must not have a channel axis;
// its time axis, if any, gives the local frame index of each spot.
func ToSpots(mask *image.Image, opts Options) ([]*spot.Spot, error) {
	if err := mask.Validate(); err != nil {
		return nil, err
	}
	if mask.DimensionIndex(image.Channel) >= 0 {
		return nil, errors.NewInputError("label image has a channel axis").WithInput("masks")
	}
	xd, yd := mask.DimensionIndex(image.X), mask.DimensionIndex(image.Y)
	if xd < 0 || yd < 0 {
		return nil, errors.NewInputError("label image needs X and Y axes").WithInput("masks")
	}
	zd, td := mask.DimensionIndex(image.Z), mask.DimensionIndex(image.Time)
	is3D := zd >= 0 && mask.Dims[zd] > 1
	cal := mask.SpatialCalibration()

	nFrames := mask.Dimension(image.Time)
	var out []*spot.Spot
	for t := int64(0); t < nFrames; t++ {
		regions := make(map[int64]*region)
		frame := image.FullInterval(mask)
		if td >= 0 {
			frame.Min[td], frame.Max[td] = t, t
		}
		frame.ForEach(func(pos []int64) {
			label := int64(mask.Data[mask.Index(pos)])
			if label <= 0 {
				return
			}
			r, ok := regions[label]
			if !ok {
				r = &region{}
				regions[label] = r
			}
			var z int64
			if zd >= 0 {
				z = pos[zd]
			}
			r.add(pos[xd], pos[yd], z)
		})

		ids := make([]int64, 0, len(regions))
		for id := range regions {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			s := toSpot(regions[id], cal, is3D)
			s.Put(spot.Frame, float64(t))
			if !is3D {
				s.Contour = contour(mask, pos2D{xd, yd, zd, td}, id, t, regions[id], cal, opts)
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func toSpot(r *region, cal [3]float64, is3D bool) *spot.Spot {
	size := float64(len(r.xs))
	mean := [3]float64{stat.Mean(r.xs, nil), stat.Mean(r.ys, nil), stat.Mean(r.zs, nil)}

	volume := size * cal[0] * cal[1]
	var radius float64
	if is3D {
		volume *= cal[2]
		radius = math.Cbrt(3 * volume / (4 * math.Pi))
	} else {
		radius = math.Sqrt(volume / math.Pi)
	}

	s := spot.New(mean[0]*cal[0], mean[1]*cal[1], mean[2]*cal[2], radius, size)
	for d, coords := range [][]float64{r.xs, r.ys, r.zs} {
		s.Bounds.Min[d] = (floats.Min(coords) - 0.5 - mean[d]) * cal[d]
		s.Bounds.Max[d] = (floats.Max(coords) + 0.5 - mean[d]) * cal[d]
	}
	return s
}

type pos2D struct {
	x, y, z, t int
}

// contour returns the outline of a 2D region relative to its centroid:
// the centres of its edge pixels ordered by angle.
func contour(mask *image.Image, axes pos2D, label, t int64, r *region, cal [3]float64, opts Options) []spot.Point {
	cx, cy := stat.Mean(r.xs, nil), stat.Mean(r.ys, nil)
	pos := make([]int64, mask.NumDimensions())
	if axes.t >= 0 {
		pos[axes.t] = t
	}
	at := func(x, y int64) int64 {
		if x < 0 || y < 0 || x >= mask.Dims[axes.x] || y >= mask.Dims[axes.y] {
			return 0
		}
		pos[axes.x], pos[axes.y] = x, y
		return int64(mask.Data[mask.Index(pos)])
	}

	var pts []spot.Point
	for i := range r.xs {
		x, y := int64(r.xs[i]), int64(r.ys[i])
		if at(x-1, y) != label || at(x+1, y) != label || at(x, y-1) != label || at(x, y+1) != label {
			pts = append(pts, spot.Point{X: (float64(x) - cx) * cal[0], Y: (float64(y) - cy) * cal[1]})
		}
	}
	if opts.SimplifyContour {
		return convexHull(pts)
	}
	sort.SliceStable(pts, func(i, j int) bool {
		return math.Atan2(pts[i].Y, pts[i].X) < math.Atan2(pts[j].Y, pts[j].X)
	})
	if opts.SmoothingScale > 0 {
		pts = smooth(pts, int(math.Round(opts.SmoothingScale/cal[0])))
	}
	return pts
}

// convexHull returns the hull of pts counter-clockwise (monotone chain).
func convexHull(pts []spot.Point) []spot.Point {
	if len(pts) < 3 {
		return pts
	}
	p := append([]spot.Point(nil), pts...)
	sort.Slice(p, func(i, j int) bool {
		if p[i].X != p[j].X {
			return p[i].X < p[j].X
		}
		return p[i].Y < p[j].Y
	})
	cross := func(o, a, b spot.Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	hull := make([]spot.Point, 0, 2*len(p))
	for _, pt := range p {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	lower := len(hull) + 1
	for i := len(p) - 2; i >= 0; i-- {
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p[i]) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p[i])
	}
	return hull[:len(hull)-1]
}

// smooth applies a circular moving average of half-width w.
func smooth(pts []spot.Point, w int) []spot.Point {
	n := len(pts)
	if w <= 0 || n < 3 {
		return pts
	}
	w = min(w, (n-1)/2)
	out := make([]spot.Point, n)
	xs := make([]float64, 2*w+1)
	ys := make([]float64, 2*w+1)
	for i := range pts {
		for k := -w; k <= w; k++ {
			p := pts[((i+k)%n+n)%n]
			xs[k+w], ys[k+w] = p.X, p.Y
		}
		out[i] = spot.Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}
	}
	return out
}

// Describe summarizes spots per frame, for logs.
func Describe(spots []*spot.Spot) string {
	perFrame := make(map[int]int)
	for _, s := range spots {
		perFrame[s.FrameIndex()]++
	}
	return fmt.Sprintf("%d spots in %d frames", len(spots), len(perFrame))
}
