// Package tools defines the external detectors spotbridge can run: their
// arguments, script templates and environment manifests.
package tools

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/Iron-Ham/spotbridge/internal/configurator"
	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/image"
)

//go:embed templates
var templates embed.FS

func mustTemplate(name string) string {
	data, err := templates.ReadFile("templates/" + name)
	if err != nil {
		panic(fmt.Sprintf("tools: missing embedded template %s: %v", name, err))
	}
	return string(data)
}

// Shape is what a tool needs to know about the image it will process.
type Shape struct {
	Channels   int
	Units      string
	PixelSize  float64
	PixelDepth float64
}

// ShapeOf describes img. units names the calibration unit.
func ShapeOf(img *image.Image, units string) Shape {
	cal := img.SpatialCalibration()
	return Shape{
		Channels:   int(img.Dimension(image.Channel)),
		Units:      units,
		PixelSize:  cal[0],
		PixelDepth: cal[2],
	}
}

func (s Shape) pixelSize() float64 {
	if s.PixelSize <= 0 {
		return 1
	}
	return s.PixelSize
}

func (s Shape) pixelDepth() float64 {
	if s.PixelDepth <= 0 {
		return 1
	}
	return s.PixelDepth
}

// Factory builds a configurator for a shape.
type Factory func(Shape) *configurator.Configurator

var registry = map[string]Factory{
	strings.ToLower(CellposeName): NewCellpose,
	strings.ToLower(StarDistName): NewStarDist,
}

// Names returns the registered tool names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup builds the configurator of the named tool. Names are case
// insensitive.
func Lookup(name string, shape Shape) (*configurator.Configurator, error) {
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, errors.NewNotFoundError("tool", name)
	}
	return f(shape), nil
}

// NewCustom builds a configurator around a user-provided script and
// manifest. It exposes the common arguments: target channel, object
// diameter, simplify contour and smoothing scale.
func NewCustom(name, template, envSpec string, shape Shape) *configurator.Configurator {
	c := configurator.New(name, template, envSpec)
	addTargetChannel(c, shape.Channels)
	addDiameter(c, shape.Units)
	addSimplifyContour(c)
	addSmoothingScale(c, shape.Units)
	return c
}

// Settings decodes the current settings of c into out, a pointer to a
// struct with mapstructure tags such as CellposeSettings.
func Settings(c *configurator.Configurator, out any) error {
	return configurator.Decode(c.ToSettingsMap(), out)
}

// ContourOptions returns the contour settings of c, falling back to the
// given defaults for arguments c does not declare.
func ContourOptions(c *configurator.Configurator, simplify bool, smoothing float64) (bool, float64) {
	if a, ok := c.Argument(KeySimplifyContour); ok {
		simplify = a.Bool()
	}
	if a, ok := c.Argument(KeySmoothingScale); ok {
		smoothing = a.Double()
	}
	return simplify, smoothing
}
