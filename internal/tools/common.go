package tools

import (
	"github.com/Iron-Ham/spotbridge/internal/argument"
	"github.com/Iron-Ham/spotbridge/internal/configurator"
)

// Keys shared by several tools.
const (
	KeyTargetChannel   = "TARGET_CHANNEL"
	KeySimplifyContour = "SIMPLIFY_CONTOURS"
	KeySmoothingScale  = "SMOOTHING_SCALE"
	KeyRadius          = "RADIUS"
	// KeyPretrainedOrCustom selects between a pretrained model and a model
	// file.
	KeyPretrainedOrCustom = "PRETRAINED_OR_CUSTOM"
)

// Defaults shared by several tools.
const (
	DefaultTargetChannel = 1
	DefaultRadius        = 5.0
)

// addTargetChannel adds the 1-based channel to process.
func addTargetChannel(c *configurator.Configurator, nChannels int) *argument.Argument {
	return c.AddInt(argument.Spec{
		Key:     KeyTargetChannel,
		Name:    "Target channel",
		Help:    "Index of the channel to process.",
		Default: DefaultTargetChannel,
		Min:     argument.Bound(1),
		Max:     argument.Bound(float64(max(nChannels, 1))),
	})
}

// addSimplifyContour adds the flag replacing 2D outlines by their convex
// hull. It is consumed when masks are converted, not by the script.
func addSimplifyContour(c *configurator.Configurator) *argument.Argument {
	return c.AddFlag(argument.Spec{
		Key:      KeySimplifyContour,
		Name:     "Simplify contour",
		Help:     "If true contours will be simplified with fewer control points.",
		Default:  true,
		NoScript: true,
	})
}

// addSmoothingScale adds the physical length 2D outlines are smoothed
// over. 0 disables smoothing.
func addSmoothingScale(c *configurator.Configurator, units string) *argument.Argument {
	return c.AddDouble(argument.Spec{
		Key:      KeySmoothingScale,
		Name:     "Smoothing scale",
		Help:     "Scale over which contours are smoothed. 0 disables smoothing.",
		Units:    units,
		Default:  0.0,
		Min:      argument.Bound(0),
		NoScript: true,
	})
}

// addDiameter adds a radius argument displayed as a diameter.
func addDiameter(c *configurator.Configurator, units string) *argument.Argument {
	a := c.AddDouble(argument.Spec{
		Key:     KeyRadius,
		Token:   "--radius",
		Name:    "Diameter",
		Help:    "Diameter of the objects to detect.",
		Units:   units,
		Default: DefaultRadius,
		Min:     argument.Bound(0),
	})
	if a != nil {
		a.SetTranslator(func(r float64) float64 { return r * 2 }, func(d float64) float64 { return d / 2 })
	}
	return a
}

// pixelTranslator converts a pixel length to a physical one. Zero, the
// "estimate it" sentinel, stays zero.
func pixelTranslator(a *argument.Argument, pixelSize float64) {
	if a == nil || pixelSize <= 0 {
		return
	}
	a.SetTranslator(
		func(px float64) float64 {
			if px > 0 {
				return px * pixelSize
			}
			return 0
		},
		func(d float64) float64 {
			if d > 0 {
				return d / pixelSize
			}
			return 0
		},
	)
}
