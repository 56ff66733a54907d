package tools

import (
	"github.com/Iron-Ham/spotbridge/internal/argument"
	"github.com/Iron-Ham/spotbridge/internal/configurator"
)

// StarDist setting keys.
const (
	KeyStarDistModel     = "STARDIST_MODEL"
	KeyStarDistModelPath = "STARDIST_CUSTOM_MODEL_PATH"
	KeyProbThreshold     = "PROB_THRESHOLD"
	KeyNMSThreshold      = "NMS_THRESHOLD"
	KeyNormalizeInput    = "NORMALIZE_INPUT"
	KeyDiameterXY        = "DIAMETER_XY"
	KeyDiameterZ         = "DIAMETER_Z"
	KeyPixelSizeXY       = "PIXEL_SIZE_XY"
	KeyPixelSizeZ        = "PIXEL_SIZE_Z"
)

// StarDist defaults. Diameters are in pixels.
const (
	DefaultStarDistModel = "confocal"
	DefaultProbThreshold = 0.5
	DefaultNMSThreshold  = 0.4
	DefaultDiameterXY    = 35.0
	DefaultDiameterZ     = 8.0
)

// StarDistName is the registry name of the StarDist tool.
const StarDistName = "StarDist"

// StarDistSettings is the typed view of a StarDist settings map.
type StarDistSettings struct {
	Model              string  `mapstructure:"STARDIST_MODEL"`
	ModelPath          string  `mapstructure:"STARDIST_CUSTOM_MODEL_PATH"`
	PretrainedOrCustom string  `mapstructure:"PRETRAINED_OR_CUSTOM"`
	TargetChannel      int     `mapstructure:"TARGET_CHANNEL"`
	DiameterXY         float64 `mapstructure:"DIAMETER_XY"`
	DiameterZ          float64 `mapstructure:"DIAMETER_Z"`
	PixelSizeXY        float64 `mapstructure:"PIXEL_SIZE_XY"`
	PixelSizeZ         float64 `mapstructure:"PIXEL_SIZE_Z"`
	ProbThreshold      float64 `mapstructure:"PROB_THRESHOLD"`
	NMSThreshold       float64 `mapstructure:"NMS_THRESHOLD"`
	NormalizeInput     bool    `mapstructure:"NORMALIZE_INPUT"`
	SimplifyContour    bool    `mapstructure:"SIMPLIFY_CONTOURS"`
	SmoothingScale     float64 `mapstructure:"SMOOTHING_SCALE"`
}

// NewStarDist builds the StarDist 3D configurator.
func NewStarDist(shape Shape) *configurator.Configurator {
	c := configurator.New(StarDistName, mustTemplate("stardist3d.py"), mustTemplate("stardist.toml"))

	model := c.AddChoice(argument.Spec{
		Key:      KeyStarDistModel,
		Token:    "--model",
		Name:     "Pretrained model",
		Help:     "Name of the pretrained StarDist 3D model to use.",
		Required: true,
		Choices: []argument.Choice{
			{Value: "confocal", Label: "confocal - FUCCI label (39x39x7 px)"},
			{Value: "sospim", Label: "sospim - DAPI/SOX2 (27x28x10 px)"},
			{Value: "spinning", Label: "spinning - DAPI (39x39x7 px)"},
		},
		Default: DefaultStarDistModel,
	})
	custom := c.AddPath(argument.Spec{
		Key:      KeyStarDistModelPath,
		Token:    "--model",
		Name:     "Path to a custom model",
		Help:     "Path to a custom StarDist model directory containing config.json and weights.",
		Required: true,
		Default:  "",
	})

	addTargetChannel(c, shape.Channels)

	xy := c.AddDouble(argument.Spec{
		Key:     KeyDiameterXY,
		Token:   "--diameter_xy",
		Name:    "Expected diameter (XY)",
		Help:    "Expected nucleus diameter in the XY plane.",
		Units:   shape.Units,
		Default: DefaultDiameterXY,
		Min:     argument.Bound(1),
	})
	pixelTranslator(xy, shape.PixelSize)
	z := c.AddDouble(argument.Spec{
		Key:     KeyDiameterZ,
		Token:   "--diameter_z",
		Name:    "Expected diameter (Z)",
		Help:    "Expected nucleus diameter along Z.",
		Units:   shape.Units,
		Default: DefaultDiameterZ,
		Min:     argument.Bound(1),
	})
	pixelTranslator(z, shape.PixelDepth)

	c.AddDouble(argument.Spec{Key: KeyPixelSizeXY, Hidden: true, Default: shape.pixelSize()})
	c.AddDouble(argument.Spec{Key: KeyPixelSizeZ, Hidden: true, Default: shape.pixelDepth()})

	c.AddDouble(argument.Spec{
		Key:     KeyProbThreshold,
		Token:   "--prob_thresh",
		Name:    "Probability threshold",
		Help:    "Lower values detect more objects but may increase false positives.",
		Default: DefaultProbThreshold,
		Min:     argument.Bound(0),
		Max:     argument.Bound(1),
	})
	c.AddDouble(argument.Spec{
		Key:     KeyNMSThreshold,
		Token:   "--nms_thresh",
		Name:    "NMS threshold",
		Help:    "Non-maximum suppression threshold. Higher values allow more overlapping objects.",
		Default: DefaultNMSThreshold,
		Min:     argument.Bound(0),
		Max:     argument.Bound(1),
	})
	c.AddFlag(argument.Spec{
		Key:     KeyNormalizeInput,
		Token:   "--normalize",
		Name:    "Normalize input",
		Help:    "Normalize the input with 1-99.8 percentile normalization.",
		Default: true,
	})

	addSimplifyContour(c)
	addSmoothingScale(c, shape.Units)
	c.AddSelectable(KeyPretrainedOrCustom, model, custom)
	return c
}
