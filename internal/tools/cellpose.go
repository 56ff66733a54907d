package tools

import (
	"strconv"

	"github.com/Iron-Ham/spotbridge/internal/argument"
	"github.com/Iron-Ham/spotbridge/internal/configurator"
)

// Cellpose setting keys.
const (
	KeyCellposeModel     = "CELLPOSE_MODEL"
	KeyCellposeModelPath = "CELLPOSE_MODEL_FILEPATH"
	KeyChannel1          = "CHANNEL_1"
	KeyOptionalChannel2  = "OPTIONAL_CHANNEL_2"
	KeyCellDiameter      = "CELL_DIAMETER"
	KeyUseGPU            = "USE_GPU"
)

// Cellpose defaults.
const (
	DefaultCellposeModel = "cyto3"
	DefaultCellDiameter  = 30.0
)

// CellposeName is the registry name of the Cellpose tool.
const CellposeName = "Cellpose"

var cellposeModels = []argument.Choice{
	{Value: "cyto3", Label: "cyto3"},
	{Value: "nucleitorch_0", Label: "nuclei"},
	{Value: "tissuenet_cp3"},
	{Value: "livecell_cp3"},
	{Value: "yeast_PhC_cp3"},
	{Value: "yeast_BF_cp3"},
	{Value: "bact_phase_cp3"},
	{Value: "bact_fluor_cp3"},
	{Value: "deepbacs_cp3"},
	{Value: "cyto2torch_0", Label: "cyto2"},
	{Value: "cytotorch_0", Label: "cyto"},
}

// CellposeSettings is the typed view of a Cellpose settings map.
type CellposeSettings struct {
	Model              string  `mapstructure:"CELLPOSE_MODEL"`
	ModelPath          string  `mapstructure:"CELLPOSE_MODEL_FILEPATH"`
	PretrainedOrCustom string  `mapstructure:"PRETRAINED_OR_CUSTOM"`
	Channel1           int     `mapstructure:"CHANNEL_1"`
	Channel2           int     `mapstructure:"OPTIONAL_CHANNEL_2"`
	CellDiameter       float64 `mapstructure:"CELL_DIAMETER"`
	UseGPU             bool    `mapstructure:"USE_GPU"`
	SimplifyContour    bool    `mapstructure:"SIMPLIFY_CONTOURS"`
	SmoothingScale     float64 `mapstructure:"SMOOTHING_SCALE"`
}

// NewCellpose builds the Cellpose 3 configurator for images of the given
// shape.
func NewCellpose(shape Shape) *configurator.Configurator {
	c := configurator.New(CellposeName, mustTemplate("cellpose.py"), mustTemplate("cellpose.yml"))

	model := c.AddChoice(argument.Spec{
		Key:      KeyCellposeModel,
		Token:    "--pretrained_model",
		Name:     "Pretrained model",
		Help:     "Name of the pretrained cellpose 3 model to use.",
		Required: true,
		Choices:  cellposeModels,
		Default:  DefaultCellposeModel,
	})
	custom := c.AddPath(argument.Spec{
		Key:      KeyCellposeModelPath,
		Token:    "--pretrained_model",
		Name:     "Path to a custom model",
		Help:     "Path to a custom cellpose model file.",
		Required: true,
		Default:  "",
		Pattern:  "*",
	})

	c.AddChoice(argument.Spec{
		Key:      KeyChannel1,
		Token:    "--chan",
		Name:     "Target channel",
		Help:     "Index of the channel to segment.",
		Required: true,
		Choices:  channelChoices(shape.Channels, "0 - gray"),
		Default:  "0",
	})
	c.AddChoice(argument.Spec{
		Key:     KeyOptionalChannel2,
		Token:   "--chan2",
		Name:    "Second optional channel",
		Help:    "Second optional channel to segment for cyto* models.",
		Choices: channelChoices(shape.Channels, "0 - don't use"),
		Default: "0",
	})

	diameter := c.AddDouble(argument.Spec{
		Key:     KeyCellDiameter,
		Token:   "--diameter",
		Name:    "Cell diameter",
		Help:    "Cell diameter. If 0 the model estimates the diameter for each image.",
		Units:   shape.Units,
		Default: DefaultCellDiameter,
		Min:     argument.Bound(0),
	})
	pixelTranslator(diameter, shape.PixelSize)

	c.AddChoice(argument.Spec{
		Key:     KeyUseGPU,
		Token:   "--use_gpu",
		Name:    "Use GPU",
		Help:    "Whether to use GPU acceleration, if installed.",
		Choices: []argument.Choice{{Value: "True"}, {Value: "False"}},
		Default: "True",
	})

	addSimplifyContour(c)
	addSmoothingScale(c, shape.Units)
	c.AddSelectable(KeyPretrainedOrCustom, model, custom)
	return c
}

// channelChoices lists "0" with the given label, then 1..n.
func channelChoices(n int, zeroLabel string) []argument.Choice {
	choices := []argument.Choice{{Value: "0", Label: zeroLabel}}
	for i := 1; i <= n; i++ {
		choices = append(choices, argument.Choice{Value: strconv.Itoa(i)})
	}
	return choices
}
