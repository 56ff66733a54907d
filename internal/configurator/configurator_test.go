package configurator

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/spotbridge/internal/argument"
	"github.com/Iron-Ham/spotbridge/internal/errors"
)

const testTemplate = `model = "${--model}"
custom = "${--custom_model}"
prob = ${--prob_thresh}
gpu = ${--use_gpu}
channel = ${TARGET_CHANNEL}
keep = "${--not_declared}"
`

type fixture struct {
	c          *Configurator
	model      *argument.Argument
	customPath *argument.Argument
	prob       *argument.Argument
	gpu        *argument.Argument
	channel    *argument.Argument
	hidden     *argument.Argument
	sel        *argument.Selectable
}

func newFixture() fixture {
	c := New("StarDist", testTemplate, "")
	f := fixture{c: c}
	f.model = c.AddChoice(argument.Spec{
		Key:     "MODEL",
		Token:   "--model",
		Choices: []argument.Choice{{Value: "confocal"}, {Value: "spinning"}},
		Default: "confocal",
	})
	f.customPath = c.AddPath(argument.Spec{Key: "CUSTOM_MODEL", Token: "--custom_model", Required: true})
	f.sel = c.AddSelectable("PRETRAINED_OR_CUSTOM", f.model, f.customPath)
	f.prob = c.AddDouble(argument.Spec{
		Key:     "PROB",
		Token:   "--prob_thresh",
		Min:     argument.Bound(0),
		Max:     argument.Bound(1),
		Default: 0.5,
	})
	f.gpu = c.AddFlag(argument.Spec{Key: "USE_GPU", Token: "--use_gpu", Default: true})
	f.channel = c.AddInt(argument.Spec{Key: "TARGET_CHANNEL", Min: argument.Bound(1), Default: 1})
	f.hidden = c.AddDouble(argument.Spec{Key: "PIXEL_SIZE", Token: "--pixel", Hidden: true, NoScript: true, Default: 0.2})
	return f
}

func TestRenderScript_Substitution(t *testing.T) {
	f := newFixture()

	got, err := f.c.MakeScript()
	if err != nil {
		t.Fatalf("MakeScript() error = %v", err)
	}

	wantContains := []string{
		`model = "confocal"`,
		`prob = 0.5`,
		`gpu = True`,
		`channel = 1`,
		`keep = "${--not_declared}"`,
		`custom = "${--custom_model}"`,
	}
	for _, w := range wantContains {
		if !strings.Contains(got, w) {
			t.Errorf("script missing %q\n%s", w, got)
		}
	}
}

func TestRenderScript_Deterministic(t *testing.T) {
	f := newFixture()
	if err := f.prob.SetDouble(0.73); err != nil {
		t.Fatal(err)
	}
	first, err := f.c.RenderScript(testTemplate)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := f.c.RenderScript(testTemplate)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("render %d differs:\n%s\nvs\n%s", i, again, first)
		}
	}
}

func TestRenderScript_OnlyActiveSelectableMember(t *testing.T) {
	f := newFixture()
	if err := f.customPath.SetString("/models/mine.zip"); err != nil {
		t.Fatal(err)
	}

	f.sel.Activate("CUSTOM_MODEL")
	got, err := f.c.MakeScript()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `custom = "/models/mine.zip"`) {
		t.Errorf("custom model path not substituted:\n%s", got)
	}
	if !strings.Contains(got, `model = "${--model}"`) {
		t.Errorf("inactive member was substituted:\n%s", got)
	}

	f.sel.Activate("MODEL")
	got, err = f.c.MakeScript()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `custom = "${--custom_model}"`) {
		t.Errorf("inactive custom path was substituted:\n%s", got)
	}
}

func TestRenderScript_ScriptExcludedArgument(t *testing.T) {
	f := newFixture()
	got, err := f.c.RenderScript("px = ${--pixel}")
	if err != nil {
		t.Fatal(err)
	}
	if got != "px = ${--pixel}" {
		t.Errorf("script-excluded argument was substituted: %q", got)
	}
}

func TestRenderScript_MissingRequiredArgument(t *testing.T) {
	f := newFixture()
	f.sel.Activate("CUSTOM_MODEL")

	_, err := f.c.MakeScript()
	if err == nil {
		t.Fatal("MakeScript() with unset required argument should fail")
	}
	var cfgErr *errors.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error %T is not a ConfigurationError", err)
	}
	if cfgErr.Tool != "StarDist" {
		t.Errorf("Tool = %q, want StarDist", cfgErr.Tool)
	}
	if len(cfgErr.Arguments) != 1 || cfgErr.Arguments[0] != "CUSTOM_MODEL" {
		t.Errorf("Arguments = %v, want [CUSTOM_MODEL]", cfgErr.Arguments)
	}
	if !errors.Is(err, errors.ErrRequiredArgument) {
		t.Error("error should wrap ErrRequiredArgument")
	}
}

func TestCheck_ReportsConstructionErrors(t *testing.T) {
	c := New("Broken", "", "")
	if a := c.AddChoice(argument.Spec{Key: "M", Choices: []argument.Choice{{Value: "a"}}, Default: "z"}); a != nil {
		t.Error("AddChoice() with invalid default should return nil")
	}
	if err := c.Check(); err == nil {
		t.Error("Check() should report the construction error")
	}
}

func TestSettingsMap_RoundTrip(t *testing.T) {
	f := newFixture()
	if err := f.prob.SetDouble(0.8); err != nil {
		t.Fatal(err)
	}
	if err := f.customPath.SetString("/m.zip"); err != nil {
		t.Fatal(err)
	}
	f.sel.Activate("CUSTOM_MODEL")
	if err := f.gpu.SetBool(false); err != nil {
		t.Fatal(err)
	}

	settings := f.c.ToSettingsMap()
	if settings["PIXEL_SIZE"] != 0.2 {
		t.Errorf("hidden, script-excluded argument missing from settings: %v", settings["PIXEL_SIZE"])
	}
	if settings["PRETRAINED_OR_CUSTOM"] != "CUSTOM_MODEL" {
		t.Errorf("selectable = %v, want CUSTOM_MODEL", settings["PRETRAINED_OR_CUSTOM"])
	}

	g := newFixture()
	if err := g.c.LoadFromSettingsMap(settings); err != nil {
		t.Fatalf("LoadFromSettingsMap() error = %v", err)
	}
	if g.prob.Double() != 0.8 || g.gpu.Bool() || g.customPath.Text() != "/m.zip" {
		t.Errorf("loaded values = prob %v gpu %v path %q", g.prob.Double(), g.gpu.Bool(), g.customPath.Text())
	}
	if g.sel.Selection() != g.customPath {
		t.Errorf("selection = %s, want CUSTOM_MODEL", g.sel.Selection().Key())
	}

	a, _ := f.c.MakeScript()
	b, _ := g.c.MakeScript()
	if a != b {
		t.Errorf("scripts differ after settings round trip:\n%s\nvs\n%s", a, b)
	}
}

func TestLoadFromSettingsMap_AbsentKeysKeepDefaults(t *testing.T) {
	f := newFixture()
	if err := f.c.LoadFromSettingsMap(map[string]any{"USE_GPU": "false", "UNKNOWN": 1}); err != nil {
		t.Fatal(err)
	}
	if f.prob.Double() != 0.5 {
		t.Errorf("PROB = %v, want default 0.5", f.prob.Double())
	}
	if f.prob.IsSet() {
		t.Error("PROB should not be marked set")
	}
	if f.gpu.Bool() {
		t.Error("USE_GPU = true, want false")
	}
}

func TestLoadFromSettingsMap_RejectsInvalidValues(t *testing.T) {
	f := newFixture()
	err := f.c.LoadFromSettingsMap(map[string]any{
		"PROB":                 3.0,
		"TARGET_CHANNEL":       2,
		"PRETRAINED_OR_CUSTOM": 7,
	})
	if err == nil {
		t.Fatal("LoadFromSettingsMap() should report the out-of-range value")
	}
	if !errors.Is(err, errors.ErrOutOfBounds) {
		t.Errorf("error = %v, want ErrOutOfBounds in chain", err)
	}
	if !errors.Is(err, errors.ErrWrongType) {
		t.Errorf("error = %v, want ErrWrongType for the selection", err)
	}
	if f.prob.Double() != 0.5 {
		t.Errorf("PROB = %v, rejected value must not be stored", f.prob.Double())
	}
	if f.channel.Int() != 2 {
		t.Errorf("TARGET_CHANNEL = %d, valid values are still applied", f.channel.Int())
	}
}

func TestDefaultSettings(t *testing.T) {
	c := New("Tool", "", "")
	c.AddDouble(argument.Spec{Key: "A", Default: 1.5})
	x := c.AddChoice(argument.Spec{Key: "X", Choices: []argument.Choice{{Value: "x"}}, Default: "x"})
	y := c.AddFlag(argument.Spec{Key: "Y", Default: false})
	sel := c.AddSelectable("X_OR_Y", x, y)
	sel.Activate("Y")

	got, err := c.DefaultSettings()
	if err != nil {
		t.Fatal(err)
	}
	if got["A"] != 1.5 || got["X"] != "x" || got["Y"] != false || got["X_OR_Y"] != "X" {
		t.Errorf("DefaultSettings() = %v", got)
	}

	c.AddPath(argument.Spec{Key: "NO_DEFAULT"})
	if _, err := c.DefaultSettings(); err == nil {
		t.Error("DefaultSettings() should fail for an argument without default")
	}
}

func TestDecode(t *testing.T) {
	type settings struct {
		Model   string  `mapstructure:"MODEL"`
		Prob    float64 `mapstructure:"PROB"`
		UseGPU  bool    `mapstructure:"USE_GPU"`
		Channel int     `mapstructure:"TARGET_CHANNEL"`
	}
	var s settings
	err := Decode(map[string]any{
		"MODEL":          "spinning",
		"PROB":           "0.25",
		"USE_GPU":        "true",
		"TARGET_CHANNEL": 2.0,
	}, &s)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if s.Model != "spinning" || s.Prob != 0.25 || !s.UseGPU || s.Channel != 2 {
		t.Errorf("Decode() = %+v", s)
	}
}

func TestDescribe(t *testing.T) {
	f := newFixture()
	d := f.c.Describe()
	if d.Tool != "StarDist" {
		t.Errorf("Tool = %q", d.Tool)
	}
	if len(d.Arguments) != 6 {
		t.Errorf("len(Arguments) = %d, want 6", len(d.Arguments))
	}
	if len(d.Selectables) != 1 || d.Selectables[0].Selected != "MODEL" {
		t.Errorf("Selectables = %+v", d.Selectables)
	}
}
