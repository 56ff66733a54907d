// Package configurator aggregates the arguments of one external tool.
//
// A Configurator owns the tool's Arguments and Selectable groups, renders
// them into a script by ${token} substitution and converts them to and from
// the flat settings map used for persistence.
package configurator

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/Iron-Ham/spotbridge/internal/argument"
	"github.com/Iron-Ham/spotbridge/internal/errors"
)

// Configurator describes the parameters of one external tool.
type Configurator struct {
	name        string
	template    string
	envSpec     string
	arguments   []*argument.Argument
	selectables []*argument.Selectable
	buildErrs   []error
}

// New creates a configurator for the named tool. template is the script
// rendered by MakeScript and envSpec the dependency manifest of the
// runtime the script runs in.
func New(name, template, envSpec string) *Configurator {
	return &Configurator{name: name, template: template, envSpec: envSpec}
}

// Name returns the tool name.
func (c *Configurator) Name() string { return c.name }

// Template returns the script template.
func (c *Configurator) Template() string { return c.template }

// EnvSpec returns the environment manifest.
func (c *Configurator) EnvSpec() string { return c.envSpec }

// String implements fmt.Stringer.
func (c *Configurator) String() string { return c.name }

// Add registers an argument built by one of the argument constructors.
// Construction errors are kept and reported by Check.
func (c *Configurator) Add(a *argument.Argument, err error) *argument.Argument {
	if err != nil {
		c.buildErrs = append(c.buildErrs, err)
		return nil
	}
	c.arguments = append(c.arguments, a)
	return a
}

// AddChoice registers a choice argument.
func (c *Configurator) AddChoice(s argument.Spec) *argument.Argument {
	return c.Add(argument.NewChoice(s))
}

// AddDouble registers a floating-point argument.
func (c *Configurator) AddDouble(s argument.Spec) *argument.Argument {
	return c.Add(argument.NewDouble(s))
}

// AddInt registers an integer argument.
func (c *Configurator) AddInt(s argument.Spec) *argument.Argument {
	return c.Add(argument.NewInt(s))
}

// AddFlag registers a boolean argument.
func (c *Configurator) AddFlag(s argument.Spec) *argument.Argument {
	return c.Add(argument.NewFlag(s))
}

// AddPath registers a path argument.
func (c *Configurator) AddPath(s argument.Spec) *argument.Argument {
	return c.Add(argument.NewPath(s))
}

// AddString registers a free-text argument.
func (c *Configurator) AddString(s argument.Spec) *argument.Argument {
	return c.Add(argument.NewString(s))
}

// AddSelectable groups already registered arguments under key. The first
// member starts selected.
func (c *Configurator) AddSelectable(key string, members ...*argument.Argument) *argument.Selectable {
	s := argument.NewSelectable(key)
	for _, m := range members {
		if m != nil {
			s.Add(m)
		}
	}
	c.selectables = append(c.selectables, s)
	return s
}

// Arguments returns every registered argument.
func (c *Configurator) Arguments() []*argument.Argument {
	return append([]*argument.Argument(nil), c.arguments...)
}

// Selectables returns every selectable group.
func (c *Configurator) Selectables() []*argument.Selectable {
	return append([]*argument.Selectable(nil), c.selectables...)
}

// Argument returns the argument with the given key.
func (c *Configurator) Argument(key string) (*argument.Argument, bool) {
	for _, a := range c.arguments {
		if a.Key() == key {
			return a, true
		}
	}
	return nil, false
}

// Selectable returns the group with the given key.
func (c *Configurator) Selectable(key string) (*argument.Selectable, bool) {
	for _, s := range c.selectables {
		if s.Key() == key {
			return s, true
		}
	}
	return nil, false
}

// SelectedArguments returns the arguments that take part in rendering:
// every argument except the unselected members of selectable groups.
func (c *Configurator) SelectedArguments() []*argument.Argument {
	var out []*argument.Argument
	for _, a := range c.arguments {
		if c.deselected(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Configurator) deselected(a *argument.Argument) bool {
	for _, s := range c.selectables {
		if s.Contains(a) && !s.IsActive(a) {
			return true
		}
	}
	return false
}

// Check verifies that the configurator can be rendered. It returns a
// *errors.ConfigurationError naming every selected required argument
// without a value, every in-script argument without a token, and any
// argument that failed construction.
func (c *Configurator) Check() error {
	var (
		msgs []string
		keys []string
	)
	for _, err := range c.buildErrs {
		msgs = append(msgs, err.Error())
	}
	for _, a := range c.SelectedArguments() {
		if a.Required() && !a.HasValue() {
			msgs = append(msgs, fmt.Sprintf("Required argument '%s' is not set.", a.Name()))
			keys = append(keys, a.Key())
			continue
		}
		if a.InScript() && a.ScriptToken() == "" {
			msgs = append(msgs, fmt.Sprintf("Argument '%s' has neither a token nor a key.", a.Name()))
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	cause := errors.ErrRequiredArgument
	if len(keys) == 0 {
		cause = errors.ErrInvalidInput
	}
	err := errors.NewConfigurationError(strings.Join(msgs, "\n"), cause).WithTool(c.name)
	for _, k := range keys {
		err.WithArgument(k)
	}
	return err
}

// RenderScript substitutes every ${token} of the selected, in-script
// arguments that resolve to a value. Placeholders without a matching
// argument are left as-is. The output only depends on the template and
// the argument values.
func (c *Configurator) RenderScript(template string) (string, error) {
	if err := c.Check(); err != nil {
		return "", err
	}
	var pairs []string
	for _, a := range c.SelectedArguments() {
		if !a.InScript() || !a.HasValue() {
			continue
		}
		pairs = append(pairs, "${"+a.ScriptToken()+"}", a.Format())
	}
	if len(pairs) == 0 {
		return template, nil
	}
	return strings.NewReplacer(pairs...).Replace(template), nil
}

// MakeScript renders the configurator's own template.
func (c *Configurator) MakeScript() (string, error) {
	return c.RenderScript(c.template)
}

// ToSettingsMap returns the flat settings map: every keyed argument,
// including hidden and script-excluded ones, plus every keyed selectable
// mapped to the key of its selected member.
func (c *Configurator) ToSettingsMap() map[string]any {
	settings := make(map[string]any, len(c.arguments)+len(c.selectables))
	for _, a := range c.arguments {
		if a.Key() == "" {
			continue
		}
		v, _ := a.Value()
		settings[a.Key()] = v
	}
	for _, s := range c.selectables {
		if s.Key() == "" || s.Selection() == nil {
			continue
		}
		settings[s.Key()] = s.Selection().Key()
	}
	return settings
}

// LoadFromSettingsMap ingests persisted values. Keys absent from settings,
// or mapped to nil, keep their current value. Keys unknown to the
// configurator are ignored. Every rejected value is reported; accepted
// values are kept.
func (c *Configurator) LoadFromSettingsMap(settings map[string]any) error {
	var errs []error
	for _, a := range c.arguments {
		if a.Key() == "" {
			continue
		}
		v, ok := settings[a.Key()]
		if !ok || v == nil {
			continue
		}
		if err := a.SetValueObject(v); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range c.selectables {
		v, ok := settings[s.Key()]
		if !ok || v == nil {
			continue
		}
		key, isString := v.(string)
		if !isString {
			errs = append(errs, errors.NewValidationError("selection must be an argument key").
				WithField(s.Key()).WithValue(v).WithCause(errors.ErrWrongType))
			continue
		}
		s.Activate(key)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.NewConfigurationError("invalid settings", errors.Join(errs...)).WithTool(c.name)
}

// DefaultSettings returns the settings map holding every keyed argument's
// default. A keyed argument without a default is an error.
func (c *Configurator) DefaultSettings() (map[string]any, error) {
	settings := make(map[string]any, len(c.arguments)+len(c.selectables))
	for _, a := range c.arguments {
		if a.Key() == "" {
			continue
		}
		v, ok := a.Default()
		if !ok {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("The argument '%s' in the configurator %s has no default value, which is required.", a.Key(), c.name),
				errors.ErrRequiredArgument,
			).WithTool(c.name).WithArgument(a.Key())
		}
		settings[a.Key()] = v
	}
	for _, s := range c.selectables {
		if s.Key() == "" {
			continue
		}
		members := s.Members()
		if len(members) == 0 || members[0].Key() == "" {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("The selectable argument '%s' in the configurator %s has no key, which is required.", s.Key(), c.name),
				errors.ErrRequiredArgument,
			).WithTool(c.name)
		}
		settings[s.Key()] = members[0].Key()
	}
	return settings, nil
}

// Decode copies a settings map into a typed struct tagged with
// `mapstructure` keys. Loosely typed values are converted.
func Decode(settings map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "creating settings decoder")
	}
	if err := dec.Decode(settings); err != nil {
		return errors.Wrap(err, "decoding settings")
	}
	return nil
}

// Description is the declarative view of a configurator.
type Description struct {
	Tool        string                          `yaml:"tool" json:"tool"`
	Arguments   []argument.Descriptor           `yaml:"arguments" json:"arguments"`
	Selectables []argument.SelectableDescriptor `yaml:"selectables,omitempty" json:"selectables,omitempty"`
}

// Describe returns the declarative view of c.
func (c *Configurator) Describe() Description {
	d := Description{Tool: c.name}
	for _, a := range c.arguments {
		d.Arguments = append(d.Arguments, a.Descriptor())
	}
	for _, s := range c.selectables {
		d.Selectables = append(d.Selectables, s.Descriptor())
	}
	return d
}
