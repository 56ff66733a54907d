// Package argument models the typed, named parameters of an external tool.
//
// An Argument carries a CLI-style token used for script substitution, a
// default, optional bounds or choices, visibility flags and an optional
// display translator between storage units (pixels) and display units
// (physical length). Values are validated on every Set: a rejected value
// never reaches the stored state.
package argument

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gobwas/glob"
	"github.com/spf13/cast"

	"github.com/Iron-Ham/spotbridge/internal/errors"
)

// Kind identifies the value type held by an Argument.
type Kind int

const (
	KindChoice Kind = iota
	KindDouble
	KindInt
	KindFlag
	KindPath
	KindString
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindChoice:
		return "choice"
	case KindDouble:
		return "double"
	case KindInt:
		return "int"
	case KindFlag:
		return "flag"
	case KindPath:
		return "path"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Choice is one entry of a choice argument.
type Choice struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Translator converts between the stored value and its display value.
// Backward(Forward(x)) must equal x for every valid x.
type Translator struct {
	Forward  func(float64) float64
	Backward func(float64) float64
}

// Identity is the translator used when none is registered.
var Identity = Translator{
	Forward:  func(v float64) float64 { return v },
	Backward: func(v float64) float64 { return v },
}

// Spec declares an argument. Zero values mean: visible, emitted in the
// script, no default, unbounded.
type Spec struct {
	Key      string
	Token    string
	Name     string
	Help     string
	Units    string
	Required bool
	Hidden   bool
	// NoScript excludes the argument from script rendering. It is still
	// persisted in the settings map.
	NoScript bool
	Default  any
	Min      *float64
	Max      *float64
	Choices  []Choice
	// Pattern is a glob that path values must match.
	Pattern string
}

// Bound returns a pointer to v, for Spec.Min and Spec.Max.
func Bound(v float64) *float64 {
	return &v
}

// slot holds a value in its kind-specific field.
type slot struct {
	num  float64
	int  int
	flag bool
	str  string
}

// Argument is one typed configuration value.
type Argument struct {
	kind     Kind
	key      string
	token    string
	name     string
	help     string
	units    string
	required bool
	visible  bool
	inScript bool

	def        slot
	hasDefault bool
	val        slot
	set        bool

	min, max   *float64
	choices    []Choice
	pattern    glob.Glob
	patternSrc string
	translator *Translator
}

func newArgument(kind Kind, s Spec) (*Argument, error) {
	a := &Argument{
		kind:     kind,
		key:      s.Key,
		token:    s.Token,
		name:     s.Name,
		help:     s.Help,
		units:    s.Units,
		required: s.Required,
		visible:  !s.Hidden,
		inScript: !s.NoScript,
		min:      s.Min,
		max:      s.Max,
		choices:  append([]Choice(nil), s.Choices...),
	}
	if a.name == "" {
		a.name = a.key
	}
	if s.Pattern != "" {
		g, err := glob.Compile(s.Pattern)
		if err != nil {
			return nil, errors.NewValidationError("invalid path pattern").
				WithField(a.key).WithValue(s.Pattern).WithCause(err)
		}
		a.pattern = g
		a.patternSrc = s.Pattern
	}
	if s.Default != nil {
		v, err := a.coerce(s.Default)
		if err != nil {
			return nil, err
		}
		if err := a.validate(v); err != nil {
			return nil, err
		}
		a.def = v
		a.hasDefault = true
	}
	return a, nil
}

// NewChoice creates a choice argument. A default outside the choices is an error.
func NewChoice(s Spec) (*Argument, error) {
	if len(s.Choices) == 0 {
		return nil, errors.NewValidationError("choice argument has no choices").WithField(s.Key)
	}
	return newArgument(KindChoice, s)
}

// NewDouble creates a floating-point argument.
func NewDouble(s Spec) (*Argument, error) { return newArgument(KindDouble, s) }

// NewInt creates an integer argument.
func NewInt(s Spec) (*Argument, error) { return newArgument(KindInt, s) }

// NewFlag creates a boolean argument.
func NewFlag(s Spec) (*Argument, error) { return newArgument(KindFlag, s) }

// NewPath creates a filesystem path argument.
func NewPath(s Spec) (*Argument, error) { return newArgument(KindPath, s) }

// NewString creates a free-text argument.
func NewString(s Spec) (*Argument, error) { return newArgument(KindString, s) }

func (a *Argument) Kind() Kind { return a.kind }
func (a *Argument) Key() string { return a.key }
func (a *Argument) Token() string { return a.token }
func (a *Argument) Name() string { return a.name }
func (a *Argument) Help() string { return a.help }
func (a *Argument) Units() string { return a.units }
func (a *Argument) Required() bool { return a.required }
func (a *Argument) Visible() bool { return a.visible }
func (a *Argument) InScript() bool { return a.inScript }
func (a *Argument) Choices() []Choice { return append([]Choice(nil), a.choices...) }

// Min returns the lower bound, if any.
func (a *Argument) Min() (float64, bool) {
	if a.min == nil {
		return 0, false
	}
	return *a.min, true
}

// Max returns the upper bound, if any.
func (a *Argument) Max() (float64, bool) {
	if a.max == nil {
		return 0, false
	}
	return *a.max, true
}

// IsSet reports whether a value was explicitly set.
func (a *Argument) IsSet() bool { return a.set }

// HasDefault reports whether the argument declares a default.
func (a *Argument) HasDefault() bool { return a.hasDefault }

// HasValue reports whether the argument resolves to a value, set or default.
func (a *Argument) HasValue() bool { return a.set || a.hasDefault }

// Reset drops the explicitly set value, falling back to the default.
func (a *Argument) Reset() {
	a.set = false
	a.val = slot{}
}

func (a *Argument) current() slot {
	if a.set {
		return a.val
	}
	return a.def
}

// Value returns the current value (set or default) as its kind's Go type:
// string for choice, path and string; float64; int; bool. The flag is false
// when the argument has neither.
func (a *Argument) Value() (any, bool) {
	if !a.HasValue() {
		return nil, false
	}
	return a.box(a.current()), true
}

// Default returns the default value, if declared.
func (a *Argument) Default() (any, bool) {
	if !a.hasDefault {
		return nil, false
	}
	return a.box(a.def), true
}

func (a *Argument) box(v slot) any {
	switch a.kind {
	case KindDouble:
		return v.num
	case KindInt:
		return v.int
	case KindFlag:
		return v.flag
	default:
		return v.str
	}
}

// Double returns the current value of a double argument.
func (a *Argument) Double() float64 { return a.current().num }

// Int returns the current value of an int argument.
func (a *Argument) Int() int { return a.current().int }

// Bool returns the current value of a flag.
func (a *Argument) Bool() bool { return a.current().flag }

// Text returns the current value of a choice, path or string argument.
func (a *Argument) Text() string { return a.current().str }

// Set validates and stores v. On error the stored value is unchanged.
func (a *Argument) Set(v any) error {
	s, err := a.coerce(v)
	if err != nil {
		return err
	}
	return a.store(s)
}

// SetValueObject stores a persisted value, coercing loosely typed input
// (float64 from JSON, strings from YAML) to the argument's kind.
func (a *Argument) SetValueObject(v any) error {
	return a.Set(v)
}

// SetDouble stores a double value.
func (a *Argument) SetDouble(v float64) error {
	if a.kind != KindDouble {
		return a.wrongKind()
	}
	return a.store(slot{num: v})
}

// SetInt stores an int value.
func (a *Argument) SetInt(v int) error {
	if a.kind != KindInt {
		return a.wrongKind()
	}
	return a.store(slot{int: v})
}

// SetBool stores a flag value.
func (a *Argument) SetBool(v bool) error {
	if a.kind != KindFlag {
		return a.wrongKind()
	}
	return a.store(slot{flag: v})
}

// SetString stores a choice, path or string value.
func (a *Argument) SetString(v string) error {
	if a.kind != KindChoice && a.kind != KindPath && a.kind != KindString {
		return a.wrongKind()
	}
	return a.store(slot{str: v})
}

// SetChoiceIndex selects the choice at index i.
func (a *Argument) SetChoiceIndex(i int) error {
	if a.kind != KindChoice {
		return a.wrongKind()
	}
	if i < 0 || i >= len(a.choices) {
		return errors.NewValidationError(fmt.Sprintf("choice index %d out of range [0, %d)", i, len(a.choices))).
			WithField(a.key).WithValue(i).WithCause(errors.ErrOutOfBounds)
	}
	return a.store(slot{str: a.choices[i].Value})
}

// ChoiceIndex returns the index of the current choice, or -1.
func (a *Argument) ChoiceIndex() int {
	if a.kind != KindChoice || !a.HasValue() {
		return -1
	}
	v := a.current().str
	for i, c := range a.choices {
		if c.Value == v {
			return i
		}
	}
	return -1
}

func (a *Argument) wrongKind() error {
	return errors.NewValidationError(fmt.Sprintf("argument is of kind %s", a.kind)).
		WithField(a.key).WithCause(errors.ErrWrongType)
}

func (a *Argument) store(s slot) error {
	if err := a.validate(s); err != nil {
		return err
	}
	a.val = s
	a.set = true
	return nil
}

func (a *Argument) coerce(v any) (slot, error) {
	var (
		s   slot
		err error
	)
	switch a.kind {
	case KindDouble:
		s.num, err = cast.ToFloat64E(v)
	case KindInt:
		s.int, err = toInt(v)
	case KindFlag:
		s.flag, err = cast.ToBoolE(v)
	default:
		s.str, err = cast.ToStringE(v)
	}
	if err != nil {
		return slot{}, errors.NewValidationError(fmt.Sprintf("cannot use %T as %s", v, a.kind)).
			WithField(a.key).WithValue(v).WithCause(errors.ErrWrongType)
	}
	return s, nil
}

// toInt rejects floats with a fractional part instead of truncating them.
func toInt(v any) (int, error) {
	if f, ok := v.(float64); ok {
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
		return int(f), nil
	}
	return cast.ToIntE(v)
}

func (a *Argument) validate(s slot) error {
	switch a.kind {
	case KindDouble:
		if math.IsNaN(s.num) {
			return errors.NewValidationError("value is NaN").WithField(a.key).WithCause(errors.ErrOutOfBounds)
		}
		return a.checkBounds(s.num, strconv.FormatFloat(s.num, 'g', -1, 64))
	case KindInt:
		return a.checkBounds(float64(s.int), strconv.Itoa(s.int))
	case KindChoice:
		for _, c := range a.choices {
			if c.Value == s.str {
				return nil
			}
		}
		return errors.NewValidationError(fmt.Sprintf("%q is not one of the declared choices", s.str)).
			WithField(a.key).WithValue(s.str).WithCause(errors.ErrUnknownChoice)
	case KindPath:
		if a.pattern != nil && s.str != "" && !a.pattern.Match(s.str) {
			return errors.NewValidationError(fmt.Sprintf("path does not match %q", a.patternSrc)).
				WithField(a.key).WithValue(s.str)
		}
	}
	return nil
}

func (a *Argument) checkBounds(v float64, text string) error {
	if a.min != nil && v < *a.min {
		return errors.NewValidationError(fmt.Sprintf("value %s for argument '%s' is smaller than the min: %g", text, a.name, *a.min)).
			WithField(a.key).WithValue(text).WithCause(errors.ErrOutOfBounds)
	}
	if a.max != nil && v > *a.max {
		return errors.NewValidationError(fmt.Sprintf("value %s for argument '%s' is larger than the max: %g", text, a.name, *a.max)).
			WithField(a.key).WithValue(text).WithCause(errors.ErrOutOfBounds)
	}
	return nil
}

// SetTranslator registers a display transform for a numeric argument.
func (a *Argument) SetTranslator(forward, backward func(float64) float64) *Argument {
	a.translator = &Translator{Forward: forward, Backward: backward}
	return a
}

// Translator returns the registered display transform, or Identity.
func (a *Argument) Translator() Translator {
	if a.translator == nil {
		return Identity
	}
	return *a.translator
}

// DisplayValue returns the current value converted to display units.
func (a *Argument) DisplayValue() float64 {
	t := a.Translator()
	switch a.kind {
	case KindInt:
		return t.Forward(float64(a.Int()))
	default:
		return t.Forward(a.Double())
	}
}

// SetDisplayValue converts d back to storage units and stores it.
func (a *Argument) SetDisplayValue(d float64) error {
	v := a.Translator().Backward(d)
	switch a.kind {
	case KindDouble:
		return a.SetDouble(v)
	case KindInt:
		return a.SetInt(int(math.Round(v)))
	default:
		return a.wrongKind()
	}
}

// Format renders the current value for script substitution. Flags render
// as Python literals.
func (a *Argument) Format() string {
	v := a.current()
	switch a.kind {
	case KindDouble:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindInt:
		return strconv.Itoa(v.int)
	case KindFlag:
		if v.flag {
			return "True"
		}
		return "False"
	default:
		return v.str
	}
}

// ScriptToken is the placeholder name used in templates. Arguments without
// a token are addressed by their key.
func (a *Argument) ScriptToken() string {
	if a.token != "" {
		return a.token
	}
	return a.key
}
