package argument

// Descriptor is the declarative form of an argument, as printed by
// `spotbridge describe`.
type Descriptor struct {
	Key      string   `yaml:"key" json:"key"`
	Token    string   `yaml:"token,omitempty" json:"token,omitempty"`
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`
	Help     string   `yaml:"help,omitempty" json:"help,omitempty"`
	Units    string   `yaml:"units,omitempty" json:"units,omitempty"`
	Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Hidden   bool     `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	NoScript bool     `yaml:"no_script,omitempty" json:"no_script,omitempty"`
	Default  any      `yaml:"default,omitempty" json:"default,omitempty"`
	Value    any      `yaml:"value,omitempty" json:"value,omitempty"`
	Min      *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Choices  []Choice `yaml:"choices,omitempty" json:"choices,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// Descriptor describes a.
func (a *Argument) Descriptor() Descriptor {
	d := Descriptor{
		Key:      a.key,
		Token:    a.token,
		Name:     a.name,
		Type:     a.kind.String(),
		Help:     a.help,
		Units:    a.units,
		Required: a.required,
		Hidden:   !a.visible,
		NoScript: !a.inScript,
		Min:      a.min,
		Max:      a.max,
		Choices:  a.Choices(),
		Pattern:  a.patternSrc,
	}
	d.Default, _ = a.Default()
	if a.set {
		d.Value = a.box(a.val)
	}
	return d
}

// SelectableDescriptor describes a group of exclusive arguments.
type SelectableDescriptor struct {
	Key      string   `yaml:"key" json:"key"`
	Members  []string `yaml:"members" json:"members"`
	Selected string   `yaml:"selected" json:"selected"`
}

// Descriptor describes s.
func (s *Selectable) Descriptor() SelectableDescriptor {
	d := SelectableDescriptor{Key: s.key}
	for _, m := range s.members {
		d.Members = append(d.Members, m.key)
	}
	if sel := s.Selection(); sel != nil {
		d.Selected = sel.key
	}
	return d
}
