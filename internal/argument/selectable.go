package argument

// Selectable groups mutually exclusive arguments under one settings key.
// Exactly one member is selected at a time; only the selected member takes
// part in script rendering.
type Selectable struct {
	key      string
	members  []*Argument
	selected int
}

// NewSelectable creates an empty group stored under key.
func NewSelectable(key string) *Selectable {
	return &Selectable{key: key}
}

// Key returns the settings key of the group.
func (s *Selectable) Key() string { return s.key }

// Add registers a candidate. Adding the same argument twice is a no-op.
func (s *Selectable) Add(a *Argument) *Selectable {
	for _, m := range s.members {
		if m == a {
			return s
		}
	}
	s.members = append(s.members, a)
	return s
}

// Members returns the candidates in registration order.
func (s *Selectable) Members() []*Argument {
	return append([]*Argument(nil), s.members...)
}

// Select selects the member at index i, clamped to the member range.
func (s *Selectable) Select(i int) {
	if len(s.members) == 0 {
		s.selected = 0
		return
	}
	s.selected = max(0, min(len(s.members)-1, i))
}

// SelectArgument selects a. An argument that is not a member selects index 0.
func (s *Selectable) SelectArgument(a *Argument) {
	s.Select(s.indexOf(func(m *Argument) bool { return m == a }))
}

// Activate selects the member with the given key. An unknown key selects
// index 0.
func (s *Selectable) Activate(key string) {
	s.Select(s.indexOf(func(m *Argument) bool { return m.key == key }))
}

func (s *Selectable) indexOf(match func(*Argument) bool) int {
	for i, m := range s.members {
		if match(m) {
			return i
		}
	}
	return 0
}

// Selection returns the selected member, or nil for an empty group.
func (s *Selectable) Selection() *Argument {
	if len(s.members) == 0 {
		return nil
	}
	return s.members[s.selected]
}

// SelectedIndex returns the index of the selected member.
func (s *Selectable) SelectedIndex() int { return s.selected }

// IsActive reports whether a is the selected member.
func (s *Selectable) IsActive(a *Argument) bool {
	return a != nil && s.Selection() == a
}

// Contains reports whether a is a member of the group.
func (s *Selectable) Contains(a *Argument) bool {
	for _, m := range s.members {
		if m == a {
			return true
		}
	}
	return false
}
