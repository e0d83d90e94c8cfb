package core

// SharedState is the collaboratively edited theme
type SharedState struct {
	Theme          string            `json:"theme"`
	Mode           string            `json:"mode"`
	Colors         map[string]string `json:"colors"`
	Version        int64             `json:"version"`
	LastModified   int64             `json:"lastModified"`
	LastModifiedBy UserID            `json:"lastModifiedBy"`
}

// StatePatch is a partial update of the shared state. Nil fields are kept,
// a non-nil Colors map replaces the whole palette.
type StatePatch struct {
	Theme  *string           `json:"theme,omitempty"`
	Mode   *string           `json:"mode,omitempty"`
	Colors map[string]string `json:"colors,omitempty"`
}

func (s SharedState) Clone() SharedState {
	c := s
	c.Colors = make(map[string]string, len(s.Colors))
	for k, v := range s.Colors {
		c.Colors[k] = v
	}
	return c
}

// Apply returns a copy of the state with patch fields overlaid. Version
// bookkeeping is left to the caller.
func (s SharedState) Apply(patch StatePatch) SharedState {
	c := s.Clone()
	if patch.Theme != nil {
		c.Theme = *patch.Theme
	}
	if patch.Mode != nil {
		c.Mode = *patch.Mode
	}
	if patch.Colors != nil {
		c.Colors = make(map[string]string, len(patch.Colors))
		for k, v := range patch.Colors {
			c.Colors[k] = v
		}
	}
	return c
}

// SameContent compares theme, mode and colors ignoring version metadata
func (s SharedState) SameContent(o SharedState) bool {
	return s.Theme == o.Theme && s.Mode == o.Mode && SameColors(s.Colors, o.Colors)
}

// Identical compares content and every piece of version metadata
func (s SharedState) Identical(o SharedState) bool {
	return s.Version == o.Version &&
		s.LastModified == o.LastModified &&
		s.LastModifiedBy == o.LastModifiedBy &&
		s.SameContent(o)
}

func SameColors(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
