package config

// Section is a named, colored, ordered grouping bucket for threads.
// A thread referencing no section belongs to the default section.
type Section struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ColorHex  string `json:"colorHex"`
	SortOrder int    `json:"sortOrder"`
	IsDefault bool   `json:"isDefault,omitempty"`

	// IsVisible is a pointer so documents written before the field existed
	// load as visible rather than hidden.
	IsVisible *bool `json:"isVisible,omitempty"`
}

// Visible reports whether the section should be shown. Unset means visible.
func (sec *Section) Visible() bool {
	return sec.IsVisible == nil || *sec.IsVisible
}

// SectionByID returns a copy of the section with the given ID.
func (s *Settings) SectionByID(id string) (Section, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sec := range s.ThreadSections {
		if sec.ID == id {
			return sec, true
		}
	}
	return Section{}, false
}

// SectionByName returns a copy of the section with the given name.
func (s *Settings) SectionByName(name string) (Section, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sec := range s.ThreadSections {
		if sec.Name == name {
			return sec, true
		}
	}
	return Section{}, false
}

// AllSections returns copies of every section.
func (s *Settings) AllSections() []Section {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Section, len(s.ThreadSections))
	copy(out, s.ThreadSections)
	return out
}

// AddSection appends a section to the document.
func (s *Settings) AddSection(sec Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ThreadSections = append(s.ThreadSections, sec)
}

// NextSectionSortOrder returns one past the highest sort order in use.
func (s *Settings) NextSectionSortOrder() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := 0
	for _, sec := range s.ThreadSections {
		if sec.SortOrder >= next {
			next = sec.SortOrder + 1
		}
	}
	return next
}
