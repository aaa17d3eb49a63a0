// Package status holds the per-level context table and computes the live
// status string shown on the terminal's single overwritten row. Permanent
// ("committed") output is produced separately by Commit, which returns
// exactly the per-level lines that have not yet been promoted to permanent
// output.
package status

import "strings"

// Separator joins per-level entries into the single-row live status text.
const Separator = "  "

// State is the live ContextTable plus the bookkeeping needed to avoid
// re-promoting already-committed levels on a later Regular line.
type State struct {
	table     []string // index = level; "" for an unset or cleared slot
	committed int       // levels [0, committed) have already been promoted
}

// New returns an empty State.
func New() *State {
	return &State{}
}

// SetContext updates level L and clears every level deeper than L. If L
// was already promoted to permanent output, it becomes pending again so a
// later Regular line re-promotes it.
func (s *State) SetContext(level int, text string) {
	if s.committed > level {
		s.committed = level
	}
	switch {
	case level < len(s.table):
		s.table = s.table[:level+1]
	default:
		grown := make([]string, level+1)
		copy(grown, s.table)
		s.table = grown
	}
	s.table[level] = text
}

// Compose concatenates table[0..Lmax] with a two-space separator for the
// live, single-row status display. Missing or cleared levels contribute an
// empty string; internal whitespace and newlines within an entry are
// preserved as given.
func (s *State) Compose() string {
	return strings.Join(s.table, Separator)
}

// Empty reports whether the table currently holds no levels at all.
func (s *State) Empty() bool {
	return len(s.table) == 0
}

// Commit returns the lines for every level not yet promoted to permanent
// output, in ascending level order, skipping empty (never-set or cleared)
// slots, and marks the whole table as promoted. It is called only on a
// Regular event — see DESIGN.md for why EndOfStream does not also call it.
func (s *State) Commit() []string {
	var lines []string
	for level := s.committed; level < len(s.table); level++ {
		if s.table[level] != "" {
			lines = append(lines, s.table[level])
		}
	}
	s.committed = len(s.table)
	return lines
}
