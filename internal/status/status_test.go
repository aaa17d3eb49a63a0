package status

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetContextClearsDeeperLevels(t *testing.T) {
	s := New()
	s.SetContext(0, "x86:")
	s.SetContext(1, "Building c1:")
	s.SetContext(2, "[compile] f1.o")
	require.Equal(t, "x86:  Building c1:  [compile] f1.o", s.Compose())

	// Context(L) deletes every table[k] for k > L.
	s.SetContext(0, "x86_64:")
	require.Equal(t, "x86_64:", s.Compose())
}

func TestSetContextLeavesShallowerLevelsAlone(t *testing.T) {
	s := New()
	s.SetContext(0, "outer")
	s.SetContext(1, "inner")
	s.SetContext(1, "inner again")
	require.Equal(t, "outer  inner again", s.Compose())
}

func TestComposeKeepsEmptySlotsForGaps(t *testing.T) {
	s := New()
	s.SetContext(2, "deep")
	require.Equal(t, "    deep", s.Compose()) // "" + "  " + "" + "  " + "deep"
}

func TestEmptyReportsNoLevelsEverSet(t *testing.T) {
	s := New()
	require.True(t, s.Empty())
	s.SetContext(0, "a")
	require.False(t, s.Empty())
}

func TestCommitReturnsOnlyNewlyPromotedLevels(t *testing.T) {
	s := New()
	s.SetContext(0, "x86:")
	s.SetContext(1, "Building c1:")
	s.SetContext(2, "[compile] f1.o")
	s.SetContext(2, "[compile] f2.o")

	// First Regular promotes everything currently set.
	require.Equal(t, []string{"x86:", "Building c1:", "[compile] f2.o"}, s.Commit())

	// A second Regular with no intervening Context change has nothing new.
	require.Empty(t, s.Commit())
}

func TestCommitSkipsNeverSetLevels(t *testing.T) {
	s := New()
	s.SetContext(2, "only level two")
	require.Equal(t, []string{"only level two"}, s.Commit())
}

func TestSetContextAfterCommitReopensOnlyThatLevel(t *testing.T) {
	s := New()
	s.SetContext(0, "a")
	s.SetContext(1, "b")
	require.Equal(t, []string{"a", "b"}, s.Commit())

	// Re-setting level 1 should make it pending again without re-promoting
	// the already-committed level 0.
	s.SetContext(1, "b2")
	require.Equal(t, []string{"b2"}, s.Commit())
}

func TestSetContextBelowCommittedLevelReopensIt(t *testing.T) {
	s := New()
	s.SetContext(0, "a")
	s.SetContext(1, "b")
	require.Equal(t, []string{"a", "b"}, s.Commit())

	// A context at level 0 after both levels were committed must also clear
	// level 1 and make level 0 pending again.
	s.SetContext(0, "a2")
	require.Equal(t, []string{"a2"}, s.Commit())
	require.Equal(t, "a2", s.Compose())
}
