package pipeline

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drmikehenry/ptee/internal/classify"
	"github.com/drmikehenry/ptee/internal/sinkdetect"
)

func runPipeline(t *testing.T, input string, classifier *classify.Classifier, strip bool) string {
	t.Helper()
	var out bytes.Buffer
	primary := SinkFor("stdout", &out, sinkdetect.Stream, strip, nil)
	primary.IsPrimary = true

	p := New(Config{
		Input:          strings.NewReader(input),
		Classifier:     classifier,
		PartialTimeout: 0,
		Primary:        primary,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	return out.String()
}

// A context left pending at end-of-stream, with no following Regular or
// Heading event, is never promoted to permanent output (see DESIGN.md).
func TestScenarioA_BasicContextOverwrite(t *testing.T) {
	c, err := classify.New(nil, []classify.LevelRule{{Level: 0, Pattern: "^gcc"}}, nil)
	require.NoError(t, err)

	input := "gcc a.c\ngcc b.c\nwarning: x\ngcc c.c\n"
	got := runPipeline(t, input, c, true)

	require.Equal(t, "gcc b.c\nwarning: x\n", got)
}

func TestScenarioB_ThreeLevelHierarchy(t *testing.T) {
	c, err := classify.New(nil, []classify.LevelRule{
		{Level: 0, Pattern: `^(x86|x86_64):`},
		{Level: 1, Pattern: `^Building `},
		{Level: 2, Pattern: `^\[`},
	}, nil)
	require.NoError(t, err)

	input := "x86:\nBuilding c1:\n[compile] f1.o\n[compile] f2.o\nwarn\nx86_64:\n"
	got := runPipeline(t, input, c, true)

	require.Equal(t, "x86:\nBuilding c1:\n[compile] f2.o\nwarn\n", got)
}

func TestScenarioC_HeadingDoesNotFlushStatus(t *testing.T) {
	c, err := classify.New(
		[]string{`^-----`},
		[]classify.LevelRule{{Level: 2, Pattern: `^\[`}},
		nil,
	)
	require.NoError(t, err)

	input := "[compile] f1.o\n----- x86 -----\n[compile] f2.o\n"
	got := runPipeline(t, input, c, true)

	require.Equal(t, "----- x86 -----\n", got)
}

func TestScenarioD_Skip(t *testing.T) {
	c, err := classify.New(
		nil,
		[]classify.LevelRule{{Level: 2, Pattern: `^\[`}},
		[]classify.SkipRule{{Count: 3, Pattern: `^system-header`}},
	)
	require.NoError(t, err)

	input := "[compile] f1.o\nsystem-header:1: warn\nin arg\n---^\n[compile] f2.o\n"
	got := runPipeline(t, input, c, true)

	require.Equal(t, "", got) // nothing is ever promoted: no Regular/Heading event occurs
}

// Strip mode on a non-terminal sink never emits \r, and regular lines are
// preceded by their live context at classification time.
func TestScenarioF_StripModeHasNoCarriageReturns(t *testing.T) {
	c, err := classify.New(nil, []classify.LevelRule{{Level: 0, Pattern: "^ctx"}}, nil)
	require.NoError(t, err)

	input := "ctx one\nregular one\nctx two\nregular two\n"
	got := runPipeline(t, input, c, true)

	require.NotContains(t, got, "\r")
	require.Equal(t, "ctx one\nregular one\nctx two\nregular two\n", got)
}

func TestNonStripModeRetainsOverwrittenStatusAsCarriageReturn(t *testing.T) {
	c, err := classify.New(nil, []classify.LevelRule{{Level: 0, Pattern: "^ctx"}}, nil)
	require.NoError(t, err)

	input := "ctx one\nctx two\nregular\n"
	got := runPipeline(t, input, c, false)

	require.Contains(t, got, "\r")
	require.True(t, strings.HasSuffix(got, "ctx two\nregular\n"))
}

func TestInvariant1_AllLinesAccountedForMinusSkipped(t *testing.T) {
	c, err := classify.New(nil, nil, []classify.SkipRule{{Count: 2, Pattern: "^drop"}})
	require.NoError(t, err)

	input := "keep1\ndrop1\ndrop2\nkeep2\n"
	got := runPipeline(t, input, c, true)

	require.Equal(t, "keep1\nkeep2\n", got)
}

func TestAppendModeOpenFlagsVsTruncate(t *testing.T) {
	require.NotEqual(t, OpenMode(false), OpenMode(true))
}

func TestPipelineStateTransitionsToDone(t *testing.T) {
	c, err := classify.New(nil, nil, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	primary := SinkFor("stdout", &out, sinkdetect.Stream, true, nil)
	primary.IsPrimary = true
	p := New(Config{Input: strings.NewReader("hello\n"), Classifier: c, Primary: primary})

	require.Equal(t, Idle, p.State())
	require.NoError(t, p.Run(context.Background()))
	require.Equal(t, Done, p.State())
}

func TestContextCancellationErasesStatusAndReturns(t *testing.T) {
	c, err := classify.New(nil, []classify.LevelRule{{Level: 0, Pattern: "^ctx"}}, nil)
	require.NoError(t, err)

	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	primary := SinkFor("stdout", &out, sinkdetect.Terminal, false, func() (int, bool) { return 0, false })
	primary.IsPrimary = true
	p := New(Config{Input: pr, Classifier: c, Primary: primary})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _ = pw.Write([]byte("ctx line\n"))
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err = p.Run(ctx)
	require.Error(t, err)
	require.Equal(t, Done, p.State())
}
