// Command ptee is an enhanced "tee": it classifies each line of stdin into
// heading, context, skip, or regular, renders a single overwritten status
// row on an interactive terminal, and fans a copy out to zero or more
// OUTFILE arguments, with overwritten status removed unless --no-strip is
// given.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drmikehenry/ptee/internal/classify"
	"github.com/drmikehenry/ptee/internal/cliargs"
	"github.com/drmikehenry/ptee/internal/codec"
	"github.com/drmikehenry/ptee/internal/pipeline"
	"github.com/drmikehenry/ptee/internal/render"
	"github.com/drmikehenry/ptee/internal/sinkdetect"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

const defaultPartialLineTimeout = 2.0

var (
	headingRegexes []string
	appendMode     bool
	strip          bool
	noStrip        bool
	partialTimeout float64
	encoding       string
	width          int
)

var rootCmd = &cobra.Command{
	Use:     "ptee [OUTFILE...]",
	Short:   "Enhanced tee: classify lines and render an overwritten status row",
	Version: version,
	Long: `ptee reads stdin, classifies each line (heading, context at a given
level, skip, or regular), and renders a terminal view where context lines
continuously overwrite a single status row while regular lines scroll
above it. A copy of the stream is also written to each OUTFILE argument,
with overwritten status removed unless --no-strip is given.

--regex REGEX and --level-regex LEVEL REGEX both add a CONTEXT rule
(level 0 and LEVEL respectively); --skip-regex COUNT REGEX adds a SKIP
rule. These three flags take two or three tokens cobra cannot parse
directly, so they are pre-scanned out of argv before cobra ever sees
them; their relative order on the command line is preserved.`,
	Args: cobra.ArbitraryArgs,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringArrayVar(&headingRegexes, "heading-regex", nil,
		`append a HEADING regular expression`)
	rootCmd.Flags().BoolVarP(&appendMode, "append", "a", false,
		`append to given OUTFILEs, do not overwrite`)
	rootCmd.Flags().BoolVar(&strip, "strip", false,
		`remove any status that would be overwritten by a later line from every sink; default when stdout is not a terminal`)
	rootCmd.Flags().BoolVar(&noStrip, "no-strip", false,
		`keep overwritten status (as \r-terminated text) on every sink; by default only a terminal stdout keeps it`)
	rootCmd.Flags().Float64Var(&partialTimeout, "partial-line-timeout", defaultPartialLineTimeout,
		`seconds to wait for the remainder of a line before flushing it as-is (0 disables the timeout)`)
	rootCmd.Flags().StringVar(&encoding, "encoding", "utf-8",
		`text encoding for stdin decoding and all output sinks`)
	rootCmd.Flags().IntVar(&width, "width", 0,
		`terminal width for truncating the status line (0 autodetects)`)
}

func main() {
	extracted, err := cliargs.Extract(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ptee:", err)
		os.Exit(1)
	}
	rootCmd.SetArgs(extracted.Remainder)
	rootCmd.SilenceUsage = true

	levelRules := make([]classify.LevelRule, 0, len(extracted.LevelRegexes))
	for _, lr := range extracted.LevelRegexes {
		levelRules = append(levelRules, classify.LevelRule{Level: lr.Level, Pattern: lr.Pattern})
	}
	// extracted.LevelRegexes already holds --regex and --level-regex
	// occurrences merged in command-line order (see internal/cliargs), so
	// no further combining is needed here.
	skipRules := make([]classify.SkipRule, 0, len(extracted.SkipRegexes))
	for _, sr := range extracted.SkipRegexes {
		skipRules = append(skipRules, classify.SkipRule{Count: sr.Count, Pattern: sr.Pattern})
	}
	pendingLevelRules = levelRules
	pendingSkipRules = skipRules

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ptee:", err)
		os.Exit(exitCodeFor(err))
	}
}

// pendingLevelRules/pendingSkipRules carry the pre-scanned two-token flags
// from main into run, since cobra's RunE signature has no room for extra
// arguments.
var (
	pendingLevelRules []classify.LevelRule
	pendingSkipRules  []classify.SkipRule
)

func run(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if partialTimeout < 0 {
		return &classify.ConfigError{Field: "--partial-line-timeout", Err: fmt.Errorf("must be >= 0, got %v", partialTimeout)}
	}
	if strip && noStrip {
		return &classify.ConfigError{Field: "--strip/--no-strip", Err: fmt.Errorf("cannot combine --strip and --no-strip")}
	}

	classifier, err := classify.New(headingRegexes, pendingLevelRules, pendingSkipRules)
	if err != nil {
		return err
	}

	decodedStdin, err := codec.NewDecodeReader(os.Stdin, encoding)
	if err != nil {
		return err
	}

	stripPolicy := sinkdetect.Auto
	switch {
	case strip:
		stripPolicy = sinkdetect.AlwaysStrip
	case noStrip:
		stripPolicy = sinkdetect.NeverStrip
	}

	stdoutKind := sinkdetect.DetectKind(os.Stdout)
	encodedStdout, err := codec.NewEncodeWriter(os.Stdout, encoding)
	if err != nil {
		return err
	}
	primary := pipeline.SinkFor("stdout", encodedStdout, stdoutKind,
		stripPolicy.Resolve(stdoutKind), sinkdetect.WidthFunc(os.Stdout, width))
	primary.IsPrimary = true
	primary.Flusher = func() error {
		// fsync is not supported on pipes and terminals (EINVAL); writes to
		// os.Stdout are unbuffered, so that is not a write failure.
		if err := os.Stdout.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
			return err
		}
		return nil
	}

	aux, closeAux, err := openAuxSinks(args, stripPolicy, encoding, log)
	if err != nil {
		return err
	}
	defer closeAux()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(pipeline.Config{
		Input:          decodedStdin,
		Classifier:     classifier,
		PartialTimeout: time.Duration(partialTimeout * float64(time.Second)),
		Primary:        primary,
		Aux:            aux,
		Log:            log,
	})

	return p.Run(ctx)
}

// openAuxSinks opens each OUTFILE argument with the mode --append calls
// for, resolving its own strip policy independently of the primary sink.
// A file that fails to open is logged as a warning and dropped rather than
// aborting the run.
func openAuxSinks(names []string, stripPolicy sinkdetect.StripPolicy, encoding string, log *slog.Logger) ([]*render.Sink, func(), error) {
	var sinks []*render.Sink
	var files []*os.File

	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for _, name := range names {
		f, err := os.OpenFile(name, pipeline.OpenMode(appendMode), 0o644)
		if err != nil {
			log.Warn("dropping auxiliary sink: open failed", "sink", name, "error", err)
			continue
		}
		files = append(files, f)

		encoded, err := codec.NewEncodeWriter(f, encoding)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}

		kind := sinkdetect.Stream // OUTFILEs are always files, never interactive terminals.
		sinks = append(sinks, pipeline.SinkFor(name, encoded, kind, stripPolicy.Resolve(kind), nil))
	}

	return sinks, closeAll, nil
}

// exitCodeFor maps an error returned from run to a process exit code: any
// ConfigError, PrimarySinkError, or other failure is non-zero. Every path
// already returns non-zero; the type switch exists so a future distinct
// exit code per error kind has somewhere to go.
func exitCodeFor(err error) int {
	var cfgErr *classify.ConfigError
	var primErr *render.PrimarySinkError
	switch {
	case errors.As(err, &cfgErr):
		return 1
	case errors.As(err, &primErr):
		return 1
	default:
		return 1
	}
}
