// Package pipeline wires the framer, classifier, status model, and
// renderer together and owns the lifecycle state machine and the sink
// list. It is the single mutator of the ContextTable, SkipState, and
// render bookkeeping; none of its collaborators reach back into pipeline
// state.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/drmikehenry/ptee/internal/classify"
	"github.com/drmikehenry/ptee/internal/framer"
	"github.com/drmikehenry/ptee/internal/render"
	"github.com/drmikehenry/ptee/internal/sinkdetect"
	"github.com/drmikehenry/ptee/internal/status"
)

// openTruncFlags/openAppendFlags are the os.OpenFile flag combinations for
// an auxiliary OUTFILE: truncate-and-create by default, or append when
// --append is given.
const (
	openTruncFlags  = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	openAppendFlags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
)

// State is the pipeline lifecycle.
type State int

const (
	Idle State = iota
	Streaming
	Draining
	Done
	Failed
)

// InputError wraps a non-EOF read failure on the input stream. It is
// logged and treated as EOF: the pipeline drains and exits cleanly rather
// than aborting mid-status.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return fmt.Sprintf("input read failed: %v", e.Err) }
func (e *InputError) Unwrap() error { return e.Err }

// Config bundles everything the pipeline needs to construct its
// collaborators, already validated by the caller (cmd/ptee).
type Config struct {
	Input          io.Reader
	Classifier     *classify.Classifier
	PartialTimeout time.Duration
	Primary        *render.Sink
	Aux            []*render.Sink
	Log            *slog.Logger
}

// Pipeline runs one end-to-end invocation: input to classification to
// rendering, across every configured sink.
type Pipeline struct {
	cfg    Config
	status *status.State
	render *render.Renderer
	state  State
}

// New constructs a Pipeline ready to Run.
func New(cfg Config) *Pipeline {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		status: status.New(),
		render: render.New(cfg.Primary, cfg.Aux, cfg.Log),
		state:  Idle,
	}
}

// State reports the current lifecycle state.
func (p *Pipeline) State() State { return p.state }

// Run drives the framer to completion, classifying and rendering every
// line it produces. ctx cancellation (SIGINT/SIGTERM) causes an immediate
// clean status-line erase on every sink before Run returns, leaving the
// terminal tidy regardless of exit path.
func (p *Pipeline) Run(ctx context.Context) error {
	p.state = Streaming
	f := framer.New(p.cfg.Input, p.cfg.PartialTimeout)
	events := f.Run()

	for {
		select {
		case <-ctx.Done():
			p.state = Draining
			_ = p.render.EndOfStream()
			_ = p.render.Close()
			p.state = Done
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				p.state = Done
				return nil
			}
			if err := p.handle(ev); err != nil {
				p.state = Failed
				_ = p.render.EndOfStream()
				_ = p.render.Close()
				return err
			}
		}
	}
}

func (p *Pipeline) handle(ev framer.Event) error {
	switch ev.Kind {
	case framer.CompleteLine:
		if ev.Bypass {
			if err := p.render.BypassComplete(ev.Tail); err != nil {
				return err
			}
			return nil
		}
		return p.classifyAndRender(ev.Text)

	case framer.PartialFlush:
		committed := p.status.Commit()
		return p.render.PartialFlush(committed, ev.Text)

	case framer.EndOfPartialRun:
		return nil

	case framer.EndOfStream:
		if ev.Err != nil {
			p.cfg.Log.Warn("input read failed, draining as EOF", "error", &InputError{Err: ev.Err})
		}
		p.state = Draining
		if err := p.render.EndOfStream(); err != nil {
			return err
		}
		return p.render.Close()

	default:
		return nil
	}
}

func (p *Pipeline) classifyAndRender(text string) error {
	class := p.cfg.Classifier.Classify(text)
	switch class.Kind {
	case classify.Skip:
		return nil

	case classify.Heading:
		composed := ""
		if !p.status.Empty() {
			composed = p.status.Compose()
		}
		return p.render.Heading(text, composed)

	case classify.Context:
		p.status.SetContext(class.Level, text)
		return p.render.UpdateContext(p.status.Compose())

	default: // classify.Regular
		committed := p.status.Commit()
		return p.render.Regular(committed, text)
	}
}

// OpenMode reports the os.OpenFile flag combination for an auxiliary
// OUTFILE: truncate by default, append when requested.
func OpenMode(appendMode bool) int {
	if appendMode {
		return openAppendFlags
	}
	return openTruncFlags
}

// SinkFor wraps an opened file as a render.Sink with the given strip and
// width resolution.
func SinkFor(name string, w io.Writer, kind sinkdetect.Kind, strip bool, widthFn func() (int, bool)) *render.Sink {
	return &render.Sink{
		Name:  name,
		Writer: w,
		Kind:  kind,
		Strip: strip,
		Width: widthFn,
	}
}
