// Package render owns every byte written to the primary sink and any
// auxiliary sinks: the overwritten single-row status line for terminal
// sinks, plain appended lines for stream sinks, and the promotion of
// committed context lines to permanent output.
package render

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/drmikehenry/ptee/internal/sinkdetect"
)

// Sink is one output destination: the primary sink (stdout, always
// present) or one of the OUTFILE arguments.
type Sink struct {
	Name      string
	Writer    io.Writer
	Kind      sinkdetect.Kind
	Strip     bool
	IsPrimary bool
	Width     func() (int, bool) // may be nil (no truncation); called only for a non-stripped terminal sink
	Flusher   func() error       // optional; called after every write if set

	lastStatus string // only meaningful when !Strip
	failed     bool   // an auxiliary sink that already reported a write error
}

// PrimarySinkError reports a failed write to the primary sink, which is
// fatal for the whole pipeline.
type PrimarySinkError struct {
	Err error
}

func (e *PrimarySinkError) Error() string { return fmt.Sprintf("primary sink write failed: %v", e.Err) }
func (e *PrimarySinkError) Unwrap() error { return e.Err }

// AuxiliarySinkError reports a failed write to a non-primary sink. The
// renderer logs it and drops that sink from further fan-out rather than
// aborting the whole pipeline.
type AuxiliarySinkError struct {
	Sink string
	Err  error
}

func (e *AuxiliarySinkError) Error() string {
	return fmt.Sprintf("auxiliary sink %q write failed: %v", e.Sink, e.Err)
}
func (e *AuxiliarySinkError) Unwrap() error { return e.Err }

// Renderer fans every event out to a primary sink and zero or more
// auxiliary sinks, in declared order.
type Renderer struct {
	primary *Sink
	aux     []*Sink
	log     *slog.Logger

	// Strip sinks never receive a partial line's text until it completes:
	// stripped output holds only what the user would retain at the end.
	// These hold what such a sink still owes once the bypass line completes.
	stripPendingLines []string
	stripPendingText  strings.Builder
	stripPending      bool
}

// New constructs a Renderer. primary must be non-nil; aux may be empty.
func New(primary *Sink, aux []*Sink, log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	return &Renderer{primary: primary, aux: aux, log: log}
}

// UpdateContext writes the live, single-row composed status to every
// terminal sink (overwrite mode) and the raw status followed by "\r" to
// every non-stripped stream sink that opted into --no-strip. Stripped
// sinks ignore live status entirely; it is never part of their permanent
// output.
func (r *Renderer) UpdateContext(composed string) error {
	return r.fanOut(func(s *Sink) error {
		if s.Strip {
			return nil
		}
		return writeStatus(s, composed)
	})
}

// Heading writes text as a permanent line on every sink, after first
// erasing any live overwritten row on terminal sinks, then redraws
// composedStatus if it is non-empty. A heading clears the live status
// display but leaves the context table itself untouched.
func (r *Renderer) Heading(text, composedStatus string) error {
	if err := r.fanOut(func(s *Sink) error {
		eraseStatus(s)
		return writeLine(s, text)
	}); err != nil {
		return err
	}
	if composedStatus == "" {
		return nil
	}
	return r.UpdateContext(composedStatus)
}

// Regular writes committedLines (the context lines promoted by this
// Regular event, ascending level order, already filtered for emptiness by
// internal/status) followed by text, each as its own permanent line. Any
// live overwritten row is erased first on terminal sinks.
func (r *Renderer) Regular(committedLines []string, text string) error {
	return r.fanOut(func(s *Sink) error {
		eraseStatus(s)
		for _, line := range committedLines {
			if err := writeLine(s, line); err != nil {
				return err
			}
		}
		return writeLine(s, text)
	})
}

// PartialFlush handles a partial-line timeout firing mid-line.
// committedLines are any context lines newly promoted at this moment
// (ordinarily non-empty only on the first flush of a given bypass run);
// fragment is the new text received since the previous flush. Non-strip
// sinks show it immediately, raw and without a trailing newline, so
// prompts reach the user promptly. Strip sinks hold everything until
// BypassComplete, since the line has not finished yet.
func (r *Renderer) PartialFlush(committedLines []string, fragment string) error {
	if !r.stripPending {
		r.stripPendingLines = committedLines
		r.stripPending = true
	}
	r.stripPendingText.WriteString(fragment)

	return r.fanOut(func(s *Sink) error {
		if s.Strip {
			return nil
		}
		eraseStatus(s)
		for _, line := range committedLines {
			if err := writeLine(s, line); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(s.Writer, fragment); err != nil {
			return err
		}
		return flush(s)
	})
}

// BypassComplete finishes a bypass line once its trailing newline has
// arrived. tail is the text received since the last PartialFlush (possibly
// empty). Non-strip sinks, which already displayed every earlier fragment,
// only need tail plus a newline; strip sinks receive everything they were
// owed, as one fully-formed Regular-style commit.
func (r *Renderer) BypassComplete(tail string) error {
	pendingLines := r.stripPendingLines
	pendingText := r.stripPendingText.String()
	r.stripPendingLines = nil
	r.stripPendingText.Reset()
	r.stripPending = false

	return r.fanOut(func(s *Sink) error {
		if s.Strip {
			for _, line := range pendingLines {
				if err := writeLine(s, line); err != nil {
					return err
				}
			}
			return writeLine(s, pendingText+tail)
		}
		return writeLine(s, tail)
	})
}

// EndOfStream erases any live overwritten row on terminal sinks. It never
// promotes pending context to permanent output: only a Regular event does
// that (see DESIGN.md's resolution of the end-of-stream commit question).
func (r *Renderer) EndOfStream() error {
	return r.fanOut(func(s *Sink) error {
		eraseStatus(s)
		return nil
	})
}

// Close closes every auxiliary sink whose writer is an io.Closer. The
// primary sink (stdout) is never closed.
func (r *Renderer) Close() error {
	var firstErr error
	for _, s := range r.aux {
		if c, ok := s.Writer.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Renderer) fanOut(write func(*Sink) error) error {
	if err := write(r.primary); err != nil {
		return &PrimarySinkError{Err: err}
	}
	live := r.aux[:0]
	for _, s := range r.aux {
		if s.failed {
			continue
		}
		if err := write(s); err != nil {
			s.failed = true
			r.log.Warn("dropping auxiliary sink after write failure",
				"sink", s.Name, "error", err)
			continue
		}
		live = append(live, s)
	}
	r.aux = live
	return nil
}

func writeLine(s *Sink, text string) error {
	if _, err := io.WriteString(s.Writer, text+"\n"); err != nil {
		return err
	}
	return flush(s)
}

// writeStatus draws the live status line. For a terminal sink the status
// is truncated to fit the sampled width (with a middle ellipsis rather
// than a flat cut), padded to at least the length of the previously
// written status so stale trailing characters are overwritten, and
// terminated with "\r" instead of "\n". A non-terminal sink that opted
// into --no-strip gets the raw status plus "\r" with no padding or
// truncation; it has no "previous width" to erase since nothing is ever
// overwritten in a file.
func writeStatus(s *Sink, status string) error {
	status = strings.TrimRight(status, " \t\n\r")
	status = expandTabs(status)

	if s.Kind != sinkdetect.Terminal {
		if status == "" {
			return nil
		}
		if _, err := io.WriteString(s.Writer, status+"\r"); err != nil {
			return err
		}
		return flush(s)
	}

	if s.Width != nil {
		if width, ok := s.Width(); ok && width > 0 && utf8.RuneCountInString(status) > width {
			status = truncateEllipsis(status, width)
		}
	}

	padded := status
	if runeLen, lastLen := utf8.RuneCountInString(padded), utf8.RuneCountInString(s.lastStatus); runeLen < lastLen {
		padded = padded + strings.Repeat(" ", lastLen-runeLen)
	}
	if padded != "" {
		if _, err := io.WriteString(s.Writer, padded+"\r"); err != nil {
			return err
		}
		if err := flush(s); err != nil {
			return err
		}
	}
	s.lastStatus = status
	return nil
}

func eraseStatus(s *Sink) {
	if s.Strip || s.lastStatus == "" {
		return
	}
	io.WriteString(s.Writer, strings.Repeat(" ", utf8.RuneCountInString(s.lastStatus))+"\r")
	flush(s)
	s.lastStatus = ""
}

func flush(s *Sink) error {
	if s.Flusher != nil {
		return s.Flusher()
	}
	return nil
}

func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", "        ")
}

// truncateEllipsis keeps the first 3/4 and last 1/4 of the room remaining
// after the " ... " marker, unless status is shorter than a 10-character
// minimum, in which case it is left alone (and then hard-cut to width
// below regardless). Operates on runes throughout so a multi-byte UTF-8
// character is never split.
func truncateEllipsis(status string, width int) string {
	const ellipsis = " ... "
	const minWidth = 10
	runes := []rune(status)
	if len(runes) >= minWidth {
		room := width - utf8.RuneCountInString(ellipsis)
		if room > 0 {
			preRoom := (room * 3) / 4
			postRoom := room - preRoom
			if preRoom >= 0 && postRoom >= 0 && preRoom+postRoom <= len(runes) {
				head := runes[:preRoom]
				tail := runes[len(runes)-postRoom:]
				runes = append(append(append([]rune{}, head...), []rune(ellipsis)...), tail...)
			}
		}
	}
	if len(runes) > width {
		runes = runes[:width]
	}
	return string(runes)
}
