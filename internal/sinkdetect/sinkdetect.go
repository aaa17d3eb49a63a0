// Package sinkdetect resolves whether an output sink is an interactive
// terminal and, when it is, samples its column width, using
// golang.org/x/term for isatty detection and width queries.
package sinkdetect

import (
	"os"

	"golang.org/x/term"
)

// Kind distinguishes an interactive terminal sink from a stream (file or
// pipe) sink.
type Kind int

const (
	Stream Kind = iota
	Terminal
)

// DetectKind reports Terminal when f is an interactive terminal, Stream
// otherwise (a file, a pipe, or any other non-tty descriptor).
func DetectKind(f *os.File) Kind {
	if term.IsTerminal(int(f.Fd())) {
		return Terminal
	}
	return Stream
}

// StripPolicy controls whether overwrite noise is stripped from a sink's
// output, independent of how that sink's kind was detected.
type StripPolicy int

const (
	Auto StripPolicy = iota
	AlwaysStrip
	NeverStrip
)

// Resolve reports whether kind should be stripped under policy p. Auto
// strips exactly the non-terminal (Stream) sinks.
func (p StripPolicy) Resolve(kind Kind) bool {
	switch p {
	case AlwaysStrip:
		return true
	case NeverStrip:
		return false
	default:
		return kind == Stream
	}
}

// WidthFunc returns a function that samples f's terminal width, re-queried
// on every call since a window resize mid-run should be picked up on the
// next status write. override, when positive, takes precedence (an
// explicit --width). The returned bool is false when the width could not
// be determined (not a terminal, or the platform query failed), meaning no
// truncation applies.
func WidthFunc(f *os.File, override int) func() (int, bool) {
	if override > 0 {
		return func() (int, bool) { return override, true }
	}
	return func() (int, bool) {
		w, _, err := term.GetSize(int(f.Fd()))
		if err != nil {
			return 0, false
		}
		return w, true
	}
}
