// Package framer turns a character stream with uncertain line framing into
// a sequence of line events. It runs a dedicated reader goroutine that
// posts chunks to a channel consumed by a single owner, so the
// partial-line timer can fire without blocking on the producer's next
// Read.
package framer

import (
	"bytes"
	"io"
	"time"
)

// EventKind identifies the variant of a framing event.
type EventKind int

const (
	// CompleteLine carries a newline-free line. Bypass is set when the
	// line was assembled from one or more PartialFlush fragments and must
	// be routed straight to Regular, bypassing classification.
	CompleteLine EventKind = iota
	// PartialFlush carries the current unterminated tail after the
	// partial-line timeout fires.
	PartialFlush
	// EndOfPartialRun marks the first newline to arrive after one or more
	// PartialFlush emissions, immediately preceding the bypass
	// CompleteLine event for the same line.
	EndOfPartialRun
	// EndOfStream marks a clean EOF (or the input being treated as EOF
	// after a non-fatal read error).
	EndOfStream
)

// Event is one item of the serialized event stream the Framer emits.
type Event struct {
	Kind EventKind
	Text string
	// Bypass is set on a CompleteLine assembled from one or more
	// PartialFlush fragments. Text then holds the full assembled line, and
	// Tail holds only the bytes received since the last PartialFlush (the
	// portion a terminal sink, which already displayed the earlier
	// fragments, still needs to finish the visible row).
	Bypass bool
	Tail   string
	// Err is set on EndOfStream when the stream ended because of a read
	// failure rather than a clean io.EOF: treated as EOF after draining
	// buffered bytes, but still worth reporting.
	Err error
}

// Framer reads r and emits Events on the channel returned by Run. Timeout
// of zero disables the partial-line timer entirely.
type Framer struct {
	r       io.Reader
	timeout time.Duration
}

// New constructs a Framer. timeout <= 0 disables the partial-line timer.
func New(r io.Reader, timeout time.Duration) *Framer {
	return &Framer{r: r, timeout: timeout}
}

type rawChunk struct {
	data []byte
	err  error
}

// Run starts the reader goroutine and drives the framing state machine,
// sending every Event on the returned channel and closing it once
// EndOfStream has been sent. Run itself does not block; it returns
// immediately while the framing loop runs on its own goroutine.
func (f *Framer) Run() <-chan Event {
	events := make(chan Event)
	go f.run(events)
	return events
}

func (f *Framer) run(events chan<- Event) {
	defer close(events)

	raw := make(chan rawChunk)
	go readLoop(f.r, raw)

	var pending []byte
	var partialActive bool
	var partialAccum []byte

	var timer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if f.timeout <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(f.timeout)
		} else {
			timer.Reset(f.timeout)
		}
		timerC = timer.C
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}

	for {
		select {
		case chunk := <-raw:
			if chunk.err != nil {
				stopTimer()
				if len(pending) > 0 {
					text := string(append(partialAccum, pending...))
					events <- Event{Kind: CompleteLine, Text: text, Bypass: true, Tail: string(pending)}
					pending = nil
					partialAccum = nil
				}
				var err error
				if chunk.err != io.EOF {
					err = chunk.err
				}
				events <- Event{Kind: EndOfStream, Err: err}
				return
			}

			pending = append(pending, chunk.data...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := pending[:idx]
				pending = pending[idx+1:]

				bypass := partialActive
				text := string(line)
				tail := ""
				if partialActive {
					events <- Event{Kind: EndOfPartialRun}
					partialActive = false
					tail = string(line)
					text = string(append(partialAccum, line...))
					partialAccum = nil
				}
				events <- Event{Kind: CompleteLine, Text: text, Bypass: bypass, Tail: tail}
			}

			if len(pending) > 0 {
				resetTimer()
			} else {
				stopTimer()
			}

		case <-timerC:
			if len(pending) > 0 {
				events <- Event{Kind: PartialFlush, Text: string(pending)}
				partialAccum = append(partialAccum, pending...)
				pending = nil
				partialActive = true
			}
			timerC = nil
		}
	}
}

func readLoop(r io.Reader, out chan<- rawChunk) {
	buf := make([]byte, 8192)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- rawChunk{data: data}
		}
		if err != nil {
			out <- rawChunk{err: err}
			return
		}
	}
}
