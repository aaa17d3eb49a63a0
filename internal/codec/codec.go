// Package codec is the thin boundary shim between raw file descriptors and
// the core pipeline, which operates on already-decoded text; codec is the
// only place that knows about the --encoding flag. Only UTF-8 (under any
// of its common spellings) is implemented; any other name is a
// ConfigError raised before streaming begins.
package codec

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ConfigError reports an --encoding value ptee does not know how to honor.
type ConfigError struct {
	Encoding string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid --encoding %q: only utf-8 is supported", e.Encoding)
}

func isUTF8(encoding string) bool {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "utf-8", "utf8", "u8":
		return true
	default:
		return false
	}
}

// NewDecodeReader validates encoding and, for UTF-8, returns an io.Reader
// that replaces invalid byte sequences with the Unicode replacement
// character and continues, rather than returning an error.
func NewDecodeReader(r io.Reader, encoding string) (io.Reader, error) {
	if !isUTF8(encoding) {
		return nil, &ConfigError{Encoding: encoding}
	}
	return &replacingDecoder{br: bufio.NewReader(r)}, nil
}

// NewEncodeWriter validates encoding for the output side. Since ptee's
// internal text representation is already UTF-8, encoding is the identity
// transform; this only exists so an unsupported --encoding is rejected
// consistently for both directions.
func NewEncodeWriter(w io.Writer, encoding string) (io.Writer, error) {
	if !isUTF8(encoding) {
		return nil, &ConfigError{Encoding: encoding}
	}
	return w, nil
}

// replacingDecoder re-encodes each decoded rune back to UTF-8, so a byte
// sequence that ReadRune rejects comes out as U+FFFD rather than being
// dropped or aborting the stream.
type replacingDecoder struct {
	br      *bufio.Reader
	pending []byte
}

func (d *replacingDecoder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(d.pending) > 0 {
		n := copy(p, d.pending)
		d.pending = d.pending[n:]
		return n, nil
	}

	r, _, err := d.br.ReadRune()
	if err != nil {
		return 0, err
	}

	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	m := copy(p, buf[:n])
	if m < n {
		d.pending = append(d.pending, buf[m:n]...)
	}
	return m, nil
}
