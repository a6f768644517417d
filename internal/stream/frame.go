// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// FRAME READER CONSTANTS
// =============================================================================

const (
	// MaxLineSize caps a single buffered line (1 MiB). Window analyses carry
	// their window text, so lines are much longer than a token, but anything
	// past this is a broken or hostile stream.
	MaxLineSize = 1 << 20

	// readBufferSize is the size of each transport read.
	readBufferSize = 32 * 1024
)

// ErrLineTooLong is returned when an unterminated line grows past MaxLineSize.
var ErrLineTooLong = errors.New("stream line exceeds maximum size")

// ReadError wraps a transport failure. It is the single terminal signal a
// FrameReader emits when a read fails; every later call returns it again.
type ReadError struct {
	Err error
}

// Error implements the error interface.
func (e *ReadError) Error() string {
	return fmt.Sprintf("stream read error: %v", e.Err)
}

// Unwrap returns the underlying transport error.
func (e *ReadError) Unwrap() error {
	return e.Err
}

// =============================================================================
// FRAME READER
// =============================================================================

// FrameReader splits a byte stream into text lines.
//
// Text is decoded with a UTF-8 decoder that lives as long as the reader, so an
// incomplete multi-byte sequence at the end of one chunk is held back and
// completed by the next. Invalid bytes decode to U+FFFD. Only '\n' and "\r\n"
// end a line; a lone '\r' is kept as part of the line text.
//
// A FrameReader is forward-only and not restartable. It is not safe for
// concurrent use.
type FrameReader struct {
	src     io.Reader
	buf     []byte
	decoder transform.Transformer
	scratch []byte

	carry   []byte          // undecoded tail of the previous chunk
	partial strings.Builder // decoded text after the last newline
	queue   []string
	err     error

	bytesRead int64
}

// NewFrameReader creates a FrameReader that pulls chunks from r.
func NewFrameReader(r io.Reader) *FrameReader {
	f := newFrameDecoder()
	f.src = r
	f.buf = make([]byte, readBufferSize)
	return f
}

// NewPushFrameReader creates a FrameReader with no source. Chunks are handed
// to it with Feed and the final fragment is collected with Flush.
func NewPushFrameReader() *FrameReader {
	return newFrameDecoder()
}

func newFrameDecoder() *FrameReader {
	return &FrameReader{
		decoder: unicode.UTF8.NewDecoder(),
		scratch: make([]byte, 4096),
	}
}

// Next returns the next complete line. It returns io.EOF once the source is
// exhausted and every buffered line has been returned; an unterminated final
// fragment is returned as a line before that. A failed read yields a
// *ReadError after the lines decoded before the failure.
func (f *FrameReader) Next() (string, error) {
	for len(f.queue) == 0 {
		if f.err != nil {
			return "", f.err
		}
		if f.src == nil {
			f.err = io.EOF
			continue
		}

		n, err := f.src.Read(f.buf)
		if n > 0 {
			f.bytesRead += int64(n)
			lines, feedErr := f.Feed(f.buf[:n])
			f.queue = append(f.queue, lines...)
			if feedErr != nil {
				f.err = feedErr
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				f.queue = append(f.queue, f.Flush()...)
				f.err = io.EOF
			} else {
				f.err = &ReadError{Err: err}
			}
		}
	}

	line := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	return line, nil
}

// Feed decodes one chunk and returns the lines it completed. Text after the
// last newline stays buffered for the next call.
func (f *FrameReader) Feed(chunk []byte) ([]string, error) {
	text := f.decode(chunk, false)
	if text == "" {
		return nil, nil
	}

	var lines []string
	for {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			break
		}
		f.partial.WriteString(text[:idx])
		lines = append(lines, strings.TrimSuffix(f.partial.String(), "\r"))
		f.partial.Reset()
		text = text[idx+1:]
	}
	f.partial.WriteString(text)

	if f.partial.Len() > MaxLineSize {
		f.partial.Reset()
		return lines, &ReadError{Err: ErrLineTooLong}
	}
	return lines, nil
}

// Flush ends the input. Held-back bytes of an incomplete character decode to
// U+FFFD, and a non-empty unterminated fragment is returned as a final line.
func (f *FrameReader) Flush() []string {
	f.partial.WriteString(f.decode(nil, true))
	if f.partial.Len() == 0 {
		return nil
	}
	last := strings.TrimSuffix(f.partial.String(), "\r")
	f.partial.Reset()
	return []string{last}
}

// BytesRead returns the number of bytes pulled from the source so far.
func (f *FrameReader) BytesRead() int64 {
	return f.bytesRead
}

// decode runs the persistent UTF-8 decoder over carry+chunk. An incomplete
// trailing sequence is kept in carry unless atEOF is set.
func (f *FrameReader) decode(chunk []byte, atEOF bool) string {
	src := chunk
	if len(f.carry) > 0 {
		src = append(f.carry, chunk...)
		f.carry = nil
	}
	if len(src) == 0 {
		return ""
	}

	var out strings.Builder
	for len(src) > 0 {
		nDst, nSrc, err := f.decoder.Transform(f.scratch, src, atEOF)
		out.Write(f.scratch[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			if nSrc == 0 && nDst == 0 {
				return out.String()
			}
		case errors.Is(err, transform.ErrShortDst):
			if nSrc == 0 && nDst == 0 {
				f.scratch = make([]byte, 2*len(f.scratch))
			}
		case errors.Is(err, transform.ErrShortSrc):
			f.carry = append([]byte(nil), src...)
			return out.String()
		default:
			// The UTF-8 decoder replaces bad input instead of failing, so
			// this is unreachable in practice. Drop one byte to make progress.
			out.WriteRune('\uFFFD')
			src = src[1:]
		}
	}
	return out.String()
}
