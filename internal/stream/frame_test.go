// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// collect drains a FrameReader and returns its lines and terminal error.
func collect(t *testing.T, f *FrameReader) ([]string, error) {
	t.Helper()
	var lines []string
	for i := 0; i < 10000; i++ {
		line, err := f.Next()
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
	t.Fatal("FrameReader did not terminate")
	return nil, nil
}

// feedAll pushes chunks through a push-mode reader and flushes it.
func feedAll(t *testing.T, chunks [][]byte) []string {
	t.Helper()
	f := NewPushFrameReader()
	var lines []string
	for _, c := range chunks {
		got, err := f.Feed(c)
		require.NoError(t, err)
		lines = append(lines, got...)
	}
	return append(lines, f.Flush()...)
}

func TestFrameReader_LineSplitAcrossChunks(t *testing.T) {
	lines := feedAll(t, [][]byte{
		[]byte(`data: {"type":"chu`),
		[]byte(`nk","content":"a"}` + "\n" + `data: {"type"`),
		[]byte(`:"chunk","content":"b"}` + "\n"),
	})

	assert.Equal(t, []string{
		`data: {"type":"chunk","content":"a"}`,
		`data: {"type":"chunk","content":"b"}`,
	}, lines)
}

func TestFrameReader_LineEndings(t *testing.T) {
	lines := feedAll(t, [][]byte{
		[]byte("data: a\r"),
		[]byte("\ndata: b\rstill b\n"),
		[]byte("data: c\r\n"),
	})

	assert.Equal(t, []string{"data: a", "data: b\rstill b", "data: c"}, lines)
}

func TestFrameReader_MultiByteSplitAcrossChunks(t *testing.T) {
	raw := []byte("data: héllo 日本 🙂\n")
	// Cut inside every multi-byte sequence: é is 2 bytes, 日 is 3, 🙂 is 4.
	e := strings.Index(string(raw), "é")
	ja := strings.Index(string(raw), "日")
	emoji := strings.Index(string(raw), "🙂")
	chunks := [][]byte{
		raw[:e+1],
		raw[e+1 : ja+2],
		raw[ja+2 : emoji+1],
		raw[emoji+1 : emoji+3],
		raw[emoji+3:],
	}

	lines := feedAll(t, chunks)
	require.Len(t, lines, 1)
	assert.Equal(t, "data: héllo 日本 🙂", lines[0])
	assert.NotContains(t, lines[0], "�")
}

func TestFrameReader_CRLF(t *testing.T) {
	lines := feedAll(t, [][]byte{[]byte("data: a\r"), []byte("\ndata: b\r\n\r\n")})
	assert.Equal(t, []string{"data: a", "data: b", ""}, lines)
}

func TestFrameReader_UnterminatedFinalLine(t *testing.T) {
	f := NewFrameReader(strings.NewReader("data: one\ndata: [DONE]"))
	lines, err := collect(t, f)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"data: one", "data: [DONE]"}, lines)
}

func TestFrameReader_InvalidBytesBecomeReplacement(t *testing.T) {
	lines := feedAll(t, [][]byte{{'a', 0xff, 'b', '\n'}})
	assert.Equal(t, []string{"a�b"}, lines)
}

func TestFrameReader_TruncatedCharacterAtEOF(t *testing.T) {
	f := NewFrameReader(strings.NewReader("x\xe6\x97"))
	lines, err := collect(t, f)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"x�"}, lines)
}

func TestFrameReader_OneByteReads(t *testing.T) {
	body := "data: 日本語\n: keep-alive\n\ndata: [DONE]\n"
	f := NewFrameReader(iotest.OneByteReader(strings.NewReader(body)))

	lines, err := collect(t, f)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"data: 日本語", ": keep-alive", "", "data: [DONE]"}, lines)
	assert.Equal(t, int64(len(body)), f.BytesRead())
}

func TestFrameReader_ReadErrorIsTerminal(t *testing.T) {
	boom := errors.New("connection reset")
	src := io.MultiReader(strings.NewReader("data: a\ndata: partial"), iotest.ErrReader(boom))
	f := NewFrameReader(src)

	lines, err := collect(t, f)
	assert.Equal(t, []string{"data: a"}, lines)

	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, boom)

	_, again := f.Next()
	assert.Same(t, err, again, "read error must be sticky")
}

func TestFrameReader_LineTooLong(t *testing.T) {
	f := NewPushFrameReader()
	big := strings.Repeat("x", MaxLineSize+1)

	_, err := f.Feed([]byte(big))
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestFrameReader_FragmentationInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		alphabet := rapid.RuneFrom([]rune("ab é日🙂:{}\"\r\n"))
		text := rapid.StringOfN(alphabet, 0, 60, -1).Draw(rt, "text")
		raw := []byte(text)

		cuts := rapid.SliceOfN(rapid.IntRange(0, len(raw)), 0, 8).Draw(rt, "cuts")
		sort.Ints(cuts)

		var chunks [][]byte
		prev := 0
		for _, c := range cuts {
			chunks = append(chunks, raw[prev:c])
			prev = c
		}
		chunks = append(chunks, raw[prev:])

		f := NewPushFrameReader()
		var got []string
		for _, c := range chunks {
			lines, err := f.Feed(c)
			if err != nil {
				rt.Fatalf("Feed: %v", err)
			}
			got = append(got, lines...)
		}
		got = append(got, f.Flush()...)

		want := referenceLines(text)
		if strings.Join(got, "\x00") != strings.Join(want, "\x00") || len(got) != len(want) {
			rt.Fatalf("lines differ\n got: %q\nwant: %q", got, want)
		}
	})
}

// referenceLines splits unfragmented text the way FrameReader should.
func referenceLines(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.Split(text, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}
