// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_CreatesParentAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0600))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"héllo wörld", 8, "héllo..."},
		{"abc", 2, "ab"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncateRunes(tt.in, tt.max), "TruncateRunes(%q, %d)", tt.in, tt.max)
	}
}

func TestTruncateWidth_Wide(t *testing.T) {
	assert.Equal(t, "日本", TruncateWidth("日本", 4))
	assert.Equal(t, "ab...", TruncateWidth("abcdefgh", 5))
	assert.Equal(t, "", TruncateWidth("abc", 0))
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a⏎b c", OneLine("a\r\nb\tc"))
}

func TestRedactForLog(t *testing.T) {
	got := RedactForLog(`data: {"content":"SSN 123-45-6789 card 4111 1111 1111 1111"}`, 200)
	assert.NotContains(t, got, "123-45-6789")
	assert.NotContains(t, got, "4111 1111 1111 1111")
	assert.Contains(t, got, "***-**-****")
	assert.Equal(t, "", RedactForLog("", 10))
}
