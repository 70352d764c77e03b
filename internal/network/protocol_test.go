package network

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, WriteLine(w, "hello"))
	require.NoError(t, WriteLine(w, "two\nlines"))
	require.NoError(t, WriteLine(w, ""))

	assert.Equal(t, "hello\ntwo lines\n\n", buf.String())
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("first\r\nsecond\n\nlast"))

	for _, want := range []string{"first", "second", "", "last"} {
		line, err := ReadLine(r)
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := ReadLine(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadLineLongerThanBuffer(t *testing.T) {
	long := strings.Repeat("x", 10000)
	r := bufio.NewReaderSize(strings.NewReader(long+"\nnext\n"), 16)

	line, err := ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, long, line)

	line, err = ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "next", line)
}

func TestReadLineTooLong(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(strings.Repeat("y", MaxLineSize+1) + "\n"))
	_, err := ReadLine(r)
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestReadLineUTF8(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteLine(w, "héllo wörld ✓"))

	line, err := ReadLine(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld ✓", line)
}
