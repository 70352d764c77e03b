package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineSize is the longest line accepted from a peer, terminator included.
const MaxLineSize = 64 * 1024

// ErrLineTooLong is returned when a peer sends a line longer than MaxLineSize.
var ErrLineTooLong = errors.New("line too long")

// WriteLine writes text followed by a newline and flushes w.
func WriteLine(w *bufio.Writer, text string) error {
	if strings.ContainsAny(text, "\n") {
		text = strings.ReplaceAll(text, "\n", " ")
	}
	if _, err := w.WriteString(text); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// ReadLine reads one newline-terminated line without its terminator.
// A trailing "\r" is dropped. A final unterminated line before EOF is returned
// as a line; the following call returns io.EOF.
func ReadLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if sb.Len()+len(chunk) > MaxLineSize {
			return "", fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, MaxLineSize)
		}
		sb.Write(chunk)
		if !isPrefix {
			return sb.String(), nil
		}
	}
}
