// Package jsonl reads newline-delimited JSON files line by line.
package jsonl

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ErrLineTooLong is passed to the callback of [Lines] for a line over the
// limit. The line itself is discarded.
var ErrLineTooLong = errors.New("jsonl: line too long")

// Lines calls fn for every non-empty line of r, numbered from 1, without the
// trailing newline. A line longer than limit bytes is consumed and reported
// to fn with a nil slice and [ErrLineTooLong]; reading continues after it.
// The slice is only valid during the call. Lines returns the first read
// error other than io.EOF.
func Lines(r io.Reader, limit int, fn func(line int, b []byte, err error)) error {
	br := bufio.NewReader(r)
	for n := 1; ; n++ {
		b, long, err := next(br, limit)
		switch {
		case long:
			fn(n, nil, ErrLineTooLong)
		case len(b) > 0:
			fn(n, b, nil)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// next reads one line. Once a line passes limit the rest of it is drained
// without buffering.
func next(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var (
		buf  []byte
		long bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !long {
			buf = append(buf, chunk...)
			if len(bytes.TrimRight(buf, "\r\n")) > limit {
				long, buf = true, nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(buf, "\r\n"), long, err
	}
}
