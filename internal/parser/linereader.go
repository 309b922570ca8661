package parser

import (
	"bufio"
	"errors"
	"io"
)

const (
	initialScanBufSize = 64 * 1024         // 64KB
	maxLineSize        = 128 * 1024 * 1024 // 128MB
)

// lineReader reads JSONL files line by line, skipping lines that
// exceed maxLen rather than aborting. The buffer starts small and
// grows on demand up to maxLen. Line numbers count every physical
// line, including blank and skipped ones.
type lineReader struct {
	r         *bufio.Reader
	maxLen    int
	buf       []byte
	line      int
	oversized int
	err       error
}

func newLineReader(r io.Reader, maxLen int) *lineReader {
	return &lineReader{
		r:      bufio.NewReaderSize(r, initialScanBufSize),
		maxLen: maxLen,
		buf:    make([]byte, 0, initialScanBufSize),
	}
}

// next returns the next non-blank line (without trailing newline),
// its 1-based line number, and true, or ("", 0, false) at EOF or on
// a read error. Lines exceeding maxLen are skipped and counted.
func (lr *lineReader) next() (string, int, bool) {
	for {
		line, err := lr.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				lr.err = err
			}
			return "", 0, false
		}
		if line != "" {
			return line, lr.line, true
		}
	}
}

// Err returns the first non-EOF read error.
func (lr *lineReader) Err() error {
	return lr.err
}

// Lines returns the number of physical lines read so far.
func (lr *lineReader) Lines() int {
	return lr.line
}

// Oversized returns the number of lines skipped for length.
func (lr *lineReader) Oversized() int {
	return lr.oversized
}

// readLine reads a full line, returning "" for blank/oversized
// lines and a non-nil error only at EOF or read failure.
func (lr *lineReader) readLine() (string, error) {
	lr.buf = lr.buf[:0]
	oversized := false

	for {
		chunk, isPrefix, err := lr.r.ReadLine()
		if err != nil {
			if len(lr.buf) > 0 && errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}

		if oversized {
			if !isPrefix {
				lr.line++
				return "", nil // done skipping
			}
			continue
		}

		lr.buf = append(lr.buf, chunk...)

		if len(lr.buf) > lr.maxLen {
			oversized = true
			lr.oversized++
			lr.buf = lr.buf[:0]
			if !isPrefix {
				lr.line++
				return "", nil
			}
			continue
		}

		if !isPrefix {
			break
		}
	}

	lr.line++
	return string(lr.buf), nil
}
