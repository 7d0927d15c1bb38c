package nfc

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// LineReader adapts readers that type each tag serial as a line of text,
// as most USB keyboard-emulating readers do.
type LineReader struct {
	once  sync.Once
	src   io.Reader
	lines chan string
	err   error
}

func NewLineReader(src io.Reader) *LineReader {
	return &LineReader{src: src, lines: make(chan string)}
}

func (r *LineReader) start() {
	go func() {
		scanner := bufio.NewScanner(r.src)
		for scanner.Scan() {
			r.lines <- scanner.Text()
		}
		r.err = scanner.Err()
		if r.err == nil {
			r.err = io.EOF
		}
		close(r.lines)
	}()
}

func (r *LineReader) ReadTag(ctx context.Context) (string, error) {
	r.once.Do(r.start)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-r.lines:
		if !ok {
			return "", r.err
		}
		return line, nil
	}
}
