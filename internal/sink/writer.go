package sink

import (
	"context"
	"io"
	"sync"
)

// Writer writes every payload as one line.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Publish(_ context.Context, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')
	_, err := w.out.Write(line)
	return err
}

func (w *Writer) Close() error {
	return nil
}
