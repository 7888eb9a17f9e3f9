package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

// LineWriter turns a byte stream into log records, one record per line.
// Partial lines are buffered until a newline arrives or Close is called.
type LineWriter struct {
	logger *slog.Logger
	level  slog.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

var _ io.WriteCloser = (*LineWriter)(nil)

// NewLineWriter returns a writer emitting every line at level through logger,
// decorated with attrs.
func NewLineWriter(logger *slog.Logger, level slog.Level, attrs ...any) *LineWriter {
	return &LineWriter{logger: Ensure(logger).With(attrs...), level: level}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// no newline yet, put the fragment back
			rest := append([]byte(nil), line...)
			w.buf.Reset()
			w.buf.Write(rest)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Close flushes a trailing line that was not newline terminated.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
	return nil
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	w.logger.Log(context.Background(), w.level, string(line))
}
