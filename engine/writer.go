package engine

import (
	"bytes"
	"sync"
)

// lineWriter adapts a text sink to io.Writer, emitting one sink call per
// complete line. Guest output arrives in arbitrary chunks through the
// wazero stdout/stderr plumbing; buffering per line keeps the messenger
// stream readable.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	sink func(string)
}

func newLineWriter(sink func(string)) *lineWriter {
	if sink == nil {
		sink = func(string) {}
	}
	return &lineWriter{sink: sink}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			return len(p), nil
		}
		line := string(w.buf.Next(idx))
		w.buf.Next(1) // consume the newline
		w.sink(line)
	}
}

// Flush emits any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.sink(w.buf.String())
		w.buf.Reset()
	}
}
