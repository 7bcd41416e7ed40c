package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

const jsonlBufferSize = 256 * 1024

// JSONLWriter appends entries to a session log, one JSON object per line.
// Writes are buffered until Flush or Close.
type JSONLWriter struct {
	mu    sync.Mutex
	f     *os.File
	buf   *bufio.Writer
	enc   *json.Encoder
	lines int64
}

func NewJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	buf := bufio.NewWriterSize(f, jsonlBufferSize)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{f: f, buf: buf, enc: enc}, nil
}

func (w *JSONLWriter) Append(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("append seq %d: %w", ev.Seq, err)
	}
	w.lines++
	return nil
}

// Lines counts the entries appended through this writer.
func (w *JSONLWriter) Lines() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *JSONLWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	return w.buf.Flush()
}

// Close flushes and closes the file. Later calls are no-ops.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := errors.Join(w.buf.Flush(), w.f.Sync(), w.f.Close())
	w.f = nil
	return err
}
