package gridlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
)

// RotatingWriter is an io.Writer that starts a fresh file once the current
// one passes maxBytes, snappy-compressing the rotated-out segment in the
// background so rotation itself never blocks the writer that's still
// producing event log lines. It implements io.WriteCloser, for
// long-running processes that would otherwise grow one event log file
// without bound. NewEventLogger opens its own plain file by path and takes
// no writer, so an EventLogger built by it does not write through a
// RotatingWriter.
type RotatingWriter struct {
	mu       sync.Mutex
	dir      string
	prefix   string
	maxBytes int64

	cur     *os.File
	written int64
	segment int
	wg      sync.WaitGroup
}

// NewRotatingWriter creates dir if needed and opens the first segment file.
func NewRotatingWriter(dir, prefix string, maxBytes int64) (*RotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("gridlog: create log dir %s: %w", dir, err)
	}
	w := &RotatingWriter{dir: dir, prefix: prefix, maxBytes: maxBytes}
	if err := w.openSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) segmentPath(n int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s.%04d.jsonl", w.prefix, n))
}

func (w *RotatingWriter) openSegment() error {
	f, err := os.OpenFile(w.segmentPath(w.segment), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("gridlog: open segment %d: %w", w.segment, err)
	}
	w.cur = f
	w.written = 0
	return nil
}

// Write implements io.Writer. It rotates before writing if p would push the
// current segment over maxBytes, never mid-write.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.written > 0 && w.written+int64(len(p)) > w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := w.cur.Write(p)
	w.written += int64(n)
	return n, err
}

// rotateLocked closes the current segment, compresses it with snappy on a
// background goroutine, and opens the next one. Callers hold w.mu.
func (w *RotatingWriter) rotateLocked() error {
	closing := w.cur
	closingPath := w.segmentPath(w.segment)
	w.segment++

	if err := w.openSegment(); err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		compressSegment(closing, closingPath)
	}()
	return nil
}

func compressSegment(f *os.File, path string) {
	defer f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gridlog: read rotated segment %s: %v\n", path, err)
		return
	}
	compressed := snappy.Encode(nil, data)
	if err := os.WriteFile(path+".snappy", compressed, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "gridlog: write compressed segment %s: %v\n", path, err)
		return
	}
	if err := os.Remove(path); err != nil {
		fmt.Fprintf(os.Stderr, "gridlog: remove uncompressed segment %s: %v\n", path, err)
	}
}

// Close flushes any in-flight compression and closes the active segment.
func (w *RotatingWriter) Close() error {
	w.wg.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur.Close()
}
