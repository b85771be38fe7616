package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Writer emits manifest records.
//
// Implementations must be safe for concurrent use from multiple
// goroutines.
type Writer interface {
	// WriteDocument emits one extracted document.
	WriteDocument(ctx context.Context, doc *DocumentRecord) error

	// WriteError emits a per-file failure. Formats without an error
	// channel ignore it.
	WriteError(ctx context.Context, rec *ErrorRecord) error

	// WriteSummary emits the final summary. Formats without a summary
	// channel ignore it.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes buffered output. It does not close the underlying
	// io.Writer.
	Close() error
}

// New returns a writer for format ("csv" or "jsonl") over w.
func New(format string, w io.Writer, jobID string) (Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatCSV:
		return NewCSVWriter(w), nil
	case FormatJSONL:
		return NewJSONLWriter(w, jobID), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// DefaultPath returns the manifest path used when a scan names no
// destination: <root>/extracted_documents_<jobID>.<ext>.
func DefaultPath(root, jobID, format string) string {
	ext := FormatCSV
	if strings.EqualFold(format, FormatJSONL) {
		ext = FormatJSONL
	}
	return filepath.Join(root, fmt.Sprintf("extracted_documents_%s.%s", jobID, ext))
}

// CreateFile creates path (and its parent directories) for writing.
func CreateFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create manifest directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	return f, nil
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w     io.Writer
	jobID string
	mu    sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - jobID: Correlation ID stamped on every record
func NewJSONLWriter(w io.Writer, jobID string) *JSONLWriter {
	return &JSONLWriter{w: w, jobID: jobID}
}

// WriteDocument emits a document record.
func (jw *JSONLWriter) WriteDocument(ctx context.Context, doc *DocumentRecord) error {
	return jw.writeRecord(ctx, TypeDocument, doc)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data outside the lock, then writes the envelope as
// one line while holding it.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	recordBytes, err := json.Marshal(Record{
		Type:  recordType,
		TS:    time.Now().UTC(),
		JobID: jw.jobID,
		Data:  dataBytes,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a short write would
	// truncate the line.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
