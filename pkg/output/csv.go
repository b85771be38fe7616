package output

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"sync"
)

// CSVWriter writes the CSV manifest. The header is written before the
// first row. Each row is flushed immediately so a partially completed scan
// leaves a readable file.
type CSVWriter struct {
	mu      sync.Mutex
	w       *csv.Writer
	started bool
	closed  bool
}

// NewCSVWriter creates a CSV manifest writer over w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// WriteDocument writes one manifest row.
func (cw *CSVWriter) WriteDocument(ctx context.Context, doc *DocumentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	meta := "{}"
	if len(doc.Metadata) > 0 {
		b, err := json.Marshal(doc.Metadata)
		if err != nil {
			return &WriteError{Op: "marshal_metadata", Err: err}
		}
		meta = string(b)
	}
	row := []string{
		doc.Path,
		doc.FileName,
		doc.FilePath,
		strconv.FormatInt(doc.FileSize, 10),
		doc.ContentType,
		doc.Text,
		meta,
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.closed {
		return ErrWriterClosed
	}
	if err := cw.ensureHeader(); err != nil {
		return err
	}
	if err := cw.w.Write(row); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		return &WriteError{Op: "flush", Err: err}
	}
	return nil
}

// WriteError is a no-op: CSV manifests carry documents only.
func (cw *CSVWriter) WriteError(ctx context.Context, _ *ErrorRecord) error {
	return ctx.Err()
}

// WriteSummary is a no-op: CSV manifests carry documents only.
func (cw *CSVWriter) WriteSummary(ctx context.Context, _ *SummaryRecord) error {
	return ctx.Err()
}

// Close writes the header if no rows were written and flushes.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.closed {
		return nil
	}
	cw.closed = true
	if err := cw.ensureHeader(); err != nil {
		return err
	}
	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		return &WriteError{Op: "flush", Err: err}
	}
	return nil
}

func (cw *CSVWriter) ensureHeader() error {
	if cw.started {
		return nil
	}
	cw.started = true
	if err := cw.w.Write(CSVHeader); err != nil {
		return &WriteError{Op: "write_header", Err: err}
	}
	return nil
}

var _ Writer = (*CSVWriter)(nil)
