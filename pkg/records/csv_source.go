package records

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// CSVSource reads delimited text.
type CSVSource struct {
	closer io.Closer
	reader *delimitedReader
	header []string

	// pending holds the first data row when the input has no header row.
	pending *Row
}

// NewCSVSource wraps r. When skipHeader is true the first record is the
// header; otherwise column names are synthesized from its width and it is
// returned as data.
func NewCSVSource(r io.Reader, d Dialect, skipHeader bool) (*CSVSource, error) {
	src := &CSVSource{reader: newDelimitedReader(r, d)}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}

	first, line, err := src.reader.Read()
	if errors.Is(err, io.EOF) {
		return src, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if skipHeader {
		src.header = make([]string, len(first))
		for i, h := range first {
			h = strings.TrimSpace(h)
			if i == 0 {
				h = strings.TrimPrefix(h, "\ufeff")
			}
			src.header[i] = h
		}
		return src, nil
	}

	src.header = SyntheticHeader(len(first))
	src.pending = &Row{Line: line, Values: first}
	return src, nil
}

// OpenCSV opens the file at path as a CSVSource.
func OpenCSV(path string, d Dialect, skipHeader bool) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := NewCSVSource(f, d, skipHeader)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

// Header returns the column names.
func (s *CSVSource) Header() []string {
	return s.header
}

// Next returns the next row.
func (s *CSVSource) Next() (Row, error) {
	if s.pending != nil {
		row := *s.pending
		s.pending = nil
		return row, nil
	}

	values, line, err := s.reader.Read()
	if err != nil {
		return Row{}, err
	}
	if len(s.header) > 0 && len(values) != len(s.header) {
		return Row{}, &DecodeError{
			Line: line,
			Err:  fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(values), len(s.header)),
		}
	}
	return Row{Line: line, Values: values}, nil
}

// Close closes the underlying reader if it is closable.
func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// SyntheticHeader returns column_1..column_n.
func SyntheticHeader(n int) []string {
	h := make([]string, n)
	for i := range h {
		h[i] = fmt.Sprintf("column_%d", i+1)
	}
	return h
}

var _ Source = (*CSVSource)(nil)
