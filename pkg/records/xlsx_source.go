package records

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXSource reads rows from one worksheet of an XLSX workbook.
type XLSXSource struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
	line   int

	pending *Row
}

// OpenXLSX opens the workbook at path. An empty sheet name selects the first
// sheet.
func OpenXLSX(path, sheet string, skipHeader bool) (*XLSXSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		_ = f.Close()
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open sheet %q: %w", sheet, err)
	}

	src := &XLSXSource{file: f, rows: rows}
	if !rows.Next() {
		return src, nil
	}
	src.line = 1
	first, err := rows.Columns()
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	if skipHeader {
		src.header = make([]string, len(first))
		for i, h := range first {
			src.header[i] = strings.TrimSpace(h)
		}
		return src, nil
	}
	src.header = SyntheticHeader(len(first))
	src.pending = &Row{Line: 1, Values: first}
	return src, nil
}

// Header returns the column names.
func (s *XLSXSource) Header() []string {
	return s.header
}

// Next returns the next row, padded to the header width. Trailing empty
// cells are omitted by excelize, so short rows are not decode errors; rows
// wider than the header are.
func (s *XLSXSource) Next() (Row, error) {
	if s.pending != nil {
		row := *s.pending
		s.pending = nil
		return row, nil
	}
	if s.rows == nil || !s.rows.Next() {
		if s.rows != nil {
			if err := s.rows.Error(); err != nil {
				return Row{}, err
			}
		}
		return Row{}, io.EOF
	}
	s.line++

	cols, err := s.rows.Columns()
	if err != nil {
		return Row{}, &DecodeError{Line: s.line, Err: err}
	}
	if len(cols) > len(s.header) {
		return Row{}, &DecodeError{
			Line: s.line,
			Err:  fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(cols), len(s.header)),
		}
	}
	for len(cols) < len(s.header) {
		cols = append(cols, "")
	}
	return Row{Line: s.line, Values: cols}, nil
}

// Close releases the row iterator and the workbook.
func (s *XLSXSource) Close() error {
	if s.rows != nil {
		_ = s.rows.Close()
	}
	return s.file.Close()
}

var _ Source = (*XLSXSource)(nil)
