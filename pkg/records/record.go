// Package records decodes delimited-record sources into typed records.
//
// A Source yields raw rows; the batcher maps rows to Records once the header
// has been validated. Two codecs are provided: delimited text (CSV, TSV and
// custom dialects) and XLSX workbooks.
package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingColumn is returned when a required column is absent from a
// source's header.
var ErrMissingColumn = errors.New("missing column")

// ErrUnterminatedQuote is reported when a quoted field runs to end of input.
var ErrUnterminatedQuote = errors.New("unterminated quoted field")

// ErrFieldCount is reported when a row's width differs from the header's.
var ErrFieldCount = errors.New("wrong number of fields")

// DecodeError describes a single row that could not be decoded. It is
// recoverable: the source remains positioned at the next row.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("record at line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a recoverable per-row decode error.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Row is one raw decoded row.
type Row struct {
	// Line is the 1-based line (CSV) or row (XLSX) where the row starts.
	Line int

	// Values are the row's fields in header order.
	Values []string
}

// Source yields rows from a delimited-record input.
type Source interface {
	// Header returns the column names. When the input has no header row,
	// names are synthesized as column_1..column_N.
	Header() []string

	// Next returns the next row. It returns io.EOF when the input is
	// exhausted, a *DecodeError for a malformed row, and any other error
	// for unrecoverable read failures.
	Next() (Row, error)

	// Close releases the underlying input.
	Close() error
}

// Field is a single named value.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered set of named values. It marshals to a JSON object
// preserving column order.
type Fields []Field

// Get returns the value for name.
func (f Fields) Get(name string) (string, bool) {
	for _, fld := range f {
		if fld.Name == name {
			return fld.Value, true
		}
	}
	return "", false
}

// Map returns the fields as a map.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, fld := range f {
		m[fld.Name] = fld.Value
	}
	return m
}

// MarshalJSON encodes the fields as an object in column order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fld := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(fld.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(fld.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, preserving key order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}

	out := Fields{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fields: expected string key, got %v", keyTok)
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("fields: value for %q: %w", key, err)
		}
		out = append(out, Field{Name: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

// Record is a typed, validated row ready for ingestion.
type Record struct {
	// ID identifies the record within its destination.
	ID string `json:"id"`

	// Content is the text to ingest.
	Content string `json:"content"`

	// Line is the source line or row number.
	Line int `json:"line"`

	// Metadata holds the explicitly selected metadata columns.
	Metadata Fields `json:"metadata,omitempty"`

	// Columns holds every header column of the row.
	Columns Fields `json:"columns,omitempty"`
}
