// Package output writes the extraction manifest produced by directory scans.
//
// Two encodings are supported. The CSV manifest has one row per extracted
// file with a fixed header and can be fed straight back into a record
// stream (content column "text"). The JSONL manifest wraps every line in a
// typed envelope, so documents, per-file errors and the final summary can
// share one file.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: goharvest.<type>.v<version>
const (
	// TypeDocument identifies extracted document records.
	TypeDocument = "goharvest.document.v1"

	// TypeError identifies per-file error records.
	TypeError = "goharvest.error.v1"

	// TypeSummary identifies the final summary record.
	TypeSummary = "goharvest.summary.v1"
)

// Manifest formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// CSVHeader is the fixed column layout of the CSV manifest.
var CSVHeader = []string{"path", "file_name", "file_path", "file_size", "content_type", "text", "metadata"}

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "goharvest.document.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the job that produced the record.
	JobID string `json:"job_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// DocumentRecord is one extracted file.
type DocumentRecord struct {
	// Path is the file path as discovered by the scan.
	Path string `json:"path"`

	FileName    string `json:"file_name"`
	FilePath    string `json:"file_path"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`

	// Text is the extracted content.
	Text string `json:"text"`

	// Metadata holds extractor-specific fields (title, language, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ErrorRecord is the data payload for per-file failures.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Path is the file related to this error, if applicable.
	Path string `json:"path,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeExtraction  = "EXTRACTION_FAILED"
	ErrCodeUnsupported = "UNSUPPORTED"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeInternal    = "INTERNAL"
)

// SummaryRecord is the data payload for the final summary.
type SummaryRecord struct {
	FilesFound int64    `json:"files_found"`
	Processed  int64    `json:"processed"`
	Succeeded  int64    `json:"succeeded"`
	Failed     int64    `json:"failed"`
	Extensions []string `json:"extensions,omitempty"`

	// Duration is the total scan duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")

	// ErrUnknownFormat is returned by New for an unrecognized format.
	ErrUnknownFormat = errors.New("unknown manifest format")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
