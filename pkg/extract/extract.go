// Package extract turns files into plain text for the extraction manifest.
//
// FileExtractor dispatches on file extension: plain-text formats are read
// directly, HTML is converted to markdown, and office formats (docx, xlsx)
// are unpacked. Extensions without a handler fail with ErrUnsupported so
// callers can count them as per-file failures.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/3leaps/goharvest/pkg/match"
)

var (
	// ErrExtraction wraps every extraction failure.
	ErrExtraction = errors.New("extraction failed")

	// ErrUnsupported is returned for extensions without a handler.
	ErrUnsupported = errors.New("unsupported file type")

	// ErrTooLarge is returned when a file exceeds MaxFileBytes.
	ErrTooLarge = errors.New("file too large")

	// ErrFatal marks a condition that will fail every remaining file, such
	// as an unreachable extraction backend. It fails the whole scan.
	ErrFatal = errors.New("fatal extractor error")
)

// Fatal wraps err so that errors.Is(err, ErrFatal) holds.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsFatal reports whether err aborts the scan.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// ExtractionError reports a failed extraction for one file.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtraction, e.Err}
}

// Document is the extracted text of a file plus metadata.
type Document struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Extractor converts a file to text.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Document, error)
}

// Metadata keys populated by FileExtractor.
const (
	MetaFileName    = "file_name"
	MetaFilePath    = "file_path"
	MetaFileSize    = "file_size"
	MetaContentType = "content_type"
	MetaModifiedAt  = "modified_at"
	MetaExtension   = "extension"
	MetaTitle       = "title"
	MetaDescription = "description"
	MetaLanguage    = "language"
	MetaSheets      = "sheets"
)

// Config configures a FileExtractor.
type Config struct {
	// MaxFileBytes rejects larger files. Zero means 50 MiB.
	MaxFileBytes int64

	// Timeout bounds one extraction. Zero means no timeout.
	Timeout time.Duration
}

type handler func(ctx context.Context, path string, meta map[string]string) (string, error)

// FileExtractor extracts text from local files.
type FileExtractor struct {
	cfg      Config
	handlers map[string]handler
}

var plainTextExtensions = []string{"txt", "text", "md", "markdown", "csv", "tsv", "json", "xml", "log", "yaml", "yml"}

// NewFileExtractor returns an extractor with the built-in handlers.
func NewFileExtractor(cfg Config) *FileExtractor {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 50 * match.MiB
	}
	e := &FileExtractor{cfg: cfg, handlers: make(map[string]handler)}
	for _, ext := range plainTextExtensions {
		e.handlers[ext] = extractPlain
	}
	e.handlers["html"] = extractHTML
	e.handlers["htm"] = extractHTML
	e.handlers["xhtml"] = extractHTML
	e.handlers["docx"] = extractDOCX
	e.handlers["xlsx"] = extractXLSX
	return e
}

// SupportedExtensions returns the extensions with a handler, sorted.
func (e *FileExtractor) SupportedExtensions() []string {
	out := make([]string, 0, len(e.handlers))
	for ext := range e.handlers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether ext (any case, optional dot) has a handler.
func (e *FileExtractor) Supports(ext string) bool {
	_, ok := e.handlers[match.NormalizeExtension(ext)]
	return ok
}

// Extract reads path and returns its text. All failures are
// *ExtractionError values wrapping ErrExtraction.
func (e *FileExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("is a directory")}
	}
	if info.Size() > e.cfg.MaxFileBytes {
		return nil, &ExtractionError{
			Path: path,
			Err:  fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, match.FormatSize(info.Size()), match.FormatSize(e.cfg.MaxFileBytes)),
		}
	}

	ext := match.Extension(path)
	h, ok := e.handlers[ext]
	if !ok {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("%w: %q", ErrUnsupported, ext)}
	}

	meta := baseMetadata(path, info)
	text, err := h(ctx, path, meta)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	return &Document{Text: text, Metadata: meta}, nil
}

func baseMetadata(path string, info os.FileInfo) map[string]string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	ext := match.Extension(path)
	contentType := mime.TypeByExtension("." + ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return map[string]string{
		MetaFileName:    filepath.Base(path),
		MetaFilePath:    abs,
		MetaFileSize:    strconv.FormatInt(info.Size(), 10),
		MetaContentType: contentType,
		MetaModifiedAt:  info.ModTime().UTC().Format(time.RFC3339),
		MetaExtension:   ext,
	}
}

func extractPlain(_ context.Context, path string, _ map[string]string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return normalizeText(b), nil
}

// normalizeText decodes b as UTF-8, replacing invalid sequences and
// stripping a byte order mark.
func normalizeText(b []byte) string {
	s := string(b)
	s = strings.TrimPrefix(s, "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return s
}
