package engine

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/3leaps/goharvest/pkg/batch"
	"github.com/3leaps/goharvest/pkg/jobregistry"
	"github.com/3leaps/goharvest/pkg/match"
	"github.com/3leaps/goharvest/pkg/objectstore"
	"github.com/3leaps/goharvest/pkg/output"
	"github.com/3leaps/goharvest/pkg/records"
)

// DefaultExtensions is the extension set used by scans that name none.
var DefaultExtensions = []string{"pdf", "txt", "docx", "doc", "rtf", "html", "xml"}

// JobConfig describes one job. It is copied at submission and never mutated
// afterwards.
type JobConfig struct {
	// Kind selects the pipeline. Required.
	Kind jobregistry.Kind `json:"kind" yaml:"kind"`

	// SourcePath is the directory to scan or the record file to stream.
	// Required.
	SourcePath string `json:"source_path" yaml:"source_path"`

	// Destination is the manifest path (scan; local path or s3://bucket/key,
	// default <source>/extracted_documents_<id>.<format>) or the sink
	// destination name (stream; required).
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// BatchSize is the number of records per sink call. Zero means 100.
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`

	ContentColumn   string   `json:"content_column,omitempty" yaml:"content_column,omitempty"`
	IDColumn        string   `json:"id_column,omitempty" yaml:"id_column,omitempty"`
	MetadataColumns []string `json:"metadata_columns,omitempty" yaml:"metadata_columns,omitempty"`

	// Recursive enables descent into subdirectories. Nil means true.
	Recursive *bool `json:"recursive,omitempty" yaml:"recursive,omitempty"`

	// MaxItems caps the files a scan collects. Zero means unbounded.
	MaxItems int `json:"max_items,omitempty" yaml:"max_items,omitempty"`

	// MaxRecords caps the records a stream batches. Zero means unbounded.
	MaxRecords int64 `json:"max_records,omitempty" yaml:"max_records,omitempty"`

	SupportedExtensions []string `json:"supported_extensions,omitempty" yaml:"supported_extensions,omitempty"`
	Exclude             []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	// MinFileSize and MaxFileSize bound, in bytes, the files a scan
	// collects. Files outside the bounds are never discovered. Zero disables
	// the bound.
	MinFileSize int64 `json:"min_file_size,omitempty" yaml:"min_file_size,omitempty"`
	MaxFileSize int64 `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`

	// Delimiter, Quote and Escape are single characters. "\t" and "tab"
	// both name a tab. An empty Escape disables escaping.
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	Quote     string `json:"quote,omitempty" yaml:"quote,omitempty"`
	Escape    string `json:"escape,omitempty" yaml:"escape,omitempty"`

	// SkipHeader treats the first row as the header. Nil means true.
	SkipHeader *bool `json:"skip_header,omitempty" yaml:"skip_header,omitempty"`

	// Sheet names the worksheet of an XLSX source.
	Sheet string `json:"sheet,omitempty" yaml:"sheet,omitempty"`

	// ManifestFormat is "csv" (default) or "jsonl".
	ManifestFormat string `json:"manifest_format,omitempty" yaml:"manifest_format,omitempty"`
}

// Bool returns a pointer to v, for the optional JobConfig flags.
func Bool(v bool) *bool { return &v }

// IsRecursive reports the effective recursive flag.
func (c JobConfig) IsRecursive() bool {
	return c.Recursive == nil || *c.Recursive
}

// HeaderRow reports the effective skip_header flag.
func (c JobConfig) HeaderRow() bool {
	return c.SkipHeader == nil || *c.SkipHeader
}

// WithDefaults returns a copy with defaults applied and list fields
// normalized. The receiver is not modified.
func (c JobConfig) WithDefaults() JobConfig {
	c.Kind = jobregistry.Kind(strings.ToUpper(strings.TrimSpace(string(c.Kind))))
	c.SourcePath = strings.TrimSpace(c.SourcePath)
	c.Destination = strings.TrimSpace(c.Destination)

	if c.BatchSize == 0 {
		c.BatchSize = batch.DefaultBatchSize
	}
	if strings.TrimSpace(c.ContentColumn) == "" {
		c.ContentColumn = batch.DefaultContentColumn
	}
	if c.Recursive == nil {
		c.Recursive = Bool(true)
	}
	if c.SkipHeader == nil {
		c.SkipHeader = Bool(true)
	}
	if c.Delimiter == "" {
		c.Delimiter = ","
	}
	if c.Quote == "" {
		c.Quote = `"`
	}
	if c.ManifestFormat == "" {
		c.ManifestFormat = output.FormatCSV
	}
	c.ManifestFormat = strings.ToLower(strings.TrimSpace(c.ManifestFormat))

	exts := c.SupportedExtensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	c.SupportedExtensions = normalizeExtensions(exts)
	c.MetadataColumns = append([]string(nil), c.MetadataColumns...)
	c.Exclude = append([]string(nil), c.Exclude...)
	return c
}

func normalizeExtensions(exts []string) []string {
	seen := make(map[string]struct{}, len(exts))
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		n := match.NormalizeExtension(e)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Validate checks a config after WithDefaults. It returns ValidationErrors
// listing every problem, or nil.
func (c JobConfig) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !c.Kind.Valid() {
		add("kind", "must be %s or %s", jobregistry.KindDirectoryScan, jobregistry.KindRecordStream)
	}
	if c.SourcePath == "" {
		add("source_path", "is required")
	}
	if c.BatchSize < 1 {
		add("batch_size", "must be at least 1")
	}
	if c.MaxItems < 0 {
		add("max_items", "must not be negative")
	}
	if c.MaxRecords < 0 {
		add("max_records", "must not be negative")
	}

	switch c.Kind {
	case jobregistry.KindDirectoryScan:
		if len(c.SupportedExtensions) == 0 {
			add("supported_extensions", "must name at least one extension")
		}
		if c.MinFileSize < 0 {
			add("min_file_size", "must not be negative")
		}
		if c.MaxFileSize < 0 {
			add("max_file_size", "must not be negative")
		}
		if c.MinFileSize > 0 && c.MaxFileSize > 0 && c.MinFileSize > c.MaxFileSize {
			add("max_file_size", "must be at least min_file_size (%d)", c.MinFileSize)
		}
		for _, p := range c.Exclude {
			if _, err := match.New(match.Config{Extensions: []string{"x"}, Excludes: []string{p}}); err != nil {
				add("exclude", "%v", err)
			}
		}
		if c.ManifestFormat != output.FormatCSV && c.ManifestFormat != output.FormatJSONL {
			add("manifest_format", "must be %s or %s", output.FormatCSV, output.FormatJSONL)
		}
		if objectstore.IsObjectURI(c.Destination) {
			if _, err := objectstore.ParseURI(c.Destination); err != nil {
				add("destination", "%v", err)
			}
		}
	case jobregistry.KindRecordStream:
		if c.Destination == "" {
			add("destination", "is required for %s jobs", jobregistry.KindRecordStream)
		}
		if strings.TrimSpace(c.ContentColumn) == "" {
			add("content_column", "is required")
		}
		dialect, derrs := c.dialect()
		errs = append(errs, derrs...)
		if len(derrs) == 0 && (dialect.Delimiter == dialect.Quote || dialect.Delimiter == '\n' || dialect.Delimiter == '\r') {
			add("delimiter", "must differ from the quote character and line breaks")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// dialect converts the delimiter, quote and escape strings.
func (c JobConfig) dialect() (records.Dialect, ValidationErrors) {
	var errs ValidationErrors
	parse := func(field, v string, allowEmpty bool) rune {
		switch v {
		case "":
			if !allowEmpty {
				errs = append(errs, &ValidationError{Field: field, Message: "is required"})
			}
			return 0
		case `\t`, "tab", "TAB":
			return '\t'
		}
		if utf8.RuneCountInString(v) != 1 {
			errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf("must be a single character, got %q", v)})
			return 0
		}
		r, _ := utf8.DecodeRuneInString(v)
		return r
	}
	d := records.Dialect{
		Delimiter: parse("delimiter", c.Delimiter, false),
		Quote:     parse("quote", c.Quote, false),
		Escape:    parse("escape", c.Escape, true),
	}
	return d, errs
}

// decodeConfig returns the record codec settings for a stream.
func (c JobConfig) decodeConfig() records.DecodeConfig {
	d, _ := c.dialect()
	return records.DecodeConfig{Dialect: d, SkipHeader: c.HeaderRow(), Sheet: c.Sheet}
}

// sourceName is the prefix of generated record ids.
func (c JobConfig) sourceName() string {
	base := filepath.Base(c.SourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ValidationError reports one invalid JobConfig field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors aggregates every problem found in one config.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid job config: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.As.
func (e ValidationErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, v := range e {
		out[i] = v
	}
	return out
}
