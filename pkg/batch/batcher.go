// Package batch streams records from a Source into fixed-size batches and
// flushes each batch to a Sink.
//
// Partial failures never abort a stream: a row that fails to decode is
// counted as failed and recorded, and batch entries a sink does not accept
// are counted as failed. Only fatal conditions (missing content column,
// unreadable source, sink.ErrFatal) stop the stream with an error.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/3leaps/goharvest/pkg/records"
	"github.com/3leaps/goharvest/pkg/sink"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultBatchSize       = 100
	DefaultContentColumn   = "text"
	DefaultMaxContentBytes = 1 << 20
	DefaultMaxErrors       = 100
)

// Config configures a Batcher.
type Config struct {
	// BatchSize is the number of records per sink call. Default: 100
	BatchSize int

	// MaxRecords stops consumption once this many records have been
	// batched. Zero means unbounded.
	MaxRecords int64

	// ContentColumn names the column holding the text to ingest.
	// Default: "text"
	ContentColumn string

	// IDColumn optionally names the column holding the record id. When
	// absent or blank, ids are "<SourceName>-<line>".
	IDColumn string

	// MetadataColumns selects columns copied into Record.Metadata.
	MetadataColumns []string

	// MaxContentBytes truncates longer content. Default: 1 MiB
	MaxContentBytes int

	// MaxErrors caps the error and warning lists. Default: 100
	MaxErrors int

	// Destination is passed to every sink call.
	Destination string

	// SourceName prefixes generated record ids.
	SourceName string

	// WriteAttempts is the number of tries per batch for non-fatal sink
	// errors. Default: 1
	WriteAttempts int

	// RetryDelay is the initial backoff between attempts. Default: 200ms
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if strings.TrimSpace(c.ContentColumn) == "" {
		c.ContentColumn = DefaultContentColumn
	}
	if c.MaxContentBytes <= 0 {
		c.MaxContentBytes = DefaultMaxContentBytes
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	if c.WriteAttempts <= 0 {
		c.WriteAttempts = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.SourceName == "" {
		c.SourceName = "record"
	}
	return c
}

// Counters are the running totals of a stream.
type Counters struct {
	// Processed counts flushed batch entries plus rows that failed to decode.
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`

	// Skipped counts rows with blank content. They are never batched and
	// are not part of Processed.
	Skipped int64 `json:"skipped"`

	// Batches counts sink calls.
	Batches int64 `json:"batches"`
}

// Summary is the outcome of a stream.
type Summary struct {
	Counters

	// BatchSizes lists the size of each flushed batch in order.
	BatchSizes []int    `json:"batch_sizes"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`

	// Cancelled is true when the stream stopped at a cancellation check.
	Cancelled bool `json:"cancelled"`
}

// Observer receives stream events. Calls are made from the streaming
// goroutine.
type Observer interface {
	// Flushed is called after each sink call and after each decode failure.
	Flushed(c Counters)

	// Error is called for each recoverable error.
	Error(msg string)

	// Warning is called for each non-error notice.
	Warning(msg string)
}

// Batcher streams records into batches.
type Batcher struct {
	cfg       Config
	logger    *zap.Logger
	observer  Observer
	cancelled func() bool
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithLogger sets the logger. Default: zap.NewNop()
func WithLogger(l *zap.Logger) Option {
	return func(b *Batcher) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObserver registers an observer for counters, errors and warnings.
func WithObserver(o Observer) Option {
	return func(b *Batcher) {
		b.observer = o
	}
}

// WithCancelCheck sets the cooperative cancellation check consulted before
// each flush.
func WithCancelCheck(fn func() bool) Option {
	return func(b *Batcher) {
		b.cancelled = fn
	}
}

// New creates a Batcher.
func New(cfg Config, opts ...Option) *Batcher {
	b := &Batcher{
		cfg:       cfg.withDefaults(),
		logger:    zap.NewNop(),
		cancelled: func() bool { return false },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the effective configuration.
func (b *Batcher) Config() Config {
	return b.cfg
}

// Stream reads src to exhaustion (or MaxRecords) and flushes batches to dst.
//
// The returned Summary is valid even when err is non-nil. Cancellation,
// observed through the cancel check or ctx, is not an error: the pending
// batch is discarded and Summary.Cancelled is set.
func (b *Batcher) Stream(ctx context.Context, src records.Source, dst sink.Sink) (Summary, error) {
	run := &stream{b: b, dst: dst}

	// An empty source has no header to resolve and no rows to batch.
	if len(src.Header()) == 0 {
		run.warn("source is empty, no records to stream")
		return run.sum, nil
	}

	cols, err := b.resolveColumns(src.Header())
	if err != nil {
		return run.sum, err
	}
	run.cols = cols
	for _, w := range cols.warnings {
		run.warn(w)
	}

	batch := make([]records.Record, 0, b.cfg.BatchSize)
	var batched int64

	for {
		if b.cfg.MaxRecords > 0 && batched >= b.cfg.MaxRecords {
			break
		}
		if ctx.Err() != nil {
			run.sum.Cancelled = true
			return run.sum, nil
		}

		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if records.IsDecodeError(err) {
				run.decodeFailed(err)
				continue
			}
			return run.sum, fmt.Errorf("read source: %w", err)
		}

		rec, ok := run.toRecord(row)
		if !ok {
			run.sum.Skipped++
			continue
		}
		batch = append(batch, rec)
		batched++

		if len(batch) >= b.cfg.BatchSize {
			if err := run.flush(ctx, batch); err != nil || run.sum.Cancelled {
				return run.sum, err
			}
			batch = make([]records.Record, 0, b.cfg.BatchSize)
		}
	}

	if len(batch) > 0 {
		if err := run.flush(ctx, batch); err != nil {
			return run.sum, err
		}
	}
	return run.sum, nil
}

type columns struct {
	content  int
	id       int
	header   []string
	metadata []int
	warnings []string
}

func (b *Batcher) resolveColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	cols := columns{content: -1, id: -1, header: header}
	ci, ok := index[b.cfg.ContentColumn]
	if !ok {
		return cols, fmt.Errorf("%w: content column %q not in header %v", records.ErrMissingColumn, b.cfg.ContentColumn, header)
	}
	cols.content = ci

	if b.cfg.IDColumn != "" {
		if i, ok := index[b.cfg.IDColumn]; ok {
			cols.id = i
		} else {
			cols.warnings = append(cols.warnings, fmt.Sprintf("id column %q not in header, generating ids", b.cfg.IDColumn))
		}
	}
	for _, name := range b.cfg.MetadataColumns {
		if i, ok := index[name]; ok {
			cols.metadata = append(cols.metadata, i)
		} else {
			cols.warnings = append(cols.warnings, fmt.Sprintf("metadata column %q not in header", name))
		}
	}
	return cols, nil
}

type stream struct {
	b    *Batcher
	dst  sink.Sink
	cols columns
	sum  Summary
}

func (s *stream) toRecord(row records.Row) (records.Record, bool) {
	if s.cols.content >= len(row.Values) {
		return records.Record{}, false
	}
	content := row.Values[s.cols.content]
	if strings.TrimSpace(content) == "" {
		return records.Record{}, false
	}
	if len(content) > s.b.cfg.MaxContentBytes {
		content = truncateUTF8(content, s.b.cfg.MaxContentBytes)
		s.warn(fmt.Sprintf("record at line %d exceeds %d bytes, truncated", row.Line, s.b.cfg.MaxContentBytes))
	}

	rec := records.Record{Content: content, Line: row.Line}
	if s.cols.id >= 0 && s.cols.id < len(row.Values) {
		rec.ID = strings.TrimSpace(row.Values[s.cols.id])
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("%s-%d", s.b.cfg.SourceName, row.Line)
	}

	rec.Columns = make(records.Fields, 0, len(s.cols.header))
	for i, name := range s.cols.header {
		if i < len(row.Values) {
			rec.Columns = append(rec.Columns, records.Field{Name: name, Value: row.Values[i]})
		}
	}
	for _, i := range s.cols.metadata {
		if i < len(row.Values) {
			rec.Metadata = append(rec.Metadata, records.Field{Name: s.cols.header[i], Value: row.Values[i]})
		}
	}
	return rec, true
}

func (s *stream) flush(ctx context.Context, batch []records.Record) error {
	if s.b.cancelled() || ctx.Err() != nil {
		s.sum.Cancelled = true
		s.b.logger.Debug("cancellation observed, discarding pending batch", zap.Int("pending", len(batch)))
		return nil
	}

	cfg := s.b.cfg
	accepted, err := retryWrite(ctx, cfg.WriteAttempts, cfg.RetryDelay, func() (int, error) {
		return s.dst.Write(ctx, batch, cfg.Destination)
	})
	if err != nil && (s.b.cancelled() || ctx.Err() != nil) {
		// An interrupted write is not a flushed batch.
		s.sum.Cancelled = true
		s.b.logger.Debug("cancelled during sink write, discarding batch", zap.Int("pending", len(batch)))
		return nil
	}

	size := int64(len(batch))
	s.sum.Batches++
	s.sum.BatchSizes = append(s.sum.BatchSizes, len(batch))
	s.sum.Processed += size

	switch {
	case err != nil && sink.IsFatal(err):
		s.sum.Failed += size
		s.addError(fmt.Sprintf("batch %d: %v", s.sum.Batches, err))
		s.notify()
		return fmt.Errorf("sink write: %w", err)
	case err != nil:
		s.sum.Failed += size
		s.addError(fmt.Sprintf("batch %d: %v", s.sum.Batches, err))
	default:
		if accepted < 0 {
			accepted = 0
		}
		if int64(accepted) > size {
			accepted = len(batch)
		}
		s.sum.Succeeded += int64(accepted)
		s.sum.Failed += size - int64(accepted)
		if int64(accepted) < size {
			s.addError(fmt.Sprintf("batch %d: sink accepted %d of %d records", s.sum.Batches, accepted, size))
		}
	}

	s.b.logger.Debug("batch flushed",
		zap.Int64("batch", s.sum.Batches),
		zap.Int("size", len(batch)),
		zap.Int("accepted", accepted),
		zap.Int64("processed", s.sum.Processed),
	)
	s.notify()
	return nil
}

func (s *stream) decodeFailed(err error) {
	s.sum.Processed++
	s.sum.Failed++
	s.addError(err.Error())
	s.notify()
}

func (s *stream) notify() {
	if s.b.observer != nil {
		s.b.observer.Flushed(s.sum.Counters)
	}
}

func (s *stream) addError(msg string) {
	if len(s.sum.Errors) < s.b.cfg.MaxErrors {
		s.sum.Errors = append(s.sum.Errors, msg)
	}
	if s.b.observer != nil {
		s.b.observer.Error(msg)
	}
}

func (s *stream) warn(msg string) {
	if len(s.sum.Warnings) < s.b.cfg.MaxErrors {
		s.sum.Warnings = append(s.sum.Warnings, msg)
	}
	if s.b.observer != nil {
		s.b.observer.Warning(msg)
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
