package sqlitesink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/goharvest/pkg/records"
	"github.com/3leaps/goharvest/pkg/sink"
)

// Sink upserts record batches into the documents table.
type Sink struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens and migrates the database at cfg.Path.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}

const upsertSQL = `INSERT INTO documents (destination, id, content, line, metadata_json, columns_json, ingested_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(destination, id) DO UPDATE SET
		content = excluded.content,
		line = excluded.line,
		metadata_json = excluded.metadata_json,
		columns_json = excluded.columns_json,
		ingested_at = excluded.ingested_at`

// Write upserts batch in one transaction. A row that fails to insert is not
// accepted; the rest of the batch still commits.
func (s *Sink) Write(ctx context.Context, batch []records.Record, destination string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, s.classify(fmt.Errorf("prepare upsert: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	accepted := 0
	for _, rec := range batch {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			continue
		}
		cols, err := json.Marshal(rec.Columns)
		if err != nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, destination, rec.ID, rec.Content, rec.Line, string(meta), string(cols), now); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			s.logger.Warn("upsert record", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		accepted++
	}

	if err := tx.Commit(); err != nil {
		return 0, s.classify(fmt.Errorf("commit: %w", err))
	}
	return accepted, nil
}

func (s *Sink) classify(err error) error {
	if errors.Is(err, sql.ErrConnDone) {
		return sink.Fatal(err)
	}
	if pingErr := s.db.Ping(); pingErr != nil {
		return sink.Fatal(err)
	}
	return err
}

// Document is a stored row.
type Document struct {
	ID         string
	Content    string
	Line       int
	Metadata   records.Fields
	IngestedAt time.Time
}

// Get returns one stored document.
func (s *Sink) Get(ctx context.Context, destination, id string) (*Document, error) {
	var (
		doc      Document
		metaJSON sql.NullString
		ingested string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, line, metadata_json, ingested_at FROM documents WHERE destination = ? AND id = ?`,
		destination, id,
	).Scan(&doc.ID, &doc.Content, &doc.Line, &metaJSON, &ingested)
	if err != nil {
		return nil, err
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, ingested); err == nil {
		doc.IngestedAt = t
	}
	return &doc, nil
}

// Count returns the number of documents stored under destination.
func (s *Sink) Count(ctx context.Context, destination string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE destination = ?`, destination).Scan(&n)
	return n, err
}

var _ sink.Sink = (*Sink)(nil)
