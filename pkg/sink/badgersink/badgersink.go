// Package badgersink stores ingested records in a BadgerDB key-value store.
//
// Keys are "doc/<destination>/<record id>"; values are JSON-encoded
// records. Writing a record with an existing id replaces it.
package badgersink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/3leaps/goharvest/pkg/records"
	"github.com/3leaps/goharvest/pkg/sink"
)

const keyPrefix = "doc/"

// Stored is a record as persisted, with its ingestion time.
type Stored struct {
	records.Record
	IngestedAt time.Time `json:"ingested_at"`
}

// Sink writes record batches to BadgerDB.
type Sink struct {
	db     *badger.DB
	logger *zap.Logger
}

type zapBadgerLogger struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*zapBadgerLogger)(nil)

func (l *zapBadgerLogger) Errorf(msg string, items ...any)   { l.logger.Errorf(msg, items...) }
func (l *zapBadgerLogger) Warningf(msg string, items ...any) { l.logger.Warnf(msg, items...) }
func (l *zapBadgerLogger) Infof(msg string, items ...any)    { l.logger.Debugf(msg, items...) }
func (l *zapBadgerLogger) Debugf(msg string, items ...any)   { l.logger.Debugf(msg, items...) }

// Open opens (creating if needed) a store at dir. When inMemory is true dir
// is ignored and nothing touches disk.
func Open(dir string, inMemory bool, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &zapBadgerLogger{logger: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Sink{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}

func recordKey(destination, id string) []byte {
	return []byte(keyPrefix + destination + "/" + id)
}

// Write stores batch under destination. Records that fail to encode are
// not accepted. A closed database is a fatal condition.
func (s *Sink) Write(ctx context.Context, batch []records.Record, destination string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	accepted := 0
	for _, rec := range batch {
		val, err := json.Marshal(Stored{Record: rec, IngestedAt: now})
		if err != nil {
			s.logger.Warn("encode record", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if err := wb.Set(recordKey(destination, rec.ID), val); err != nil {
			return 0, s.classify(err)
		}
		accepted++
	}

	if err := wb.Flush(); err != nil {
		return 0, s.classify(err)
	}
	return accepted, nil
}

func (s *Sink) classify(err error) error {
	if errors.Is(err, badger.ErrDBClosed) || errors.Is(err, badger.ErrBlockedWrites) {
		return sink.Fatal(err)
	}
	return err
}

// Get returns the stored record.
func (s *Sink) Get(destination, id string) (*Stored, error) {
	var out Stored
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(destination, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Count returns the number of records stored under destination.
func (s *Sink) Count(destination string) (int, error) {
	prefix := []byte(keyPrefix + destination + "/")
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

var _ sink.Sink = (*Sink)(nil)
