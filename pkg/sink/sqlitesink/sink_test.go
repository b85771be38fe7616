package sqlitesink

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goharvest/pkg/records"
	"github.com/3leaps/goharvest/pkg/sink"
)

func TestSink_WriteAndGet(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	batch := []records.Record{
		{ID: "1", Content: "one", Line: 2, Metadata: records.Fields{{Name: "lang", Value: "en"}}},
		{ID: "2", Content: "two", Line: 3},
	}
	n, err := s.Write(ctx, batch, "kb")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, err := s.Get(ctx, "kb", "1")
	require.NoError(t, err)
	assert.Equal(t, "one", doc.Content)
	assert.Equal(t, 2, doc.Line)
	assert.Equal(t, records.Fields{{Name: "lang", Value: "en"}}, doc.Metadata)
	assert.False(t, doc.IngestedAt.IsZero())

	count, err := s.Count(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSink_Upsert(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Write(ctx, []records.Record{{ID: "1", Content: "old"}}, "kb")
	require.NoError(t, err)
	_, err = s.Write(ctx, []records.Record{{ID: "1", Content: "new"}}, "kb")
	require.NoError(t, err)

	doc, err := s.Get(ctx, "kb", "1")
	require.NoError(t, err)
	assert.Equal(t, "new", doc.Content)

	count, err := s.Count(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = s.Get(ctx, "kb", "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSink_FileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "docs.db")

	s, err := Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	_, err = s.Write(ctx, []records.Record{{ID: "a", Content: "kept"}}, "kb")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	doc, err := s.Get(ctx, "kb", "a")
	require.NoError(t, err)
	assert.Equal(t, "kept", doc.Content)
}

func TestSink_ClosedDatabaseIsFatal(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Write(ctx, []records.Record{{ID: "a", Content: "x"}}, "kb")
	require.Error(t, err)
	assert.True(t, sink.IsFatal(err))
}

func TestBuildDSN(t *testing.T) {
	_, err := buildDSN(Config{})
	assert.Error(t, err)

	dsn, err := buildDSN(Config{Path: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)

	path := filepath.Join(t.TempDir(), "x.db")
	dsn, err = buildDSN(Config{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "file:"+path, dsn)
}
