package badgersink

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goharvest/pkg/records"
)

func openMem(t *testing.T) *Sink {
	t.Helper()
	s, err := Open("", true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSink_WriteAndGet(t *testing.T) {
	s := openMem(t)
	batch := []records.Record{
		{ID: "a", Content: "alpha", Metadata: records.Fields{{Name: "k", Value: "v"}}},
		{ID: "b", Content: "beta"},
	}

	n, err := s.Write(context.Background(), batch, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Get("docs", "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Content)
	assert.False(t, got.IngestedAt.IsZero())

	count, err := s.Count("docs")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.Count("other")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSink_OverwritesById(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	_, err := s.Write(ctx, []records.Record{{ID: "a", Content: "v1"}}, "docs")
	require.NoError(t, err)
	_, err = s.Write(ctx, []records.Record{{ID: "a", Content: "v2"}}, "docs")
	require.NoError(t, err)

	got, err := s.Get("docs", "a")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)

	count, err := s.Count("docs")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSink_GetMissing(t *testing.T) {
	s := openMem(t)
	_, err := s.Get("docs", "nope")
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestSink_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, false, nil)
	require.NoError(t, err)

	_, err = s.Write(context.Background(), []records.Record{{ID: "x", Content: "persisted"}}, "d")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, false, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Get("d", "x")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Content)
}
