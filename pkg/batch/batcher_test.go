package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goharvest/pkg/records"
	"github.com/3leaps/goharvest/pkg/sink"
)

func csvSource(t *testing.T, data string) records.Source {
	t.Helper()
	src, err := records.NewCSVSource(strings.NewReader(data), records.DefaultDialect(), true)
	require.NoError(t, err)
	return src
}

type recordingSink struct {
	sizes   []int
	batches [][]records.Record
	accept  func(n int) int
	err     func(call int) error
}

func (s *recordingSink) Write(_ context.Context, batch []records.Record, _ string) (int, error) {
	s.sizes = append(s.sizes, len(batch))
	s.batches = append(s.batches, append([]records.Record(nil), batch...))
	if s.err != nil {
		if err := s.err(len(s.sizes)); err != nil {
			return 0, err
		}
	}
	if s.accept != nil {
		return s.accept(len(batch)), nil
	}
	return len(batch), nil
}

type captureObserver struct {
	last     Counters
	errors   []string
	warnings []string
}

func (o *captureObserver) Flushed(c Counters) { o.last = c }
func (o *captureObserver) Error(msg string)   { o.errors = append(o.errors, msg) }
func (o *captureObserver) Warning(msg string) { o.warnings = append(o.warnings, msg) }

func TestStream_BlankContentIsSkipped(t *testing.T) {
	src := csvSource(t, "id,content\n1,a\n2,b\n3,\n4,d\n5,e\n")
	dst := &recordingSink{}

	sum, err := New(Config{BatchSize: 2, ContentColumn: "content"}).Stream(context.Background(), src, dst)
	require.NoError(t, err)

	assert.Equal(t, int64(4), sum.Processed)
	assert.Equal(t, int64(4), sum.Succeeded)
	assert.Equal(t, int64(0), sum.Failed)
	assert.Equal(t, int64(1), sum.Skipped)
	assert.Equal(t, []int{2, 2}, sum.BatchSizes)
	assert.Equal(t, []int{2, 2}, dst.sizes)
	assert.False(t, sum.Cancelled)
}

func TestStream_MalformedRowDoesNotAbort(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,text\n")
	for i := 1; i <= 10; i++ {
		if i == 6 {
			b.WriteString("6,bad,extra\n")
			continue
		}
		fmt.Fprintf(&b, "%d,record %d\n", i, i)
	}
	dst := &recordingSink{}

	sum, err := New(Config{BatchSize: 3}).Stream(context.Background(), csvSource(t, b.String()), dst)
	require.NoError(t, err)

	assert.Equal(t, int64(9), sum.Succeeded)
	assert.Equal(t, int64(1), sum.Failed)
	assert.Equal(t, int64(10), sum.Processed)
	assert.Equal(t, []int{3, 3, 3}, sum.BatchSizes)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "line 7")
	assert.Equal(t, sum.Processed, sum.Succeeded+sum.Failed)
}

func TestStream_PartialAcceptanceCountsFailures(t *testing.T) {
	src := csvSource(t, "text\na\nb\nc\nd\ne\n")
	dst := &recordingSink{accept: func(n int) int { return n - 1 }}

	sum, err := New(Config{BatchSize: 2}).Stream(context.Background(), src, dst)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, sum.BatchSizes)
	assert.Equal(t, int64(5), sum.Processed)
	assert.Equal(t, int64(2), sum.Succeeded)
	assert.Equal(t, int64(3), sum.Failed)
	assert.Len(t, sum.Errors, 3)
}

func TestStream_AcceptedCountIsClamped(t *testing.T) {
	src := csvSource(t, "text\na\nb\n")
	dst := &recordingSink{accept: func(n int) int { return n + 5 }}

	sum, err := New(Config{BatchSize: 10}).Stream(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Succeeded)
	assert.Equal(t, int64(0), sum.Failed)
}

func TestStream_CancelDiscardsPendingBatch(t *testing.T) {
	var b strings.Builder
	b.WriteString("text\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "row %d\n", i)
	}

	var cancelled atomic.Bool
	var calls int
	dst := sink.Func(func(_ context.Context, batch []records.Record, _ string) (int, error) {
		calls++
		cancelled.Store(true)
		return len(batch), nil
	})
	obs := &captureObserver{}

	sum, err := New(Config{BatchSize: 2}, WithCancelCheck(cancelled.Load), WithObserver(obs)).
		Stream(context.Background(), csvSource(t, b.String()), dst)
	require.NoError(t, err)

	assert.True(t, sum.Cancelled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(2), sum.Processed)
	assert.Equal(t, int64(2), sum.Succeeded)
	assert.Equal(t, int64(2), obs.last.Processed)
}

func TestStream_CancelDuringSinkWriteIsNotAFailure(t *testing.T) {
	var b strings.Builder
	b.WriteString("text\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "row %d\n", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int
	dst := sink.Func(func(ctx context.Context, batch []records.Record, _ string) (int, error) {
		calls++
		if calls == 1 {
			return len(batch), nil
		}
		cancel()
		<-ctx.Done()
		return 0, ctx.Err()
	})
	obs := &captureObserver{}

	sum, err := New(Config{BatchSize: 2, WriteAttempts: 3, RetryDelay: time.Millisecond}, WithObserver(obs)).
		Stream(ctx, csvSource(t, b.String()), dst)
	require.NoError(t, err)

	assert.True(t, sum.Cancelled)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), sum.Processed)
	assert.Equal(t, int64(2), sum.Succeeded)
	assert.Equal(t, int64(0), sum.Failed)
	assert.Equal(t, []int{2}, sum.BatchSizes)
	assert.Empty(t, obs.errors)
}

func TestStream_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := &recordingSink{}

	sum, err := New(Config{}).Stream(ctx, csvSource(t, "text\na\n"), dst)
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Empty(t, dst.sizes)
}

func TestStream_MissingContentColumnIsFatal(t *testing.T) {
	dst := &recordingSink{}
	_, err := New(Config{ContentColumn: "body"}).Stream(context.Background(), csvSource(t, "id,text\n1,a\n"), dst)

	assert.ErrorIs(t, err, records.ErrMissingColumn)
	assert.Empty(t, dst.sizes)
}

func TestStream_EmptySourceCompletesWithNoRecords(t *testing.T) {
	dst := &recordingSink{}
	obs := &captureObserver{}

	sum, err := New(Config{ContentColumn: "body"}, WithObserver(obs)).Stream(context.Background(), csvSource(t, ""), dst)
	require.NoError(t, err)

	assert.Equal(t, int64(0), sum.Processed)
	assert.Empty(t, sum.BatchSizes)
	assert.Empty(t, dst.sizes)
	assert.False(t, sum.Cancelled)
	assert.Equal(t, []string{"source is empty, no records to stream"}, obs.warnings)

	// A header with no rows is not empty: the content column must exist.
	_, err = New(Config{ContentColumn: "body"}).Stream(context.Background(), csvSource(t, "id,text\n"), dst)
	assert.ErrorIs(t, err, records.ErrMissingColumn)
}

func TestStream_FatalSinkErrorStops(t *testing.T) {
	dst := &recordingSink{err: func(call int) error {
		if call == 2 {
			return sink.Fatal(errors.New("index closed"))
		}
		return nil
	}}

	sum, err := New(Config{BatchSize: 1}).Stream(context.Background(), csvSource(t, "text\na\nb\nc\n"), dst)
	require.Error(t, err)
	assert.True(t, sink.IsFatal(err))

	assert.Len(t, dst.sizes, 2)
	assert.Equal(t, int64(1), sum.Succeeded)
	assert.Equal(t, int64(1), sum.Failed)
	assert.Equal(t, int64(2), sum.Processed)
}

func TestStream_NonFatalSinkErrorFailsBatchOnly(t *testing.T) {
	dst := &recordingSink{err: func(call int) error {
		if call == 1 {
			return errors.New("timeout")
		}
		return nil
	}}

	sum, err := New(Config{BatchSize: 2}).Stream(context.Background(), csvSource(t, "text\na\nb\nc\n"), dst)
	require.NoError(t, err)

	assert.Equal(t, int64(3), sum.Processed)
	assert.Equal(t, int64(1), sum.Succeeded)
	assert.Equal(t, int64(2), sum.Failed)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "timeout")
}

func TestStream_RetriesTransientErrors(t *testing.T) {
	dst := &recordingSink{err: func(call int) error {
		if call == 1 {
			return errors.New("busy")
		}
		return nil
	}}

	sum, err := New(Config{BatchSize: 5, WriteAttempts: 3, RetryDelay: time.Millisecond}).
		Stream(context.Background(), csvSource(t, "text\na\nb\n"), dst)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, dst.sizes)
	assert.Equal(t, int64(2), sum.Succeeded)
	assert.Equal(t, int64(1), sum.Batches)
	assert.Empty(t, sum.Errors)
}

func TestStream_MaxRecords(t *testing.T) {
	dst := &recordingSink{}
	sum, err := New(Config{BatchSize: 2, MaxRecords: 3}).
		Stream(context.Background(), csvSource(t, "text\na\nb\nc\nd\ne\n"), dst)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1}, dst.sizes)
	assert.Equal(t, int64(3), sum.Processed)
}

func TestStream_RecordMapping(t *testing.T) {
	src := csvSource(t, "doc_id,text,author,lang\nA1,hello,ann,en\n,world,bob,fr\n")
	dst := &recordingSink{}
	obs := &captureObserver{}

	sum, err := New(Config{
		IDColumn:        "doc_id",
		MetadataColumns: []string{"author", "missing"},
		SourceName:      "people.csv",
	}, WithObserver(obs)).Stream(context.Background(), src, dst)
	require.NoError(t, err)
	require.Len(t, dst.batches, 1)

	recs := dst.batches[0]
	require.Len(t, recs, 2)
	assert.Equal(t, "A1", recs[0].ID)
	assert.Equal(t, "people.csv-3", recs[1].ID)
	assert.Equal(t, "hello", recs[0].Content)
	assert.Equal(t, records.Fields{{Name: "author", Value: "ann"}}, recs[0].Metadata)
	assert.Len(t, recs[0].Columns, 4)

	require.Len(t, sum.Warnings, 1)
	assert.Contains(t, sum.Warnings[0], "missing")
	assert.Equal(t, sum.Warnings, obs.warnings)
}

func TestStream_TruncatesOversizedContent(t *testing.T) {
	dst := &recordingSink{}
	sum, err := New(Config{MaxContentBytes: 4}).
		Stream(context.Background(), csvSource(t, "text\nabcdefgh\nhé€x\n"), dst)
	require.NoError(t, err)

	require.Len(t, dst.batches, 1)
	assert.Equal(t, "abcd", dst.batches[0][0].Content)
	assert.Equal(t, "hé", dst.batches[0][1].Content)
	assert.Len(t, sum.Warnings, 2)
}

func TestStream_ErrorListIsCapped(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,text\n")
	for i := 0; i < 20; i++ {
		b.WriteString("x\n")
	}
	obs := &captureObserver{}

	sum, err := New(Config{MaxErrors: 5}, WithObserver(obs)).
		Stream(context.Background(), csvSource(t, b.String()), &recordingSink{})
	require.NoError(t, err)

	assert.Len(t, sum.Errors, 5)
	assert.Equal(t, int64(20), sum.Failed)
	assert.Len(t, obs.errors, 20)
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
	assert.Equal(t, "", truncateUTF8("€", 2))
}
