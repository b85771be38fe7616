// Package sink defines the durable write capability used by record streams.
//
// A Sink accepts a batch of records for a destination and reports how many
// entries it accepted. Entries not reported as accepted are counted as
// failed by the caller. Errors wrapping ErrFatal abort the stream; any other
// error fails only the batch.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/3leaps/goharvest/pkg/records"
)

// ErrFatal marks a non-recoverable sink condition.
var ErrFatal = errors.New("fatal sink error")

// Fatal wraps err so that errors.Is(err, ErrFatal) holds.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsFatal reports whether err aborts the stream.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Sink writes batches of records.
type Sink interface {
	// Write stores batch under destination and returns the number of
	// entries accepted.
	Write(ctx context.Context, batch []records.Record, destination string) (int, error)
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, batch []records.Record, destination string) (int, error)

// Write calls f.
func (f Func) Write(ctx context.Context, batch []records.Record, destination string) (int, error) {
	return f(ctx, batch, destination)
}

// Discard accepts every record and stores nothing.
var Discard Sink = Func(func(_ context.Context, batch []records.Record, _ string) (int, error) {
	return len(batch), nil
})

// Memory keeps records in memory, keyed by destination. Safe for concurrent
// use.
type Memory struct {
	mu    sync.Mutex
	byDst map[string][]records.Record
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{byDst: make(map[string][]records.Record)}
}

// Write appends batch to destination.
func (m *Memory) Write(ctx context.Context, batch []records.Record, destination string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byDst[destination] = append(m.byDst[destination], batch...)
	return len(batch), nil
}

// Records returns a copy of the records written to destination.
func (m *Memory) Records(destination string) []records.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]records.Record(nil), m.byDst[destination]...)
}

var (
	_ Sink = Func(nil)
	_ Sink = (*Memory)(nil)
)
