// Package engine runs asynchronous ingestion jobs.
//
// An Engine accepts job configurations, registers each job in a
// jobregistry.Registry, and runs it on a worker pool. Callers poll with
// Status or List and stop a job with Cancel. Cancellation is cooperative:
// runners check the job's status cell before each directory, each file
// extraction and each batch flush, and the job's context is cancelled so
// collaborators that honor ctx return promptly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/3leaps/goharvest/pkg/extract"
	"github.com/3leaps/goharvest/pkg/jobregistry"
	"github.com/3leaps/goharvest/pkg/objectstore"
	"github.com/3leaps/goharvest/pkg/records"
	"github.com/3leaps/goharvest/pkg/sink"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("engine is closed")
)

// Config holds engine tunables.
type Config struct {
	// MaxConcurrentJobs bounds the runner pool. Zero means unbounded.
	MaxConcurrentJobs int

	// ExtractRateLimit caps file extractions per second for each scan.
	// Zero means unlimited.
	ExtractRateLimit float64

	// WriteAttempts and RetryDelay configure retries of non-fatal sink
	// errors. Zero values use the batch package defaults.
	WriteAttempts int
	RetryDelay    time.Duration

	// MaxContentBytes truncates streamed content. Zero means 1 MiB.
	MaxContentBytes int

	// ScratchDir holds manifests waiting for upload. Default: os.TempDir()
	ScratchDir string

	Retention RetentionConfig
}

// RetentionConfig controls eviction of finished jobs.
type RetentionConfig struct {
	// TTL is how long a terminal job stays visible. Zero retains forever.
	TTL time.Duration

	// SweepInterval is the eviction period. Default: 1m
	SweepInterval time.Duration

	// ArchiveDir, when set, receives the final snapshot of every evicted job.
	ArchiveDir string
}

// Engine is the job facade. It is safe for concurrent use.
type Engine struct {
	cfg       Config
	registry  *jobregistry.Registry
	pool      *ants.Pool
	logger    *zap.Logger
	extractor extract.Extractor
	sink      sink.Sink
	uploaders objectstore.Factory
	archive   *jobregistry.Archive
	now       func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	done    map[string]chan struct{}
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	sweepOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: zap.NewNop()
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithExtractor sets the scan extractor. Default: extract.NewFileExtractor
func WithExtractor(x extract.Extractor) Option {
	return func(e *Engine) {
		if x != nil {
			e.extractor = x
		}
	}
}

// WithSink sets the stream sink. Default: sink.Discard
func WithSink(s sink.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithUploaders enables object store destinations for scan manifests.
func WithUploaders(f objectstore.Factory) Option {
	return func(e *Engine) {
		e.uploaders = f
	}
}

// WithRegistry sets the registry. Default: a new empty registry.
func WithRegistry(r *jobregistry.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an engine. Call Close to release the pool.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Retention.SweepInterval <= 0 {
		cfg.Retention.SweepInterval = time.Minute
	}

	e := &Engine{
		cfg:       cfg,
		registry:  jobregistry.New(),
		logger:    zap.NewNop(),
		extractor: extract.NewFileExtractor(extract.Config{}),
		sink:      sink.Discard,
		now:       time.Now,
		done:      make(map[string]chan struct{}),
		cancels:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Retention.ArchiveDir != "" {
		e.archive = jobregistry.NewArchive(cfg.Retention.ArchiveDir)
	}

	// A non-positive size gives an unbounded pool.
	size := cfg.MaxConcurrentJobs
	if size <= 0 {
		size = -1
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		e.logger.Error("runner panic escaped recovery", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create runner pool: %w", err)
	}
	e.pool = pool
	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	return e, nil
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *jobregistry.Registry {
	return e.registry
}

// Submit validates cfg, registers a PENDING job and dispatches its runner.
// It returns without waiting for the job to start. An invalid config yields
// ValidationErrors and no job is created.
func (e *Engine) Submit(ctx context.Context, cfg JobConfig) (jobregistry.JobSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return jobregistry.JobSnapshot{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return jobregistry.JobSnapshot{}, err
	}
	if cfg.Kind == jobregistry.KindDirectoryScan && objectstore.IsObjectURI(cfg.Destination) && e.uploaders == nil {
		return jobregistry.JobSnapshot{}, ValidationErrors{{Field: "destination", Message: "object store destinations are not configured"}}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return jobregistry.JobSnapshot{}, ErrClosed
	}

	now := e.now()
	id, err := newJobID(cfg.Kind, now)
	if err != nil {
		return jobregistry.JobSnapshot{}, err
	}
	job := jobregistry.NewJob(id, cfg.Kind, cfg, now)
	if err := e.registry.Insert(job); err != nil {
		return jobregistry.JobSnapshot{}, err
	}
	done := make(chan struct{})
	e.done[id] = done
	snap := job.Snapshot(now)

	e.wg.Add(1)
	go e.dispatch(job, cfg, done)

	e.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("kind", string(cfg.Kind)),
		zap.String("source_path", cfg.SourcePath),
	)
	return snap, nil
}

// dispatch hands the runner to the pool. With a bounded pool it blocks
// until a worker is free, so the job stays PENDING meanwhile.
func (e *Engine) dispatch(job *jobregistry.Job, cfg JobConfig, done chan struct{}) {
	task := func() {
		defer e.wg.Done()
		defer close(done)
		e.run(job, cfg)
	}
	if err := e.pool.Submit(task); err != nil {
		job.AddError(fmt.Sprintf("dispatch: %v", err))
		job.TransitionAt(jobregistry.StatusPending, jobregistry.StatusFailed, e.now())
		e.logger.Error("job dispatch failed", zap.String("job_id", job.ID), zap.Error(err))
		close(done)
		e.wg.Done()
	}
}

// Status returns a snapshot of one job.
func (e *Engine) Status(id string) (jobregistry.JobSnapshot, error) {
	snap, ok := e.registry.Snapshot(id)
	if !ok {
		return jobregistry.JobSnapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return snap, nil
}

// Cancel stops a PENDING or RUNNING job. It returns false for unknown and
// terminal jobs, so repeated calls are harmless.
func (e *Engine) Cancel(id string) bool {
	now := e.now()
	if !e.registry.Transition(id, jobregistry.StatusRunning, jobregistry.StatusCancelled) &&
		!e.registry.Transition(id, jobregistry.StatusPending, jobregistry.StatusCancelled) {
		return false
	}
	e.mu.Lock()
	cancel := e.cancels[id]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.logger.Info("job cancelled", zap.String("job_id", id), zap.Time("at", now))
	return true
}

// List returns snapshots of all retained jobs, newest first.
func (e *Engine) List() []jobregistry.JobSnapshot {
	return e.registry.List()
}

// EstimateCount returns a best-effort record count for a source file, or
// -1 when it cannot be read.
func (e *Engine) EstimateCount(path string, skipHeader bool) int64 {
	n := records.EstimateCount(path, skipHeader)
	if n < 0 {
		e.logger.Warn("record count estimate failed", zap.String("path", path))
	}
	return n
}

// SupportedExtensions lists the extensions the extractor can handle, or nil
// when the extractor does not say.
func (e *Engine) SupportedExtensions() []string {
	if s, ok := e.extractor.(interface{ SupportedExtensions() []string }); ok {
		return s.SupportedExtensions()
	}
	return nil
}

// Wait blocks until the job is terminal or ctx ends.
func (e *Engine) Wait(ctx context.Context, id string) (jobregistry.JobSnapshot, error) {
	e.mu.Lock()
	done, ok := e.done[id]
	e.mu.Unlock()
	if !ok {
		return e.Status(id)
	}
	select {
	case <-done:
		return e.Status(id)
	case <-ctx.Done():
		return jobregistry.JobSnapshot{}, ctx.Err()
	}
}

// Start launches the retention sweeper. It stops when ctx ends or the
// engine is closed. Without a TTL it does nothing.
func (e *Engine) Start(ctx context.Context) {
	if e.cfg.Retention.TTL <= 0 {
		return
	}
	e.sweepOnce.Do(func() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ticker := time.NewTicker(e.cfg.Retention.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-e.baseCtx.Done():
					return
				case <-ticker.C:
					e.Sweep()
				}
			}
		}()
	})
}

// Sweep evicts terminal jobs older than the retention TTL, archiving them
// when an archive directory is configured. It returns the number evicted.
func (e *Engine) Sweep() int {
	evicted := e.registry.Purge(e.cfg.Retention.TTL, e.now())
	if len(evicted) == 0 {
		return 0
	}
	e.mu.Lock()
	for _, s := range evicted {
		delete(e.done, s.ID)
	}
	e.mu.Unlock()

	for _, s := range evicted {
		if e.archive == nil {
			continue
		}
		if err := e.archive.Write(s); err != nil {
			e.logger.Warn("archive evicted job failed", zap.String("job_id", s.ID), zap.Error(err))
		}
	}
	e.logger.Debug("retention sweep", zap.Int("evicted", len(evicted)))
	return len(evicted)
}

// Close stops accepting jobs, cancels running ones and waits for every
// runner to return before releasing the pool.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.baseCancel()
	e.wg.Wait()
	e.pool.Release()
	return nil
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Running returns the number of jobs that are not yet terminal.
func (e *Engine) Running() int {
	n := 0
	for _, s := range e.registry.List() {
		if !s.Status.IsTerminal() {
			n++
		}
	}
	return n
}
