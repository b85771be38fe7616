// Package jobregistry holds the in-memory state of ingestion jobs.
//
// A Job is owned by the Registry. Its status lives in an atomic cell that is
// changed only by compare-and-transition, so a cancel and a runner finishing
// at the same moment never both win. Counters are atomic; slices and
// timestamps sit behind a per-job lock that is never held across I/O.
package jobregistry

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/3leaps/goharvest/pkg/progress"
)

// MaxErrors caps the error and warning lists of every job. Messages past the
// cap are dropped; counters keep counting.
const MaxErrors = 100

// Status is the lifecycle state of a job.
//
// NOTE: The string forms are part of the API and archive contract.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

var statusNames = [...]string{
	StatusPending:   "PENDING",
	StatusRunning:   "RUNNING",
	StatusCompleted: "COMPLETED",
	StatusFailed:    "FAILED",
	StatusCancelled: "CANCELLED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int32(s))
	}
	return statusNames[s]
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus parses the upper-case name of a status.
func ParseStatus(s string) (Status, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", s)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Kind is the type of work a job performs.
type Kind string

const (
	KindDirectoryScan Kind = "DIRECTORY_SCAN"
	KindRecordStream  Kind = "RECORD_STREAM"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindDirectoryScan || k == KindRecordStream
}

// Job is the canonical, mutable state of one submitted job.
//
// ID, Kind, Config and CreatedAt are fixed at construction. Everything else
// is written by the job's runner (and by Transition) and read through
// Snapshot.
type Job struct {
	ID        string
	Kind      Kind
	Config    any
	CreatedAt time.Time

	status atomic.Int32

	processed     atomic.Int64
	succeeded     atomic.Int64
	failed        atomic.Int64
	skipped       atomic.Int64
	batches       atomic.Int64
	totalEstimate atomic.Int64
	totalFiles    atomic.Int64

	mu             sync.RWMutex
	startedAt      time.Time
	endedAt        time.Time
	errors         []string
	warnings       []string
	extensions     []string
	outputLocation string
	progress       progress.Snapshot
}

// NewJob returns a PENDING job with an unknown total.
func NewJob(id string, kind Kind, cfg any, now time.Time) *Job {
	j := &Job{ID: id, Kind: kind, Config: cfg, CreatedAt: now.UTC()}
	j.status.Store(int32(StatusPending))
	j.totalEstimate.Store(-1)
	return j
}

// Status returns the current status without locking.
func (j *Job) Status() Status {
	return Status(j.status.Load())
}

// Transition moves the job from one status to another if it is currently in
// from. Entering RUNNING stamps the start time; entering a terminal status
// stamps the end time.
func (j *Job) Transition(from, to Status) bool {
	return j.TransitionAt(from, to, time.Now())
}

// TransitionAt is Transition with an explicit clock.
func (j *Job) TransitionAt(from, to Status, now time.Time) bool {
	if from.IsTerminal() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	now = now.UTC()
	if to == StatusRunning && j.startedAt.IsZero() {
		j.startedAt = now
	}
	if to.IsTerminal() {
		j.endedAt = now
	}
	return true
}

// AddProcessed records n attempted units of work.
func (j *Job) AddProcessed(n int64) { j.processed.Add(n) }

// AddSucceeded records n successful units.
func (j *Job) AddSucceeded(n int64) { j.succeeded.Add(n) }

// AddFailed records n failed units.
func (j *Job) AddFailed(n int64) { j.failed.Add(n) }

// SetCounters replaces the stream counters with absolute values reported by a
// batcher.
func (j *Job) SetCounters(processed, succeeded, failed, skipped, batches int64) {
	j.processed.Store(processed)
	j.succeeded.Store(succeeded)
	j.failed.Store(failed)
	j.skipped.Store(skipped)
	j.batches.Store(batches)
}

// Processed returns the processed counter.
func (j *Job) Processed() int64 { return j.processed.Load() }

// SetTotalEstimate sets the best-effort total; -1 means unknown.
func (j *Job) SetTotalEstimate(n int64) { j.totalEstimate.Store(n) }

// TotalEstimate returns the total estimate, raised to Processed when the
// source turned out larger than estimated.
func (j *Job) TotalEstimate() int64 {
	est := j.totalEstimate.Load()
	if p := j.processed.Load(); est >= 0 && p > est {
		j.totalEstimate.CompareAndSwap(est, p)
		return p
	}
	return est
}

// SetTotalFiles records how many files the traversal returned.
func (j *Job) SetTotalFiles(n int) { j.totalFiles.Store(int64(n)) }

// StartedAt returns the time the job entered RUNNING, or zero.
func (j *Job) StartedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.startedAt
}

// AddError appends msg unless the list is full.
func (j *Job) AddError(msg string) {
	j.mu.Lock()
	if len(j.errors) < MaxErrors {
		j.errors = append(j.errors, msg)
	}
	j.mu.Unlock()
}

// AddWarning appends msg unless the list is full.
func (j *Job) AddWarning(msg string) {
	j.mu.Lock()
	if len(j.warnings) < MaxErrors {
		j.warnings = append(j.warnings, msg)
	}
	j.mu.Unlock()
}

// SetExtensions records the distinct extensions observed by a scan.
func (j *Job) SetExtensions(exts []string) {
	cp := append([]string(nil), exts...)
	j.mu.Lock()
	j.extensions = cp
	j.mu.Unlock()
}

// SetOutputLocation records where results were written.
func (j *Job) SetOutputLocation(loc string) {
	j.mu.Lock()
	j.outputLocation = loc
	j.mu.Unlock()
}

// SetProgress records the last computed progress.
func (j *Job) SetProgress(p progress.Snapshot) {
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
}

// JobSnapshot is an immutable copy of a job's state.
type JobSnapshot struct {
	ID     string `json:"job_id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
	Config any    `json:"config,omitempty"`

	Processed       int64    `json:"processed"`
	Succeeded       int64    `json:"succeeded"`
	Failed          int64    `json:"failed"`
	Skipped         int64    `json:"skipped,omitempty"`
	Batches         int64    `json:"batches"`
	TotalEstimate   int64    `json:"total_estimate"`
	TotalFilesFound int64    `json:"total_files_found,omitempty"`
	Extensions      []string `json:"processed_extensions,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMs int64      `json:"duration_ms"`

	Errors         []string          `json:"errors,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	OutputLocation string            `json:"output_location,omitempty"`
	Progress       progress.Snapshot `json:"progress"`
}

// Snapshot copies the job's state. Duration runs to now while the job is
// not terminal.
func (j *Job) Snapshot(now time.Time) JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := JobSnapshot{
		ID:              j.ID,
		Kind:            j.Kind,
		Status:          j.Status(),
		Config:          j.Config,
		Processed:       j.processed.Load(),
		Succeeded:       j.succeeded.Load(),
		Failed:          j.failed.Load(),
		Skipped:         j.skipped.Load(),
		Batches:         j.batches.Load(),
		TotalEstimate:   j.TotalEstimate(),
		TotalFilesFound: j.totalFiles.Load(),
		Extensions:      append([]string(nil), j.extensions...),
		CreatedAt:       j.CreatedAt,
		Errors:          append([]string(nil), j.errors...),
		Warnings:        append([]string(nil), j.warnings...),
		OutputLocation:  j.outputLocation,
		Progress:        j.progress,
	}
	if !j.startedAt.IsZero() {
		started := j.startedAt
		s.StartedAt = &started
	}
	if !j.endedAt.IsZero() {
		ended := j.endedAt
		s.EndedAt = &ended
	}
	switch {
	case s.StartedAt == nil:
	case s.EndedAt != nil:
		s.DurationMs = s.EndedAt.Sub(*s.StartedAt).Milliseconds()
	default:
		s.DurationMs = now.Sub(*s.StartedAt).Milliseconds()
	}
	return s
}
