// Package progress computes progress snapshots for long-running jobs.
//
// Computation is pure: callers pass counters and timestamps, and receive a
// Snapshot. Runners call Compute once per batch or per extracted file, never
// per record.
package progress

import (
	"fmt"
	"time"
)

// Snapshot is a point-in-time view of job progress.
type Snapshot struct {
	// Percentage is min(100, processed*100/total). Nil when the total is
	// unknown or zero.
	Percentage *float64 `json:"progress_percentage,omitempty"`

	// RatePerSecond is processed items per second since start.
	RatePerSecond float64 `json:"processing_rate_per_second"`

	// ElapsedMs is the wall time since start in milliseconds.
	ElapsedMs int64 `json:"elapsed_ms"`
}

// Compute returns a progress snapshot.
//
// Parameters:
//   - processed: items handled so far
//   - total: best-effort total; values <= 0 mean unknown
//   - startedAt: when work began; a zero value yields zero elapsed time
//   - now: the observation time
func Compute(processed, total int64, startedAt, now time.Time) Snapshot {
	var snap Snapshot

	if !startedAt.IsZero() && now.After(startedAt) {
		snap.ElapsedMs = now.Sub(startedAt).Milliseconds()
	}

	if total > 0 {
		pct := float64(processed) * 100.0 / float64(total)
		if pct > 100 {
			pct = 100
		}
		if pct < 0 {
			pct = 0
		}
		snap.Percentage = &pct
	}

	if snap.ElapsedMs > 0 {
		snap.RatePerSecond = float64(processed) * 1000.0 / float64(snap.ElapsedMs)
	}

	return snap
}

// ETA estimates the remaining time from the snapshot's rate.
// Returns zero when the rate or total is unknown, or when work is done.
func (s Snapshot) ETA(processed, total int64) time.Duration {
	if total <= 0 || s.RatePerSecond <= 0 || processed >= total {
		return 0
	}
	remaining := float64(total-processed) / s.RatePerSecond
	return time.Duration(remaining * float64(time.Second))
}

// String renders the snapshot for CLI progress lines.
func (s Snapshot) String() string {
	if s.Percentage == nil {
		return fmt.Sprintf("%.1f items/s, %dms elapsed", s.RatePerSecond, s.ElapsedMs)
	}
	return fmt.Sprintf("%.1f%% - %.1f items/s, %dms elapsed", *s.Percentage, s.RatePerSecond, s.ElapsedMs)
}
