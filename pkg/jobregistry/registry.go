package jobregistry

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateJob is returned by Insert when the id is already present.
	ErrDuplicateJob = errors.New("duplicate job id")
)

// Registry maps job ids to jobs. It is safe for concurrent use.
type Registry struct {
	jobs sync.Map
	now  func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{now: time.Now}
}

// Insert registers j.
func (r *Registry) Insert(j *Job) error {
	if j == nil || j.ID == "" {
		return errors.New("job id is required")
	}
	if _, loaded := r.jobs.LoadOrStore(j.ID, j); loaded {
		return ErrDuplicateJob
	}
	return nil
}

// Get returns the live job.
func (r *Registry) Get(id string) (*Job, bool) {
	v, ok := r.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

// Snapshot returns a copy of the job's state.
func (r *Registry) Snapshot(id string) (JobSnapshot, bool) {
	j, ok := r.Get(id)
	if !ok {
		return JobSnapshot{}, false
	}
	return j.Snapshot(r.now()), true
}

// List returns snapshots of all jobs, newest first.
func (r *Registry) List() []JobSnapshot {
	now := r.now()
	var out []JobSnapshot
	r.jobs.Range(func(_, v any) bool {
		out = append(out, v.(*Job).Snapshot(now))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	n := 0
	r.jobs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Transition applies a compare-and-transition to the job's status. It is
// false for unknown ids and whenever the job is not in from.
func (r *Registry) Transition(id string, from, to Status) bool {
	j, ok := r.Get(id)
	if !ok {
		return false
	}
	return j.TransitionAt(from, to, r.now())
}

// Purge removes terminal jobs that ended more than olderThan before now and
// returns their final snapshots. A non-positive olderThan retains everything.
func (r *Registry) Purge(olderThan time.Duration, now time.Time) []JobSnapshot {
	if olderThan <= 0 {
		return nil
	}
	cutoff := now.Add(-olderThan)
	var evicted []JobSnapshot
	r.jobs.Range(func(k, v any) bool {
		j := v.(*Job)
		if !j.Status().IsTerminal() {
			return true
		}
		snap := j.Snapshot(now)
		if snap.EndedAt != nil && snap.EndedAt.Before(cutoff) {
			r.jobs.Delete(k)
			evicted = append(evicted, snap)
		}
		return true
	})
	return evicted
}
