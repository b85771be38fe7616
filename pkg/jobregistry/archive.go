package jobregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Archive writes final job snapshots to an on-disk directory when jobs are
// evicted from the registry.
//
// Directory layout:
//
//	<root>/<job_id>/job.json
//
// Archives are audit output. They are never loaded back into a Registry.
type Archive struct {
	root string
}

func NewArchive(root string) *Archive {
	return &Archive{root: strings.TrimSpace(root)}
}

func (a *Archive) RootDir() string {
	return a.root
}

func (a *Archive) JobDir(jobID string) string {
	return filepath.Join(a.root, jobID)
}

func (a *Archive) JobPath(jobID string) string {
	return filepath.Join(a.JobDir(jobID), "job.json")
}

func (a *Archive) ensureRoot() error {
	if strings.TrimSpace(a.root) == "" {
		return fmt.Errorf("job archive root dir is empty")
	}
	return os.MkdirAll(a.root, 0755)
}

// Write stores snap as <root>/<job_id>/job.json, replacing any previous copy
// atomically.
func (a *Archive) Write(snap JobSnapshot) error {
	jobID := strings.TrimSpace(snap.ID)
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return fmt.Errorf("invalid job_id %q", jobID)
	}
	if err := a.ensureRoot(); err != nil {
		return err
	}

	jobDir := a.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}

	if err := os.Rename(tmpName, a.JobPath(jobID)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}

// Get reads one archived snapshot.
func (a *Archive) Get(jobID string) (*JobSnapshot, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	b, err := os.ReadFile(a.JobPath(jobID))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var snap JobSnapshot
	if err := json.Unmarshal([]byte(trimmed), &snap); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}
	return &snap, nil
}

// List returns all archived snapshots, most recently ended first. Unreadable
// entries are skipped.
func (a *Archive) List() ([]JobSnapshot, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive root: %w", err)
	}

	out := make([]JobSnapshot, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := a.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *snap)
	}

	sort.Slice(out, func(i, j int) bool {
		return archiveSortTime(out[i]) > archiveSortTime(out[j])
	})
	return out, nil
}

func archiveSortTime(s JobSnapshot) int64 {
	if s.EndedAt != nil {
		return s.EndedAt.UnixNano()
	}
	return s.CreatedAt.UnixNano()
}
