package jobregistry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestArchive_WriteGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	a := NewArchive(root)

	start := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	j := NewJob("scan_1_abcd1234", KindDirectoryScan, map[string]any{"source_path": "/data"}, start)
	j.TransitionAt(StatusPending, StatusRunning, start)
	j.AddProcessed(3)
	j.AddSucceeded(2)
	j.AddFailed(1)
	j.AddError("extract /data/b.doc: unsupported")
	j.TransitionAt(StatusRunning, StatusCompleted, start.Add(2*time.Second))

	if err := a.Write(j.Snapshot(start.Add(time.Hour))); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := a.Get("scan_1_abcd1234")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status mismatch: got=%s", got.Status)
	}
	if got.Processed != 3 || got.Succeeded != 2 || got.Failed != 1 {
		t.Fatalf("counters not persisted: %+v", got)
	}
	if got.DurationMs != 2000 {
		t.Fatalf("duration mismatch: got=%d", got.DurationMs)
	}
	if len(got.Errors) != 1 {
		t.Fatalf("errors not persisted")
	}

	entries, err := os.ReadDir(a.JobDir("scan_1_abcd1234"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "job.json" {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestArchive_ListSortsNewestFirst(t *testing.T) {
	a := NewArchive(t.TempDir())

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		id  string
		end time.Time
	}{{"job-1", t1}, {"job-2", t2}} {
		j := NewJob(tc.id, KindRecordStream, nil, t1)
		j.TransitionAt(StatusPending, StatusCancelled, tc.end)
		if err := a.Write(j.Snapshot(tc.end)); err != nil {
			t.Fatalf("Write %s: %v", tc.id, err)
		}
	}
	if err := os.WriteFile(filepath.Join(a.RootDir(), "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := a.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected job count: %d", len(got))
	}
	if got[0].ID != "job-2" {
		t.Fatalf("expected newest first, got[0]=%q", got[0].ID)
	}
}

func TestArchive_RejectsBadIDs(t *testing.T) {
	a := NewArchive(t.TempDir())
	for _, id := range []string{"", "..", "a/b"} {
		if err := a.Write(JobSnapshot{ID: id}); err == nil {
			t.Fatalf("expected error for id %q", id)
		}
	}
	if err := NewArchive("").Write(JobSnapshot{ID: "x"}); err == nil {
		t.Fatalf("expected error for empty root")
	}
}

func TestArchive_ListMissingRoot(t *testing.T) {
	a := NewArchive(filepath.Join(t.TempDir(), "missing"))
	got, err := a.List()
	if err != nil || got != nil {
		t.Fatalf("List() = %v, %v", got, err)
	}
}
