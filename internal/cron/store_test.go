package cron

import (
	"errors"
	"testing"
	"time"

	"conduit/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(storage.MemoryPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobStoreCRUD(t *testing.T) {
	store := NewJobStore(openTestDB(t).DB)

	job, err := store.Create(&JobCreate{Name: "digest", Schedule: "@hourly", SessionID: "s1", Message: "summarize", Enabled: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.CreatedAt.IsZero() || !job.Enabled {
		t.Errorf("unexpected job: %+v", job)
	}

	if _, err := store.Create(&JobCreate{Name: "digest", Schedule: "@daily", SessionID: "s1", Message: "x"}); !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate create: expected ErrJobExists, got %v", err)
	}

	got, err := store.Get("digest")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Message != "summarize" || got.SessionID != "s1" || got.LastRun != nil {
		t.Errorf("unexpected job: %+v", got)
	}

	msg := "summarize briefly"
	disabled := false
	updated, err := store.Update("digest", &JobPatch{Message: &msg, Enabled: &disabled})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Message != msg || updated.Enabled {
		t.Errorf("patch not applied: %+v", updated)
	}

	bad := "nope"
	if _, err := store.Update("digest", &JobPatch{Schedule: &bad}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("bad schedule patch: got %v", err)
	}

	enabled, err := store.ListEnabled()
	if err != nil {
		t.Fatalf("ListEnabled failed: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("expected no enabled jobs, got %d", len(enabled))
	}

	if err := store.Delete("digest"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("digest"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("second delete: expected ErrJobNotFound, got %v", err)
	}
	if _, err := store.Get("digest"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("get after delete: expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStoreUpsertKeepsLastRun(t *testing.T) {
	store := NewJobStore(openTestDB(t).DB)

	create := &JobCreate{Name: "ping", Schedule: "@every 1m", SessionID: "s1", Message: "ping", Enabled: true}
	if _, err := store.Upsert(create); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	ran := time.UnixMilli(time.Now().UnixMilli())
	if err := store.UpdateLastRun("ping", ran); err != nil {
		t.Fatalf("UpdateLastRun failed: %v", err)
	}

	create.Message = "pong"
	job, err := store.Upsert(create)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if job.Message != "pong" {
		t.Errorf("message = %q, want pong", job.Message)
	}
	if job.LastRun == nil || !job.LastRun.Equal(ran) {
		t.Errorf("last run lost: %v", job.LastRun)
	}

	jobs, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(jobs))
	}
}

func TestHistoryStore(t *testing.T) {
	history := NewHistoryStore(openTestDB(t).DB)
	base := time.Now()

	for i := 0; i < 5; i++ {
		entry := &HistoryEntry{
			JobName:   "a",
			SessionID: "s1",
			StartedAt: base.Add(time.Duration(i) * time.Second),
			Status:    StatusEnqueued,
		}
		if err := history.Create(entry); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if entry.ID == 0 {
			t.Fatal("expected id to be set")
		}
	}
	if err := history.Create(&HistoryEntry{JobName: "b", SessionID: "s2", StartedAt: base, Status: StatusFailed, Error: "closed"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	all, err := history.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(all))
	}
	if all[0].JobName != "a" || !all[0].StartedAt.After(all[1].StartedAt) {
		t.Errorf("entries not newest first: %+v", all[:2])
	}

	deleted, err := history.Cleanup("a", 2)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	byJob, err := history.ListByJob("a", 10)
	if err != nil {
		t.Fatalf("ListByJob failed: %v", err)
	}
	if len(byJob) != 2 {
		t.Errorf("expected 2 remaining entries, got %d", len(byJob))
	}

	b, err := history.ListByJob("b", 10)
	if err != nil || len(b) != 1 || b[0].Error != "closed" {
		t.Errorf("job b history = %+v, %v", b, err)
	}

	if _, err := history.Get(9999); !errors.Is(err, ErrHistoryNotFound) {
		t.Errorf("expected ErrHistoryNotFound, got %v", err)
	}
}
