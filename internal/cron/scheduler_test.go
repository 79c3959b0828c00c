package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"conduit/internal/queue"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	msgs []*queue.QueuedMessage
	err  error
}

func (f *fakeEnqueuer) Enqueue(sessionID string, parts []queue.Part, kind queue.Kind, metadata map[string]any) (*queue.QueuedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	msg := &queue.QueuedMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Parts:     parts,
		Kind:      kind,
		Metadata:  metadata,
		QueuedAt:  time.Now(),
	}
	f.msgs = append(f.msgs, msg)
	return msg, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func newTestScheduler(t *testing.T, enq Enqueuer) *Scheduler {
	t.Helper()
	db := openTestDB(t)
	s := NewScheduler(NewJobStore(db.DB), NewHistoryStore(db.DB), enq, &SchedulerConfig{HistoryLimit: 3})
	t.Cleanup(func() { <-s.Stop().Done() })
	return s
}

func TestSchedulerStartStop(t *testing.T) {
	s := newTestScheduler(t, &fakeEnqueuer{})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("Stop did not finish")
	}
	if _, err := s.RunNow(ctx, "anything"); !errors.Is(err, ErrSchedulerNotRunning) {
		t.Errorf("RunNow after stop: expected ErrSchedulerNotRunning, got %v", err)
	}
}

func TestSchedulerRegistersEnabledJobs(t *testing.T) {
	s := newTestScheduler(t, &fakeEnqueuer{})
	ctx := context.Background()

	if _, err := s.AddJob(ctx, JobCreate{Name: "on", Schedule: "@hourly", SessionID: "s1", Message: "x", Enabled: true}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if _, err := s.AddJob(ctx, JobCreate{Name: "off", Schedule: "@hourly", SessionID: "s1", Message: "x"}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if s.Entries() != 0 {
		t.Errorf("entries before start = %d, want 0", s.Entries())
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Entries() != 1 {
		t.Errorf("entries = %d, want 1", s.Entries())
	}
	if _, ok := s.NextRun("on"); !ok {
		t.Error("enabled job should have a next run")
	}
	if _, ok := s.NextRun("off"); ok {
		t.Error("disabled job should not have a next run")
	}

	if _, err := s.EnableJob(ctx, "off"); err != nil {
		t.Fatalf("EnableJob failed: %v", err)
	}
	if s.Entries() != 2 {
		t.Errorf("entries after enable = %d, want 2", s.Entries())
	}
	if _, err := s.DisableJob(ctx, "on"); err != nil {
		t.Fatalf("DisableJob failed: %v", err)
	}
	if err := s.RemoveJob(ctx, "off"); err != nil {
		t.Fatalf("RemoveJob failed: %v", err)
	}
	if s.Entries() != 0 {
		t.Errorf("entries after disable/remove = %d, want 0", s.Entries())
	}

	jobs, err := s.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "on" || jobs[0].NextRun != nil {
		t.Errorf("unexpected jobs: %+v", jobs)
	}
}

func TestSchedulerRunNowEnqueuesBackground(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := newTestScheduler(t, enq)
	ctx := context.Background()

	if _, err := s.AddJob(ctx, JobCreate{Name: "digest", Schedule: "@daily", SessionID: "s1", Message: "summarize the day"}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	entry, err := s.RunNow(ctx, "digest")
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if entry.Status != StatusEnqueued || entry.MessageID == "" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	if enq.count() != 1 {
		t.Fatalf("expected 1 enqueued message, got %d", enq.count())
	}
	msg := enq.msgs[0]
	if msg.Kind != queue.KindBackground || msg.SessionID != "s1" || msg.Parts[0].Text != "summarize the day" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Metadata["source"] != "cron" || msg.Metadata["job"] != "digest" {
		t.Errorf("unexpected metadata: %v", msg.Metadata)
	}

	job, err := s.GetJob(ctx, "digest")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.LastRun == nil {
		t.Error("last run not stamped")
	}

	if _, err := s.RunNow(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSchedulerRecordsFailedEnqueue(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("runner closed")}
	s := newTestScheduler(t, enq)
	ctx := context.Background()

	if _, err := s.AddJob(ctx, JobCreate{Name: "digest", Schedule: "@daily", SessionID: "s1", Message: "x"}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	entry, err := s.RunNow(ctx, "digest")
	if err == nil {
		t.Fatal("expected error")
	}
	if entry.Status != StatusFailed || entry.Error != "runner closed" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	history, err := s.History(ctx, "digest", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Status != StatusFailed {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestSchedulerHistoryIsTrimmed(t *testing.T) {
	s := newTestScheduler(t, &fakeEnqueuer{})
	ctx := context.Background()

	if _, err := s.AddJob(ctx, JobCreate{Name: "digest", Schedule: "@daily", SessionID: "s1", Message: "x"}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.RunNow(ctx, "digest"); err != nil {
			t.Fatalf("RunNow failed: %v", err)
		}
	}

	history, err := s.History(ctx, "", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("history length = %d, want 3", len(history))
	}
}

func TestSchedulerFiresOnSchedule(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := newTestScheduler(t, enq)
	ctx := context.Background()

	if _, err := s.SyncJob(ctx, JobCreate{Name: "tick", Schedule: "* * * * * *", SessionID: "s1", Message: "tick", Enabled: true}); err != nil {
		t.Fatalf("SyncJob failed: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for enq.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("job did not fire")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
