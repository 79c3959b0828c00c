package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"conduit/internal/queue"
	"conduit/pkg/logger"
)

// Enqueuer accepts messages for a session. *runner.Runner satisfies it.
type Enqueuer interface {
	Enqueue(sessionID string, parts []queue.Part, kind queue.Kind, metadata map[string]any) (*queue.QueuedMessage, error)
}

// Scheduler fires jobs on their schedules with robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	entries  map[string]cron.EntryID // job name -> entry ID
	store    *JobStore
	history  *HistoryStore
	enqueuer Enqueuer
	keep     int
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	running bool
}

// SchedulerConfig configures the scheduler.
type SchedulerConfig struct {
	// Location for time zone handling. Defaults to time.Local.
	Location *time.Location
	// HistoryLimit is how many firings to keep per job. Defaults to 100.
	HistoryLimit int
}

// NewScheduler creates a scheduler. cfg may be nil.
func NewScheduler(store *JobStore, history *HistoryStore, enqueuer Enqueuer, cfg *SchedulerConfig) *Scheduler {
	if cfg == nil {
		cfg = &SchedulerConfig{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}

	log := logger.Component("cron")
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLogger{log: log}),
	)

	return &Scheduler{
		cron:     c,
		entries:  make(map[string]cron.EntryID),
		store:    store,
		history:  history,
		enqueuer: enqueuer,
		keep:     cfg.HistoryLimit,
		log:      log,
		now:      time.Now,
	}
}

// Start registers every enabled job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("cron: scheduler already running")
	}

	jobs, err := s.store.ListEnabled()
	if err != nil {
		return fmt.Errorf("load enabled jobs: %w", err)
	}

	for _, job := range jobs {
		if err := s.addEntryLocked(job); err != nil {
			s.log.Error().Err(err).Str("job", job.Name).Msg("failed to register job")
		}
	}

	s.cron.Start()
	s.running = true
	s.log.Info().Int("registered_jobs", len(s.entries)).Msg("scheduler started")
	return nil
}

// Stop stops the cron loop. The returned context is done once running
// entries have returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	ctx := s.cron.Stop()
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	s.running = false
	s.log.Info().Msg("scheduler stopped")
	return ctx
}

// AddJob persists a new job and schedules it when enabled.
func (s *Scheduler) AddJob(ctx context.Context, create JobCreate) (*Job, error) {
	job, err := s.store.Create(&create)
	if err != nil {
		return nil, err
	}
	s.reschedule(job)
	s.log.Info().Str("job", job.Name).Str("schedule", job.Schedule).Msg("job added")
	return job, nil
}

// SyncJob creates or overwrites a job definition, as loaded from config.
func (s *Scheduler) SyncJob(ctx context.Context, create JobCreate) (*Job, error) {
	job, err := s.store.Upsert(&create)
	if err != nil {
		return nil, err
	}
	s.reschedule(job)
	return job, nil
}

// UpdateJob patches a job and re-registers it.
func (s *Scheduler) UpdateJob(ctx context.Context, name string, patch JobPatch) (*Job, error) {
	job, err := s.store.Update(name, &patch)
	if err != nil {
		return nil, err
	}
	s.reschedule(job)
	s.log.Info().Str("job", name).Msg("job updated")
	return job, nil
}

// RemoveJob unschedules and deletes a job.
func (s *Scheduler) RemoveJob(ctx context.Context, name string) error {
	s.mu.Lock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	s.mu.Unlock()

	if err := s.store.Delete(name); err != nil {
		return err
	}
	s.log.Info().Str("job", name).Msg("job removed")
	return nil
}

// EnableJob enables a disabled job.
func (s *Scheduler) EnableJob(ctx context.Context, name string) (*Job, error) {
	enabled := true
	return s.UpdateJob(ctx, name, JobPatch{Enabled: &enabled})
}

// DisableJob disables an enabled job.
func (s *Scheduler) DisableJob(ctx context.Context, name string) (*Job, error) {
	enabled := false
	return s.UpdateJob(ctx, name, JobPatch{Enabled: &enabled})
}

// ListJobs returns all jobs with their next run filled in.
func (s *Scheduler) ListJobs(ctx context.Context) ([]*Job, error) {
	jobs, err := s.store.List()
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		s.fillNextRun(job)
	}
	return jobs, nil
}

// GetJob returns a job by name.
func (s *Scheduler) GetJob(ctx context.Context, name string) (*Job, error) {
	job, err := s.store.Get(name)
	if err != nil {
		return nil, err
	}
	s.fillNextRun(job)
	return job, nil
}

// History returns the newest firings of name, or of every job when name is empty.
func (s *Scheduler) History(ctx context.Context, name string, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if name == "" {
		return s.history.List(limit)
	}
	return s.history.ListByJob(name, limit)
}

// RunNow fires a job immediately, even when it is disabled.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*HistoryEntry, error) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return nil, ErrSchedulerNotRunning
	}

	job, err := s.store.Get(name)
	if err != nil {
		return nil, err
	}
	entry := s.fire(job)
	if entry.Status == StatusFailed {
		return entry, fmt.Errorf("cron: run %s: %s", name, entry.Error)
	}
	return entry, nil
}

// NextRun returns the next scheduled time for a job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if entry.ID == 0 || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Scheduler) fillNextRun(job *Job) {
	if next, ok := s.NextRun(job.Name); ok {
		job.NextRun = &next
	}
}

func (s *Scheduler) reschedule(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if id, ok := s.entries[job.Name]; ok {
		s.cron.Remove(id)
		delete(s.entries, job.Name)
	}
	if job.Enabled {
		if err := s.addEntryLocked(job); err != nil {
			s.log.Error().Err(err).Str("job", job.Name).Msg("failed to register job")
		}
	}
}

// addEntryLocked registers a job with the cron loop. Caller must hold s.mu.
func (s *Scheduler) addEntryLocked(job *Job) error {
	name := job.Name
	id, err := s.cron.AddFunc(normalizeSchedule(job.Schedule), func() {
		s.fireScheduled(name)
	})
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}
	s.entries[name] = id
	return nil
}

// fireScheduled reloads the job so edits made since registration apply.
func (s *Scheduler) fireScheduled(name string) {
	job, err := s.store.Get(name)
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("failed to reload job")
		return
	}
	if !job.Enabled {
		s.record(&HistoryEntry{JobName: name, SessionID: job.SessionID, StartedAt: s.now(), Status: StatusSkipped})
		return
	}
	s.fire(job)
}

func (s *Scheduler) fire(job *Job) *HistoryEntry {
	entry := &HistoryEntry{
		JobName:   job.Name,
		SessionID: job.SessionID,
		StartedAt: s.now(),
		Status:    StatusEnqueued,
	}

	msg, err := s.enqueuer.Enqueue(job.SessionID, []queue.Part{queue.TextPart(job.Message)}, queue.KindBackground,
		map[string]any{"source": "cron", "job": job.Name})
	if err != nil {
		entry.Status = StatusFailed
		entry.Error = err.Error()
		s.log.Error().Err(err).Str("job", job.Name).Str("session_id", job.SessionID).Msg("job enqueue failed")
	} else {
		entry.MessageID = msg.ID
		s.log.Info().Str("job", job.Name).Str("session_id", job.SessionID).Str("message_id", msg.ID).Msg("job fired")
	}

	if err := s.store.UpdateLastRun(job.Name, entry.StartedAt); err != nil {
		s.log.Warn().Err(err).Str("job", job.Name).Msg("failed to stamp last run")
	}
	s.record(entry)
	return entry
}

func (s *Scheduler) record(entry *HistoryEntry) {
	if err := s.history.Create(entry); err != nil {
		s.log.Warn().Err(err).Str("job", entry.JobName).Msg("failed to record history")
		return
	}
	if _, err := s.history.Cleanup(entry.JobName, s.keep); err != nil {
		s.log.Warn().Err(err).Str("job", entry.JobName).Msg("failed to trim history")
	}
}

// cronLogger routes robfig/cron's own logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
