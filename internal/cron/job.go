package cron

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Job enqueues Message into SessionID as a background message on Schedule.
type Job struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	SessionID string     `json:"session_id"`
	Message   string     `json:"message"`
	Enabled   bool       `json:"enabled"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// JobCreate is the input for creating a job.
type JobCreate struct {
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Enabled   bool   `json:"enabled"`
}

// Validate checks the create input, including the schedule expression.
func (c *JobCreate) Validate() error {
	if c.Name == "" {
		return &InvalidScheduleError{Schedule: c.Schedule, Message: "name is required"}
	}
	if c.SessionID == "" {
		return &InvalidScheduleError{Schedule: c.Schedule, Message: "session_id is required"}
	}
	if strings.TrimSpace(c.Message) == "" {
		return &InvalidScheduleError{Schedule: c.Schedule, Message: "message is required"}
	}
	return ValidateSchedule(c.Schedule)
}

// JobPatch is the input for updating a job. Nil fields are left alone.
type JobPatch struct {
	Schedule  *string `json:"schedule,omitempty"`
	SessionID *string `json:"session_id,omitempty"`
	Message   *string `json:"message,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}

// HistoryStatus is the outcome of a single firing.
type HistoryStatus string

const (
	// StatusEnqueued means the message reached the session queue.
	StatusEnqueued HistoryStatus = "enqueued"
	// StatusFailed means the enqueue was rejected.
	StatusFailed HistoryStatus = "failed"
	// StatusSkipped means the job was disabled when its entry fired.
	StatusSkipped HistoryStatus = "skipped"
)

// HistoryEntry records one firing of a job.
type HistoryEntry struct {
	ID        int64         `json:"id"`
	JobName   string        `json:"job_name"`
	SessionID string        `json:"session_id"`
	MessageID string        `json:"message_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Status    HistoryStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// normalizeSchedule turns a standard five-field expression into the
// six-field form the scheduler runs with. Descriptors pass through.
func normalizeSchedule(schedule string) string {
	schedule = strings.TrimSpace(schedule)
	if len(strings.Fields(schedule)) == 5 {
		return "0 " + schedule
	}
	return schedule
}

// ValidateSchedule accepts five-field, six-field (with seconds) and
// descriptor expressions such as "@every 1m".
func ValidateSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return &InvalidScheduleError{Schedule: schedule, Message: "schedule is required"}
	}
	if _, err := parser.Parse(normalizeSchedule(schedule)); err != nil {
		return &InvalidScheduleError{Schedule: schedule, Message: err.Error()}
	}
	return nil
}
