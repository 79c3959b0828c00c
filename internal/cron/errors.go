// Package cron schedules background messages into session queues.
package cron

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound         = errors.New("cron: job not found")
	ErrJobExists           = errors.New("cron: job already exists")
	ErrSchedulerNotRunning = errors.New("cron: scheduler not running")
	ErrHistoryNotFound     = errors.New("cron: history entry not found")
	// ErrInvalidSchedule matches every *InvalidScheduleError.
	ErrInvalidSchedule = errors.New("cron: invalid job")
)

// InvalidScheduleError describes a job definition the scheduler rejects,
// either an unparsable expression or a missing field.
type InvalidScheduleError struct {
	Schedule string
	Message  string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("cron: invalid schedule %q: %s", e.Schedule, e.Message)
}

func (e *InvalidScheduleError) Unwrap() error { return ErrInvalidSchedule }
