// Package scheduler fires the daily incremental sync at a fixed local time.
// Only the "minute hour * * *" subset of cron is supported; the schedule is a
// single daily tick and a full cron engine would be dead weight.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Job is the work the scheduler fires.
type Job func(ctx context.Context)

// Schedule is a daily time-of-day in a fixed location.
type Schedule struct {
	Minute int
	Hour   int
	Loc    *time.Location
}

// Parse accepts a five-field cron expression of the form "M H * * *".
func Parse(expr, timezone string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: want 5 fields", expr)
	}
	for _, f := range fields[2:] {
		if f != "*" {
			return Schedule{}, fmt.Errorf("invalid cron expression %q: only daily schedules (\"M H * * *\") are supported", expr)
		}
	}

	minute, err := strconv.Atoi(fields[0])
	if err != nil || minute < 0 || minute > 59 {
		return Schedule{}, fmt.Errorf("invalid cron minute %q", fields[0])
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return Schedule{}, fmt.Errorf("invalid cron hour %q", fields[1])
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	return Schedule{Minute: minute, Hour: hour, Loc: loc}, nil
}

// Next returns the first firing time strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	local := t.In(s.Loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.Loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Scheduler runs a job on a daily schedule until its context is canceled.
type Scheduler struct {
	schedule Schedule
	job      Job
	logger   *slog.Logger
}

// New builds a scheduler from a cron expression and timezone name.
func New(expr, timezone string, job Job, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := Parse(expr, timezone)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{schedule: schedule, job: job, logger: logger}, nil
}

// Run blocks, firing the job at each scheduled tick, until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(time.Now())
		s.logger.InfoContext(ctx, "next scheduled sync", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.job(ctx)
		}
	}
}
