package cron

import (
	"time"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/id"
)

// Entry represents a repeatable job schedule.
type Entry struct {
	keel.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	JobName     string     `json:"job_name"`
	Queue       string     `json:"queue,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	TenantID    string     `json:"tenant_id,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
}

// Due reports whether the entry should fire at the given instant.
func (e *Entry) Due(now time.Time) bool {
	if !e.Enabled || e.NextRunAt == nil {
		return false
	}
	return !e.NextRunAt.After(now)
}
