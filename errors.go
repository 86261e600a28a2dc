package keel

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("keel: no store configured")
	ErrStoreClosed = errors.New("keel: store closed")

	// Not found errors.
	ErrJobNotFound    = errors.New("keel: job not found")
	ErrDLQNotFound    = errors.New("keel: dlq entry not found")
	ErrCronNotFound   = errors.New("keel: cron entry not found")
	ErrWorkerNotFound = errors.New("keel: worker not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("keel: job already exists")
	ErrDuplicateCron    = errors.New("keel: duplicate cron entry")

	// State errors.
	ErrInvalidState       = errors.New("keel: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("keel: max retries exceeded")

	// Cluster errors.
	ErrNotLeader = errors.New("keel: not the leader")
)
