package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/dlq"
	"github.com/keelhq/keel/id"
)

// PushDLQ upserts a failed job entry. Entry IDs are deterministic per
// logical job, so HSet on the same key replaces the previous failure.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(entry.ID), dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, entry.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keel/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest failure
// first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("keel/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, k int) bool {
		return entries[i].FailedAt.After(entries[k].FailedAt)
	})

	if opts.Offset > 0 && opts.Offset < len(entries) {
		entries = entries[opts.Offset:]
	} else if opts.Offset >= len(entries) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID)).Result()
	if err != nil {
		return nil, fmt.Errorf("keel/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, keel.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// DeleteDLQ removes a single entry.
func (s *Store) DeleteDLQ(ctx context.Context, entryID string) error {
	key := dlqKey(entryID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: delete dlq exists: %w", err)
	}
	if exists == 0 {
		return keel.ErrDLQNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, dlqIDsKey, entryID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keel/redis: delete dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes every entry for a queue, or every entry when queue is
// empty.
func (s *Store) PurgeDLQ(ctx context.Context, queue string) (int64, error) {
	return s.purgeDLQWhere(ctx, func(m map[string]string) bool {
		return queue == "" || m["queue"] == queue
	})
}

// PurgeDLQBefore removes entries whose FailedAt is before the given time.
func (s *Store) PurgeDLQBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.purgeDLQWhere(ctx, func(m map[string]string) bool {
		failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
		return failedAt.Before(before)
	})
}

func (s *Store) purgeDLQWhere(ctx context.Context, match func(map[string]string) bool) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("keel/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		vals, getErr := s.client.HGetAll(ctx, key).Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("keel/redis: purge dlq get: %w", getErr)
		}
		if len(vals) == 0 || !match(vals) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.SRem(ctx, dlqIDsKey, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return purged, fmt.Errorf("keel/redis: purge dlq del: %w", pErr)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("keel/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	return map[string]interface{}{
		"id":            e.ID,
		"job_id":        e.JobID.String(),
		"job_name":      e.JobName,
		"queue":         e.Queue,
		"payload":       string(e.Payload),
		"failed_reason": e.FailedReason,
		"retry_count":   strconv.Itoa(e.RetryCount),
		"max_retries":   strconv.Itoa(e.MaxRetries),
		"tenant_id":     e.TenantID,
		"provider":      e.Provider,
		"failed_at":     e.FailedAt.Format(time.RFC3339Nano),
		"created_at":    e.CreatedAt.Format(time.RFC3339Nano),
	}
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	if m["id"] == "" {
		return nil, fmt.Errorf("keel/redis: dlq entry missing id")
	}
	jobID, _ := id.ParseJobID(m["job_id"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"])               //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &dlq.Entry{
		ID:           m["id"],
		JobID:        jobID,
		JobName:      m["job_name"],
		Queue:        m["queue"],
		Payload:      []byte(m["payload"]),
		FailedReason: m["failed_reason"],
		RetryCount:   retryCount,
		MaxRetries:   maxRetries,
		TenantID:     m["tenant_id"],
		Provider:     m["provider"],
		FailedAt:     failedAt,
		CreatedAt:    createdAt,
	}, nil
}
