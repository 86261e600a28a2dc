package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/cron"
	"github.com/keelhq/keel/id"
)

// RegisterCron persists a new cron entry.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()

	// Check for duplicate name.
	existing, err := s.client.HGet(ctx, cronNamesKey, entry.Name).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("keel/redis: register cron check name: %w", err)
	}
	if existing != "" {
		return keel.ErrDuplicateCron
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, cronKey(eID), cronToMap(entry))
	pipe.SAdd(ctx, cronIDsKey, eID)
	pipe.HSet(ctx, cronNamesKey, entry.Name, eID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keel/redis: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	vals, err := s.client.HGetAll(ctx, cronKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("keel/redis: get cron: %w", err)
	}
	if len(vals) == 0 {
		return nil, keel.ErrCronNotFound
	}
	return mapToCron(vals)
}

// GetCronByName retrieves a cron entry by its stable name.
func (s *Store) GetCronByName(ctx context.Context, name string) (*cron.Entry, error) {
	eID, err := s.client.HGet(ctx, cronNamesKey, name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, keel.ErrCronNotFound
		}
		return nil, fmt.Errorf("keel/redis: get cron by name: %w", err)
	}

	cronID, err := id.ParseCronID(eID)
	if err != nil {
		return nil, fmt.Errorf("keel/redis: parse cron id: %w", err)
	}
	return s.GetCron(ctx, cronID)
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("keel/redis: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, cronKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		entry, convErr := mapToCron(vals)
		if convErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AcquireCronLock attempts to take the firing lock for an entry. The lock
// lives in its own key with a TTL, so a crashed holder releases it by
// expiry. SET NX makes the acquire atomic.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	eID := entryID.String()
	wID := workerID.String()

	exists, err := s.client.Exists(ctx, cronKey(eID)).Result()
	if err != nil {
		return false, fmt.Errorf("keel/redis: acquire cron lock exists: %w", err)
	}
	if exists == 0 {
		return false, keel.ErrCronNotFound
	}

	ok, err := s.client.SetNX(ctx, cronLockKey(eID), wID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("keel/redis: acquire cron lock setnx: %w", err)
	}
	if !ok {
		// Taken. Re-acquire is allowed for the current holder.
		holder, getErr := s.client.Get(ctx, cronLockKey(eID)).Result()
		if getErr != nil && !errors.Is(getErr, goredis.Nil) {
			return false, fmt.Errorf("keel/redis: acquire cron lock get: %w", getErr)
		}
		if holder != wID {
			return false, nil
		}
		if eErr := s.client.Expire(ctx, cronLockKey(eID), ttl).Err(); eErr != nil {
			s.logger.Warn("failed to extend cron lock", "error", eErr)
		}
	}

	until := time.Now().UTC().Add(ttl)
	if _, hErr := s.client.HSet(ctx, cronKey(eID),
		"locked_by", wID,
		"locked_until", until.Format(time.RFC3339Nano),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result(); hErr != nil {
		s.logger.Warn("failed to update cron lock fields", "error", hErr)
	}
	return true, nil
}

// ReleaseCronLock releases the firing lock for an entry. Releasing a lock
// held by another worker is a no-op.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	eID := entryID.String()
	wID := workerID.String()

	holder, err := s.client.Get(ctx, cronLockKey(eID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil // lock expired or never taken
		}
		return fmt.Errorf("keel/redis: release cron lock get: %w", err)
	}
	if holder != wID {
		return nil
	}

	if dErr := s.client.Del(ctx, cronLockKey(eID)).Err(); dErr != nil {
		return fmt.Errorf("keel/redis: release cron lock del: %w", dErr)
	}

	exists, err := s.client.Exists(ctx, cronKey(eID)).Result()
	if err != nil || exists == 0 {
		return nil // entry gone, nothing to clear
	}
	if _, hErr := s.client.HSet(ctx, cronKey(eID),
		"locked_by", "",
		"locked_until", "",
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result(); hErr != nil {
		s.logger.Warn("failed to clear cron lock fields", "error", hErr)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	key := cronKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: update last run exists: %w", err)
	}
	if exists == 0 {
		return keel.ErrCronNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"last_run_at", at.Format(time.RFC3339Nano),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: update last run: %w", err)
	}
	return nil
}

// UpdateCronEntry updates a cron entry.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	key := cronKey(entry.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: update cron exists: %w", err)
	}
	if exists == 0 {
		return keel.ErrCronNotFound
	}

	fields := cronToMap(entry)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err = s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("keel/redis: update cron: %w", err)
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	key := cronKey(eID)

	// Get name for name index cleanup.
	name, err := s.client.HGet(ctx, key, "name").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return keel.ErrCronNotFound
		}
		return fmt.Errorf("keel/redis: delete cron get: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, cronLockKey(eID))
	pipe.SRem(ctx, cronIDsKey, eID)
	if name != "" {
		pipe.HDel(ctx, cronNamesKey, name)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keel/redis: delete cron: %w", err)
	}
	return nil
}

// ── helpers ──

func cronToMap(e *cron.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":         e.ID.String(),
		"name":       e.Name,
		"schedule":   e.Schedule,
		"job_name":   e.JobName,
		"queue":      e.Queue,
		"payload":    string(e.Payload),
		"tenant_id":  e.TenantID,
		"provider":   e.Provider,
		"locked_by":  e.LockedBy,
		"enabled":    boolToStr(e.Enabled),
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": e.UpdatedAt.Format(time.RFC3339Nano),
		// Optionals are written unconditionally so updates clear them.
		"last_run_at":  "",
		"next_run_at":  "",
		"locked_until": "",
	}
	if e.LastRunAt != nil {
		m["last_run_at"] = e.LastRunAt.Format(time.RFC3339Nano)
	}
	if e.NextRunAt != nil {
		m["next_run_at"] = e.NextRunAt.Format(time.RFC3339Nano)
	}
	if e.LockedUntil != nil {
		m["locked_until"] = e.LockedUntil.Format(time.RFC3339Nano)
	}
	return m
}

func mapToCron(m map[string]string) (*cron.Entry, error) {
	eID, err := id.ParseCronID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("keel/redis: parse cron id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &cron.Entry{
		Entity: keel.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:       eID,
		Name:     m["name"],
		Schedule: m["schedule"],
		JobName:  m["job_name"],
		Queue:    m["queue"],
		Payload:  []byte(m["payload"]),
		TenantID: m["tenant_id"],
		Provider: m["provider"],
		LockedBy: m["locked_by"],
		Enabled:  m["enabled"] == "1",
	}

	if v := m["last_run_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.LastRunAt = &t
	}
	if v := m["next_run_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.NextRunAt = &t
	}
	if v := m["locked_until"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.LockedUntil = &t
	}
	return e, nil
}
