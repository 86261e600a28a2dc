package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/id"
	"github.com/keelhq/keel/job"
)

// EnqueueJob stores the job as a Hash and adds it to the queue's Sorted Sets.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate ID.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return keel.ErrJobAlreadyExists
	}

	// Claim the idempotency key. HSetNX is atomic, so concurrent enqueues
	// with the same key race safely.
	if j.IdempotencyKey != "" {
		set, nxErr := s.client.HSetNX(ctx, idempKey, j.IdempotencyKey, jID).Result()
		if nxErr != nil {
			return fmt.Errorf("keel/redis: enqueue claim idempotency key: %w", nxErr)
		}
		if !set {
			return keel.ErrJobAlreadyExists
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	s.scheduleInQueue(ctx, pipe, j)

	if _, err = pipe.Exec(ctx); err != nil {
		if j.IdempotencyKey != "" {
			s.client.HDel(ctx, idempKey, j.IdempotencyKey)
		}
		return fmt.Errorf("keel/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit runnable jobs from the given
// queues for workerID. Due jobs are first promoted from the scheduled set
// to the ready set; ZPopMin on the ready set makes each claim exclusive.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int, workerID id.WorkerID) ([]*job.Job, error) {
	now := time.Now().UTC()
	var jobs []*job.Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		remaining := limit - len(jobs)

		if err := s.promoteDue(ctx, q, now); err != nil {
			return nil, err
		}

		members, err := s.client.ZPopMin(ctx, readyKey(q), int64(remaining)).Result()
		if err != nil {
			return nil, fmt.Errorf("keel/redis: dequeue zpopmin: %w", err)
		}

		for _, z := range members {
			jID, ok := z.Member.(string)
			if !ok {
				continue
			}

			key := jobKey(jID)
			ts := now.Format(time.RFC3339Nano)
			if _, hErr := s.client.HSet(ctx, key,
				"state", string(job.StateRunning),
				"worker_id", workerID.String(),
				"started_at", ts,
				"heartbeat_at", ts,
				"updated_at", ts,
			).Result(); hErr != nil {
				return nil, fmt.Errorf("keel/redis: dequeue claim: %w", hErr)
			}

			j, getErr := s.getJobByKey(ctx, key)
			if getErr != nil {
				if errors.Is(getErr, keel.ErrJobNotFound) {
					continue // deleted between pop and claim
				}
				return nil, getErr
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// promoteDue moves jobs whose RunAt has passed from the scheduled set to
// the ready set.
func (s *Store) promoteDue(ctx context.Context, queue string, now time.Time) error {
	ids, err := s.client.ZRangeByScore(ctx, scheduledKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: promote due: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			pipe.ZRem(ctx, scheduledKey(queue), jID)
			continue
		}
		pipe.ZAdd(ctx, readyKey(queue), goredis.Z{Score: readyScore(j.Priority, j.RunAt), Member: jID})
		pipe.ZRem(ctx, scheduledKey(queue), jID)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keel/redis: promote due exec: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// GetJobByIdempotencyKey retrieves the job holding the given key.
func (s *Store) GetJobByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	jID, err := s.client.HGet(ctx, idempKey, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, keel.ErrJobNotFound
		}
		return nil, fmt.Errorf("keel/redis: get by idempotency key: %w", err)
	}
	return s.getJobByKey(ctx, jobKey(jID))
}

// UpdateJob persists changes to an existing job and reconciles its queue
// membership: pending and retrying jobs go back into the queue sets,
// anything else is removed from them.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return keel.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZRem(ctx, readyKey(j.Queue), jID)
	pipe.ZRem(ctx, scheduledKey(j.Queue), jID)
	if j.State == job.StatePending || j.State == job.StateRetrying {
		s.scheduleInQueue(ctx, pipe, j)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keel/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	vals, err := s.client.HMGet(ctx, key, "queue", "idempotency_key").Result()
	if err != nil {
		return fmt.Errorf("keel/redis: delete job get: %w", err)
	}
	q, ok := vals[0].(string)
	if !ok {
		return keel.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, readyKey(q), jID)
	pipe.ZRem(ctx, scheduledKey(q), jID)
	if ik, _ := vals[1].(string); ik != "" {
		pipe.HDel(ctx, idempKey, ik)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keel/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("keel/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// HeartbeatJob renews the lease on a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return keel.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose lease is older than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("keel/redis: reap smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateRunning {
			continue
		}
		lease := j.HeartbeatAt
		if lease == nil {
			lease = j.StartedAt
		}
		if lease != nil && lease.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("keel/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// scheduleInQueue queues the pipe commands that place a job into the right
// queue set: the scheduled set when RunAt is in the future, the ready set
// otherwise.
func (s *Store) scheduleInQueue(ctx context.Context, pipe goredis.Pipeliner, j *job.Job) {
	jID := j.ID.String()
	if j.RunAt.After(time.Now().UTC()) {
		pipe.ZAdd(ctx, scheduledKey(j.Queue), goredis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: jID,
		})
		return
	}
	pipe.ZAdd(ctx, readyKey(j.Queue), goredis.Z{
		Score:  readyScore(j.Priority, j.RunAt),
		Member: jID,
	})
}

// readyScore computes a ready-set score from priority and run_at.
// Lower score pops first, so priority is negated and a fractional time
// component keeps FIFO order within the same priority.
func readyScore(priority int, runAt time.Time) float64 {
	return float64(-priority) + float64(runAt.UnixMilli())/1e15
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":              j.ID.String(),
		"name":            j.Name,
		"queue":           j.Queue,
		"payload":         string(j.Payload),
		"state":           string(j.State),
		"priority":        strconv.Itoa(j.Priority),
		"max_retries":     strconv.Itoa(j.MaxRetries),
		"retry_count":     strconv.Itoa(j.RetryCount),
		"last_error":      j.LastError,
		"idempotency_key": j.IdempotencyKey,
		"tenant_id":       j.TenantID,
		"provider":        j.Provider,
		"worker_id":       j.WorkerID.String(),
		"run_at":          j.RunAt.Format(time.RFC3339Nano),
		"timeout":         strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":      j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      j.UpdatedAt.Format(time.RFC3339Nano),
		// Optionals are written unconditionally so updates clear them.
		"started_at":   "",
		"completed_at": "",
		"heartbeat_at": "",
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("keel/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, keel.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("keel/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])      //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"])      //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: keel.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:             jID,
		Name:           m["name"],
		Queue:          m["queue"],
		Payload:        []byte(m["payload"]),
		State:          job.State(m["state"]),
		Priority:       priority,
		MaxRetries:     maxRetries,
		RetryCount:     retryCount,
		LastError:      m["last_error"],
		IdempotencyKey: m["idempotency_key"],
		TenantID:       m["tenant_id"],
		Provider:       m["provider"],
		RunAt:          runAt,
		Timeout:        time.Duration(timeout),
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}

	return j, nil
}

// marshalJSON is a helper to marshal to a JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
