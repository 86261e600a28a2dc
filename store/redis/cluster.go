package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/cluster"
	"github.com/keelhq/keel/id"
)

// RegisterWorker adds a worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, workerKey(wID), workerToMap(w))
	pipe.SAdd(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keel/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()
	if err := s.requireWorker(ctx, wID); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workerKey(wID))
	pipe.SRem(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keel/redis: deregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()
	if err := s.requireWorker(ctx, wID); err != nil {
		return err
	}

	err := s.client.HSet(ctx, workerKey(wID),
		"last_seen", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("keel/redis: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	return s.loadWorkers(ctx, func(*cluster.Worker) bool { return true })
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	return s.loadWorkers(ctx, func(w *cluster.Worker) bool {
		return w.LastSeen.Before(cutoff)
	})
}

// AcquireLeadership attempts to become the cluster leader.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()
	wKey := workerKey(wID)

	if err := s.requireWorker(ctx, wID); err != nil {
		return false, err
	}

	// Try SET NX with TTL (atomic acquire).
	ok, err := s.client.SetNX(ctx, leaderKey, wID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("keel/redis: acquire leadership setnx: %w", err)
	}
	if ok {
		s.markLeader(ctx, wKey, ttl)
		return true, nil
	}

	// Check if we already hold it.
	current, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return false, fmt.Errorf("keel/redis: acquire leadership get: %w", err)
	}
	if current == wID {
		// Re-acquire: extend TTL.
		if eErr := s.client.Expire(ctx, leaderKey, ttl).Err(); eErr != nil {
			s.logger.Warn("failed to extend leader key", "error", eErr)
		}
		s.markLeader(ctx, wKey, ttl)
		return true, nil
	}

	return false, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	current, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil // no leader
		}
		return false, fmt.Errorf("keel/redis: renew leadership get: %w", err)
	}
	if current != wID {
		return false, nil // not the leader
	}

	if eErr := s.client.Expire(ctx, leaderKey, ttl).Err(); eErr != nil {
		s.logger.Warn("failed to extend leader key", "error", eErr)
	}
	s.markLeader(ctx, workerKey(wID), ttl)
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is none.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	wID, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil // no leader
		}
		return nil, fmt.Errorf("keel/redis: get leader: %w", err)
	}

	vals, err := s.client.HGetAll(ctx, workerKey(wID)).Result()
	if err != nil || len(vals) == 0 {
		return nil, nil // leader key exists but worker gone
	}
	return mapToWorker(vals)
}

// ── helpers ──

// requireWorker fails with keel.ErrWorkerNotFound when no hash exists
// for the worker.
func (s *Store) requireWorker(ctx context.Context, wID string) error {
	exists, err := s.client.Exists(ctx, workerKey(wID)).Result()
	if err != nil {
		return fmt.Errorf("keel/redis: worker exists: %w", err)
	}
	if exists == 0 {
		return keel.ErrWorkerNotFound
	}
	return nil
}

// loadWorkers fetches every registered worker hash and keeps those
// matching the filter. Hashes that vanished or fail to decode are
// skipped.
func (s *Store) loadWorkers(ctx context.Context, keep func(*cluster.Worker) bool) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("keel/redis: load workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(ids))
	for _, wID := range ids {
		vals, getErr := s.client.HGetAll(ctx, workerKey(wID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		w, convErr := mapToWorker(vals)
		if convErr != nil {
			continue
		}
		if keep(w) {
			workers = append(workers, w)
		}
	}
	return workers, nil
}

func (s *Store) markLeader(ctx context.Context, wKey string, ttl time.Duration) {
	until := time.Now().UTC().Add(ttl)
	if _, err := s.client.HSet(ctx, wKey,
		"is_leader", "1",
		"leader_until", until.Format(time.RFC3339Nano),
	).Result(); err != nil {
		s.logger.Warn("failed to update leader fields", "error", err)
	}
}

func workerToMap(w *cluster.Worker) map[string]interface{} {
	m := map[string]interface{}{
		"id":          w.ID.String(),
		"hostname":    w.Hostname,
		"queues":      marshalJSON(w.Queues),
		"concurrency": strconv.Itoa(w.Concurrency),
		"state":       string(w.State),
		"is_leader":   boolToStr(w.IsLeader),
		"last_seen":   w.LastSeen.Format(time.RFC3339Nano),
		"created_at":  w.CreatedAt.Format(time.RFC3339Nano),
	}
	if w.LeaderUntil != nil {
		m["leader_until"] = w.LeaderUntil.Format(time.RFC3339Nano)
	}
	return m
}

func mapToWorker(m map[string]string) (*cluster.Worker, error) {
	wID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("keel/redis: parse worker id: %w", err)
	}

	concurrency, _ := strconv.Atoi(m["concurrency"])              //nolint:errcheck // best-effort parse from trusted Redis data
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	w := &cluster.Worker{
		ID:          wID,
		Hostname:    m["hostname"],
		Queues:      unmarshalStrings(m["queues"]),
		Concurrency: concurrency,
		State:       cluster.WorkerState(m["state"]),
		IsLeader:    m["is_leader"] == "1",
		LastSeen:    lastSeen,
		CreatedAt:   createdAt,
	}

	if v := m["leader_until"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		w.LeaderUntil = &t
	}
	return w, nil
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
