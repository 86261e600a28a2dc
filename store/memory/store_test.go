package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/cluster"
	"github.com/keelhq/keel/cron"
	"github.com/keelhq/keel/dlq"
	"github.com/keelhq/keel/id"
	"github.com/keelhq/keel/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(name, queue string, state job.State, priority int) *job.Job {
	return &job.Job{
		Entity:     keel.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      queue,
		Payload:    []byte(`{"test":true}`),
		State:      state,
		Priority:   priority,
		MaxRetries: 3,
		RunAt:      time.Now().UTC().Add(-time.Second), // eligible immediately
	}
}

func TestJobEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("test-job", "default", job.StatePending, 0)

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{
			name:    "enqueue new job",
			fn:      func() error { return s.EnqueueJob(ctx, j) },
			wantErr: nil,
		},
		{
			name:    "enqueue duplicate job",
			fn:      func() error { return s.EnqueueJob(ctx, j) },
			wantErr: keel.ErrJobAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != j.Name {
		t.Fatalf("got name %q, want %q", got.Name, j.Name)
	}

	_, err = s.GetJob(ctx, id.NewJobID())
	if !errors.Is(err, keel.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobIdempotencyKey(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j1 := newJob("send-email", "default", job.StatePending, 0)
	j1.IdempotencyKey = "order-42"

	if err := s.EnqueueJob(ctx, j1); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	// A second job with the same key is rejected.
	j2 := newJob("send-email", "default", job.StatePending, 0)
	j2.IdempotencyKey = "order-42"
	if err := s.EnqueueJob(ctx, j2); !errors.Is(err, keel.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}

	got, err := s.GetJobByIdempotencyKey(ctx, "order-42")
	if err != nil {
		t.Fatalf("GetJobByIdempotencyKey: %v", err)
	}
	if got.ID != j1.ID {
		t.Fatalf("got job %s, want %s", got.ID, j1.ID)
	}

	_, err = s.GetJobByIdempotencyKey(ctx, "unknown")
	if !errors.Is(err, keel.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	// Deleting the job frees the key.
	if err := s.DeleteJob(ctx, j1.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, j2); err != nil {
		t.Fatalf("enqueue after delete: %v", err)
	}
}

func TestJobDequeue(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j1 := newJob("low", "default", job.StatePending, 1)
	j2 := newJob("high", "default", job.StatePending, 10)
	j3 := newJob("other-queue", "critical", job.StatePending, 5)

	for _, j := range []*job.Job{j1, j2, j3} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	tests := []struct {
		name      string
		queues    []string
		limit     int
		wantCount int
		wantFirst string // expected first job name (highest priority)
	}{
		{
			name:      "dequeue from default queue",
			queues:    []string{"default"},
			limit:     10,
			wantCount: 2,
			wantFirst: "high",
		},
		{
			name:      "dequeue from critical queue",
			queues:    []string{"critical"},
			limit:     10,
			wantCount: 1,
			wantFirst: "other-queue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claimer := id.NewWorkerID()
			jobs, err := s.DequeueJobs(ctx, tt.queues, tt.limit, claimer)
			if err != nil {
				t.Fatalf("DequeueJobs: %v", err)
			}
			if len(jobs) != tt.wantCount {
				t.Fatalf("got %d jobs, want %d", len(jobs), tt.wantCount)
			}
			if jobs[0].Name != tt.wantFirst {
				t.Fatalf("first job = %q, want %q", jobs[0].Name, tt.wantFirst)
			}
			for _, j := range jobs {
				if j.State != job.StateRunning {
					t.Errorf("dequeued job %s state = %q, want %q", j.Name, j.State, job.StateRunning)
				}
				if j.StartedAt == nil {
					t.Errorf("dequeued job %s missing StartedAt", j.Name)
				}
				if j.WorkerID.String() != claimer.String() {
					t.Errorf("dequeued job %s worker = %q, want %q", j.Name, j.WorkerID, claimer)
				}
			}
		})
	}

	// Everything is claimed now.
	jobs, err := s.DequeueJobs(ctx, nil, 10, id.NewWorkerID())
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty dequeue, got %d jobs", len(jobs))
	}
}

func TestJobDequeueSkipsFutureRunAt(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("later", "default", job.StatePending, 0)
	j.RunAt = time.Now().UTC().Add(time.Hour)

	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	jobs, err := s.DequeueJobs(ctx, []string{"default"}, 10, id.NewWorkerID())
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
}

func TestJobDequeueIncludesRetrying(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("retry-me", "default", job.StateRetrying, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	jobs, err := s.DequeueJobs(ctx, []string{"default"}, 10, id.NewWorkerID())
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
}

func TestJobUpdateAndDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("mutable", "default", job.StatePending, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	j.State = job.StateCompleted
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Fatalf("state = %q, want %q", got.State, job.StateCompleted)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, keel.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound after delete, got %v", err)
	}

	// Updating and deleting unknown jobs fails.
	if err := s.UpdateJob(ctx, j); !errors.Is(err, keel.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, keel.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobListByState(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for range 5 {
		if err := s.EnqueueJob(ctx, newJob("pending-job", "default", job.StatePending, 0)); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if err := s.EnqueueJob(ctx, newJob("failed-job", "default", job.StateFailed, 0)); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, newJob("pending-other", "critical", job.StatePending, 0)); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	tests := []struct {
		name      string
		state     job.State
		opts      job.ListOpts
		wantCount int
	}{
		{"all pending", job.StatePending, job.ListOpts{}, 6},
		{"pending on default", job.StatePending, job.ListOpts{Queue: "default"}, 5},
		{"failed", job.StateFailed, job.ListOpts{}, 1},
		{"limit", job.StatePending, job.ListOpts{Limit: 2}, 2},
		{"offset past end", job.StatePending, job.ListOpts{Offset: 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobsByState(ctx, tt.state, tt.opts)
			if err != nil {
				t.Fatalf("ListJobsByState: %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("got %d jobs, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestJobHeartbeatAndReap(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("leased", "default", job.StatePending, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.DequeueJobs(ctx, []string{"default"}, 1, id.NewWorkerID()); err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}

	workerID := id.NewWorkerID()
	if err := s.HeartbeatJob(ctx, j.ID, workerID); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}

	// Fresh heartbeat: nothing stalled.
	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("got %d stalled jobs, want 0", len(stale))
	}

	// A zero threshold makes any heartbeat stale.
	time.Sleep(5 * time.Millisecond)
	stale, err = s.ReapStaleJobs(ctx, 0)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("got %d stalled jobs, want 1", len(stale))
	}
	if stale[0].ID != j.ID {
		t.Fatalf("stalled job = %s, want %s", stale[0].ID, j.ID)
	}

	if err := s.HeartbeatJob(ctx, id.NewJobID(), workerID); !errors.Is(err, keel.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobCount(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for range 3 {
		if err := s.EnqueueJob(ctx, newJob("a", "default", job.StatePending, 0)); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if err := s.EnqueueJob(ctx, newJob("b", "critical", job.StateFailed, 0)); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	tests := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 4},
		{"by queue", job.CountOpts{Queue: "default"}, 3},
		{"by state", job.CountOpts{State: job.StateFailed}, 1},
		{"queue and state", job.CountOpts{Queue: "critical", State: job.StatePending}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CountJobs(ctx, tt.opts)
			if err != nil {
				t.Fatalf("CountJobs: %v", err)
			}
			if got != tt.want {
				t.Fatalf("count = %d, want %d", got, tt.want)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// DLQ Store tests
// ──────────────────────────────────────────────────

func newDLQEntry(queue string, failedAt time.Time) *dlq.Entry {
	jobID := id.NewJobID()
	return &dlq.Entry{
		ID:           dlq.EntryID(queue, jobID),
		JobID:        jobID,
		JobName:      "doomed",
		Queue:        queue,
		FailedReason: "boom",
		FailedAt:     failedAt,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestDLQPushIsUpsert(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newDLQEntry("default", time.Now().UTC())
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	// Pushing the same ID again replaces the entry.
	e2 := *e
	e2.FailedReason = "boom again"
	e2.RetryCount = 1
	if err := s.PushDLQ(ctx, &e2); err != nil {
		t.Fatalf("PushDLQ upsert: %v", err)
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.FailedReason != "boom again" {
		t.Fatalf("FailedReason = %q, want %q", got.FailedReason, "boom again")
	}
}

func TestDLQListNewestFirst(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	now := time.Now().UTC()
	old := newDLQEntry("default", now.Add(-time.Hour))
	recent := newDLQEntry("default", now)
	other := newDLQEntry("critical", now.Add(-time.Minute))

	for _, e := range []*dlq.Entry{old, recent, other} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].ID != recent.ID {
		t.Fatalf("first entry = %s, want newest %s", entries[0].ID, recent.ID)
	}

	byQueue, err := s.ListDLQ(ctx, dlq.ListOpts{Queue: "critical"})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(byQueue) != 1 || byQueue[0].ID != other.ID {
		t.Fatalf("queue filter returned wrong entries: %v", byQueue)
	}

	limited, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("got %d entries, want 1", len(limited))
	}
}

func TestDLQDeleteAndPurge(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	now := time.Now().UTC()
	e1 := newDLQEntry("default", now.Add(-2*time.Hour))
	e2 := newDLQEntry("default", now)
	e3 := newDLQEntry("critical", now)

	for _, e := range []*dlq.Entry{e1, e2, e3} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	if err := s.DeleteDLQ(ctx, e2.ID); err != nil {
		t.Fatalf("DeleteDLQ: %v", err)
	}
	if err := s.DeleteDLQ(ctx, e2.ID); !errors.Is(err, keel.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}

	// Purge by age.
	n, err := s.PurgeDLQBefore(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeDLQBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}

	// Purge by queue.
	n, err = s.PurgeDLQ(ctx, "critical")
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

// ──────────────────────────────────────────────────
// Cron Store tests
// ──────────────────────────────────────────────────

func newCronEntry(name string) *cron.Entry {
	return &cron.Entry{
		Entity:   keel.NewEntity(),
		ID:       id.NewCronID(),
		Name:     name,
		Schedule: "* * * * *",
		JobName:  "tick",
		Queue:    "default",
		Enabled:  true,
	}
}

func TestCronRegisterAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newCronEntry("nightly")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	dup := newCronEntry("nightly")
	if err := s.RegisterCron(ctx, dup); !errors.Is(err, keel.ErrDuplicateCron) {
		t.Fatalf("expected ErrDuplicateCron, got %v", err)
	}

	got, err := s.GetCron(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.Name != "nightly" {
		t.Fatalf("name = %q, want %q", got.Name, "nightly")
	}

	byName, err := s.GetCronByName(ctx, "nightly")
	if err != nil {
		t.Fatalf("GetCronByName: %v", err)
	}
	if byName.ID != e.ID {
		t.Fatalf("GetCronByName returned %s, want %s", byName.ID, e.ID)
	}

	if _, err := s.GetCronByName(ctx, "unknown"); !errors.Is(err, keel.ErrCronNotFound) {
		t.Fatalf("expected ErrCronNotFound, got %v", err)
	}

	entries, err := s.ListCrons(ctx)
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
}

func TestCronLock(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newCronEntry("locked")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	w1 := id.NewWorkerID()
	w2 := id.NewWorkerID()

	ok, err := s.AcquireCronLock(ctx, e.ID, w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireCronLock(w1) = %v, %v, want true", ok, err)
	}

	// Second worker cannot take a held lock.
	ok, err = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if err != nil {
		t.Fatalf("AcquireCronLock(w2): %v", err)
	}
	if ok {
		t.Fatal("w2 acquired a held lock")
	}

	// The holder can re-acquire.
	ok, err = s.AcquireCronLock(ctx, e.ID, w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("re-acquire = %v, %v, want true", ok, err)
	}

	// A release by a non-holder is a no-op.
	if err := s.ReleaseCronLock(ctx, e.ID, w2); err != nil {
		t.Fatalf("ReleaseCronLock(w2): %v", err)
	}
	ok, _ = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if ok {
		t.Fatal("lock released by non-holder")
	}

	if err := s.ReleaseCronLock(ctx, e.ID, w1); err != nil {
		t.Fatalf("ReleaseCronLock(w1): %v", err)
	}
	ok, err = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release = %v, %v, want true", ok, err)
	}
}

func TestCronLastRunAndUpdate(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newCronEntry("tracked")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	firedAt := time.Now().UTC()
	if err := s.UpdateCronLastRun(ctx, e.ID, firedAt); err != nil {
		t.Fatalf("UpdateCronLastRun: %v", err)
	}

	got, err := s.GetCron(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(firedAt) {
		t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, firedAt)
	}

	e.Enabled = false
	if err := s.UpdateCronEntry(ctx, e); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}
	got, _ = s.GetCron(ctx, e.ID)
	if got.Enabled {
		t.Fatal("entry still enabled after update")
	}

	if err := s.DeleteCron(ctx, e.ID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if _, err := s.GetCron(ctx, e.ID); !errors.Is(err, keel.ErrCronNotFound) {
		t.Fatalf("expected ErrCronNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Cluster Store tests
// ──────────────────────────────────────────────────

func TestClusterWorkers(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	w := cluster.NewWorker([]string{"default"}, 10)
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	if err := s.HeartbeatWorker(ctx, w.ID); err != nil {
		t.Fatalf("HeartbeatWorker: %v", err)
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 {
		t.Fatalf("got %d workers, want 1", len(workers))
	}

	// A fresh heartbeat keeps the worker alive.
	dead, err := s.ReapDeadWorkers(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapDeadWorkers: %v", err)
	}
	if len(dead) != 0 {
		t.Fatalf("got %d dead workers, want 0", len(dead))
	}

	time.Sleep(5 * time.Millisecond)
	dead, err = s.ReapDeadWorkers(ctx, 0)
	if err != nil {
		t.Fatalf("ReapDeadWorkers: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("got %d dead workers, want 1", len(dead))
	}

	if err := s.DeregisterWorker(ctx, w.ID); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}
	if err := s.DeregisterWorker(ctx, w.ID); !errors.Is(err, keel.ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestClusterLeadership(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	w1 := cluster.NewWorker([]string{"default"}, 10)
	w2 := cluster.NewWorker([]string{"default"}, 10)
	for _, w := range []*cluster.Worker{w1, w2} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	}

	ok, err := s.AcquireLeadership(ctx, w1.ID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLeadership(w1) = %v, %v, want true", ok, err)
	}

	ok, err = s.AcquireLeadership(ctx, w2.ID, time.Minute)
	if err != nil {
		t.Fatalf("AcquireLeadership(w2): %v", err)
	}
	if ok {
		t.Fatal("w2 took leadership from a live leader")
	}

	leader, err := s.GetLeader(ctx)
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader == nil || leader.ID != w1.ID {
		t.Fatalf("leader = %v, want %s", leader, w1.ID)
	}

	// Only the holder can renew.
	ok, err = s.RenewLeadership(ctx, w2.ID, time.Minute)
	if err != nil {
		t.Fatalf("RenewLeadership(w2): %v", err)
	}
	if ok {
		t.Fatal("non-leader renewed the lease")
	}
	ok, err = s.RenewLeadership(ctx, w1.ID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("RenewLeadership(w1) = %v, %v, want true", ok, err)
	}

	// An expired lease can be taken over.
	ok, err = s.AcquireLeadership(ctx, w1.ID, -time.Second)
	if err != nil || !ok {
		t.Fatalf("re-acquire with expired ttl = %v, %v", ok, err)
	}
	leader, err = s.GetLeader(ctx)
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader != nil {
		t.Fatalf("expected no leader after expiry, got %s", leader.ID)
	}
	ok, err = s.AcquireLeadership(ctx, w2.ID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("takeover = %v, %v, want true", ok, err)
	}
}
