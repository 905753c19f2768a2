package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpress/docflow-be/internal/domain"
	"github.com/inkpress/docflow-be/internal/notify"
	"github.com/inkpress/docflow-be/shared/logger"
)

// memJobStore mimics the database's atomic claim: one pending job goes to
// exactly one caller.
type memJobStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*domain.Job
	order    []uuid.UUID
	finished map[uuid.UUID]string
	results  map[uuid.UUID]*domain.BatchResult
	errs     map[uuid.UUID]string
}

func newMemJobStore() *memJobStore {
	return &memJobStore{
		jobs:     make(map[uuid.UUID]*domain.Job),
		finished: make(map[uuid.UUID]string),
		results:  make(map[uuid.UUID]*domain.BatchResult),
		errs:     make(map[uuid.UUID]string),
	}
}

func (m *memJobStore) add(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Status = domain.JobStatusPending
	m.jobs[job.JobID] = job
	m.order = append(m.order, job.JobID)
}

func (m *memJobStore) ClaimNextPending(_ context.Context, workerID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Status != domain.JobStatusPending {
			continue
		}
		job.Status = domain.JobStatusProcessing
		job.WorkerID = &workerID
		clone := *job
		return &clone, nil
	}
	return nil, nil
}

func (m *memJobStore) Finish(_ context.Context, jobID uuid.UUID, status string, result *domain.BatchResult, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].Status = status
	m.finished[jobID] = status
	m.results[jobID] = result
	m.errs[jobID] = errorMsg
	return nil
}

func (m *memJobStore) statusOf(jobID uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished[jobID]
}

// countingRunner records which worker ran which job.
type countingRunner struct {
	mu     sync.Mutex
	ran    map[uuid.UUID]int
	result *domain.BatchResult
	err    error
	delay  time.Duration
}

func newCountingRunner() *countingRunner {
	return &countingRunner{ran: make(map[uuid.UUID]int), result: &domain.BatchResult{Message: "ok"}}
}

func (r *countingRunner) Run(_ context.Context, job *domain.Job) (*domain.BatchResult, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran[job.JobID]++
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *countingRunner) runCount(jobID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ran[jobID]
}

type recordedNotification struct {
	userID string
	event  string
}

type memNotifier struct {
	mu   sync.Mutex
	sent []recordedNotification
}

func (n *memNotifier) Notify(_ context.Context, userID, event string, _ interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, recordedNotification{userID: userID, event: event})
	return nil
}

func (n *memNotifier) last() (recordedNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return recordedNotification{}, false
	}
	return n.sent[len(n.sent)-1], true
}

func testJob() *domain.Job {
	return &domain.Job{
		JobID:       uuid.New(),
		JobType:     domain.JobTypeBulkBatch,
		Payload:     json.RawMessage(`{}`),
		SubmitterID: "user-1",
	}
}

func runWorkerUntil(t *testing.T, w *Worker, done func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		_ = w.Start(ctx)
		close(finished)
	}()

	deadline := time.After(5 * time.Second)
	for !done() {
		select {
		case <-deadline:
			cancel()
			<-finished
			t.Fatal("worker did not reach expected state in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-finished
}

func TestWorkerProcessesPendingJob(t *testing.T) {
	store := newMemJobStore()
	runner := newCountingRunner()
	notifier := &memNotifier{}
	job := testJob()
	store.add(job)

	w := New(&Config{
		Logger:       logger.NewNop(),
		Jobs:         store,
		Runner:       runner,
		Notifier:     notifier,
		PollInterval: 20 * time.Millisecond,
	})
	runWorkerUntil(t, w, func() bool {
		return store.statusOf(job.JobID) != ""
	})

	assert.Equal(t, domain.JobStatusCompleted, store.statusOf(job.JobID))
	assert.Equal(t, 1, runner.runCount(job.JobID))

	n, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, "user-1", n.userID)
	assert.Equal(t, notify.EventBatchCompleted, n.event)
}

func TestWorkerRecordsFailure(t *testing.T) {
	store := newMemJobStore()
	runner := newCountingRunner()
	runner.err = errors.New("row 2 (b@example.com): conversion failed")
	notifier := &memNotifier{}
	job := testJob()
	store.add(job)

	w := New(&Config{
		Logger:       logger.NewNop(),
		Jobs:         store,
		Runner:       runner,
		Notifier:     notifier,
		PollInterval: 20 * time.Millisecond,
	})
	runWorkerUntil(t, w, func() bool {
		return store.statusOf(job.JobID) != ""
	})

	assert.Equal(t, domain.JobStatusFailed, store.statusOf(job.JobID))
	store.mu.Lock()
	assert.Equal(t, "row 2 (b@example.com): conversion failed", store.errs[job.JobID])
	store.mu.Unlock()

	n, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, notify.EventBatchFailed, n.event)
}

func TestConcurrentLoopsProcessEachJobOnce(t *testing.T) {
	store := newMemJobStore()
	runner := newCountingRunner()
	runner.delay = 5 * time.Millisecond

	const jobCount = 20
	jobs := make([]*domain.Job, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		job := testJob()
		jobs = append(jobs, job)
		store.add(job)
	}

	w := New(&Config{
		Logger:       logger.NewNop(),
		Jobs:         store,
		Runner:       runner,
		Concurrency:  4,
		PollInterval: 20 * time.Millisecond,
	})
	runWorkerUntil(t, w, func() bool {
		for _, job := range jobs {
			if store.statusOf(job.JobID) == "" {
				return false
			}
		}
		return true
	})

	// The atomic claim hands every job to exactly one loop.
	for _, job := range jobs {
		assert.Equal(t, 1, runner.runCount(job.JobID), "job %s", job.JobID)
		assert.Equal(t, domain.JobStatusCompleted, store.statusOf(job.JobID))
	}
}

func TestWorkerIdlesWhenQueueEmpty(t *testing.T) {
	store := newMemJobStore()
	runner := newCountingRunner()

	w := New(&Config{
		Logger:       logger.NewNop(),
		Jobs:         store,
		Runner:       runner,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Start(ctx))

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Empty(t, runner.ran)
}
