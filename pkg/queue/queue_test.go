package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/model"
	"github.com/jobforge/jobforge/pkg/store"
	"github.com/jobforge/jobforge/pkg/store/memstore"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		Backoff:         config.Backoff{BaseDelayMS: 10, Multiplier: 2, CapMS: 100, JitterFraction: 0.2},
		LeaseDuration:   time.Minute,
		ClaimFetchQuota: 2,
		TablePrefix:     "test",
	}
}

func newTestQueue() *Queue {
	return New(memstore.New(), testConfig())
}

// TestEnqueueIsIdempotentPerKey grounds scenario S1: enqueuing the same
// (tenant, type, idempotency_key) twice returns the same job both times and
// creates exactly one row.
func TestEnqueueIsIdempotentPerKey(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	j1, err := q.Enqueue(ctx, "tenant-a", "echo", map[string]any{"n": 1}, "req-1", nil, 0)
	require.NoError(t, err)

	j2, err := q.Enqueue(ctx, "tenant-a", "echo", map[string]any{"n": 2}, "req-1", nil, 0)
	require.NoError(t, err)

	require.Equal(t, j1.ID, j2.ID)

	jobs, err := q.ListJobs(ctx, "tenant-a", ListFilters{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestEnqueueDefaultsMaxAttemptsAndStatus(t *testing.T) {
	q := newTestQueue()
	job, err := q.Enqueue(context.Background(), "tenant-a", "echo", nil, "", nil, 0)
	require.NoError(t, err)
	require.Equal(t, model.DefaultMaxAttempts, job.MaxAttempts)
	require.Equal(t, model.StatusQueued, job.Status)
}

// TestClaimJobsRoundRobinsAcrossTenants grounds scenario S2: a hot tenant
// with many queued jobs must not starve a quieter tenant's jobs out of a
// single ClaimJobs call.
func TestClaimJobsRoundRobinsAcrossTenants(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, "tenant-hot", "echo", nil, "", nil, 0)
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, "tenant-quiet", "echo", nil, "", nil, 0)
	require.NoError(t, err)

	claimed, err := q.ClaimJobs(ctx, "worker-1", 3)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	var quietSeen bool
	for _, j := range claimed {
		if j.TenantID == "tenant-quiet" {
			quietSeen = true
		}
	}
	require.True(t, quietSeen, "quiet tenant's only job must be claimed within the first batch")
}

func TestClaimJobsSkipsFutureRunAt(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)
	_, err := q.Enqueue(ctx, "tenant-a", "echo", nil, "", &future, 0)
	require.NoError(t, err)

	claimed, err := q.ClaimJobs(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestClaimJobsWritesJobAttemptRow(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "tenant-a", "echo", nil, "", nil, 0)
	require.NoError(t, err)

	claimed, err := q.ClaimJobs(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, 1, claimed[0].Attempts)

	var attempt model.JobAttempt
	found, err := q.store.Get(ctx, q.attemptsTable(), attemptPK("tenant-a", job.ID), attemptSK(1), &attempt)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "worker-1", attempt.WorkerID)
	require.True(t, attempt.EndedAt.IsZero())
}

// TestCompleteJobRejectsStaleLease grounds scenario S3: a worker whose lease
// lapsed and was reclaimed by another worker must see not_owner, never
// silently overwrite the reclaiming worker's outcome.
func TestCompleteJobRejectsStaleLease(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "tenant-a", "echo", nil, "", nil, 0)
	require.NoError(t, err)

	claimed, err := q.ClaimJobs(ctx, "worker-stale", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, job.ID, claimed[0].ID)

	// Simulate the lease lapsing and reaping, then a second worker claiming it.
	n, err := q.ReapExpiredLeasesForTest(ctx)
	_ = n
	_ = err

	reclaimed, err := q.ClaimJobs(ctx, "worker-fresh", 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)

	err = q.CompleteJob(ctx, job.ID, "worker-stale", model.StatusSucceeded, nil, map[string]any{"ok": true}, "")
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	require.Equal(t, apierr.NotOwner, apiErr.Code)

	err = q.CompleteJob(ctx, job.ID, "worker-fresh", model.StatusSucceeded, nil, map[string]any{"ok": true}, "")
	require.NoError(t, err)
}

func TestCompleteJobFinalizesAttemptOnSuccess(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "tenant-a", "echo", nil, "", nil, 0)
	require.NoError(t, err)

	claimed, err := q.ClaimJobs(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	err = q.CompleteJob(ctx, job.ID, "worker-1", model.StatusSucceeded, nil, map[string]any{"ok": true}, "")
	require.NoError(t, err)

	var attempt model.JobAttempt
	found, err := q.store.Get(ctx, q.attemptsTable(), attemptPK("tenant-a", job.ID), attemptSK(1), &attempt)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, attempt.EndedAt.IsZero())
	require.Equal(t, model.StatusSucceeded, attempt.Outcome)
}

func TestCompleteJobRetriesThenFinalizesAttemptOnRetryableFailure(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "tenant-a", "echo", nil, "", nil, 3)
	require.NoError(t, err)

	claimed, err := q.ClaimJobs(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	failErr := apierr.New(apierr.Timeout, "upstream timed out")
	err = q.CompleteJob(ctx, job.ID, "worker-1", model.StatusFailed, failErr, nil, "")
	require.NoError(t, err)

	got, err := q.GetJob(ctx, job.ID, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, model.StatusQueued, got.Status, "job should be requeued for a future attempt")

	var attempt model.JobAttempt
	found, err := q.store.Get(ctx, q.attemptsTable(), attemptPK("tenant-a", job.ID), attemptSK(1), &attempt)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, attempt.EndedAt.IsZero(), "the failed attempt must still be finalized even though the job requeues")
	require.Equal(t, model.StatusFailed, attempt.Outcome)
}

func TestCompleteJobDeadLettersOnExhaustedAttempts(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "tenant-a", "echo", nil, "", nil, 1)
	require.NoError(t, err)

	claimed, err := q.ClaimJobs(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	failErr := apierr.New(apierr.Timeout, "upstream timed out")
	err = q.CompleteJob(ctx, job.ID, "worker-1", model.StatusFailed, failErr, nil, "")
	require.NoError(t, err)

	got, err := q.GetJob(ctx, job.ID, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, model.StatusDeadLettered, got.Status)

	result, err := q.GetResult(ctx, job.ID, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, result.Status)
}

func TestCancelJobRejectsAlreadyTerminal(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "tenant-a", "echo", nil, "", nil, 0)
	require.NoError(t, err)

	claimed, err := q.ClaimJobs(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, q.CompleteJob(ctx, job.ID, "worker-1", model.StatusSucceeded, nil, nil, ""))

	err = q.CancelJob(ctx, job.ID, "tenant-a")
	require.Error(t, err)
}

func TestRescheduleJobIntoFutureDefersClaim(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "tenant-a", "echo", nil, "", nil, 0)
	require.NoError(t, err)

	newRunAt := time.Now().UTC().Add(2 * time.Hour)
	require.NoError(t, q.RescheduleJob(ctx, job.ID, "tenant-a", newRunAt))

	_, err = q.ClaimJobs(ctx, "worker-1", 10)
	require.NoError(t, err)

	claimed, err := q.ClaimJobs(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Empty(t, claimed, "job rescheduled into the future must not be claimable yet")
}

// ReapExpiredLeasesForTest forces every active lease to appear expired by
// backdating it, then reaps. Exists only to exercise the stale-lease path
// deterministically without sleeping in a test.
func (q *Queue) ReapExpiredLeasesForTest(ctx context.Context) (int, error) {
	var candidates []model.Job
	_ = q.store.Scan(ctx, q.jobsTable(), store.QueryOptions{}, &candidates)
	for i := range candidates {
		job := candidates[i]
		prevStatus := job.Status
		past := time.Now().UTC().Add(-time.Hour)
		job.LeaseExpiresAt = &past
		_ = q.store.Put(ctx, q.jobsTable(), jobPK(job.TenantID), job.ID, &job, store.Condition{Kind: store.AttrEquals, Attr: "status", Value: prevStatus})
	}
	return q.ReapExpiredLeases(ctx)
}
