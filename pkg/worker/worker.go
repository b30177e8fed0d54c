// Package worker is the worker protocol API: component K, a thin RPC
// boundary over the job queue core (F). Every mutating call authenticates
// the worker_id/lease tuple by delegating straight to the queue, which
// already enforces it; this package exists to give the protocol its own
// stable surface independent of the queue's internal method shapes.
package worker

import (
	"context"
	"time"

	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/model"
	"github.com/jobforge/jobforge/pkg/queue"
)

type API struct {
	queue *queue.Queue
}

func New(q *queue.Queue) *API {
	return &API{queue: q}
}

// Claim returns up to limit eligible jobs for worker_id, fairly
// interleaved across tenants.
func (a *API) Claim(ctx context.Context, workerID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, apierr.New(apierr.Validation, "limit must be positive")
	}
	return a.queue.ClaimJobs(ctx, workerID, limit)
}

// Heartbeat extends a worker's lease. The bool return mirrors the `{status:
// cancelled}` response spec.md §6 calls out as an alternative to void.
func (a *API) Heartbeat(ctx context.Context, jobID, workerID string) (cancelled bool, err error) {
	return a.queue.Heartbeat(ctx, jobID, workerID)
}

// Complete terminates a claimed job as succeeded or failed.
func (a *API) Complete(ctx context.Context, jobID, workerID, status string, jobErr *apierr.Error, result map[string]any, artifactRef string) error {
	switch status {
	case model.StatusSucceeded, model.StatusFailed:
	default:
		return apierr.New(apierr.Validation, "status must be succeeded or failed")
	}
	return a.queue.CompleteJob(ctx, jobID, workerID, status, jobErr, result, artifactRef)
}

// Cancel flips a job to cancelled from any non-terminal state.
func (a *API) Cancel(ctx context.Context, jobID, tenantID string) error {
	return a.queue.CancelJob(ctx, jobID, tenantID)
}

// Reschedule moves a queued job's run_at.
func (a *API) Reschedule(ctx context.Context, jobID, tenantID string, runAt time.Time) error {
	return a.queue.RescheduleJob(ctx, jobID, tenantID, runAt)
}

// List is a tenant-scoped, filtered read.
func (a *API) List(ctx context.Context, tenantID string, filters queue.ListFilters) ([]*model.Job, error) {
	return a.queue.ListJobs(ctx, tenantID, filters)
}

// Get fetches one job by id, tenant-scoped.
func (a *API) Get(ctx context.Context, jobID, tenantID string) (*model.Job, error) {
	return a.queue.GetJob(ctx, jobID, tenantID)
}

// GetResult fetches a job's terminal result, tenant-scoped.
func (a *API) GetResult(ctx context.Context, jobID, tenantID string) (*model.JobResult, error) {
	return a.queue.GetResult(ctx, jobID, tenantID)
}
