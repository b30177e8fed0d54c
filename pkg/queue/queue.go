// Package queue is the job queue core: the centerpiece of the job forge
// execution plane. It owns Job, JobResult, and JobAttempt, and implements
// the claim/lease/heartbeat worker protocol's state machine.
package queue

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/model"
	"github.com/jobforge/jobforge/pkg/registry"
	"github.com/jobforge/jobforge/pkg/store"
)

// jobIndexRow lets Heartbeat and CompleteJob resolve a job's tenant and
// partition from job_id alone, since the worker protocol's RPCs for those
// two calls carry no tenant_id (spec.md §6) while every Job row is
// partitioned by tenant for efficient tenant-scoped listing. It is written
// in the same transaction as the job row so it is never stale or missing.
type jobIndexRow struct {
	TenantID string `dynamodbav:"tenant_id" json:"tenant_id"`
}

type idempotencyRow struct {
	JobID string `dynamodbav:"job_id" json:"job_id"`
}

// Queue is the job queue core, bound to a store and its tuning config.
type Queue struct {
	store store.Store
	cfg   config.Config
}

func New(st store.Store, cfg config.Config) *Queue {
	return &Queue{store: st, cfg: cfg}
}

func (q *Queue) jobsTable() string     { return q.cfg.TablePrefix + "_jobs" }
func (q *Queue) resultsTable() string  { return q.cfg.TablePrefix + "_job_results" }
func (q *Queue) attemptsTable() string { return q.cfg.TablePrefix + "_job_attempts" }
func (q *Queue) indexTable() string    { return q.cfg.TablePrefix + "_job_index" }
func (q *Queue) idemTable() string     { return q.cfg.TablePrefix + "_job_idempotency" }

func jobPK(tenantID string) string { return fmt.Sprintf("#job#%s", tenantID) }

func attemptPK(tenantID, jobID string) string {
	return fmt.Sprintf("#job_attempt#%s#%s", tenantID, jobID)
}

func attemptSK(attemptNo int) string { return fmt.Sprintf("%06d", attemptNo) }

// Enqueue inserts a new job, or — if idempotencyKey is set and already
// claimed by an earlier call — returns that call's row unmodified. This is
// the queue's sole exactly-once mechanism (property 1, scenario S1).
func (q *Queue) Enqueue(ctx context.Context, tenantID, jobType string, payload map[string]any, idempotencyKey string, runAt *time.Time, maxAttempts int) (*model.Job, error) {
	job := &model.Job{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Type:           jobType,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		MaxAttempts:    maxAttempts,
	}
	if runAt != nil {
		job.RunAt = *runAt
	}
	job.Defaulted()
	if err := registry.CallHooks(job); err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}

	ops := []store.WriteOp{
		{
			Table:     q.jobsTable(),
			PK:        job.PK,
			SK:        job.SK,
			Item:      job,
			Condition: store.Condition{Kind: store.AttrNotExists},
		},
		{
			Table:     q.indexTable(),
			PK:        "#job_index",
			SK:        job.ID,
			Item:      jobIndexRow{TenantID: tenantID},
			Condition: store.Condition{Kind: store.AttrNotExists},
		},
	}
	if idempotencyKey != "" {
		ops = append(ops, store.WriteOp{
			Table:     q.idemTable(),
			PK:        idemPK(tenantID, jobType),
			SK:        idempotencyKey,
			Item:      idempotencyRow{JobID: job.ID},
			Condition: store.Condition{Kind: store.AttrNotExists},
		})
	}

	err := q.store.TransactWrite(ctx, ops)
	if err == nil {
		return job, nil
	}

	var condErr *store.ErrConditionFailed
	if cf, ok := err.(*store.ErrConditionFailed); ok {
		condErr = cf
	}
	if condErr != nil && condErr.Table == q.idemTable() {
		var existing idempotencyRow
		found, gerr := q.store.Get(ctx, q.idemTable(), idemPK(tenantID, jobType), idempotencyKey, &existing)
		if gerr != nil {
			return nil, apierr.New(apierr.Internal, gerr.Error())
		}
		if !found {
			return nil, apierr.New(apierr.Internal, "idempotency row vanished during enqueue race")
		}
		existingJob, gerr := q.getJobInTenant(ctx, tenantID, existing.JobID)
		if gerr != nil {
			return nil, gerr
		}
		return existingJob, nil
	}
	return nil, apierr.New(apierr.Internal, err.Error())
}

func idemPK(tenantID, jobType string) string {
	return fmt.Sprintf("#job_idem#%s#%s", tenantID, jobType)
}

func (q *Queue) getJobInTenant(ctx context.Context, tenantID, jobID string) (*model.Job, error) {
	var job model.Job
	found, err := q.store.Get(ctx, q.jobsTable(), jobPK(tenantID), jobID, &job)
	if err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}
	if !found {
		return nil, apierr.New(apierr.NotFound, "job not found")
	}
	return &job, nil
}

// resolveTenant looks up which tenant owns jobID via the index row written
// alongside the job at Enqueue time.
func (q *Queue) resolveTenant(ctx context.Context, jobID string) (string, error) {
	var idx jobIndexRow
	found, err := q.store.Get(ctx, q.indexTable(), "#job_index", jobID, &idx)
	if err != nil {
		return "", apierr.New(apierr.Internal, err.Error())
	}
	if !found {
		return "", apierr.New(apierr.NotFound, "job not found")
	}
	return idx.TenantID, nil
}

// ClaimJobs selects up to limit eligible rows, interleaving tenants round
// robin so one hot tenant cannot starve others (scenario S2). Claims use a
// conditional transition so concurrent claimers never return overlapping
// ids (property 2).
func (q *Queue) ClaimJobs(ctx context.Context, workerID string, limit int) ([]*model.Job, error) {
	now := time.Now().UTC()

	var candidates []model.Job
	err := q.store.Scan(ctx, q.jobsTable(), store.QueryOptions{
		Filter: func(item map[string]any) bool {
			status, _ := item["status"].(string)
			if status != model.StatusQueued {
				return false
			}
			runAtStr, _ := item["run_at"].(string)
			runAt, perr := time.Parse(time.RFC3339Nano, runAtStr)
			if perr != nil {
				return false
			}
			return !runAt.After(now)
		},
	}, &candidates)
	if err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].RunAt.Equal(candidates[j].RunAt) {
			return candidates[i].RunAt.Before(candidates[j].RunAt)
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	groups := map[string][]model.Job{}
	var tenantOrder []string
	for _, c := range candidates {
		if _, seen := groups[c.TenantID]; !seen {
			tenantOrder = append(tenantOrder, c.TenantID)
		}
		groups[c.TenantID] = append(groups[c.TenantID], c)
	}
	sort.Strings(tenantOrder)

	fetchQuota := q.cfg.ClaimFetchQuota
	if fetchQuota <= 0 {
		fetchQuota = limit
	}

	cursor := map[string]int{}
	perTenantClaimed := map[string]int{}
	var claimed []*model.Job

	for {
		if len(claimed) >= limit {
			break
		}
		progressed := false
		for _, t := range tenantOrder {
			if len(claimed) >= limit {
				break
			}
			if perTenantClaimed[t] >= fetchQuota {
				continue
			}
			i := cursor[t]
			if i >= len(groups[t]) {
				continue
			}
			cursor[t] = i + 1
			progressed = true

			candidate := groups[t][i]
			job, ok, cerr := q.tryClaim(ctx, &candidate, workerID, now)
			if cerr != nil {
				return nil, cerr
			}
			if ok {
				claimed = append(claimed, job)
				perTenantClaimed[t]++
			}
		}
		if !progressed {
			break
		}
	}

	return claimed, nil
}

// tryClaim transitions one job from queued to claimed and writes the
// JobAttempt row for this claim-to-run cycle in the same transaction, so a
// claim and its attempt record are never observed out of sync.
func (q *Queue) tryClaim(ctx context.Context, job *model.Job, workerID string, now time.Time) (*model.Job, bool, error) {
	updated := *job
	updated.Status = model.StatusClaimed
	updated.ClaimedBy = workerID
	lease := now.Add(q.cfg.LeaseDuration)
	updated.LeaseExpiresAt = &lease
	updated.Attempts++
	updated.UpdatedAt = now

	attempt := &model.JobAttempt{
		JobID: updated.ID, TenantID: updated.TenantID, AttemptNo: updated.Attempts,
		WorkerID: workerID, StartedAt: now,
	}
	attempt.Defaulted()
	if err := registry.CallHooks(attempt); err != nil {
		return nil, false, apierr.New(apierr.Internal, err.Error())
	}

	ops := []store.WriteOp{
		{
			Table: q.jobsTable(), PK: jobPK(updated.TenantID), SK: updated.ID, Item: &updated,
			Condition: store.Condition{Kind: store.AttrEquals, Attr: "status", Value: model.StatusQueued},
		},
		{
			Table: q.attemptsTable(), PK: attempt.PK, SK: attempt.SK, Item: attempt,
			Condition: store.Condition{Kind: store.NoCondition},
		},
	}

	err := q.store.TransactWrite(ctx, ops)
	if err == nil {
		return &updated, true, nil
	}
	if _, ok := err.(*store.ErrConditionFailed); ok {
		return nil, false, nil
	}
	return nil, false, apierr.New(apierr.Internal, err.Error())
}

// Heartbeat extends a worker's lease and, on the first call after claim,
// transitions the job to running. Returns cancelled=true if the job was
// cancelled out from under the worker.
func (q *Queue) Heartbeat(ctx context.Context, jobID, workerID string) (cancelled bool, err error) {
	tenantID, rerr := q.resolveTenant(ctx, jobID)
	if rerr != nil {
		return false, rerr
	}
	job, gerr := q.getJobInTenant(ctx, tenantID, jobID)
	if gerr != nil {
		return false, gerr
	}
	if job.ClaimedBy != workerID {
		return false, apierr.New(apierr.NotOwner, "job is not leased to this worker")
	}
	if job.Status == model.StatusCancelled {
		return true, nil
	}

	now := time.Now().UTC()
	prevStatus := job.Status
	if job.Status == model.StatusClaimed {
		job.Status = model.StatusRunning
	}
	lease := now.Add(q.cfg.LeaseDuration)
	job.LeaseExpiresAt = &lease
	job.UpdatedAt = now

	err = q.store.Put(ctx, q.jobsTable(), jobPK(job.TenantID), job.ID, job, store.Condition{
		Kind: store.AttrEquals, Attr: "claimed_by", Value: workerID,
	})
	if err != nil {
		if _, ok := err.(*store.ErrConditionFailed); ok {
			return false, apierr.New(apierr.NotOwner, "lease was reclaimed")
		}
		return false, apierr.New(apierr.Internal, err.Error())
	}
	_ = prevStatus
	return false, nil
}

// CompleteJob finalizes a claimed job. A worker whose lease lapsed and was
// reclaimed by another worker sees not_owner, never silently overwriting
// the reclaiming worker's outcome (scenario S3).
func (q *Queue) CompleteJob(ctx context.Context, jobID, workerID, status string, apiErr *apierr.Error, result map[string]any, artifactRef string) error {
	tenantID, rerr := q.resolveTenant(ctx, jobID)
	if rerr != nil {
		return rerr
	}
	job, gerr := q.getJobInTenant(ctx, tenantID, jobID)
	if gerr != nil {
		return gerr
	}
	if job.ClaimedBy != workerID {
		return apierr.New(apierr.NotOwner, "job is not leased to this worker")
	}
	if job.Terminal() {
		return apierr.New(apierr.InvalidState, "job already reached a terminal status")
	}

	now := time.Now().UTC()
	cond := store.Condition{Kind: store.AttrEquals, Attr: "claimed_by", Value: workerID}

	switch status {
	case model.StatusSucceeded:
		job.Status = model.StatusSucceeded
		job.ClaimedBy = ""
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now

		jr := &model.JobResult{
			JobID: jobID, TenantID: tenantID, Status: model.StatusSucceeded,
			Result: result, ArtifactRef: artifactRef,
		}
		jr.Defaulted()
		if err := registry.CallHooks(jr); err != nil {
			return apierr.New(apierr.Internal, err.Error())
		}
		return q.completeTx(ctx, job, jr, cond)

	case model.StatusFailed:
		retryable := apiErr != nil && apiErr.Retryable
		if job.Attempts < job.MaxAttempts && retryable {
			finishedAttempt := q.finalizeAttempt(ctx, job, &model.JobResult{Status: model.StatusFailed})

			job.Status = model.StatusQueued
			job.RunAt = now.Add(time.Duration(backoffMS(job.Attempts, q.cfg.Backoff)) * time.Millisecond)
			job.LastError = apiErr
			job.ClaimedBy = ""
			job.LeaseExpiresAt = nil
			job.UpdatedAt = now

			ops := []store.WriteOp{
				{Table: q.jobsTable(), PK: jobPK(job.TenantID), SK: job.ID, Item: job, Condition: cond},
				{Table: q.attemptsTable(), PK: finishedAttempt.PK, SK: finishedAttempt.SK, Item: finishedAttempt, Condition: store.Condition{Kind: store.NoCondition}},
			}
			if err := q.store.TransactWrite(ctx, ops); err != nil {
				if _, ok := err.(*store.ErrConditionFailed); ok {
					return apierr.New(apierr.NotOwner, "lease was reclaimed")
				}
				return apierr.New(apierr.Internal, err.Error())
			}
			return nil
		}

		job.Status = model.StatusDeadLettered
		job.LastError = apiErr
		job.ClaimedBy = ""
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now

		jr := &model.JobResult{
			JobID: jobID, TenantID: tenantID, Status: model.StatusFailed,
			Error: apiErr, ArtifactRef: artifactRef,
		}
		jr.Defaulted()
		if err := registry.CallHooks(jr); err != nil {
			return apierr.New(apierr.Internal, err.Error())
		}
		return q.completeTx(ctx, job, jr, cond)

	default:
		return apierr.New(apierr.Validation, "status must be succeeded or failed")
	}
}

func (q *Queue) completeTx(ctx context.Context, job *model.Job, jr *model.JobResult, cond store.Condition) error {
	ops := []store.WriteOp{
		{Table: q.jobsTable(), PK: jobPK(job.TenantID), SK: job.ID, Item: job, Condition: cond},
		{Table: q.resultsTable(), PK: jr.PK, SK: jr.SK, Item: jr, Condition: store.Condition{Kind: store.NoCondition}},
		{
			Table: q.attemptsTable(), PK: attemptPK(job.TenantID, job.ID), SK: attemptSK(job.Attempts),
			Item: q.finalizeAttempt(ctx, job, jr), Condition: store.Condition{Kind: store.NoCondition},
		},
	}
	err := q.store.TransactWrite(ctx, ops)
	if err != nil {
		if _, ok := err.(*store.ErrConditionFailed); ok {
			return apierr.New(apierr.NotOwner, "lease was reclaimed")
		}
		return apierr.New(apierr.Internal, err.Error())
	}
	return nil
}

// finalizeAttempt merges the outcome onto the attempt row the claim wrote,
// preserving its worker_id/started_at rather than reconstructing them.
func (q *Queue) finalizeAttempt(ctx context.Context, job *model.Job, jr *model.JobResult) *model.JobAttempt {
	var attempt model.JobAttempt
	found, err := q.store.Get(ctx, q.attemptsTable(), attemptPK(job.TenantID, job.ID), attemptSK(job.Attempts), &attempt)
	if err != nil || !found {
		attempt = model.JobAttempt{JobID: job.ID, TenantID: job.TenantID, AttemptNo: job.Attempts, WorkerID: job.ClaimedBy}
	}
	attempt.EndedAt = time.Now().UTC()
	attempt.Outcome = jr.Status
	attempt.PK = attemptPK(job.TenantID, job.ID)
	attempt.SK = attemptSK(job.Attempts)
	return &attempt
}

// CancelJob is permitted from queued, claimed, or running. The next
// heartbeat or completion on a cancelled job is rejected by the worker
// observing job.Status == cancelled (Heartbeat returns cancelled=true) or,
// for CompleteJob, invalid_state since cancelled is terminal.
func (q *Queue) CancelJob(ctx context.Context, jobID, tenantID string) error {
	job, err := q.getJobInTenant(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return apierr.New(apierr.InvalidState, "job already reached a terminal status")
	}
	prevStatus := job.Status
	job.Status = model.StatusCancelled
	job.UpdatedAt = time.Now().UTC()

	werr := q.store.Put(ctx, q.jobsTable(), jobPK(job.TenantID), job.ID, job, store.Condition{
		Kind: store.AttrEquals, Attr: "status", Value: prevStatus,
	})
	if werr != nil {
		if _, ok := werr.(*store.ErrConditionFailed); ok {
			return apierr.New(apierr.Conflict, "job status changed concurrently")
		}
		return apierr.New(apierr.Internal, werr.Error())
	}
	return nil
}

// RescheduleJob is only permitted from queued.
func (q *Queue) RescheduleJob(ctx context.Context, jobID, tenantID string, runAt time.Time) error {
	job, err := q.getJobInTenant(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.StatusQueued {
		return apierr.New(apierr.InvalidState, "job must be queued to reschedule")
	}
	job.RunAt = runAt
	job.UpdatedAt = time.Now().UTC()

	werr := q.store.Put(ctx, q.jobsTable(), jobPK(job.TenantID), job.ID, job, store.Condition{
		Kind: store.AttrEquals, Attr: "status", Value: model.StatusQueued,
	})
	if werr != nil {
		if _, ok := werr.(*store.ErrConditionFailed); ok {
			return apierr.New(apierr.Conflict, "job status changed concurrently")
		}
		return apierr.New(apierr.Internal, werr.Error())
	}
	return nil
}

// ListFilters narrows ListJobs.
type ListFilters struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// ListJobs is a tenant-scoped read ordered by created_at descending.
func (q *Queue) ListJobs(ctx context.Context, tenantID string, filters ListFilters) ([]*model.Job, error) {
	var rows []model.Job
	err := q.store.Query(ctx, q.jobsTable(), jobPK(tenantID), store.QueryOptions{
		Filter: func(item map[string]any) bool {
			if filters.Status != "" {
				if s, _ := item["status"].(string); s != filters.Status {
					return false
				}
			}
			if filters.Type != "" {
				if t, _ := item["type"].(string); t != filters.Type {
					return false
				}
			}
			return true
		},
	}, &rows)
	if err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })

	if filters.Offset > 0 {
		if filters.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[filters.Offset:]
		}
	}
	if filters.Limit > 0 && len(rows) > filters.Limit {
		rows = rows[:filters.Limit]
	}

	out := make([]*model.Job, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// GetJob is a tenant-scoped lookup.
func (q *Queue) GetJob(ctx context.Context, jobID, tenantID string) (*model.Job, error) {
	return q.getJobInTenant(ctx, tenantID, jobID)
}

// GetResult is a tenant-scoped lookup of a job's terminal result.
func (q *Queue) GetResult(ctx context.Context, jobID, tenantID string) (*model.JobResult, error) {
	var jr model.JobResult
	found, err := q.store.Get(ctx, q.resultsTable(), fmt.Sprintf("#job_result#%s", tenantID), jobID, &jr)
	if err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}
	if !found {
		return nil, apierr.New(apierr.NotFound, "no result for job")
	}
	return &jr, nil
}

// ReapExpiredLeases transitions every claimed/running row whose lease has
// lapsed back to queued, without incrementing attempts again (they were
// already bumped at claim time). It is idempotent: a row already reclaimed
// by the time this runs simply fails its condition and is skipped, not
// treated as an error (property 5).
func (q *Queue) ReapExpiredLeases(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	var candidates []model.Job
	err := q.store.Scan(ctx, q.jobsTable(), store.QueryOptions{
		Filter: func(item map[string]any) bool {
			status, _ := item["status"].(string)
			if status != model.StatusClaimed && status != model.StatusRunning {
				return false
			}
			leaseStr, _ := item["lease_expires_at"].(string)
			if leaseStr == "" {
				return false
			}
			lease, perr := time.Parse(time.RFC3339Nano, leaseStr)
			if perr != nil {
				return false
			}
			return lease.Before(now)
		},
	}, &candidates)
	if err != nil {
		return 0, apierr.New(apierr.Internal, err.Error())
	}

	reaped := 0
	for i := range candidates {
		job := candidates[i]
		prevStatus := job.Status
		job.Status = model.StatusQueued
		job.ClaimedBy = ""
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now

		err := q.store.Put(ctx, q.jobsTable(), jobPK(job.TenantID), job.ID, &job, store.Condition{
			Kind: store.AttrEquals, Attr: "status", Value: prevStatus,
		})
		if err == nil {
			reaped++
			continue
		}
		if _, ok := err.(*store.ErrConditionFailed); ok {
			continue
		}
		return reaped, apierr.New(apierr.Internal, err.Error())
	}
	return reaped, nil
}

// backoffMS mirrors the connector harness's backoff formula: min(cap, base
// * multiplier^(attempts-1)) with +/-20% jitter, per spec.md §4.F.
func backoffMS(attempts int, b config.Backoff) int64 {
	base := b.BaseDelayMS
	if base <= 0 {
		base = 200
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	capMS := b.CapMS
	if capMS <= 0 {
		capMS = 10_000
	}
	jitterFraction := b.JitterFraction
	if jitterFraction <= 0 {
		jitterFraction = 0.2
	}

	delay := float64(base) * math.Pow(mult, float64(attempts-1))
	if delay > float64(capMS) {
		delay = float64(capMS)
	}
	jitter := delay * jitterFraction
	delta := (rand.Float64()*2 - 1) * jitter
	d := delay + delta
	if d < 0 {
		d = 0
	}
	return int64(d)
}
