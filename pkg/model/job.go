// Package model defines the entities the job forge execution plane
// persists, each implementing registry.Model the way the teacher's own
// data model does: BaseModel embedding, hook-based key construction,
// dynamodbav+json+desc+example struct tags.
package model

import (
	"fmt"
	"time"

	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/registry"
)

// Job status values. The zero value is never a member of this set; every
// Job is given an explicit status by Defaulted or by a queue transition.
const (
	StatusQueued        = "queued"
	StatusClaimed       = "claimed"
	StatusRunning       = "running"
	StatusSucceeded     = "succeeded"
	StatusFailed        = "failed"
	StatusCancelled     = "cancelled"
	StatusDeadLettered  = "dead_lettered"
)

// DefaultMaxAttempts is used when Enqueue does not specify one.
const DefaultMaxAttempts = 5

// DefaultLeaseDuration is the worker's claim lease length absent an
// overriding config value.
const DefaultLeaseDuration = 60 * time.Second

func init() {
	registry.Registry.MustRegisterModel(&Job{})
}

// Job is one unit of work in a tenant's queue.
type Job struct {
	registry.BaseModel
	ID             string         `dynamodbav:"id" json:"id" desc:"Unique job identifier." example:"3fae7c0a-8e35-4b8f-9f2a-8e6c2a9d6b41"`
	TenantID       string         `dynamodbav:"tenant_id" json:"tenant_id" desc:"Owning tenant." example:"acme-corp"`
	Type           string         `dynamodbav:"type" json:"type" desc:"Job type, resolves to a registered payload schema." example:"echo"`
	Payload        map[string]any `dynamodbav:"payload" json:"payload" desc:"Opaque structured job input, validated against the type's schema."`
	IdempotencyKey string         `dynamodbav:"idempotency_key,omitempty" json:"idempotency_key,omitempty" desc:"Unique per (tenant_id, type) when set; the sole exactly-once mechanism." example:"req-88421"`
	Status         string         `dynamodbav:"status" json:"status" desc:"Current lifecycle state." example:"queued"`
	RunAt          time.Time      `dynamodbav:"run_at" json:"run_at" desc:"Earliest eligibility for claim."`
	Attempts       int            `dynamodbav:"attempts" json:"attempts" desc:"Number of claims taken so far."`
	MaxAttempts    int            `dynamodbav:"max_attempts" json:"max_attempts" desc:"Ceiling on attempts before dead-lettering."`
	LastError      *apierr.Error  `dynamodbav:"last_error,omitempty" json:"last_error,omitempty" desc:"Most recent failure reported by a worker, if any."`
	ClaimedBy      string         `dynamodbav:"claimed_by,omitempty" json:"claimed_by,omitempty" desc:"Worker id holding the current lease."`
	LeaseExpiresAt *time.Time     `dynamodbav:"lease_expires_at,omitempty" json:"lease_expires_at,omitempty" desc:"When the current lease lapses."`
	CreatedAt      time.Time      `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `dynamodbav:"updated_at" json:"updated_at"`

	// PK/SK are the row's DynamoDB-shaped location, set by the hook below
	// so callers never construct it by hand.
	PK string `dynamodbav:"pk" json:"-" desc:"Partition key: #job#<tenant_id>."`
	SK string `dynamodbav:"sk" json:"-" desc:"Sort key: <id>."`
}

func (j *Job) GetDescription() string {
	return "A unit of work accepted into a tenant's queue, tracked through claim, lease, and completion."
}

func (j *Job) GetKey() string {
	return fmt.Sprintf("#job#%s#%s", j.TenantID, j.ID)
}

func (j *Job) Defaulted() {
	if j.Payload == nil {
		j.Payload = map[string]any{}
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	if j.RunAt.IsZero() {
		j.RunAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
}

func (j *Job) GetHooks() []registry.Hook {
	return []registry.Hook{
		{
			Description: "derive pk/sk from tenant_id and id",
			Call: func() error {
				j.PK = fmt.Sprintf("#job#%s", j.TenantID)
				j.SK = j.ID
				return nil
			},
		},
	}
}

// Terminal reports whether status cannot transition further under ordinary
// operation (§4.F's state machine).
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusSucceeded, StatusCancelled, StatusDeadLettered:
		return true
	default:
		return false
	}
}

func init() {
	registry.Registry.MustRegisterModel(&JobResult{})
}

// JobResult is one row per terminal completion.
type JobResult struct {
	registry.BaseModel
	JobID       string         `dynamodbav:"job_id" json:"job_id" desc:"Job this result belongs to."`
	TenantID    string         `dynamodbav:"tenant_id" json:"tenant_id"`
	Status      string         `dynamodbav:"status" json:"status" desc:"succeeded or failed." example:"succeeded"`
	Result      map[string]any `dynamodbav:"result,omitempty" json:"result,omitempty"`
	Error       *apierr.Error  `dynamodbav:"error,omitempty" json:"error,omitempty"`
	ArtifactRef string         `dynamodbav:"artifact_ref,omitempty" json:"artifact_ref,omitempty" desc:"Opaque pointer to a stored artifact."`
	CreatedAt   time.Time      `dynamodbav:"created_at" json:"created_at"`

	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`
}

func (r *JobResult) GetDescription() string {
	return "The terminal outcome of a completed job: one row per job completion."
}

func (r *JobResult) GetKey() string {
	return fmt.Sprintf("#job_result#%s#%s", r.TenantID, r.JobID)
}

func (r *JobResult) Defaulted() {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

func (r *JobResult) GetHooks() []registry.Hook {
	return []registry.Hook{
		{
			Call: func() error {
				r.PK = fmt.Sprintf("#job_result#%s", r.TenantID)
				r.SK = r.JobID
				return nil
			},
		},
	}
}

func init() {
	registry.Registry.MustRegisterModel(&JobAttempt{})
}

// JobAttempt is one row per claim that began running.
type JobAttempt struct {
	registry.BaseModel
	JobID     string    `dynamodbav:"job_id" json:"job_id"`
	TenantID  string    `dynamodbav:"tenant_id" json:"tenant_id"`
	AttemptNo int       `dynamodbav:"attempt_no" json:"attempt_no"`
	WorkerID  string    `dynamodbav:"worker_id" json:"worker_id"`
	StartedAt time.Time `dynamodbav:"started_at" json:"started_at"`
	EndedAt   time.Time `dynamodbav:"ended_at,omitempty" json:"ended_at,omitempty"`
	Outcome   string    `dynamodbav:"outcome,omitempty" json:"outcome,omitempty"`

	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`
}

func (a *JobAttempt) GetDescription() string {
	return "A record of one claim-to-run cycle of a job, for audit and debugging."
}

func (a *JobAttempt) GetKey() string {
	return fmt.Sprintf("#job_attempt#%s#%s#%d", a.TenantID, a.JobID, a.AttemptNo)
}

func (a *JobAttempt) Defaulted() {
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
}

func (a *JobAttempt) GetHooks() []registry.Hook {
	return []registry.Hook{
		{
			Call: func() error {
				a.PK = fmt.Sprintf("#job_attempt#%s#%s", a.TenantID, a.JobID)
				a.SK = fmt.Sprintf("%06d", a.AttemptNo)
				return nil
			},
		},
	}
}
