// Package template is the template registry and compiler: component H of
// the job forge execution plane. It maps template keys and inputs to
// validated, enqueued jobs, gating action-class templates through the
// policy gate.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/audit"
	"github.com/jobforge/jobforge/pkg/canon"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/model"
	"github.com/jobforge/jobforge/pkg/policy"
	"github.com/jobforge/jobforge/pkg/queue"
	"github.com/jobforge/jobforge/pkg/registry"
	"github.com/jobforge/jobforge/pkg/schema"
	"github.com/jobforge/jobforge/pkg/store"
)

type Registry struct {
	store   store.Store
	cfg     config.Config
	queue   *queue.Queue
	gate    *policy.Gate
	audit   *audit.Log
	schemas *schema.Registry
}

func New(st store.Store, cfg config.Config, q *queue.Queue, gate *policy.Gate, auditLog *audit.Log, schemas *schema.Registry) *Registry {
	return &Registry{store: st, cfg: cfg, queue: q, gate: gate, audit: auditLog, schemas: schemas}
}

func (r *Registry) table() string { return r.cfg.TablePrefix + "_templates" }

// RegisterTemplate inserts or replaces a template definition.
func (r *Registry) RegisterTemplate(ctx context.Context, t *model.Template) error {
	t.Defaulted()
	if err := registry.CallHooks(t); err != nil {
		return apierr.New(apierr.Internal, err.Error())
	}
	if err := r.store.Put(ctx, r.table(), t.PK, t.SK, t, store.Condition{Kind: store.NoCondition}); err != nil {
		return apierr.New(apierr.Internal, err.Error())
	}
	return nil
}

// GetTemplate fetches a template by key.
func (r *Registry) GetTemplate(ctx context.Context, templateKey string) (*model.Template, error) {
	var t model.Template
	found, err := r.store.Get(ctx, r.table(), "#template", templateKey, &t)
	if err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}
	if !found {
		return nil, apierr.New(apierr.TemplateNotFound, "template not found")
	}
	return &t, nil
}

// RequestParams are RequestJob's inputs.
type RequestParams struct {
	TenantID    string
	TemplateKey string
	Inputs      map[string]any
	ProjectID   string
	TraceID     string
	ActorID     string
	DryRun      bool
	PolicyToken string
}

// Result is RequestJob's output.
type Result struct {
	Job     *model.Job
	TraceID string
	AuditID string
	DryRun  bool
}

// RequestJob compiles a template + inputs into an enqueued job, or a
// synthetic dry-run row that enqueues nothing. Action-class templates are
// routed through the policy gate first; a missing or invalid token is a
// hard block — never enqueued (scenario S4).
func (r *Registry) RequestJob(ctx context.Context, p RequestParams) (*Result, error) {
	if !r.cfg.Features.AutopilotJobsEnabled {
		return nil, apierr.New(apierr.FeatureDisabled, "autopilot jobs are disabled")
	}

	t, err := r.GetTemplate(ctx, p.TemplateKey)
	if err != nil {
		return nil, err
	}
	if !t.Enabled {
		return nil, apierr.New(apierr.TemplateDisabled, "template is disabled")
	}

	if msgs, verr := r.schemas.Validate(t.InputSchema, mustJSON(p.Inputs)); verr != nil {
		return nil, apierr.New(apierr.Validation, strings.Join(msgs, "; "))
	}

	traceID := p.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	if t.IsActionJob {
		if !r.cfg.Features.ActionJobsEnabled {
			return nil, apierr.New(apierr.FeatureDisabled, "action jobs are disabled")
		}
		if p.PolicyToken == "" {
			r.recordDenied(ctx, p, traceID)
			return nil, apierr.New(apierr.PolicyDenied, "policy token is required for action jobs")
		}
		if _, perr := r.gate.ValidatePolicyToken(ctx, p.PolicyToken, p.TenantID, t.RequiredScopes); perr != nil {
			r.recordDenied(ctx, p, traceID)
			return nil, perr
		}
	}

	var auditID string
	if entry, aerr := r.audit.Record(ctx, p.TenantID, p.ActorID, model.ActionJobRequested, "template", p.TemplateKey, traceID, map[string]any{
		"dry_run": p.DryRun,
	}); aerr == nil && entry != nil {
		auditID = entry.ID
	}

	if p.DryRun {
		synthetic := &model.Job{
			TenantID:    p.TenantID,
			Type:        p.TemplateKey,
			Payload:     p.Inputs,
			MaxAttempts: t.DefaultMaxAttempts,
			Status:      model.StatusQueued,
		}
		return &Result{Job: synthetic, TraceID: traceID, AuditID: auditID, DryRun: true}, nil
	}

	idemKey, herr := canon.Hash(map[string]any{
		"template_key": p.TemplateKey,
		"tenant_id":    p.TenantID,
		"inputs":       p.Inputs,
		"trace_id":     traceID,
	})
	if herr != nil {
		return nil, apierr.New(apierr.Internal, herr.Error())
	}

	job, eerr := r.queue.Enqueue(ctx, p.TenantID, p.TemplateKey, p.Inputs, idemKey, nil, t.DefaultMaxAttempts)
	if eerr != nil {
		return nil, eerr
	}

	return &Result{Job: job, TraceID: traceID, AuditID: auditID, DryRun: false}, nil
}

func (r *Registry) recordDenied(ctx context.Context, p RequestParams, traceID string) {
	_, _ = r.audit.Record(ctx, p.TenantID, p.ActorID, model.ActionPolicyDenied, "template", p.TemplateKey, traceID, nil)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(`{"_marshal_error":%q}`, err.Error()))
	}
	return b
}
