package model

import (
	"fmt"
	"time"

	"github.com/jobforge/jobforge/pkg/registry"
)

// Audit log actions.
const (
	ActionEventSubmitted   = "event_submitted"
	ActionJobRequested     = "job_requested"
	ActionJobCancelled     = "job_cancelled"
	ActionPolicyDenied     = "policy_denied"
	ActionTemplateEnabled  = "template_enabled"
	ActionTemplateDisabled = "template_disabled"
	ActionTokenIssued      = "token_issued"
	ActionTokenConsumed    = "token_consumed"
)

func init() {
	registry.Registry.MustRegisterModel(&AuditLogEntry{})
}

// AuditLogEntry is an append-only, tenant-scoped record of an admin-visible
// operation. Rows are never updated or deleted by ordinary code paths.
type AuditLogEntry struct {
	registry.BaseModel
	ID          string         `dynamodbav:"id" json:"id"`
	TenantID    string         `dynamodbav:"tenant_id" json:"tenant_id"`
	ActorID     string         `dynamodbav:"actor_id,omitempty" json:"actor_id,omitempty"`
	Action      string         `dynamodbav:"action" json:"action" example:"job_requested"`
	SubjectType string         `dynamodbav:"subject_type" json:"subject_type"`
	SubjectID   string         `dynamodbav:"subject_id" json:"subject_id"`
	TraceID     string         `dynamodbav:"trace_id" json:"trace_id"`
	OccurredAt  time.Time      `dynamodbav:"occurred_at" json:"occurred_at"`
	Metadata    map[string]any `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`

	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`
}

func (a *AuditLogEntry) GetDescription() string {
	return "An immutable record of one admin-visible operation, scoped to a single tenant."
}

func (a *AuditLogEntry) GetKey() string {
	return fmt.Sprintf("#audit#%s#%s", a.TenantID, a.ID)
}

func (a *AuditLogEntry) Defaulted() {
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}
}

func (a *AuditLogEntry) GetHooks() []registry.Hook {
	return []registry.Hook{
		{
			Call: func() error {
				a.PK = fmt.Sprintf("#audit#%s", a.TenantID)
				a.SK = fmt.Sprintf("%s#%s", a.OccurredAt.UTC().Format(time.RFC3339Nano), a.ID)
				return nil
			},
		},
	}
}
