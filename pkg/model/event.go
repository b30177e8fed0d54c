package model

import (
	"fmt"
	"time"

	"github.com/jobforge/jobforge/pkg/registry"
)

// MaxEventPayloadBytes is the payload cap SubmitEvent applies when
// config.MaxEventPayloadSize is not set to a positive value.
const MaxEventPayloadBytes = 256 * 1024

func init() {
	registry.Registry.MustRegisterModel(&Event{})
}

// Event is an append-only ingestion record.
type Event struct {
	registry.BaseModel
	ID               string         `dynamodbav:"id" json:"id"`
	TenantID         string         `dynamodbav:"tenant_id" json:"tenant_id"`
	ProjectID        string         `dynamodbav:"project_id,omitempty" json:"project_id,omitempty"`
	EventVersion      int            `dynamodbav:"event_version" json:"event_version"`
	EventType        string         `dynamodbav:"event_type" json:"event_type" example:"user.signed_up"`
	OccurredAt       time.Time      `dynamodbav:"occurred_at" json:"occurred_at"`
	TraceID          string         `dynamodbav:"trace_id" json:"trace_id" desc:"Required well-formed trace identifier."`
	SourceApp        string         `dynamodbav:"source_app" json:"source_app"`
	SourceModule     string         `dynamodbav:"source_module,omitempty" json:"source_module,omitempty"`
	SubjectType      string         `dynamodbav:"subject_type,omitempty" json:"subject_type,omitempty"`
	SubjectID        string         `dynamodbav:"subject_id,omitempty" json:"subject_id,omitempty"`
	Payload          map[string]any `dynamodbav:"payload" json:"payload"`
	ContainsPII      bool           `dynamodbav:"contains_pii" json:"contains_pii"`
	RedactionHints   []string       `dynamodbav:"redaction_hints,omitempty" json:"redaction_hints,omitempty"`
	Processed        bool           `dynamodbav:"processed" json:"processed"`
	ProcessingJobID  string         `dynamodbav:"processing_job_id,omitempty" json:"processing_job_id,omitempty" desc:"Advisory link to a job this event caused; callers must not assume it is set."`
	CreatedAt        time.Time      `dynamodbav:"created_at" json:"created_at"`

	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`
}

func (e *Event) GetDescription() string {
	return "An immutable ingested event, optionally triggering job enqueue."
}

func (e *Event) GetKey() string {
	return fmt.Sprintf("#event#%s#%s", e.TenantID, e.ID)
}

func (e *Event) Defaulted() {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

func (e *Event) GetHooks() []registry.Hook {
	return []registry.Hook{
		{
			Call: func() error {
				e.PK = fmt.Sprintf("#event#%s", e.TenantID)
				e.SK = fmt.Sprintf("%s#%s", e.CreatedAt.UTC().Format(time.RFC3339Nano), e.ID)
				return nil
			},
		},
	}
}
