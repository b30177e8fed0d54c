package model

import (
	"fmt"
	"time"

	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/registry"
)

// Manifest status values.
const (
	ManifestPending  = "pending"
	ManifestComplete = "complete"
	ManifestFailed   = "failed"
)

// ManifestOutput describes one artifact produced by a run.
type ManifestOutput struct {
	Name     string `dynamodbav:"name" json:"name"`
	Type     string `dynamodbav:"type" json:"type"`
	Ref      string `dynamodbav:"ref" json:"ref" desc:"Opaque pointer to the stored artifact."`
	Size     int64  `dynamodbav:"size,omitempty" json:"size,omitempty"`
	Checksum string `dynamodbav:"checksum,omitempty" json:"checksum,omitempty" desc:"sha256 hex of the artifact bytes."`
	MimeType string `dynamodbav:"mime_type,omitempty" json:"mime_type,omitempty"`
}

func init() {
	registry.Registry.MustRegisterModel(&Manifest{})
}

// Manifest is the canonical, content-addressed summary of a completed run.
type Manifest struct {
	registry.BaseModel
	RunID             string            `dynamodbav:"run_id" json:"run_id" desc:"Equal to the job id that produced this manifest."`
	TenantID          string            `dynamodbav:"tenant_id" json:"tenant_id"`
	JobType           string            `dynamodbav:"job_type" json:"job_type"`
	Outputs           []ManifestOutput  `dynamodbav:"outputs,omitempty" json:"outputs,omitempty"`
	Metrics           map[string]any    `dynamodbav:"metrics,omitempty" json:"metrics,omitempty"`
	EnvFingerprint    string            `dynamodbav:"env_fingerprint,omitempty" json:"env_fingerprint,omitempty"`
	ToolVersions      map[string]string `dynamodbav:"tool_versions,omitempty" json:"tool_versions,omitempty"`
	InputsSnapshotRef string            `dynamodbav:"inputs_snapshot_ref,omitempty" json:"inputs_snapshot_ref,omitempty"`
	LogsRef           string            `dynamodbav:"logs_ref,omitempty" json:"logs_ref,omitempty"`
	Status            string            `dynamodbav:"status" json:"status" example:"complete"`
	Error             *apierr.Error     `dynamodbav:"error,omitempty" json:"error,omitempty"`
	CreatedAt         time.Time         `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `dynamodbav:"updated_at" json:"updated_at"`

	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`
}

func (m *Manifest) GetDescription() string {
	return "The content-addressed summary of one completed job run, verifiable by a consumer byte-for-byte."
}

func (m *Manifest) GetKey() string {
	return fmt.Sprintf("#manifest#%s#%s", m.TenantID, m.RunID)
}

func (m *Manifest) Defaulted() {
	if m.Status == "" {
		m.Status = ManifestPending
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

func (m *Manifest) GetHooks() []registry.Hook {
	return []registry.Hook{
		{
			Call: func() error {
				m.PK = fmt.Sprintf("#manifest#%s", m.TenantID)
				m.SK = m.RunID
				return nil
			},
		},
	}
}
