// Package evidence builds the per-invocation evidence packet described by
// the connector harness design: component D of the job forge execution
// plane.
package evidence

import (
	"time"

	"github.com/google/uuid"
	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/canon"
	"github.com/jobforge/jobforge/pkg/redact"
)

// Packet is a deterministic record of one connector invocation, usable as
// proof of execution.
type Packet struct {
	EvidenceID      string        `json:"evidence_id"`
	ConnectorID     string        `json:"connector_id"`
	TraceID         string        `json:"trace_id"`
	TenantID        string        `json:"tenant_id"`
	ProjectID       string        `json:"project_id,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at"`
	DurationMS      int64         `json:"duration_ms"`
	Retries         int           `json:"retries"`
	StatusCodes     []int         `json:"status_codes"`
	RedactedInput   any           `json:"redacted_input"`
	OutputHash      string        `json:"output_hash"`
	EvidenceHash    string        `json:"evidence_hash"`
	OK              bool          `json:"ok"`
	Error           *apierr.Error `json:"error,omitempty"`
	BackoffDelaysMS []int64       `json:"backoff_delays_ms"`
	RateLimited     bool          `json:"rate_limited"`
}

// stableProjection is the subset of a Packet that evidence_hash is computed
// over. started_at/ended_at/duration_ms/evidence_id are wall-clock and
// identity fields that vary run to run even when a connector's behavior is
// perfectly reproducible (see DESIGN.md for the S5 test that settled this);
// excluding them is what makes two runs of the same connector against the
// same input produce the same evidence_hash.
type stableProjection struct {
	ConnectorID     string        `json:"connector_id"`
	TraceID         string        `json:"trace_id"`
	TenantID        string        `json:"tenant_id"`
	ProjectID       string        `json:"project_id,omitempty"`
	Retries         int           `json:"retries"`
	StatusCodes     []int         `json:"status_codes"`
	RedactedInput   any           `json:"redacted_input"`
	OutputHash      string        `json:"output_hash"`
	OK              bool          `json:"ok"`
	Error           *apierr.Error `json:"error,omitempty"`
	BackoffDelaysMS []int64       `json:"backoff_delays_ms"`
	RateLimited     bool          `json:"rate_limited"`
}

// Builder accumulates the observable facts of one connector call and
// assembles them into a Packet on Build{Success,Failure}.
type Builder struct {
	connectorID   string
	traceID       string
	tenantID      string
	projectID     string
	started       time.Time
	redactedInput any

	retries       int
	statusCodes   []int
	backoffDelays []int64
	rateLimited   bool
}

// NewBuilder starts timing and redacts input immediately, so the raw input
// is never retained by the builder.
func NewBuilder(connectorID, traceID, tenantID, projectID string, input any, redactor *redact.Redactor) *Builder {
	if redactor == nil {
		redactor = redact.New()
	}
	return &Builder{
		connectorID:   connectorID,
		traceID:       traceID,
		tenantID:      tenantID,
		projectID:     projectID,
		started:       time.Now().UTC(),
		redactedInput: redactor.Redact(input),
	}
}

func (b *Builder) RecordRetry(delayMS int64) {
	b.retries++
	b.backoffDelays = append(b.backoffDelays, delayMS)
}

func (b *Builder) RecordStatus(code int) {
	b.statusCodes = append(b.statusCodes, code)
}

func (b *Builder) RecordRateLimit() {
	b.rateLimited = true
}

// BuildSuccess terminates the invocation successfully.
func (b *Builder) BuildSuccess(data any) (*Packet, error) {
	return b.build(true, data, nil)
}

// BuildFailure terminates the invocation with a terminal or retryable error.
func (b *Builder) BuildFailure(code apierr.Kind, message string, retryable bool, partialData any) (*Packet, error) {
	err := apierr.New(code, message).WithRetryable(retryable)
	return b.build(false, partialData, err)
}

func (b *Builder) build(ok bool, data any, apiErr *apierr.Error) (*Packet, error) {
	ended := time.Now().UTC()
	outputHash, err := canon.Hash(data)
	if err != nil {
		return nil, err
	}

	p := &Packet{
		EvidenceID:      uuid.NewString(),
		ConnectorID:     b.connectorID,
		TraceID:         b.traceID,
		TenantID:        b.tenantID,
		ProjectID:       b.projectID,
		StartedAt:       b.started,
		EndedAt:         ended,
		DurationMS:      ended.Sub(b.started).Milliseconds(),
		Retries:         b.retries,
		StatusCodes:     append([]int(nil), b.statusCodes...),
		RedactedInput:   b.redactedInput,
		OutputHash:      outputHash,
		OK:              ok,
		Error:           apiErr,
		BackoffDelaysMS: append([]int64(nil), b.backoffDelays...),
		RateLimited:     b.rateLimited,
	}

	hash, err := canon.Hash(projection(p))
	if err != nil {
		return nil, err
	}
	p.EvidenceHash = hash
	return p, nil
}

func projection(p *Packet) stableProjection {
	return stableProjection{
		ConnectorID:     p.ConnectorID,
		TraceID:         p.TraceID,
		TenantID:        p.TenantID,
		ProjectID:       p.ProjectID,
		Retries:         p.Retries,
		StatusCodes:     p.StatusCodes,
		RedactedInput:   p.RedactedInput,
		OutputHash:      p.OutputHash,
		OK:              p.OK,
		Error:           p.Error,
		BackoffDelaysMS: p.BackoffDelaysMS,
		RateLimited:     p.RateLimited,
	}
}
