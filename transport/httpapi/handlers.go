package httpapi

import (
	"net/http"
	"time"

	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/events"
	"github.com/jobforge/jobforge/pkg/model"
	"github.com/jobforge/jobforge/pkg/queue"
	"github.com/jobforge/jobforge/pkg/template"
)

type enqueueJobRequest struct {
	TenantID       string         `json:"tenant_id"`
	Type           string         `json:"type"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	RunAt          *time.Time     `json:"run_at,omitempty"`
	MaxAttempts    int            `json:"max_attempts,omitempty"`
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request, traceID string) {
	var req enqueueJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	job, err := s.queue.Enqueue(r.Context(), req.TenantID, req.Type, req.Payload, req.IdempotencyKey, req.RunAt, req.MaxAttempts)
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

type claimJobsRequest struct {
	WorkerID string `json:"worker_id"`
	Limit    int    `json:"limit"`
}

func (s *Server) handleClaimJobs(w http.ResponseWriter, r *http.Request, traceID string) {
	var req claimJobsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	jobs, err := s.worker.Claim(r.Context(), req.WorkerID, req.Limit)
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

type heartbeatJobRequest struct {
	JobID    string `json:"job_id"`
	WorkerID string `json:"worker_id"`
}

func (s *Server) handleHeartbeatJob(w http.ResponseWriter, r *http.Request, traceID string) {
	var req heartbeatJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	cancelled, err := s.worker.Heartbeat(r.Context(), req.JobID, req.WorkerID)
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	if cancelled {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

type completeJobRequest struct {
	JobID       string         `json:"job_id"`
	WorkerID    string         `json:"worker_id"`
	Status      string         `json:"status"`
	Error       *apierr.Error  `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	ArtifactRef string         `json:"artifact_ref,omitempty"`
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request, traceID string) {
	var req completeJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	err := s.worker.Complete(r.Context(), req.JobID, req.WorkerID, req.Status, req.Error, req.Result, req.ArtifactRef)
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

type tenantJobRequest struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, traceID string) {
	var req tenantJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	if err := s.worker.Cancel(r.Context(), req.JobID, req.TenantID); err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

type rescheduleJobRequest struct {
	JobID    string    `json:"job_id"`
	TenantID string    `json:"tenant_id"`
	RunAt    time.Time `json:"run_at"`
}

func (s *Server) handleRescheduleJob(w http.ResponseWriter, r *http.Request, traceID string) {
	var req rescheduleJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	if err := s.worker.Reschedule(r.Context(), req.JobID, req.TenantID, req.RunAt); err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

type listJobsRequest struct {
	TenantID string `json:"tenant_id"`
	Status   string `json:"status,omitempty"`
	Type     string `json:"type,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request, traceID string) {
	var req listJobsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	jobs, err := s.worker.List(r.Context(), req.TenantID, queue.ListFilters{
		Status: req.Status, Type: req.Type, Limit: req.Limit, Offset: req.Offset,
	})
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, traceID string) {
	var req tenantJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	job, err := s.worker.Get(r.Context(), req.JobID, req.TenantID)
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request, traceID string) {
	var req tenantJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	result, err := s.worker.GetResult(r.Context(), req.JobID, req.TenantID)
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type submitEventRequest struct {
	TenantID       string         `json:"tenant_id"`
	ProjectID      string         `json:"project_id,omitempty"`
	EventVersion   int            `json:"event_version"`
	EventType      string         `json:"event_type"`
	TraceID        string         `json:"trace_id,omitempty"`
	SourceApp      string         `json:"source_app"`
	SourceModule   string         `json:"source_module,omitempty"`
	SubjectType    string         `json:"subject_type,omitempty"`
	SubjectID      string         `json:"subject_id,omitempty"`
	Payload        map[string]any `json:"payload"`
	ContainsPII    bool           `json:"contains_pii,omitempty"`
	RedactionHints []string       `json:"redaction_hints,omitempty"`
	TriggerJobType string         `json:"trigger_job_type,omitempty"`
}

func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request, traceID string) {
	var req submitEventRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	if req.TraceID == "" {
		req.TraceID = traceID
	}
	event, err := s.events.SubmitEvent(r.Context(), events.SubmitParams{
		TenantID: req.TenantID, ProjectID: req.ProjectID, EventVersion: req.EventVersion,
		EventType: req.EventType, TraceID: req.TraceID, SourceApp: req.SourceApp,
		SourceModule: req.SourceModule, SubjectType: req.SubjectType, SubjectID: req.SubjectID,
		Payload: req.Payload, ContainsPII: req.ContainsPII, RedactionHints: req.RedactionHints,
		TriggerJobType: req.TriggerJobType,
	})
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

type listEventsRequest struct {
	TenantID  string `json:"tenant_id"`
	EventType string `json:"event_type,omitempty"`
	SourceApp string `json:"source_app,omitempty"`
	Processed *bool  `json:"processed,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, traceID string) {
	var req listEventsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	rows, err := s.events.ListEvents(r.Context(), req.TenantID, events.ListFilters{
		EventType: req.EventType, SourceApp: req.SourceApp, Processed: req.Processed,
		Limit: req.Limit, Offset: req.Offset,
	})
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

type requestJobRequest struct {
	TenantID    string         `json:"tenant_id"`
	TemplateKey string         `json:"template_key"`
	Inputs      map[string]any `json:"inputs"`
	ProjectID   string         `json:"project_id,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	DryRun      bool           `json:"dry_run,omitempty"`
	PolicyToken string         `json:"policy_token,omitempty"`
}

type requestJobResponse struct {
	Job     *model.Job `json:"job"`
	TraceID string     `json:"trace_id"`
	AuditID string     `json:"audit_id,omitempty"`
	DryRun  bool        `json:"dry_run"`
}

func (s *Server) handleRequestJob(w http.ResponseWriter, r *http.Request, traceID string) {
	var req requestJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	if req.TraceID == "" {
		req.TraceID = traceID
	}
	result, err := s.templates.RequestJob(r.Context(), template.RequestParams{
		TenantID: req.TenantID, TemplateKey: req.TemplateKey, Inputs: req.Inputs,
		ProjectID: req.ProjectID, TraceID: req.TraceID, ActorID: req.ActorID,
		DryRun: req.DryRun, PolicyToken: req.PolicyToken,
	})
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, requestJobResponse{
		Job: result.Job, TraceID: result.TraceID, AuditID: result.AuditID, DryRun: result.DryRun,
	})
}

type runManifestRequest struct {
	RunID    string `json:"run_id"`
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleGetRunManifest(w http.ResponseWriter, r *http.Request, traceID string) {
	var req runManifestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	m, err := s.manifests.GetRunManifest(r.Context(), req.RunID, req.TenantID)
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request, traceID string) {
	var req runManifestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, traceID, apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	outputs, err := s.manifests.ListArtifacts(r.Context(), req.RunID, req.TenantID)
	if err != nil {
		s.writeError(w, traceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outputs)
}
