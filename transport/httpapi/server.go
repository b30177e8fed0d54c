// Package httpapi binds the job forge RPC surface onto net/http: one
// handler per endpoint, trace header propagation, and structured
// per-request logging via log/slog, the teacher's own logging choice.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"

	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/audit"
	"github.com/jobforge/jobforge/pkg/events"
	"github.com/jobforge/jobforge/pkg/manifest"
	"github.com/jobforge/jobforge/pkg/policy"
	"github.com/jobforge/jobforge/pkg/queue"
	"github.com/jobforge/jobforge/pkg/redact"
	"github.com/jobforge/jobforge/pkg/template"
	"github.com/jobforge/jobforge/pkg/worker"
)

const traceHeader = "x-trace-id"

// Server wires every component package to a thin JSON-over-HTTP binding.
type Server struct {
	queue     *queue.Queue
	worker    *worker.API
	events    *events.Store
	templates *template.Registry
	manifests *manifest.Store
	policy    *policy.Gate
	audit     *audit.Log
	redactor  *redact.Redactor
	log       *slog.Logger
}

func New(q *queue.Queue, w *worker.API, ev *events.Store, tmpl *template.Registry, mf *manifest.Store, pol *policy.Gate, al *audit.Log, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{queue: q, worker: w, events: ev, templates: tmpl, manifests: mf, policy: pol, audit: al, redactor: redact.New(), log: log}
}

// Routes returns the server's handler tree, ready to pass to http.Server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs/enqueue", s.withTrace(s.handleEnqueueJob))
	mux.HandleFunc("/v1/jobs/claim", s.withTrace(s.handleClaimJobs))
	mux.HandleFunc("/v1/jobs/heartbeat", s.withTrace(s.handleHeartbeatJob))
	mux.HandleFunc("/v1/jobs/complete", s.withTrace(s.handleCompleteJob))
	mux.HandleFunc("/v1/jobs/cancel", s.withTrace(s.handleCancelJob))
	mux.HandleFunc("/v1/jobs/reschedule", s.withTrace(s.handleRescheduleJob))
	mux.HandleFunc("/v1/jobs/list", s.withTrace(s.handleListJobs))
	mux.HandleFunc("/v1/jobs/get", s.withTrace(s.handleGetJob))
	mux.HandleFunc("/v1/jobs/result", s.withTrace(s.handleGetResult))
	mux.HandleFunc("/v1/events/submit", s.withTrace(s.handleSubmitEvent))
	mux.HandleFunc("/v1/events/list", s.withTrace(s.handleListEvents))
	mux.HandleFunc("/v1/templates/request", s.withTrace(s.handleRequestJob))
	mux.HandleFunc("/v1/manifests/get", s.withTrace(s.handleGetRunManifest))
	mux.HandleFunc("/v1/manifests/artifacts", s.withTrace(s.handleListArtifacts))
	return mux
}

type traceKey struct{}

// withTrace reads or assigns x-trace-id, passes it to the handler, echoes
// it on the response, and logs the call's path, trace id and duration.
func (s *Server) withTrace(next func(w http.ResponseWriter, r *http.Request, traceID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get(traceHeader)
		if traceID == "" || !httpguts.ValidHeaderFieldValue(traceID) {
			traceID = uuid.NewString()
		}
		w.Header().Set(traceHeader, traceID)

		next(w, r, traceID)

		s.log.Info("rpc call",
			"path", r.URL.Path,
			"trace_id", traceID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps a stable error kind to its HTTP status, per spec.md §7 /
// SPEC_FULL.md §4.N, and passes any debug string through the redactor before
// it is emitted. The redactor scrubs keyed fields only, so a plain debug
// string comes back unchanged.
func (s *Server) writeError(w http.ResponseWriter, traceID string, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(apierr.Internal, "internal error")
	}
	apiErr = apiErr.WithTrace(traceID)
	if apiErr.Debug != "" {
		if redacted, ok := s.redactor.Redact(apiErr.Debug).(string); ok {
			apiErr.Debug = redacted
		}
	}
	s.writeJSON(w, statusFor(apiErr.Code), apiErr)
}

func statusFor(kind apierr.Kind) int {
	switch kind {
	case apierr.Validation:
		return http.StatusBadRequest
	case apierr.NotFound, apierr.TemplateNotFound:
		return http.StatusNotFound
	case apierr.Conflict:
		return http.StatusConflict
	case apierr.NotOwner, apierr.PolicyDenied, apierr.FeatureDisabled, apierr.TemplateDisabled:
		return http.StatusForbidden
	case apierr.InvalidState:
		return http.StatusConflict
	case apierr.RateLimited:
		return http.StatusTooManyRequests
	case apierr.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
