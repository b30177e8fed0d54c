// Package events is the append-only event store: component G of the job
// forge execution plane.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/model"
	"github.com/jobforge/jobforge/pkg/registry"
	"github.com/jobforge/jobforge/pkg/store"
)

type Store struct {
	store store.Store
	cfg   config.Config
}

func New(st store.Store, cfg config.Config) *Store {
	return &Store{store: st, cfg: cfg}
}

func (s *Store) table() string { return s.cfg.TablePrefix + "_events" }

func eventPK(tenantID string) string { return fmt.Sprintf("#event#%s", tenantID) }

// SubmitParams are the inputs to SubmitEvent. TriggerJobType, when set,
// causes a job of that type to be enqueued atomically alongside the event
// — the "subject_type implies downstream processing" case in spec.md
// §4.G. processing_job_id is set on the event when this happens, but per
// the spec's resolved open question it is advisory: callers must not
// assume it is always populated.
type SubmitParams struct {
	TenantID       string
	ProjectID      string
	EventVersion   int
	EventType      string
	TraceID        string
	SourceApp      string
	SourceModule   string
	SubjectType    string
	SubjectID      string
	Payload        map[string]any
	ContainsPII    bool
	RedactionHints []string
	TriggerJobType string
}

// jobIndexRow mirrors queue's own, so a co-transactionally enqueued job is
// resolvable by the worker protocol exactly like any other job.
type jobIndexRow struct {
	TenantID string `dynamodbav:"tenant_id" json:"tenant_id"`
}

// SubmitEvent validates and inserts one event, rejecting oversized
// payloads, and optionally enqueues a processing job in the same
// transaction.
func (s *Store) SubmitEvent(ctx context.Context, p SubmitParams) (*model.Event, error) {
	if !s.cfg.Features.EventsEnabled {
		return nil, apierr.New(apierr.FeatureDisabled, "events are disabled")
	}
	if p.TraceID == "" {
		p.TraceID = uuid.NewString()
	}
	if p.TenantID == "" {
		return nil, apierr.New(apierr.Validation, "tenant_id is required")
	}
	if p.EventType == "" {
		return nil, apierr.New(apierr.Validation, "event_type is required")
	}

	payloadBytes, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, apierr.New(apierr.Validation, "payload is not serializable")
	}
	maxBytes := s.cfg.MaxEventPayloadSize
	if maxBytes <= 0 {
		maxBytes = model.MaxEventPayloadBytes
	}
	if len(payloadBytes) > maxBytes {
		return nil, apierr.Newf(apierr.Validation, "payload exceeds %d byte limit", maxBytes)
	}

	event := &model.Event{
		ID:             uuid.NewString(),
		TenantID:       p.TenantID,
		ProjectID:      p.ProjectID,
		EventVersion:   p.EventVersion,
		EventType:      p.EventType,
		TraceID:        p.TraceID,
		SourceApp:      p.SourceApp,
		SourceModule:   p.SourceModule,
		SubjectType:    p.SubjectType,
		SubjectID:      p.SubjectID,
		Payload:        p.Payload,
		ContainsPII:    p.ContainsPII,
		RedactionHints: p.RedactionHints,
	}
	event.Defaulted()
	if err := registry.CallHooks(event); err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}

	ops := []store.WriteOp{
		{Table: s.table(), PK: event.PK, SK: event.SK, Item: event, Condition: store.Condition{Kind: store.AttrNotExists}},
	}

	var job *model.Job
	if p.TriggerJobType != "" {
		job = &model.Job{
			ID:       uuid.NewString(),
			TenantID: p.TenantID,
			Type:     p.TriggerJobType,
			Payload:  p.Payload,
		}
		job.Defaulted()
		if err := registry.CallHooks(job); err != nil {
			return nil, apierr.New(apierr.Internal, err.Error())
		}
		event.ProcessingJobID = job.ID

		ops = append(ops,
			store.WriteOp{Table: s.cfg.TablePrefix + "_jobs", PK: job.PK, SK: job.SK, Item: job, Condition: store.Condition{Kind: store.AttrNotExists}},
			store.WriteOp{Table: s.cfg.TablePrefix + "_job_index", PK: "#job_index", SK: job.ID, Item: jobIndexRow{TenantID: p.TenantID}, Condition: store.Condition{Kind: store.AttrNotExists}},
		)
	}

	if err := s.store.TransactWrite(ctx, ops); err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}
	return event, nil
}

// ListFilters narrows ListEvents.
type ListFilters struct {
	EventType string
	SourceApp string
	Processed *bool
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// ListEvents is a tenant-scoped read.
func (s *Store) ListEvents(ctx context.Context, tenantID string, filters ListFilters) ([]*model.Event, error) {
	var rows []model.Event
	err := s.store.Query(ctx, s.table(), eventPK(tenantID), store.QueryOptions{
		Filter: func(item map[string]any) bool {
			if filters.EventType != "" {
				if t, _ := item["event_type"].(string); t != filters.EventType {
					return false
				}
			}
			if filters.SourceApp != "" {
				if a, _ := item["source_app"].(string); a != filters.SourceApp {
					return false
				}
			}
			if filters.Processed != nil {
				processed, _ := item["processed"].(bool)
				if processed != *filters.Processed {
					return false
				}
			}
			if !filters.Since.IsZero() || !filters.Until.IsZero() {
				occurredStr, _ := item["occurred_at"].(string)
				occurred, perr := time.Parse(time.RFC3339Nano, occurredStr)
				if perr != nil {
					return false
				}
				if !filters.Since.IsZero() && occurred.Before(filters.Since) {
					return false
				}
				if !filters.Until.IsZero() && occurred.After(filters.Until) {
					return false
				}
			}
			return true
		},
	}, &rows)
	if err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

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

	out := make([]*model.Event, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}
