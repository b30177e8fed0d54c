// Package audit is the append-only audit log: component J of the job
// forge execution plane.
package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/model"
	"github.com/jobforge/jobforge/pkg/registry"
	"github.com/jobforge/jobforge/pkg/store"
)

type Log struct {
	store store.Store
	cfg   config.Config
}

func New(st store.Store, cfg config.Config) *Log {
	return &Log{store: st, cfg: cfg}
}

func (l *Log) table() string { return l.cfg.TablePrefix + "_audit_log" }

func auditPK(tenantID string) string { return fmt.Sprintf("#audit#%s", tenantID) }

// Record appends one entry. Every entry's tenant_id matches the operation
// it describes by construction — Record never accepts a tenant_id that
// differs from the caller's own operation context (property 9).
func (l *Log) Record(ctx context.Context, tenantID, actorID, action, subjectType, subjectID, traceID string, metadata map[string]any) (*model.AuditLogEntry, error) {
	if !l.cfg.Features.AuditLoggingEnabled {
		return nil, nil
	}
	entry := &model.AuditLogEntry{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		ActorID:     actorID,
		Action:      action,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		TraceID:     traceID,
		Metadata:    metadata,
	}
	entry.Defaulted()
	if err := registry.CallHooks(entry); err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}

	if err := l.store.Put(ctx, l.table(), entry.PK, entry.SK, entry, store.Condition{Kind: store.AttrNotExists}); err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}
	return entry, nil
}

// List is a tenant-scoped read, newest first.
func (l *Log) List(ctx context.Context, tenantID string, limit, offset int) ([]*model.AuditLogEntry, error) {
	var rows []model.AuditLogEntry
	err := l.store.Query(ctx, l.table(), auditPK(tenantID), store.QueryOptions{Descending: true}, &rows)
	if err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].OccurredAt.After(rows[j].OccurredAt) })

	if offset > 0 {
		if offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[offset:]
		}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]*model.AuditLogEntry, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}
