package template

import (
	"context"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/audit"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/model"
	"github.com/jobforge/jobforge/pkg/policy"
	"github.com/jobforge/jobforge/pkg/queue"
	"github.com/jobforge/jobforge/pkg/schema"
	"github.com/jobforge/jobforge/pkg/store"
	"github.com/jobforge/jobforge/pkg/store/memstore"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(st store.Store, cfg config.Config) *Registry {
	q := queue.New(st, cfg)
	gate := policy.New(st, cfg)
	al := audit.New(st, cfg)
	schemas := schema.NewRegistry()
	schemas.Register("noop.v1", "v1", schema.NewEnvelopeSchema(map[string]*openapi3.Schema{}, nil))
	return New(st, cfg, q, gate, al, schemas)
}

func enabledConfig() config.Config {
	return config.Config{
		TablePrefix: "test",
		Features: config.FeatureFlags{
			AutopilotJobsEnabled: true,
			ActionJobsEnabled:    true,
			AuditLoggingEnabled:  true,
		},
	}
}

func TestRequestJobRejectsWhenFeatureDisabled(t *testing.T) {
	st := memstore.New()
	r := newTestRegistry(st, config.Config{TablePrefix: "test"})
	_, err := r.RequestJob(context.Background(), RequestParams{TenantID: "t", TemplateKey: "noop"})
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	require.Equal(t, apierr.FeatureDisabled, apiErr.Code)
}

func TestRequestJobRejectsUnknownTemplate(t *testing.T) {
	st := memstore.New()
	r := newTestRegistry(st, enabledConfig())
	_, err := r.RequestJob(context.Background(), RequestParams{TenantID: "t", TemplateKey: "does-not-exist"})
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	require.Equal(t, apierr.TemplateNotFound, apiErr.Code)
}

func TestRequestJobCompilesOrdinaryTemplate(t *testing.T) {
	st := memstore.New()
	cfg := enabledConfig()
	r := newTestRegistry(st, cfg)
	require.NoError(t, r.RegisterTemplate(context.Background(), &model.Template{
		TemplateKey: "noop", InputSchema: "noop.v1", Enabled: true,
	}))

	res, err := r.RequestJob(context.Background(), RequestParams{TenantID: "t", TemplateKey: "noop", Inputs: map[string]any{}})
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	require.False(t, res.DryRun)
}

func TestRequestJobDryRunEnqueuesNothing(t *testing.T) {
	st := memstore.New()
	cfg := enabledConfig()
	r := newTestRegistry(st, cfg)
	require.NoError(t, r.RegisterTemplate(context.Background(), &model.Template{
		TemplateKey: "noop", InputSchema: "noop.v1", Enabled: true,
	}))

	res, err := r.RequestJob(context.Background(), RequestParams{TenantID: "t", TemplateKey: "noop", Inputs: map[string]any{}, DryRun: true})
	require.NoError(t, err)
	require.True(t, res.DryRun)

	q := queue.New(st, cfg)
	jobs, err := q.ListJobs(context.Background(), "t", queue.ListFilters{})
	require.NoError(t, err)
	require.Empty(t, jobs)
}

// TestRequestJobDeniesActionJobWithoutToken grounds scenario S4: an
// action-class job request without a policy token must be hard-blocked —
// no job row created — and recorded as exactly one audit entry.
func TestRequestJobDeniesActionJobWithoutToken(t *testing.T) {
	st := memstore.New()
	cfg := enabledConfig()
	r := newTestRegistry(st, cfg)
	require.NoError(t, r.RegisterTemplate(context.Background(), &model.Template{
		TemplateKey: "deploy", InputSchema: "noop.v1", Enabled: true, IsActionJob: true,
		RequiredScopes: []string{"jobs:action"},
	}))

	_, err := r.RequestJob(context.Background(), RequestParams{TenantID: "t", TemplateKey: "deploy", Inputs: map[string]any{}})
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	require.Equal(t, apierr.PolicyDenied, apiErr.Code)

	q := queue.New(st, cfg)
	jobs, err := q.ListJobs(context.Background(), "t", queue.ListFilters{})
	require.NoError(t, err)
	require.Empty(t, jobs, "a denied action job must never be enqueued")

	al := audit.New(st, cfg)
	entries, err := al.List(context.Background(), "t", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, model.ActionPolicyDenied, entries[0].Action)
}

func TestRequestJobSucceedsActionJobWithValidToken(t *testing.T) {
	st := memstore.New()
	cfg := enabledConfig()
	r := newTestRegistry(st, cfg)
	require.NoError(t, r.RegisterTemplate(context.Background(), &model.Template{
		TemplateKey: "deploy", InputSchema: "noop.v1", Enabled: true, IsActionJob: true,
		RequiredScopes: []string{"jobs:action"},
	}))

	gate := policy.New(st, cfg)
	tok, err := gate.IssueToken(context.Background(), "t", []string{"jobs:action"}, time.Hour, false)
	require.NoError(t, err)

	res, err := r.RequestJob(context.Background(), RequestParams{
		TenantID: "t", TemplateKey: "deploy", Inputs: map[string]any{}, PolicyToken: tok.Token,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Job)
}

func TestRequestJobRejectsDisabledTemplate(t *testing.T) {
	st := memstore.New()
	cfg := enabledConfig()
	r := newTestRegistry(st, cfg)
	require.NoError(t, r.RegisterTemplate(context.Background(), &model.Template{
		TemplateKey: "noop", InputSchema: "noop.v1", Enabled: false,
	}))

	_, err := r.RequestJob(context.Background(), RequestParams{TenantID: "t", TemplateKey: "noop"})
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	require.Equal(t, apierr.TemplateDisabled, apiErr.Code)
}
