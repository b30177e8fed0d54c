// Package manifest stores the canonical, content-addressed summary of a
// completed run, persisted by workers alongside evidence packets.
package manifest

import (
	"context"
	"fmt"

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

func (s *Store) table() string { return s.cfg.TablePrefix + "_manifests" }

func manifestPK(tenantID string) string { return fmt.Sprintf("#manifest#%s", tenantID) }

// PutManifest writes or replaces a run's manifest.
func (s *Store) PutManifest(ctx context.Context, m *model.Manifest) error {
	if !s.cfg.Features.ManifestsEnabled {
		return apierr.New(apierr.FeatureDisabled, "manifests are disabled")
	}
	m.Defaulted()
	if err := registry.CallHooks(m); err != nil {
		return apierr.New(apierr.Internal, err.Error())
	}
	if err := s.store.Put(ctx, s.table(), m.PK, m.SK, m, store.Condition{Kind: store.NoCondition}); err != nil {
		return apierr.New(apierr.Internal, err.Error())
	}
	return nil
}

// GetRunManifest is a tenant-scoped lookup of one run's manifest.
func (s *Store) GetRunManifest(ctx context.Context, runID, tenantID string) (*model.Manifest, error) {
	if !s.cfg.Features.ManifestsEnabled {
		return nil, apierr.New(apierr.FeatureDisabled, "manifests are disabled")
	}
	var m model.Manifest
	found, err := s.store.Get(ctx, s.table(), manifestPK(tenantID), runID, &m)
	if err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}
	if !found {
		return nil, apierr.New(apierr.NotFound, "manifest not found")
	}
	return &m, nil
}

// ListArtifacts returns the outputs named in a run's manifest.
func (s *Store) ListArtifacts(ctx context.Context, runID, tenantID string) ([]model.ManifestOutput, error) {
	m, err := s.GetRunManifest(ctx, runID, tenantID)
	if err != nil {
		return nil, err
	}
	return m.Outputs, nil
}
