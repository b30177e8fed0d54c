// Package policy is the policy gate: component I of the job forge
// execution plane. It validates capability tokens for action-class jobs.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/model"
	"github.com/jobforge/jobforge/pkg/store"
)

type Gate struct {
	store store.Store
	cfg   config.Config
}

func New(st store.Store, cfg config.Config) *Gate {
	return &Gate{store: st, cfg: cfg}
}

func (g *Gate) table() string { return g.cfg.TablePrefix + "_policy_tokens" }

func tokenPK(tenantID string) string { return fmt.Sprintf("#policy_token#%s", tenantID) }

// ValidatePolicyToken rejects a token that does not exist, belongs to
// another tenant, has expired, lacks a required scope, or — if single-use
// — was already consumed. On success a single-use token is atomically
// marked consumed so it is never reused.
func (g *Gate) ValidatePolicyToken(ctx context.Context, token, tenantID string, requiredScopes []string) (*model.PolicyToken, error) {
	var pt model.PolicyToken
	found, err := g.store.Get(ctx, g.table(), tokenPK(tenantID), token, &pt)
	if err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}
	if !found {
		return nil, apierr.New(apierr.PolicyDenied, "token not found")
	}
	if pt.TenantID != tenantID {
		return nil, apierr.New(apierr.PolicyDenied, "token belongs to a different tenant")
	}
	now := time.Now().UTC()
	if pt.Expired(now) {
		return nil, apierr.New(apierr.PolicyDenied, "token has expired")
	}
	if !pt.HasScopes(requiredScopes) {
		return nil, apierr.New(apierr.PolicyDenied, "token does not cover the required scopes")
	}
	if pt.SingleUse && pt.Consumed() {
		return nil, apierr.New(apierr.PolicyDenied, "single-use token already consumed")
	}

	if pt.SingleUse {
		consumedAt := now
		pt.ConsumedAt = &consumedAt
		err := g.store.Put(ctx, g.table(), tokenPK(tenantID), token, &pt, store.Condition{
			Kind: store.AttrEquals, Attr: "consumed_at", Value: nil,
		})
		if err != nil {
			if _, ok := err.(*store.ErrConditionFailed); ok {
				return nil, apierr.New(apierr.PolicyDenied, "single-use token already consumed")
			}
			return nil, apierr.New(apierr.Internal, err.Error())
		}
	}

	return &pt, nil
}

// IssueToken creates a new policy token row.
func (g *Gate) IssueToken(ctx context.Context, tenantID string, scopes []string, ttl time.Duration, singleUse bool) (*model.PolicyToken, error) {
	pt := &model.PolicyToken{
		Token:     uuid.NewString(),
		TenantID:  tenantID,
		Scopes:    scopes,
		ExpiresAt: time.Now().UTC().Add(ttl),
		SingleUse: singleUse,
	}
	pt.Defaulted()
	pt.PK = tokenPK(tenantID)
	pt.SK = pt.Token

	if err := g.store.Put(ctx, g.table(), pt.PK, pt.SK, pt, store.Condition{Kind: store.AttrNotExists}); err != nil {
		return nil, apierr.New(apierr.Internal, err.Error())
	}
	return pt, nil
}
