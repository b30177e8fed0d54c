package model

import (
	"fmt"
	"time"

	"github.com/jobforge/jobforge/pkg/registry"
)

func init() {
	registry.Registry.MustRegisterModel(&PolicyToken{})
}

// PolicyToken grants a tenant's action-class job request the capability to
// run, optionally for one use only.
type PolicyToken struct {
	registry.BaseModel
	Token      string     `dynamodbav:"token" json:"token" desc:"Opaque token bytes, the row's identity."`
	TenantID   string     `dynamodbav:"tenant_id" json:"tenant_id"`
	Scopes     []string   `dynamodbav:"scopes" json:"scopes"`
	IssuedAt   time.Time  `dynamodbav:"issued_at" json:"issued_at"`
	ExpiresAt  time.Time  `dynamodbav:"expires_at" json:"expires_at"`
	SingleUse  bool       `dynamodbav:"single_use" json:"single_use"`
	ConsumedAt *time.Time `dynamodbav:"consumed_at,omitempty" json:"consumed_at,omitempty"`

	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`
}

func (p *PolicyToken) GetDescription() string {
	return "A capability token gating an action-class template's compilation into a job."
}

func (p *PolicyToken) GetKey() string {
	return fmt.Sprintf("#policy_token#%s#%s", p.TenantID, p.Token)
}

func (p *PolicyToken) Defaulted() {
	if p.IssuedAt.IsZero() {
		p.IssuedAt = time.Now().UTC()
	}
}

func (p *PolicyToken) GetHooks() []registry.Hook {
	return []registry.Hook{
		{
			Call: func() error {
				p.PK = fmt.Sprintf("#policy_token#%s", p.TenantID)
				p.SK = p.Token
				return nil
			},
		},
	}
}

// Expired reports whether the token's validity window has passed as of now.
func (p *PolicyToken) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Consumed reports whether a single-use token has already been spent.
func (p *PolicyToken) Consumed() bool {
	return p.ConsumedAt != nil
}

// HasScopes reports whether the token covers every scope in required.
func (p *PolicyToken) HasScopes(required []string) bool {
	have := make(map[string]bool, len(p.Scopes))
	for _, s := range p.Scopes {
		have[s] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}
