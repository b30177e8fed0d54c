package model

import (
	"fmt"

	"github.com/jobforge/jobforge/pkg/registry"
)

// Cost tiers a template may declare.
const (
	CostLow    = "low"
	CostMedium = "medium"
	CostHigh   = "high"
)

// Template categories.
const (
	CategoryOps     = "ops"
	CategorySupport = "support"
	CategoryGrowth  = "growth"
	CategoryFinops  = "finops"
	CategoryCore    = "core"
)

func init() {
	registry.Registry.MustRegisterModel(&Template{})
}

// Template is a named, versioned job specification — the sole way to
// create autopilot jobs via RequestJob.
type Template struct {
	registry.BaseModel
	TemplateKey         string   `dynamodbav:"template_key" json:"template_key" desc:"Unique template identifier." example:"autopilot.ops.apply"`
	Version             string   `dynamodbav:"version" json:"version" example:"1.0.0"`
	Category            string   `dynamodbav:"category" json:"category" example:"ops"`
	InputSchema         string   `dynamodbav:"input_schema" json:"input_schema" desc:"Registered schema name validating inputs."`
	OutputSchema        string   `dynamodbav:"output_schema,omitempty" json:"output_schema,omitempty"`
	RequiredScopes      []string `dynamodbav:"required_scopes,omitempty" json:"required_scopes,omitempty"`
	RequiredConnectors  []string `dynamodbav:"required_connectors,omitempty" json:"required_connectors,omitempty"`
	EstimatedCostTier   string   `dynamodbav:"estimated_cost_tier" json:"estimated_cost_tier" example:"low"`
	DefaultMaxAttempts  int      `dynamodbav:"default_max_attempts" json:"default_max_attempts"`
	DefaultTimeoutMS    int64    `dynamodbav:"default_timeout_ms" json:"default_timeout_ms"`
	IsActionJob         bool     `dynamodbav:"is_action_job" json:"is_action_job" desc:"True if this template requires a policy token to compile."`
	Enabled             bool     `dynamodbav:"enabled" json:"enabled"`

	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`
}

func (t *Template) GetDescription() string {
	return "A versioned, schema-validated job specification that RequestJob compiles into enqueued jobs."
}

func (t *Template) GetKey() string {
	return fmt.Sprintf("#template#%s", t.TemplateKey)
}

func (t *Template) Defaulted() {
	if t.DefaultMaxAttempts == 0 {
		t.DefaultMaxAttempts = DefaultMaxAttempts
	}
	if t.EstimatedCostTier == "" {
		t.EstimatedCostTier = CostLow
	}
}

func (t *Template) GetHooks() []registry.Hook {
	return []registry.Hook{
		{
			Call: func() error {
				t.PK = "#template"
				t.SK = t.TemplateKey
				return nil
			},
		},
	}
}
