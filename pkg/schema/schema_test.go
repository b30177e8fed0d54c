package schema

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/require"
)

func TestGenerateOpenAPISchemaCoversRegisteredModels(t *testing.T) {
	doc, err := GenerateOpenAPISchema()
	require.NoError(t, err)
	require.Equal(t, "3.1.0", doc.OpenAPI)
	require.Equal(t, DocVersion, doc.Info.Version)

	jobSchema, ok := doc.Components.Schemas["job"]
	require.True(t, ok, "job model must produce a schema entry")
	require.NotNil(t, jobSchema.Value)
	require.Equal(t, "A unit of work accepted into a tenant's queue, tracked through claim, lease, and completion.", jobSchema.Value.Description)

	// PK/SK are json:"-" and must never leak into the public document —
	// they are a storage-layer detail, not part of the wire shape.
	_, hasPK := jobSchema.Value.Properties["pk"]
	require.False(t, hasPK)
	_, hasSK := jobSchema.Value.Properties["sk"]
	require.False(t, hasSK)

	idProp, ok := jobSchema.Value.Properties["id"]
	require.True(t, ok)
	require.Equal(t, openapi3.Types{"string"}, *idProp.Value.Type)
	require.Contains(t, jobSchema.Value.Required, "id")

	// idempotency_key is omitempty and must not be required.
	require.NotContains(t, jobSchema.Value.Required, "idempotency_key")

	policySchema, ok := doc.Components.Schemas["policytoken"]
	require.True(t, ok, "policy token model must produce a schema entry")
	require.NotNil(t, policySchema.Value)
}

func TestGenerateOpenAPISchemaIsDeterministic(t *testing.T) {
	first, err := GenerateOpenAPISchema()
	require.NoError(t, err)
	second, err := GenerateOpenAPISchema()
	require.NoError(t, err)

	jobFirst := first.Components.Schemas["job"].Value
	jobSecond := second.Components.Schemas["job"].Value
	require.Equal(t, jobFirst.Required, jobSecond.Required, "required-field ordering must be stable across calls")
}
