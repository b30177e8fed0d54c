package schema

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsConformingPayload(t *testing.T) {
	r := NewRegistry()
	r.Register("widget.create", "v1", NewEnvelopeSchema(map[string]*openapi3.Schema{
		"name": StringSchema(),
	}, []string{"name"}))

	msgs, err := r.Validate("widget.create", []byte(`{"name":"gadget"}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	r := NewRegistry()
	r.Register("widget.create", "v1", NewEnvelopeSchema(map[string]*openapi3.Schema{
		"name": StringSchema(),
	}, []string{"name"}))

	msgs, err := r.Validate("widget.create", []byte(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
}

func TestValidateRejectsAdditionalProperties(t *testing.T) {
	r := NewRegistry()
	r.Register("widget.create", "v1", NewEnvelopeSchema(map[string]*openapi3.Schema{
		"name": StringSchema(),
	}, []string{"name"}))

	msgs, err := r.Validate("widget.create", []byte(`{"name":"gadget","extra":true}`))
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
}

func TestValidateUnknownSchemaNameErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Validate("does.not.exist", []byte(`{}`))
	require.Error(t, err)
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	r := NewRegistry()
	r.Register("widget.create", "v1", NewEnvelopeSchema(map[string]*openapi3.Schema{}, nil))

	msgs, err := r.Validate("widget.create", []byte(`not json`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
