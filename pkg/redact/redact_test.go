package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactMasksDenylistedMapKeys(t *testing.T) {
	r := New()
	out := r.Redact(map[string]any{
		"password": "hunter2",
		"username":  "alice",
	})
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED:AUTH]", m["password"])
	assert.Equal(t, "alice", m["username"])
}

func TestRedactMasksStructFieldsByJSONTag(t *testing.T) {
	type creds struct {
		APIKey string `json:"api_key"`
		Host   string `json:"host"`
	}
	r := New()
	out := r.Redact(creds{APIKey: "sk-abc", Host: "example.com"})
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED:KEY]", m["api_key"])
	assert.Equal(t, "example.com", m["host"])
}

func TestRedactDoesNotMutateInput(t *testing.T) {
	r := New()
	in := map[string]any{"token": "abc123"}
	_ = r.Redact(in)
	assert.Equal(t, "abc123", in["token"])
}

func TestRedactCapsDepth(t *testing.T) {
	r := &Redactor{Denylist: DefaultDenylist, MaxDepth: 1}
	nested := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}
	out := r.Redact(nested)
	m := out.(map[string]any)
	inner := m["a"].(map[string]any)
	assert.Equal(t, depthSentinel, inner["b"])
}

func TestRedactAllowlistRedactsEverythingElse(t *testing.T) {
	r := &Redactor{Denylist: DefaultDenylist, Allowlist: []string{"host"}}
	out := r.Redact(map[string]any{"host": "example.com", "note": "hello"})
	m := out.(map[string]any)
	assert.Equal(t, "example.com", m["host"])
	assert.Equal(t, "[REDACTED]", m["note"])
}

func TestScanFindsUnredactedSecrets(t *testing.T) {
	leaks := Scan(map[string]any{"password": "plaintext-leak"}, DefaultDenylist)
	assert.Contains(t, leaks, "$.password")
}

func TestScanIgnoresAlreadyRedactedMarkers(t *testing.T) {
	leaks := Scan(map[string]any{"password": "[REDACTED:AUTH]"}, DefaultDenylist)
	assert.Empty(t, leaks)
}
