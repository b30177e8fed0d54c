package evidence

import (
	"testing"
	"time"

	"github.com/jobforge/jobforge/pkg/canon"
	"github.com/stretchr/testify/require"
)

func TestBuildSuccessIsDeterministicAcrossRuns(t *testing.T) {
	input := map[string]any{"url": "https://example.com", "api_key": "sk-123"}

	b1 := NewBuilder("http-fetch", "trace-1", "tenant-1", "", input, nil)
	b1.RecordStatus(200)
	p1, err := b1.BuildSuccess(map[string]any{"body": "ok"})
	require.NoError(t, err)

	b2 := NewBuilder("http-fetch", "trace-1", "tenant-1", "", input, nil)
	b2.RecordStatus(200)
	p2, err := b2.BuildSuccess(map[string]any{"body": "ok"})
	require.NoError(t, err)

	require.Equal(t, p1.EvidenceHash, p2.EvidenceHash)
	require.NotEqual(t, p1.EvidenceID, p2.EvidenceID)
}

func TestBuildRedactsInputBeforeHashing(t *testing.T) {
	b := NewBuilder("http-fetch", "trace-1", "tenant-1", "", map[string]any{"api_key": "sk-123"}, nil)
	p, err := b.BuildSuccess(map[string]any{"body": "ok"})
	require.NoError(t, err)

	redacted, ok := p.RedactedInput.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "[REDACTED:KEY]", redacted["api_key"])
}

func TestBuildFailureRecordsRetriesAndBackoff(t *testing.T) {
	b := NewBuilder("http-fetch", "trace-1", "tenant-1", "", map[string]any{}, nil)
	b.RecordRetry(100)
	b.RecordRetry(200)
	b.RecordRateLimit()

	p, err := b.BuildFailure("timeout", "upstream timed out", true, nil)
	require.NoError(t, err)
	require.False(t, p.OK)
	require.Equal(t, 2, p.Retries)
	require.Equal(t, []int64{100, 200}, p.BackoffDelaysMS)
	require.True(t, p.RateLimited)
	require.NotNil(t, p.Error)
	require.True(t, p.Error.Retryable)
}

func TestEvidenceHashExcludesWallClockFields(t *testing.T) {
	b := NewBuilder("http-fetch", "trace-1", "tenant-1", "", map[string]any{}, nil)
	p, err := b.BuildSuccess(map[string]any{"body": "ok"})
	require.NoError(t, err)

	mutated := *p
	mutated.StartedAt = mutated.StartedAt.Add(-time.Hour)
	mutated.EndedAt = mutated.EndedAt.Add(time.Hour)
	mutated.DurationMS += 999
	mutated.EvidenceID = "different-id"

	reHash, err := canon.Hash(projection(&mutated))
	require.NoError(t, err)
	require.Equal(t, p.EvidenceHash, reHash)
}
