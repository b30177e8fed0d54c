package connector

import (
	"context"
	"testing"

	"github.com/jobforge/jobforge/pkg/canon"
	"github.com/stretchr/testify/require"
)

// helloWorldConnector is a deterministic fixture connector: it echoes its
// input back transformed, with no real side effect, for scenario S5.
func helloWorldConnector(ctx context.Context, input any) (any, Status, error) {
	in := input.(map[string]any)
	message, _ := in["message"].(string)
	echo, _ := in["echo"].(bool)
	delayMS, _ := in["delay_ms"].(int)

	data := map[string]any{
		"message":    message + " World!",
		"echoed":     echo,
		"delay_used": delayMS,
	}
	return data, Status{Code: 200}, nil
}

func TestRunHelloWorldIsDeterministic(t *testing.T) {
	input := map[string]any{"message": "Hello", "echo": true, "delay_ms": 0}

	r1 := Run(context.Background(), "hello-world", "trace-1", "tenant-1", "", input, DefaultPolicy(), nil, helloWorldConnector)
	r2 := Run(context.Background(), "hello-world", "trace-1", "tenant-1", "", input, DefaultPolicy(), nil, helloWorldConnector)

	require.True(t, r1.OK)
	require.True(t, r2.OK)
	require.Equal(t, r1.Evidence.EvidenceHash, r2.Evidence.EvidenceHash)

	wantHash, err := canon.Hash(map[string]any{
		"message":    "Hello World!",
		"echoed":     true,
		"delay_used": 0,
	})
	require.NoError(t, err)
	require.Equal(t, wantHash, r1.Evidence.OutputHash)
}

func TestRunRetriesOn5xxThenSucceeds(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context, input any) (any, Status, error) {
		calls++
		if calls < 3 {
			return nil, Status{Code: 503}, nil
		}
		return map[string]any{"ok": true}, Status{Code: 200}, nil
	}

	policy := DefaultPolicy()
	policy.MaxAttempts = 5
	policy.BaseDelayMS = 1
	policy.CapMS = 2

	r := Run(context.Background(), "flaky", "trace-1", "tenant-1", "", map[string]any{}, policy, nil, fn)
	require.True(t, r.OK)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, r.Evidence.Retries)
}

func TestRunStopsRetryingOnTerminal4xx(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context, input any) (any, Status, error) {
		calls++
		return nil, Status{Code: 422}, nil
	}

	r := Run(context.Background(), "bad-input", "trace-1", "tenant-1", "", map[string]any{}, DefaultPolicy(), nil, fn)
	require.False(t, r.OK)
	require.Equal(t, 1, calls)
	require.False(t, r.Error.Retryable)
}

func TestRunMarksRateLimitedOn429(t *testing.T) {
	fn := func(ctx context.Context, input any) (any, Status, error) {
		return nil, Status{Code: 429, RetryAfterMS: 1}, nil
	}

	policy := DefaultPolicy()
	policy.MaxAttempts = 1

	r := Run(context.Background(), "limited", "trace-1", "tenant-1", "", map[string]any{}, policy, nil, fn)
	require.False(t, r.OK)
	require.True(t, r.Evidence.RateLimited)
}
