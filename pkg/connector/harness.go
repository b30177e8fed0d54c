// Package connector runs a third-party side-effecting call under a
// retry/backoff/rate-limit policy and attaches an evidence packet: component
// E of the job forge execution plane.
package connector

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jobforge/jobforge/pkg/apierr"
	"github.com/jobforge/jobforge/pkg/evidence"
	"github.com/jobforge/jobforge/pkg/redact"
)

// Status is the outcome classification a connector function reports for
// one attempt.
type Status struct {
	Code         int
	RetryAfterMS int64
}

// Fn is a connector call. It must never panic; a returned err combined with
// a non-2xx Status drives retry classification.
type Fn func(ctx context.Context, input any) (data any, status Status, err error)

// Policy configures the attempt loop.
type Policy struct {
	MaxAttempts       int
	BaseDelayMS       int64
	Multiplier        float64
	CapMS             int64
	JitterFraction    float64
	PerAttemptTimeout time.Duration
	DryRun            bool
}

// DefaultPolicy matches the harness's documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelayMS:       200,
		Multiplier:        2.0,
		CapMS:             10_000,
		JitterFraction:    0.2,
		PerAttemptTimeout: 30 * time.Second,
	}
}

// Result is what Run returns. The harness never raises to the caller:
// failures are encoded here.
type Result struct {
	OK       bool
	Data     any
	Error    *apierr.Error
	Evidence *evidence.Packet
}

// Run executes fn under policy, attaching evidence built from connectorID,
// traceID, tenantID, projectID, and input.
func Run(ctx context.Context, connectorID, traceID, tenantID, projectID string, input any, policy Policy, redactor *redact.Redactor, fn Fn) *Result {
	b := evidence.NewBuilder(connectorID, traceID, tenantID, projectID, input, redactor)

	if policy.DryRun {
		data := map[string]any{"dry_run": true, "marker": "synthetic-success"}
		pkt, err := b.BuildSuccess(data)
		if err != nil {
			return &Result{Error: apierr.New(apierr.Internal, err.Error())}
		}
		return &Result{OK: true, Data: data, Evidence: pkt}
	}

	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastData any
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.PerAttemptTimeout)
		}
		data, status, err := fn(attemptCtx, input)
		if cancel != nil {
			cancel()
		}
		lastData = data

		if status.Code != 0 {
			b.RecordStatus(status.Code)
		}

		if err == nil && status.Code >= 200 && status.Code < 300 {
			pkt, herr := b.BuildSuccess(data)
			if herr != nil {
				return &Result{Error: apierr.New(apierr.Internal, herr.Error())}
			}
			return &Result{OK: true, Data: data, Evidence: pkt}
		}

		retryable, rateLimited, delayMS := classify(status, policy, attempt)
		if rateLimited {
			b.RecordRateLimit()
		}

		if !retryable || attempt == attempts {
			code := apierr.Internal
			switch {
			case rateLimited:
				code = apierr.RateLimited
			case status.Code >= 400 && status.Code < 500:
				code = apierr.Validation
			}
			msg := fmt.Sprintf("connector %s failed on attempt %d/%d: status=%d err=%v", connectorID, attempt, attempts, status.Code, err)
			apiErr := apierr.New(code, msg).WithRetryable(retryable && attempt != attempts)
			pkt, herr := b.BuildFailure(apiErr.Code, apiErr.Message, apiErr.Retryable, lastData)
			if herr != nil {
				return &Result{Error: apierr.New(apierr.Internal, herr.Error())}
			}
			return &Result{Error: apiErr, Evidence: pkt}
		}

		b.RecordRetry(delayMS)
		select {
		case <-time.After(time.Duration(delayMS) * time.Millisecond):
		case <-ctx.Done():
			pkt, herr := b.BuildFailure(apierr.Timeout, "context cancelled during backoff", false, nil)
			if herr != nil {
				return &Result{Error: apierr.New(apierr.Internal, herr.Error())}
			}
			return &Result{Error: apierr.New(apierr.Timeout, "context cancelled during backoff"), Evidence: pkt}
		}
	}

	// Unreachable: the loop above always returns by its last iteration.
	pkt, _ := b.BuildFailure(apierr.Internal, "exhausted attempts without resolution", false, lastData)
	return &Result{Error: apierr.New(apierr.Internal, "exhausted attempts without resolution"), Evidence: pkt}
}

// classify maps a connector's reported status to harness retry behavior:
// 2xx is handled by the caller before classify runs; 429 rate-limits,
// 5xx is retryable, other 4xx is terminal, anything else (e.g. a transport
// error with Code 0) is treated as retryable.
func classify(status Status, policy Policy, attempt int) (retryable, rateLimited bool, delayMS int64) {
	switch {
	case status.Code == 429:
		delay := status.RetryAfterMS
		if delay <= 0 {
			delay = backoff(policy, attempt)
		}
		return true, true, delay
	case status.Code >= 500:
		return true, false, backoff(policy, attempt)
	case status.Code >= 400:
		return false, false, 0
	default:
		return true, false, backoff(policy, attempt)
	}
}

func backoff(p Policy, attempt int) int64 {
	if p.BaseDelayMS <= 0 {
		p.BaseDelayMS = 200
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.CapMS <= 0 {
		p.CapMS = 10_000
	}
	base := float64(p.BaseDelayMS) * math.Pow(p.Multiplier, float64(attempt-1))
	if base > float64(p.CapMS) {
		base = float64(p.CapMS)
	}
	jitter := base * p.JitterFraction
	delta := (rand.Float64()*2 - 1) * jitter
	d := base + delta
	if d < 0 {
		d = 0
	}
	return int64(d)
}
