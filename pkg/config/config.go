// Package config builds the process's one immutable configuration value.
// No component below it reads environment variables or holds a mutable
// package-level global; everything is read once in Load and injected into
// constructors from there.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FeatureFlags gates entire endpoint groups off by default, per spec §6.
type FeatureFlags struct {
	EventsEnabled        bool
	TriggersEnabled      bool
	AutopilotJobsEnabled bool
	ActionJobsEnabled    bool
	ManifestsEnabled     bool
	AuditLoggingEnabled  bool
}

// Backoff configures CompleteJob's retry delay. The connector harness does
// not read it; its DefaultPolicy carries its own values.
type Backoff struct {
	BaseDelayMS    int64
	Multiplier     float64
	CapMS          int64
	JitterFraction float64
}

// Config is the full set of values every component constructor needs.
type Config struct {
	Features FeatureFlags
	Backoff  Backoff

	LeaseDuration       time.Duration
	ClaimFetchQuota     int // per-tenant cap per ClaimJobs call, for fairness
	MaxEventPayloadSize int

	TablePrefix string
	AWSRegion   string
	AWSEndpoint string // non-empty only for local/dev (e.g. DynamoDB Local)

	HTTPListenAddr string
}

// Load builds Config from the environment (JOBFORGE_ prefixed), falling
// back to the documented defaults for anything unset. A config file at
// the given path, if non-empty, is merged in before the environment so
// env vars still win — the precedence viper itself provides.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("jobforge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("features.events_enabled", false)
	v.SetDefault("features.triggers_enabled", false)
	v.SetDefault("features.autopilot_jobs_enabled", false)
	v.SetDefault("features.action_jobs_enabled", false)
	v.SetDefault("features.manifests_enabled", false)
	v.SetDefault("features.audit_logging_enabled", false)

	v.SetDefault("backoff.base_delay_ms", 200)
	v.SetDefault("backoff.multiplier", 2.0)
	v.SetDefault("backoff.cap_ms", 10_000)
	v.SetDefault("backoff.jitter_fraction", 0.2)

	v.SetDefault("lease_duration_seconds", 60)
	v.SetDefault("claim_fetch_quota", 10)
	v.SetDefault("max_event_payload_bytes", 256*1024)

	v.SetDefault("table_prefix", "jobforge")
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("aws_endpoint", "")

	v.SetDefault("http_listen_addr", ":8080")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	return Config{
		Features: FeatureFlags{
			EventsEnabled:        v.GetBool("features.events_enabled"),
			TriggersEnabled:      v.GetBool("features.triggers_enabled"),
			AutopilotJobsEnabled: v.GetBool("features.autopilot_jobs_enabled"),
			ActionJobsEnabled:    v.GetBool("features.action_jobs_enabled"),
			ManifestsEnabled:     v.GetBool("features.manifests_enabled"),
			AuditLoggingEnabled:  v.GetBool("features.audit_logging_enabled"),
		},
		Backoff: Backoff{
			BaseDelayMS:    v.GetInt64("backoff.base_delay_ms"),
			Multiplier:     v.GetFloat64("backoff.multiplier"),
			CapMS:          v.GetInt64("backoff.cap_ms"),
			JitterFraction: v.GetFloat64("backoff.jitter_fraction"),
		},
		LeaseDuration:       time.Duration(v.GetInt64("lease_duration_seconds")) * time.Second,
		ClaimFetchQuota:     v.GetInt("claim_fetch_quota"),
		MaxEventPayloadSize: v.GetInt("max_event_payload_bytes"),
		TablePrefix:         v.GetString("table_prefix"),
		AWSRegion:           v.GetString("aws_region"),
		AWSEndpoint:         v.GetString("aws_endpoint"),
		HTTPListenAddr:      v.GetString("http_listen_addr"),
	}, nil
}
