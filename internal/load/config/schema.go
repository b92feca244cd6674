// Package config provides configuration parsing and validation for an auth
// stress run.
package config

import (
	"time"
)

// TestConfig is the root configuration for a run.
//
// Example YAML:
//
//	name: "auth smoke"
//	target:
//	  baseUrl: "http://localhost:3000"
//	  timeout: 30s
//	load:
//	  executor: constant-vus
//	  vus: 10
//	  duration: 30s
//	scenario:
//	  registerRatio: 0.1
//	  thinkTimeMin: 2s
//	  thinkTimeMax: 12s
//	thresholds:
//	  http_req_duration:
//	    - "p95 < 500ms"
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Target describes the authentication service under test
	Target TargetConfig `json:"target,omitempty" yaml:"target,omitempty"`

	// Load defines how many virtual users run and for how long
	Load LoadSettings `json:"load,omitempty" yaml:"load,omitempty"`

	// Credentials shapes generated passwords
	Credentials CredentialsConfig `json:"credentials,omitempty" yaml:"credentials,omitempty"`

	// Scenario controls the per-iteration branch and pacing
	Scenario ScenarioConfig `json:"scenario,omitempty" yaml:"scenario,omitempty"`

	// Store selects where registered credentials are kept
	Store StoreConfig `json:"store,omitempty" yaml:"store,omitempty"`

	// Thresholds define pass/fail criteria for metrics
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Metrics configures live metric export
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// Log configures the logger
	Log LogConfig `json:"log,omitempty" yaml:"log,omitempty"`
}

// TargetConfig describes the service under test and the HTTP transport.
type TargetConfig struct {
	// BaseURL is the scheme and host of the service
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout bounds each request, including reading the body
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RegisterPath and LoginPath override the endpoint paths
	RegisterPath string `json:"registerPath,omitempty" yaml:"registerPath,omitempty"`
	LoginPath    string `json:"loginPath,omitempty" yaml:"loginPath,omitempty"`

	// MaxConnectionsPerHost limits connections per host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// LoadSettings defines the load profile.
type LoadSettings struct {
	// Executor specifies the load generation strategy
	// Options: "constant-vus", "ramping-vus"
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`

	// VUs is the number of virtual users (constant-vus)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long to run (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages defines ramping stages (ramping-vus)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is how long to wait for iterations to finish
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// CredentialsConfig shapes generated passwords. Zero values mean default.
type CredentialsConfig struct {
	PasswordMinLength int `json:"passwordMinLength,omitempty" yaml:"passwordMinLength,omitempty"`
	PasswordMaxLength int `json:"passwordMaxLength,omitempty" yaml:"passwordMaxLength,omitempty"`

	// MemorableRatio is a pointer so that an explicit 0 survives defaults
	MemorableRatio *float64 `json:"memorableRatio,omitempty" yaml:"memorableRatio,omitempty"`

	// Seed makes credential generation reproducible (0 = random)
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// ScenarioConfig controls each iteration.
type ScenarioConfig struct {
	// RegisterRatio is the probability of the register-then-login branch
	RegisterRatio *float64 `json:"registerRatio,omitempty" yaml:"registerRatio,omitempty"`

	// ThinkTimeMin and ThinkTimeMax bound the pause between register and login
	ThinkTimeMin string `json:"thinkTimeMin,omitempty" yaml:"thinkTimeMin,omitempty"`
	ThinkTimeMax string `json:"thinkTimeMax,omitempty" yaml:"thinkTimeMax,omitempty"`
}

// Store types.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// StoreConfig selects the credential store.
type StoreConfig struct {
	// Type is "memory" (default) or "redis"
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	Redis RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis credential store.
type RedisConfig struct {
	Addr      string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty" yaml:"keyPrefix,omitempty"`

	// RunID names the shared credential pool. Processes given the same
	// RunID share registered users. Empty means a fresh pool per run.
	RunID string `json:"runId,omitempty" yaml:"runId,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the run.
type ThresholdsConfig struct {
	// HTTPReqDuration thresholds for request duration
	// e.g., ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds for failure rate
	// e.g., ["rate < 0.01"] (less than 1% failures)
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// Checks thresholds for the check pass rate
	// e.g., ["rate > 0.99"]
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	// PrometheusAddr is the listen address for /metrics; empty disables it
	PrometheusAddr string `json:"prometheusAddr,omitempty" yaml:"prometheusAddr,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	JSON  bool   `json:"json,omitempty" yaml:"json,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
