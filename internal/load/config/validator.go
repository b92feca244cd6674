package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field names of all errors, in order.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		fields[i] = err.Field
	}
	return fields
}

// Validate validates the entire configuration. Call it after ApplyDefaults.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(&c.Target, errs)
	validateLoad(&c.Load, errs)
	validateCredentials(&c.Credentials, errs)
	validateScenario(&c.Scenario, errs)
	validateStore(&c.Store, errs)

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			errs.Add("log.level", err.Error())
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	if t.BaseURL == "" {
		errs.Add("target.baseUrl", "baseUrl is required")
	} else if u, err := url.Parse(t.BaseURL); err != nil {
		errs.Add("target.baseUrl", fmt.Sprintf("invalid URL: %v", err))
	} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add("target.baseUrl", "must be an absolute http(s) URL")
	}

	if t.Timeout < 0 {
		errs.Add("target.timeout", "cannot be negative")
	}
	if t.MaxConnectionsPerHost < 0 {
		errs.Add("target.maxConnectionsPerHost", "cannot be negative")
	}
	for field, path := range map[string]string{"target.registerPath": t.RegisterPath, "target.loginPath": t.LoginPath} {
		if path != "" && !strings.HasPrefix(path, "/") {
			errs.Add(field, "must start with '/'")
		}
	}
}

func validateLoad(l *LoadSettings, errs *ValidationErrors) {
	switch l.Executor {
	case "constant-vus":
		if l.VUs <= 0 {
			errs.Add("load.vus", "vus must be greater than 0")
		}
		if l.Duration == "" {
			errs.Add("load.duration", "duration is required for constant-vus executor")
		} else if d, err := ParseDurationString(l.Duration); err != nil {
			errs.Add("load.duration", err.Error())
		} else if d <= 0 {
			errs.Add("load.duration", "duration must be greater than 0")
		}

	case "ramping-vus":
		if len(l.Stages) == 0 {
			errs.Add("load.stages", "at least one stage is required for ramping-vus executor")
		}

	case "":
		errs.Add("load.executor", "executor type is required")

	default:
		errs.Add("load.executor", fmt.Sprintf("unknown executor type: %s", l.Executor))
	}

	for i, stage := range l.Stages {
		prefix := fmt.Sprintf("load.stages[%d]", i)
		if stage.Duration == "" {
			errs.Add(prefix+".duration", "duration is required")
		} else if d, err := ParseDurationString(stage.Duration); err != nil {
			errs.Add(prefix+".duration", err.Error())
		} else if d <= 0 {
			errs.Add(prefix+".duration", "duration must be greater than 0")
		}
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
	}

	if l.GracefulStop != "" {
		if d, err := ParseDurationString(l.GracefulStop); err != nil {
			errs.Add("load.gracefulStop", err.Error())
		} else if d < 0 {
			errs.Add("load.gracefulStop", "cannot be negative")
		}
	}
}

func validateCredentials(c *CredentialsConfig, errs *ValidationErrors) {
	if c.PasswordMinLength < 8 {
		errs.Add("credentials.passwordMinLength", "must be at least 8, the service rejects shorter passwords")
	}
	if c.PasswordMaxLength < c.PasswordMinLength {
		errs.Add("credentials.passwordMaxLength", "must be >= passwordMinLength")
	}
	if c.MemorableRatio != nil && (*c.MemorableRatio < 0 || *c.MemorableRatio > 1) {
		errs.Add("credentials.memorableRatio", "must be within [0, 1]")
	}
}

func validateScenario(s *ScenarioConfig, errs *ValidationErrors) {
	if s.RegisterRatio != nil && (*s.RegisterRatio < 0 || *s.RegisterRatio > 1) {
		errs.Add("scenario.registerRatio", "must be within [0, 1]")
	}

	minThink, minErr := ParseDurationString(s.ThinkTimeMin)
	if minErr != nil {
		errs.Add("scenario.thinkTimeMin", minErr.Error())
	} else if minThink < 0 {
		errs.Add("scenario.thinkTimeMin", "cannot be negative")
	}

	maxThink, maxErr := ParseDurationString(s.ThinkTimeMax)
	if maxErr != nil {
		errs.Add("scenario.thinkTimeMax", maxErr.Error())
	}

	if minErr == nil && maxErr == nil && maxThink < minThink {
		errs.Add("scenario.thinkTimeMax", "must be >= thinkTimeMin")
	}
}

func validateStore(s *StoreConfig, errs *ValidationErrors) {
	switch s.Type {
	case StoreMemory:
	case StoreRedis:
		if s.Redis.Addr == "" {
			errs.Add("store.redis.addr", "addr is required for the redis store")
		}
		if s.Redis.DB < 0 {
			errs.Add("store.redis.db", "cannot be negative")
		}
	default:
		errs.Add("store.type", fmt.Sprintf("unknown store type %q (want memory or redis)", s.Type))
	}
}

// validateThresholds validates threshold configuration.
func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	for i, threshold := range t.HTTPReqDuration {
		if err := validateThresholdExpression(threshold); err != nil {
			errs.Add(fmt.Sprintf("thresholds.http_req_duration[%d]", i), err.Error())
		}
	}

	for i, threshold := range t.HTTPReqFailed {
		if err := validateThresholdExpression(threshold); err != nil {
			errs.Add(fmt.Sprintf("thresholds.http_req_failed[%d]", i), err.Error())
		}
	}

	for i, threshold := range t.Checks {
		if err := validateThresholdExpression(threshold); err != nil {
			errs.Add(fmt.Sprintf("thresholds.checks[%d]", i), err.Error())
		}
	}
}

// validateThresholdExpression validates a threshold expression.
//
// Valid formats:
//   - "p95 < 500ms"
//   - "avg < 200ms"
//   - "rate < 0.01"
//   - "count > 1000"
func validateThresholdExpression(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("threshold expression cannot be empty")
	}

	validMetrics := []string{"p50", "p90", "p95", "p99", "min", "max", "avg", "med", "rate", "count"}

	found := false
	for _, metric := range validMetrics {
		if strings.HasPrefix(expr, metric) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("threshold must start with a valid metric (p50, p90, p95, p99, min, max, avg, med, rate, count)")
	}

	if !strings.ContainsAny(expr, "<>=!") {
		return fmt.Errorf("threshold must contain a comparison operator (<, >, <=, >=, ==, !=)")
	}

	return nil
}
