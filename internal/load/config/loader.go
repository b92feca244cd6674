package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultName          = "authstress"
	DefaultBaseURL       = "http://localhost:3000"
	DefaultTimeout       = 30 * time.Second
	DefaultExecutor      = "constant-vus"
	DefaultVUs           = 10
	DefaultDuration      = "30s"
	DefaultRegisterRatio = 0.10
	DefaultThinkTimeMin  = "2s"
	DefaultThinkTimeMax  = "12s"
	DefaultLogLevel      = "info"
	DefaultKeyPrefix     = "authstress"
	DefaultRedisAddr     = "localhost:6379"
)

// DefaultThresholds are the pass criteria used when none are configured.
func DefaultThresholds() *ThresholdsConfig {
	return &ThresholdsConfig{
		HTTPReqDuration: []string{"p95 < 500ms"},
		HTTPReqFailed:   []string{"rate < 0.01"},
		Checks:          []string{"rate > 0.99"},
	}
}

// LoadConfig reads and parses a config file. The format follows the
// extension: .json is JSON, anything else YAML.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses config data. path is only used to pick the format.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	cfg := &TestConfig{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return cfg, nil
}

// ParseDurationString parses "30s"-style durations. A bare integer is
// seconds and the empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// ApplyDefaults fills in every unset field.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	if cfg.Target.BaseURL == "" {
		cfg.Target.BaseURL = DefaultBaseURL
	}
	if cfg.Target.Timeout == 0 {
		cfg.Target.Timeout = Duration(DefaultTimeout)
	}
	if cfg.Target.RegisterPath == "" {
		cfg.Target.RegisterPath = "/auth/register"
	}
	if cfg.Target.LoginPath == "" {
		cfg.Target.LoginPath = "/auth/login"
	}

	if cfg.Load.Executor == "" {
		if len(cfg.Load.Stages) > 0 {
			cfg.Load.Executor = "ramping-vus"
		} else {
			cfg.Load.Executor = DefaultExecutor
		}
	}
	if cfg.Load.Executor == "constant-vus" {
		if cfg.Load.VUs == 0 {
			cfg.Load.VUs = DefaultVUs
		}
		if cfg.Load.Duration == "" {
			cfg.Load.Duration = DefaultDuration
		}
	}

	if cfg.Credentials.PasswordMinLength == 0 {
		cfg.Credentials.PasswordMinLength = 8
	}
	if cfg.Credentials.PasswordMaxLength == 0 {
		cfg.Credentials.PasswordMaxLength = max(100, cfg.Credentials.PasswordMinLength)
	}
	if cfg.Credentials.MemorableRatio == nil {
		cfg.Credentials.MemorableRatio = float64Ptr(0.5)
	}

	if cfg.Scenario.RegisterRatio == nil {
		cfg.Scenario.RegisterRatio = float64Ptr(DefaultRegisterRatio)
	}
	if cfg.Scenario.ThinkTimeMin == "" {
		cfg.Scenario.ThinkTimeMin = DefaultThinkTimeMin
	}
	if cfg.Scenario.ThinkTimeMax == "" {
		cfg.Scenario.ThinkTimeMax = DefaultThinkTimeMax
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = StoreMemory
		if cfg.Store.Redis.Addr != "" {
			cfg.Store.Type = StoreRedis
		}
	}
	if cfg.Store.Type == StoreRedis {
		if cfg.Store.Redis.Addr == "" {
			cfg.Store.Redis.Addr = DefaultRedisAddr
		}
		if cfg.Store.Redis.KeyPrefix == "" {
			cfg.Store.Redis.KeyPrefix = DefaultKeyPrefix
		}
	}

	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func float64Ptr(v float64) *float64 {
	return &v
}

// ThinkTimes returns the parsed think-time bounds.
func (s *ScenarioConfig) ThinkTimes() (minThink, maxThink time.Duration, err error) {
	if minThink, err = ParseDurationString(s.ThinkTimeMin); err != nil {
		return 0, 0, fmt.Errorf("thinkTimeMin: %w", err)
	}
	if maxThink, err = ParseDurationString(s.ThinkTimeMax); err != nil {
		return 0, 0, fmt.Errorf("thinkTimeMax: %w", err)
	}
	return minThink, maxThink, nil
}
