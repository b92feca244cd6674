package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/authstress/internal/load/config"
	"github.com/wesleyorama2/authstress/internal/mockauth"
)

func TestParseStages(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantErr    bool
		wantCount  int
		wantTarget []int
	}{
		{name: "Single stage", input: "30s:10", wantCount: 1, wantTarget: []int{10}},
		{name: "Ramp up and down", input: "30s:10,2m:50,30s:0", wantCount: 3, wantTarget: []int{10, 50, 0}},
		{name: "Spaces and trailing comma", input: " 10s:5 , 20s:5 ,", wantCount: 2, wantTarget: []int{5, 5}},
		{name: "Bare seconds", input: "30:10", wantCount: 1, wantTarget: []int{10}},
		{name: "Missing colon", input: "30s", wantErr: true},
		{name: "Invalid duration", input: "abc:10", wantErr: true},
		{name: "Invalid target", input: "30s:many", wantErr: true},
		{name: "Empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages, err := parseStages(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseStages(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(stages) != tt.wantCount {
				t.Fatalf("got %d stages, want %d", len(stages), tt.wantCount)
			}
			for i, want := range tt.wantTarget {
				if stages[i].Target != want {
					t.Errorf("stage %d target = %d, want %d", i, stages[i].Target, want)
				}
			}
			if stages[0].Name != "stage-1" {
				t.Errorf("stage name = %q, want stage-1", stages[0].Name)
			}
		})
	}
}

func TestParseThinkTime(t *testing.T) {
	tests := []struct {
		input   string
		wantMin string
		wantMax string
		wantErr bool
	}{
		{"2s:12s", "2s", "12s", false},
		{"0s:5ms", "0s", "5ms", false},
		{"1s", "1s", "1s", false},
		{"fast:slow", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			gotMin, gotMax, err := parseThinkTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseThinkTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if gotMin != tt.wantMin || gotMax != tt.wantMax {
				t.Errorf("parseThinkTime(%q) = %q, %q, want %q, %q", tt.input, gotMin, gotMax, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func parsedRunCmd(t *testing.T, args ...string) *config.TestConfig {
	t.Helper()
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags(args))
	cfg, err := buildConfig(cmd)
	require.NoError(t, err)
	return cfg
}

func TestBuildConfig_Flags(t *testing.T) {
	cfg := parsedRunCmd(t,
		"--base-url", "http://auth.internal:8080",
		"--vus", "25",
		"--duration", "2m",
		"--register-ratio", "0",
		"--think-time", "1s:3s",
		"--redis-addr", "redis:6379",
		"--run-id", "shared",
		"--seed", "9",
		"--log-level", "debug",
	)

	assert.Equal(t, "http://auth.internal:8080", cfg.Target.BaseURL)
	assert.Equal(t, "constant-vus", cfg.Load.Executor)
	assert.Equal(t, 25, cfg.Load.VUs)
	assert.Equal(t, "2m", cfg.Load.Duration)
	require.NotNil(t, cfg.Scenario.RegisterRatio)
	assert.Zero(t, *cfg.Scenario.RegisterRatio, "an explicit 0 ratio is kept")
	assert.Equal(t, "1s", cfg.Scenario.ThinkTimeMin)
	assert.Equal(t, "3s", cfg.Scenario.ThinkTimeMax)
	assert.Equal(t, config.StoreRedis, cfg.Store.Type)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "shared", cfg.Store.Redis.RunID)
	assert.Equal(t, uint64(9), cfg.Credentials.Seed)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestBuildConfig_Unset(t *testing.T) {
	cfg := parsedRunCmd(t)

	assert.Empty(t, cfg.Target.BaseURL)
	assert.Nil(t, cfg.Scenario.RegisterRatio, "unset flags leave defaults to the config layer")
	assert.Empty(t, cfg.Store.Type)
}

func TestBuildConfig_Stages(t *testing.T) {
	cfg := parsedRunCmd(t, "--stages", "10s:5,20s:0")

	assert.Equal(t, "ramping-vus", cfg.Load.Executor)
	assert.Len(t, cfg.Load.Stages, 2)

	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--stages", "nonsense"}))
	_, err := buildConfig(cmd)
	assert.Error(t, err)
}

func TestBuildConfig_FileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: file run
target:
  baseUrl: http://from-file:3000
load:
  vus: 3
  duration: 10s
scenario:
  registerRatio: 0.3
`), 0o644))

	cfg := parsedRunCmd(t, "--config", path, "--vus", "7")

	assert.Equal(t, "file run", cfg.Name)
	assert.Equal(t, "http://from-file:3000", cfg.Target.BaseURL)
	assert.Equal(t, 7, cfg.Load.VUs, "flags override the file")
	assert.Equal(t, "10s", cfg.Load.Duration)
	assert.InDelta(t, 0.3, *cfg.Scenario.RegisterRatio, 1e-9)

	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))
	_, err := buildConfig(cmd)
	assert.Error(t, err)
}

func newMockTarget(t *testing.T) string {
	t.Helper()
	log, _ := test.NewNullLogger()
	mock, err := mockauth.New(mockauth.WithLogger(log))
	require.NoError(t, err)
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestReportOptionsFrom(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--json", "-o", "out.json", "-q", "--no-color"}))

	assert.Equal(t, reportOptions{JSON: true, OutputPath: "out.json", Quiet: true, NoColor: true}, reportOptionsFrom(cmd))
	assert.Equal(t, reportOptions{}, reportOptionsFrom(newRunCmd()))
}

func TestRunCommand_JSON(t *testing.T) {
	baseURL := newMockTarget(t)

	cmd := newRunCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{
		"--base-url", baseURL,
		"--vus", "2",
		"--duration", "300ms",
		"--think-time", "0s:5ms",
		"--register-ratio", "0.5",
		"--log-level", "error",
		"--json",
	})

	require.NoError(t, cmd.ExecuteContext(context.Background()), "stderr: %s", stderr.String())

	var result map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result), "stdout holds only the JSON result: %s", stdout.String())
	assert.Equal(t, true, result["passed"])
	assert.NotEmpty(t, result["runId"])
	assert.Greater(t, result["iterations"], float64(0))
}

func TestRunLoadTest_ConsoleAndFile(t *testing.T) {
	baseURL := newMockTarget(t)
	out := filepath.Join(t.TempDir(), "result.json")

	ratio := 0.5
	cfg := &config.TestConfig{
		Name:     "console run",
		Target:   config.TargetConfig{BaseURL: baseURL},
		Load:     config.LoadSettings{VUs: 2, Duration: "200ms"},
		Scenario: config.ScenarioConfig{RegisterRatio: &ratio, ThinkTimeMin: "0s", ThinkTimeMax: "5ms"},
		Log:      config.LogConfig{Level: "error"},
	}

	var stdout, stderr bytes.Buffer
	err := runLoadTest(context.Background(), cfg, reportOptions{OutputPath: out}, &stdout, &stderr)
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "console run - Running [constant-vus]")
	assert.Contains(t, stdout.String(), "console run - Completed ✓")
	assert.Contains(t, stdout.String(), "Results written to: "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "console run"`)
}

func TestRunLoadTest_FailedThresholds(t *testing.T) {
	baseURL := newMockTarget(t)

	ratio := 1.0
	cfg := &config.TestConfig{
		Target:   config.TargetConfig{BaseURL: baseURL},
		Load:     config.LoadSettings{VUs: 1, Duration: "100ms"},
		Scenario: config.ScenarioConfig{RegisterRatio: &ratio, ThinkTimeMin: "0s", ThinkTimeMax: "0s"},
		// No request over the network completes within a microsecond.
		Thresholds: &config.ThresholdsConfig{HTTPReqDuration: []string{"max < 1us"}},
		Log:        config.LogConfig{Level: "error"},
	}

	var stdout, stderr bytes.Buffer
	err := runLoadTest(context.Background(), cfg, reportOptions{Quiet: true}, &stdout, &stderr)
	assert.True(t, errors.Is(err, ErrRunFailed), "err = %v", err)
	assert.Equal(t, "FAILED\n", stdout.String())
}

func TestRunLoadTest_InvalidConfig(t *testing.T) {
	cfg := &config.TestConfig{Target: config.TargetConfig{BaseURL: "not a url"}}

	var stdout, stderr bytes.Buffer
	err := runLoadTest(context.Background(), cfg, reportOptions{}, &stdout, &stderr)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRunFailed))
	assert.Empty(t, stdout.String(), "nothing is printed before the config is valid")
}
