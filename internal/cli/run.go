package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/authstress/internal/load/config"
	"github.com/wesleyorama2/authstress/internal/load/engine"
	"github.com/wesleyorama2/authstress/internal/load/output"
	"github.com/wesleyorama2/authstress/internal/logging"
)

// progressInterval is how often the live display refreshes.
const progressInterval = time.Second

var runCmd = newRunCmd()

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a register/login load test",
		Long: `Run virtual users against an authentication service. Each iteration
either registers a fresh user and logs in with it, or logs in with a
never-registered user and expects a 401.

Config file mode:
  authstress run --config run.yaml

Quick mode:
  authstress run --base-url http://localhost:3000 --vus 20 --duration 1m

Ramping VUs:
  authstress run --base-url http://localhost:3000 --stages "30s:10,2m:10,30s:0"

Flags override the values of the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runLoadTest(ctx, cfg, reportOptionsFrom(cmd), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	flags.String("base-url", "", "Base URL of the service under test")
	flags.Int("vus", 0, "Number of virtual users (constant-vus)")
	flags.String("duration", "", "Run duration, e.g. 30s or 5m (constant-vus)")
	flags.String("stages", "", "Ramping stages as 'duration:target,...', e.g. 30s:10,1m:10,30s:0")
	flags.String("graceful-stop", "", "How long to wait for in-flight iterations at the end")
	flags.Float64("register-ratio", 0, "Probability that an iteration registers a new user")
	flags.String("think-time", "", "Pause range between register and login as 'min:max', e.g. 2s:12s")
	flags.Uint64("seed", 0, "Seed for reproducible credentials (0 = random)")
	flags.String("redis-addr", "", "Share registered credentials through Redis at this address")
	flags.String("run-id", "", "Credential pool name shared by processes of one run")
	flags.String("prometheus-addr", "", "Serve live Prometheus metrics on this address")
	flags.Bool("json", false, "Write the result as JSON")
	flags.StringP("output", "o", "", "Write the JSON result to this file")
	flags.BoolP("quiet", "q", false, "Disable live progress, print only PASSED or FAILED")
	flags.Bool("no-color", false, "Disable colored output")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.Bool("log-json", false, "Log as JSON")

	return cmd
}

// buildConfig loads the config file, if any, and applies flag overrides.
func buildConfig(cmd *cobra.Command) (*config.TestConfig, error) {
	flags := cmd.Flags()

	cfg := &config.TestConfig{}
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	}

	if flags.Changed("base-url") {
		cfg.Target.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("vus") {
		cfg.Load.VUs, _ = flags.GetInt("vus")
	}
	if flags.Changed("duration") {
		cfg.Load.Duration, _ = flags.GetString("duration")
	}
	if flags.Changed("stages") {
		raw, _ := flags.GetString("stages")
		stages, err := parseStages(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		cfg.Load.Stages = stages
		cfg.Load.Executor = "ramping-vus"
	} else if flags.Changed("vus") || flags.Changed("duration") {
		if len(cfg.Load.Stages) == 0 {
			cfg.Load.Executor = "constant-vus"
		}
	}
	if flags.Changed("graceful-stop") {
		cfg.Load.GracefulStop, _ = flags.GetString("graceful-stop")
	}
	if flags.Changed("register-ratio") {
		ratio, _ := flags.GetFloat64("register-ratio")
		cfg.Scenario.RegisterRatio = &ratio
	}
	if flags.Changed("think-time") {
		raw, _ := flags.GetString("think-time")
		minThink, maxThink, err := parseThinkTime(raw)
		if err != nil {
			return nil, err
		}
		cfg.Scenario.ThinkTimeMin, cfg.Scenario.ThinkTimeMax = minThink, maxThink
	}
	if flags.Changed("seed") {
		cfg.Credentials.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("redis-addr") {
		cfg.Store.Type = config.StoreRedis
		cfg.Store.Redis.Addr, _ = flags.GetString("redis-addr")
	}
	if flags.Changed("run-id") {
		cfg.Store.Redis.RunID, _ = flags.GetString("run-id")
	}
	if flags.Changed("prometheus-addr") {
		cfg.Metrics.PrometheusAddr, _ = flags.GetString("prometheus-addr")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}

	return cfg, nil
}

// reportOptions controls what is printed around a run.
type reportOptions struct {
	JSON       bool
	OutputPath string
	Quiet      bool
	NoColor    bool
}

func reportOptionsFrom(cmd *cobra.Command) reportOptions {
	jsonOut, _ := cmd.Flags().GetBool("json")
	outputPath, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	return reportOptions{JSON: jsonOut, OutputPath: outputPath, Quiet: quiet, NoColor: noColor}
}

// runLoadTest runs cfg and reports the result. It returns ErrRunFailed
// when the run completed but did not pass.
func runLoadTest(ctx context.Context, cfg *config.TestConfig, opts reportOptions, stdout, stderr io.Writer) error {
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Output: stderr})
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(cfg, engine.WithLogger(log))
	if err != nil {
		return err
	}

	// JSON to stdout replaces the console report entirely.
	jsonToStdout := opts.JSON && opts.OutputPath == ""
	consoleWriter := stdout
	if jsonToStdout {
		consoleWriter = io.Discard
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:     cfg.Name,
		ExecutorType: cfg.Load.Executor,
		Writer:       consoleWriter,
		Quiet:        opts.Quiet,
		NoColors:     opts.NoColor,
	})
	console.PrintHeader(cfg.Target.BaseURL)

	result, runErr := runWithProgress(ctx, eng, console, log)

	console.PrintSummary(result)

	if result != nil {
		switch {
		case jsonToStdout:
			if err := output.WriteJSON(stdout, result); err != nil {
				return err
			}
		case opts.OutputPath != "":
			if err := output.WriteJSONFile(opts.OutputPath, result); err != nil {
				return err
			}
			if !opts.Quiet {
				fmt.Fprintf(consoleWriter, "Results written to: %s\n", opts.OutputPath)
			}
		}
	}

	if runErr != nil {
		return runErr
	}
	if !result.Passed {
		return ErrRunFailed
	}
	return nil
}

// runWithProgress runs eng while refreshing the console.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.ConsoleOutput, log logrus.FieldLogger) (*engine.TestResult, error) {
	type outcome struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- outcome{result, err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			return o.result, o.err
		case <-ticker.C:
			stats := output.StatsFromEngine(eng.GetMetrics(), eng.GetStats(), eng.GetProgress())
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		case <-ctx.Done():
			log.Info("interrupted, stopping virtual users")
			// Run observes the same ctx; wait for it to wind down.
			o := <-done
			return o.result, o.err
		}
	}
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0"
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	for i, part := range strings.Split(stagesStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		if _, err := config.ParseDurationString(durationStr); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// parseThinkTime parses "min:max". A single value fixes the pause.
func parseThinkTime(s string) (minThink, maxThink string, err error) {
	minThink, maxThink, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		maxThink = minThink
	}
	for _, v := range []string{minThink, maxThink} {
		if _, err := config.ParseDurationString(v); err != nil {
			return "", "", fmt.Errorf("invalid think time %q: %w", s, err)
		}
	}
	return minThink, maxThink, nil
}
