// Package scenario parses scenario command flags and runs Lua scenarios
// against an in-process dealer stack.
package scenario

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/louisbranch/housedealer/internal/platform/cmd"
	"github.com/louisbranch/housedealer/internal/tools/scenario"
)

// Config holds scenario command configuration.
type Config struct {
	Scenario     string        `env:"SCENARIO_FILE"`
	Assertions   bool          `env:"SCENARIO_ASSERT"        envDefault:"true"`
	Verbose      bool          `env:"SCENARIO_VERBOSE"`
	Timeout      time.Duration `env:"SCENARIO_TIMEOUT"       envDefault:"10s"`
	MasterSecret string        `env:"SCENARIO_MASTER_SECRET"`
}

// ParseConfig parses environment and flags into a Config. A positional
// argument may name the scenario file, or a glob of them.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "path or glob of scenario lua files")
	fs.BoolVar(&cfg.Assertions, "assert", cfg.Assertions, "enable assertions (disable to log expectations)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose logging")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout per step")
	fs.StringVar(&cfg.MasterSecret, "master-secret", cfg.MasterSecret, "draw master secret (defaults to one per scenario)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		cfg.Scenario = fs.Arg(0)
	}
	return cfg, nil
}

// Run executes every matching scenario file.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Scenario == "" {
		return errors.New("scenario path is required")
	}
	paths, err := filepath.Glob(cfg.Scenario)
	if err != nil {
		return fmt.Errorf("match scenarios: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no scenario matches %q", cfg.Scenario)
	}

	mode := scenario.AssertionStrict
	if !cfg.Assertions {
		mode = scenario.AssertionLogOnly
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceScenario, func(ctx context.Context, logger *zap.Logger) error {
		runCfg := scenario.Config{
			Timeout:      cfg.Timeout,
			Assertions:   mode,
			Verbose:      cfg.Verbose,
			Logger:       logger,
			MasterSecret: cfg.MasterSecret,
		}
		var failed []error
		for _, path := range paths {
			if err := scenario.RunFile(ctx, runCfg, path); err != nil {
				logger.Error("scenario failed", zap.String("path", path), zap.Error(err))
				failed = append(failed, err)
			}
		}
		return errors.Join(failed...)
	})
}
