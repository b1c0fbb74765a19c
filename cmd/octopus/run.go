package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/octopus/internal/config"
	"github.com/ppiankov/octopus/internal/daemon"
	"github.com/ppiankov/octopus/internal/logging"
	"github.com/ppiankov/octopus/internal/ratelimit"
	"github.com/ppiankov/octopus/internal/sender"
	"github.com/ppiankov/octopus/internal/sink"
)

func newRunCmd() *cobra.Command {
	var (
		flagBaseDir   string
		flagLogLevel  string
		flagTick      string
		flagAWSRegion string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the supervisor; blocks until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := flagConfig
			if cfgPath == "" {
				if base := os.Getenv("OCTOPUS_BASE_DIR"); base != "" {
					cfgPath = base + "/octopus.yaml"
				}
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if flagBaseDir != "" {
				cfg.BaseDir = flagBaseDir
			}
			if flagLogLevel != "" {
				cfg.LogLevel = flagLogLevel
			}
			if flagTick != "" {
				d, err := time.ParseDuration(flagTick)
				if err != nil {
					return fmt.Errorf("--tick: %w", err)
				}
				cfg.TickInterval = d
			}
			if flagAWSRegion != "" {
				cfg.AWSRegion = flagAWSRegion
			}

			log, err := logging.New(logging.Level(cfg.LogLevel))
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			targets, err := buildTargets(cfg, log)
			if err != nil {
				return fmt.Errorf("build sinks: %w", err)
			}

			d := daemon.New(cfg, targets, logging.Component(log, "daemon"))

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Infow("starting octopus", "base_dir", cfg.BaseDir, "tick_interval", cfg.TickInterval)
			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&flagBaseDir, "base-dir", "", "root directory containing collectors/, logs/, octopus.pid (env: OCTOPUS_BASE_DIR)")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "debug|info|warn|error (env: OCTOPUS_LOG_LEVEL)")
	cmd.Flags().StringVar(&flagTick, "tick", "", "supervisor tick interval, e.g. 3s or 100ms (env: OCTOPUS_TICK_INTERVAL)")
	cmd.Flags().StringVar(&flagAWSRegion, "aws-region", "", "AWS region for the cloudwatch sink (env: OCTOPUS_AWS_REGION)")
	return cmd
}

// buildTargets constructs one sender.Target per configured sink,
// attaching its per-sink rate limit (spec.md §4.9). log is handed to
// each sink factory so sinks with background work of their own (e.g.
// cloudwatch's flush loop) can report failures.
func buildTargets(cfg config.Config, log *zap.SugaredLogger) ([]*sender.Target, error) {
	targets := make([]*sender.Target, 0, len(cfg.Sinks))
	for _, sc := range cfg.Sinks {
		raw := sc.Raw
		if sc.ID == "file" {
			if raw == nil {
				raw = map[string]any{}
			}
			if _, set := raw["dir"]; !set {
				raw["dir"] = cfg.BaseDir
			}
		}
		if sc.ID == "cloudwatch" {
			if raw == nil {
				raw = map[string]any{}
			}
			if cfg.AWSRegion != "" {
				if _, set := raw["region"]; !set {
					raw["region"] = cfg.AWSRegion
				}
			}
			if _, set := raw["max_sendq_size"]; !set && cfg.MaxSendqSize > 0 {
				raw["max_sendq_size"] = cfg.MaxSendqSize
			}
		}
		s, err := sink.Build(sc.ID, raw, logging.Component(log, "sink."+sc.ID))
		if err != nil {
			return nil, fmt.Errorf("sink %q: %w", sc.ID, err)
		}
		limit := ratelimit.Limit{MaxSends: sc.RateLimitMaxSends, Window: sc.RateLimitWindow}
		targets = append(targets, sender.NewTarget(sc.ID, s, limit))
	}
	if len(targets) == 0 {
		s, err := sink.Build("stdout", nil, logging.Component(log, "sink.stdout"))
		if err != nil {
			return nil, err
		}
		targets = append(targets, sender.NewTarget("stdout", s, ratelimit.Limit{}))
	}
	return targets, nil
}
