package main

import (
	"fmt"
	"os"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/ncruces/go-strftime"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/octopus/internal/config"
	"github.com/ppiankov/octopus/internal/pidfile"
	"github.com/ppiankov/octopus/internal/registry"
	"github.com/ppiankov/octopus/internal/systemd"
)

const (
	colorCyan  = "\x1b[36m"
	colorBold  = "\x1b[1m"
	colorDim   = "\x1b[2m"
	colorReset = "\x1b[0m"
)

// newStatusCmd implements `octopus status`. The supervisor has no IPC
// channel of its own (spec.md §6), so status is always reconstructed
// from the outside: the PID file says whether it's running, and a
// read-only Populate pass over the collector directory says what it
// would be supervising. Populate only registers descriptors in this
// throwaway registry — it never spawns a process, so it's safe to run
// from a separate invocation.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "summarize the supervisor's state from its PID file and collector directory",
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
			return printStatus(cfg, os.Stdout)
		},
	}
	return cmd
}

func printStatus(cfg config.Config, out *os.File) error {
	color := isatty.IsTerminal(out.Fd())
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + colorReset
	}

	pid, pidErr := pidfile.Read(cfg.PIDPath())
	running := false
	if pidErr == nil {
		if process, err := os.FindProcess(pid); err == nil {
			running = process.Signal(syscall.Signal(0)) == nil
		}
	}

	fmt.Fprintln(out, paint(colorBold, "octopus"))
	if running {
		fmt.Fprintf(out, "  supervisor: %s (pid %d)\n", paint(colorCyan, "running"), pid)
	} else {
		fmt.Fprintf(out, "  supervisor: %s\n", paint(colorDim, "not running"))
	}
	fmt.Fprintf(out, "  base dir:   %s\n", cfg.BaseDir)

	if warn := systemd.CheckUnitFileIntegrity(); warn != "" {
		fmt.Fprintf(out, "  %s: %s\n", paint(colorBold, "warning"), warn)
	}

	reg := registry.New(zap.NewNop().Sugar())
	if err := reg.Populate(cfg.CollectorDir()); err != nil {
		return fmt.Errorf("scan collector directory: %w", err)
	}

	descs := reg.Snapshot()
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })

	fmt.Fprintf(out, "\n  %d collector(s) discovered:\n", len(descs))
	for _, d := range descs {
		state := paint(colorDim, "idle")
		if d.Alive() {
			state = paint(colorCyan, fmt.Sprintf("running (pid %d)", d.Pid()))
		} else if d.Dead {
			state = paint(colorBold, "dead")
		}

		schedule := "long-running"
		if d.Interval > 0 {
			schedule = "every " + d.Interval.String()
		}

		lastSeen := "never"
		if !d.LastDatapoint.IsZero() {
			lastSeen = fmt.Sprintf("%s (%s)", humanize.Time(d.LastDatapoint),
				strftime.Format("%Y-%m-%d %H:%M:%S", d.LastDatapoint))
		}

		fmt.Fprintf(out, "    %-24s %-10s %-18s last datapoint %-34s sent=%s invalid=%s\n",
			d.Name, schedule, state, lastSeen,
			humanize.Comma(int64(d.LinesSent)), humanize.Comma(int64(d.LinesInvalid)))
	}
	return nil
}
