// Package procmgr implements the process lifecycle manager (spec.md
// §4.4): spawning children, reaping exited ones, and enforcing
// inactivity and overrun timeouts with escalated signals. Grounded on
// original_source/octopus/comm/gen_collector.py's reap_children,
// check_children and spawn_children, with the two documented bugs
// fixed per spec.md §9: the escalation machine sends SIGTERM (not
// SIGKILL) at state 0, and respawns use the corrected non-inverted
// liveness check already implemented in internal/collector.
package procmgr

import (
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/octopus/internal/collector"
	"github.com/ppiankov/octopus/internal/registry"
)

// Config holds the tunables from spec.md §6 that this package consults.
type Config struct {
	AllowedInactivity   time.Duration // default 180s
	RemoveInactiveNames map[string]bool
}

// Manager owns descriptor fields proc/last_spawn/kill_state/next_kill/
// dead — the process-manager side of the single-writer split described
// in spec.md §5 (mtime/generation are maintained by registry.Populate).
type Manager struct {
	reg *registry.Registry
	cfg Config
	log *zap.SugaredLogger
}

// New creates a process manager bound to reg.
func New(reg *registry.Registry, cfg Config, log *zap.SugaredLogger) *Manager {
	if cfg.RemoveInactiveNames == nil {
		cfg.RemoveInactiveNames = map[string]bool{}
	}
	return &Manager{reg: reg, cfg: cfg, log: log}
}

// Reap checks every living descriptor for an exited child and applies
// the exit-code disposition table from spec.md §4.4.
func (m *Manager) Reap() {
	now := time.Now()
	for _, d := range m.reg.Living() {
		res, exited := d.TryReap()
		if !exited {
			continue
		}
		switch {
		case res.Code == 0 && !res.Signaled:
			// Normal completion of a periodic run: descriptor stays
			// registered, eligible to spawn again once interval elapses.
		case res.Code == 13 && !res.Signaled:
			m.log.Infow("removing collector from the list of collectors (by request)", "collector", d.Name)
			d.Dead = true
		default:
			m.log.Warnw("collector terminated abnormally, marking dead",
				"collector", d.Name,
				"ran_for", now.Sub(d.LastSpawn),
				"code", res.Code, "signaled", res.Signaled)
			d.Dead = true
		}
	}
}

// CheckInactivity shuts down long-running (interval == 0) descriptors
// that have produced no datapoint in AllowedInactivity, per spec.md
// §4.4. The descriptor remains registered either way: normally it is
// re-spawned on the next tick, but a name on the remove-inactive list is
// marked Dead, so it is skipped until the dead quarantine has elapsed.
func (m *Manager) CheckInactivity() {
	now := time.Now()
	for _, d := range m.reg.Living() {
		if d.Interval != 0 {
			continue
		}
		if now.Sub(d.LastDatapoint) <= m.cfg.AllowedInactivity {
			continue
		}
		m.log.Warnw("terminating collector after inactivity",
			"collector", d.Name, "inactive_for", now.Sub(d.LastDatapoint))
		if err := d.Shutdown(); err != nil {
			m.log.Warnw("error shutting down inactive collector", "collector", d.Name, "error", err)
		}
		if m.cfg.RemoveInactiveNames[d.Name] {
			d.Dead = true
		}
	}
}

// Spawn applies spec.md §4.4's spawn() rules to every valid descriptor:
// start long-running collectors that have no child, start periodic
// collectors whose interval has elapsed, and drive the three-state
// overrun escalation machine for periodic collectors whose previous run
// has overstayed its interval.
func (m *Manager) Spawn() {
	now := time.Now()
	for _, d := range m.reg.Valid(now) {
		switch {
		case d.Interval == 0:
			if !d.Alive() {
				m.spawn(d)
			}

		case !d.Alive():
			if now.Sub(d.LastSpawn) >= d.Interval {
				m.spawn(d)
			}

		case now.Sub(d.LastSpawn) >= d.Interval:
			m.escalate(d, now)
		}
	}
}

func (m *Manager) spawn(d *collector.Descriptor) {
	m.log.Infow("collector needs to be spawned", "collector", d.Name, "interval", d.Interval)
	if err := d.Spawn(); err != nil {
		m.log.Errorw("failed to spawn collector", "collector", d.FilePath, "error", err)
		return
	}
	m.log.Infow("spawned collector", "collector", d.Name, "pid", d.Pid(), "run_id", d.RunID)
}

// escalate advances the overrun-escalation state machine (spec.md
// §4.4): SIGTERM at state 0, SIGKILL at state 1, a manual-intervention
// log at state 2, each gated by next_kill.
func (m *Manager) escalate(d *collector.Descriptor, now time.Time) {
	if d.NextKill.After(now) {
		return
	}
	switch d.KillState {
	case collector.KillStateNone:
		m.log.Warnw("collector overstayed its welcome, SIGTERM sent",
			"collector", d.Name, "interval", d.Interval, "pid", d.Pid())
		_ = d.Signal(syscall.SIGTERM)
		d.NextKill = now.Add(5 * time.Second)
		d.KillState = collector.KillStateTerm
	case collector.KillStateTerm:
		m.log.Errorw("collector still not dead, SIGKILL sent",
			"collector", d.Name, "interval", d.Interval, "pid", d.Pid())
		_ = d.Signal(syscall.SIGKILL)
		d.NextKill = now.Add(5 * time.Second)
		d.KillState = collector.KillStateKill
	default:
		m.log.Errorw("collector needs manual intervention to kill it",
			"collector", d.Name, "interval", d.Interval, "pid", d.Pid())
		d.NextKill = now.Add(300 * time.Second)
	}
}
