// Package collector holds the descriptor for a single collector script:
// its schedule, its child process handle, its read buffer, and its
// dedup cache. Ownership of descriptor fields is split across workers
// (see internal/daemon) — Collect and its helpers are called only from
// the reader goroutine, while Spawn/TryReap/Signal/Shutdown are called
// only from the supervisor goroutine (registry, procmgr, daemon).
package collector

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// KillState is the overrun-escalation state machine position (spec.md §4.4).
type KillState int

const (
	KillStateNone KillState = iota
	KillStateTerm
	KillStateKill
)

// deadQuarantine is how long a dead descriptor is skipped before it is
// eligible to be spawned again (spec.md I5).
const deadQuarantine = time.Hour

// Descriptor is one collector: one executable file discovered under the
// collector directory tree. See spec.md §3 for the full field contract.
type Descriptor struct {
	Name     string
	Interval time.Duration // 0 means long-running
	FilePath string
	MTime    time.Time

	Generation time.Time

	LastSpawn     time.Time
	LastDatapoint time.Time

	// RunID correlates one spawn's log lines; regenerated on every
	// Spawn call so restarts don't share a correlation id.
	RunID string

	KillState KillState
	NextKill  time.Time

	Dead bool

	Dedup DedupCache

	LinesSent     uint64
	LinesReceived uint64
	LinesInvalid  uint64

	runtimeMu sync.Mutex
	proc      *childProc // non-nil while a child is running or awaiting reap
	buffer    strings.Builder
}

// New creates a freshly registered descriptor. mtime is the file's
// modification time as observed by the scanner at registration.
func New(name string, interval time.Duration, filePath string, mtime time.Time) *Descriptor {
	return &Descriptor{
		Name:       name,
		Interval:   interval,
		FilePath:   filePath,
		MTime:      mtime,
		Generation: time.Now(),
		Dedup:      NewDedupCache(),
	}
}

// Alive reports whether the descriptor currently owns a running child
// that has not yet been reaped.
func (d *Descriptor) Alive() bool {
	d.runtimeMu.Lock()
	defer d.runtimeMu.Unlock()
	return d.proc != nil
}

// Pid returns the child's PID, or 0 if no child is running.
func (d *Descriptor) Pid() int {
	d.runtimeMu.Lock()
	defer d.runtimeMu.Unlock()
	if d.proc == nil || d.proc.cmd.Process == nil {
		return 0
	}
	return d.proc.cmd.Process.Pid
}

// EligibleToSpawn implements the dead-quarantine rule from spec.md I5:
// a descriptor marked Dead is not re-spawned until an hour has elapsed
// since its last spawn.
func (d *Descriptor) EligibleToSpawn(now time.Time) bool {
	if !d.Dead {
		return true
	}
	return now.Sub(d.LastSpawn) >= deadQuarantine
}

// ExitResult captures how a child terminated, for the process manager's
// reap() disposition table (spec.md §4.4).
type ExitResult struct {
	Code     int
	Signaled bool
}

// childProc wraps the *exec.Cmd, its non-blocking pipe file
// descriptors, and the single background Wait() that reaps it. Reads
// never block: when no data is available, drainNonblocking returns
// immediately with nothing read (the reader loop polls on an interval
// instead of selecting on the fd).
type childProc struct {
	cmd       *exec.Cmd
	stdoutFd  int
	stderrFd  int
	stdoutEOF bool
	stderrEOF bool

	waitOnce sync.Once
	waitDone chan ExitResult
}

// Spawn runs the executable with no arguments, a new session (so
// signals reach the whole process group), non-blocking stdout/stderr
// pipes, and no extra inherited descriptors. On success it updates
// LastSpawn, initializes LastDatapoint, and clears Dead/KillState/
// NextKill (spec.md §4.4 "Spawning"). On failure it logs nothing
// itself — the caller (procmgr) logs and leaves LastSpawn untouched.
func (d *Descriptor) Spawn() error {
	cmd := exec.Command(d.FilePath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	stdoutFd := int(stdout.(interface{ Fd() uintptr }).Fd())
	stderrFd := int(stderr.(interface{ Fd() uintptr }).Fd())
	if err := setNonblocking(stdoutFd); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("set stdout nonblocking: %w", err)
	}
	if err := setNonblocking(stderrFd); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("set stderr nonblocking: %w", err)
	}

	p := &childProc{
		cmd:      cmd,
		stdoutFd: stdoutFd,
		stderrFd: stderrFd,
		waitDone: make(chan ExitResult, 1),
	}
	go p.reap()

	d.runtimeMu.Lock()
	d.proc = p
	d.runtimeMu.Unlock()

	now := time.Now()
	d.LastSpawn = now
	d.LastDatapoint = now
	d.RunID = uuid.NewString()
	d.Dead = false
	d.KillState = KillStateNone
	d.NextKill = time.Time{}
	return nil
}

// reap runs once per child in the background, calling the single Wait()
// this process is allowed and publishing the result.
func (p *childProc) reap() {
	err := p.cmd.Wait()
	result := ExitResult{}
	if err == nil {
		result.Code = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				result.Signaled = true
				result.Code = -1
			} else {
				result.Code = ws.ExitStatus()
			}
		} else {
			result.Code = exitErr.ExitCode()
		}
	} else {
		result.Code = -1
	}
	p.waitDone <- result
}

// TryReap is a non-blocking check for whether the child has exited. It
// returns (result, true) exactly once per exit.
func (d *Descriptor) TryReap() (ExitResult, bool) {
	d.runtimeMu.Lock()
	p := d.proc
	d.runtimeMu.Unlock()
	if p == nil {
		return ExitResult{}, false
	}
	select {
	case res := <-p.waitDone:
		d.runtimeMu.Lock()
		d.proc = nil
		d.runtimeMu.Unlock()
		return res, true
	default:
		return ExitResult{}, false
	}
}

// Signal sends sig to the child's process group (the whole session
// started by Spawn's Setsid), matching the escalation machine's
// SIGTERM/SIGKILL delivery.
func (d *Descriptor) Signal(sig syscall.Signal) error {
	d.runtimeMu.Lock()
	p := d.proc
	d.runtimeMu.Unlock()
	if p == nil || p.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-p.cmd.Process.Pid, sig)
}

// setNonblocking marks fd O_NONBLOCK so reads never block the reader
// loop, reproducing gen_collector.py's set_nonblocking at spawn time.
func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// drainNonblocking reads everything currently available on fd without
// blocking. Returns the bytes read, whether EOF was observed, and an
// error for anything other than "would block" or EOF.
func drainNonblocking(fd int) ([]byte, bool, error) {
	var out []byte
	buf := make([]byte, 8192)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == nil {
			if n == 0 {
				return out, true, nil // EOF
			}
			if n < len(buf) {
				return out, false, nil
			}
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return out, false, nil
		}
		if err == unix.EINTR {
			continue
		}
		return out, false, fmt.Errorf("read fd %d: %w", fd, err)
	}
}

// StderrLine is one line read from a child's stderr, forwarded to the
// caller for logging at WARN level (spec.md §4.5 step 1).
type StderrLine struct {
	Line string
}

// Collect drains any complete lines currently buffered on the child's
// stdout, returning them in order. It is non-blocking: if the child is
// alive but has produced nothing new, it returns an empty slice. The
// correct predicate here is "drain regardless of whether the child is
// alive", NOT "skip reading while the child is alive" — the Python
// original inverted this check (poll() is None meaning alive) and
// suppressed all input for the lifetime of every collector. See
// DESIGN.md / spec.md §9.
func (d *Descriptor) Collect() (lines []string, stderrLines []StderrLine, err error) {
	d.runtimeMu.Lock()
	p := d.proc
	d.runtimeMu.Unlock()
	if p == nil {
		return nil, nil, nil
	}

	if !p.stderrEOF {
		errBytes, eof, rerr := drainNonblocking(p.stderrFd)
		if rerr != nil {
			return nil, nil, fmt.Errorf("read stderr: %w", rerr)
		}
		p.stderrEOF = eof
		for _, l := range strings.Split(string(errBytes), "\n") {
			if l != "" {
				stderrLines = append(stderrLines, StderrLine{Line: l})
			}
		}
	}

	if !p.stdoutEOF {
		outBytes, eof, rerr := drainNonblocking(p.stdoutFd)
		if rerr != nil {
			return nil, nil, fmt.Errorf("read stdout: %w", rerr)
		}
		p.stdoutEOF = eof
		if len(outBytes) > 0 {
			d.buffer.Write(outBytes)
		}
	}

	buffered := d.buffer.String()
	for {
		idx := strings.IndexByte(buffered, '\n')
		if idx == -1 {
			break
		}
		line := strings.TrimSpace(buffered[:idx])
		buffered = buffered[idx+1:]
		if line != "" {
			lines = append(lines, line)
			d.LastDatapoint = time.Now()
			d.LinesReceived++
		}
	}
	d.buffer.Reset()
	d.buffer.WriteString(buffered)

	return lines, stderrLines, nil
}

// Shutdown terminates the child if present. It polls every second for
// up to 5s; if still alive, it delivers the strongest available kill
// signal and waits. Idempotent, and it never panics past the caller.
func (d *Descriptor) Shutdown() error {
	d.runtimeMu.Lock()
	p := d.proc
	d.runtimeMu.Unlock()
	if p == nil {
		return nil
	}

	_ = d.Signal(syscall.SIGTERM)
	for attempt := 0; attempt < 5; attempt++ {
		select {
		case res := <-p.waitDone:
			p.waitDone <- res // let a concurrent TryReap still observe it
			d.runtimeMu.Lock()
			d.proc = nil
			d.runtimeMu.Unlock()
			return nil
		case <-time.After(time.Second):
		}
	}

	_ = d.Signal(syscall.SIGKILL)
	select {
	case res := <-p.waitDone:
		p.waitDone <- res
	case <-time.After(5 * time.Second):
	}
	d.runtimeMu.Lock()
	d.proc = nil
	d.runtimeMu.Unlock()
	return nil
}

// EvictOldKeys removes dedup entries whose FirstSeen predates cutoff.
// Idempotent (spec.md §4.1).
func (d *Descriptor) EvictOldKeys(cutoff time.Time) {
	d.Dedup.EvictBefore(cutoff)
}
