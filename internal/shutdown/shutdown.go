// Package shutdown implements the SHUTDOWN runtime command's detached
// worker (spec §4.3 SHUTDOWN, §6.4): inhibit further spawning, signal
// every running task, wait out a grace period, force-kill stragglers,
// unmount non-root filesystems, remount root read-only, sync, and
// invoke the kernel reboot API.
package shutdown

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/crinit-go/crinit/internal/task"
	"github.com/crinit-go/crinit/internal/taskdb"
)

// Op names the requested operation.
type Op string

const (
	OpPoweroff Op = "poweroff"
	OpReboot   Op = "reboot"
)

// Killer sends a signal to a PID. DefaultKiller is the production
// implementation; tests use a fake.
type Killer interface {
	Signal(pid int, sig unix.Signal) error
}

// Rebooter invokes the kernel reboot API. Separated out so tests never
// actually reboot the test machine.
type Rebooter interface {
	Reboot(op Op) error
}

type unixRebooter struct{}

// Reboot implements Rebooter using golang.org/x/sys/unix.Reboot.
func (unixRebooter) Reboot(op Op) error {
	cmd := unix.LINUX_REBOOT_CMD_POWER_OFF
	if op == OpReboot {
		cmd = unix.LINUX_REBOOT_CMD_RESTART
	}
	return unix.Reboot(cmd)
}

// DefaultRebooter is the production Rebooter.
func DefaultRebooter() Rebooter { return unixRebooter{} }

type unixKiller struct{}

func (unixKiller) Signal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// DefaultKiller is the production Killer.
func DefaultKiller() Killer { return unixKiller{} }

// Sequencer runs the shutdown sequence described by spec §4.3/§6.4.
type Sequencer struct {
	db         *taskdb.DB
	killer     Killer
	rebooter   Rebooter
	log        hclog.Logger
	grace      time.Duration
	mountsPath string
}

// New returns a Sequencer. grace is the configured
// SHUTDOWN_GRACE_PERIOD_US value.
func New(db *taskdb.DB, killer Killer, rebooter Rebooter, grace time.Duration, log hclog.Logger) *Sequencer {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Sequencer{
		db:         db,
		killer:     killer,
		rebooter:   rebooter,
		grace:      grace,
		log:        log.Named("shutdown"),
		mountsPath: "/proc/mounts",
	}
}

// Run executes the full shutdown sequence synchronously. Callers run
// it in a detached goroutine (spec §4.3 "spawn a detached worker").
func (s *Sequencer) Run(op Op) error {
	s.db.SetSpawnInhibit(true)

	pids := s.runningPIDs()
	for _, pid := range pids {
		_ = s.killer.Signal(pid, unix.SIGCONT)
		_ = s.killer.Signal(pid, unix.SIGTERM)
	}

	s.sleepGrace()

	pids = s.runningPIDs()
	for _, pid := range pids {
		_ = s.killer.Signal(pid, unix.SIGKILL)
	}

	if err := s.unmountAll(); err != nil {
		s.log.Warn("unmount sequence reported errors", "error", err)
	}

	unix.Sync()

	if err := s.rebooter.Reboot(op); err != nil {
		return fmt.Errorf("shutdown: reboot(%s): %w", op, err)
	}
	return nil
}

func (s *Sequencer) runningPIDs() []int {
	var pids []int
	for _, name := range s.db.Names() {
		state, pid, err := s.db.GetTaskStateAndPID(name)
		if err != nil || state != task.Running || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// sleepGrace blocks for the configured grace period using a monotonic
// deadline, so the sleep is not disturbed by wall-clock adjustments
// (spec §4.3 "monotonic absolute timer"). time.Sleep already measures
// against the monotonic clock reading baked into its argument by
// time.Now(), giving the same property without hand-rolled
// clock_nanosleep(TIMER_ABSTIME) bookkeeping.
func (s *Sequencer) sleepGrace() {
	deadline := time.Now().Add(s.grace)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		time.Sleep(remaining)
	}
}

// unmountAll lazy-unmounts every non-virtual mount point except "/",
// then remounts "/" read-only if it was read-write (spec §6.4).
func (s *Sequencer) unmountAll() error {
	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return fmt.Errorf("shutdown: read %s: %w", s.mountsPath, err)
	}

	var result *multierror.Error
	var rootWasRW bool

	for _, m := range mounts {
		if m.Source == "none" {
			continue
		}
		if m.Mountpoint == "/" {
			rootWasRW = !isReadOnly(m.Options)
			continue
		}
		if err := unix.Unmount(m.Mountpoint, unix.MNT_DETACH); err != nil {
			result = multierror.Append(result, fmt.Errorf("unmount %s: %w", m.Mountpoint, err))
		}
	}

	if rootWasRW {
		if err := unix.Mount("", "/", "", unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			result = multierror.Append(result, fmt.Errorf("remount / read-only: %w", err))
		}
	}

	return result.ErrorOrNil()
}

func isReadOnly(opts string) bool {
	for _, o := range splitOpts(opts) {
		if o == "ro" {
			return true
		}
	}
	return false
}

func splitOpts(opts string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(opts); i++ {
		if i == len(opts) || opts[i] == ',' {
			if i > start {
				out = append(out, opts[start:i])
			}
			start = i + 1
		}
	}
	return out
}
