// Package dispatch implements the per-task detached worker described
// by spec §4.2: spawn a task's command chain, wait for each command to
// exit, update state/timestamps, fulfill dependencies and provides,
// and reap zombies subject to the process-wide wait-inhibit flag.
package dispatch

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/crinit-go/crinit/internal/envset"
	"github.com/crinit-go/crinit/internal/task"
	"github.com/crinit-go/crinit/internal/taskdb"
)

// Dispatcher holds the process-wide state the spec requires shared
// across every dispatch worker: the wait-inhibit flag/condvar.
type Dispatcher struct {
	log hclog.Logger
	wi  *waitInhibit
}

// New returns a Dispatcher. Its Spawn method satisfies
// taskdb.SpawnFunc and should be passed to taskdb.New.
func New(log hclog.Logger) *Dispatcher {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Dispatcher{log: log.Named("dispatch"), wi: newWaitInhibit()}
}

// SetWaitInhibit is called by the STOP/KILL runtime commands around
// sending a signal, so the signalled PID cannot be recycled before the
// signal is delivered (spec §4.2 "Wait-inhibit").
func (d *Dispatcher) SetWaitInhibit(b bool) {
	d.wi.Set(b)
}

// Spawn implements taskdb.SpawnFunc: it launches a detached goroutine
// running the task's command chain and returns immediately.
func (d *Dispatcher) Spawn(db *taskdb.DB, t *task.Task, mode taskdb.Mode) error {
	go d.run(db, t, mode)
	return nil
}

func (d *Dispatcher) run(db *taskdb.DB, t *task.Task, mode taskdb.Mode) {
	cp, err := db.CopyTask(t.Name)
	if err != nil {
		d.log.Error("snapshot failed", "task", t.Name, "error", err)
		return
	}
	cp.Env.Set("CRINIT_TASK_NAME", cp.Name)

	chain := cp.Cmds
	if mode == taskdb.ModeStop {
		chain = cp.StopCmds
		pid, _ := db.GetTaskPID(cp.Name)
		expanded := make([]task.Command, len(chain))
		for i, c := range chain {
			ec := make(task.Command, len(c))
			for j, arg := range c {
				ec[j] = envset.ExpandTaskPID(arg, pid)
			}
			expanded[i] = ec
		}
		chain = expanded
	}

	if len(chain) == 0 {
		// Meta-task: no commands to run. Since SpawnReady only dispatches
		// once the dependency set is already empty, the task is DONE as
		// soon as it is selected (spec §8 "A task with empty cmds and
		// non-empty deps").
		d.finishDone(db, cp)
		return
	}

	for i, argv := range chain {
		pid, cleanup, err := d.spawnOne(cp, argv)
		if err != nil {
			d.log.Error("spawn failed", "task", cp.Name, "cmd", argv, "error", err)
			d.finishFailed(db, cp, -1)
			return
		}

		_ = db.SetTaskPID(cp.Name, pid)
		if i == 0 {
			_ = db.SetTaskState(cp.Name, task.Running, false)
			db.FulfillDep(task.Dependency{Name: cp.Name, Event: task.EventSpawn}, "")
			db.ProvideFeature(cp.Name, task.ProvideSpawn)
		}

		if err := applyCapabilities(pid, cp.CapSet, cp.CapClear); err != nil {
			d.log.Warn("capability application failed", "task", cp.Name, "error", err)
		}
		if cp.CgroupName != "" {
			if err := applyCgroup(cp.CgroupName, cp.CgroupParams, pid); err != nil {
				d.log.Warn("cgroup application failed", "task", cp.Name, "error", err)
			}
		}

		ws, err := d.peek(pid)
		cleanup()
		if err != nil {
			d.log.Error("wait failed", "task", cp.Name, "pid", pid, "error", err)
			d.reap(pid)
			d.finishFailed(db, cp, pid)
			return
		}

		if !ws.Exited() || ws.ExitStatus() != 0 {
			d.reap(pid)
			d.finishFailed(db, cp, pid)
			return
		}

		d.reap(pid)
		_ = db.SetTaskPID(cp.Name, -1)
	}

	d.finishDone(db, cp)
}

func (d *Dispatcher) finishDone(db *taskdb.DB, t *task.Task) {
	_ = db.SetTaskState(t.Name, task.Done, false)
	db.FulfillDep(task.Dependency{Name: t.Name, Event: task.EventWait}, "")
	db.ProvideFeature(t.Name, task.ProvideWait)
}

func (d *Dispatcher) finishFailed(db *taskdb.DB, t *task.Task, pid int) {
	if pid != -1 {
		_ = db.SetTaskPID(t.Name, -1)
	}
	_ = db.SetTaskState(t.Name, task.Failed, false)
	db.FulfillDep(task.Dependency{Name: t.Name, Event: task.EventFail}, "")
	db.ProvideFeature(t.Name, task.ProvideFail)
}

// spawnOne builds file actions from t's redirections, spawns one
// command of the chain, and returns its PID (spec §4.2 step 4).
func (d *Dispatcher) spawnOne(t *task.Task, argv []string) (pid int, cleanup func(), err error) {
	stdio, opened, err := buildStdio(t)
	if err != nil {
		return 0, func() {}, err
	}
	cleanup = func() { closeAll(opened) }

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdio.stdin
	cmd.Stdout = stdio.stdout
	cmd.Stderr = stdio.stderr
	cmd.Env = t.Env.Slice()

	attr := &syscall.SysProcAttr{Setsid: true}
	if t.HasUser || t.HasGroup {
		cred, cerr := credentialFor(t)
		if cerr != nil {
			cleanup()
			return 0, func() {}, cerr
		}
		attr.Credential = cred
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		cleanup()
		return 0, func() {}, fmt.Errorf("dispatch: start %v: %w", argv, err)
	}

	return cmd.Process.Pid, cleanup, nil
}

func credentialFor(t *task.Task) (*syscall.Credential, error) {
	uid, gid := t.UID, t.GID
	if t.User != "" {
		u, err := user.Lookup(t.User)
		if err != nil {
			return nil, fmt.Errorf("dispatch: lookup user %q: %w", t.User, err)
		}
		n, _ := strconv.Atoi(u.Uid)
		uid = n
	}
	if t.Group != "" {
		g, err := user.LookupGroup(t.Group)
		if err != nil {
			return nil, fmt.Errorf("dispatch: lookup group %q: %w", t.Group, err)
		}
		n, _ := strconv.Atoi(g.Gid)
		gid = n
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

// peek blocks until pid changes state without reaping it (spec §4.2
// step 4d "non-reaping wait"), using WNOWAIT so a later reap can still
// observe and consume the zombie.
func (d *Dispatcher) peek(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, unix.WNOWAIT, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ws, err
		}
		return ws, nil
	}
}

// reap blocks behind the wait-inhibit gate, then consumes the zombie
// left by peek (spec §4.2 "Wait-inhibit").
func (d *Dispatcher) reap(pid int) {
	d.wi.awaitClear()
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		return
	}
}
