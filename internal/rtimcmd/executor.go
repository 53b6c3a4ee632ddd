package rtimcmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/crinit-go/crinit/internal/confload"
	"github.com/crinit-go/crinit/internal/confparse"
	"github.com/crinit-go/crinit/internal/crerr"
	"github.com/crinit-go/crinit/internal/fseries"
	"github.com/crinit-go/crinit/internal/globopt"
	"github.com/crinit-go/crinit/internal/shutdown"
	"github.com/crinit-go/crinit/internal/task"
	"github.com/crinit-go/crinit/internal/taskdb"
	"github.com/crinit-go/crinit/internal/version"
)

// Credentials identify the peer that sent a command. Defined here
// (rather than in sockserver) so both sockserver and Executor can
// depend on the same type without an import cycle.
type Credentials struct {
	PID, UID, GID int
}

// Signaler raises and clears the dispatcher's wait-inhibit flag around
// the signal STOP/KILL send; the signal itself is sent by Executor.
// Implemented by *dispatch.Dispatcher in production.
type Signaler interface {
	SetWaitInhibit(b bool)
}

// Executor dispatches parsed runtime commands to TaskDB operations
// (spec §4.3 "Execution contracts").
type Executor struct {
	DB      *taskdb.DB
	Opts    *globopt.Store
	Sig     Signaler
	Log     hclog.Logger
	BaseDir string // directory containing task files, for relative ADDTASK paths

	// ShutdownFunc is invoked for SHUTDOWN; wired to a
	// *shutdown.Sequencer.Run by the daemon entrypoint. It may block:
	// Execute always runs it in its own goroutine, so SHUTDOWN returns
	// before the sequence completes.
	ShutdownFunc func(op shutdown.Op) error
}

// Execute implements sockserver.Executor.
func (e *Executor) Execute(cmd Command, cred Credentials) Response {
	if err := CheckArgCount(cmd.Op, cmd.Args); err != nil {
		return errResp(err)
	}

	switch cmd.Op {
	case OpAddTask:
		return e.addTask(cmd.Args)
	case OpAddSeries:
		return e.addSeries(cmd.Args)
	case OpEnable:
		return e.enable(cmd.Args[0])
	case OpDisable:
		return e.disable(cmd.Args[0])
	case OpStop:
		return e.stopOrKill(cmd.Args[0], unix.SIGTERM)
	case OpKill:
		return e.stopOrKill(cmd.Args[0], unix.SIGKILL)
	case OpRestart:
		return e.restart(cmd.Args[0])
	case OpNotify:
		return e.notify(cmd.Args)
	case OpStatus:
		return e.status(cmd.Args[0])
	case OpTaskList:
		return e.taskList()
	case OpShutdown:
		return e.shutdown(cmd.Args[0])
	case OpGetVer:
		return e.getVer()
	default:
		return errResp(fmt.Errorf("%w: unknown opcode %q", crerr.ErrInvalidArgument, cmd.Op))
	}
}

func errResp(err error) Response {
	return Response{OK: false, Reason: err.Error()}
}

func okResp(args ...string) Response {
	return Response{OK: true, Args: args}
}

// addTask implements ADDTASK(path, overwrite, forceDeps).
func (e *Executor) addTask(args []string) Response {
	path, overwriteStr, forceDeps := args[0], args[1], args[2]
	overwrite, err := strconv.ParseBool(overwriteStr)
	if err != nil {
		return errResp(fmt.Errorf("%w: overwrite must be a bool", crerr.ErrInvalidArgument))
	}
	if e.BaseDir != "" && !strings.HasPrefix(path, "/") {
		path = e.BaseDir + "/" + path
	}

	kvs, err := confload.ReadKV(path)
	if err != nil {
		return errResp(fmt.Errorf("%w: %v", crerr.ErrParse, err))
	}

	opts := e.Opts.Get()
	t, err := confload.BuildTask(kvs, opts.Env, opts.Filters, e.includeLoader(opts))
	if err != nil {
		return errResp(fmt.Errorf("%w: %v", crerr.ErrParse, err))
	}

	if forceDeps != "@unchanged" {
		if forceDeps == "@empty" || forceDeps == "" {
			t.Deps = nil
		} else {
			deps, err := confparse.ParseDepends(forceDeps)
			if err != nil {
				return errResp(fmt.Errorf("%w: %v", crerr.ErrParse, err))
			}
			t.Deps = deps
		}
	}

	if err := e.DB.Insert(t, overwrite); err != nil {
		return errResp(err)
	}
	return okResp()
}

// addSeries implements ADDSERIES(path, overwriteTasks).
func (e *Executor) addSeries(args []string) Response {
	path, overwriteStr := args[0], args[1]
	overwrite, err := strconv.ParseBool(overwriteStr)
	if err != nil {
		return errResp(fmt.Errorf("%w: overwriteTasks must be a bool", crerr.ErrInvalidArgument))
	}

	e.DB.SetSpawnInhibit(true)
	defer e.DB.SetSpawnInhibit(false)

	e.Opts.ClearTasks()

	kvs, err := confload.ReadKV(path)
	if err != nil {
		return errResp(fmt.Errorf("%w: %v", crerr.ErrParse, err))
	}
	series, err := confload.BuildSeriesOptions(kvs)
	if err != nil {
		return errResp(fmt.Errorf("%w: %v", crerr.ErrParse, err))
	}

	opts := e.Opts.Get()
	if series.TaskDir != "" {
		opts.TaskDir = series.TaskDir
	}
	if series.ShutdownGracePeriodUS > 0 {
		opts.ShutdownGracePeriod = time.Duration(series.ShutdownGracePeriodUS) * time.Microsecond
	}
	e.Opts.Set(opts)
	e.Opts.SetTasks(series.Tasks)

	var taskPaths []string
	if len(series.Tasks) > 0 {
		taskPaths = series.Tasks
	} else if opts.TaskDir != "" {
		taskPaths, err = fseries.Scan(fseries.Options{
			Dir:            opts.TaskDir,
			FollowSymlinks: opts.TaskDirFollowSymlinks,
			TaskSuffix:     opts.TaskFileSuffix,
		})
		if err != nil {
			return errResp(fmt.Errorf("%w: %v", crerr.ErrParse, err))
		}
	}

	for _, tp := range taskPaths {
		kvs, err := confload.ReadKV(tp)
		if err != nil {
			return errResp(fmt.Errorf("%w: %v", crerr.ErrParse, err))
		}
		t, err := confload.BuildTask(kvs, opts.Env, opts.Filters, e.includeLoader(opts))
		if err != nil {
			return errResp(fmt.Errorf("%w: %v", crerr.ErrParse, err))
		}
		if err := e.DB.Insert(t, overwrite); err != nil {
			return errResp(err)
		}
	}

	return okResp()
}

func (e *Executor) includeLoader(opts globopt.Options) func(string) ([]confload.KV, error) {
	return func(value string) ([]confload.KV, error) {
		path := value
		if opts.IncludeDir != "" && !strings.HasPrefix(path, "/") {
			path = opts.IncludeDir + "/" + path
		}
		return confload.ReadKV(path)
	}
}

// enable implements ENABLE(name).
func (e *Executor) enable(name string) Response {
	if err := e.DB.RemoveDepFromTask(task.Dependency{Name: task.SentinelCtl, Event: "enable"}, name); err != nil {
		return errResp(err)
	}
	return okResp()
}

// disable implements DISABLE(name).
func (e *Executor) disable(name string) Response {
	if err := e.DB.AddDepToTask(task.Dependency{Name: task.SentinelCtl, Event: "enable"}, name); err != nil {
		return errResp(err)
	}
	return okResp()
}

// stopOrKill implements STOP/KILL(name): set wait-inhibit, signal the
// recorded PID, clear wait-inhibit (spec §4.3, §4.2 "Wait-inhibit").
func (e *Executor) stopOrKill(name string, sig unix.Signal) Response {
	e.Sig.SetWaitInhibit(true)
	defer e.Sig.SetWaitInhibit(false)

	pid, err := e.DB.GetTaskPID(name)
	if err != nil {
		return errResp(err)
	}
	if pid <= 0 {
		return errResp(fmt.Errorf("%w: task %q has no running process", crerr.ErrInvalidArgument, name))
	}
	if err := unix.Kill(pid, sig); err != nil {
		return errResp(fmt.Errorf("%w: %v", crerr.ErrSystem, err))
	}
	return okResp()
}

// restart implements RESTART(name).
func (e *Executor) restart(name string) Response {
	state, err := e.DB.GetTaskState(name)
	if err != nil {
		return errResp(err)
	}
	if state != task.Done && state != task.Failed {
		return errResp(fmt.Errorf("%w: task %q is not DONE or FAILED", crerr.ErrInvalidArgument, name))
	}
	if err := e.DB.SetTaskState(name, task.Loaded, false); err != nil {
		return errResp(err)
	}
	return okResp()
}

// notify implements NOTIFY(name, kv...): MAINPID=, READY=, STOPPING=.
func (e *Executor) notify(args []string) Response {
	name := args[0]
	var mainPID = -1
	var ready, stopping bool

	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return errResp(fmt.Errorf("%w: malformed NOTIFY pair %q", crerr.ErrInvalidArgument, kv))
		}
		switch k {
		case "MAINPID":
			n, err := strconv.Atoi(v)
			if err != nil {
				return errResp(fmt.Errorf("%w: MAINPID must be an integer", crerr.ErrInvalidArgument))
			}
			mainPID = n
		case "READY":
			n, _ := strconv.Atoi(v)
			ready = n > 0
		case "STOPPING":
			n, _ := strconv.Atoi(v)
			stopping = n > 0
		}
	}

	if mainPID != -1 {
		if err := e.DB.SetTaskPID(name, mainPID); err != nil {
			return errResp(err)
		}
	}
	if ready {
		if err := e.DB.SetTaskState(name, task.Running, true); err != nil {
			return errResp(err)
		}
		e.DB.FulfillDep(task.Dependency{Name: name, Event: task.EventSpawnNotify}, "")
		if err := e.DB.ProvideFeatureByName(name, task.ProvideSpawn); err != nil {
			return errResp(err)
		}
	}
	if stopping {
		if err := e.DB.SetTaskState(name, task.Done, true); err != nil {
			return errResp(err)
		}
		e.DB.FulfillDep(task.Dependency{Name: name, Event: task.EventWaitNotify}, "")
		if err := e.DB.ProvideFeatureByName(name, task.ProvideWait); err != nil {
			return errResp(err)
		}
	}
	return okResp()
}

// status implements STATUS(name).
func (e *Executor) status(name string) Response {
	state, pid, err := e.DB.GetTaskStateAndPID(name)
	if err != nil {
		return errResp(err)
	}
	return okResp(state.String(), strconv.Itoa(pid))
}

// taskList implements TASKLIST.
func (e *Executor) taskList() Response {
	return okResp(e.DB.ExportTaskNames()...)
}

// shutdown implements SHUTDOWN(cmd).
func (e *Executor) shutdown(cmdStr string) Response {
	var op shutdown.Op
	switch cmdStr {
	case "poweroff":
		op = shutdown.OpPoweroff
	case "reboot":
		op = shutdown.OpReboot
	default:
		return errResp(fmt.Errorf("%w: SHUTDOWN argument must be poweroff or reboot", crerr.ErrInvalidArgument))
	}
	if e.ShutdownFunc == nil {
		return errResp(fmt.Errorf("%w: shutdown is not wired", crerr.ErrInternal))
	}
	go func() {
		if err := e.ShutdownFunc(op); err != nil {
			e.Log.Error("shutdown sequence failed", "error", err)
		}
	}()
	return okResp()
}

// getVer implements GETVER.
func (e *Executor) getVer() Response {
	major, minor, micro, buildID := version.Strings()
	return okResp(major, minor, micro, buildID)
}
