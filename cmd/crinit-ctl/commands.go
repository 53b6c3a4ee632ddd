package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/posener/complete"

	"github.com/crinit-go/crinit/internal/rtimcmd"
	"github.com/crinit-go/crinit/pkg/client"
)

// taskNamePredictor queries TASKLIST against the default socket to
// autocomplete task name arguments. Failures resolve to no
// predictions rather than an error, since completion runs inside a
// shell's tab-key handler.
type taskNamePredictor struct {
	meta *Meta
}

func (p taskNamePredictor) Predict(complete.Args) []string {
	c := p.meta.newClient("")
	resp, err := c.TaskList()
	if err != nil || !resp.OK {
		return nil
	}
	return resp.Args
}

func respond(m *Meta, resp rtimcmd.Response, err error) int {
	if err != nil {
		m.UI.Error(err.Error())
		return 1
	}
	if !resp.OK {
		m.UI.Error(resp.Reason)
		return 1
	}
	if len(resp.Args) > 0 {
		m.UI.Output(strings.Join(resp.Args, "\n"))
	}
	return 0
}

// runSingleArg parses a -sock flag plus exactly one positional task
// name argument and invokes call, used by the single-argument
// opcodes (ENABLE, DISABLE, STOP, KILL, RESTART, STATUS).
func runSingleArg(m *Meta, name string, args []string, call func(*client.Client, string) (rtimcmd.Response, error)) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	sock := fs.String("sock", "", "rendezvous socket")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		m.UI.Error(fmt.Sprintf("%s requires exactly one argument: the task name", name))
		return 1
	}
	cl := m.newClient(*sock)
	return respond(m, call(cl, fs.Arg(0)))
}

// AddTaskCommand implements ADDTASK.
type AddTaskCommand struct {
	Meta *Meta
}

func (c *AddTaskCommand) Run(args []string) int {
	fs := flag.NewFlagSet("addtask", flag.ContinueOnError)
	sock := fs.String("sock", "", "rendezvous socket")
	overwrite := fs.Bool("overwrite", false, "overwrite an existing task of the same name")
	forceDeps := fs.String("force-deps", "@unchanged", "@unchanged, @empty, or a DEPENDS value")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.Meta.UI.Error("addtask requires exactly one argument: the task file path")
		return 1
	}
	cl := c.Meta.newClient(*sock)
	return respond(c.Meta, cl.AddTask(fs.Arg(0), *overwrite, *forceDeps))
}

func (c *AddTaskCommand) Help() string {
	return "Usage: crinit-ctl addtask [-overwrite] [-force-deps=VALUE] <path>"
}
func (c *AddTaskCommand) Synopsis() string { return "Load a task definition file" }
func (c *AddTaskCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictFiles("*.crinit")
}
func (c *AddTaskCommand) AutocompleteFlags() complete.Flags { return nil }

// AddSeriesCommand implements ADDSERIES.
type AddSeriesCommand struct {
	Meta *Meta
}

func (c *AddSeriesCommand) Run(args []string) int {
	fs := flag.NewFlagSet("addseries", flag.ContinueOnError)
	sock := fs.String("sock", "", "rendezvous socket")
	overwrite := fs.Bool("overwrite-tasks", false, "overwrite existing tasks with the same names")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.Meta.UI.Error("addseries requires exactly one argument: the series file path")
		return 1
	}
	cl := c.Meta.newClient(*sock)
	return respond(c.Meta, cl.AddSeries(fs.Arg(0), *overwrite))
}

func (c *AddSeriesCommand) Help() string {
	return "Usage: crinit-ctl addseries [-overwrite-tasks] <path>"
}
func (c *AddSeriesCommand) Synopsis() string { return "Reload a series configuration" }
func (c *AddSeriesCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictFiles("*.series")
}
func (c *AddSeriesCommand) AutocompleteFlags() complete.Flags { return nil }

// EnableCommand implements ENABLE.
type EnableCommand struct{ Meta *Meta }

func (c *EnableCommand) Run(args []string) int {
	return runSingleArg(c.Meta, "enable", args, (*client.Client).Enable)
}
func (c *EnableCommand) Help() string               { return "Usage: crinit-ctl enable <task>" }
func (c *EnableCommand) Synopsis() string            { return "Clear a task's @ctl:enable gate" }
func (c *EnableCommand) AutocompleteArgs() complete.Predictor { return taskNamePredictor{c.Meta} }
func (c *EnableCommand) AutocompleteFlags() complete.Flags    { return nil }

// DisableCommand implements DISABLE.
type DisableCommand struct{ Meta *Meta }

func (c *DisableCommand) Run(args []string) int {
	return runSingleArg(c.Meta, "disable", args, (*client.Client).Disable)
}
func (c *DisableCommand) Help() string               { return "Usage: crinit-ctl disable <task>" }
func (c *DisableCommand) Synopsis() string            { return "Set a task's @ctl:enable gate" }
func (c *DisableCommand) AutocompleteArgs() complete.Predictor { return taskNamePredictor{c.Meta} }
func (c *DisableCommand) AutocompleteFlags() complete.Flags    { return nil }

// StopCommand implements STOP.
type StopCommand struct{ Meta *Meta }

func (c *StopCommand) Run(args []string) int {
	return runSingleArg(c.Meta, "stop", args, (*client.Client).Stop)
}
func (c *StopCommand) Help() string               { return "Usage: crinit-ctl stop <task>" }
func (c *StopCommand) Synopsis() string            { return "Send SIGTERM to a task's process" }
func (c *StopCommand) AutocompleteArgs() complete.Predictor { return taskNamePredictor{c.Meta} }
func (c *StopCommand) AutocompleteFlags() complete.Flags    { return nil }

// KillCommand implements KILL.
type KillCommand struct{ Meta *Meta }

func (c *KillCommand) Run(args []string) int {
	return runSingleArg(c.Meta, "kill", args, (*client.Client).Kill)
}
func (c *KillCommand) Help() string               { return "Usage: crinit-ctl kill <task>" }
func (c *KillCommand) Synopsis() string            { return "Send SIGKILL to a task's process" }
func (c *KillCommand) AutocompleteArgs() complete.Predictor { return taskNamePredictor{c.Meta} }
func (c *KillCommand) AutocompleteFlags() complete.Flags    { return nil }

// RestartCommand implements RESTART.
type RestartCommand struct{ Meta *Meta }

func (c *RestartCommand) Run(args []string) int {
	return runSingleArg(c.Meta, "restart", args, (*client.Client).Restart)
}
func (c *RestartCommand) Help() string                        { return "Usage: crinit-ctl restart <task>" }
func (c *RestartCommand) Synopsis() string                    { return "Reset a DONE or FAILED task to LOADED" }
func (c *RestartCommand) AutocompleteArgs() complete.Predictor { return taskNamePredictor{c.Meta} }
func (c *RestartCommand) AutocompleteFlags() complete.Flags   { return nil }

// StatusCommand implements STATUS.
type StatusCommand struct{ Meta *Meta }

func (c *StatusCommand) Run(args []string) int {
	return runSingleArg(c.Meta, "status", args, (*client.Client).Status)
}
func (c *StatusCommand) Help() string               { return "Usage: crinit-ctl status <task>" }
func (c *StatusCommand) Synopsis() string            { return "Print a task's state and PID" }
func (c *StatusCommand) AutocompleteArgs() complete.Predictor { return taskNamePredictor{c.Meta} }
func (c *StatusCommand) AutocompleteFlags() complete.Flags    { return nil }

// TaskListCommand implements TASKLIST.
type TaskListCommand struct{ Meta *Meta }

func (c *TaskListCommand) Run(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	sock := fs.String("sock", "", "rendezvous socket")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cl := c.Meta.newClient(*sock)
	return respond(c.Meta, cl.TaskList())
}
func (c *TaskListCommand) Help() string               { return "Usage: crinit-ctl list" }
func (c *TaskListCommand) Synopsis() string            { return "List every known task name" }
func (c *TaskListCommand) AutocompleteArgs() complete.Predictor { return complete.PredictNothing }
func (c *TaskListCommand) AutocompleteFlags() complete.Flags    { return nil }

// NotifyCommand implements NOTIFY.
type NotifyCommand struct{ Meta *Meta }

func (c *NotifyCommand) Run(args []string) int {
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	sock := fs.String("sock", "", "rendezvous socket")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		c.Meta.UI.Error("notify requires a task name and zero or more KEY=VALUE pairs")
		return 1
	}
	cl := c.Meta.newClient(*sock)
	return respond(c.Meta, cl.Notify(fs.Arg(0), fs.Args()[1:]...))
}
func (c *NotifyCommand) Help() string {
	return "Usage: crinit-ctl notify <task> [MAINPID=pid] [READY=1] [STOPPING=1]"
}
func (c *NotifyCommand) Synopsis() string            { return "Report a task's own readiness or PID" }
func (c *NotifyCommand) AutocompleteArgs() complete.Predictor { return taskNamePredictor{c.Meta} }
func (c *NotifyCommand) AutocompleteFlags() complete.Flags    { return nil }

// ShutdownCommand implements SHUTDOWN.
type ShutdownCommand struct{ Meta *Meta }

func (c *ShutdownCommand) Run(args []string) int {
	fs := flag.NewFlagSet("shutdown", flag.ContinueOnError)
	sock := fs.String("sock", "", "rendezvous socket")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 || (fs.Arg(0) != "poweroff" && fs.Arg(0) != "reboot") {
		c.Meta.UI.Error("shutdown requires exactly one argument: poweroff or reboot")
		return 1
	}
	cl := c.Meta.newClient(*sock)
	return respond(c.Meta, cl.Shutdown(fs.Arg(0)))
}
func (c *ShutdownCommand) Help() string    { return "Usage: crinit-ctl shutdown <poweroff|reboot>" }
func (c *ShutdownCommand) Synopsis() string { return "Run the shutdown/reboot sequence" }
func (c *ShutdownCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictSet("poweroff", "reboot")
}
func (c *ShutdownCommand) AutocompleteFlags() complete.Flags { return nil }

// VersionCommand implements GETVER.
type VersionCommand struct{ Meta *Meta }

func (c *VersionCommand) Run(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	sock := fs.String("sock", "", "rendezvous socket")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cl := c.Meta.newClient(*sock)
	resp, err := cl.GetVer()
	if err != nil {
		c.Meta.UI.Error(err.Error())
		return 1
	}
	if !resp.OK {
		c.Meta.UI.Error(resp.Reason)
		return 1
	}
	if len(resp.Args) == 4 {
		c.Meta.UI.Output(fmt.Sprintf("%s.%s.%s (%s)", resp.Args[0], resp.Args[1], resp.Args[2], resp.Args[3]))
	}
	return 0
}
func (c *VersionCommand) Help() string               { return "Usage: crinit-ctl version" }
func (c *VersionCommand) Synopsis() string            { return "Print the running daemon's version" }
func (c *VersionCommand) AutocompleteArgs() complete.Predictor { return complete.PredictNothing }
func (c *VersionCommand) AutocompleteFlags() complete.Flags    { return nil }
