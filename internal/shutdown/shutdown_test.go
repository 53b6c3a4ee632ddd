package shutdown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/crinit-go/crinit/internal/optfeat"
	"github.com/crinit-go/crinit/internal/task"
	"github.com/crinit-go/crinit/internal/taskdb"
)

type fakeKiller struct {
	signals []struct {
		pid int
		sig unix.Signal
	}
}

func (f *fakeKiller) Signal(pid int, sig unix.Signal) error {
	f.signals = append(f.signals, struct {
		pid int
		sig unix.Signal
	}{pid, sig})
	return nil
}

type fakeRebooter struct{ lastOp Op }

func (f *fakeRebooter) Reboot(op Op) error {
	f.lastOp = op
	return nil
}

func newTask(name string) *task.Task {
	tk := task.New(name)
	tk.Cmds = append(tk.Cmds, task.Command{"/bin/true"})
	return tk
}

func TestRunningPIDs_OnlyReturnsRunningWithPositivePID(t *testing.T) {
	db := taskdb.New(nil, optfeat.NoOp(), nil)
	require.NoError(t, db.Insert(newTask("a"), false))
	require.NoError(t, db.Insert(newTask("b"), false))
	require.NoError(t, db.Insert(newTask("c"), false))

	require.NoError(t, db.SetTaskState("a", task.Running, true))
	require.NoError(t, db.SetTaskPID("a", 101))
	require.NoError(t, db.SetTaskState("b", task.Running, true))
	// b has no PID set, defaults to -1 from task.New

	seq := New(db, &fakeKiller{}, &fakeRebooter{}, time.Millisecond, nil)
	pids := seq.runningPIDs()
	require.Equal(t, []int{101}, pids)
}

func TestSleepGrace_RespectsDeadline(t *testing.T) {
	seq := New(taskdb.New(nil, optfeat.NoOp(), nil), &fakeKiller{}, &fakeRebooter{}, 20*time.Millisecond, nil)
	start := time.Now()
	seq.sleepGrace()
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestIsReadOnly(t *testing.T) {
	require.True(t, isReadOnly("ro,relatime"))
	require.False(t, isReadOnly("rw,relatime"))
}

func TestSplitOpts(t *testing.T) {
	require.Equal(t, []string{"rw", "relatime", "noatime"}, splitOpts("rw,relatime,noatime"))
	require.Equal(t, []string(nil), splitOpts(""))
}
