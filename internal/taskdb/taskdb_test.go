package taskdb

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crinit-go/crinit/internal/optfeat"
	"github.com/crinit-go/crinit/internal/task"
)

func newTask(name string, deps ...task.Dependency) *task.Task {
	t := task.New(name)
	t.Cmds = append(t.Cmds, task.Command{"/bin/true"})
	t.Deps = deps
	return t
}

func TestInsert_RejectsDuplicateWithoutOverwrite(t *testing.T) {
	db := New(nil, optfeat.NoOp(), nil)
	require.NoError(t, db.Insert(newTask("foo"), false))
	require.Error(t, db.Insert(newTask("foo"), false))
	require.NoError(t, db.Insert(newTask("foo"), true))
}

func TestInsert_PreservesLifecycleAcrossOverwrite(t *testing.T) {
	db := New(nil, optfeat.NoOp(), nil)
	require.NoError(t, db.Insert(newTask("foo"), false))
	require.NoError(t, db.SetTaskState("foo", task.Running, false))
	require.NoError(t, db.SetTaskPID("foo", 999))

	require.NoError(t, db.Insert(newTask("foo"), true))

	state, pid, err := db.GetTaskStateAndPID("foo")
	require.NoError(t, err)
	require.Equal(t, task.Running, state)
	require.Equal(t, 999, pid)
}

func TestFulfillDep(t *testing.T) {
	db := New(nil, optfeat.NoOp(), nil)
	dep := task.Dependency{Name: "bar", Event: task.EventWait}
	require.NoError(t, db.Insert(newTask("foo", dep), false))

	db.FulfillDep(dep, "foo")

	cp, err := db.CopyTask("foo")
	require.NoError(t, err)
	require.Empty(t, cp.Deps)
}

func TestFulfillDep_Broadcast(t *testing.T) {
	db := New(nil, optfeat.NoOp(), nil)
	dep := task.Dependency{Name: "bar", Event: task.EventWait}
	require.NoError(t, db.Insert(newTask("foo", dep), false))

	done := make(chan struct{})
	go func() {
		db.Wait()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	db.FulfillDep(dep, "")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after FulfillDep broadcast")
	}
}

func TestProvideFeature(t *testing.T) {
	db := New(nil, optfeat.NoOp(), nil)
	provider := newTask("provider")
	provider.Provides = append(provider.Provides, task.Provides{Feature: "net", State: task.ProvideWait})
	require.NoError(t, db.Insert(provider, false))

	waiter := newTask("waiter", task.Dependency{Name: task.SentinelProvided, Event: task.Event("net")})
	require.NoError(t, db.Insert(waiter, false))

	db.ProvideFeature("provider", task.ProvideWait)

	cp, err := db.CopyTask("waiter")
	require.NoError(t, err)
	require.Empty(t, cp.Deps)
}

func TestAddRemoveDepToTask(t *testing.T) {
	db := New(nil, optfeat.NoOp(), nil)
	require.NoError(t, db.Insert(newTask("foo"), false))

	dep := task.Dependency{Name: task.SentinelCtl, Event: "enable"}
	require.NoError(t, db.AddDepToTask(dep, "foo"))
	cp, _ := db.CopyTask("foo")
	require.True(t, cp.HasDep(dep))

	require.NoError(t, db.RemoveDepFromTask(dep, "foo"))
	cp, _ = db.CopyTask("foo")
	require.False(t, cp.HasDep(dep))
}

func TestSpawnReady_DispatchesStartableTasksInOrder(t *testing.T) {
	var mu sync.Mutex
	var spawned []string
	spawn := func(db *DB, t *task.Task, mode Mode) error {
		mu.Lock()
		spawned = append(spawned, t.Name)
		mu.Unlock()
		return db.SetTaskState(t.Name, task.Done, false)
	}

	db := New(spawn, optfeat.NoOp(), nil)
	require.NoError(t, db.Insert(newTask("a"), false))
	require.NoError(t, db.Insert(newTask("b"), false))

	require.NoError(t, db.SpawnReady(ModeStart))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b"}, spawned)
}

func TestSpawnReady_RespectsSpawnInhibit(t *testing.T) {
	spawned := false
	spawn := func(db *DB, t *task.Task, mode Mode) error {
		spawned = true
		return nil
	}
	db := New(spawn, optfeat.NoOp(), nil)
	db.SetSpawnInhibit(true)
	require.NoError(t, db.Insert(newTask("a"), false))
	require.NoError(t, db.SpawnReady(ModeStart))
	require.False(t, spawned)
}

func TestSpawnReady_DependencyGating(t *testing.T) {
	db := New(nil, optfeat.NoOp(), nil)
	dep := task.Dependency{Name: "bar", Event: task.EventWait}
	require.NoError(t, db.Insert(newTask("foo", dep), false))

	require.NoError(t, db.SpawnReady(ModeStart))
	state, err := db.GetTaskState("foo")
	require.NoError(t, err)
	require.Equal(t, task.Loaded, state)
}

func TestRespawnPolicy(t *testing.T) {
	db := New(nil, optfeat.NoOp(), nil)
	tk := newTask("foo")
	tk.Respawn.Respawn = true
	tk.Respawn.MaxRetries = -1
	require.NoError(t, db.Insert(tk, false))

	require.NoError(t, db.SetTaskState("foo", task.Failed, false))
	require.True(t, startable(func() *task.Task { cp, _ := db.CopyTask("foo"); return cp }()))
}

func TestExportTaskNames_PreservesInsertionOrder(t *testing.T) {
	db := New(nil, optfeat.NoOp(), nil)
	require.NoError(t, db.Insert(newTask("z"), false))
	require.NoError(t, db.Insert(newTask("a"), false))
	require.Equal(t, []string{"z", "a"}, db.ExportTaskNames())
}
