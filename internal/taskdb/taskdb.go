// Package taskdb implements the central shared state described by
// spec §3 "TaskDB" and §4.1: a set of tasks, the dependency-fulfillment
// rules, feature provisioning, and the scheduler's spawnReady scan.
//
// Concurrency shape follows Design Note 3 (SPEC_FULL.md "Open
// Questions — Decisions"): a single mutex guards the task set and a
// sync.Cond is broadcast after inserts, state changes, dependency
// changes and spawn-inhibit clears (PID updates do not broadcast),
// mirroring the level-triggered scheduler described in spec §4.1.
package taskdb

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/crinit-go/crinit/internal/crerr"
	"github.com/crinit-go/crinit/internal/optfeat"
	"github.com/crinit-go/crinit/internal/task"
)

// Mode selects which command chain spawnReady dispatches.
type Mode int

const (
	ModeStart Mode = iota
	ModeStop
)

// SpawnFunc is invoked by SpawnReady for each startable task. It runs
// outside the TaskDB lock.
type SpawnFunc func(db *DB, t *task.Task, mode Mode) error

// DB is the TaskDB described by spec §3/§4.1.
type DB struct {
	mu   sync.Mutex
	cond *sync.Cond

	order []string // insertion order, for spawnReady's ordering guarantee
	tasks map[string]*task.Task

	spawn        SpawnFunc
	spawnInhibit bool

	hook optfeat.Hook
	log  hclog.Logger
}

// New returns an empty TaskDB. spawn is invoked by SpawnReady; hook
// may be optfeat.NoOp() if no collaborator is wired.
func New(spawn SpawnFunc, hook optfeat.Hook, log hclog.Logger) *DB {
	if hook == nil {
		hook = optfeat.NoOp()
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	db := &DB{
		tasks: make(map[string]*task.Task),
		spawn: spawn,
		hook:  hook,
		log:   log.Named("taskdb"),
	}
	db.cond = sync.NewCond(&db.mu)
	return db
}

// Insert copies task into the set. If a task with the same name
// exists, overwrite must be true or the call fails with ErrConflict.
func (db *DB) Insert(t *task.Task, overwrite bool) error {
	if t == nil {
		return fmt.Errorf("taskdb: insert: %w: nil task", crerr.ErrInvalidArgument)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("taskdb: insert: %w: %v", crerr.ErrInvalidArgument, err)
	}

	db.mu.Lock()
	_, exists := db.tasks[t.Name]
	if exists && !overwrite {
		db.mu.Unlock()
		return fmt.Errorf("taskdb: insert %q: %w", t.Name, crerr.ErrConflict)
	}

	cp := t.Copy()
	if !exists {
		db.order = append(db.order, t.Name)
	} else {
		// preserve lifecycle fields across an overwrite of an existing
		// entry's static configuration, matching "restart resets state,
		// disable re-adds a gating dependency; there is no delete" —
		// tasks are never removed, only their definitions replaced.
		old := db.tasks[t.Name]
		cp.State = old.State
		cp.Notified = old.Notified
		cp.PID = old.PID
		cp.Respawn.FailCount = old.Respawn.FailCount
		cp.Created = old.Created
		cp.LastStart = old.LastStart
		cp.LastEnd = old.LastEnd
	}
	db.tasks[t.Name] = cp
	db.mu.Unlock()

	db.hook.TaskAdded(cp.Name)
	db.broadcast()
	return nil
}

// Update is Insert(t, overwrite=true).
func (db *DB) Update(t *task.Task) error {
	return db.Insert(t, true)
}

func (db *DB) broadcast() {
	db.mu.Lock()
	db.cond.Broadcast()
	db.mu.Unlock()
}

// FulfillDep removes every occurrence of dep from target's dependency
// set, or from every task's if target is "". It broadcasts iff any
// removal occurred.
func (db *DB) FulfillDep(dep task.Dependency, target string) {
	db.mu.Lock()
	changed := false
	if target != "" {
		if t, ok := db.tasks[target]; ok {
			if t.RemoveDep(dep) {
				changed = true
			}
		}
	} else {
		for _, t := range db.tasks {
			if t.RemoveDep(dep) {
				changed = true
			}
		}
	}
	db.mu.Unlock()

	if changed {
		db.cond.L.Lock()
		db.cond.Broadcast()
		db.cond.L.Unlock()
	}
}

// ProvideFeature runs the §4.1 provideFeature algorithm for a
// provider that just transitioned to newState.
func (db *DB) ProvideFeature(providerName string, newState task.ProvideState) {
	db.mu.Lock()
	provider, ok := db.tasks[providerName]
	var provides []task.Provides
	if ok {
		provides = append([]task.Provides(nil), provider.Provides...)
	}
	db.mu.Unlock()
	if !ok {
		return
	}

	for _, p := range provides {
		if p.State == newState {
			db.FulfillDep(task.Dependency{Name: task.SentinelProvided, Event: task.Event(p.Feature)}, "")
			db.hook.Start(p.Feature)
		} else {
			db.hook.Stop(p.Feature)
		}
	}
}

// ProvideFeatureByName looks up name and delegates to ProvideFeature.
func (db *DB) ProvideFeatureByName(name string, newState task.ProvideState) error {
	db.mu.Lock()
	_, ok := db.tasks[name]
	db.mu.Unlock()
	if !ok {
		return fmt.Errorf("taskdb: provideFeatureByName %q: %w", name, crerr.ErrNotFound)
	}
	db.ProvideFeature(name, newState)
	return nil
}

// AddDepToTask idempotently adds dep to name's dependency set.
func (db *DB) AddDepToTask(dep task.Dependency, name string) error {
	db.mu.Lock()
	t, ok := db.tasks[name]
	if !ok {
		db.mu.Unlock()
		return fmt.Errorf("taskdb: addDepToTask %q: %w", name, crerr.ErrNotFound)
	}
	t.AddDep(dep)
	db.mu.Unlock()
	db.cond.L.Lock()
	db.cond.Broadcast()
	db.cond.L.Unlock()
	return nil
}

// RemoveDepFromTask idempotently removes dep from name's dependency set.
func (db *DB) RemoveDepFromTask(dep task.Dependency, name string) error {
	db.mu.Lock()
	t, ok := db.tasks[name]
	if !ok {
		db.mu.Unlock()
		return fmt.Errorf("taskdb: removeDepFromTask %q: %w", name, crerr.ErrNotFound)
	}
	removed := t.RemoveDep(dep)
	db.mu.Unlock()
	if removed {
		db.cond.L.Lock()
		db.cond.Broadcast()
		db.cond.L.Unlock()
	}
	return nil
}

// SetTaskState records a state transition and its side effects: DONE
// resets failCount, FAILED increments it, RUNNING/DONE/FAILED stamp
// timestamps. notified marks whether the transition originated from
// the NOTIFY command (spec §3 "NOTIFIED").
func (db *DB) SetTaskState(name string, state task.Lifecycle, notified bool) error {
	db.mu.Lock()
	t, ok := db.tasks[name]
	if !ok {
		db.mu.Unlock()
		return fmt.Errorf("taskdb: setTaskState %q: %w", name, crerr.ErrNotFound)
	}
	t.State = state
	t.Notified = notified
	stampState(t, state)
	db.mu.Unlock()

	sev := hclog.Info
	code := "task-state"
	if state == task.Failed {
		sev = hclog.Warn
		code = "task-failed"
	}
	db.log.Log(sev, code, "task", name, "state", state.String())

	db.cond.L.Lock()
	db.cond.Broadcast()
	db.cond.L.Unlock()
	return nil
}

// GetTaskState returns the task's current lifecycle state.
func (db *DB) GetTaskState(name string) (task.Lifecycle, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tasks[name]
	if !ok {
		return 0, fmt.Errorf("taskdb: getTaskState %q: %w", name, crerr.ErrNotFound)
	}
	return t.State, nil
}

// GetTaskPID returns the task's current PID, or -1.
func (db *DB) GetTaskPID(name string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tasks[name]
	if !ok {
		return 0, fmt.Errorf("taskdb: getTaskPID %q: %w", name, crerr.ErrNotFound)
	}
	return t.PID, nil
}

// GetTaskStateAndPID returns both atomically.
func (db *DB) GetTaskStateAndPID(name string) (task.Lifecycle, int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tasks[name]
	if !ok {
		return 0, 0, fmt.Errorf("taskdb: getTaskStateAndPID %q: %w", name, crerr.ErrNotFound)
	}
	return t.State, t.PID, nil
}

// SetTaskPID sets the task's PID.
func (db *DB) SetTaskPID(name string, pid int) error {
	db.mu.Lock()
	t, ok := db.tasks[name]
	if !ok {
		db.mu.Unlock()
		return fmt.Errorf("taskdb: setTaskPID %q: %w", name, crerr.ErrNotFound)
	}
	t.PID = pid
	db.mu.Unlock()
	return nil
}

// BorrowedTask is returned by BorrowTask; callers must call Remit
// promptly to release the TaskDB lock (spec §4.1 "borrowTask").
type BorrowedTask struct {
	db   *DB
	Task *task.Task
}

// Remit releases the lock taken by BorrowTask.
func (b *BorrowedTask) Remit() {
	b.db.mu.Unlock()
}

// BorrowTask returns a pointer to the in-database task while still
// holding the lock; callers must keep the critical section short and
// bounded. No caller in this repository uses it: the dispatcher
// records PIDs through SetTaskPID. On an unknown name
// it fails with ErrNotFound and does NOT hold the lock.
func (db *DB) BorrowTask(name string) (*BorrowedTask, error) {
	db.mu.Lock()
	t, ok := db.tasks[name]
	if !ok {
		db.mu.Unlock()
		return nil, fmt.Errorf("taskdb: borrowTask %q: %w", name, crerr.ErrNotFound)
	}
	return &BorrowedTask{db: db, Task: t}, nil
}

// CopyTask returns a deep copy of the named task, used by the
// dispatcher to take a stable snapshot at worker entry (Design Note
// "Task copies vs borrows").
func (db *DB) CopyTask(name string) (*task.Task, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tasks[name]
	if !ok {
		return nil, fmt.Errorf("taskdb: copyTask %q: %w", name, crerr.ErrNotFound)
	}
	return t.Copy(), nil
}

// SetSpawnInhibit sets the spawn-inhibit flag. Clearing it broadcasts
// so the scheduler re-evaluates immediately.
func (db *DB) SetSpawnInhibit(b bool) {
	db.mu.Lock()
	changed := db.spawnInhibit != b
	db.spawnInhibit = b
	db.mu.Unlock()
	if changed && !b {
		db.cond.L.Lock()
		db.cond.Broadcast()
		db.cond.L.Unlock()
	}
}

// SpawnInhibited reports the current spawn-inhibit flag.
func (db *DB) SpawnInhibited() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.spawnInhibit
}

// startable implements the §4.1 "startable iff" predicate.
func startable(t *task.Task) bool {
	if len(t.Deps) != 0 {
		return false
	}
	if t.State == task.Starting || t.State == task.Running {
		return false
	}
	if t.State == task.Failed || t.State == task.Done {
		if !t.Respawn.Respawn || t.Respawn.InhibitRespawn {
			return false
		}
		if t.Respawn.MaxRetries != -1 && t.Respawn.FailCount >= t.Respawn.MaxRetries {
			return false
		}
	}
	return true
}

// SpawnReady implements the §4.1 spawnReady scan: for every task in
// insertion order, if startable, flip state to STARTING and invoke the
// spawn callback outside the lock. If spawnInhibit is set the scan is
// a no-op that still succeeds.
func (db *DB) SpawnReady(mode Mode) error {
	db.mu.Lock()
	if db.spawnInhibit {
		db.mu.Unlock()
		return nil
	}

	var toSpawn []*task.Task
	for _, name := range db.order {
		t := db.tasks[name]
		if startable(t) {
			t.State = task.Starting
			toSpawn = append(toSpawn, t)
		}
	}
	db.mu.Unlock()

	if len(toSpawn) > 0 {
		db.cond.L.Lock()
		db.cond.Broadcast()
		db.cond.L.Unlock()
	}

	for _, t := range toSpawn {
		if db.spawn == nil {
			continue
		}
		if err := db.spawn(db, t, mode); err != nil {
			db.mu.Lock()
			if cur, ok := db.tasks[t.Name]; ok && cur.State == task.Starting {
				cur.State = task.Loaded
			}
			db.mu.Unlock()
			db.log.Error("spawn failed", "task", t.Name, "error", err)
		}
	}
	return nil
}

// Wait blocks until the change condition is broadcast.
func (db *DB) Wait() {
	db.cond.L.Lock()
	db.cond.Wait()
	db.cond.L.Unlock()
}

// ExportTaskNames returns a snapshot of task names for the TASKLIST
// command, in insertion order.
func (db *DB) ExportTaskNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, len(db.order))
	copy(out, db.order)
	return out
}

// Names is an alias of ExportTaskNames kept for readability at call
// sites outside the runtime-command layer.
func (db *DB) Names() []string { return db.ExportTaskNames() }
