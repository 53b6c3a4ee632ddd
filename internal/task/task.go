// Package task defines the in-memory task record and its copy/merge/
// include semantics (spec §3). It has no dependency on TaskDB or the
// dispatcher so it can be unit tested in isolation.
package task

import (
	"fmt"
	"time"

	"github.com/mitchellh/copystructure"

	"github.com/crinit-go/crinit/internal/envset"
)

// Lifecycle is the tagged lifecycle state of a task, replacing the
// original bitmask per the REDESIGN FLAG and Design Note "State
// bitmask vs tagged union".
type Lifecycle int

const (
	Loaded Lifecycle = iota
	Starting
	Running
	Done
	Failed
)

func (l Lifecycle) String() string {
	switch l {
	case Loaded:
		return "LOADED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Event names the point in a task's (or sentinel's) lifecycle a
// Dependency waits on.
type Event string

const (
	EventSpawn       Event = "spawn"
	EventWait        Event = "wait"
	EventFail        Event = "fail"
	EventSpawnNotify Event = "spawn-notify"
	EventWaitNotify  Event = "wait-notify"
)

// Sentinel dependency target names (spec §3, §6.2).
const (
	SentinelCtl      = "@ctl"
	SentinelProvided = "@provided"
	SentinelElos     = "@elos"
)

// Dependency is a (name, event) pair. Two dependencies are equal iff
// both fields are lexically equal (spec §3 "Dependency").
type Dependency struct {
	Name  string
	Event Event
}

func (d Dependency) Equal(o Dependency) bool {
	return d.Name == o.Name && d.Event == o.Event
}

func (d Dependency) String() string {
	return d.Name + ":" + string(d.Event)
}

// ProvideState names the task state a Provides pair is keyed to.
type ProvideState string

const (
	ProvideSpawn ProvideState = "spawn"
	ProvideWait  ProvideState = "wait"
	ProvideFail  ProvideState = "fail"
)

// Provides is a (feature, state) pair. A task reaching the state
// fulfills (@provided, feature) dependencies database-wide.
type Provides struct {
	Feature string
	State   ProvideState
	Notify  bool
}

// RedirStream names one of the three standard streams.
type RedirStream int

const (
	RedirStdout RedirStream = iota
	RedirStderr
	RedirStdin
)

func (r RedirStream) String() string {
	switch r {
	case RedirStdout:
		return "STDOUT"
	case RedirStderr:
		return "STDERR"
	case RedirStdin:
		return "STDIN"
	default:
		return "?"
	}
}

// RedirFlags describes how a path target is opened.
type RedirFlags int

const (
	RedirTruncate RedirFlags = 1 << iota
	RedirAppend
	RedirPipe
)

// IORedirect describes one I/O redirection entry (spec §3, §6.2 grammar).
type IORedirect struct {
	From RedirStream
	// To is either a RedirStream encoded as "STDOUT"/"STDERR"/"STDIN",
	// or an absolute path. ToIsStream distinguishes the two.
	To         string
	ToIsStream bool
	Flags      RedirFlags
	Mode       uint32
}

// Command is one argv vector in a start or stop command chain. The
// first element is the program path.
type Command []string

// RespawnPolicy controls whether and how many times a failed task is
// retried.
type RespawnPolicy struct {
	Respawn        bool
	MaxRetries     int // -1 == unlimited
	FailCount      int
	InhibitRespawn bool
}

// Task is the named record described by spec §3.
type Task struct {
	Name string

	Cmds     []Command
	StopCmds []Command

	Deps     []Dependency
	Provides []Provides

	Env     *envset.Set
	Filters *envset.Set

	IORedirects []IORedirect

	User, Group               string
	UID, GID                  int
	HasUser, HasGroup         bool

	CapSet, CapClear []string // capability names, optional support

	CgroupName   string
	CgroupParams map[string]string

	Respawn RespawnPolicy

	State    Lifecycle
	Notified bool

	PID int

	Created  time.Time
	LastStart time.Time
	LastEnd   time.Time
}

// New returns a Task with PID initialized to -1 per spec §3 and an
// empty environment/filters set, ready for field population from a
// parsed configuration source.
func New(name string) *Task {
	return &Task{
		Name:    name,
		PID:     -1,
		Env:     envset.New(),
		Filters: envset.New(),
		Respawn: RespawnPolicy{MaxRetries: -1},
	}
}

// Validate enforces the §3 creation invariant: a task with no start
// commands and no dependencies is rejected.
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task: name must not be empty")
	}
	if len(t.Cmds) == 0 && len(t.Deps) == 0 {
		return fmt.Errorf("task %q: must have at least one start command or one dependency", t.Name)
	}
	return nil
}

// HasDep reports whether d is present in the task's dependency set.
func (t *Task) HasDep(d Dependency) bool {
	for _, existing := range t.Deps {
		if existing.Equal(d) {
			return true
		}
	}
	return false
}

// AddDep idempotently adds d to the task's dependency set: a second
// call with an identical d is a no-op (spec §8 "Idempotence").
func (t *Task) AddDep(d Dependency) {
	if t.HasDep(d) {
		return
	}
	t.Deps = append(t.Deps, d)
}

// RemoveDep removes every occurrence of d, reporting whether any were
// removed.
func (t *Task) RemoveDep(d Dependency) bool {
	out := t.Deps[:0]
	removed := false
	for _, existing := range t.Deps {
		if existing.Equal(d) {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	t.Deps = out
	return removed
}

// Copy returns a deep copy of t, using mitchellh/copystructure for the
// composite fields and a manual copy for envset.Set (which has
// unexported fields copystructure cannot reach the way we want —
// Dup already returns a deep copy with identical semantics).
func (t *Task) Copy() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Env = t.Env.Dup()
	out.Filters = t.Filters.Dup()

	if t.Cmds != nil {
		cp, err := copystructure.Copy(t.Cmds)
		if err == nil {
			out.Cmds = cp.([]Command)
		}
	}
	if t.StopCmds != nil {
		cp, err := copystructure.Copy(t.StopCmds)
		if err == nil {
			out.StopCmds = cp.([]Command)
		}
	}
	if t.Deps != nil {
		out.Deps = append([]Dependency(nil), t.Deps...)
	}
	if t.Provides != nil {
		out.Provides = append([]Provides(nil), t.Provides...)
	}
	if t.IORedirects != nil {
		out.IORedirects = append([]IORedirect(nil), t.IORedirects...)
	}
	if t.CapSet != nil {
		out.CapSet = append([]string(nil), t.CapSet...)
	}
	if t.CapClear != nil {
		out.CapClear = append([]string(nil), t.CapClear...)
	}
	if t.CgroupParams != nil {
		out.CgroupParams = make(map[string]string, len(t.CgroupParams))
		for k, v := range t.CgroupParams {
			out.CgroupParams[k] = v
		}
	}
	return &out
}

// MergeInclude merges the include-safe fields of inc into t, per the
// ★-marked keys of spec §6.2. Non-include-safe fields on inc are
// ignored by callers (confload enforces this at parse time); MergeInclude
// itself only ever receives a Task built purely from include-safe keys.
func (t *Task) MergeInclude(inc *Task) {
	t.Deps = append(t.Deps, inc.Deps...)
	for _, name := range inc.Env.Names() {
		v, _ := inc.Env.Get(name)
		t.Env.Set(name, v)
	}
	for _, name := range inc.Filters.Names() {
		v, _ := inc.Filters.Get(name)
		t.Filters.Set(name, v)
	}
	t.IORedirects = append(t.IORedirects, inc.IORedirects...)
}

// IncludeSafeKeys lists the configuration keys permitted inside an
// INCLUDE file (spec §6.2 ★ markers).
var IncludeSafeKeys = map[string]bool{
	"DEPENDS":        true,
	"ENV_SET":        true,
	"FILTER_DEFINE":  true,
	"IO_REDIRECT":    true,
	"INCLUDE":        true,
}
