package taskdb

import (
	"time"

	"github.com/crinit-go/crinit/internal/task"
)

// stampState applies the timestamp and failCount side effects of a
// state transition (spec §3 invariants, §4.1 setTaskState).
func stampState(t *task.Task, state task.Lifecycle) {
	now := time.Now()
	switch state {
	case task.Running:
		t.LastStart = now
	case task.Done:
		t.LastEnd = now
		t.Respawn.FailCount = 0
	case task.Failed:
		t.LastEnd = now
		t.Respawn.FailCount++
	}
	if t.PID != -1 && (state == task.Done || state == task.Failed) {
		t.PID = -1
	}
}
