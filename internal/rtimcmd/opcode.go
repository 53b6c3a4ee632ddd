// Package rtimcmd implements the runtime command protocol described by
// spec §4.3: the opcode map, the build/parse/serialize functions for
// the wire form, and the server-side executor that dispatches each
// opcode to TaskDB operations.
package rtimcmd

import "fmt"

// Opcode names one of the twelve runtime commands (spec §4.3).
type Opcode string

const (
	OpAddTask   Opcode = "ADDTASK"
	OpAddSeries Opcode = "ADDSERIES"
	OpEnable    Opcode = "ENABLE"
	OpDisable   Opcode = "DISABLE"
	OpStop      Opcode = "STOP"
	OpKill      Opcode = "KILL"
	OpRestart   Opcode = "RESTART"
	OpNotify    Opcode = "NOTIFY"
	OpStatus    Opcode = "STATUS"
	OpTaskList  Opcode = "TASKLIST"
	OpShutdown  Opcode = "SHUTDOWN"
	OpGetVer    Opcode = "GETVER"
)

// ResOK and ResErr are the two possible values of a response's first
// argument (spec §4.3 "Wire form").
const (
	ResOK  = "RES_OK"
	ResErr = "RES_ERR"
)

// argCounts enforces the §4.3 "Argument-count discipline": every
// command checks its argument count exactly. NOTIFY is variadic
// (kv... pairs) and is checked separately with a minimum.
var argCounts = map[Opcode]int{
	OpAddTask:   3, // path, overwrite, forceDeps
	OpAddSeries: 2, // path, overwriteTasks
	OpEnable:    1,
	OpDisable:   1,
	OpStop:      1,
	OpKill:      1,
	OpRestart:   1,
	OpStatus:    1,
	OpTaskList:  0,
	OpShutdown:  1,
	OpGetVer:    0,
}

// minArgs additionally bounds variadic opcodes.
var minArgs = map[Opcode]int{
	OpNotify: 1, // at least the task name
}

// IsKnown reports whether op is one of the twelve recognized opcodes.
func IsKnown(op Opcode) bool {
	if _, ok := argCounts[op]; ok {
		return true
	}
	_, ok := minArgs[op]
	return ok
}

// CheckArgCount enforces the per-opcode argument count, returning a
// "Wrong number of arguments." error on mismatch (spec §4.3).
func CheckArgCount(op Opcode, args []string) error {
	if n, ok := argCounts[op]; ok {
		if len(args) != n {
			return fmt.Errorf("Wrong number of arguments.")
		}
		return nil
	}
	if n, ok := minArgs[op]; ok {
		if len(args) < n {
			return fmt.Errorf("Wrong number of arguments.")
		}
		return nil
	}
	return fmt.Errorf("unknown opcode %q", op)
}
