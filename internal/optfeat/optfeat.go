// Package optfeat defines the feature-hook collaborator interface
// invoked on task lifecycle events matching provides/task-added (spec
// §3 "Provides", §4.1 "provideFeature", §9 "Feature hook"). External
// collaborators (logging, event filters) implement Hook to activate or
// deactivate themselves; the core ships a no-op and a logging
// implementation.
package optfeat

import "github.com/hashicorp/go-hclog"

// Hook receives feature start/stop notifications and task-added
// notifications. Implementations must not block.
type Hook interface {
	// Start is called when a task transitions to the state matching one
	// of its provides pairs.
	Start(feature string)
	// Stop is called when a provider transitions to any other state.
	Stop(feature string)
	// TaskAdded is called whenever a task is successfully inserted.
	TaskAdded(name string)
}

type noopHook struct{}

func (noopHook) Start(string)    {}
func (noopHook) Stop(string)     {}
func (noopHook) TaskAdded(string) {}

// NoOp returns a Hook that does nothing, used when no collaborator is
// configured.
func NoOp() Hook { return noopHook{} }

// loggingHook logs every hook invocation at debug level. Useful as the
// default collaborator in a standalone daemon with no elos/filter
// backend wired.
type loggingHook struct {
	log hclog.Logger
}

// NewLogging returns a Hook that logs each event via log.
func NewLogging(log hclog.Logger) Hook {
	return &loggingHook{log: log.Named("optfeat")}
}

func (h *loggingHook) Start(feature string) {
	h.log.Debug("feature active", "feature", feature)
}

func (h *loggingHook) Stop(feature string) {
	h.log.Debug("feature inactive", "feature", feature)
}

func (h *loggingHook) TaskAdded(name string) {
	h.log.Debug("task added", "task", name)
}
