// Package globopt holds the process-wide settings described by spec
// §2 "Global options" and §6.2's series configuration keys, behind a
// single RWMutex with typed accessors (Design Note
// "Generic-selection typed accessors": a typed accessor per concern
// instead of the original's type-dispatch macros).
package globopt

import (
	"sync"
	"time"

	"github.com/crinit-go/crinit/internal/envset"
)

// Options is the set of process-wide, series-configurable settings.
// It is always accessed through *Store, never shared directly.
type Options struct {
	TaskDir               string
	TaskDirFollowSymlinks bool
	TaskFileSuffix        string
	IncludeDir            string
	IncludeSuffix         string
	Tasks                 []string

	Debug   bool
	UseSyslog bool
	UseElos   bool
	ElosServer           string
	ElosPort             int
	ElosEventPollInterval time.Duration

	ShutdownGracePeriod time.Duration
	LauncherCmd         []string

	SockFile string

	Env     *envset.Set
	Filters *envset.Set
}

// DefaultOptions returns the baseline configuration a freshly started
// daemon uses before any series file is loaded.
func DefaultOptions() Options {
	return Options{
		TaskFileSuffix:        ".crinit",
		IncludeSuffix:         ".crincl",
		ShutdownGracePeriod:   5 * time.Second,
		ElosEventPollInterval: time.Second,
		SockFile:              "/run/crinit/crinit.sock",
		Env:                   envset.New(),
		Filters:               envset.New(),
	}
}

// Store is the single-lock, typed-accessor global options holder
// (spec §2, §5 "Global options: single mutex").
type Store struct {
	mu  sync.RWMutex
	opt Options
}

// NewStore returns a Store seeded with opts.
func NewStore(opts Options) *Store {
	return &Store{opt: opts}
}

// Get returns a copy of the current options.
func (s *Store) Get() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opt
}

// Set replaces the whole options value.
func (s *Store) Set(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opt = opts
}

// SetTaskDir sets TaskDir.
func (s *Store) SetTaskDir(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opt.TaskDir = v
}

// SetTasks replaces the TASKS list.
func (s *Store) SetTasks(v []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opt.Tasks = append([]string(nil), v...)
}

// ClearTasks empties the TASKS list, used before an ADDSERIES reload
// (spec §4.3 ADDSERIES).
func (s *Store) ClearTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opt.Tasks = nil
}

// SetShutdownGracePeriod sets the grace period used by SHUTDOWN.
func (s *Store) SetShutdownGracePeriod(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opt.ShutdownGracePeriod = d
}

// SetLauncherCmd sets the launcher command argv.
func (s *Store) SetLauncherCmd(argv []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opt.LauncherCmd = append([]string(nil), argv...)
}

// SetBool sets one of the boolean toggles by key name. Unknown keys
// are a caller bug and are ignored, matching the original's silent
// per-key dispatch for booleans it doesn't recognize.
func (s *Store) SetBool(key string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case "DEBUG":
		s.opt.Debug = v
	case "USE_SYSLOG":
		s.opt.UseSyslog = v
	case "USE_ELOS":
		s.opt.UseElos = v
	case "TASKDIR_FOLLOW_SYMLINKS":
		s.opt.TaskDirFollowSymlinks = v
	}
}
