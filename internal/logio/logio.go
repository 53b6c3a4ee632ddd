// Package logio wires the daemon's single logging sink. The core never
// picks a backend for the operator; it only selects among a stream
// writer, syslog, or a kernel-message writer, per spec §2.
package logio

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Sink names the destination for formatted output.
type Sink int

const (
	// SinkStderr writes to the process's standard error stream.
	SinkStderr Sink = iota
	// SinkSyslog writes to the system log. Not implemented by this
	// core; selecting it falls back to SinkStderr with a warning, since
	// syslog/kmsg/elos backends are pluggable sinks out of scope per
	// spec §1.
	SinkSyslog
	// SinkKmsg writes to the kernel message buffer. Same fallback as
	// SinkSyslog.
	SinkKmsg
)

// Options configures the root logger.
type Options struct {
	Sink     Sink
	Debug    bool
	Name     string
	Output   io.Writer // overrides Sink when non-nil; used by tests
}

// New builds the process-wide root logger. Subsystems derive named
// children with Logger.Named, mirroring the teacher's
// logger.Named("...") convention.
func New(opts Options) hclog.Logger {
	level := hclog.Info
	if opts.Debug {
		level = hclog.Debug
	}

	out := opts.Output
	if out == nil {
		switch opts.Sink {
		case SinkSyslog, SinkKmsg:
			out = os.Stderr
		default:
			out = os.Stderr
		}
	}

	name := opts.Name
	if name == "" {
		name = "crinit"
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     out,
		JSONFormat: false,
	})
	if opts.Output == nil && (opts.Sink == SinkSyslog || opts.Sink == SinkKmsg) {
		l.Warn("selected log sink is not available, writing to stderr", "sink", int(opts.Sink))
	}
	return l
}
