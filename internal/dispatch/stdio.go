package dispatch

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/crinit-go/crinit/internal/task"
)

// stdio holds the three file descriptors a spawned child inherits.
type stdio struct {
	stdin, stdout, stderr *os.File
}

// buildStdio applies t's I/O redirections in order, returning the
// resulting stdio set and a list of files the caller must close once
// the child has been started (spec §4.2 step 4a).
func buildStdio(t *task.Task) (*stdio, []*os.File, error) {
	s := &stdio{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	var opened []*os.File

	for _, r := range t.IORedirects {
		var f *os.File
		if r.ToIsStream {
			switch r.To {
			case "STDOUT":
				f = s.stdout
			case "STDERR":
				f = s.stderr
			case "STDIN":
				f = s.stdin
			default:
				return nil, opened, fmt.Errorf("dispatch: unknown redirect target stream %q", r.To)
			}
		} else {
			flags := os.O_WRONLY
			if r.From == task.RedirStdin {
				flags = os.O_RDONLY
			} else {
				flags |= os.O_CREATE
				if r.Flags&task.RedirAppend != 0 {
					flags |= os.O_APPEND
				} else {
					flags |= os.O_TRUNC
				}
			}
			if r.Flags&task.RedirPipe != 0 {
				if err := ensureFIFO(r.To, os.FileMode(r.Mode)); err != nil {
					return nil, opened, err
				}
			}
			file, err := os.OpenFile(r.To, flags, os.FileMode(r.Mode))
			if err != nil {
				return nil, opened, fmt.Errorf("dispatch: open redirect target %q: %w", r.To, err)
			}
			opened = append(opened, file)
			f = file
		}

		switch r.From {
		case task.RedirStdout:
			s.stdout = f
		case task.RedirStderr:
			s.stderr = f
		case task.RedirStdin:
			s.stdin = f
		}
	}

	return s, opened, nil
}

// ensureFIFO verifies path is (or creates it as) a named pipe. An
// existing non-FIFO at path is an error (spec §4.2 step 4a).
func ensureFIFO(path string, mode os.FileMode) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("dispatch: %s exists and is not a FIFO", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("dispatch: stat %s: %w", path, err)
	}
	if err := unix.Mkfifo(path, uint32(mode)); err != nil {
		return fmt.Errorf("dispatch: mkfifo %s: %w", path, err)
	}
	return nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
