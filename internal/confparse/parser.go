package confparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crinit-go/crinit/internal/task"
)

// ParseDepends tokenizes a DEPENDS value into Dependency records.
// Grammar (spec §6.2): whitespace separated "name:event" tokens.
func ParseDepends(s string) ([]task.Dependency, error) {
	toks, err := Tokenize(s)
	if err != nil {
		return nil, err
	}
	out := make([]task.Dependency, 0, len(toks))
	for _, tok := range toks {
		idx := strings.LastIndex(tok, ":")
		if idx <= 0 || idx == len(tok)-1 {
			return nil, fmt.Errorf("confparse: malformed DEPENDS token %q", tok)
		}
		out = append(out, task.Dependency{
			Name:  tok[:idx],
			Event: task.Event(tok[idx+1:]),
		})
	}
	return out, nil
}

// ParseProvides tokenizes a PROVIDES value into Provides records.
// Grammar (spec §6.2): "feature:state[-notify]" tokens.
func ParseProvides(s string) ([]task.Provides, error) {
	toks, err := Tokenize(s)
	if err != nil {
		return nil, err
	}
	out := make([]task.Provides, 0, len(toks))
	for _, tok := range toks {
		idx := strings.LastIndex(tok, ":")
		if idx <= 0 || idx == len(tok)-1 {
			return nil, fmt.Errorf("confparse: malformed PROVIDES token %q", tok)
		}
		feature := tok[:idx]
		stateStr := tok[idx+1:]
		notify := false
		if strings.HasSuffix(stateStr, "-notify") {
			notify = true
			stateStr = strings.TrimSuffix(stateStr, "-notify")
		}
		var state task.ProvideState
		switch stateStr {
		case "spawn":
			state = task.ProvideSpawn
		case "wait":
			state = task.ProvideWait
		case "fail":
			state = task.ProvideFail
		default:
			return nil, fmt.Errorf("confparse: unknown provides state %q in %q", stateStr, tok)
		}
		out = append(out, task.Provides{Feature: feature, State: state, Notify: notify})
	}
	return out, nil
}

// ParseIORedirect parses one IO_REDIRECT value:
//
//	<FROM> <TO> [TRUNCATE|APPEND|PIPE] [OCTAL_MODE]
//
// Default mode is 0644 truncate-create. For a STDIN source the APPEND
// flag is dropped here; opening the target read-only is done by the
// dispatcher.
func ParseIORedirect(s string) (task.IORedirect, error) {
	toks, err := Tokenize(s)
	if err != nil {
		return task.IORedirect{}, err
	}
	if len(toks) < 2 || len(toks) > 4 {
		return task.IORedirect{}, fmt.Errorf("confparse: IO_REDIRECT %q: expected 2-4 fields", s)
	}

	from, err := parseStream(toks[0])
	if err != nil {
		return task.IORedirect{}, err
	}

	r := task.IORedirect{
		From:  from,
		Flags: task.RedirTruncate,
		Mode:  0644,
	}

	if to, err := parseStream(toks[1]); err == nil {
		r.ToIsStream = true
		r.To = to.String()
	} else {
		if !strings.HasPrefix(toks[1], "/") {
			return task.IORedirect{}, fmt.Errorf("confparse: IO_REDIRECT target %q is neither a stream nor an absolute path", toks[1])
		}
		r.To = toks[1]
	}

	for _, extra := range toks[2:] {
		switch extra {
		case "TRUNCATE":
			r.Flags = task.RedirTruncate
		case "APPEND":
			r.Flags = task.RedirAppend
		case "PIPE":
			r.Flags |= task.RedirPipe
		default:
			mode, err := strconv.ParseUint(extra, 8, 32)
			if err != nil {
				return task.IORedirect{}, fmt.Errorf("confparse: IO_REDIRECT %q: bad flag/mode %q", s, extra)
			}
			r.Mode = uint32(mode)
		}
	}

	if from == task.RedirStdin {
		r.Flags &^= task.RedirAppend
	}

	return r, nil
}

func parseStream(s string) (task.RedirStream, error) {
	switch s {
	case "STDOUT":
		return task.RedirStdout, nil
	case "STDERR":
		return task.RedirStderr, nil
	case "STDIN":
		return task.RedirStdin, nil
	default:
		return 0, fmt.Errorf("confparse: %q is not a stream name", s)
	}
}
