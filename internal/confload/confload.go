// Package confload reads crinit-go's task and series configuration
// files from disk and populates Task / global-option values from
// them, using internal/confparse for value-level tokenization. The
// file syntax itself (one "KEY value..." pair per line, '#' comments,
// blank lines ignored) is an implementation choice: spec §1
// deliberately does not pin a file format beyond what the core must
// parse to populate a task (§6.2).
package confload

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/crinit-go/crinit/internal/confparse"
	"github.com/crinit-go/crinit/internal/envset"
	"github.com/crinit-go/crinit/internal/task"
)

// KV is one parsed "KEY value" line.
type KV struct {
	Key   string
	Value string
}

// ReadKV reads path and splits it into KV pairs, one per non-comment,
// non-blank line. The first whitespace run separates key from value.
func ReadKV(path string) ([]KV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("confload: open %s: %w", path, err)
	}
	defer f.Close()

	var out []KV
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexAny(line, " \t")
		if idx < 0 {
			out = append(out, KV{Key: line})
			continue
		}
		out = append(out, KV{Key: line[:idx], Value: strings.TrimSpace(line[idx+1:])})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("confload: read %s: %w", path, err)
	}
	return out, nil
}

// BuildTask turns kvs (from a task file) into a Task, seeded with
// baseEnv/baseFilters (the global environment/filters, per spec §3).
// includeLoader resolves an INCLUDE value to that include file's KVs,
// restricted to include-safe keys.
func BuildTask(kvs []KV, baseEnv, baseFilters *envset.Set, includeLoader func(path string) ([]KV, error)) (*task.Task, error) {
	t := task.New("")
	t.Env = baseEnv.Dup()
	t.Filters = baseFilters.Dup()

	if err := applyKVs(t, kvs, includeLoader, false); err != nil {
		return nil, err
	}
	if t.Name == "" {
		return nil, fmt.Errorf("confload: task file missing NAME")
	}
	return t, nil
}

func applyKVs(t *task.Task, kvs []KV, includeLoader func(string) ([]KV, error), includeSafeOnly bool) error {
	for _, kv := range kvs {
		if includeSafeOnly && !task.IncludeSafeKeys[kv.Key] {
			return fmt.Errorf("confload: key %q is not allowed inside an INCLUDE file", kv.Key)
		}
		if err := applyOne(t, kv, includeLoader); err != nil {
			return fmt.Errorf("confload: %s: %w", kv.Key, err)
		}
	}
	return nil
}

func applyOne(t *task.Task, kv KV, includeLoader func(string) ([]KV, error)) error {
	switch kv.Key {
	case "NAME":
		t.Name = kv.Value
	case "COMMAND":
		argv, err := confparse.ParseArgv(kv.Value)
		if err != nil {
			return err
		}
		t.Cmds = append(t.Cmds, task.Command(argv))
	case "STOP_COMMAND":
		argv, err := confparse.ParseArgv(kv.Value)
		if err != nil {
			return err
		}
		t.StopCmds = append(t.StopCmds, task.Command(argv))
	case "DEPENDS":
		deps, err := confparse.ParseDepends(kv.Value)
		if err != nil {
			return err
		}
		t.Deps = append(t.Deps, deps...)
	case "PROVIDES":
		provs, err := confparse.ParseProvides(kv.Value)
		if err != nil {
			return err
		}
		t.Provides = append(t.Provides, provs...)
	case "ENV_SET":
		return t.Env.SetParsed(kv.Value)
	case "FILTER_DEFINE":
		return t.Filters.SetParsed(kv.Value)
	case "IO_REDIRECT":
		r, err := confparse.ParseIORedirect(kv.Value)
		if err != nil {
			return err
		}
		t.IORedirects = append(t.IORedirects, r)
	case "INCLUDE":
		if includeLoader == nil {
			return fmt.Errorf("no include loader configured")
		}
		incKVs, err := includeLoader(kv.Value)
		if err != nil {
			return err
		}
		inc := task.New(t.Name)
		inc.Env = envset.New()
		inc.Filters = envset.New()
		if err := applyKVs(inc, incKVs, includeLoader, true); err != nil {
			return err
		}
		t.MergeInclude(inc)
	case "RESPAWN":
		b, err := strconv.ParseBool(kv.Value)
		if err != nil {
			return err
		}
		t.Respawn.Respawn = b
	case "RESPAWN_RETRIES":
		n, err := strconv.Atoi(kv.Value)
		if err != nil {
			return err
		}
		t.Respawn.MaxRetries = n
	case "USER":
		t.User = kv.Value
		t.HasUser = true
	case "GROUP":
		t.Group = kv.Value
		t.HasGroup = true
	case "CAPABILITY_SET":
		t.CapSet = append(t.CapSet, strings.Fields(kv.Value)...)
	case "CAPABILITY_CLEAR":
		t.CapClear = append(t.CapClear, strings.Fields(kv.Value)...)
	case "CGROUP_NAME":
		t.CgroupName = kv.Value
	case "CGROUP_PARAMS":
		if t.CgroupParams == nil {
			t.CgroupParams = map[string]string{}
		}
		k, v, ok := strings.Cut(kv.Value, "=")
		if !ok {
			return fmt.Errorf("malformed CGROUP_PARAMS %q, expected KEY=VALUE", kv.Value)
		}
		t.CgroupParams[k] = v
	default:
		return fmt.Errorf("unrecognized key %q", kv.Key)
	}
	return nil
}

// SeriesOptions is the subset of global options populated from a
// series file (spec §6.2 "series (global) configuration").
type SeriesOptions struct {
	Tasks                 []string
	TaskDir               string
	TaskDirFollowSymlinks bool
	TaskFileSuffix        string
	IncludeDir            string
	IncludeSuffix         string
	Debug                 bool
	ShutdownGracePeriodUS int64
	UseSyslog             bool
	UseElos               bool
	ElosServer            string
	ElosPort              int
	ElosEventPollInterval int
	LauncherCmd           []string
}

// BuildSeriesOptions turns a series file's KVs into SeriesOptions.
func BuildSeriesOptions(kvs []KV) (SeriesOptions, error) {
	var o SeriesOptions
	for _, kv := range kvs {
		switch kv.Key {
		case "TASKS":
			o.Tasks = append(o.Tasks, strings.Fields(kv.Value)...)
		case "TASKDIR":
			o.TaskDir = kv.Value
		case "TASKDIR_FOLLOW_SYMLINKS":
			b, err := strconv.ParseBool(kv.Value)
			if err != nil {
				return o, fmt.Errorf("confload: TASKDIR_FOLLOW_SYMLINKS: %w", err)
			}
			o.TaskDirFollowSymlinks = b
		case "TASK_FILE_SUFFIX":
			o.TaskFileSuffix = kv.Value
		case "INCLUDEDIR":
			o.IncludeDir = kv.Value
		case "INCLUDE_SUFFIX":
			o.IncludeSuffix = kv.Value
		case "DEBUG":
			b, err := strconv.ParseBool(kv.Value)
			if err != nil {
				return o, fmt.Errorf("confload: DEBUG: %w", err)
			}
			o.Debug = b
		case "SHUTDOWN_GRACE_PERIOD_US":
			n, err := strconv.ParseInt(kv.Value, 10, 64)
			if err != nil {
				return o, fmt.Errorf("confload: SHUTDOWN_GRACE_PERIOD_US: %w", err)
			}
			o.ShutdownGracePeriodUS = n
		case "USE_SYSLOG":
			b, _ := strconv.ParseBool(kv.Value)
			o.UseSyslog = b
		case "USE_ELOS":
			b, _ := strconv.ParseBool(kv.Value)
			o.UseElos = b
		case "ELOS_SERVER":
			o.ElosServer = kv.Value
		case "ELOS_PORT":
			n, _ := strconv.Atoi(kv.Value)
			o.ElosPort = n
		case "ELOS_EVENT_POLL_INTERVAL":
			n, _ := strconv.Atoi(kv.Value)
			o.ElosEventPollInterval = n
		case "LAUNCHER_CMD":
			argv, err := confparse.ParseArgv(kv.Value)
			if err != nil {
				return o, fmt.Errorf("confload: LAUNCHER_CMD: %w", err)
			}
			o.LauncherCmd = argv
		default:
			return o, fmt.Errorf("confload: unrecognized series key %q", kv.Key)
		}
	}
	return o, nil
}
