package confload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crinit-go/crinit/internal/envset"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	return p
}

func TestReadKV_SkipsCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "task.crinit", "# a comment\n\nNAME foo\nCOMMAND /bin/true\n")

	kvs, err := ReadKV(p)
	require.NoError(t, err)
	require.Equal(t, []KV{
		{Key: "NAME", Value: "foo"},
		{Key: "COMMAND", Value: "/bin/true"},
	}, kvs)
}

func TestBuildTask_RequiresName(t *testing.T) {
	_, err := BuildTask([]KV{{Key: "COMMAND", Value: "/bin/true"}}, envset.New(), envset.New(), nil)
	require.Error(t, err)
}

func TestBuildTask_Basic(t *testing.T) {
	kvs := []KV{
		{Key: "NAME", Value: "foo"},
		{Key: "COMMAND", Value: `/bin/echo "hi there"`},
		{Key: "DEPENDS", Value: "bar:wait"},
		{Key: "RESPAWN", Value: "true"},
		{Key: "RESPAWN_RETRIES", Value: "3"},
	}
	tk, err := BuildTask(kvs, envset.New(), envset.New(), nil)
	require.NoError(t, err)
	require.Equal(t, "foo", tk.Name)
	require.Equal(t, []string{"/bin/echo", "hi there"}, []string(tk.Cmds[0]))
	require.Len(t, tk.Deps, 1)
	require.True(t, tk.Respawn.Respawn)
	require.Equal(t, 3, tk.Respawn.MaxRetries)
}

func TestBuildTask_UnrecognizedKey(t *testing.T) {
	_, err := BuildTask([]KV{{Key: "NAME", Value: "foo"}, {Key: "BOGUS", Value: "x"}}, envset.New(), envset.New(), nil)
	require.Error(t, err)
}

func TestBuildTask_Include(t *testing.T) {
	loader := func(path string) ([]KV, error) {
		require.Equal(t, "common.crinit", path)
		return []KV{{Key: "DEPENDS", Value: "net:wait"}}, nil
	}
	kvs := []KV{
		{Key: "NAME", Value: "foo"},
		{Key: "COMMAND", Value: "/bin/true"},
		{Key: "INCLUDE", Value: "common.crinit"},
	}
	tk, err := BuildTask(kvs, envset.New(), envset.New(), loader)
	require.NoError(t, err)
	require.Len(t, tk.Deps, 1)
	require.Equal(t, "net", tk.Deps[0].Name)
}

func TestBuildTask_IncludeRejectsUnsafeKeys(t *testing.T) {
	loader := func(path string) ([]KV, error) {
		return []KV{{Key: "COMMAND", Value: "/bin/true"}}, nil
	}
	kvs := []KV{
		{Key: "NAME", Value: "foo"},
		{Key: "COMMAND", Value: "/bin/true"},
		{Key: "INCLUDE", Value: "common.crinit"},
	}
	_, err := BuildTask(kvs, envset.New(), envset.New(), loader)
	require.Error(t, err)
}

func TestBuildTask_CgroupParams(t *testing.T) {
	kvs := []KV{
		{Key: "NAME", Value: "foo"},
		{Key: "COMMAND", Value: "/bin/true"},
		{Key: "CGROUP_PARAMS", Value: "cpu.weight=100"},
	}
	tk, err := BuildTask(kvs, envset.New(), envset.New(), nil)
	require.NoError(t, err)
	require.Equal(t, "100", tk.CgroupParams["cpu.weight"])

	_, err = BuildTask([]KV{
		{Key: "NAME", Value: "foo"},
		{Key: "COMMAND", Value: "/bin/true"},
		{Key: "CGROUP_PARAMS", Value: "malformed"},
	}, envset.New(), envset.New(), nil)
	require.Error(t, err)
}

func TestBuildSeriesOptions(t *testing.T) {
	kvs := []KV{
		{Key: "TASKS", Value: "a b c"},
		{Key: "TASKDIR", Value: "/etc/crinit"},
		{Key: "TASKDIR_FOLLOW_SYMLINKS", Value: "true"},
		{Key: "DEBUG", Value: "true"},
		{Key: "SHUTDOWN_GRACE_PERIOD_US", Value: "500000"},
		{Key: "LAUNCHER_CMD", Value: "/bin/launcher -x"},
	}
	o, err := BuildSeriesOptions(kvs)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, o.Tasks)
	require.Equal(t, "/etc/crinit", o.TaskDir)
	require.True(t, o.TaskDirFollowSymlinks)
	require.True(t, o.Debug)
	require.Equal(t, int64(500000), o.ShutdownGracePeriodUS)
	require.Equal(t, []string{"/bin/launcher", "-x"}, o.LauncherCmd)
}

func TestBuildSeriesOptions_UnrecognizedKey(t *testing.T) {
	_, err := BuildSeriesOptions([]KV{{Key: "BOGUS", Value: "x"}})
	require.Error(t, err)
}
