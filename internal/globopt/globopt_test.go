package globopt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	require.Equal(t, ".crinit", o.TaskFileSuffix)
	require.Equal(t, ".crincl", o.IncludeSuffix)
	require.Equal(t, 5*time.Second, o.ShutdownGracePeriod)
	require.Equal(t, "/run/crinit/crinit.sock", o.SockFile)
	require.NotNil(t, o.Env)
	require.NotNil(t, o.Filters)
}

func TestStore_GetSetRoundTrip(t *testing.T) {
	s := NewStore(DefaultOptions())
	opts := s.Get()
	opts.TaskDir = "/etc/crinit/tasks"
	s.Set(opts)
	require.Equal(t, "/etc/crinit/tasks", s.Get().TaskDir)
}

func TestStore_SetTaskDir(t *testing.T) {
	s := NewStore(DefaultOptions())
	s.SetTaskDir("/tmp/tasks")
	require.Equal(t, "/tmp/tasks", s.Get().TaskDir)
}

func TestStore_SetTasksAndClear(t *testing.T) {
	s := NewStore(DefaultOptions())
	s.SetTasks([]string{"a", "b"})
	require.Equal(t, []string{"a", "b"}, s.Get().Tasks)

	s.ClearTasks()
	require.Nil(t, s.Get().Tasks)
}

func TestStore_SetTasks_CopiesSlice(t *testing.T) {
	s := NewStore(DefaultOptions())
	src := []string{"a", "b"}
	s.SetTasks(src)
	src[0] = "mutated"
	require.Equal(t, "a", s.Get().Tasks[0])
}

func TestStore_SetShutdownGracePeriod(t *testing.T) {
	s := NewStore(DefaultOptions())
	s.SetShutdownGracePeriod(10 * time.Second)
	require.Equal(t, 10*time.Second, s.Get().ShutdownGracePeriod)
}

func TestStore_SetLauncherCmd(t *testing.T) {
	s := NewStore(DefaultOptions())
	s.SetLauncherCmd([]string{"/bin/launcher", "-x"})
	require.Equal(t, []string{"/bin/launcher", "-x"}, s.Get().LauncherCmd)
}

func TestStore_SetBool(t *testing.T) {
	s := NewStore(DefaultOptions())
	s.SetBool("DEBUG", true)
	require.True(t, s.Get().Debug)

	s.SetBool("USE_SYSLOG", true)
	require.True(t, s.Get().UseSyslog)

	s.SetBool("UNKNOWN_KEY", true)
	require.False(t, s.Get().UseElos)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(DefaultOptions())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.SetTaskDir("/a")
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		_ = s.Get()
	}
	<-done
}
