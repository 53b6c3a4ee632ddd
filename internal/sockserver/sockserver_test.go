package sockserver

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crinit-go/crinit/internal/rtimcmd"
	"github.com/crinit-go/crinit/internal/thrpool"
)

type fakeExecutor struct {
	fn func(cmd rtimcmd.Command, cred rtimcmd.Credentials) rtimcmd.Response
}

func (f *fakeExecutor) Execute(cmd rtimcmd.Command, cred rtimcmd.Credentials) rtimcmd.Response {
	return f.fn(cmd, cred)
}

func startServer(t *testing.T, exec Executor) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "crinit.sock")
	pool := thrpool.New(thrpool.Options{InitialSize: 2, Increment: 2, QueueDepth: 8}, nil)
	srv := New(sock, exec, pool, nil)

	ready := make(chan struct{})
	go func() {
		for {
			if _, err := os.Stat(sock); err == nil {
				close(ready)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	go srv.ListenAndServe()
	t.Cleanup(func() { srv.Close(); pool.Stop() })

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server never created its rendezvous socket")
	}
	return sock
}

func roundTrip(t *testing.T, sock string, cmd rtimcmd.Command) rtimcmd.Response {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	greeting, err := rtimcmd.ReadFramed(conn)
	require.NoError(t, err)
	require.Equal(t, rtimcmd.RTR, string(greeting))

	require.NoError(t, rtimcmd.WriteFramed(conn, rtimcmd.Serialize(cmd)))

	raw, err := rtimcmd.ReadFramed(conn)
	require.NoError(t, err)
	resp, err := rtimcmd.ParseResponse(raw)
	require.NoError(t, err)
	return resp
}

func TestServer_ExecutesReadOnlyOpForAnyPeer(t *testing.T) {
	exec := &fakeExecutor{fn: func(cmd rtimcmd.Command, cred rtimcmd.Credentials) rtimcmd.Response {
		require.Equal(t, rtimcmd.OpTaskList, cmd.Op)
		require.Equal(t, os.Getpid(), cred.PID)
		return rtimcmd.Response{OK: true, Args: []string{"foo"}}
	}}
	sock := startServer(t, exec)

	resp := roundTrip(t, sock, rtimcmd.Command{Op: rtimcmd.OpTaskList})
	require.True(t, resp.OK)
	require.Equal(t, []string{"foo"}, resp.Args)
}

func TestServer_AllowsPrivilegedOpForMatchingUID(t *testing.T) {
	called := false
	exec := &fakeExecutor{fn: func(cmd rtimcmd.Command, cred rtimcmd.Credentials) rtimcmd.Response {
		called = true
		return rtimcmd.Response{OK: true}
	}}
	sock := startServer(t, exec)

	// The test process's own UID always matches os.Geteuid(), so ADDTASK
	// (a privileged op gated on cred.UID == os.Geteuid()) should succeed
	// when dialed from this same process.
	resp := roundTrip(t, sock, rtimcmd.Command{Op: rtimcmd.OpAddTask, Args: []string{"/tmp/foo.crinit", "true", "@unchanged"}})
	require.True(t, resp.OK)
	require.True(t, called)
}

func TestServer_RejectsMalformedCommand(t *testing.T) {
	exec := &fakeExecutor{fn: func(cmd rtimcmd.Command, cred rtimcmd.Credentials) rtimcmd.Response {
		t.Fatal("executor should not run on a malformed command")
		return rtimcmd.Response{}
	}}
	sock := startServer(t, exec)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	_, err = rtimcmd.ReadFramed(conn)
	require.NoError(t, err)
	require.NoError(t, rtimcmd.WriteFramed(conn, []byte{})) // empty payload -> ParseCommand rejects it

	raw, err := rtimcmd.ReadFramed(conn)
	require.NoError(t, err)
	resp, err := rtimcmd.ParseResponse(raw)
	require.NoError(t, err)
	require.False(t, resp.OK)
}
