// Package sockserver implements the notification/service interface's
// transport described by spec §4.4 and §6.1: a stream socket under a
// filesystem rendezvous, an auto-growing worker-thread pool (see
// internal/thrpool), peer-credential authentication, and the
// opcode-indexed permission gate.
package sockserver

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"

	"github.com/crinit-go/crinit/internal/rtimcmd"
	"github.com/crinit-go/crinit/internal/thrpool"
)

// Executor runs one parsed command against the TaskDB and returns its
// response. Implemented by *rtimcmd.Executor in production.
type Executor interface {
	Execute(cmd rtimcmd.Command, cred rtimcmd.Credentials) rtimcmd.Response
}

// readOnlyOps are open to any peer (spec §4.4 "Permission policy").
var readOnlyOps = map[rtimcmd.Opcode]bool{
	rtimcmd.OpStatus:   true,
	rtimcmd.OpTaskList: true,
	rtimcmd.OpGetVer:   true,
}

// Server is the runtime command protocol's socket server.
type Server struct {
	path string
	exec Executor
	pool *thrpool.Pool
	log  hclog.Logger

	ln *net.UnixListener
}

// New returns a Server bound to path (the rendezvous socket file,
// spec §6.1). It does not start listening until ListenAndServe.
func New(path string, exec Executor, pool *thrpool.Pool, log hclog.Logger) *Server {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Server{path: path, exec: exec, pool: pool, log: log.Named("sockserver")}
}

// ListenAndServe creates the rendezvous socket (replacing any existing
// file there, per spec §4.4) and serves connections until the
// listener is closed.
func (s *Server) ListenAndServe() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o777); err != nil {
		return fmt.Errorf("sockserver: create rendezvous directory: %w", err)
	}
	_ = os.Remove(s.path)

	addr := &net.UnixAddr{Name: s.path, Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("sockserver: listen on %s: %w", s.path, err)
	}
	s.ln = ln
	s.log.Info("listening", "path", s.path)

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			return err
		}
		s.pool.Submit(func() { s.handle(conn) })
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// handle services exactly one request, per spec §4.3's "accept ...
// exactly one request ... closes" framing contract.
func (s *Server) handle(conn *net.UnixConn) {
	defer conn.Close()

	cred1, err := peerCred(conn)
	if err != nil {
		s.log.Warn("failed to read peer credentials", "error", err)
		return
	}

	if err := rtimcmd.WriteFramed(conn, []byte(rtimcmd.RTR)); err != nil {
		s.log.Debug("failed to write greeting", "error", err)
		return
	}

	payload, err := rtimcmd.ReadFramed(conn)
	if err != nil {
		s.log.Debug("failed to read request", "error", err)
		return
	}

	cred2, err := peerCred(conn)
	if err != nil || cred2 != cred1 {
		s.deny(conn, "ipc-not-authorized", cred1, "")
		return
	}

	cmd, err := rtimcmd.ParseCommand(payload)
	if err != nil {
		_ = rtimcmd.WriteFramed(conn, rtimcmd.SerializeResponse(rtimcmd.Response{OK: false, Reason: err.Error()}))
		return
	}

	if !s.allowed(cmd.Op, cred1) {
		s.deny(conn, "ipc-not-authorized", cred1, string(cmd.Op))
		return
	}

	resp := s.exec.Execute(cmd, cred1)
	if err := rtimcmd.WriteFramed(conn, rtimcmd.SerializeResponse(resp)); err != nil {
		s.log.Debug("failed to write response", "error", err)
	}
}

func (s *Server) deny(conn *net.UnixConn, code string, cred rtimcmd.Credentials, op string) {
	s.log.Warn(code, "pid", cred.PID, "uid", cred.UID, "op", op)
	_ = rtimcmd.WriteFramed(conn, rtimcmd.SerializeResponse(rtimcmd.Response{
		OK:     false,
		Reason: "Permission denied.",
	}))
}

// allowed implements the opcode-indexed permission policy of spec
// §4.4.
func (s *Server) allowed(op rtimcmd.Opcode, cred rtimcmd.Credentials) bool {
	if readOnlyOps[op] {
		return true
	}
	if op == rtimcmd.OpShutdown {
		return peerHasCapSysBoot(cred.PID)
	}
	return cred.UID == os.Geteuid()
}

func peerHasCapSysBoot(pid int) bool {
	caps, err := capability.NewPid2(pid)
	if err != nil {
		return false
	}
	if err := caps.Load(); err != nil {
		return false
	}
	return caps.Get(capability.EFFECTIVE, capability.CAP_SYS_BOOT)
}

// peerCred reads the connecting process's (pid, uid, gid) via
// SO_PEERCRED (spec §6.1).
func peerCred(conn *net.UnixConn) (rtimcmd.Credentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return rtimcmd.Credentials{}, err
	}
	var ucred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return rtimcmd.Credentials{}, err
	}
	if sockErr != nil {
		return rtimcmd.Credentials{}, sockErr
	}
	return rtimcmd.Credentials{PID: int(ucred.Pid), UID: int(ucred.Uid), GID: int(ucred.Gid)}, nil
}
