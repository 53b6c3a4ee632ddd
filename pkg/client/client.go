// Package client implements the runtime command protocol's client
// half described by spec §4.3: connect to the rendezvous socket, read
// the RTR greeting, send exactly one framed command, read exactly one
// framed response. It is used by cmd/crinit-ctl and is safe to import
// from other Go programs that want to talk to a running daemon.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/crinit-go/crinit/internal/rtimcmd"
)

// Client is a thin wrapper around the rendezvous socket path. It holds
// no persistent connection: every call dials, round-trips, and closes,
// matching the protocol's "exactly one request per connection"
// contract.
type Client struct {
	SockFile string
	Timeout  time.Duration
}

// New returns a Client bound to sockFile with a 5-second Timeout. A
// Client whose Timeout is zero sets no deadline on the exchange itself;
// dialing still gives up after 5 seconds.
func New(sockFile string) *Client {
	return &Client{SockFile: sockFile, Timeout: 5 * time.Second}
}

// Do sends one command and returns its response.
func (c *Client) Do(op rtimcmd.Opcode, args ...string) (rtimcmd.Response, error) {
	cmd, err := rtimcmd.Build(op, args)
	if err != nil {
		return rtimcmd.Response{}, err
	}

	conn, err := net.DialTimeout("unix", c.SockFile, dialTimeout(c.Timeout))
	if err != nil {
		return rtimcmd.Response{}, fmt.Errorf("client: dial %s: %w", c.SockFile, err)
	}
	defer conn.Close()

	if c.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	}

	greeting, err := rtimcmd.ReadFramed(conn)
	if err != nil {
		return rtimcmd.Response{}, fmt.Errorf("client: read greeting: %w", err)
	}
	if string(greeting) != rtimcmd.RTR {
		return rtimcmd.Response{}, fmt.Errorf("client: unexpected greeting %q", greeting)
	}

	if err := rtimcmd.WriteFramed(conn, rtimcmd.Serialize(cmd)); err != nil {
		return rtimcmd.Response{}, fmt.Errorf("client: write command: %w", err)
	}

	payload, err := rtimcmd.ReadFramed(conn)
	if err != nil {
		return rtimcmd.Response{}, fmt.Errorf("client: read response: %w", err)
	}

	return rtimcmd.ParseResponse(payload)
}

func dialTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// AddTask sends ADDTASK.
func (c *Client) AddTask(path string, overwrite bool, forceDeps string) (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpAddTask, path, boolStr(overwrite), forceDeps)
}

// AddSeries sends ADDSERIES.
func (c *Client) AddSeries(path string, overwriteTasks bool) (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpAddSeries, path, boolStr(overwriteTasks))
}

// Enable sends ENABLE.
func (c *Client) Enable(name string) (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpEnable, name)
}

// Disable sends DISABLE.
func (c *Client) Disable(name string) (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpDisable, name)
}

// Stop sends STOP.
func (c *Client) Stop(name string) (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpStop, name)
}

// Kill sends KILL.
func (c *Client) Kill(name string) (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpKill, name)
}

// Restart sends RESTART.
func (c *Client) Restart(name string) (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpRestart, name)
}

// Notify sends NOTIFY.
func (c *Client) Notify(name string, kvs ...string) (rtimcmd.Response, error) {
	args := append([]string{name}, kvs...)
	return c.Do(rtimcmd.OpNotify, args...)
}

// Status sends STATUS.
func (c *Client) Status(name string) (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpStatus, name)
}

// TaskList sends TASKLIST.
func (c *Client) TaskList() (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpTaskList)
}

// Shutdown sends SHUTDOWN.
func (c *Client) Shutdown(cmdStr string) (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpShutdown, cmdStr)
}

// GetVer sends GETVER.
func (c *Client) GetVer() (rtimcmd.Response, error) {
	return c.Do(rtimcmd.OpGetVer)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
