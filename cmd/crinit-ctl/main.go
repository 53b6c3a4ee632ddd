// Command crinit-ctl is the CLI client for the runtime command
// protocol described by spec §4.3. Each runtime command gets its own
// hashicorp/cli subcommand; autocompletion of task names is provided
// via posener/complete by querying TASKLIST against the configured
// socket.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/crinit-go/crinit/internal/version"
	"github.com/crinit-go/crinit/pkg/client"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	major, minor, micro, _ := version.Strings()
	ver := fmt.Sprintf("%s.%s.%s", major, minor, micro)

	ui := &cli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
		Reader:      os.Stdin,
	}

	meta := &Meta{UI: ui}

	c := cli.NewCLI("crinit-ctl", ver)
	c.Args = args
	c.Commands = Commands(meta)

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

// Meta holds state shared by every subcommand: the output UI and the
// resolved rendezvous socket path.
type Meta struct {
	UI       cli.Ui
	SockFile string
}

// flagSockFile returns the -sock flag default, honoring CRINIT_SOCK.
func (m *Meta) flagSockFile() string {
	if m.SockFile != "" {
		return m.SockFile
	}
	if v := os.Getenv("CRINIT_SOCK"); v != "" {
		return v
	}
	return "/run/crinit/crinit.sock"
}

func (m *Meta) newClient(sockFile string) *client.Client {
	if sockFile == "" {
		sockFile = m.flagSockFile()
	}
	return client.New(sockFile)
}

// Commands returns the full subcommand factory map.
func Commands(meta *Meta) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"addtask": func() (cli.Command, error) {
			return &AddTaskCommand{Meta: meta}, nil
		},
		"addseries": func() (cli.Command, error) {
			return &AddSeriesCommand{Meta: meta}, nil
		},
		"enable": func() (cli.Command, error) {
			return &EnableCommand{Meta: meta}, nil
		},
		"disable": func() (cli.Command, error) {
			return &DisableCommand{Meta: meta}, nil
		},
		"stop": func() (cli.Command, error) {
			return &StopCommand{Meta: meta}, nil
		},
		"kill": func() (cli.Command, error) {
			return &KillCommand{Meta: meta}, nil
		},
		"restart": func() (cli.Command, error) {
			return &RestartCommand{Meta: meta}, nil
		},
		"notify": func() (cli.Command, error) {
			return &NotifyCommand{Meta: meta}, nil
		},
		"status": func() (cli.Command, error) {
			return &StatusCommand{Meta: meta}, nil
		},
		"list": func() (cli.Command, error) {
			return &TaskListCommand{Meta: meta}, nil
		},
		"shutdown": func() (cli.Command, error) {
			return &ShutdownCommand{Meta: meta}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{Meta: meta}, nil
		},
	}
}
