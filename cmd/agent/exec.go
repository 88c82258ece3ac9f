// Package main provides the controller-side exec and resize commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adminmcp/agent/internal/config"
	"github.com/adminmcp/agent/internal/ipc"
)

// Exit codes for non-completed outcomes, following the timeout(1)
// convention for 124.
const (
	exitTimedOut = 124
	exitError    = 125
	exitDenied   = 126
)

// Run sends the command to the agent and relays the result.
func (c *ExecCmd) Run() error {
	client, err := dial(c.Socket)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.Timeout)*time.Second+5*time.Second)
	defer cancel()

	res, err := client.Execute(ctx, ipc.ExecutePayload{
		Command: strings.Join(c.Command, " "),
		Mode:    c.Mode,
		Timeout: c.Timeout,
	})
	if err != nil {
		return err
	}

	if c.JSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if res.Stdout != "" {
		fmt.Println(res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprintln(os.Stderr, res.Stderr)
	}

	switch res.Status {
	case "completed":
		if res.ExitCode != nil && *res.ExitCode != 0 {
			os.Exit(*res.ExitCode)
		}
		return nil
	case "denied":
		os.Exit(exitDenied)
	case "timed_out":
		os.Exit(exitTimedOut)
	default:
		os.Exit(exitError)
	}
	return nil
}

// Run resizes the agent's terminal.
func (c *ResizeCmd) Run() error {
	client, err := dial(c.Socket)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Resize(ctx, c.Rows, c.Cols)
}

// dial connects to the agent socket, preferring the override over the
// default uid-scoped path.
func dial(socket string) (*ipc.Client, error) {
	if socket == "" {
		socket = config.Default().SocketPath()
	}
	client, err := ipc.Connect(socket)
	if errors.Is(err, ipc.ErrConnectionRefused) {
		return nil, fmt.Errorf("no agent is listening on %s (is it running?)", socket)
	}
	return client, err
}
