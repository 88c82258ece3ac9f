package main

import (
	"testing"

	"github.com/alecthomas/kong"
)

func TestRunCmd_Defaults(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"run"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.Headless {
		t.Error("expected headless to default to false")
	}
	if cli.Run.Config != "" {
		t.Errorf("expected empty default config path, got %q", cli.Run.Config)
	}
}

func TestRunCmd_AllFlags(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{
		"run",
		"--socket", "/tmp/test.sock",
		"--shell", "/bin/zsh",
		"--mode", "review",
		"--policy", "rules.yaml",
		"--watch-policy",
		"--headless",
		"--log-level", "debug",
	})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.Socket != "/tmp/test.sock" {
		t.Errorf("socket = %q", cli.Run.Socket)
	}
	if cli.Run.Mode != "review" {
		t.Errorf("mode = %q", cli.Run.Mode)
	}
	if !cli.Run.WatchPolicy || !cli.Run.Headless {
		t.Error("boolean flags not set")
	}
}

func TestExecCmd_Defaults(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"exec", "ls", "-l", "/tmp"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Exec.Timeout != 30 {
		t.Errorf("expected default timeout 30, got %d", cli.Exec.Timeout)
	}
	if cli.Exec.Mode != "" {
		t.Errorf("expected empty default mode, got %q", cli.Exec.Mode)
	}
	if len(cli.Exec.Command) != 3 {
		t.Errorf("command = %v", cli.Exec.Command)
	}
}

func TestExecCmd_ModeAndTimeout(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"exec", "-m", "tutor", "-t", "120", "df", "-h"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Exec.Mode != "tutor" {
		t.Errorf("mode = %q", cli.Exec.Mode)
	}
	if cli.Exec.Timeout != 120 {
		t.Errorf("timeout = %d", cli.Exec.Timeout)
	}
}

func TestResizeCmd_Args(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"resize", "40", "120"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Resize.Rows != 40 || cli.Resize.Cols != 120 {
		t.Errorf("rows/cols = %d/%d", cli.Resize.Rows, cli.Resize.Cols)
	}
}
