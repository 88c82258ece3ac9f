// Package main defines the CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Start the shell execution agent"`
	Exec    ExecCmd    `cmd:"" help:"Send a command to a running agent"`
	Resize  ResizeCmd  `cmd:"" help:"Resize the agent's terminal"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd starts the agent process.
type RunCmd struct {
	Config      string `short:"c" help:"Config file path (default: ./adminmcp.toml if present)"`
	Socket      string `help:"Unix socket path override"`
	Shell       string `help:"Shell executable override"`
	Mode        string `help:"Default execution mode (autonomous|review|tutor)"`
	Policy      string `help:"Policy rules file (YAML)"`
	WatchPolicy bool   `help:"Reload the policy file on change"`
	Headless    bool   `help:"Run without the confirmation surface"`
	LogFile     string `help:"Log file path"`
	LogLevel    string `help:"Log level (debug|info|warn|error)"`
}

// ExecCmd sends one command through a running agent.
type ExecCmd struct {
	Command []string `arg:"" help:"Command to execute"`
	Socket  string   `help:"Unix socket path override"`
	Mode    string   `short:"m" help:"Execution mode (defaults to the agent's)"`
	Timeout int      `short:"t" default:"30" help:"Timeout in seconds"`
	JSON    bool     `help:"Print the raw result payload as JSON"`
}

// ResizeCmd changes the agent's terminal dimensions.
type ResizeCmd struct {
	Rows   uint16 `arg:"" help:"Terminal rows"`
	Cols   uint16 `arg:"" help:"Terminal columns"`
	Socket string `help:"Unix socket path override"`
}

// VersionCmd prints build information.
type VersionCmd struct{}
