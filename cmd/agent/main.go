// Package main is the entry point for the adminmcp shell execution
// agent.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// Load .env for any additional env vars
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("adminmcp-agent"),
		kong.Description("PTY-backed shell execution agent with policy-gated command admission."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Run prints version information.
func (v *VersionCmd) Run() error {
	fmt.Printf("adminmcp-agent version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
