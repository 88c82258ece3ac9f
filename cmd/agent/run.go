// Package main provides agent startup and configuration loading.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/adminmcp/agent/internal/agent"
	"github.com/adminmcp/agent/internal/config"
	"github.com/adminmcp/agent/internal/logging"
	"github.com/adminmcp/agent/internal/pipeline"
)

// Run starts the agent and blocks until shutdown.
func (c *RunCmd) Run() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	c.applyOverrides(cfg)

	if _, err := pipeline.ParseMode(cfg.Agent.DefaultMode); err != nil {
		return err
	}

	logger, cleanup, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := agent.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *RunCmd) loadConfig() (*config.Config, error) {
	if c.Config != "" {
		return config.LoadFile(c.Config)
	}
	cfg, err := config.LoadFile("adminmcp.toml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func (c *RunCmd) applyOverrides(cfg *config.Config) {
	if c.Socket != "" {
		cfg.IPC.SocketPath = c.Socket
	}
	if c.Shell != "" {
		cfg.Shell.Path = c.Shell
	}
	if c.Mode != "" {
		cfg.Agent.DefaultMode = c.Mode
	}
	if c.Policy != "" {
		cfg.Policy.Path = c.Policy
	}
	if c.WatchPolicy {
		cfg.Policy.LiveReload = true
	}
	if c.Headless {
		cfg.Agent.Headless = true
	}
	if c.LogFile != "" {
		cfg.Log.File = c.LogFile
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
}

// buildLogger routes logs away from the terminal when the confirmation
// surface owns it.
func buildLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(f)
		return logger, func() { f.Close() }, nil
	}

	if !cfg.Agent.Headless {
		logger.SetOutput(io.Discard)
	}
	return logger, func() {}, nil
}
