// Package agent wires the terminal session, admission pipeline, policy
// engine, message channel, and confirmation surface into one process.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adminmcp/agent/internal/audit"
	"github.com/adminmcp/agent/internal/config"
	"github.com/adminmcp/agent/internal/events"
	"github.com/adminmcp/agent/internal/ipc"
	"github.com/adminmcp/agent/internal/logging"
	"github.com/adminmcp/agent/internal/pipeline"
	"github.com/adminmcp/agent/internal/policy"
	"github.com/adminmcp/agent/internal/term"
	"github.com/adminmcp/agent/internal/tui"
)

// Agent is the composed shell execution agent. Build one with New,
// drive it with Run, and it tears everything down on exit.
type Agent struct {
	cfg    *config.Config
	logger *logging.Logger

	session   *term.Session
	engine    *policy.Engine
	watcher   *policy.Watcher
	pipe      *pipeline.Pipeline
	server    *ipc.Server
	surface   *tui.Surface
	recorder  *audit.Recorder
	publisher *events.Publisher
}

// New assembles an agent from configuration. The shell is spawned
// here; a spawn failure means no agent.
func New(cfg *config.Config, logger *logging.Logger) (*Agent, error) {
	a := &Agent{cfg: cfg, logger: logger.WithComponent("agent")}

	rules, err := loadRules(cfg)
	if err != nil {
		return nil, err
	}
	a.engine, err = policy.NewEngine(rules)
	if err != nil {
		return nil, fmt.Errorf("compile policy rules: %w", err)
	}

	a.session, err = term.Spawn(term.Options{
		Shell: cfg.Shell.Path,
		Args:  cfg.Shell.Args,
		Rows:  uint16(cfg.Shell.Rows),
		Cols:  uint16(cfg.Shell.Cols),
	}, logger)
	if err != nil {
		return nil, err
	}

	var confirm pipeline.ConfirmFunc
	if !cfg.Agent.Headless {
		a.surface = tui.New("adminmcp · " + cfg.Shell.Path)
		confirm = a.surface.Confirm
	}

	a.pipe = pipeline.New(pipeline.Options{
		Terminal:       a.session,
		Engine:         a.engine,
		Confirm:        confirm,
		Logger:         logger,
		DefaultTimeout: cfg.DefaultTimeout(),
	})

	if cfg.Audit.Enabled {
		a.recorder, err = audit.NewRecorder(cfg.AuditDir())
		if err != nil {
			a.session.Close()
			return nil, err
		}
	}

	if cfg.Events.NATSURL != "" {
		a.publisher, err = events.Connect(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			// The broker is an observer, not a dependency.
			a.logger.Warn("event broker unavailable", map[string]interface{}{"error": err.Error()})
		}
	}

	a.server = ipc.NewServer(cfg.SocketPath(), a.handle, logger)

	if cfg.Policy.LiveReload && cfg.Policy.Path != "" {
		a.watcher, err = policy.Watch(a.engine, cfg.Policy.Path, func(err error) {
			a.logger.Warn("policy reload failed", map[string]interface{}{"error": err.Error()})
		})
		if err != nil {
			a.logger.Warn("policy watch unavailable", map[string]interface{}{"error": err.Error()})
		}
	}

	return a, nil
}

func loadRules(cfg *config.Config) (*policy.Rules, error) {
	if cfg.Policy.Path == "" {
		return nil, nil
	}
	rules, err := policy.LoadRules(cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("load policy rules: %w", err)
	}
	return rules, nil
}

// Run starts the message channel and blocks until the context is
// canceled, the confirmation surface exits, or the process is done.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.server.Start(); err != nil {
		a.shutdown()
		return err
	}
	defer a.shutdown()

	stopMirror := a.mirrorOutput()
	defer stopMirror()

	a.logger.Info("agent ready", map[string]interface{}{
		"socket": a.cfg.SocketPath(),
		"shell":  a.cfg.Shell.Path,
		"pid":    a.session.Pid(),
	})

	if a.surface != nil {
		done := make(chan error, 1)
		go func() { done <- a.surface.Run() }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			a.surface.Quit()
			<-done
			return ctx.Err()
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// mirrorOutput streams shell output into the confirmation surface so
// the operator sees the live terminal.
func (a *Agent) mirrorOutput() func() {
	if a.surface == nil {
		return func() {}
	}
	sub, cancel := a.session.Subscribe()
	go func() {
		for chunk := range sub {
			a.surface.Append(chunk)
		}
	}()
	return cancel
}

func (a *Agent) shutdown() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.server != nil {
		a.server.Close()
	}
	a.publisher.Close()
	a.recorder.Close()
	if a.session != nil {
		a.session.Close()
	}
}

// handle dispatches one envelope from the message channel.
func (a *Agent) handle(ctx context.Context, env *ipc.Envelope) *ipc.Envelope {
	switch env.Type {
	case ipc.TypeExecute:
		return a.handleExecute(ctx, env)
	case ipc.TypeResize:
		return a.handleResize(env)
	default:
		return ipc.NewError(env.ID, fmt.Sprintf("unknown message type %q", env.Type))
	}
}

func (a *Agent) handleExecute(ctx context.Context, env *ipc.Envelope) *ipc.Envelope {
	var payload ipc.ExecutePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return ipc.NewError(env.ID, "malformed execute payload: "+err.Error())
	}

	modeName := payload.Mode
	if modeName == "" {
		modeName = a.cfg.Agent.DefaultMode
	}
	mode, err := pipeline.ParseMode(modeName)
	if err != nil {
		return ipc.NewError(env.ID, err.Error())
	}

	if !a.session.Alive() {
		return ipc.NewError(env.ID, "shell session is not running")
	}

	req := pipeline.Request{
		ID:      env.ID,
		Command: payload.Command,
		Mode:    mode,
		Timeout: a.clampTimeout(payload.Timeout),
	}

	start := time.Now()
	res := a.pipe.Execute(ctx, req)
	a.record(req, res, time.Since(start))

	out := ipc.ResultPayload{
		Stdout:   res.Stdout,
		ExitCode: res.ExitCode,
		Status:   string(res.Status),
	}
	// The PTY merges the command's streams into Stdout; Stderr is
	// reserved for the agent's own diagnostics.
	if res.Status == pipeline.StatusDenied || res.Status == pipeline.StatusError || res.Status == pipeline.StatusTimedOut {
		out.Stderr = res.Reason
	}
	return ipc.NewResult(env.ID, out)
}

func (a *Agent) handleResize(env *ipc.Envelope) *ipc.Envelope {
	var payload ipc.ResizePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return ipc.NewError(env.ID, "malformed resize payload: "+err.Error())
	}
	if payload.Rows == 0 || payload.Cols == 0 {
		return ipc.NewError(env.ID, "resize dimensions must be positive")
	}
	if err := a.session.Resize(payload.Rows, payload.Cols); err != nil {
		return ipc.NewError(env.ID, "resize: "+err.Error())
	}
	return ipc.NewResult(env.ID, ipc.ResultPayload{Status: string(pipeline.StatusCompleted)})
}

// clampTimeout converts the wire timeout (seconds) into a duration
// bounded by the configured ceiling.
func (a *Agent) clampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	d := time.Duration(seconds) * time.Second
	if maxT := a.cfg.MaxTimeout(); d > maxT {
		return maxT
	}
	return d
}

func (a *Agent) record(req pipeline.Request, res pipeline.Result, took time.Duration) {
	if err := a.recorder.Append(audit.Record{
		RequestID:  res.ID,
		Command:    req.Command,
		Mode:       string(req.Mode),
		Status:     string(res.Status),
		ExitCode:   res.ExitCode,
		Reason:     res.Reason,
		DurationMS: took.Milliseconds(),
	}); err != nil {
		a.logger.Warn("audit append failed", map[string]interface{}{"error": err.Error()})
	}

	a.publisher.Publish(events.ResultEvent{
		RequestID: res.ID,
		Command:   req.Command,
		Mode:      string(req.Mode),
		Status:    string(res.Status),
		ExitCode:  res.ExitCode,
	})
}
