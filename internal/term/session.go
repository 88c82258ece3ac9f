// Package term owns the pseudo-terminal backed shell session.
package term

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/adminmcp/agent/internal/logging"
)

// ErrSessionClosed is returned by Write after the shell has exited or
// the session was closed.
var ErrSessionClosed = errors.New("terminal session closed")

// SpawnError wraps a failure to start the shell process. It is fatal:
// the agent refuses to start without a live session.
type SpawnError struct {
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn shell %s: %v", e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Options configure the spawned shell.
type Options struct {
	Shell string   // executable path, default /bin/bash
	Args  []string // extra arguments
	Rows  uint16
	Cols  uint16
	Env   []string // nil = inherit
}

// Session is a shell process attached to a PTY master. All writes
// mutate real shell state (cwd, environment) across requests; that is
// the point of an interactive session. Session is safe for concurrent
// use, but callers that need write-then-read atomicity must serialize
// externally (the admission pipeline holds that lock).
type Session struct {
	ptmx   *os.File
	cmd    *exec.Cmd
	logger *logging.Logger

	mu      sync.Mutex
	pending bytes.Buffer // output accumulated since the last read
	notify  chan struct{}
	subs    map[int]chan []byte
	nextSub int

	done     chan struct{} // closed when the shell process exits
	exitOnce sync.Once
	closed   bool
}

// Spawn starts the shell attached to a fresh PTY pair and begins
// pumping its output.
func Spawn(opts Options, logger *logging.Logger) (*Session, error) {
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if logger == nil {
		logger = logging.New()
	}

	cmd := exec.Command(opts.Shell, opts.Args...)
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, &SpawnError{Shell: opts.Shell, Err: err}
	}

	s := &Session{
		ptmx:   ptmx,
		cmd:    cmd,
		logger: logger.WithComponent("term"),
		notify: make(chan struct{}, 1),
		subs:   make(map[int]chan []byte),
		done:   make(chan struct{}),
	}

	go s.pump()
	go s.wait()

	s.logger.Info("shell started", map[string]interface{}{
		"shell": opts.Shell,
		"pid":   cmd.Process.Pid,
	})
	return s, nil
}

// pump drains the PTY master into the pending buffer and fans bytes out
// to subscribers. It exits when the master read fails (shell exited or
// session closed).
func (s *Session) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.mu.Lock()
			s.pending.Write(data)
			for _, ch := range s.subs {
				select {
				case ch <- data:
				default: // slow subscriber, drop rather than stall the pump
				}
			}
			s.mu.Unlock()

			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

// wait reaps the shell process and marks the session dead.
func (s *Session) wait() {
	s.cmd.Wait()
	s.exitOnce.Do(func() {
		close(s.done)
		s.logger.SessionDead(s.cmd.Process.Pid)
	})
}

// Write appends bytes to the terminal's input side. No newline is added:
// callers must terminate commands explicitly when they want execution
// rather than buffer injection.
func (s *Session) Write(p []byte) (int, error) {
	if !s.Alive() {
		return 0, ErrSessionClosed
	}
	n, err := s.ptmx.Write(p)
	if err != nil {
		return n, fmt.Errorf("terminal write: %w", err)
	}
	return n, nil
}

// ReadAvailable returns output accumulated since the last read, waiting
// up to the context deadline for the first bytes. A timeout with no data
// returns an empty slice and no error.
func (s *Session) ReadAvailable(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if s.pending.Len() > 0 {
			data := make([]byte, s.pending.Len())
			s.pending.Read(data)
			s.mu.Unlock()
			return data, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil
		case <-s.done:
			// Shell exited; surface whatever is buffered on the next loop,
			// then report closed.
			s.mu.Lock()
			empty := s.pending.Len() == 0
			s.mu.Unlock()
			if empty {
				return nil, ErrSessionClosed
			}
		case <-s.notify:
		}
	}
}

// Subscribe returns a channel receiving raw output as it is produced,
// independent of ReadAvailable consumption. Used by the confirmation
// surface to mirror the live terminal.
func (s *Session) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 256)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Alive reports whether the shell process is still running.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return !closed
}

// Pid returns the shell process id.
func (s *Session) Pid() int {
	return s.cmd.Process.Pid
}

// Resize changes the PTY window dimensions.
func (s *Session) Resize(rows, cols uint16) error {
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("terminal resize: %w", err)
	}
	return nil
}

// Close terminates the shell with SIGTERM, escalating to SIGKILL if it
// has not exited within a grace period, and releases the PTY.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		s.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-s.done:
		case <-time.After(3 * time.Second):
			s.cmd.Process.Kill()
		}
	}
	return s.ptmx.Close()
}
