// Package tui provides the interactive confirmation surface: a live
// view of the terminal session with a modal prompt for tutor-mode
// requests.
package tui

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adminmcp/agent/internal/pipeline"
)

// ErrSurfaceClosed is returned by Confirm after the surface has shut
// down. The pipeline treats it as an implicit deny.
var ErrSurfaceClosed = errors.New("confirmation surface closed")

// outputMsg carries a chunk of terminal output into the model.
type outputMsg []byte

// confirmMsg enqueues a pending request for operator decision.
type confirmMsg struct {
	req   pipeline.Request
	reply chan pipeline.Confirmation
}

// Surface owns the Bubble Tea program and bridges it to the rest of
// the agent: output chunks stream in via Append, tutor-mode requests
// block in Confirm until the operator decides.
type Surface struct {
	prog *tea.Program

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// New builds a Surface around the given session title.
func New(title string) *Surface {
	s := &Surface{done: make(chan struct{})}
	s.prog = tea.NewProgram(
		newModel(title),
		tea.WithAltScreen(),
	)
	return s
}

// Run blocks until the operator quits or Quit is called. Any requests
// still pending when the program exits are denied.
func (s *Surface) Run() error {
	_, err := s.prog.Run()
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
	return err
}

// Quit asks the program to exit. Pending confirmations resolve as
// denials on the way out.
func (s *Surface) Quit() {
	s.prog.Quit()
}

// Append streams a chunk of terminal output into the live view.
func (s *Surface) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	out := make([]byte, len(chunk))
	copy(out, chunk)
	s.prog.Send(outputMsg(out))
}

// Confirm implements pipeline.ConfirmFunc. It parks the request in the
// operator's queue and blocks until a decision arrives, the context
// expires, or the surface shuts down.
func (s *Surface) Confirm(ctx context.Context, req pipeline.Request) (pipeline.Confirmation, error) {
	reply := make(chan pipeline.Confirmation, 1)
	s.prog.Send(confirmMsg{req: req, reply: reply})

	select {
	case conf := <-reply:
		return conf, nil
	case <-ctx.Done():
		return pipeline.Confirmation{}, ctx.Err()
	case <-s.done:
		// The model denies pending requests on quit, but the reply may
		// race with shutdown.
		select {
		case conf := <-reply:
			return conf, nil
		default:
			return pipeline.Confirmation{}, ErrSurfaceClosed
		}
	}
}
