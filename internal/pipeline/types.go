// Package pipeline implements the command admission pipeline: it
// classifies every incoming execution request into one of three
// policies and drives the corresponding flow against the terminal
// session.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mode is the execution policy for one request. The control plane's
// legacy names (logonly/watch/dialog) map onto these.
type Mode string

const (
	// ModeAutonomous executes immediately after the static rule check.
	ModeAutonomous Mode = "autonomous"
	// ModeReview injects the command into the terminal input without
	// executing it; a human watching the live terminal confirms by
	// pressing enter.
	ModeReview Mode = "review"
	// ModeTutor blocks on an explicit approve/deny/edit decision from
	// the confirmation surface before any shell write.
	ModeTutor Mode = "tutor"
)

// ParseMode maps a wire string to a Mode. Control-plane spellings are
// accepted as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "autonomous", "logonly":
		return ModeAutonomous, nil
	case "review", "watch":
		return ModeReview, nil
	case "tutor", "dialog":
		return ModeTutor, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

// Status is the terminal state of one request. Denials and timeouts
// are normal outcomes, not error paths.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusDenied    Status = "denied"
	StatusTimedOut  Status = "timed_out"
	StatusError     Status = "error"
)

// Request is one command admission request. It is immutable once
// submitted and identified by ID for the lifetime of the round trip.
type Request struct {
	ID      string
	Command string
	Mode    Mode
	Timeout time.Duration // zero means the pipeline default
}

// Result is produced exactly once per Request. ExitCode is nil when the
// shell did not report one (review mode, denials, timeouts, errors).
// Reason carries the diagnostic for denied/error outcomes.
type Result struct {
	ID       string
	Stdout   string
	Stderr   string
	ExitCode *int
	Status   Status
	Reason   string
}

// Decision is a human verdict on a tutor-mode request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
	DecisionEdit    Decision = "edit"
)

// Confirmation resolves a pending tutor-mode request. EditedCommand is
// set only for DecisionEdit.
type Confirmation struct {
	Decision      Decision
	EditedCommand string
}

// ConfirmFunc is the contract the confirmation surface implements. The
// pipeline blocks on it for tutor-mode requests; returning an error
// (surface closed, operator quit) is treated as an implicit deny.
type ConfirmFunc func(ctx context.Context, req Request) (Confirmation, error)

// Terminal is the slice of the terminal session the pipeline needs.
type Terminal interface {
	Write(p []byte) (int, error)
	ReadAvailable(ctx context.Context) ([]byte, error)
	Alive() bool
}
