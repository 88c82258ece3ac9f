// Package ipc provides the local message channel between the controller
// and the shell execution agent.
//
// Transport is a unix domain socket restricted to the invoking user.
// Messages are 4-byte big-endian length-prefixed JSON envelopes, so
// partial reads never corrupt message boundaries. Ordering is guaranteed
// only within a single request/response pair.
package ipc

import (
	"encoding/json"
	"errors"
)

// Envelope is the wire frame for every message in both directions. ID
// correlates a response with its request.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types.
const (
	TypeExecute = "execute"
	TypeResult  = "result"
	TypeError   = "error"
	TypeResize  = "resize"
)

// ExecutePayload asks the agent to run a command through the admission
// pipeline. Timeout is in seconds; zero means the agent default.
type ExecutePayload struct {
	Command string `json:"command"`
	Mode    string `json:"mode"`
	Timeout int    `json:"timeout"`
}

// ResultPayload is the agent's answer to an execute request. ExitCode
// is null when the shell did not report one (review mode, denials,
// timeouts).
type ResultPayload struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code"`
	Status   string `json:"status"`
}

// ErrorPayload carries a transport or dispatch level failure.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ResizePayload changes the PTY window size.
type ResizePayload struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// Transport errors. Neither is retried transparently: callers must
// re-establish the connection themselves.
var (
	// ErrConnectionRefused means no listener is bound at the endpoint.
	ErrConnectionRefused = errors.New("ipc: connection refused")
	// ErrChannelClosed means the connection broke at a send or receive.
	ErrChannelClosed = errors.New("ipc: channel closed")
)

// NewResult builds a result envelope correlated to the request id.
func NewResult(id string, payload ResultPayload) *Envelope {
	data, _ := json.Marshal(payload)
	return &Envelope{ID: id, Type: TypeResult, Payload: data}
}

// NewError builds an error envelope correlated to the request id.
func NewError(id string, msg string) *Envelope {
	data, _ := json.Marshal(ErrorPayload{Error: msg})
	return &Envelope{ID: id, Type: TypeError, Payload: data}
}
