package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Client is the controller side of the channel. A Client holds one
// connection; calls on it are serialized so a response is always
// matched to the request that produced it.
type Client struct {
	path string

	mu   sync.Mutex
	conn net.Conn
}

// Connect dials the agent's socket. A missing or unbound socket
// surfaces as ErrConnectionRefused; reconnect policy belongs to the
// caller.
func Connect(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		if isRefused(err) {
			return nil, fmt.Errorf("ipc: dial %s: %w", path, ErrConnectionRefused)
		}
		return nil, fmt.Errorf("ipc: dial %s: %w", path, err)
	}
	return &Client{path: path, conn: conn}, nil
}

func isRefused(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ECONNREFUSED || errno == syscall.ENOENT
	}
	return false
}

// Call sends a request and waits for its response. The context deadline
// bounds the whole round trip. A broken connection returns
// ErrChannelClosed and invalidates the client.
func (c *Client) Call(ctx context.Context, req *Envelope) (*Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrChannelClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := WriteMessage(c.conn, req); err != nil {
		c.teardown()
		return nil, err
	}
	resp, err := ReadMessage(c.conn)
	if err != nil {
		c.teardown()
		return nil, err
	}
	return resp, nil
}

// Execute is a convenience wrapper: it builds an execute envelope with
// a fresh correlation id, sends it, and decodes the result payload.
func (c *Client) Execute(ctx context.Context, payload ExecutePayload) (*ResultPayload, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal execute payload: %w", err)
	}
	req := &Envelope{ID: uuid.NewString(), Type: TypeExecute, Payload: data}

	resp, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	switch resp.Type {
	case TypeResult:
		var result ResultPayload
		if err := json.Unmarshal(resp.Payload, &result); err != nil {
			return nil, fmt.Errorf("ipc: decode result payload: %w", err)
		}
		return &result, nil
	case TypeError:
		var errPayload ErrorPayload
		if err := json.Unmarshal(resp.Payload, &errPayload); err != nil {
			return nil, fmt.Errorf("ipc: decode error payload: %w", err)
		}
		return nil, fmt.Errorf("ipc: agent error: %s", errPayload.Error)
	default:
		return nil, fmt.Errorf("ipc: unexpected response type %q", resp.Type)
	}
}

// Resize asks the agent to change the PTY window size.
func (c *Client) Resize(ctx context.Context, rows, cols uint16) error {
	data, err := json.Marshal(ResizePayload{Rows: rows, Cols: cols})
	if err != nil {
		return fmt.Errorf("ipc: marshal resize payload: %w", err)
	}
	req := &Envelope{ID: uuid.NewString(), Type: TypeResize, Payload: data}

	resp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	if resp.Type == TypeError {
		var errPayload ErrorPayload
		json.Unmarshal(resp.Payload, &errPayload)
		return fmt.Errorf("ipc: agent error: %s", errPayload.Error)
	}
	return nil
}

func (c *Client) teardown() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
