package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// maxFrameSize bounds a single message. Command output dominates frame
// size; anything past this indicates a protocol error, not real data.
const maxFrameSize = 16 << 20

// WriteMessage frames and writes one envelope.
func WriteMessage(w io.Writer, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: marshal message: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("ipc: message too large (%d bytes)", len(data))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return wrapTransport("write", err)
	}
	if _, err := w.Write(data); err != nil {
		return wrapTransport("write", err)
	}
	return nil
}

// ReadMessage reads one framed envelope. A cleanly closed or broken
// connection surfaces as ErrChannelClosed.
func ReadMessage(r io.Reader) (*Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, wrapTransport("read", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("ipc: frame too large (%d bytes)", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, wrapTransport("read", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ipc: decode message: %w", err)
	}
	return &env, nil
}

// wrapTransport maps I/O failures onto ErrChannelClosed so callers can
// test with errors.Is rather than matching syscall errors.
func wrapTransport(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("ipc: %s: %w", op, ErrChannelClosed)
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return fmt.Errorf("ipc: %s: %v: %w", op, err, ErrChannelClosed)
	}
	return fmt.Errorf("ipc: %s: %w", op, err)
}
