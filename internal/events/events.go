// Package events mirrors resolved execution results onto a NATS
// subject so external observers can follow the agent without polling
// the audit trail. Publishing is best effort; the agent never fails a
// request because the broker is unreachable.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/adminmcp/agent/internal/logging"
)

// ResultEvent is the published payload, one per resolved request.
type ResultEvent struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	Command   string    `json:"command"`
	Mode      string    `json:"mode"`
	Status    string    `json:"status"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

// Publisher owns the broker connection. A nil Publisher discards
// everything.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *logging.Logger
}

// Connect dials the broker. The connection reconnects on its own; a
// publish during an outage is buffered or dropped by the client.
func Connect(url, subject string, logger *logging.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("adminmcp-agent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to event broker: %w", err)
	}
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger.WithComponent("events"),
	}, nil
}

// Publish mirrors one result. Failures are logged and swallowed.
func (p *Publisher) Publish(ev ResultEvent) {
	if p == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("encode result event", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Warn("publish result event", map[string]interface{}{"error": err.Error()})
	}
}

// Close flushes pending publishes and drops the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
