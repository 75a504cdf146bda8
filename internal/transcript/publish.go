package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher receives every completed turn. Implementations must not block
// for long; they are called from the session's event loop.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, rec TurnRecord) error
}

// PublisherFunc adapts an ordinary function to the [Publisher] interface.
type PublisherFunc func(ctx context.Context, sessionID string, rec TurnRecord) error

// Publish implements [Publisher].
func (f PublisherFunc) Publish(ctx context.Context, sessionID string, rec TurnRecord) error {
	return f(ctx, sessionID, rec)
}

// TurnEvent is the JSON document published for each completed turn.
type TurnEvent struct {
	SessionID string `json:"session_id"`
	TurnRecord
}

// natsConn is the part of [nats.Conn] the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes completed turns as JSON [TurnEvent] documents on a
// NATS subject. nats.go buffers outgoing messages and flushes them from its
// own goroutine, so Publish returns without waiting on the network.
type NATSPublisher struct {
	conn      natsConn
	subject   string
	closeFn   func() error
	connected func() bool
}

// NewNATSPublisher publishes on subject through an existing connection. The
// caller keeps ownership of conn.
func NewNATSPublisher(conn natsConn, subject string) *NATSPublisher {
	return &NATSPublisher{
		conn:      conn,
		subject:   subject,
		closeFn:   func() error { return nil },
		connected: func() bool { return true },
	}
}

// DialNATS connects to the NATS servers at url and returns a publisher that
// owns the connection.
func DialNATS(url, subject string, timeout time.Duration) (*NATSPublisher, error) {
	if subject == "" {
		return nil, errors.New("transcript: nats subject is empty")
	}
	nc, err := nats.Connect(url,
		nats.Name("livetalk"),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("transcript: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("transcript: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("transcript: connect to nats: %w", err)
	}
	slog.Info("transcript: publishing turns to NATS", "url", url, "subject", subject)
	return &NATSPublisher{
		conn:      nc,
		subject:   subject,
		closeFn: func() error {
			err := nc.Drain()
			nc.Close()
			return err
		},
		connected: func() bool { return nc.Status() == nats.CONNECTED },
	}, nil
}

// Publish implements [Publisher].
func (p *NATSPublisher) Publish(_ context.Context, sessionID string, rec TurnRecord) error {
	data, err := json.Marshal(TurnEvent{SessionID: sessionID, TurnRecord: rec})
	if err != nil {
		return fmt.Errorf("transcript: marshal turn: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("transcript: publish to %s: %w", p.subject, err)
	}
	return nil
}

// Connected reports whether the publisher can currently reach NATS. A
// publisher over a borrowed connection always reports true.
func (p *NATSPublisher) Connected() bool {
	return p.connected()
}

// Close flushes pending messages and closes the connection if the publisher
// owns it.
func (p *NATSPublisher) Close() error {
	return p.closeFn()
}
