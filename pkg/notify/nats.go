package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nicktill/dbpulse/pkg/models"
)

// NATSPublisher publishes alert events to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

// NewNATSPublisher connects to url. The connection keeps retrying in the
// background, so an unreachable server at startup is not an error.
func NewNATSPublisher(url, subject string, log *slog.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("module", "nats")

	conn, err := nats.Connect(url,
		nats.Name("dbpulse"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info("alert events will be published to NATS", "subject", subject)
	return &NATSPublisher{conn: conn, subject: subject, log: log}, nil
}

// Notify publishes ev. While reconnecting, messages are buffered by the client.
func (p *NATSPublisher) Notify(ctx context.Context, ev models.AlertEvent) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Name identifies the sink in health output.
func (p *NATSPublisher) Name() string { return "nats" }

// Check fails while the client is not connected (reconnecting, closed).
func (p *NATSPublisher) Check(ctx context.Context) error {
	if p.conn == nil {
		return errors.New("nats: no connection")
	}
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats: connection %s", p.conn.Status())
	}
	return nil
}

// Close flushes pending messages and disconnects.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	p.log.Info("disconnected from NATS")
}
