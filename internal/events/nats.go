package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes settled events on core NATS subjects
type NATSPublisher struct {
	conn   *nats.Conn
	closed atomic.Bool
}

// NewNATSPublisher connects to url and reconnects forever on connection loss
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("mcpwizard"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS connection lost")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("NATS connection restored")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// NewNATSPublisherFromConn wraps an existing connection
func NewNATSPublisherFromConn(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// PublishSettled publishes event on its session subject
func (p *NATSPublisher) PublishSettled(ctx context.Context, event TaskSettled) error {
	if p.closed.Load() {
		return ErrClosed
	}
	data, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(Subject(event.ServerId), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
