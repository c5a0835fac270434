package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/irisrun/iris/internal/telemetry/logger"
)

// NATSConfig configures the NATS-backed bus, grounded on the teacher's
// events/bus.NewNATSEventBus connection options.
type NATSConfig struct {
	URL           string
	ClientID      string
	MaxReconnects int
}

// NATSBus implements Publisher over a NATS connection, for processes that
// want cross-process dashboard fan-out rather than the in-memory ChannelBus.
type NATSBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// NewNATSBus connects to NATS with the teacher's reconnection/backoff
// options and status-change logging.
func NewNATSBus(cfg NATSConfig, log *logger.Logger) (*NATSBus, error) {
	if log == nil {
		log = logger.NewNop()
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSBus{conn: conn, logger: log}, nil
}

// Publish implements Publisher.
func (b *NATSBus) Publish(ctx context.Context, subject string, payload any) error {
	ev := Event{Subject: subject, Payload: payload, Timestamp: time.Now()}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Error("publish event failed", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (b *NATSBus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("error draining nats connection", zap.Error(err))
		b.conn.Close()
	}
}
