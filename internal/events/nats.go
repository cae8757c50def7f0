package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
)

// NATSConfig holds broker connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns connection defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "vulnscope-core",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus implements Bus over a NATS connection.
type NATSBus struct {
	conn *nats.Conn
	log  *logging.Logger
}

// NewNATSBus connects to the broker and returns a bus over it.
func NewNATSBus(cfg NATSConfig, log *logging.Logger) (*NATSBus, error) {
	if log == nil {
		log = logging.Default()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("event bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("event bus reconnected")
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event broker: %w", err)
	}
	return &NATSBus{conn: conn, log: log}, nil
}

// Publish sends data on subject.
func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

// Subscribe registers a handler for a subject.
func (b *NATSBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		m := &Message{Subject: msg.Subject, Data: msg.Data, Timestamp: time.Now().UTC()}
		if err := handler(context.Background(), m); err != nil {
			b.log.Warn("event handler failed", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains the connection, letting in-flight messages complete.
func (b *NATSBus) Close() error {
	return b.conn.Drain()
}

// IsConnected reports broker connectivity.
func (b *NATSBus) IsConnected() bool {
	return b.conn.IsConnected()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Subject() string    { return s.sub.Subject }
func (s *natsSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }
