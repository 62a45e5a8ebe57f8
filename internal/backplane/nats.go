package backplane

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS core transport.
type NATSConfig struct {
	URL           string
	Name          string
	Subject       string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATSTransport publishes envelopes on one NATS subject without persistence.
type NATSTransport struct {
	nc      *nats.Conn
	subject string
}

// NewNATSTransport connects to NATS with unlimited reconnects.
func NewNATSTransport(cfg NATSConfig) (*NATSTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: nats url", ErrMissingEndpoint)
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	return &NATSTransport{nc: nc, subject: cfg.Subject}, nil
}

func (t *NATSTransport) Name() string { return "nats" }

func (t *NATSTransport) Publish(ctx context.Context, payload []byte) error {
	return t.nc.Publish(t.subject, payload)
}

// Subscribe blocks until ctx ends.
func (t *NATSTransport) Subscribe(ctx context.Context, handler func(payload []byte)) error {
	sub, err := t.nc.Subscribe(t.subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", t.subject, err)
	}
	if err := t.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	return sub.Unsubscribe()
}

// Close drains pending messages before closing the connection.
func (t *NATSTransport) Close() error {
	return t.nc.Drain()
}
