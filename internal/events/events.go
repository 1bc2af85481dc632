// Package events announces completed ingestions on NATS so that other
// processes can react to new page content.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/config"
)

// publishTimeout bounds the flush when the caller's context has no
// earlier deadline.
const publishTimeout = 5 * time.Second

// DocumentIngested is published once per successful ingestion.
type DocumentIngested struct {
	Collection string    `json:"collection"`
	SourceRef  string    `json:"source_ref"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Publisher sends ingestion events.
type Publisher interface {
	DocumentIngested(ctx context.Context, ev DocumentIngested) error
	Close() error
}

// NATSPublisher publishes JSON events on a single subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// Connect dials url and returns a publisher for subject.
func Connect(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("events: subject is required")
	}
	nc, err := nats.Connect(url,
		nats.Name("screenpilot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url), zap.String("subject", subject))
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}, nil
}

// DocumentIngested publishes ev and flushes, so a nil error means the server
// accepted the message.
func (p *NATSPublisher) DocumentIngested(ctx context.Context, ev DocumentIngested) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	fctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.nc.FlushWithContext(fctx); err != nil {
		return fmt.Errorf("flush %s: %w", p.subject, err)
	}
	p.logger.Debug("published ingestion event",
		zap.String("subject", p.subject),
		zap.String("source_ref", ev.SourceRef),
		zap.Int("chunks", ev.Chunks))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Nop discards events.
type Nop struct{}

func (Nop) DocumentIngested(context.Context, DocumentIngested) error { return nil }
func (Nop) Close() error                                            { return nil }

// New returns a NATS publisher when cfg names a server, otherwise Nop.
func New(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	if cfg.NATSURL == "" {
		return Nop{}, nil
	}
	p, err := Connect(cfg.NATSURL, cfg.Subject, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = Nop{}
)
