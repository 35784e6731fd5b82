package ingest

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/objectstore"
)

// DefaultEventSubject is the NATS subject object-created notifications
// arrive on.
const DefaultEventSubject = "ragd.objects.created"

// Consumer feeds storage event notifications from NATS into the
// pipeline. Each message carries one object-created notification
// payload; decoding or processing failures are logged and the message
// is dropped, never redelivered.
type Consumer struct {
	conn         *nats.Conn
	orchestrator *Orchestrator
	subject      string
	queue        string
	logger       *zap.Logger

	sub *nats.Subscription
}

// NewConsumer creates a Consumer on the given subject. An empty subject
// selects DefaultEventSubject.
func NewConsumer(conn *nats.Conn, orchestrator *Orchestrator, subject string, logger *zap.Logger) *Consumer {
	if subject == "" {
		subject = DefaultEventSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		conn:         conn,
		orchestrator: orchestrator,
		subject:      subject,
		queue:        "ragd-ingest",
		logger:       logger,
	}
}

// Start subscribes to the event subject. Handlers run on the NATS
// delivery goroutine; the queue group ensures one daemon instance
// processes each notification.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.conn.QueueSubscribe(c.subject, c.queue, func(msg *nats.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.subject, err)
	}
	c.sub = sub

	c.logger.Info("event consumer started",
		zap.String("subject", c.subject),
		zap.String("queue", c.queue))
	return nil
}

// Stop unsubscribes from the event subject.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	events, err := objectstore.ParseEvents(msg.Data)
	if err != nil {
		c.logger.Error("dropping undecodable event message",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}

	items := c.orchestrator.ProcessBatch(ctx, events)
	for _, item := range items {
		if item.Err != nil {
			continue
		}
		if item.Result.Skipped {
			continue
		}
		c.logger.Debug("event processed",
			zap.String("key", item.Key),
			zap.Int("chunks_indexed", item.Result.ChunksIndexed))
	}
}
