package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/shortlink/internal/app/model"
	apprepository "github.com/sifan077/shortlink/internal/app/repository"
	"go.uber.org/zap"
)

const (
	clickFetchBatch   = 10
	clickFetchWait    = 5 * time.Second
	clickStoreTimeout = 5 * time.Second
)

// ClickConsumer consumes click events from NATS JetStream and stores them.
type ClickConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	repo   apprepository.ClickEventRepository
	done   chan struct{}
}

// NewClickConsumer creates a new click event consumer
func NewClickConsumer(js nats.JetStreamContext, logger *zap.Logger, repo apprepository.ClickEventRepository) *ClickConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickConsumer{js: js, logger: logger, repo: repo, done: make(chan struct{})}
}

// EnsureClickStream creates the click stream and durable consumer when missing.
func EnsureClickStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(model.ClickStreamName); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:       model.ClickStreamName,
			Subjects:   []string{model.ClickStreamSubject},
			MaxBytes:   model.ClickStreamMaxBytes,
			Duplicates: 2 * time.Minute,
		}); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	if _, err := js.ConsumerInfo(model.ClickStreamName, model.ClickConsumerName); err != nil {
		if _, err := js.AddConsumer(model.ClickStreamName, &nats.ConsumerConfig{
			Durable:   model.ClickConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		}); err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}
	return nil
}

// Start begins consuming click events until ctx is cancelled.
func (c *ClickConsumer) Start(ctx context.Context) error {
	if err := EnsureClickStream(c.js); err != nil {
		return err
	}

	sub, err := c.js.PullSubscribe(model.ClickStreamSubject, model.ClickConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

// Done is closed once the consume loop has exited.
func (c *ClickConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *ClickConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer close(c.done)
	defer func() { _ = sub.Unsubscribe() }()

	for {
		if ctx.Err() != nil {
			c.logger.Info("click consumer stopped")
			return
		}

		msgs, err := sub.Fetch(clickFetchBatch, nats.MaxWait(clickFetchWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			c.logger.Error("failed to fetch messages", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *ClickConsumer) handle(ctx context.Context, msg *nats.Msg) {
	var event model.ClickEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// a malformed payload will never decode, drop it
		c.logger.Error("failed to unmarshal click event", zap.Error(err))
		_ = msg.Term()
		return
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clickStoreTimeout)
	defer cancel()

	if err := c.repo.Create(storeCtx, &event); err != nil {
		c.logger.Error("failed to store click event",
			zap.String("id", event.ID),
			zap.String("link_code", event.LinkCode),
			zap.Error(err))
		_ = msg.Nak()
		return
	}

	c.logger.Debug("click event stored",
		zap.String("id", event.ID),
		zap.String("link_code", event.LinkCode),
		zap.Int64("click_count", event.ClickCount),
		zap.Time("timestamp", event.Timestamp),
	)
	_ = msg.Ack()
}
