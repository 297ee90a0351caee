package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/shortlink/internal/app/model"
	"go.uber.org/zap"
)

// ClickMeta describes the request behind a resolution.
type ClickMeta struct {
	IP        string
	UserAgent string
	Referer   string
}

// ClickPublisher publishes click events to NATS JetStream after a resolution
// has committed. Publishing never affects the redirect outcome.
type ClickPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewClickPublisher creates a new click event publisher. A nil js yields a
// publisher that drops events.
func NewClickPublisher(js nats.JetStreamContext, logger *zap.Logger) *ClickPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickPublisher{js: js, logger: logger}
}

// Publish sends one event for res. Errors are logged and returned.
func (p *ClickPublisher) Publish(ctx context.Context, res *Resolution, meta ClickMeta) error {
	if p == nil || p.js == nil || res == nil {
		return nil
	}

	event := model.ClickEvent{
		ID:         uuid.New().String(),
		LinkID:     res.LinkID,
		LinkCode:   res.Code,
		ClickCount: res.ClickCount,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Referer:    meta.Referer,
		Timestamp:  time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal click event: %w", err)
	}

	// the event id doubles as the JetStream dedup id
	if _, err := p.js.Publish(model.ClickStreamSubject, data, nats.Context(ctx), nats.MsgId(event.ID)); err != nil {
		p.logger.Warn("failed to publish click event",
			zap.String("link_code", event.LinkCode),
			zap.Error(err),
		)
		return fmt.Errorf("publish click event: %w", err)
	}
	return nil
}
