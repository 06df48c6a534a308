// Package events publishes attachment lifecycle events so interested
// services (UI notifier, billing) can react without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"tutorchat/pkg/domain"
)

const exchangeName = "tutorchat.attachments"

// ExtractedEvent announces that an attachment reached a terminal state.
type ExtractedEvent struct {
	AttachmentID string                 `json:"attachmentId"`
	State        domain.ExtractionState `json:"state"`
	OccurredAt   time.Time              `json:"occurredAt"`
}

// Publisher emits events to a RabbitMQ topic exchange. A nil *Publisher is
// valid and publishes nothing, so callers need no configuration checks.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewPublisher connects to RabbitMQ and declares the exchange.
func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, channel: channel, logger: logger}, nil
}

// PublishExtracted emits an attachment.extracted event. Failures are logged,
// never propagated: eventing is best-effort and must not disturb the
// extraction pipeline.
func (p *Publisher) PublishExtracted(ctx context.Context, attachmentID string, state domain.ExtractionState) {
	if p == nil {
		return
	}
	body, err := json.Marshal(ExtractedEvent{
		AttachmentID: attachmentID,
		State:        state,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("encode attachment event", "attachment_id", attachmentID, "error", err)
		return
	}
	routingKey := "attachment.extracted." + string(state)
	err = p.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("publish attachment event", "attachment_id", attachmentID, "error", err)
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}
