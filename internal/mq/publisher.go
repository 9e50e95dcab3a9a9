package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrNotConfirmed is returned when the broker nacks a publish
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// Publisher publishes device tasks to the task exchange. The channel runs in
// confirm mode and Publish returns only once the broker has taken the
// message.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher opens a confirm-mode channel and declares the task exchange
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish sends one persistent JSON message and waits for the broker
// confirmation
func (p *Publisher) Publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}

	select {
	case <-confirm.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for publish confirmation: %w", ctx.Err())
	}
	if !confirm.Acked() {
		return ErrNotConfirmed
	}

	p.logger.Debug("published device task",
		zap.String("routing_key", routingKey),
		zap.String("message_id", messageID),
	)
	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
