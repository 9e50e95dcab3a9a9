package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Delivery is the part of a broker message a handler needs
type Delivery struct {
	MessageID  string
	RoutingKey string
	Body       []byte
}

// MessageHandler processes one delivery. A nil error acks the message; any
// error rejects it without requeue so it lands in the dead-letter queue.
type MessageHandler func(ctx context.Context, d Delivery) error

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection    *Connection
	Exchange      string
	Queue         string
	BindingKey    string
	DLQQueue      string
	PrefetchCount int
	Logger        *zap.Logger
	Handler       MessageHandler
}

// Consumer drains the device task queue
type Consumer struct {
	channel  *amqp.Channel
	cfg      ConsumerConfig
	logger   *zap.Logger
	handler  MessageHandler
	stopped  chan struct{}
	cancelFn context.CancelFunc
}

// NewConsumer declares the task topology: the topic exchange, the task
// queue bound with cfg.BindingKey and dead-lettering into cfg.DLQQueue, and
// the dead-letter queue itself
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		return nil, err
	}

	return &Consumer{
		channel: ch,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("queue", cfg.Queue)),
		handler: cfg.Handler,
		stopped: make(chan struct{}),
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg ConsumerConfig) error {
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareExchange(ch, cfg.Exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQQueue,
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}

	if err := ch.QueueBind(cfg.Queue, cfg.BindingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Start begins consuming in a background goroutine
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.cfg.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	ctx, c.cancelFn = context.WithCancel(ctx)

	c.logger.Info("consumer started",
		zap.String("binding_key", c.cfg.BindingKey),
		zap.Int("prefetch", c.cfg.PrefetchCount),
	)

	go func() {
		defer close(c.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				c.handle(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	logger := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageId),
	)

	err := c.handler(ctx, Delivery{
		MessageID:  msg.MessageId,
		RoutingKey: msg.RoutingKey,
		Body:       msg.Body,
	})
	if err != nil {
		logger.Warn("task rejected to dead-letter queue", zap.Error(err))
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error("failed to NACK message", zap.Error(nackErr))
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Error("failed to ACK message", zap.Error(ackErr))
		return
	}
	logger.Debug("task acknowledged")
}

// RegisterLifecycle starts the consumer with the application and stops it,
// waiting for the in-flight message, on shutdown
func (c *Consumer) RegisterLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return c.Start(context.Background())
		},
		OnStop: func(stopCtx context.Context) error {
			if c.cancelFn != nil {
				c.cancelFn()
				select {
				case <-c.stopped:
				case <-stopCtx.Done():
				}
			}
			if err := c.channel.Close(); err != nil {
				c.logger.Error("failed to close consumer channel", zap.Error(err))
				return err
			}
			c.logger.Info("consumer stopped")
			return nil
		},
	})
}
