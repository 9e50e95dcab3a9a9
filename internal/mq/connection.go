package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps the broker connection shared by the task publisher and
// the task consumer
type Connection struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// NewConnection dials RabbitMQ and closes the connection on shutdown
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url string) (*Connection, error) {
	logger.Info("connecting to rabbitmq")

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("cannot connect to RabbitMQ (check RABBITMQ_URL and broker availability): %w", err)
	}

	c := &Connection{conn: conn, logger: logger}
	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("rabbitmq connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := conn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return c, nil
}

// watch logs an unexpected connection loss. A clean Close delivers no error.
func (c *Connection) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		c.logger.Error("rabbitmq connection lost",
			zap.Int("code", err.Code),
			zap.String("reason", err.Reason),
		)
	}
}

// Channel opens a new channel
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}
