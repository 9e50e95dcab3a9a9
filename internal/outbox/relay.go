package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher hands a message to the broker
type Publisher interface {
	Publish(ctx context.Context, routingKey, messageID string, body []byte) error
}

// Relay moves committed tasks from the outbox table to the broker. Callers
// flush right after a commit; a periodic sweep picks up whatever a crash or
// broker outage left behind.
type Relay struct {
	mu        sync.Mutex
	queries   repository.Queries
	publisher Publisher
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

// NewRelay creates a relay
func NewRelay(queries repository.Queries, publisher Publisher, batchSize int, logger *zap.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		queries:   queries,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Flush publishes pending tasks oldest first and stops at the first publish
// failure, leaving the rest for the next attempt. It returns the number of
// tasks dispatched.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := 0
	for {
		tasks, err := r.queries.PendingTasks(ctx, r.batchSize)
		if err != nil {
			return sent, err
		}

		for _, t := range tasks {
			body, err := json.Marshal(Envelope{
				ID:        t.ID,
				Kind:      t.Kind,
				Payload:   t.Payload,
				CreatedAt: t.CreatedAt,
			})
			if err != nil {
				return sent, fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
			}

			if err := r.publisher.Publish(ctx, RoutingKey(t.Kind), t.ID.String(), body); err != nil {
				return sent, fmt.Errorf("failed to dispatch task %s: %w", t.ID, err)
			}

			if err := r.queries.MarkTaskDispatched(ctx, t.ID, r.now()); err != nil {
				return sent, err
			}
			sent++
		}

		if len(tasks) < r.batchSize {
			return sent, nil
		}
	}
}

// RegisterLifecycle runs a sweep every interval while the application is up
func (r *Relay) RegisterLifecycle(lc fx.Lifecycle, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go r.sweep(ctx, interval, done)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func (r *Relay) sweep(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.flushAndLog(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Relay) flushAndLog(ctx context.Context) {
	n, err := r.Flush(ctx)
	if err != nil {
		r.logger.Warn("outbox sweep incomplete", zap.Int("dispatched", n), zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("outbox sweep dispatched tasks", zap.Int("dispatched", n))
	}
}
