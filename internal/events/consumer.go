package events

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dataland/internal/resilience"
)

// Handler processes one event. Handlers must be idempotent.
type Handler func(ctx context.Context, ev Event) error

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
	// Lease is how long a claimed event stays invisible to other consumers.
	Lease time.Duration
	// Retry.MaxAttempts is the number of deliveries before an event is
	// dead-lettered; the backoff settings space the redeliveries.
	Retry resilience.RetryConfig
	// MaxRequeues bounds manual requeues from the dead letter queue.
	MaxRequeues int
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = resilience.DefaultRetryConfig()
		c.Retry.MaxAttempts = 5
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = 3
	}
	return c
}

// Consumer claims events from a Queue and dispatches them to handlers.
type Consumer struct {
	queue    Queue
	cfg      ConsumerConfig
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewConsumer creates a Consumer reading from queue.
func NewConsumer(queue Queue, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		queue:    queue,
		cfg:      cfg.withDefaults(),
		handlers: make(map[Type][]Handler),
	}
}

// Handle registers h for events of type t. Only registered types are claimed.
func (c *Consumer) Handle(t Type, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

// Types returns the registered event types in name order.
func (c *Consumer) Types() []Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Type, 0, len(c.handlers))
	for t := range c.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run polls until ctx is done. Full batches are drained without waiting.
func (c *Consumer) Run(ctx context.Context) error {
	types := c.Types()
	zap.L().Info("event consumer started",
		zap.Int("types", len(types)),
		zap.Int("workers", c.cfg.Workers),
		zap.Duration("poll_interval", c.cfg.PollInterval),
	)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		n, err := c.Poll(ctx)
		if ctx.Err() != nil {
			zap.L().Info("event consumer stopped")
			return nil
		}
		if err != nil {
			zap.L().Warn("event poll failed", zap.Error(err))
		}
		if err == nil && n == c.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			zap.L().Info("event consumer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll claims and processes one batch. It returns the number of claimed
// events. Handler failures are settled per event and never fail the batch.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	types := c.Types()
	if len(types) == 0 {
		return 0, nil
	}
	batch, err := c.queue.Claim(ctx, types, c.cfg.BatchSize, c.cfg.Lease)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, d := range batch {
		g.Go(func() error {
			c.deliver(gctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return len(batch), nil
}

func (c *Consumer) deliver(ctx context.Context, d Delivery) {
	log := zap.L().With(
		zap.String("event_id", d.ID),
		zap.String("event_type", string(d.Type)),
		zap.String("correlation_id", d.CorrelationID),
	)

	err := c.dispatch(ctx, d.Event)
	if err == nil {
		if ackErr := c.queue.Ack(ctx, d.ID); ackErr != nil {
			log.Warn("event ack failed, it will be redelivered", zap.Error(ackErr))
		}
		return
	}

	attempts := d.Attempts + 1
	errType := resilience.ClassifyError(err)
	if errors.Is(err, ErrMalformed) {
		errType = resilience.ErrorMalformed
	}

	if errType == resilience.ErrorMalformed || attempts >= c.cfg.Retry.MaxAttempts {
		now := time.Now().UTC()
		entry := resilience.DLQEntry{
			ID:            d.ID,
			MessageID:     d.ID,
			MessageType:   string(d.Type),
			CorrelationID: d.CorrelationID,
			Payload:       d.Payload,
			Error:         err.Error(),
			ErrorType:     errType,
			RetryCount:    d.Requeues,
			MaxRetries:    c.cfg.MaxRequeues,
			CreatedAt:     now,
			LastFailedAt:  now,
		}
		log.Error("event dead-lettered",
			zap.Int("attempts", attempts),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		if dlqErr := c.queue.DeadLetter(ctx, entry); dlqErr != nil {
			log.Error("dead-lettering event failed", zap.Error(dlqErr))
		}
		return
	}

	delay := resilience.Backoff(attempts-1, c.cfg.Retry)
	log.Warn("event handling failed, scheduling redelivery",
		zap.Int("attempts", attempts),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
	if retryErr := c.queue.Retry(ctx, d.ID, attempts, time.Now().UTC().Add(delay), err.Error()); retryErr != nil {
		log.Error("scheduling redelivery failed", zap.Error(retryErr))
	}
}

func (c *Consumer) dispatch(ctx context.Context, ev Event) error {
	if !ev.Type.Valid() {
		return ErrMalformed
	}
	c.mu.RLock()
	handlers := c.handlers[ev.Type]
	c.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
