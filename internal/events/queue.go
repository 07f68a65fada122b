package events

import (
	"context"
	"time"

	"github.com/sells-group/dataland/internal/db"
	"github.com/sells-group/dataland/internal/resilience"
)

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// TxPublisher additionally writes events inside a caller's transaction so
// they commit or roll back with the state change they describe.
type TxPublisher interface {
	Publisher
	PublishTx(ctx context.Context, q db.Querier, events ...Event) error
}

// Delivery is a claimed event with its failed attempt count and the number
// of times it was requeued from the dead letter queue.
type Delivery struct {
	Event
	Attempts int
	Requeues int
}

// Queue is the storage side of the consumer.
type Queue interface {
	// Claim leases up to limit available events of the given types.
	Claim(ctx context.Context, types []Type, limit int, lease time.Duration) ([]Delivery, error)
	// Ack removes a processed event.
	Ack(ctx context.Context, id string) error
	// Retry releases an event for redelivery at the given time.
	Retry(ctx context.Context, id string, attempts int, at time.Time, lastErr string) error
	// DeadLetter moves an event to the dead letter queue.
	DeadLetter(ctx context.Context, entry resilience.DLQEntry) error
}

// DeadLetters manages dead-lettered events.
type DeadLetters interface {
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RequeueDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)
}
