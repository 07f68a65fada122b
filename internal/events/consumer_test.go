package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataland/internal/resilience"
)

func testConsumerConfig(maxAttempts int) ConsumerConfig {
	return ConsumerConfig{
		BatchSize: 10,
		Workers:   2,
		Retry: resilience.RetryConfig{
			MaxAttempts:    maxAttempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     1,
		},
		MaxRequeues: 2,
	}
}

func publish(t *testing.T, bus *MemoryBus, typ Type, payload any) Event {
	t.Helper()
	ev, err := New(typ, "corr", payload)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))
	return ev
}

func TestConsumer_AcksHandledEvents(t *testing.T) {
	bus := NewMemoryBus()
	c := NewConsumer(bus, testConsumerConfig(3))
	var seen atomic.Int32
	c.Handle(QaStatusChanged, func(ctx context.Context, ev Event) error {
		seen.Add(1)
		return nil
	})

	publish(t, bus, QaStatusChanged, QaStatusChangedPayload{DataID: "a"})
	publish(t, bus, QaStatusChanged, QaStatusChangedPayload{DataID: "b"})
	publish(t, bus, DataPointUploaded, DataPointUploadedPayload{DataPointID: "c"})

	n, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), seen.Load())

	pending := bus.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, DataPointUploaded, pending[0].Type)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	bus := NewMemoryBus()
	c := NewConsumer(bus, testConsumerConfig(2))
	var calls atomic.Int32
	c.Handle(NonSourceable, func(ctx context.Context, ev Event) error {
		calls.Add(1)
		return errors.New("downstream unavailable")
	})
	ev := publish(t, bus, NonSourceable, NonSourceablePayload{DataSourcingID: "s1"})

	_, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, bus.Pending(), 1)

	time.Sleep(10 * time.Millisecond)
	_, err = c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, bus.Pending())

	entries, err := bus.ListDLQ(context.Background(), resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ev.ID, entries[0].MessageID)
	assert.Equal(t, resilience.ErrorPermanent, entries[0].ErrorType)
	assert.Equal(t, "downstream unavailable", entries[0].Error)

	require.NoError(t, bus.RequeueDLQ(context.Background(), entries[0].ID))
	pending := bus.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].ID)
}

func TestConsumer_MalformedIsDeadLetteredImmediately(t *testing.T) {
	bus := NewMemoryBus()
	c := NewConsumer(bus, testConsumerConfig(5))
	c.Handle(QaStatusChanged, func(ctx context.Context, ev Event) error {
		_, err := Decode[QaStatusChangedPayload](ev)
		return err
	})
	require.NoError(t, bus.Publish(context.Background(), Event{
		ID: "bad", Type: QaStatusChanged, Payload: []byte(`"not an object"`), CreatedAt: time.Now(),
	}))

	_, err := c.Poll(context.Background())
	require.NoError(t, err)

	entries, err := bus.ListDLQ(context.Background(), resilience.DLQFilter{ErrorType: resilience.ErrorMalformed})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].CanRetry())
	assert.Error(t, bus.RequeueDLQ(context.Background(), "bad"))
}

func TestConsumer_OneFailureDoesNotDropSiblings(t *testing.T) {
	bus := NewMemoryBus()
	c := NewConsumer(bus, testConsumerConfig(3))
	var ok atomic.Int32
	c.Handle(QaStatusChanged, func(ctx context.Context, ev Event) error {
		p, err := Decode[QaStatusChangedPayload](ev)
		if err != nil {
			return err
		}
		if p.DataID == "fail" {
			return errors.New("boom")
		}
		ok.Add(1)
		return nil
	})
	for _, id := range []string{"a", "fail", "b", "c"} {
		publish(t, bus, QaStatusChanged, QaStatusChangedPayload{DataID: id})
	}

	n, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int32(3), ok.Load())
	assert.Len(t, bus.Pending(), 1)
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	bus := NewMemoryBus()
	cfg := testConsumerConfig(3)
	cfg.PollInterval = 5 * time.Millisecond
	c := NewConsumer(bus, cfg)
	done := make(chan struct{})
	c.Handle(DataPointUploaded, func(ctx context.Context, ev Event) error {
		close(done)
		return nil
	})
	publish(t, bus, DataPointUploaded, DataPointUploadedPayload{DataPointID: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
	cancel()
	assert.NoError(t, <-errCh)
}
