package eventqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/simplesurance/automerger/internal/provider"
)

func newEvent(id int) *provider.Event {
	return &provider.Event{DeliveryID: fmt.Sprint(id)}
}

func TestEnqueuedEventsAreReceivedInOrder(t *testing.T) {
	q := New(10)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), newEvent(i)))
	}
	q.Close()

	var i int
	for ev := range q.C() {
		assert.Equal(t, fmt.Sprint(i), ev.DeliveryID)
		i++
	}

	assert.Equal(t, 10, i)
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	q := New(1)
	q.Close()

	err := q.Enqueue(context.Background(), newEvent(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseCanBeCalledMultipleTimes(t *testing.T) {
	q := New(1)
	q.Close()
	assert.NotPanics(t, q.Close)
}

func TestCloseUnblocksWaitingProducers(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(context.Background(), newEvent(0)))

	const producers = 5
	errs := make(chan error, producers)

	for i := 0; i < producers; i++ {
		go func(i int) {
			errs <- q.Enqueue(context.Background(), newEvent(i+1))
		}(i)
	}

	// give the producers time to block on the full queue
	time.Sleep(50 * time.Millisecond)
	q.Close()

	for i := 0; i < producers; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(5 * time.Second):
			t.Fatal("producer is still blocked after queue was closed")
		}
	}

	// the event enqueued before closing is still delivered
	ev, ok := <-q.C()
	require.True(t, ok)
	assert.Equal(t, "0", ev.DeliveryID)

	_, ok = <-q.C()
	assert.False(t, ok)
}

func TestEnqueueOnFullQueueRespectsContext(t *testing.T) {
	q := New(1)
	t.Cleanup(q.Close)

	require.NoError(t, q.Enqueue(context.Background(), newEvent(0)))

	ctx, cancelFn := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelFn()

	err := q.Enqueue(ctx, newEvent(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestBlockedProducerContinuesWhenSpaceIsAvailable(t *testing.T) {
	q := New(1)
	t.Cleanup(q.Close)

	require.NoError(t, q.Enqueue(context.Background(), newEvent(0)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(context.Background(), newEvent(1))
	}()

	ev := <-q.C()
	assert.Equal(t, "0", ev.DeliveryID)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not continue after space became available")
	}

	ev = <-q.C()
	assert.Equal(t, "1", ev.DeliveryID)
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	const producers = 20
	const eventsPerProducer = 100

	q := New(8)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()

			for i := 0; i < eventsPerProducer; i++ {
				ev := &provider.Event{
					DeliveryID:    fmt.Sprint(p),
					PullRequestNr: i,
				}
				assert.NoError(t, q.Enqueue(context.Background(), ev))
			}
		}(p)
	}

	go func() {
		wg.Wait()
		q.Close()
	}()

	lastSeen := map[string]int{}
	var received int
	for ev := range q.C() {
		// the events of a single producer must arrive in the order
		// they were enqueued
		if last, exists := lastSeen[ev.DeliveryID]; exists {
			assert.Greater(t, ev.PullRequestNr, last)
		}
		lastSeen[ev.DeliveryID] = ev.PullRequestNr
		received++
	}

	assert.Equal(t, producers*eventsPerProducer, received)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
