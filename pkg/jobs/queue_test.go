package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueDispatchesEnvelopes(t *testing.T) {
	var mu sync.Mutex
	var got []string
	q := New("test", func(ctx context.Context, env Envelope[string]) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env.Body)
		return nil
	}, Options{Workers: 1, BufferSize: 4})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Envelope[string]{ID: "1", Body: "first"}))
	require.NoError(t, q.Enqueue(Envelope[string]{ID: "2", Body: "second"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := New[string]("test", func(ctx context.Context, env Envelope[string]) error { return nil }, Options{})
	require.Error(t, q.Enqueue(Envelope[string]{ID: "1"}))
}

func TestQueueFullRejectsWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	q := New("test", func(ctx context.Context, env Envelope[string]) error {
		<-release
		return nil
	}, Options{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer q.Stop()
	defer close(release)

	// First envelope occupies the worker, second fills the buffer.
	require.NoError(t, q.Enqueue(Envelope[string]{ID: "1"}))
	require.Eventually(t, func() bool {
		err := q.Enqueue(Envelope[string]{ID: "fill"})
		return err == nil
	}, time.Second, 5*time.Millisecond)

	err := q.Enqueue(Envelope[string]{ID: "3"})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueRetriesFailedEnvelope(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	q := New("test", func(ctx context.Context, env Envelope[string]) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return fmt.Errorf("transient")
		}
		return nil
	}, Options{Workers: 1, BufferSize: 4, MaxRetries: 3, RetryDelay: 10 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Envelope[string]{ID: "1", Body: "retry"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 2
	}, 2*time.Second, 10*time.Millisecond)
}
