package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestQueueProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	queue := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		handled = append(handled, job.ID)
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 2, RetryDelay: time.Millisecond})

	queue.Start(context.Background())
	defer queue.Stop()

	require.NoError(t, queue.Enqueue(Job{ID: "j-1", Type: "noop"}))
	require.NoError(t, queue.Enqueue(Job{ID: "j-2", Type: "noop"}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2
	})
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	queue := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 5, RetryDelay: time.Millisecond})

	queue.Start(context.Background())
	defer queue.Stop()

	require.NoError(t, queue.Enqueue(Job{ID: "j-1", Type: "flaky"}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	})
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	queue := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("permanent")
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})

	queue.Start(context.Background())
	defer queue.Stop()

	require.NoError(t, queue.Enqueue(Job{ID: "j-1", Type: "doomed"}))

	// First run plus two retries, then dropped.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestQueueEnqueueBeforeStartFails(t *testing.T) {
	queue := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, queue.Enqueue(Job{ID: "j-1"}))
}
