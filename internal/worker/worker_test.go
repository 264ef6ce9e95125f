package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgerelay/internal/models"
)

// mockHandler abandons each delivery failFirst times before completing it.
type mockHandler struct {
	mu        sync.Mutex
	failFirst int
	attempts  map[int64]int
	order     map[int][]int64
	calls     atomic.Uint64
	delay     time.Duration
}

func newMockHandler(failFirst int) *mockHandler {
	return &mockHandler{
		failFirst: failFirst,
		attempts:  make(map[int64]int),
		order:     make(map[int][]int64),
	}
}

func (m *mockHandler) Handle(ctx context.Context, d models.Delivery) models.Outcome {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[d.Offset]++
	if m.attempts[d.Offset] <= m.failFirst {
		return models.Abandoned
	}
	m.order[d.Partition] = append(m.order[d.Partition], d.Offset)
	return models.Completed
}

type mockAcker struct {
	mu    sync.Mutex
	acked []int64
}

func (m *mockAcker) Ack(ctx context.Context, d models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, d.Offset)
	return nil
}

func (m *mockAcker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

func TestPool_ProcessDeliveries(t *testing.T) {
	handler := newMockHandler(0)
	acker := &mockAcker{}
	pool := NewPool(Config{Handler: handler, Acker: acker, Workers: 2})
	pool.Start()
	defer pool.Stop()

	const n = 25
	for i := 0; i < n; i++ {
		require.NoError(t, pool.Submit(context.Background(), models.Delivery{Partition: i % 3, Offset: int64(i)}))
	}

	require.Eventually(t, func() bool { return acker.count() == n }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(n), pool.Stats().Completed)
	assert.Zero(t, pool.Stats().Abandoned)
}

func TestPool_PartitionOrderIsPreserved(t *testing.T) {
	handler := newMockHandler(0)
	acker := &mockAcker{}
	pool := NewPool(Config{Handler: handler, Acker: acker, Workers: 4})
	pool.Start()

	const perPartition = 50
	for i := 0; i < perPartition; i++ {
		for p := 0; p < 3; p++ {
			offset := int64(p*1000 + i)
			require.NoError(t, pool.Submit(context.Background(), models.Delivery{Partition: p, Offset: offset}))
		}
	}
	pool.Stop()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	for p := 0; p < 3; p++ {
		got := handler.order[p]
		require.Len(t, got, perPartition)
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1], got[i], "partition %d out of order", p)
		}
	}
}

func TestPool_AbandonedIsRedelivered(t *testing.T) {
	handler := newMockHandler(2)
	acker := &mockAcker{}
	pool := NewPool(Config{
		Handler:    handler,
		Acker:      acker,
		Workers:    1,
		Backoff:    5 * time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
	})
	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(context.Background(), models.Delivery{Offset: 7}))

	require.Eventually(t, func() bool { return acker.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(2), stats.Abandoned)
	assert.Equal(t, uint64(2), stats.Redelivered)
	assert.Equal(t, uint64(3), handler.calls.Load())
}

func TestPool_GracefulShutdown(t *testing.T) {
	handler := newMockHandler(0)
	handler.delay = 5 * time.Millisecond
	acker := &mockAcker{}
	pool := NewPool(Config{Handler: handler, Acker: acker, Workers: 2})
	pool.Start()

	for i := 0; i < 7; i++ {
		require.NoError(t, pool.Submit(context.Background(), models.Delivery{Partition: i, Offset: int64(i)}))
	}

	// Stop drains what is already queued
	pool.Stop()

	assert.Equal(t, 7, acker.count())
}

func TestPool_StopCancelsStuckRedelivery(t *testing.T) {
	handler := newMockHandler(1 << 30)
	acker := &mockAcker{}
	pool := NewPool(Config{
		Handler:      handler,
		Acker:        acker,
		Workers:      1,
		Backoff:      5 * time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		DrainTimeout: 50 * time.Millisecond,
	})
	pool.Start()

	require.NoError(t, pool.Submit(context.Background(), models.Delivery{Offset: 1}))

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Zero(t, acker.count())
	assert.NotZero(t, pool.Stats().Abandoned)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(Config{Handler: newMockHandler(0)})
	pool.Start()
	pool.Stop()

	err := pool.Submit(context.Background(), models.Delivery{})
	assert.ErrorIs(t, err, ErrPoolStopped)

	// second Stop is a no-op
	pool.Stop()
}

type panicHandler struct{ calls atomic.Int32 }

func (p *panicHandler) Handle(ctx context.Context, d models.Delivery) models.Outcome {
	if p.calls.Add(1) == 1 {
		panic("boom")
	}
	return models.Completed
}

func TestPool_PanicIsAbandoned(t *testing.T) {
	handler := &panicHandler{}
	acker := &mockAcker{}
	pool := NewPool(Config{Handler: handler, Acker: acker, Workers: 1, Backoff: time.Millisecond})
	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(context.Background(), models.Delivery{Offset: 3}))

	require.Eventually(t, func() bool { return acker.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), pool.Stats().Abandoned)
}
