package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-comms/internal/common/logger"
	"forum-comms/internal/events"
)

type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	panicKey  string
	block     chan struct{}
}

func (r *recordingProcessor) Process(_ context.Context, event events.Event) error {
	if r.block != nil {
		<-r.block
	}
	if event.Key == r.panicKey {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, event.Key)
	return nil
}

func (r *recordingProcessor) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.processed...)
}

func TestPool_ProcessesSubmittedEvents(t *testing.T) {
	proc := &recordingProcessor{}
	pool := NewPool(createTestConfig(), proc, logger.NewNoOpLogger())
	pool.Start(context.Background())

	require.NoError(t, pool.Emit(context.Background(), events.MessageCreated("a")))
	require.NoError(t, pool.Submit(context.Background(), events.MessageCreated("b")))
	require.NoError(t, pool.Stop(context.Background()))

	assert.ElementsMatch(t, []string{"message:a", "message:b"}, proc.keys())
}

func TestPool_RecoversFromPanic(t *testing.T) {
	proc := &recordingProcessor{panicKey: "message:bad"}
	cfg := createTestConfig()
	cfg.Workers = 1
	pool := NewPool(cfg, proc, logger.NewNoOpLogger())
	pool.Start(context.Background())

	require.NoError(t, pool.Submit(context.Background(), events.MessageCreated("bad")))
	require.NoError(t, pool.Submit(context.Background(), events.MessageCreated("good")))
	require.NoError(t, pool.Stop(context.Background()))

	assert.Equal(t, []string{"message:good"}, proc.keys())
}

func TestPool_DropsWhenQueueStaysFull(t *testing.T) {
	cfg := createTestConfig()
	cfg.QueueSize = 1
	cfg.EnqueueTimeout = 10 * time.Millisecond
	pool := NewPool(cfg, &recordingProcessor{}, logger.NewNoOpLogger())

	require.NoError(t, pool.Submit(context.Background(), events.MessageCreated("a")))

	start := time.Now()
	err := pool.Submit(context.Background(), events.MessageCreated("b"))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(createTestConfig(), &recordingProcessor{}, logger.NewNoOpLogger())
	pool.Start(context.Background())
	require.NoError(t, pool.Stop(context.Background()))

	assert.Error(t, pool.Submit(context.Background(), events.MessageCreated("late")))
	assert.NoError(t, pool.Stop(context.Background()), "stop is idempotent")
}

func TestPool_StopHonoursContext(t *testing.T) {
	proc := &recordingProcessor{block: make(chan struct{})}
	cfg := createTestConfig()
	cfg.Workers = 1
	pool := NewPool(cfg, proc, logger.NewNoOpLogger())
	pool.Start(context.Background())
	require.NoError(t, pool.Submit(context.Background(), events.MessageCreated("slow")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, pool.Stop(ctx))

	close(proc.block)
}

func TestPool_ConcurrentSubmit(t *testing.T) {
	proc := &recordingProcessor{}
	cfg := createTestConfig()
	cfg.QueueSize = 64
	cfg.EnqueueTimeout = time.Second
	pool := NewPool(cfg, proc, logger.NewNoOpLogger())
	pool.Start(context.Background())

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if pool.Submit(context.Background(), events.Followed(int64(i), 7, 9)) == nil {
				atomic.AddInt32(&ok, 1)
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, pool.Stop(context.Background()))

	assert.Equal(t, int32(32), ok)
	assert.Len(t, proc.keys(), 32)
}
