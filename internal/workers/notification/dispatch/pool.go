package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"forum-comms/internal/common/logger"
	"forum-comms/internal/common/metrics"
	"forum-comms/internal/events"
)

// Processor handles one event. *Handler satisfies it.
type Processor interface {
	Process(ctx context.Context, event events.Event) error
}

// Pool runs events through a bounded queue and a fixed set of workers so
// notification work never runs on the request or connection goroutines.
type Pool struct {
	config    *Config
	processor Processor
	logger    logger.Logger

	queue   chan events.Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	started bool
}

func NewPool(config *Config, processor Processor, log logger.Logger) *Pool {
	size := config.QueueSize
	if size <= 0 {
		size = 1
	}
	return &Pool{
		config:    config,
		processor: processor,
		logger:    logger.ForComponent(log, "dispatch-pool"),
		queue:     make(chan events.Event, size),
	}
}

// Emit implements events.Emitter.
func (p *Pool) Emit(ctx context.Context, event events.Event) error {
	return p.Submit(ctx, event)
}

// Submit enqueues an event, waiting at most EnqueueTimeout for room.
func (p *Pool) Submit(ctx context.Context, event events.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return fmt.Errorf("dispatch pool stopped")
	}

	timer := time.NewTimer(p.config.EnqueueTimeout)
	defer timer.Stop()

	select {
	case p.queue <- event:
		metrics.DispatchQueueDepth.Set(float64(len(p.queue)))
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	metrics.DispatchDropped.Inc()
	p.logger.Error("dispatch queue full, event dropped", map[string]interface{}{
		"eventId":          event.ID,
		"eventKey":         event.Key,
		"notificationType": event.Type.String(),
	})
	return fmt.Errorf("dispatch queue full: event %s dropped", event.ID)
}

// Start launches the workers. Workers exit when the queue is closed by Stop
// or when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	workers := p.config.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.logger.Info("dispatch pool started", map[string]interface{}{
		"workers":   workers,
		"queueSize": cap(p.queue),
	})
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.DispatchQueueDepth.Set(float64(len(p.queue)))
			p.run(ctx, id, event)
		}
	}
}

func (p *Pool) run(ctx context.Context, worker int, event events.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch worker panic recovered", map[string]interface{}{
				"worker":  worker,
				"eventId": event.ID,
				"panic":   fmt.Sprint(r),
			})
		}
	}()

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.config.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
	}
	defer cancel()
	if err := p.processor.Process(jobCtx, event); err != nil {
		p.logger.Warn("event processing failed", map[string]interface{}{
			"worker":  worker,
			"eventId": event.ID,
			"error":   err.Error(),
		})
	}
}

// Stop refuses new events, lets workers drain the queue and waits for them
// or for ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("dispatch pool stopped", nil)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch pool stop: %w", ctx.Err())
	}
}
