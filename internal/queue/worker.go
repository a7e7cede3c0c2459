package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one claimed job. Returning an error only records the
// failure; re-enqueueing with backoff is the handler's own decision.
type Handler func(ctx context.Context, job Job) error

// Broker is the queue surface the worker consumes from.
type Broker interface {
	ClaimDue(ctx context.Context, queue string, limit int) ([]Job, error)
	Release(ctx context.Context, queue, jobID string) error
}

// Worker polls queues for due jobs and dispatches them to registered
// handlers on a bounded goroutine pool.
type Worker struct {
	broker       Broker
	logger       *slog.Logger
	pollInterval time.Duration
	concurrency  int

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a worker pool over the broker.
func NewWorker(broker Broker, concurrency int, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		broker:       broker,
		logger:       logger,
		pollInterval: pollInterval,
		concurrency:  concurrency,
		handlers:     make(map[string]Handler),
		stopChan:     make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a queue name. Must be called before
// Start.
func (w *Worker) RegisterHandler(queue string, handler Handler) {
	w.handlersMu.Lock()
	w.handlers[queue] = handler
	w.handlersMu.Unlock()
}

// Start launches one poll loop per registered queue.
func (w *Worker) Start(ctx context.Context) {
	w.handlersMu.RLock()
	queues := make([]string, 0, len(w.handlers))
	for queue := range w.handlers {
		queues = append(queues, queue)
	}
	w.handlersMu.RUnlock()

	for _, queue := range queues {
		w.wg.Add(1)
		go w.poll(ctx, queue)
	}

	w.logger.Info("queue worker started",
		"queues", len(queues),
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval)
}

// Stop halts polling and waits for in-flight handlers to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("queue worker stopped")
}

func (w *Worker) poll(ctx context.Context, queue string) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.concurrency)

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := w.broker.ClaimDue(ctx, queue, w.concurrency)
			if err != nil {
				w.logger.Error("failed to claim due jobs", "queue", queue, "error", err)
				continue
			}

			for _, job := range jobs {
				sem <- struct{}{}
				w.wg.Add(1)
				go func(job Job) {
					defer w.wg.Done()
					defer func() { <-sem }()
					w.dispatch(ctx, queue, job)
				}(job)
			}
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, queue string, job Job) {
	w.handlersMu.RLock()
	handler := w.handlers[queue]
	w.handlersMu.RUnlock()

	if handler == nil {
		w.logger.Error("no handler for queue", "queue", queue, "job_id", job.ID)
		return
	}

	if err := handler(ctx, job); err != nil {
		w.logger.Error("job handler failed",
			"queue", queue,
			"job_id", job.ID,
			"attempt", job.Attempt,
			"error", err)
	}

	if err := w.broker.Release(ctx, queue, job.ID); err != nil {
		w.logger.Warn("failed to release job claim", "queue", queue, "job_id", job.ID, "error", err)
	}
}
