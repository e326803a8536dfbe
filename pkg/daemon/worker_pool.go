package daemon

import (
	"context"
	"net"
	"sync"

	"github.com/shaneisley/sigmashift/pkg/logging"
	"go.uber.org/zap"
)

// ConnHandler serves one client connection until it ends or ctx is done
type ConnHandler func(ctx context.Context, conn net.Conn)

// WorkerPool manages a fixed-size pool of workers for handling connections
type WorkerPool struct {
	workers  int
	jobQueue chan net.Conn
	handle   ConnHandler
	workerWg sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	started  bool
	stopped  bool
	mu       sync.RWMutex
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int, handle ConnHandler, logger *logging.Logger) *WorkerPool {
	if workers <= 0 {
		workers = DefaultMaxConnections
	}
	if workers > 1000 {
		workers = 1000
	}
	if logger == nil {
		logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan net.Conn, workers),
		handle:   handle,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return
	}
	wp.started = true

	for i := 0; i < wp.workers; i++ {
		wp.workerWg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Debug("worker pool started", zap.Int("workers", wp.workers), zap.Int("queue_size", cap(wp.jobQueue)))
}

// Stop cancels in-flight handlers and waits for every worker to exit.
// Queued connections that were never served are closed.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started || wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.cancel()
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.workerWg.Wait()

	for conn := range wp.jobQueue {
		conn.Close()
	}
	wp.logger.Debug("worker pool stopped")
}

// SubmitConnection queues a connection for a worker. It returns false and
// closes the connection when the pool is stopped or its queue is full.
func (wp *WorkerPool) SubmitConnection(conn net.Conn) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.started || wp.stopped {
		conn.Close()
		return false
	}

	select {
	case wp.jobQueue <- conn:
		return true
	default:
		wp.logger.Warn("worker pool queue full, rejecting connection",
			zap.Int("queue_size", cap(wp.jobQueue)), zap.Int("workers", wp.workers))
		conn.Close()
		return false
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.workerWg.Done()

	for {
		select {
		case conn, ok := <-wp.jobQueue:
			if !ok {
				return
			}
			if wp.ctx.Err() != nil {
				conn.Close()
				continue
			}
			wp.handle(wp.ctx, conn)

		case <-wp.ctx.Done():
			return
		}
	}
}

// GetStats returns worker pool statistics
func (wp *WorkerPool) GetStats() map[string]interface{} {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return map[string]interface{}{
		"workers":        wp.workers,
		"queue_capacity": cap(wp.jobQueue),
		"queue_length":   len(wp.jobQueue),
		"started":        wp.started,
	}
}
