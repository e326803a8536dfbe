package daemon

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_HandlesConnections(t *testing.T) {
	// Given a started pool that counts handled connections
	var handled atomic.Int64
	var wg sync.WaitGroup
	pool := NewWorkerPool(2, func(ctx context.Context, conn net.Conn) {
		defer wg.Done()
		defer conn.Close()
		handled.Add(1)
	}, nil)
	pool.Start()
	defer pool.Stop()

	// When connections are submitted
	for i := 0; i < 2; i++ {
		server, client := net.Pipe()
		defer client.Close()
		wg.Add(1)
		require.True(t, pool.SubmitConnection(server))
	}

	// Then every one is handled
	wg.Wait()
	assert.Equal(t, int64(2), handled.Load())
}

func TestWorkerPool_RejectsBeforeStartAndAfterStop(t *testing.T) {
	pool := NewWorkerPool(1, func(ctx context.Context, conn net.Conn) { conn.Close() }, nil)

	server, client := net.Pipe()
	defer client.Close()
	assert.False(t, pool.SubmitConnection(server))

	pool.Start()
	pool.Stop()

	server, client = net.Pipe()
	defer client.Close()
	assert.False(t, pool.SubmitConnection(server))
}

func TestWorkerPool_StopCancelsHandlers(t *testing.T) {
	// Given a handler that blocks until its context ends
	started := make(chan struct{})
	pool := NewWorkerPool(1, func(ctx context.Context, conn net.Conn) {
		defer conn.Close()
		close(started)
		<-ctx.Done()
	}, nil)
	pool.Start()

	server, client := net.Pipe()
	defer client.Close()
	require.True(t, pool.SubmitConnection(server))
	<-started

	// When stopping
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	// Then Stop returns once the handler sees cancellation
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the running handler")
	}
}

func TestWorkerPool_Limits(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int
	}{
		{"default when zero", 0, DefaultMaxConnections},
		{"as given", 3, 3},
		{"capped", 5000, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.workers, func(context.Context, net.Conn) {}, nil)

			stats := pool.GetStats()

			assert.Equal(t, tt.want, stats["workers"])
			assert.Equal(t, tt.want, stats["queue_capacity"])
			assert.Equal(t, false, stats["started"])
		})
	}
}
