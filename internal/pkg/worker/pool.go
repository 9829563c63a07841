// Package worker runs background work, such as search reindex requests, on a
// bounded ants pool so request handlers never start naked goroutines.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a released pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// DefaultPoolSize is used when the configured size is not positive.
const DefaultPoolSize = 16

const shutdownTimeout = 30 * time.Second

// Task is a context-aware unit of background work.
type Task func(ctx context.Context)

// Pool wraps ants.Pool. Tasks run on the pool's service context, which
// outlives the request that submitted them and is cancelled on Shutdown.
type Pool struct {
	pool          *ants.Pool
	name          string
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// NewPool creates a pool with size workers.
func NewPool(ctx context.Context, name string, size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.L().Error("worker panic recovered",
			zap.String("pool", name),
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	p, err := ants.NewPool(size,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}
	return &Pool{pool: p, name: name, serviceCtx: serviceCtx, serviceCancel: serviceCancel}, nil
}

// Submit queues task. It is skipped if the pool shuts down before it starts.
func (p *Pool) Submit(task Task) error {
	if p.pool.IsClosed() {
		return ErrPoolClosed
	}
	err := p.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.L().Debug("task skipped: pool shutting down", zap.String("pool", p.name))
			return
		default:
		}
		task(p.serviceCtx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Shutdown cancels pending tasks and waits for running ones.
func (p *Pool) Shutdown() {
	p.serviceCancel()
	if err := p.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.L().Warn("worker pool shutdown timeout", zap.String("pool", p.name), zap.Error(err))
	}
}

// Stats reports pool occupancy.
func (p *Pool) Stats() map[string]int {
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}
