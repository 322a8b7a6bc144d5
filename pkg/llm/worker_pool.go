package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// WorkerPoolConfig configures the worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent provider calls (default: 4)
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent: 4,
	}
}

// WorkerPool runs batches of provider calls with bounded parallelism. A slot
// is released as soon as its call returns so the next batch starts
// immediately.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultWorkerPoolConfig().MaxConcurrent
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("embedding-worker-pool"),
	}
}

// MaxConcurrent returns the parallelism bound.
func (p *WorkerPool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult represents the result of a work item. Index is the item's
// position in the submitted slice.
type WorkResult[T any] struct {
	ID     string
	Index  int
	Result T
	Err    error
}

// Process executes all work items with bounded parallelism and returns the
// results in submission order. Every item gets a result: failures do not
// stop the others, and items still waiting for a slot when ctx ends report
// ctx.Err(). onProgress calls are serialized.
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	sem := semaphore.NewWeighted(int64(pool.config.MaxConcurrent))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i, item := range items {
		wg.Add(1)
		go func(i int, item WorkItem[T]) {
			defer wg.Done()

			var res WorkResult[T]
			if err := sem.Acquire(ctx, 1); err != nil {
				res = WorkResult[T]{ID: item.ID, Err: err}
			} else {
				res = run(ctx, item)
				sem.Release(1)
			}
			res.Index = i

			if res.Err != nil {
				pool.logger.Debug("Work item failed",
					zap.String("id", item.ID),
					zap.Error(res.Err))
			}

			mu.Lock()
			defer mu.Unlock()
			results[i] = res
			completed++
			if onProgress != nil {
				onProgress(completed, len(items))
			}
		}(i, item)
	}

	wg.Wait()
	return results
}

func run[T any](ctx context.Context, item WorkItem[T]) WorkResult[T] {
	result, err := item.Execute(ctx)
	return WorkResult[T]{ID: item.ID, Result: result, Err: err}
}
