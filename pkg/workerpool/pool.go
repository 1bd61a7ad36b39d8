// Package workerpool runs independent units of work with bounded parallelism.
package workerpool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Config configures the worker pool.
type Config struct {
	MaxConcurrent int // Maximum concurrent work items (default: 4)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
	}
}

// Pool bounds how many work items run at once. It holds no goroutines
// between calls to Process.
type Pool struct {
	config Config
	logger *zap.Logger
}

// New creates a worker pool.
func New(config Config, logger *zap.Logger) *Pool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Pool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
}

// MaxConcurrent returns the configured parallelism.
func (p *Pool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// Item is a unit of work.
type Item[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// Result is the outcome of one item. Index is the item's submission position.
type Result[T any] struct {
	ID     string
	Index  int
	Result T
	Err    error
}

// Process executes all items with bounded parallelism and returns results in
// submission order. Every item runs to completion even if others fail; a
// panicking item is reported as an error. Items that never acquired a slot
// before ctx was cancelled carry ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *Pool,
	items []Item[T],
	onProgress func(completed, total int),
) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]Result[T], len(items))
	done := make(chan int, len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item Item[T]) {
			defer wg.Done()
			defer func() { done <- i }()

			results[i] = Result[T]{ID: item.ID, Index: i}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i].Err = ctx.Err()
				return
			}

			results[i].Result, results[i].Err = runItem(ctx, pool.logger, item)
		}(i, item)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	completed := 0
	for range done {
		completed++
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}

	return results
}

func runItem[T any](ctx context.Context, logger *zap.Logger, item Item[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Work item panicked",
				zap.String("item_id", item.ID),
				zap.Any("panic", r))
			err = fmt.Errorf("work item %s panicked: %v", item.ID, r)
		}
	}()
	return item.Execute(ctx)
}
