// Package dispatcher manages worker fan-out over the scan task queue.
package dispatcher

import (
	"context"
	"sync"

	"github.com/andr-235/keywatch/internal/worker"
)

// Dispatcher fans out queued scan tasks to a fixed pool of workers, bounding
// total external-API pressure regardless of how many targets become due.
type Dispatcher struct {
	workers []*worker.Worker
}

// New creates a Dispatcher over the given workers.
func New(workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until they finish. Workers stop when the
// context is cancelled or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}
