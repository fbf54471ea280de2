package forest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricPoolQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "rcfcore",
	Subsystem: "forest",
	Name:      "pool_queue_length",
	Help:      "Current number of queued component jobs.",
}, []string{"forest"})

// componentPool is a fixed set of goroutines draining a buffered job
// channel, grounded on friggdb/pool.Pool's worker loop. Unlike that
// pool, which races jobs to a single "first result wins" channel, run
// gathers every job's result: a forest update or traverse needs every
// component's outcome, never just the first to finish.
type componentPool struct {
	name      string
	workQueue chan func()
}

func newComponentPool(workers int, name string) *componentPool {
	if workers < 1 {
		workers = 1
	}
	p := &componentPool{
		name:      name,
		workQueue: make(chan func(), workers*4),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *componentPool) worker() {
	for job := range p.workQueue {
		metricPoolQueueLength.WithLabelValues(p.name).Dec()
		job()
	}
}

// run executes fn(i) for every i in [0, n) across the pool's workers
// and blocks until all have finished.
func (p *componentPool) run(n int, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		metricPoolQueueLength.WithLabelValues(p.name).Inc()
		p.workQueue <- func() {
			defer wg.Done()
			fn(i)
		}
	}
	wg.Wait()
}

// runCancellable is run's converging-accumulator counterpart: a job
// already dequeued still completes, but a job not yet started is
// skipped once done is closed, short-circuiting a traversal whose
// accumulator has already converged.
func (p *componentPool) runCancellable(n int, done <-chan struct{}, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		metricPoolQueueLength.WithLabelValues(p.name).Inc()
		p.workQueue <- func() {
			defer wg.Done()
			select {
			case <-done:
				return
			default:
				fn(i)
			}
		}
	}
	wg.Wait()
}

// close shuts the pool down; its worker goroutines exit once the
// queue drains. A componentPool is sized to one forest's lifetime.
func (p *componentPool) close() {
	close(p.workQueue)
}
