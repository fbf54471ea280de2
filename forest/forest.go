// Package forest implements SamplerPlusTree, which keeps one sampler
// and one tree consistent, and Forest, which fans a stream of points
// out across every component and reduces their traversal results.
package forest

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/rcf-go/rcfcore/config"
	"github.com/rcf-go/rcfcore/pointstore"
	"github.com/rcf-go/rcfcore/rcferrors"
	"github.com/rcf-go/rcfcore/sampler"
	"github.com/rcf-go/rcfcore/tree"
)

// UpdateOutcome reports what one component did with a submitted point.
type UpdateOutcome struct {
	Accepted   bool
	Evicted    pointstore.Handle
	HasEvicted bool
}

// SamplerPlusTree couples one TimeDecayedSampler to one RandomCutTree,
// keeping the invariant that every handle the sampler holds has
// exactly one leaf in the tree and contributes exactly 1 to that
// leaf's share of the handle's PointStore reference count.
type SamplerPlusTree struct {
	logger  log.Logger
	sampler *sampler.TimeDecayedSampler
	tree    *tree.RandomCutTree
}

func newSamplerPlusTree(cfg config.Config, ps *pointstore.PointStore, componentIndex int, logger log.Logger, name string) *SamplerPlusTree {
	sc := sampler.Config{
		Capacity:                    cfg.SampleSize,
		TimeDecay:                   cfg.TimeDecay,
		InitialAcceptFraction:       cfg.InitialAcceptFraction,
		RandomSeed:                  cfg.RandomSeed,
		ComponentIndex:              componentIndex,
		StoreSequenceIndexesEnabled: cfg.StoreSequenceIndexesEnabled,
	}
	tc := tree.Config{
		Capacity:       cfg.SampleSize,
		RandomSeed:     cfg.RandomSeed,
		ComponentIndex: componentIndex,
	}
	return &SamplerPlusTree{
		logger:  logger,
		sampler: sampler.New(sc, logger, name),
		tree:    tree.New(tc, ps, logger, name),
	}
}

// Tree exposes the component's tree for traversal.
func (c *SamplerPlusTree) Tree() *tree.RandomCutTree { return c.tree }

// Sampler exposes the component's sampler for inspection.
func (c *SamplerPlusTree) Sampler() *sampler.TimeDecayedSampler { return c.sampler }

// update runs the accept/evict/insert contract for one newly added
// handle, touching only this component's own sampler and tree. It
// never mutates the shared PointStore's reference counts itself: the
// point behind newHandle is kept alive for the whole fan-out by the
// coordinator's own +1 reference from the forest-wide Add, and the
// refcount deltas this outcome implies are applied once, serially, by
// the caller after every component has finished.
func (c *SamplerPlusTree) update(newHandle pointstore.Handle, sequenceIndex int64) (UpdateOutcome, error) {
	token := c.sampler.Offer(sequenceIndex)
	if !token.Accepted {
		return UpdateOutcome{}, nil
	}

	c.sampler.Commit(token, newHandle, sequenceIndex)

	outcome := UpdateOutcome{Accepted: true}
	evictedHandle, evictedSeq, evictedWeight, hasEvicted := c.sampler.GetEvictedHandle()
	if hasEvicted {
		c.tree.Delete(evictedHandle, evictedSeq)
		outcome.Evicted = evictedHandle
		outcome.HasEvicted = true
	}

	if _, _, err := c.tree.Add(newHandle, sequenceIndex); err != nil {
		c.rollback(newHandle, evictedHandle, evictedSeq, evictedWeight, hasEvicted)
		return UpdateOutcome{}, err
	}

	return outcome, nil
}

// rollback restores sampler/tree consistency after tree.Add fails on a
// handle the sampler already committed. It is purely component-local,
// like update: no PointStore refcount was touched on this outcome's
// behalf yet, so none needs undoing. Failure to restore consistency
// here means the sampler and tree have diverged, which is a fatal
// programming error rather than a recoverable one.
func (c *SamplerPlusTree) rollback(newHandle, evictedHandle pointstore.Handle, evictedSeq int64, evictedWeight float64, hadEviction bool) {
	if !c.sampler.RemoveHandle(newHandle) {
		rcferrors.Fatalf("forest: rollback could not find handle %d just committed to the sampler", newHandle)
	}

	if !hadEviction {
		return
	}

	if err := c.sampler.ReAdmit(evictedHandle, evictedWeight, evictedSeq); err != nil {
		rcferrors.Fatalf("forest: rollback could not re-admit evicted handle %d: %v", evictedHandle, err)
	}
	if _, _, err := c.tree.Add(evictedHandle, evictedSeq); err != nil {
		rcferrors.Fatalf("forest: rollback could not re-insert evicted handle %d: %v", evictedHandle, err)
	}
}

// Forest owns one PointStore shared by numberOfTrees independent
// SamplerPlusTree components, fanning updates and traversals out
// across a bounded worker pool.
type Forest struct {
	logger     log.Logger
	name       string
	pointStore *pointstore.PointStore
	components []*SamplerPlusTree
	pool       *componentPool
	sequence   atomic.Int64
}

// New builds a forest from cfg. name labels this forest's metrics, the
// metrics of every tree it owns and each sampler's capacity gauge; a
// sampler's other metrics are labelled by that sampler's own ID.
func New(cfg config.Config, logger log.Logger, name string) (*Forest, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, rcferrors.Wrap(rcferrors.InvalidArgument, err, "forest config")
	}

	ps, err := pointstore.New(cfg, logger, name)
	if err != nil {
		return nil, err
	}

	f := &Forest{
		logger:     log.With(logger, "component", "forest", "forest", name),
		name:       name,
		pointStore: ps,
		components: make([]*SamplerPlusTree, cfg.NumberOfTrees),
		pool:       newComponentPool(cfg.NumberOfTrees, name),
	}
	for i := 0; i < cfg.NumberOfTrees; i++ {
		f.components[i] = newSamplerPlusTree(cfg, ps, i, logger, name)
	}
	return f, nil
}

// PointStore exposes the forest's shared PointStore for inspection.
func (f *Forest) PointStore() *pointstore.PointStore { return f.pointStore }

// Components exposes the forest's SamplerPlusTree components in
// construction order.
func (f *Forest) Components() []*SamplerPlusTree { return f.components }

// Close releases the forest's worker pool. A closed forest must not be
// updated or traversed again.
func (f *Forest) Close() { f.pool.close() }

// UpdateResult is what Update returns for a point that was not
// absorbed into a still-filling internal shingle.
type UpdateResult struct {
	Handle        pointstore.Handle
	SequenceIndex int64
	Components    []UpdateOutcome
}

// Update submits rawInput as the next point in the stream. When the
// forest's PointStore maintains its own rolling shingle and the window
// has not yet filled, NotReady is true and Components is empty.
func (f *Forest) Update(rawInput []float64) (result UpdateResult, notReady bool, err error) {
	seq := f.sequence.Inc() - 1
	metricUpdateTotal.WithLabelValues(f.name).Inc()

	handle, err := f.pointStore.Add(rawInput, seq)
	if err != nil {
		return UpdateResult{}, false, err
	}
	if handle == pointstore.NotReady {
		metricUpdateNotReadyTotal.WithLabelValues(f.name).Inc()
		return UpdateResult{}, true, nil
	}

	outcomes := make([]UpdateOutcome, len(f.components))
	var mu sync.Mutex
	var firstErr error

	f.pool.run(len(f.components), func(i int) {
		outcome, err := f.components[i].update(handle, seq)
		if err != nil {
			metricComponentUpdateErrors.WithLabelValues(f.name).Inc()
			level.Error(f.logger).Log("msg", "component update failed", "component", i, "err", err)
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			return
		}
		outcomes[i] = outcome
	})

	// completeUpdate: every component has now finished touching its own
	// sampler and tree, so the refcount deltas their outcomes imply are
	// safe to apply here, serially, with no other goroutine mutating
	// the shared PointStore's refcounts concurrently. Each acceptance
	// adds the reference that outcome's tree leaf now holds; each
	// eviction removes the reference the evicted leaf used to hold.
	// Finally the coordinator drops its own +1 reference from Add, so
	// the net count for handle ends up exactly the number of
	// components that accepted it.
	for _, outcome := range outcomes {
		if outcome.Accepted {
			f.pointStore.IncrementRefCount(handle)
		}
		if outcome.HasEvicted {
			f.pointStore.DecrementRefCount(outcome.Evicted)
		}
	}
	f.pointStore.DecrementRefCount(handle)

	if firstErr != nil {
		return UpdateResult{}, false, firstErr
	}
	return UpdateResult{Handle: handle, SequenceIndex: seq, Components: outcomes}, false, nil
}

// VisitorFactory builds a fresh per-component visitor for one
// traversal call, since a Visitor's state is not safe to share across
// concurrently traversed trees.
type VisitorFactory[R any] func() tree.Visitor[R]

// Traverse queries every component with its own visitor instance and
// folds the per-tree results with accumulate, seeded at zero. Order of
// folding matches component construction order.
func Traverse[R any](f *Forest, queryPoint []float64, factory VisitorFactory[R], accumulate func(acc, next R) R, zero R) R {
	metricTraverseTotal.WithLabelValues(f.name).Inc()

	results := make([]R, len(f.components))
	f.pool.run(len(f.components), func(i int) {
		results[i] = tree.Traverse[R](f.components[i].tree, queryPoint, factory())
	})

	acc := zero
	for _, r := range results {
		acc = accumulate(acc, r)
	}
	return acc
}

// TraverseUntilConverged is Traverse's short-circuiting variant: once
// converged reports true for the accumulator-so-far, components whose
// job has not yet started are skipped. Components already in flight
// still finish and are folded in, so the return value covers every
// component that ran, including those still running when convergence
// was observed.
func TraverseUntilConverged[R any](f *Forest, queryPoint []float64, factory VisitorFactory[R], accumulate func(acc, next R) R, converged func(acc R) bool, zero R) R {
	metricTraverseTotal.WithLabelValues(f.name).Inc()

	var mu sync.Mutex
	var once sync.Once
	done := make(chan struct{})
	acc := zero

	f.pool.runCancellable(len(f.components), done, func(i int) {
		r := tree.Traverse[R](f.components[i].tree, queryPoint, factory())
		mu.Lock()
		acc = accumulate(acc, r)
		reached := converged(acc)
		mu.Unlock()
		if reached {
			once.Do(func() { close(done) })
		}
	})

	return acc
}
