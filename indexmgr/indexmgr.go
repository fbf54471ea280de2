// Package indexmgr allocates and frees dense integer handles in
// [0, capacity) with O(1) amortized cost, for anything that needs to
// hand out a small recyclable integer; PointStore takes its handles
// from an IndexIntervalManager. It holds no notion of what the handle
// denotes; that belongs to the caller.
package indexmgr

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/rcf-go/rcfcore/internal/growth"
	"github.com/rcf-go/rcfcore/rcferrors"
)

// Stats is a point-in-time snapshot of a manager's occupancy, used only
// for observability (CLI/metrics), never by core algorithms.
type Stats struct {
	Capacity  int
	Size      int
	FreeCount int
}

// IndexManager is the stack-based free list: take() pops the most
// recently released (or, for a fresh manager, the next untouched)
// handle; release() pushes it back. A fresh manager's stack is
// initialized in reverse so take() yields 0, 1, 2, ... in order.
type IndexManager struct {
	logger log.Logger

	capacity int
	occupied []bool
	size     int

	freeIndexes  []int
	freeIndexTop int // index of the top of the free stack in freeIndexes; -1 means empty
}

// New builds a manager over [0, capacity).
func New(capacity int, logger log.Logger) *IndexManager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &IndexManager{
		logger:   logger,
		capacity: capacity,
		occupied: make([]bool, capacity),
	}
	m.resetFreeList(0, capacity)
	return m
}

func (m *IndexManager) resetFreeList(from, to int) {
	added := to - from
	if cap(m.freeIndexes) < len(m.freeIndexes)+added {
		grown := make([]int, len(m.freeIndexes), len(m.freeIndexes)+added)
		copy(grown, m.freeIndexes)
		m.freeIndexes = grown
	}
	// push in reverse order so take() yields `from, from+1, ...`
	for i := to - 1; i >= from; i-- {
		m.freeIndexes = append(m.freeIndexes, i)
	}
	m.freeIndexTop = len(m.freeIndexes) - 1
}

// Take allocates and returns the next available handle. It panics with
// an InvariantViolation-classed error if the manager is exhausted; the
// caller (PointStore) is expected to Grow before calling Take when
// dynamic resizing is enabled, and to treat exhaustion under a fixed
// capacity as OutOfCapacity instead of calling Take blindly.
func (m *IndexManager) Take() int {
	if m.freeIndexTop < 0 {
		rcferrors.Fatalf("indexmgr: take() called with no free handles (capacity=%d)", m.capacity)
	}
	h := m.freeIndexes[m.freeIndexTop]
	m.freeIndexes = m.freeIndexes[:m.freeIndexTop]
	m.freeIndexTop--
	m.occupied[h] = true
	m.size++
	level.Debug(m.logger).Log("msg", "indexmgr take", "handle", h)
	return h
}

// TryTake is the non-fatal counterpart to Take, returning ok=false
// instead of panicking when the manager is exhausted.
func (m *IndexManager) TryTake() (handle int, ok bool) {
	if m.freeIndexTop < 0 {
		return 0, false
	}
	return m.Take(), true
}

// Release returns handle to the free pool. Double-free and
// release-of-never-occupied are both fatal programming errors.
func (m *IndexManager) Release(handle int) {
	if handle < 0 || handle >= m.capacity {
		rcferrors.Fatalf("indexmgr: release() handle %d out of range [0,%d)", handle, m.capacity)
	}
	if !m.occupied[handle] {
		rcferrors.Fatalf("indexmgr: release() of handle %d that was never occupied or already freed", handle)
	}
	m.occupied[handle] = false
	m.freeIndexes = append(m.freeIndexes, handle)
	m.freeIndexTop++
	m.size--
	level.Debug(m.logger).Log("msg", "indexmgr release", "handle", handle)
}

// IsOccupied reports whether handle is currently allocated.
func (m *IndexManager) IsOccupied(handle int) bool {
	if handle < 0 || handle >= m.capacity {
		return false
	}
	return m.occupied[handle]
}

// Size returns the number of currently occupied handles.
func (m *IndexManager) Size() int {
	return m.size
}

// Capacity returns the manager's current capacity.
func (m *IndexManager) Capacity() int {
	return m.capacity
}

// Grow increases capacity to newCapacity, preserving occupancy of
// existing handles. It is a no-op if newCapacity <= current capacity.
func (m *IndexManager) Grow(newCapacity int) {
	if newCapacity <= m.capacity {
		return
	}
	old := m.capacity
	grownOccupied := make([]bool, newCapacity)
	copy(grownOccupied, m.occupied)
	m.occupied = grownOccupied
	m.capacity = newCapacity
	m.resetFreeList(old, newCapacity)
	level.Debug(m.logger).Log("msg", "indexmgr grow", "from", old, "to", newCapacity)
}

// GrowGently grows using the shared 1.1x growth policy, capped at max.
func (m *IndexManager) GrowGently(max int) {
	m.Grow(growth.Gentle(m.capacity, max))
}

// Stats returns a point-in-time occupancy snapshot.
func (m *IndexManager) Stats() Stats {
	size := m.Size()
	return Stats{Capacity: m.capacity, Size: size, FreeCount: m.capacity - size}
}

// FreeList exposes the compact free-list representation for
// serialization accessors; the core never needs this
// itself but out-of-scope state mappers do.
func (m *IndexManager) FreeList() []int {
	out := make([]int, m.freeIndexTop+1)
	copy(out, m.freeIndexes[:m.freeIndexTop+1])
	return out
}

// OccupiedBitset exposes the occupied bitset for the same reason.
func (m *IndexManager) OccupiedBitset() []bool {
	out := make([]bool, len(m.occupied))
	copy(out, m.occupied)
	return out
}
