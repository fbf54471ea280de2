package indexmgr

import (
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/rcf-go/rcfcore/internal/growth"
	"github.com/rcf-go/rcfcore/rcferrors"
)

// interval is a half-open range [Start, End) of free handles.
type interval struct {
	start, end int
}

// IndexIntervalManager is the interval-based free list used by
// PointStore to keep its flat storage dense: free handles are kept as
// a sorted set of half-open intervals rather than a fully materialized
// stack, so a store that allocates/frees in large contiguous runs
// (the common PointStore pattern) never pays O(capacity) bookkeeping.
// take() always pulls from the highest interval, which keeps
// allocation biased toward low handle numbers and free space
// contiguous at the top, the property PointStore's compaction and
// growth logic relies on.
type IndexIntervalManager struct {
	logger log.Logger

	capacity int
	size     int
	free     []interval // sorted ascending by start, non-overlapping, non-adjacent
}

// NewInterval builds an interval manager over [0, capacity).
func NewInterval(capacity int, logger log.Logger) *IndexIntervalManager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &IndexIntervalManager{
		logger:   logger,
		capacity: capacity,
	}
	if capacity > 0 {
		m.free = []interval{{0, capacity}}
	}
	return m
}

// Take allocates the lowest handle of the highest free interval,
// shrinking that interval from below (or removing it if now empty).
func (m *IndexIntervalManager) Take() int {
	if len(m.free) == 0 {
		rcferrors.Fatalf("indexmgr: interval take() called with no free handles (capacity=%d)", m.capacity)
	}
	last := len(m.free) - 1
	iv := &m.free[last]
	h := iv.start
	iv.start++
	if iv.start == iv.end {
		m.free = m.free[:last]
	}
	m.size++
	level.Debug(m.logger).Log("msg", "indexmgr interval take", "handle", h)
	return h
}

// TryTake is the non-fatal counterpart to Take.
func (m *IndexIntervalManager) TryTake() (handle int, ok bool) {
	if len(m.free) == 0 {
		return 0, false
	}
	return m.Take(), true
}

// Release returns handle to the free set, coalescing it with an
// adjacent interval when possible or starting a new singleton
// interval otherwise. Double-free and release-of-never-allocated are
// fatal.
func (m *IndexIntervalManager) Release(handle int) {
	if handle < 0 || handle >= m.capacity {
		rcferrors.Fatalf("indexmgr: interval release() handle %d out of range [0,%d)", handle, m.capacity)
	}

	i := sort.Search(len(m.free), func(i int) bool { return m.free[i].start > handle })
	// i is the index of the first interval strictly after handle.
	if i > 0 {
		prev := &m.free[i-1]
		if handle >= prev.start && handle < prev.end {
			rcferrors.Fatalf("indexmgr: interval release() of handle %d that is already free", handle)
		}
		if prev.end == handle {
			prev.end++
			if i < len(m.free) && m.free[i].start == prev.end {
				prev.end = m.free[i].end
				m.free = append(m.free[:i], m.free[i+1:]...)
			}
			m.size--
			level.Debug(m.logger).Log("msg", "indexmgr interval release", "handle", handle)
			return
		}
	}
	if i < len(m.free) && m.free[i].start == handle+1 {
		m.free[i].start = handle
		m.size--
		level.Debug(m.logger).Log("msg", "indexmgr interval release", "handle", handle)
		return
	}

	// no adjacent interval; insert a new singleton at position i.
	m.free = append(m.free, interval{})
	copy(m.free[i+1:], m.free[i:])
	m.free[i] = interval{handle, handle + 1}
	m.size--
	level.Debug(m.logger).Log("msg", "indexmgr interval release", "handle", handle)
}

// IsOccupied reports whether handle currently falls outside every free
// interval.
func (m *IndexIntervalManager) IsOccupied(handle int) bool {
	if handle < 0 || handle >= m.capacity {
		return false
	}
	i := sort.Search(len(m.free), func(i int) bool { return m.free[i].end > handle })
	if i < len(m.free) && handle >= m.free[i].start && handle < m.free[i].end {
		return false
	}
	return true
}

// Size returns the number of currently occupied handles.
func (m *IndexIntervalManager) Size() int {
	return m.size
}

// Capacity returns the manager's current capacity.
func (m *IndexIntervalManager) Capacity() int {
	return m.capacity
}

// Grow extends capacity to newCapacity, adding the new range as free
// space (coalescing with a free interval that already reaches the old
// capacity boundary).
func (m *IndexIntervalManager) Grow(newCapacity int) {
	if newCapacity <= m.capacity {
		return
	}
	old := m.capacity
	m.capacity = newCapacity
	if len(m.free) > 0 && m.free[len(m.free)-1].end == old {
		m.free[len(m.free)-1].end = newCapacity
	} else {
		m.free = append(m.free, interval{old, newCapacity})
	}
	level.Debug(m.logger).Log("msg", "indexmgr interval grow", "from", old, "to", newCapacity)
}

// GrowGently grows using the shared 1.1x growth policy, capped at max.
func (m *IndexIntervalManager) GrowGently(max int) {
	m.Grow(growth.Gentle(m.capacity, max))
}

// Stats returns a point-in-time occupancy snapshot.
func (m *IndexIntervalManager) Stats() Stats {
	return Stats{Capacity: m.capacity, Size: m.size, FreeCount: m.capacity - m.size}
}

// FreeIntervals exposes the compact interval representation for
// serialization accessors.
func (m *IndexIntervalManager) FreeIntervals() [][2]int {
	out := make([][2]int, len(m.free))
	for i, iv := range m.free {
		out[i] = [2]int{iv.start, iv.end}
	}
	return out
}
