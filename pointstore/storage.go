package pointstore

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"

	"github.com/rcf-go/rcfcore/internal/growth"
	"github.com/rcf-go/rcfcore/rcferrors"
)

func floatBits(v float64) uint64 {
	return math.Float64bits(v)
}

// writePoint stores shingled for handle, returning the address (offset
// in values) it was written at. For a direct-mapped store the address
// is always handle*dimensions; otherwise it appends to the flat
// buffer, sharing the previous point's tail when eligible.
func (ps *PointStore) writePoint(handle Handle, shingled []float64) (int, error) {
	if ps.directLocationMap {
		addr := int(handle) * ps.dimensions
		if err := ps.ensureDirectCapacity(addr + ps.dimensions); err != nil {
			return 0, err
		}
		copy(ps.store[addr:addr+ps.dimensions], shingled)
		return addr, nil
	}

	overlapLen := ps.checkOverlapLen(shingled)
	amount := ps.dimensions - overlapLen

	if err := ps.ensureAppendCapacity(amount); err != nil {
		return 0, err
	}

	addr := ps.startOfFreeSegment - overlapLen
	copy(ps.store[ps.startOfFreeSegment:ps.startOfFreeSegment+amount], shingled[overlapLen:])
	ps.startOfFreeSegment += amount

	if overlapLen > 0 {
		metricOverlapBytesSaved.WithLabelValues(ps.name).Add(float64(overlapLen))
	}
	ps.rememberTail(shingled)

	return addr, nil
}

// checkOverlapLen returns how many leading values of shingled are
// already present as the tail of the most recently written point, or
// 0 if overlap sharing does not apply. Given the unresolved question over
// rotation + overlap interaction, this store conservatively disables
// overlap sharing whenever rotation is enabled rather than guessing at
// unproven alignment behavior.
func (ps *PointStore) checkOverlapLen(shingled []float64) int {
	if ps.rotationEnabled {
		return 0
	}
	overlapLen := ps.dimensions - ps.baseDim
	if overlapLen <= 0 || ps.startOfFreeSegment < overlapLen {
		return 0
	}

	candidate := shingled[:overlapLen]
	fp := fingerprint(candidate)
	if !ps.overlapFilter.TestAndAdd(u64Bytes(fp)) {
		// bloom says "definitely not seen" — skip the exact compare.
		return 0
	}

	tail := ps.store[ps.startOfFreeSegment-overlapLen : ps.startOfFreeSegment]
	for i := range candidate {
		if tail[i] != candidate[i] {
			return 0
		}
	}
	return overlapLen
}

func (ps *PointStore) rememberTail(shingled []float64) {
	overlapLen := ps.dimensions - ps.baseDim
	if overlapLen <= 0 || ps.rotationEnabled {
		return
	}
	tail := shingled[ps.dimensions-overlapLen:]
	fp := fingerprint(tail)
	ps.overlapFilter.Add(u64Bytes(fp))
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func (ps *PointStore) ensureDirectCapacity(neededValues int) error {
	if neededValues <= len(ps.store) {
		return nil
	}
	if !ps.dynamicResizingEnabled {
		return rcferrors.New(rcferrors.OutOfCapacity, "pointstore: direct-mapped store exhausted and dynamic resizing disabled")
	}
	maxSlots := ps.capacity
	newSlots := growth.Double(ps.currentStoreCapacity, maxSlots)
	for newSlots*ps.dimensions < neededValues && newSlots < maxSlots {
		newSlots = growth.Double(newSlots, maxSlots)
	}
	if newSlots*ps.dimensions < neededValues {
		return rcferrors.New(rcferrors.OutOfCapacity, "pointstore: direct-mapped store cannot grow enough")
	}
	ps.growStore(newSlots)
	return nil
}

// ensureAppendCapacity grows or compacts the indirect store so amount
// more values can be appended at startOfFreeSegment.
func (ps *PointStore) ensureAppendCapacity(amount int) error {
	if ps.startOfFreeSegment+amount <= len(ps.store) {
		return nil
	}

	limitSlots := ps.capacity
	if ps.rotationEnabled {
		limitSlots = 2 * ps.capacity
	}

	if ps.dynamicResizingEnabled && ps.currentStoreCapacity < limitSlots {
		newSlots := growth.Double(ps.currentStoreCapacity, limitSlots)
		for newSlots*ps.dimensions < ps.startOfFreeSegment+amount && newSlots < limitSlots {
			newSlots = growth.Double(newSlots, limitSlots)
		}
		ps.growStore(newSlots)
		if ps.startOfFreeSegment+amount <= len(ps.store) {
			return nil
		}
	}

	ps.compact()
	if ps.startOfFreeSegment+amount <= len(ps.store) {
		return nil
	}

	if ps.dynamicResizingEnabled && ps.currentStoreCapacity < limitSlots {
		newSlots := growth.Double(ps.currentStoreCapacity, limitSlots)
		for newSlots*ps.dimensions < ps.startOfFreeSegment+amount && newSlots < limitSlots {
			newSlots = growth.Double(newSlots, limitSlots)
		}
		ps.growStore(newSlots)
		if ps.startOfFreeSegment+amount <= len(ps.store) {
			return nil
		}
	}

	return rcferrors.New(rcferrors.OutOfCapacity, "pointstore: flat store exhausted; growth and compaction both insufficient")
}

func (ps *PointStore) growStore(newSlots int) {
	if newSlots <= ps.currentStoreCapacity {
		return
	}
	grown := make([]float64, newSlots*ps.dimensions)
	copy(grown, ps.store)
	ps.store = grown
	ps.currentStoreCapacity = newSlots
	metricGrowthTotal.WithLabelValues(ps.name, "store").Inc()
	level.Info(ps.logger).Log("msg", "point store grown", "newCapacityBytes", humanize.Bytes(uint64(len(ps.store)*8)))
}

// compact rewrites the flat store to a dense prefix holding exactly
// the currently live points, dropping any overlap sharing those points
// used to participate in (each live point becomes an independent
// dimensions-sized block). It is a no-op for direct-mapped stores.
func (ps *PointStore) compact() {
	if ps.directLocationMap {
		return
	}
	start := time.Now()

	type entry struct {
		handle int
		addr   int
	}
	live := make([]entry, 0, ps.Size())
	for h := 0; h < ps.capacity; h++ {
		if ps.refCount[h] > 0 {
			live = append(live, entry{handle: h, addr: ps.locationList[h]})
		}
	}
	// preserve relative order so that adjacent points keep whatever
	// temporal locality they had, even though overlap itself is reset.
	for i := 1; i < len(live); i++ {
		j := i
		for j > 0 && live[j-1].addr > live[j].addr {
			live[j-1], live[j] = live[j], live[j-1]
			j--
		}
	}

	newStore := make([]float64, len(ps.store))
	cursor := 0
	for _, e := range live {
		copy(newStore[cursor:cursor+ps.dimensions], ps.store[e.addr:e.addr+ps.dimensions])
		ps.locationList[e.handle] = cursor
		cursor += ps.dimensions
	}

	ps.store = newStore
	ps.startOfFreeSegment = cursor
	ps.overlapFilter.ClearAll()

	metricCompactionTotal.WithLabelValues(ps.name).Inc()
	metricCompactionDuration.WithLabelValues(ps.name).Observe(time.Since(start).Seconds())
	level.Info(ps.logger).Log("msg", "point store compacted", "liveHandles", len(live), "freedBytes",
		humanize.Bytes(uint64((len(ps.store)-cursor)*8)))
}

// DebugSummary renders a human-readable snapshot for logs and the CLI.
func (ps *PointStore) DebugSummary() string {
	return "pointstore[" + ps.name + "] size=" + itoa(ps.Size()) + "/" + itoa(ps.capacity) +
		" store=" + humanize.Bytes(uint64(len(ps.store)*8)) +
		" used=" + humanize.Bytes(uint64(ps.startOfFreeSegment*8))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Stats returns a point-in-time snapshot of the store's occupancy.
func (ps *PointStore) Stats() Stats {
	return Stats{
		Dimensions:           ps.dimensions,
		Capacity:             ps.capacity,
		Size:                 ps.Size(),
		ShingleSize:          ps.shingleSize,
		CurrentStoreCapacity: ps.currentStoreCapacity,
		StoreBytesUsed:       ps.startOfFreeSegment * 8,
		StoreBytesAllocated:  len(ps.store) * 8,
	}
}
