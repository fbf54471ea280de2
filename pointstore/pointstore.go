// Package pointstore implements an arena-style PointStore: a
// reference-counted store of fixed-length shingled vectors shared by
// reference across every tree in a forest, with opportunistic overlap
// sharing for shingled streams, dynamic growth, and compaction.
package pointstore

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/willf/bloom"
	"go.uber.org/atomic"

	"github.com/rcf-go/rcfcore/config"
	"github.com/rcf-go/rcfcore/indexmgr"
	"github.com/rcf-go/rcfcore/rcferrors"
)

const initialStoreFraction = 8 // store starts at capacity/initialStoreFraction slots

// PointStore is an arena of up to Capacity distinct live shingled
// points, reference-counted and optionally overlap-shared.
type PointStore struct {
	logger log.Logger
	name   string

	dimensions int
	shingleSize int
	baseDim    int
	capacity   int

	directLocationMap        bool
	rotationEnabled          bool
	internalShinglingEnabled bool
	dynamicResizingEnabled   bool
	truncateToFloat32        bool

	indexMgr *indexmgr.IndexIntervalManager

	store                []float64
	currentStoreCapacity int // in dimensions-sized slots
	startOfFreeSegment   int // offset in values, not slots

	locationList []int   // handle -> offset in store, used when !directLocationMap
	refCount     []int32 // handle -> live reference count

	nextSequenceIndex atomic.Int64

	shingle *shingleBuffer

	overlapFilter *bloom.BloomFilter
}

// New builds an empty PointStore from cfg. name labels this store's
// Prometheus metrics and log lines, letting a forest with many trees
// (each owning no PointStore of its own — PointStore is shared) or a
// test harness with many stores tell them apart.
func New(cfg config.Config, logger log.Logger, name string) (*PointStore, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, rcferrors.Wrap(rcferrors.InvalidArgument, err, "pointstore config")
	}

	baseDim := cfg.BaseDimension()
	directMap := cfg.DirectLocationMap || cfg.ShingleSize == 1

	initialSlots := cfg.Capacity / initialStoreFraction
	if initialSlots < 1 {
		initialSlots = 1
	}
	if directMap || !cfg.DynamicResizingEnabled {
		initialSlots = cfg.Capacity
	}

	ps := &PointStore{
		logger:                   log.With(logger, "component", "pointstore", "store", name),
		name:                     name,
		dimensions:               cfg.Dimensions,
		shingleSize:              cfg.ShingleSize,
		baseDim:                  baseDim,
		capacity:                 cfg.Capacity,
		directLocationMap:        directMap,
		rotationEnabled:          cfg.InternalRotationEnabled,
		internalShinglingEnabled: cfg.InternalShinglingEnabled,
		dynamicResizingEnabled:   cfg.DynamicResizingEnabled,
		truncateToFloat32:        cfg.Precision == config.Float32,
		indexMgr:                 indexmgr.NewInterval(cfg.Capacity, logger),
		currentStoreCapacity:     initialSlots,
	}
	ps.store = make([]float64, initialSlots*cfg.Dimensions)

	if !directMap {
		ps.locationList = make([]int, cfg.Capacity)
		ps.overlapFilter = bloom.New(20*uint(cfg.Capacity)+1024, 5)
	}
	ps.refCount = make([]int32, cfg.Capacity)

	if cfg.InternalShinglingEnabled {
		ps.shingle = newShingleBuffer(cfg.Dimensions, baseDim, cfg.ShingleSize)
	}

	metricCapacity.WithLabelValues(name).Set(float64(cfg.Capacity))
	metricSize.WithLabelValues(name).Set(0)

	return ps, nil
}

// Dimensions returns the length of a fully shingled point.
func (ps *PointStore) Dimensions() int { return ps.dimensions }

// Capacity returns the maximum number of live handles.
func (ps *PointStore) Capacity() int { return ps.capacity }

// Size returns the number of currently live handles.
func (ps *PointStore) Size() int { return ps.indexMgr.Size() }

// ShingleSize returns the configured shingle size.
func (ps *PointStore) ShingleSize() int { return ps.shingleSize }

// IsInternalShinglingEnabled reports whether this store maintains its
// own rolling input shingle.
func (ps *PointStore) IsInternalShinglingEnabled() bool { return ps.internalShinglingEnabled }

// IsInternalRotationEnabled reports whether shingle writes are
// rotational rather than sliding.
func (ps *PointStore) IsInternalRotationEnabled() bool { return ps.rotationEnabled }

// GetNextSequenceIndex returns one past the highest sequence number
// passed to an Add that stored a point; Add calls that return NotReady
// or an error leave it unchanged.
func (ps *PointStore) GetNextSequenceIndex() int64 { return ps.nextSequenceIndex.Load() }

// GetRefCount returns h's current reference count, or 0 if h is not
// live.
func (ps *PointStore) GetRefCount(h Handle) int {
	if !ps.validHandle(h) {
		return 0
	}
	return int(ps.refCount[h])
}

func (ps *PointStore) validHandle(h Handle) bool {
	return h != NullHandle && h != NotReady && int(h) < ps.capacity
}

// Add stores rawInput, returning a fresh handle with RefCount 1.
//
// If internal shingling is disabled, rawInput must be exactly
// Dimensions long and is stored as-is. If enabled, rawInput must be
// exactly BaseDimension long; Add folds it into the rolling shingle
// and returns NotReady (with a nil error) until the window has filled.
func (ps *PointStore) Add(rawInput []float64, sequenceNumber int64) (Handle, error) {
	var shingled []float64

	if ps.internalShinglingEnabled {
		if len(rawInput) != ps.baseDim {
			return NullHandle, rcferrors.New(rcferrors.InvalidArgument,
				fmt.Sprintf("pointstore: rawInput length %d != baseDimension %d", len(rawInput), ps.baseDim))
		}
		if !ps.shingle.push(rawInput) {
			return NotReady, nil
		}
		shingled = ps.shingle.snapshot()
	} else {
		if len(rawInput) != ps.dimensions {
			return NullHandle, rcferrors.New(rcferrors.InvalidArgument,
				fmt.Sprintf("pointstore: rawInput length %d != dimensions %d", len(rawInput), ps.dimensions))
		}
		shingled = append([]float64(nil), rawInput...)
	}

	if ps.truncateToFloat32 {
		for i, v := range shingled {
			shingled[i] = float64(float32(v))
		}
	}
	normalizeNegativeZero(shingled)

	handle, err := ps.takeHandle()
	if err != nil {
		return NullHandle, err
	}

	addr, err := ps.writePoint(handle, shingled)
	if err != nil {
		ps.indexMgr.Release(int(handle))
		return NullHandle, err
	}

	if !ps.directLocationMap {
		ps.locationList[handle] = addr
	}
	// refCount is written only after storage has succeeded, so a
	// failed write never leaves a handle looking live.
	ps.refCount[handle] = 1

	if sequenceNumber >= ps.nextSequenceIndex.Load() {
		ps.nextSequenceIndex.Store(sequenceNumber + 1)
	}

	metricSize.WithLabelValues(ps.name).Set(float64(ps.Size()))
	return handle, nil
}

func (ps *PointStore) takeHandle() (Handle, error) {
	h, ok := ps.indexMgr.TryTake()
	if !ok {
		if ps.dynamicResizingEnabled && ps.indexMgr.Capacity() < ps.capacity {
			ps.indexMgr.GrowGently(ps.capacity)
			metricGrowthTotal.WithLabelValues(ps.name, "index").Inc()
			h, ok = ps.indexMgr.TryTake()
		}
		if !ok {
			return NullHandle, rcferrors.New(rcferrors.OutOfCapacity, "pointstore: no free handles and index manager cannot grow further")
		}
	}
	return Handle(h), nil
}

// normalizeNegativeZero replaces -0.0 with +0.0 in place. The source
// representation this core is modeled on does the same assignment on
// both branches of a sign check; the only observable effect is
// collapsing -0.0 to +0.0 so two otherwise-identical points compare
// equal and hash identically.
func normalizeNegativeZero(point []float64) {
	for i, v := range point {
		if v == 0 {
			point[i] = 0
		}
	}
}

// Get returns a deep copy of h's point.
func (ps *PointStore) Get(h Handle) ([]float64, error) {
	if !ps.validHandle(h) || ps.refCount[h] == 0 {
		return nil, rcferrors.New(rcferrors.InvalidArgument, fmt.Sprintf("pointstore: handle %d is not live", h))
	}
	addr := ps.address(h)
	out := make([]float64, ps.dimensions)
	copy(out, ps.store[addr:addr+ps.dimensions])
	return out, nil
}

// PointEquals reports whether h's stored point is element-wise exactly
// equal to point.
func (ps *PointStore) PointEquals(h Handle, point []float64) (bool, error) {
	if !ps.validHandle(h) || ps.refCount[h] == 0 {
		return false, rcferrors.New(rcferrors.InvalidArgument, fmt.Sprintf("pointstore: handle %d is not live", h))
	}
	if len(point) != ps.dimensions {
		return false, nil
	}
	addr := ps.address(h)
	stored := ps.store[addr : addr+ps.dimensions]
	for i := range point {
		if stored[i] != point[i] {
			return false, nil
		}
	}
	return true, nil
}

func (ps *PointStore) address(h Handle) int {
	if ps.directLocationMap {
		return int(h) * ps.dimensions
	}
	return ps.locationList[h]
}

// IncrementRefCount adds one reference to h, returning the new count.
func (ps *PointStore) IncrementRefCount(h Handle) int {
	if !ps.validHandle(h) || ps.refCount[h] == 0 {
		rcferrors.Fatalf("pointstore: incrementRefCount on handle %d that is not live", h)
	}
	ps.refCount[h]++
	return int(ps.refCount[h])
}

// DecrementRefCount removes one reference from h, freeing its slot
// when the count reaches zero. Decrementing an already-zero handle is
// a fatal programming error.
func (ps *PointStore) DecrementRefCount(h Handle) int {
	if !ps.validHandle(h) || ps.refCount[h] == 0 {
		rcferrors.Fatalf("pointstore: decrementRefCount on handle %d with refCount 0", h)
	}
	ps.refCount[h]--
	n := int(ps.refCount[h])
	if n == 0 {
		ps.indexMgr.Release(int(h))
		metricSize.WithLabelValues(ps.name).Set(float64(ps.Size()))
		level.Debug(ps.logger).Log("msg", "handle freed", "handle", h)
	}
	return n
}

// TransformToShingledPoint reports what Add(rawInput, ...) would
// currently produce, without mutating the rolling shingle. It is a
// no-op passthrough when internal shingling is disabled.
func (ps *PointStore) TransformToShingledPoint(rawInput []float64) ([]float64, error) {
	if !ps.internalShinglingEnabled {
		if len(rawInput) != ps.dimensions {
			return nil, rcferrors.New(rcferrors.InvalidArgument, "pointstore: rawInput length mismatch")
		}
		out := append([]float64(nil), rawInput...)
		return out, nil
	}
	if len(rawInput) != ps.baseDim {
		return nil, rcferrors.New(rcferrors.InvalidArgument, "pointstore: rawInput length mismatch")
	}
	return ps.shingle.peekPush(rawInput), nil
}

// TransformIndices maps indices into the most recent base tuple to
// their position in the full shingled point (the tail baseDimension
// slice), for downstream consumers attributing a score to input
// fields rather than shingle positions.
func (ps *PointStore) TransformIndices(indexSet []int) ([]int, error) {
	if !ps.internalShinglingEnabled {
		return append([]int(nil), indexSet...), nil
	}
	offset := ps.dimensions - ps.baseDim
	out := make([]int, 0, len(indexSet))
	for _, idx := range indexSet {
		if idx < 0 || idx >= ps.baseDim {
			return nil, rcferrors.New(rcferrors.InvalidArgument, fmt.Sprintf("pointstore: index %d out of base dimension range", idx))
		}
		out = append(out, offset+idx)
	}
	return out, nil
}

// fingerprint hashes a float64 slice's IEEE-754 bit pattern via
// xxhash, used only by the overlap-sharing fast path; it never
// participates in a correctness decision on its own.
func fingerprint(values []float64) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, v := range values {
		bits := floatBits(v)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
