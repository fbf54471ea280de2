package pointstore

import "math"

// Handle is an opaque, non-negative reference into a PointStore's
// arena. It is a pure value: copying it never implies ownership of the
// underlying point, only a RefCount contribution does.
type Handle uint32

const (
	// NullHandle is the sentinel for "no handle".
	NullHandle Handle = math.MaxUint32
	// NotReady is returned by Add when internal shingling is enabled
	// and the rolling shingle has not yet accumulated enough base
	// tuples to emit a full point. It is a distinct sentinel from
	// NullHandle because the two indicate different things to a
	// caller: NotReady is an expected, transient state; NullHandle
	// means "there is and never will be a point here".
	NotReady Handle = math.MaxUint32 - 1
)

// Stats is a point-in-time snapshot for observability/CLI use.
type Stats struct {
	Dimensions           int
	Capacity             int
	Size                 int
	ShingleSize          int
	CurrentStoreCapacity int
	StoreBytesUsed       int
	StoreBytesAllocated  int
}

// View is the read-only surface a RandomCutTree needs. A PointStore
// satisfies it directly; nothing else should.
type View interface {
	Get(h Handle) ([]float64, error)
	PointEquals(h Handle, point []float64) (bool, error)
	Dimensions() int
	GetRefCount(h Handle) int
}
