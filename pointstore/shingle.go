package pointstore

// shingleBuffer maintains the PointStore's rolling input shingle when
// internal shingling is enabled. It always holds the logical sliding
// window in time order regardless of whether the store's own backing
// array writes use rotation; rotation only changes how the store
// appends bytes to its flat buffer (see storage.go), never the logical
// content a caller observes through TransformToShingledPoint.
type shingleBuffer struct {
	values      []float64 // length == dimensions
	baseDim     int
	shingleSize int
	fill        int // number of base tuples folded in so far, capped at shingleSize
}

func newShingleBuffer(dimensions, baseDim, shingleSize int) *shingleBuffer {
	return &shingleBuffer{
		values:      make([]float64, dimensions),
		baseDim:     baseDim,
		shingleSize: shingleSize,
	}
}

// ready reports whether the buffer has accumulated a full shingle.
func (s *shingleBuffer) ready() bool {
	return s.fill >= s.shingleSize
}

// push slides raw into the window and returns whether the result is a
// full shingle yet.
func (s *shingleBuffer) push(raw []float64) bool {
	copy(s.values, s.values[s.baseDim:])
	copy(s.values[len(s.values)-s.baseDim:], raw)
	if s.fill < s.shingleSize {
		s.fill++
	}
	return s.ready()
}

// snapshot returns a defensive copy of the current window.
func (s *shingleBuffer) snapshot() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// peekPush returns what snapshot() would be after push(raw), without
// mutating the buffer. Used by TransformToShingledPoint.
func (s *shingleBuffer) peekPush(raw []float64) []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values[s.baseDim:])
	copy(out[len(out)-s.baseDim:], raw)
	return out
}
