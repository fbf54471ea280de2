// Package sampler implements TimeDecayedSampler, a size-k weighted
// reservoir biased toward recent arrivals by exponential time decay.
package sampler

import (
	"math"
	"math/rand"
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/rcf-go/rcfcore/internal/prng"
	"github.com/rcf-go/rcfcore/pointstore"
	"github.com/rcf-go/rcfcore/rcferrors"
)

// Sample is one reservoir entry: a PointStore handle, the weight it
// was admitted with, and (when enabled) the sequence index it arrived
// at.
type Sample struct {
	Handle        pointstore.Handle
	Weight        float64
	SequenceIndex int64
}

// Token is returned by Offer and must be passed to Commit to finalize
// acceptance. A zero Token (Accepted == false) means the offer was
// rejected and must not be committed.
type Token struct {
	Accepted bool
	Weight   float64
}

// Config configures a single TimeDecayedSampler.
type Config struct {
	Capacity                    int
	TimeDecay                   float64
	InitialAcceptFraction       float64
	RandomSeed                  int64
	ComponentIndex              int
	StoreSequenceIndexesEnabled bool
}

// TimeDecayedSampler is a weighted reservoir over PointStore handles.
// It is mutated only by its owning SamplerPlusTree; see the forest
// package for the update contract that keeps a sampler and a tree
// consistent.
type TimeDecayedSampler struct {
	logger log.Logger
	id     uuid.UUID

	capacity              int
	initialAcceptFraction float64
	storeSequenceEnabled  bool

	lambda               float64
	accumulatedTimeDecay float64
	lastDecayUpdate      int64

	rng *rand.Rand

	entries []Sample // unsorted; max-weight entry is found by scan

	evicted       pointstore.Handle
	evictedSeq    int64
	evictedWeight float64
	hasEvicted    bool
	streamOffered int64
}

// uniformOpenLow draws from (0, 1]: Float64 alone returns [0, 1),
// which admits u == 0, where -ln(u) is infinite. At u == 1, ln(-ln(u))
// is -Inf, which gives the lowest possible weight.
func (s *TimeDecayedSampler) uniformOpenLow() float64 {
	return 1 - s.rng.Float64()
}

// New builds a sampler over cfg. logger and name label its metrics and
// log lines; name should be unique per forest component.
func New(cfg Config, logger log.Logger, name string) *TimeDecayedSampler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.InitialAcceptFraction <= 0 {
		cfg.InitialAcceptFraction = 1
	}
	id := uuid.New()
	s := &TimeDecayedSampler{
		logger:                log.With(logger, "component", "sampler", "sampler", name, "id", id.String()),
		id:                    id,
		capacity:              cfg.Capacity,
		initialAcceptFraction: cfg.InitialAcceptFraction,
		storeSequenceEnabled:  cfg.StoreSequenceIndexesEnabled,
		lambda:                cfg.TimeDecay,
		rng:                   prng.New(cfg.RandomSeed, cfg.ComponentIndex),
		entries:               make([]Sample, 0, cfg.Capacity),
	}
	metricCapacity.WithLabelValues(name).Set(float64(cfg.Capacity))
	return s
}

// ID returns the sampler's stable identity, used to label this
// package's per-sampler size, accepted, rejected and evicted metrics.
func (s *TimeDecayedSampler) ID() uuid.UUID { return s.id }

// Size returns the number of samples currently held.
func (s *TimeDecayedSampler) Size() int { return len(s.entries) }

// Capacity returns the reservoir's configured maximum size.
func (s *TimeDecayedSampler) Capacity() int { return s.capacity }

// Samples returns a defensive copy of the current reservoir contents.
func (s *TimeDecayedSampler) Samples() []Sample {
	out := make([]Sample, len(s.entries))
	copy(out, s.entries)
	return out
}

// weight computes -(s - lastDecayUpdate)*lambda - accumulatedTimeDecay
// + ln(-ln u): a lower weight is higher priority, so the entry with
// the maximum weight is the first candidate for eviction.
func (s *TimeDecayedSampler) weight(sequenceIndex int64, u float64) float64 {
	return -float64(sequenceIndex-s.lastDecayUpdate)*s.lambda - s.accumulatedTimeDecay + math.Log(-math.Log(u))
}

func (s *TimeDecayedSampler) maxHeldWeight() (float64, int) {
	maxIdx := -1
	maxW := math.Inf(-1)
	for i, e := range s.entries {
		if e.Weight > maxW {
			maxW = e.Weight
			maxIdx = i
		}
	}
	return maxW, maxIdx
}

// Offer decides whether sequenceIndex should be admitted, without
// mutating the reservoir. A caller that receives an accepted token
// must call Commit with the same token before making any other
// sampler call, or discard it entirely (treating it as a rejection).
func (s *TimeDecayedSampler) Offer(sequenceIndex int64) Token {
	s.streamOffered++

	if len(s.entries) < s.capacity {
		threshold := s.initialAcceptFraction * float64(s.capacity) / float64(sequenceIndex+1)
		if threshold > 1 {
			threshold = 1
		}
		if s.rng.Float64() < threshold {
			metricAcceptedTotal.WithLabelValues(s.id.String()).Inc()
			return Token{Accepted: true, Weight: s.weight(sequenceIndex, s.uniformOpenLow())}
		}
		metricRejectedTotal.WithLabelValues(s.id.String()).Inc()
		return Token{}
	}

	u := s.uniformOpenLow()
	w := s.weight(sequenceIndex, u)
	maxW, _ := s.maxHeldWeight()
	if w < maxW {
		metricAcceptedTotal.WithLabelValues(s.id.String()).Inc()
		return Token{Accepted: true, Weight: w}
	}
	metricRejectedTotal.WithLabelValues(s.id.String()).Inc()
	return Token{}
}

// Commit finalizes an accepted token, admitting handle (with
// sequenceIndex recorded when enabled). If the reservoir was already
// full, the previous max-weight entry is evicted; its handle becomes
// available via GetEvictedHandle until the next Commit.
func (s *TimeDecayedSampler) Commit(token Token, handle pointstore.Handle, sequenceIndex int64) {
	if !token.Accepted {
		rcferrors.Fatalf("sampler: commit() called with a rejected token")
	}

	s.hasEvicted = false

	if len(s.entries) >= s.capacity {
		_, idx := s.maxHeldWeight()
		if idx < 0 {
			rcferrors.Fatalf("sampler: full reservoir has no max-weight entry to evict")
		}
		evicted := s.entries[idx]
		s.evicted = evicted.Handle
		s.evictedSeq = evicted.SequenceIndex
		s.evictedWeight = evicted.Weight
		s.hasEvicted = true

		s.entries[idx] = s.newEntry(handle, token.Weight, sequenceIndex)
		metricEvictedTotal.WithLabelValues(s.id.String()).Inc()
		level.Debug(s.logger).Log("msg", "sample evicted", "evictedHandle", evicted.Handle, "newHandle", handle)
		return
	}

	s.entries = append(s.entries, s.newEntry(handle, token.Weight, sequenceIndex))
	metricSize.WithLabelValues(s.id.String()).Set(float64(len(s.entries)))
}

func (s *TimeDecayedSampler) newEntry(handle pointstore.Handle, weight float64, sequenceIndex int64) Sample {
	e := Sample{Handle: handle, Weight: weight}
	if s.storeSequenceEnabled {
		e.SequenceIndex = sequenceIndex
	}
	return e
}

// GetEvictedHandle returns the handle, sequence index and weight
// evicted by the most recent Commit, and clears the flag so a second
// call returns false until another eviction occurs. The weight is
// needed only for a SamplerPlusTree rollback that must ReAdmit the
// evicted entry exactly as it was held.
func (s *TimeDecayedSampler) GetEvictedHandle() (handle pointstore.Handle, sequenceIndex int64, weight float64, ok bool) {
	if !s.hasEvicted {
		return 0, 0, 0, false
	}
	s.hasEvicted = false
	return s.evicted, s.evictedSeq, s.evictedWeight, true
}

// SetTimeDecay changes lambda while preserving relative priority order
// among already-admitted samples: the old lambda's contribution up to
// now is folded into accumulatedTimeDecay rather than discarded.
func (s *TimeDecayedSampler) SetTimeDecay(newLambda float64, atSequenceIndex int64) error {
	if newLambda < 0 {
		return rcferrors.New(rcferrors.InvalidArgument, "sampler: timeDecay must be >= 0")
	}
	if atSequenceIndex < s.lastDecayUpdate {
		return rcferrors.New(rcferrors.InvalidArgument, "sampler: setTimeDecay called with non-monotonic sequence index")
	}
	s.accumulatedTimeDecay += float64(atSequenceIndex-s.lastDecayUpdate) * s.lambda
	s.lastDecayUpdate = atSequenceIndex
	s.lambda = newLambda
	return nil
}

// RemoveHandle deletes a specific handle from the reservoir without
// going through eviction bookkeeping. Used by SamplerPlusTree to roll
// back a Commit whose downstream tree operation failed.
func (s *TimeDecayedSampler) RemoveHandle(handle pointstore.Handle) bool {
	for i, e := range s.entries {
		if e.Handle == handle {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			metricSize.WithLabelValues(s.id.String()).Set(float64(len(s.entries)))
			return true
		}
	}
	return false
}

// ReAdmit reinserts handle with the given weight, used by
// SamplerPlusTree's rollback path to restore a previously evicted
// entry. It never triggers eviction bookkeeping; the caller is
// responsible for capacity already having room.
func (s *TimeDecayedSampler) ReAdmit(handle pointstore.Handle, weight float64, sequenceIndex int64) error {
	if len(s.entries) >= s.capacity {
		return rcferrors.New(rcferrors.InvariantViolation, "sampler: readmit called on a full reservoir")
	}
	s.entries = append(s.entries, s.newEntry(handle, weight, sequenceIndex))
	metricSize.WithLabelValues(s.id.String()).Set(float64(len(s.entries)))
	return nil
}

// sortedWeightsForTest exposes entries sorted by weight ascending,
// used only by tests asserting monotonicity properties.
func (s *TimeDecayedSampler) sortedWeightsForTest() []float64 {
	out := make([]float64, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Weight
	}
	sort.Float64s(out)
	return out
}
