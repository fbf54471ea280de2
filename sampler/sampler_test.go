package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcf-go/rcfcore/pointstore"
)

func TestOfferAcceptsUntilFull(t *testing.T) {
	s := New(Config{Capacity: 4, InitialAcceptFraction: 1, RandomSeed: 1}, nil, "test")

	for i := int64(0); i < 4; i++ {
		token := s.Offer(i)
		assert.True(t, token.Accepted)
		s.Commit(token, pointstore.Handle(i), i)
	}

	assert.Equal(t, 4, s.Size())
}

func TestCommitOnFullReservoirMayEvict(t *testing.T) {
	s := New(Config{Capacity: 2, InitialAcceptFraction: 1, RandomSeed: 7}, nil, "test")

	for i := int64(0); i < 2; i++ {
		token := s.Offer(i)
		assert.True(t, token.Accepted)
		s.Commit(token, pointstore.Handle(i), i)
	}
	assert.Equal(t, 2, s.Size())

	evictedAtLeastOnce := false
	for i := int64(2); i < 50; i++ {
		token := s.Offer(i)
		if !token.Accepted {
			continue
		}
		s.Commit(token, pointstore.Handle(i), i)
		if _, _, _, ok := s.GetEvictedHandle(); ok {
			evictedAtLeastOnce = true
		}
		assert.LessOrEqual(t, s.Size(), 2)
	}
	assert.True(t, evictedAtLeastOnce)
}

func TestCommitRejectedTokenIsFatal(t *testing.T) {
	s := New(Config{Capacity: 2, InitialAcceptFraction: 1, RandomSeed: 1}, nil, "test")
	assert.Panics(t, func() {
		s.Commit(Token{}, pointstore.Handle(0), 0)
	})
}

func TestSetTimeDecayFoldsOldLambda(t *testing.T) {
	s := New(Config{Capacity: 4, InitialAcceptFraction: 1, RandomSeed: 1, TimeDecay: 0.1}, nil, "test")

	err := s.SetTimeDecay(0.5, 10)
	assert.NoError(t, err)
	assert.Equal(t, float64(1), s.accumulatedTimeDecay)
	assert.Equal(t, int64(10), s.lastDecayUpdate)
	assert.Equal(t, 0.5, s.lambda)
}

func TestSetTimeDecayRejectsNonMonotonicSequence(t *testing.T) {
	s := New(Config{Capacity: 4, InitialAcceptFraction: 1, RandomSeed: 1}, nil, "test")
	require := assert.New(t)

	require.NoError(s.SetTimeDecay(0.2, 10))
	err := s.SetTimeDecay(0.3, 5)
	require.Error(err)
}

func TestDeterministicGivenSameSeed(t *testing.T) {
	run := func(seed int64) []bool {
		s := New(Config{Capacity: 3, InitialAcceptFraction: 1, RandomSeed: seed}, nil, "test")
		var accepts []bool
		for i := int64(0); i < 30; i++ {
			token := s.Offer(i)
			accepts = append(accepts, token.Accepted)
			if token.Accepted {
				s.Commit(token, pointstore.Handle(i), i)
			}
		}
		return accepts
	}

	a := run(42)
	b := run(42)
	assert.Equal(t, a, b)
}

func TestRemoveHandleAndReAdmitRoundTrip(t *testing.T) {
	s := New(Config{Capacity: 4, InitialAcceptFraction: 1, RandomSeed: 1}, nil, "test")
	token := s.Offer(0)
	s.Commit(token, pointstore.Handle(5), 0)
	assert.Equal(t, 1, s.Size())

	removed := s.RemoveHandle(pointstore.Handle(5))
	assert.True(t, removed)
	assert.Equal(t, 0, s.Size())

	err := s.ReAdmit(pointstore.Handle(5), -1.0, 0)
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Size())
}
