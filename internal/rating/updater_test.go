package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecayUpdaterBlend(t *testing.T) {
	u := DecayUpdater{Alpha: 0.3}
	assert.InDelta(t, 0.65, u.Update(0.5, 1.0, 0), 1e-12)
	assert.InDelta(t, 0.35, u.Update(0.5, 0.0, 0), 1e-12)
	// Alpha 1 forgets the prior entirely.
	assert.InDelta(t, 0.2, DecayUpdater{Alpha: 1}.Update(0.9, 0.2, 5), 1e-12)
}

func TestShrinkageUpdaterFirstObservation(t *testing.T) {
	u := ShrinkageUpdater{Alpha: 0.3, GlobalMean: 0.5, PriorWeight: 2}
	// blended = 0.3*1 + 0.7*0.5 = 0.65; confidence = 1/3
	got := u.Update(0.5, 1.0, 0)
	assert.InDelta(t, 0.55, got, 1e-12)
}

func TestShrinkageConfidenceMonotone(t *testing.T) {
	u := ShrinkageUpdater{Alpha: 0.3, GlobalMean: 0.5, PriorWeight: 5}

	prev := u.Update(0.8, 1.0, 0)
	for obs := 1; obs < 50; obs++ {
		cur := u.Update(0.8, 1.0, obs)
		assert.Greater(t, cur, prev, "confidence must grow with observations (obs=%d)", obs)
		prev = cur
	}

	// With overwhelming evidence the shrinkage vanishes.
	blended := 0.3*1.0 + 0.7*0.8
	assert.InDelta(t, blended, u.Update(0.8, 1.0, 100000), 1e-3)
}

func TestShrinkagePullsSparseEntitiesToMean(t *testing.T) {
	u := ShrinkageUpdater{Alpha: 0.3, GlobalMean: 0.5, PriorWeight: 10}

	// A single dominant performance barely moves a fresh entity off the mean.
	got := u.Update(0.5, 1.0, 0)
	assert.Less(t, got, 0.52)
	assert.Greater(t, got, 0.5)
}

func TestUpdatersStayInUnitInterval(t *testing.T) {
	decay := DecayUpdater{Alpha: 0.7}
	shrink := ShrinkageUpdater{Alpha: 0.7, GlobalMean: 0.5, PriorWeight: 3}

	for _, old := range []float64{0, 0.25, 0.5, 0.75, 1} {
		for _, perf := range []float64{0, 0.5, 1} {
			for _, obs := range []int{0, 1, 10} {
				for _, got := range []float64{decay.Update(old, perf, obs), shrink.Update(old, perf, obs)} {
					assert.GreaterOrEqual(t, got, 0.0)
					assert.LessOrEqual(t, got, 1.0)
				}
			}
		}
	}
}
