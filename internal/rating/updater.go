package rating

// Updater folds one observed performance into a prior rating. priorObs is
// the entity's settled observation count before this race.
type Updater interface {
	Update(old, perf float64, priorObs int) float64
}

// DecayUpdater blends the observed performance into the prior with a
// constant exponential-decay factor. Alpha is the weight on the new
// observation.
type DecayUpdater struct {
	Alpha float64
}

func (u DecayUpdater) Update(old, perf float64, _ int) float64 {
	return u.Alpha*perf + (1-u.Alpha)*old
}

// ShrinkageUpdater applies the decay blend and then shrinks the result
// toward the global mean. Confidence grows monotonically with observations:
// an entity seen once sits close to the mean, a frequently observed one
// keeps nearly all of its blended rating. PriorWeight is the pseudo-count
// controlling how fast confidence accumulates.
type ShrinkageUpdater struct {
	Alpha       float64
	GlobalMean  float64
	PriorWeight float64
}

func (u ShrinkageUpdater) Update(old, perf float64, priorObs int) float64 {
	blended := u.Alpha*perf + (1-u.Alpha)*old
	obs := float64(priorObs) + 1
	confidence := obs / (obs + u.PriorWeight)
	return confidence*blended + (1-confidence)*u.GlobalMean
}
