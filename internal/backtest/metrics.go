package backtest

import (
	"fmt"
	"math"

	"github.com/yourusername/raceform/internal/models"
)

// winnerProbFloor clamps a winner probability before taking its log. A model
// assigning exactly zero to the actual winner would otherwise produce an
// infinite log loss; clamps are counted and reported as a numerical note.
const winnerProbFloor = 1e-15

// FoldMetrics summarize one evaluated fold
type FoldMetrics struct {
	Index       int               `json:"index"`
	TrainRaces  int               `json:"train_races"`
	TestRaces   int               `json:"test_races"`
	TestRunners int               `json:"test_runners"`
	TrainNLL    float64           `json:"train_nll"`
	LogLoss     float64           `json:"log_loss"`
	Brier       float64           `json:"brier_score"`
	FloorHits   int               `json:"floor_hits,omitempty"`
	Market      *MarketComparison `json:"market,omitempty"`
	Calibration []CalibrationBin  `json:"calibration"`
	DurationMS  int64             `json:"duration_ms"`
}

// AggregateMetrics pool every scored test race across folds
type AggregateMetrics struct {
	Races       int               `json:"races"`
	Runners     int               `json:"runners"`
	LogLoss     float64           `json:"log_loss"`
	Brier       float64           `json:"brier_score"`
	FloorHits   int               `json:"floor_hits,omitempty"`
	Market      *MarketComparison `json:"market,omitempty"`
	Calibration []CalibrationBin  `json:"calibration"`
}

// MarketComparison scores the model against starting-price implied
// probabilities on the subset of races where every runner carries one. Both
// sides are measured on that same subset.
type MarketComparison struct {
	Races         int     `json:"races"`
	ModelLogLoss  float64 `json:"model_log_loss"`
	MarketLogLoss float64 `json:"market_log_loss"`
	ModelBrier    float64 `json:"model_brier"`
	MarketBrier   float64 `json:"market_brier"`
}

// raceScore is one scored test race: the model's distribution over its
// runners plus the realized winner's index in runner order.
type raceScore struct {
	race      *models.Race
	probs     []float64
	winnerIdx int
	floorHit  bool
}

func newRaceScore(race *models.Race, probs []float64) (raceScore, error) {
	winner := race.Winner()
	if winner == nil {
		return raceScore{}, fmt.Errorf("race %d: %w", race.ID, models.ErrNotSettled)
	}
	if len(probs) != len(race.Runners) {
		return raceScore{}, fmt.Errorf("race %d: %d probabilities for %d runners: %w",
			race.ID, len(probs), len(race.Runners), models.ErrInvalidInput)
	}
	winnerIdx := -1
	for i, runner := range race.Runners {
		if runner == winner {
			winnerIdx = i
			break
		}
	}
	if winnerIdx < 0 {
		return raceScore{}, fmt.Errorf("race %d: winner not among runners: %w", race.ID, models.ErrInvalidInput)
	}
	return raceScore{race: race, probs: probs, winnerIdx: winnerIdx}, nil
}

// logLossOf returns -ln of the winner's probability, flooring it first.
func logLossOf(probs []float64, winnerIdx int) (float64, bool) {
	p := probs[winnerIdx]
	floored := false
	if p < winnerProbFloor {
		p = winnerProbFloor
		floored = true
	}
	return -math.Log(p), floored
}

// brierOf returns the multiclass Brier score for one race: squared error
// against the winner indicator, summed over entrants.
func brierOf(probs []float64, winnerIdx int) float64 {
	sum := 0.0
	for i, p := range probs {
		y := 0.0
		if i == winnerIdx {
			y = 1.0
		}
		d := p - y
		sum += d * d
	}
	return sum
}

// marketProbs returns the race's normalized starting-price probabilities, or
// false when any runner lacks one. Normalizing within the race removes the
// bookmaker overround.
func marketProbs(race *models.Race) ([]float64, bool) {
	total := 0.0
	raw := make([]float64, len(race.Runners))
	for i, runner := range race.Runners {
		if runner.MarketProb == nil || *runner.MarketProb <= 0 {
			return nil, false
		}
		raw[i] = *runner.MarketProb
		total += raw[i]
	}
	if total <= 0 {
		return nil, false
	}
	for i := range raw {
		raw[i] /= total
	}
	return raw, true
}

// accumulator pools race and runner level scores. Fold accumulators merge
// into a run accumulator so aggregate metrics weight every race equally
// rather than every fold.
type accumulator struct {
	bins      int
	races     int
	runners   int
	sumLL     float64
	sumBrier  float64
	floorHits int

	binCount []int
	binPred  []float64
	binWins  []int

	mktRaces    int
	mdlSumLL    float64
	mktSumLL    float64
	mdlSumBrier float64
	mktSumBrier float64
}

func newAccumulator(bins int) *accumulator {
	return &accumulator{
		bins:     bins,
		binCount: make([]int, bins),
		binPred:  make([]float64, bins),
		binWins:  make([]int, bins),
	}
}

func (a *accumulator) addRace(sc raceScore) {
	ll, floored := logLossOf(sc.probs, sc.winnerIdx)
	if floored {
		a.floorHits++
	}
	a.races++
	a.runners += len(sc.probs)
	a.sumLL += ll
	a.sumBrier += brierOf(sc.probs, sc.winnerIdx)

	for i, p := range sc.probs {
		idx := binIndex(p, a.bins)
		a.binCount[idx]++
		a.binPred[idx] += p
		if i == sc.winnerIdx {
			a.binWins[idx]++
		}
	}
}

func (a *accumulator) addMarket(sc raceScore, market []float64) {
	mdlLL, _ := logLossOf(sc.probs, sc.winnerIdx)
	mktLL, _ := logLossOf(market, sc.winnerIdx)
	a.mktRaces++
	a.mdlSumLL += mdlLL
	a.mktSumLL += mktLL
	a.mdlSumBrier += brierOf(sc.probs, sc.winnerIdx)
	a.mktSumBrier += brierOf(market, sc.winnerIdx)
}

func (a *accumulator) merge(other *accumulator) {
	a.races += other.races
	a.runners += other.runners
	a.sumLL += other.sumLL
	a.sumBrier += other.sumBrier
	a.floorHits += other.floorHits
	for i := 0; i < a.bins && i < other.bins; i++ {
		a.binCount[i] += other.binCount[i]
		a.binPred[i] += other.binPred[i]
		a.binWins[i] += other.binWins[i]
	}
	a.mktRaces += other.mktRaces
	a.mdlSumLL += other.mdlSumLL
	a.mktSumLL += other.mktSumLL
	a.mdlSumBrier += other.mdlSumBrier
	a.mktSumBrier += other.mktSumBrier
}

func (a *accumulator) logLoss() float64 {
	if a.races == 0 {
		return 0
	}
	return a.sumLL / float64(a.races)
}

func (a *accumulator) brier() float64 {
	if a.races == 0 {
		return 0
	}
	return a.sumBrier / float64(a.races)
}

func (a *accumulator) calibration() []CalibrationBin {
	return buildBins(a.bins, a.binCount, a.binPred, a.binWins)
}

func (a *accumulator) market() *MarketComparison {
	if a.mktRaces == 0 {
		return nil
	}
	n := float64(a.mktRaces)
	return &MarketComparison{
		Races:         a.mktRaces,
		ModelLogLoss:  a.mdlSumLL / n,
		MarketLogLoss: a.mktSumLL / n,
		ModelBrier:    a.mdlSumBrier / n,
		MarketBrier:   a.mktSumBrier / n,
	}
}
