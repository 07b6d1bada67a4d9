package backtest

// CalibrationBin groups runner-level win predictions by predicted
// probability and compares the bin's mean prediction with the observed win
// rate.
type CalibrationBin struct {
	Lo            float64 `json:"lo"`
	Hi            float64 `json:"hi"`
	Runners       int     `json:"runners"`
	MeanPredicted float64 `json:"mean_predicted"`
	ObservedRate  float64 `json:"observed_rate"`
}

// binIndex maps a probability onto its bin. p == 1 lands in the top bin.
func binIndex(p float64, bins int) int {
	idx := int(p * float64(bins))
	if idx >= bins {
		idx = bins - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func buildBins(bins int, count []int, sumPred []float64, wins []int) []CalibrationBin {
	out := make([]CalibrationBin, bins)
	for i := 0; i < bins; i++ {
		b := CalibrationBin{
			Lo:      float64(i) / float64(bins),
			Hi:      float64(i+1) / float64(bins),
			Runners: count[i],
		}
		if count[i] > 0 {
			b.MeanPredicted = sumPred[i] / float64(count[i])
			b.ObservedRate = float64(wins[i]) / float64(count[i])
		}
		out[i] = b
	}
	return out
}
