package features

import "math"

// trueRanges computes the true range series. Index 0 uses high-low only.
func trueRanges(highs, lows, closes []float64) []float64 {
	tr := make([]float64, len(closes))
	for i := range closes {
		hl := highs[i] - lows[i]
		if i == 0 {
			tr[i] = hl
			continue
		}
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// atrLast averages the true range over the trailing period.
func atrLast(highs, lows, closes []float64, period int) float64 {
	tr := trueRanges(highs, lows, closes)
	if len(tr) < period {
		return 0
	}
	sum := 0.0
	for i := len(tr) - period; i < len(tr); i++ {
		sum += tr[i]
	}
	return sum / float64(period)
}

// bollingerLast returns the upper, middle and lower band for the trailing
// period at numStdDev deviations.
func bollingerLast(closes []float64, period int, numStdDev float64) (upper, middle, lower float64) {
	if len(closes) < period {
		return 0, 0, 0
	}
	window := closes[len(closes)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	middle = sum / float64(period)

	variance := 0.0
	for _, v := range window {
		d := v - middle
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))
	upper = middle + numStdDev*std
	lower = middle - numStdDev*std
	return upper, middle, lower
}

// returnsVolatility is the sample standard deviation of close-to-close
// returns over the trailing window.
func returnsVolatility(closes []float64, window int) float64 {
	if len(closes) < window+1 {
		return 0
	}
	rets := make([]float64, 0, window)
	for i := len(closes) - window; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	if len(rets) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(rets)-1))
}

// volumeRatio compares the most recent volume against its trailing mean.
func volumeRatio(volumes []float64, window int) float64 {
	if len(volumes) < window {
		return 1
	}
	sum := 0.0
	for i := len(volumes) - window; i < len(volumes); i++ {
		sum += volumes[i]
	}
	mean := sum / float64(window)
	if mean == 0 {
		return 1
	}
	return volumes[len(volumes)-1] / mean
}
