package features

import "math"

// adxSeries computes the Average Directional Index together with the +DI and
// -DI series. Smoothing uses the same alpha as emaSeries.
func adxSeries(highs, lows, closes []float64, period int) (adx, diPlus, diMinus []float64) {
	n := len(closes)
	tr := trueRanges(highs, lows, closes)
	dmPlus := make([]float64, n)
	dmMinus := make([]float64, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			dmPlus[i] = up
		}
		if down > up && down > 0 {
			dmMinus[i] = down
		}
	}

	trSmooth := emaSeries(tr, period)
	dmPlusSmooth := emaSeries(dmPlus, period)
	dmMinusSmooth := emaSeries(dmMinus, period)

	diPlus = make([]float64, n)
	diMinus = make([]float64, n)
	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if trSmooth[i] != 0 {
			diPlus[i] = 100 * dmPlusSmooth[i] / trSmooth[i]
			diMinus[i] = 100 * dmMinusSmooth[i] / trSmooth[i]
		}
		if sum := diPlus[i] + diMinus[i]; sum != 0 {
			dx[i] = 100 * math.Abs(diPlus[i]-diMinus[i]) / sum
		}
	}
	adx = emaSeries(dx, period)
	return adx, diPlus, diMinus
}

// obvSeries accumulates volume signed by the close-to-close direction.
func obvSeries(closes, volumes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}
