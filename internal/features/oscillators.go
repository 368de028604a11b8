package features

// rsiLast computes the Relative Strength Index over the trailing period using
// plain averages of gains and losses. All losses zero maps to 100.
func rsiLast(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	gain := 0.0
	loss := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// macdSeries returns the MACD line, its signal line and the histogram.
func macdSeries(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	emaFast := emaSeries(closes, fast)
	emaSlow := emaSeries(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig = emaSeries(line, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}
