package volatility

// wilder is Wilder's smoothed average. The first value is the plain mean
// of period inputs; after that each input v folds in with weight 1/period.
type wilder struct {
	period int
	count  int
	sum    float64
	seed   float64
	value  float64
}

func newWilder(period int) *wilder {
	return &wilder{period: period}
}

func (w *wilder) Update(v float64) {
	w.count++
	if w.count <= w.period {
		w.sum += v
		if w.count == w.period {
			w.seed = w.sum / float64(w.period)
			w.value = w.seed
		}
		return
	}
	k := 1 / float64(w.period)
	w.value = v*k + w.value*(1-k)
}

func (w *wilder) Ready() bool    { return w.count >= w.period }
func (w *wilder) Seed() float64  { return w.seed }
func (w *wilder) Value() float64 { return w.value }
