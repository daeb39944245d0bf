package zonal

import (
	"sort"

	"github.com/silvaplan/silvaplan/internal/domain/metric"
)

// accumulator folds pixel values into zonal statistics for one stand.
type accumulator struct {
	n      int
	min    float64
	max    float64
	sum    float64
	counts map[float64]int
}

func newAccumulator() *accumulator {
	return &accumulator{counts: make(map[float64]int)}
}

func (a *accumulator) add(v float64) {
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.counts[v]++
	a.n++
}

// fill writes the requested aggregations plus count onto m. A stand with
// zero unmasked pixels keeps every statistic null and count at 0.
func (a *accumulator) fill(m *metric.StandMetric, aggs []metric.Aggregation) {
	count := float64(a.n)
	m.Count = &count
	if a.n == 0 {
		return
	}
	for _, agg := range aggs {
		switch agg {
		case metric.AggMin:
			v := a.min
			m.Min = &v
		case metric.AggAvg:
			v := a.sum / count
			m.Avg = &v
		case metric.AggMax:
			v := a.max
			m.Max = &v
		case metric.AggSum:
			v := a.sum
			m.Sum = &v
		case metric.AggCount:
			// already set
		case metric.AggMajority:
			v := a.majority()
			m.Majority = &v
		case metric.AggMinority:
			v := a.minority()
			m.Minority = &v
		}
	}
}

// majority returns the most frequent value; ties break to the smallest value
// so results are deterministic.
func (a *accumulator) majority() float64 {
	return a.pick(func(cand, best int) bool { return cand > best })
}

// minority returns the least frequent value with the same tie-break.
func (a *accumulator) minority() float64 {
	return a.pick(func(cand, best int) bool { return cand < best })
}

func (a *accumulator) pick(better func(cand, best int) bool) float64 {
	values := make([]float64, 0, len(a.counts))
	for v := range a.counts {
		values = append(values, v)
	}
	sort.Float64s(values)
	best := values[0]
	for _, v := range values[1:] {
		if better(a.counts[v], a.counts[best]) {
			best = v
		}
	}
	return best
}
