// Package analytics computes windowed risk/return statistics over a single
// scheme's NAV series: rolling-return distributions, rolling CAGR
// distributions, and maximum drawdown. Series are daily but irregular —
// weekends and holidays leave gaps — so date lookups probe a few days forward
// rather than assuming a contiguous calendar.
//
// Given identical inputs the output is bit-identical: everything is plain
// float64 arithmetic over deterministically sorted samples.
package analytics

import (
	"math"
	"sort"
	"time"
)

// maxGapDays is how far past a missing date the lookup probes. It absorbs
// weekends and public holidays but refuses to synthesize data for longer
// absences.
const maxGapDays = 5

// sufficiencyRatio is the fraction of a window the history must strictly
// exceed for that window to be computed.
const sufficiencyRatio = 0.9

// Point is one NAV observation.
type Point struct {
	Date time.Time
	NAV  float64
}

// Distribution summarizes a rolling-return sample.
type Distribution struct {
	Min    float64
	Max    float64
	Median float64
	P25    float64
	P75    float64
}

// CAGRDistribution summarizes a rolling CAGR sample.
type CAGRDistribution struct {
	Min    float64
	Max    float64
	Median float64
}

// WindowResult is the full analytics row for one (scheme, window).
type WindowResult struct {
	Window         WindowType
	RollingReturns Distribution
	CAGR           CAGRDistribution
	MaxDrawdown    float64
	DataStart      time.Time
	DataEnd        time.Time
	SampleSize     int
}

// Compute evaluates every window over an ascending-by-date series. Windows
// with insufficient history, or with no look-back pair at all, are simply
// absent from the result.
func Compute(series []Point) []WindowResult {
	if len(series) < 2 {
		return nil
	}

	byDay := indexByDay(series)
	drawdown := MaxDrawdown(series)

	var results []WindowResult
	for _, w := range Windows {
		if r, ok := computeWindow(series, byDay, w); ok {
			r.MaxDrawdown = drawdown
			results = append(results, r)
		}
	}
	return results
}

func computeWindow(series []Point, byDay map[int]float64, w WindowType) (WindowResult, bool) {
	first, last := series[0], series[len(series)-1]
	historyDays := dayNumber(last.Date) - dayNumber(first.Date)

	// Sufficiency is strict: a history of exactly 0.9×W days is not enough.
	if float64(historyDays) <= sufficiencyRatio*float64(w.Days()) {
		return WindowResult{}, false
	}

	returns := make([]float64, 0, len(series))
	cagrs := make([]float64, 0, len(series))
	invYears := 1 / float64(w.Years())

	for _, p := range series {
		past, ok := probe(byDay, dayNumber(p.Date)-w.Days())
		if !ok {
			continue
		}
		returns = append(returns, (p.NAV-past)/past)
		cagrs = append(cagrs, math.Pow(p.NAV/past, invYears)-1)
	}
	if len(returns) == 0 {
		return WindowResult{}, false
	}

	sort.Float64s(returns)
	sort.Float64s(cagrs)

	return WindowResult{
		Window: w,
		RollingReturns: Distribution{
			Min:    returns[0],
			Max:    returns[len(returns)-1],
			Median: percentile(returns, 50),
			P25:    percentile(returns, 25),
			P75:    percentile(returns, 75),
		},
		CAGR: CAGRDistribution{
			Min:    cagrs[0],
			Max:    cagrs[len(cagrs)-1],
			Median: percentile(cagrs, 50),
		},
		DataStart:  first.Date,
		DataEnd:    last.Date,
		SampleSize: len(returns),
	}, true
}

// MaxDrawdown is the most negative peak-to-trough decline over the entire
// series: a single left-to-right sweep tracking the running peak. It is 0 for
// monotonically non-decreasing histories and always ≤ 0.
func MaxDrawdown(series []Point) float64 {
	if len(series) == 0 {
		return 0
	}

	peak := series[0].NAV
	maxDD := 0.0
	for _, p := range series {
		if p.NAV > peak {
			peak = p.NAV
		}
		if dd := (p.NAV - peak) / peak; dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// CAGR is the constant annual rate taking start to end over the given number
// of years.
func CAGR(start, end float64, years int) float64 {
	return math.Pow(end/start, 1/float64(years)) - 1
}

// percentile interpolates linearly on an ascending sample:
// index = p/100 × (n−1), blending the two neighbors by the fractional part.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}

	index := p / 100 * float64(n-1)
	lo := int(math.Floor(index))
	hi := int(math.Ceil(index))
	if lo == hi {
		return sorted[lo]
	}
	frac := index - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// probe returns the NAV on the given day, or the first present value within
// the gap-tolerance horizon after it.
func probe(byDay map[int]float64, day int) (float64, bool) {
	for off := 0; off <= maxGapDays; off++ {
		if nav, ok := byDay[day+off]; ok {
			return nav, true
		}
	}
	return 0, false
}

func indexByDay(series []Point) map[int]float64 {
	byDay := make(map[int]float64, len(series))
	for _, p := range series {
		byDay[dayNumber(p.Date)] = p.NAV
	}
	return byDay
}

// dayNumber converts a date to whole days since the Unix epoch, so calendar
// arithmetic is integer arithmetic.
func dayNumber(t time.Time) int {
	return int(t.Unix() / 86400)
}
