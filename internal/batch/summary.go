package batch

import (
	"errors"
	"fmt"

	"github.com/montanaflynn/stats"
)

// ErrUnknownMetric is returned when a summary names an indicator the
// snapshots do not carry.
var ErrUnknownMetric = errors.New("unknown metric")

// Summary describes the spread of one indicator's final value across runs.
// StdDev is the population standard deviation.
type Summary struct {
	Metric string  `json:"metric"`
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
	P5     float64 `json:"p5"`
	P95    float64 `json:"p95"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes Summary for metric over the final snapshot of each
// result.
func Summarize(results []Result, metric string) (Summary, error) {
	if len(results) == 0 {
		return Summary{}, fmt.Errorf("summarize %s: no results", metric)
	}

	data := make(stats.Float64Data, 0, len(results))
	for _, r := range results {
		v, ok := r.Final.Values()[metric]
		if !ok {
			return Summary{}, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
		}
		data = append(data, v)
	}

	s := Summary{Metric: metric, N: len(data)}
	var err error
	if s.Mean, err = data.Mean(); err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", metric, err)
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", metric, err)
	}
	if s.Median, err = data.Median(); err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", metric, err)
	}
	if s.P5, err = stats.PercentileNearestRank(data, 5); err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", metric, err)
	}
	if s.P95, err = stats.PercentileNearestRank(data, 95); err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", metric, err)
	}
	if s.Min, err = data.Min(); err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", metric, err)
	}
	if s.Max, err = data.Max(); err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", metric, err)
	}
	return s, nil
}

// SummarizeAll summarizes each named metric in order.
func SummarizeAll(results []Result, names []string) ([]Summary, error) {
	out := make([]Summary, 0, len(names))
	for _, name := range names {
		s, err := Summarize(results, name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
