// Package scoring converts accepted grade records into scored records with
// population statistics.
//
// Scoring is one atomic, deterministic transformation over the entire
// accepted set of an ingestion: percentiles are recomputed from scratch every
// time, never updated incrementally, so individual queries and aggregate
// reports always agree.
package scoring

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hyperjump/saiten/internal/models"
)

// ErrEmptyPopulation is returned when there are no accepted grades to score.
// Statistics over an empty set are undefined and must never silently become
// zero or NaN.
var ErrEmptyPopulation = errors.New("empty population: no accepted grades to score")

// Score computes the rank-based percentile for every record and the
// population statistics over the accepted grade values.
//
// The percentile of a grade is the fraction of the population at or below
// that grade, times 100, rounded to two decimals. Records sharing a grade
// share a percentile, and percentiles are monotonically non-decreasing in
// grade.
func Score(records []models.GradeRecord) ([]models.ScoredRecord, *models.PopulationStats, error) {
	if len(records) == 0 {
		return nil, nil, ErrEmptyPopulation
	}

	grades := make([]float64, len(records))
	for i, rec := range records {
		grades[i] = rec.Grade
	}
	sorted := append([]float64(nil), grades...)
	sort.Float64s(sorted)

	n := len(sorted)
	scored := make([]models.ScoredRecord, n)
	for i, rec := range records {
		atOrBelow := sort.Search(n, func(j int) bool { return sorted[j] > rec.Grade })
		scored[i] = models.ScoredRecord{
			GradeRecord: rec,
			Percentile:  round2(100 * float64(atOrBelow) / float64(n)),
		}
	}

	return scored, Stats(grades), nil
}

// Stats computes the descriptive statistics for a non-empty grade slice:
// sample mean, sample standard deviation, min, max, and count. A single-value
// population has a standard deviation of zero.
func Stats(grades []float64) *models.PopulationStats {
	stats := &models.PopulationStats{
		Mean:  stat.Mean(grades, nil),
		Min:   floats.Min(grades),
		Max:   floats.Max(grades),
		Count: len(grades),
	}
	if len(grades) > 1 {
		stats.StdDev = stat.StdDev(grades, nil)
	}
	return stats
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
