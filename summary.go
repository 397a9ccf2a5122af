package imagerate

import (
	"github.com/montanaflynn/stats"
)

// Summary aggregates the scores of a history.
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	Best   float64
	Worst  float64
}

// Summarize computes score statistics over recs. An empty history yields the
// zero Summary.
func Summarize(recs []RatingRecord) Summary {
	if len(recs) == 0 {
		return Summary{}
	}

	scores := make(stats.Float64Data, len(recs))
	for i, r := range recs {
		scores[i] = r.Score
	}

	// stats only errors on empty input, ruled out above.
	mean, _ := stats.Mean(scores)
	median, _ := stats.Median(scores)
	best, _ := stats.Max(scores)
	worst, _ := stats.Min(scores)

	return Summary{
		Count:  len(recs),
		Mean:   mean,
		Median: median,
		Best:   best,
		Worst:  worst,
	}
}
