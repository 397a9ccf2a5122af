package imagerate

import "strconv"

// Grade returns the human label for a score on the 1-10 scale.
func Grade(score float64) string {
	switch {
	case score >= 7:
		return "Excellent"
	case score >= 6:
		return "Great"
	case score >= 5:
		return "Good"
	case score >= 4:
		return "Average"
	default:
		return "Needs Work"
	}
}

// Band buckets a score for history badges.
type Band int

const (
	BandLow  Band = iota // below 5
	BandMid              // 5 to below 7
	BandHigh             // 7 and above
)

func (b Band) String() string {
	switch b {
	case BandHigh:
		return "high"
	case BandMid:
		return "mid"
	default:
		return "low"
	}
}

// ScoreBand returns the badge band of score.
func ScoreBand(score float64) Band {
	switch {
	case score >= 7:
		return BandHigh
	case score >= 5:
		return BandMid
	default:
		return BandLow
	}
}

// FormatScore renders a score with one decimal, as shown to users.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 1, 64)
}
