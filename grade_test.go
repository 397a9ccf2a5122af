package imagerate

import (
	"strings"
	"testing"
)

func TestGrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score float64
		grade string
		band  Band
	}{
		{9.2, "Excellent", BandHigh},
		{7.0, "Excellent", BandHigh},
		{6.5, "Great", BandMid},
		{5.0, "Good", BandMid},
		{4.9, "Average", BandLow},
		{1.0, "Needs Work", BandLow},
	}
	for _, tc := range tests {
		if got := Grade(tc.score); got != tc.grade {
			t.Errorf("Grade(%v) = %q, want %q", tc.score, got, tc.grade)
		}
		if got := ScoreBand(tc.score); got != tc.band {
			t.Errorf("ScoreBand(%v) = %v, want %v", tc.score, got, tc.band)
		}
	}

	if got := FormatScore(7.25); !strings.HasPrefix(got, "7.") || len(got) != 3 {
		t.Errorf("FormatScore(7.25) = %q, want one decimal", got)
	}
	if BandHigh.String() != "high" || BandMid.String() != "mid" || BandLow.String() != "low" {
		t.Error("unexpected band names")
	}
}
