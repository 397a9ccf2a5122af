package imagerate

import (
	"math"
	"testing"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	recs := []RatingRecord{
		{Score: 7.5},
		{Score: 4.0},
		{Score: 6.0},
		{Score: 5.5},
	}
	s := Summarize(recs)

	if s.Count != 4 {
		t.Errorf("Count = %d, want 4", s.Count)
	}
	if math.Abs(s.Mean-5.75) > 1e-9 {
		t.Errorf("Mean = %v, want 5.75", s.Mean)
	}
	if math.Abs(s.Median-5.75) > 1e-9 {
		t.Errorf("Median = %v, want 5.75", s.Median)
	}
	if s.Best != 7.5 || s.Worst != 4.0 {
		t.Errorf("Best/Worst = %v/%v, want 7.5/4", s.Best, s.Worst)
	}
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	if s := Summarize(nil); s != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v, want zero", s)
	}
}
