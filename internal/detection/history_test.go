package detection

import (
	"testing"
	"time"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

func result(classes ...string) vision.Result {
	var r vision.Result
	for _, c := range classes {
		r.Objects = append(r.Objects, vision.Detection{Class: c, Confidence: 0.9})
	}
	return r
}

func TestHistoryStats(t *testing.T) {
	h := NewHistory(16)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h.Record(t0, result("rock", "hammer")) // outside the window
	h.Record(t0.Add(10*time.Second), result("hammer"))
	h.Record(t0.Add(20*time.Second), result("rock", "balloon", "rock"))
	h.Record(t0.Add(30*time.Second), result())

	st := h.Stats(t0.Add(35*time.Second), 30*time.Second)
	if st.TotalFrames != 3 {
		t.Fatalf("expected 3 frames in window, got %d", st.TotalFrames)
	}
	if st.AvgDetections != 1.33 {
		t.Errorf("expected avg 1.33, got %v", st.AvgDetections)
	}
	if st.MostCommonObject == nil || st.MostCommonObject.Class != "rock" || st.MostCommonObject.Count != 2 {
		t.Errorf("unexpected most common %+v", st.MostCommonObject)
	}
	if st.UniqueObjects != 3 {
		t.Errorf("expected 3 unique objects, got %d", st.UniqueObjects)
	}
}

func TestHistoryStatsEmpty(t *testing.T) {
	st := NewHistory(4).Stats(time.Now(), 30*time.Second)
	if st.TotalFrames != 0 || st.MostCommonObject != nil || st.AvgDetections != 0 {
		t.Errorf("unexpected stats for empty history %+v", st)
	}
}

func TestHistoryTieGoesToFirstSeen(t *testing.T) {
	h := NewHistory(4)
	now := time.Now()
	h.Record(now, result("cup", "bottle"))
	st := h.Stats(now, time.Minute)
	if st.MostCommonObject.Class != "cup" {
		t.Errorf("expected first-seen class on tie, got %q", st.MostCommonObject.Class)
	}
}
