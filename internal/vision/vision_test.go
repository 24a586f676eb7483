package vision

import "testing"

func TestTopKSortsAndLimits(t *testing.T) {
	preds := []Prediction{
		{ClassName: "basalt", Probability: 0.2},
		{ClassName: "granite", Probability: 0.7},
		{ClassName: "shale", Probability: 0.05},
		{ClassName: "sandstone", Probability: 0.05},
	}
	got := TopK(preds, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if got[0].Class != "granite" || got[1].Class != "basalt" {
		t.Errorf("unexpected order: %+v", got)
	}
	if preds[0].ClassName != "basalt" {
		t.Error("TopK must not reorder its input")
	}
}

func TestPrimaryEmpty(t *testing.T) {
	if _, ok := (Result{}).Primary(); ok {
		t.Error("expected no primary detection on empty result")
	}
}
