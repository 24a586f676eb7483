// Package vision holds the result types shared by the detection backend,
// the classifier loader, the analysis workflow and the viewers.
package vision

import "sort"

// Detection is one labelled object with a confidence in [0,1].
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Navigation is the optional steering hint returned by the detection backend.
type Navigation struct {
	Action     string  `json:"action"`
	Message    string  `json:"message"`
	Target     string  `json:"target,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Navigation actions understood by the rover.
const (
	ActionMoveForward    = "move_forward"
	ActionTurnLeft       = "turn_left"
	ActionTurnRight      = "turn_right"
	ActionContinueSearch = "continue_search"
)

// Result is an ordered detection list plus optional guidance.
type Result struct {
	Objects    []Detection `json:"objects"`
	Navigation *Navigation `json:"navigation,omitempty"`
}

// Primary returns the first object, which the backend orders by relevance.
func (r Result) Primary() (Detection, bool) {
	if len(r.Objects) == 0 {
		return Detection{}, false
	}
	return r.Objects[0], true
}

// Prediction is a per-class probability from a pretrained classifier.
type Prediction struct {
	ClassName   string  `json:"className"`
	Probability float64 `json:"probability"`
}

// TopK sorts predictions by descending probability and returns at most k as
// detections. k <= 0 returns all of them.
func TopK(preds []Prediction, k int) []Detection {
	sorted := make([]Prediction, len(preds))
	copy(sorted, preds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Probability > sorted[j].Probability
	})
	if k > 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	out := make([]Detection, len(sorted))
	for i, p := range sorted {
		out[i] = Detection{Class: p.ClassName, Confidence: p.Probability}
	}
	return out
}

// Truncate returns at most k detections, preserving order.
func Truncate(objs []Detection, k int) []Detection {
	if k <= 0 || len(objs) <= k {
		return objs
	}
	return objs[:k]
}
