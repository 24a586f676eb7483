package detection

import (
	"math"
	"time"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/ringbuffer"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

type frameRecord struct {
	at      time.Time
	classes []string
}

// History keeps recent detection results for summary statistics.
type History struct {
	ring *ringbuffer.RingBuffer[frameRecord]
}

func NewHistory(size int) *History {
	return &History{ring: ringbuffer.New[frameRecord](size)}
}

func (h *History) Record(at time.Time, res vision.Result) {
	classes := make([]string, len(res.Objects))
	for i, o := range res.Objects {
		classes[i] = o.Class
	}
	h.ring.Write(frameRecord{at: at, classes: classes})
}

type ObjectCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalFrames      int          `json:"total_frames"`
	AvgDetections    float64      `json:"avg_detections"`
	MostCommonObject *ObjectCount `json:"most_common_object"`
	UniqueObjects    int          `json:"unique_objects"`
}

// Stats summarises frames recorded within window of now. Ties for the most
// common object go to the class seen first.
func (h *History) Stats(now time.Time, window time.Duration) Stats {
	var st Stats
	counts := map[string]int{}
	var order []string
	total := 0

	for _, rec := range h.ring.Snapshot(0) {
		if now.Sub(rec.at) >= window {
			continue
		}
		st.TotalFrames++
		for _, c := range rec.classes {
			if counts[c] == 0 {
				order = append(order, c)
			}
			counts[c]++
			total++
		}
	}
	if st.TotalFrames == 0 {
		return st
	}

	st.AvgDetections = math.Round(float64(total)/float64(st.TotalFrames)*100) / 100
	st.UniqueObjects = len(order)
	for _, c := range order {
		if st.MostCommonObject == nil || counts[c] > st.MostCommonObject.Count {
			st.MostCommonObject = &ObjectCount{Class: c, Count: counts[c]}
		}
	}
	return st
}
