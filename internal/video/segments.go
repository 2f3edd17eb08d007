package video

import "math"

// Span is a half-open time range within the media.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (s Span) Duration() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// FixedSegments cuts uniform windows of win seconds until the duration is
// exhausted. The trailing window is shortened to fit.
func FixedSegments(duration, win float64) []Span {
	if duration <= 0 || win <= 0 {
		return nil
	}
	var segments []Span
	cursor := 0.0
	for cursor < duration {
		end := math.Min(duration, cursor+win)
		segments = append(segments, Span{Start: cursor, End: end})
		if end == duration {
			break
		}
		cursor = end
	}
	return segments
}

// SceneSegments builds segments from sorted cut timestamps. Segments
// shorter than minDuration merge into the previous one, and the final
// segment is extended to reach total.
func SceneSegments(cuts []float64, minDuration, total float64) []Span {
	if len(cuts) == 0 {
		return nil
	}
	boundaries := make([]float64, 0, len(cuts)+2)
	boundaries = append(boundaries, 0)
	boundaries = append(boundaries, cuts...)
	boundaries = append(boundaries, total)

	var segments []Span
	for i := 0; i < len(boundaries)-1; i++ {
		if boundaries[i+1] > boundaries[i] {
			segments = append(segments, Span{Start: boundaries[i], End: boundaries[i+1]})
		}
	}

	var merged []Span
	for _, seg := range segments {
		if len(merged) == 0 {
			merged = append(merged, seg)
			continue
		}
		if seg.Duration() < minDuration {
			merged[len(merged)-1].End = seg.End
		} else {
			merged = append(merged, seg)
		}
	}

	if len(merged) > 0 && merged[len(merged)-1].End < total {
		merged[len(merged)-1].End = total
	}
	return merged
}

// evenlyPickFrames selects up to limit frames spread across the slice so
// captioning does not bias toward the head of the chunk.
func evenlyPickFrames(frames []Frame, limit int) []Frame {
	if limit <= 0 || len(frames) <= limit {
		return frames
	}
	step := int(math.Round(float64(len(frames)) / float64(limit)))
	if step < 1 {
		step = 1
	}
	var picked []Frame
	for i := 0; i < len(frames); i += step {
		picked = append(picked, frames[i])
		if len(picked) >= limit {
			break
		}
	}
	return picked
}
