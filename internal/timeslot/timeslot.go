package timeslot

import (
	"sort"
	"time"

	appErrors "github.com/hearthview/tours-api/pkg/errors"
)

// Interval is a half-open time range [Start, End) normalised to UTC.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New validates and normalises an interval.
func New(start, end time.Time) (Interval, error) {
	start = start.UTC()
	end = end.UTC()
	if !start.Before(end) {
		return Interval{}, appErrors.ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// IsZero reports whether the interval is empty or unset.
func (iv Interval) IsZero() bool {
	return !iv.Start.Before(iv.End)
}

// Overlaps reports whether two half-open intervals intersect.
// Touching endpoints do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether other lies entirely within iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// WithBuffer expands the interval by the given gaps on each side.
func (iv Interval) WithBuffer(before, after time.Duration) Interval {
	return Interval{Start: iv.Start.Add(-before), End: iv.End.Add(after)}
}

// Union merges a set of intervals into a minimal sorted non-overlapping set.
// Adjacent intervals are coalesced.
func Union(set []Interval) []Interval {
	cleaned := make([]Interval, 0, len(set))
	for _, iv := range set {
		if !iv.IsZero() {
			cleaned = append(cleaned, iv)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}

	sort.Slice(cleaned, func(i, j int) bool {
		return cleaned[i].Start.Before(cleaned[j].Start)
	})

	merged := []Interval{cleaned[0]}
	for _, iv := range cleaned[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// Subtract removes every busy interval from the free set, splitting free
// intervals as needed. The result is minimal, sorted and non-overlapping.
func Subtract(free, busy []Interval) []Interval {
	remaining := Union(free)
	if len(remaining) == 0 {
		return nil
	}

	for _, b := range Union(busy) {
		next := make([]Interval, 0, len(remaining))
		for _, f := range remaining {
			if !f.Overlaps(b) {
				next = append(next, f)
				continue
			}
			if b.Start.After(f.Start) {
				next = append(next, Interval{Start: f.Start, End: b.Start})
			}
			if b.End.Before(f.End) {
				next = append(next, Interval{Start: b.End, End: f.End})
			}
		}
		remaining = next
	}
	return remaining
}

// Slots slices a window into consecutive fixed-duration slots starting at
// the window start. Partial trailing slots are discarded.
func Slots(window Interval, duration time.Duration) []Interval {
	if duration <= 0 || window.IsZero() {
		return nil
	}

	var slots []Interval
	for start := window.Start; !start.Add(duration).After(window.End); start = start.Add(duration) {
		slots = append(slots, Interval{Start: start, End: start.Add(duration)})
	}
	return slots
}
