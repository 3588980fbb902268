// Package availability decides whether a date range on one item is free of
// competing reservations and what to offer instead. Every range is a closed
// interval of calendar days at UTC midnight.
package availability

import (
	"sort"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// Range is an inclusive span of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Valid() bool {
	return !r.End.Before(r.Start)
}

// Days counts the days in the range, 0 when reversed.
func (r Range) Days() int {
	if !r.Valid() {
		return 0
	}
	return daysFrom(r.Start, r.End) + 1
}

func (r Range) Contains(d time.Time) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Overlaps is true when the ranges share at least one day.
func (r Range) Overlaps(o Range) bool {
	return !r.Start.After(o.End) && !o.Start.After(r.End)
}

// Covers is true when o lies entirely inside r.
func (r Range) Covers(o Range) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

func (r Range) Equal(o Range) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

// Timeline marks, for each day from Origin, whether any busy range covers it.
type Timeline struct {
	Origin time.Time
	Busy   []bool
}

func (t Timeline) Len() int {
	return len(t.Busy)
}

// Index is the position of d relative to Origin; it may be out of bounds.
func (t Timeline) Index(d time.Time) int {
	return daysFrom(t.Origin, d)
}

func (t Timeline) Day(i int) time.Time {
	return t.Origin.AddDate(0, 0, i)
}

// Free reports whether day i is unclaimed. Days outside the timeline are free.
func (t Timeline) Free(i int) bool {
	if i < 0 || i >= len(t.Busy) {
		return true
	}
	return !t.Busy[i]
}

// BuildTimeline spans from the earliest start to the latest end among busy
// and req. Reversed busy ranges are ignored; a reversed req yields an empty
// timeline anchored at req.Start.
func BuildTimeline(req Range, busy []Range) Timeline {
	if !req.Valid() {
		return Timeline{Origin: req.Start}
	}
	sorted := make([]Range, 0, len(busy))
	for _, b := range busy {
		if b.Valid() {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	first, last := req.Start, req.End
	for _, b := range sorted {
		if b.Start.Before(first) {
			first = b.Start
		}
		if b.End.After(last) {
			last = b.End
		}
	}

	tl := Timeline{Origin: first, Busy: make([]bool, daysFrom(first, last)+1)}
	for _, b := range sorted {
		from, to := tl.Index(b.Start), tl.Index(b.End)
		for i := from; i <= to; i++ {
			tl.Busy[i] = true
		}
	}
	return tl
}

// daysFrom counts on day numbers rather than time.Duration, which saturates
// after about 292 years.
func daysFrom(a, b time.Time) int {
	return int(unixDay(b) - unixDay(a))
}

func unixDay(t time.Time) int64 {
	s := t.Unix()
	d := s / secondsPerDay
	if s%secondsPerDay < 0 {
		d--
	}
	return d
}
