package availability

import (
	"fmt"
	"strings"
	"time"
)

// ContainedRange returns the first run of free days inside req: it starts at
// the first free day at or after req.Start and stops before the next busy
// day or at req.End. ok is false when no day of req is free.
func ContainedRange(req Range, busy []Range) (Range, bool) {
	if !req.Valid() {
		return Range{}, false
	}
	tl := BuildTimeline(req, busy)
	from, to := tl.Index(req.Start), tl.Index(req.End)

	start := -1
	for i := from; i <= to; i++ {
		if tl.Free(i) {
			start = i
			break
		}
	}
	if start < 0 {
		return Range{}, false
	}
	end := start
	for end+1 <= to && tl.Free(end+1) {
		end++
	}
	return Range{Start: tl.Day(start), End: tl.Day(end)}, true
}

// Suggestion is a free window from today on. A zero End means open ended.
type Suggestion struct {
	Start time.Time
	End   time.Time
}

func (s Suggestion) Open() bool {
	return s.End.IsZero()
}

func (s Suggestion) String() string {
	if s.Open() {
		return s.Start.Format("2006-01-02") + " - ..."
	}
	return s.Start.Format("2006-01-02") + " - " + s.End.Format("2006-01-02")
}

// Suggestions lists every maximal free window from today on. The last entry
// is always open ended because nothing is booked after the latest busy day.
func Suggestions(busy []Range, today time.Time) []Suggestion {
	tl := BuildTimeline(Range{Start: today, End: today}, busy)
	var out []Suggestion
	start := -1
	for i := tl.Index(today); i < tl.Len(); i++ {
		if tl.Free(i) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, Suggestion{Start: tl.Day(start), End: tl.Day(i - 1)})
			start = -1
		}
	}
	if start < 0 {
		start = tl.Len()
	}
	return append(out, Suggestion{Start: tl.Day(start)})
}

// Widen grows current one day at a time in both directions while the days
// are free and inside limit. The result always contains current.
func Widen(current, limit Range, busy []Range) Range {
	if !current.Valid() {
		return current
	}
	span := Range{Start: minTime(current.Start, limit.Start), End: maxTime(current.End, limit.End)}
	tl := BuildTimeline(span, busy)
	out := current
	for {
		prev := out.Start.AddDate(0, 0, -1)
		if prev.Before(limit.Start) || !tl.Free(tl.Index(prev)) {
			break
		}
		out.Start = prev
	}
	for {
		next := out.End.AddDate(0, 0, 1)
		if next.After(limit.End) || !tl.Free(tl.Index(next)) {
			break
		}
		out.End = next
	}
	return out
}

// Outcome is the answer to "is this range free?". A conflict is an expected
// result here, not an error.
type Outcome struct {
	Requested   Range
	Contained   *Range
	Suggestions []Suggestion
}

func (o Outcome) Available() bool {
	return o.Contained != nil && o.Contained.Equal(o.Requested)
}

// Err is nil when available and a *ConflictError otherwise.
func (o Outcome) Err() error {
	if o.Available() {
		return nil
	}
	return &ConflictError{Suggested: o.Suggestions, Contained: o.Contained}
}

// Check resolves req against busy. When no day of req is free the outcome
// carries neither a contained range nor suggestions.
func Check(req Range, busy []Range, today time.Time) Outcome {
	out := Outcome{Requested: req}
	contained, ok := ContainedRange(req, busy)
	if !ok {
		return out
	}
	out.Contained = &contained
	if !contained.Equal(req) {
		out.Suggestions = Suggestions(busy, today)
	}
	return out
}

// ConflictError reports a taken date range with alternatives. Contained is
// the part of the request that could still be granted.
type ConflictError struct {
	Suggested []Suggestion
	Contained *Range
}

func (e *ConflictError) Error() string {
	if len(e.Suggested) == 0 {
		return "the date is already taken, there are no valid suggestions"
	}
	parts := make([]string, len(e.Suggested))
	for i, s := range e.Suggested {
		parts[i] = s.String()
	}
	return fmt.Sprintf("the date is already taken, try: %s", strings.Join(parts, " or "))
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
