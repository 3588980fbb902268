package availability

import (
	"errors"
	"testing"
	"time"
)

func d(day int) time.Time {
	return time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC)
}

func r(a, b int) Range {
	return Range{Start: d(a), End: d(b)}
}

func TestRangeDays_FarApartAndBeforeEpoch(t *testing.T) {
	far := Range{Start: time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	if got := far.Days(); got != 730120 {
		t.Fatalf("expected 730120 days, got %d", got)
	}
	epoch := Range{Start: time.Date(1969, 12, 30, 0, 0, 0, 0, time.UTC), End: time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC)}
	if got := epoch.Days(); got != 4 {
		t.Fatalf("expected 4 days across the epoch, got %d", got)
	}
}

func TestBuildTimeline_Span(t *testing.T) {
	tl := BuildTimeline(r(5, 6), []Range{r(8, 9), r(2, 3)})
	if !tl.Origin.Equal(d(2)) {
		t.Fatalf("expected origin 2026-01-02, got %s", tl.Origin.Format(time.DateOnly))
	}
	want := []bool{true, true, false, false, false, false, true, true}
	if tl.Len() != len(want) {
		t.Fatalf("expected %d days, got %d", len(want), tl.Len())
	}
	for i, busy := range want {
		if tl.Busy[i] != busy {
			t.Fatalf("day %d: expected busy=%v", i, busy)
		}
	}
}

func TestBuildTimeline_ReversedRequestIsEmpty(t *testing.T) {
	tl := BuildTimeline(r(10, 5), []Range{r(1, 20)})
	if tl.Len() != 0 || !tl.Origin.Equal(d(10)) {
		t.Fatalf("expected empty timeline at request start, got %d days from %s", tl.Len(), tl.Origin)
	}
}

func TestBuildTimeline_DoesNotReorderInput(t *testing.T) {
	busy := []Range{r(8, 9), r(2, 3)}
	BuildTimeline(r(1, 1), busy)
	if !busy[0].Start.Equal(d(8)) {
		t.Fatalf("input slice was reordered")
	}
}

func TestContainedRange(t *testing.T) {
	cases := []struct {
		name   string
		req    Range
		busy   []Range
		want   Range
		wantOK bool
	}{
		{"no competitors", r(1, 10), nil, r(1, 10), true},
		{"blocked tail", r(1, 10), []Range{r(6, 12)}, r(1, 5), true},
		{"blocked head", r(1, 10), []Range{r(1, 3)}, r(4, 10), true},
		{"hole in the middle keeps first run", r(1, 10), []Range{r(4, 5)}, r(1, 3), true},
		{"last day busy", r(1, 10), []Range{r(10, 10)}, r(1, 9), true},
		{"only last day free", r(1, 10), []Range{r(1, 9)}, r(10, 10), true},
		{"fully blocked", r(3, 5), []Range{r(1, 10)}, Range{}, false},
		{"reversed request", r(5, 3), nil, Range{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ContainedRange(tc.req, tc.busy)
			if ok != tc.wantOK {
				t.Fatalf("expected ok=%v, got %v", tc.wantOK, ok)
			}
			if ok && !got.Equal(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			if ok {
				for _, b := range tc.busy {
					if got.Overlaps(b) {
						t.Fatalf("contained range %v overlaps busy %v", got, b)
					}
				}
			}
		})
	}
}

func TestSuggestions(t *testing.T) {
	today := d(1)
	got := Suggestions([]Range{r(3, 4), r(8, 10)}, today)
	want := []Suggestion{
		{Start: d(1), End: d(2)},
		{Start: d(5), End: d(7)},
		{Start: d(11)},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d suggestions, got %v", len(want), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("suggestion %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if !got[2].Open() {
		t.Fatalf("last suggestion must be open ended")
	}
}

func TestSuggestions_NoBusyIsToday(t *testing.T) {
	got := Suggestions(nil, d(15))
	if len(got) != 1 || !got[0].Start.Equal(d(15)) || !got[0].Open() {
		t.Fatalf("expected single open suggestion from today, got %v", got)
	}
}

func TestSuggestions_IgnoresPast(t *testing.T) {
	got := Suggestions([]Range{r(1, 5), r(7, 8)}, d(6))
	if len(got) != 2 || !got[0].Start.Equal(d(6)) || !got[0].End.Equal(d(6)) || !got[1].Start.Equal(d(9)) {
		t.Fatalf("unexpected suggestions: %v", got)
	}
}

func TestWiden(t *testing.T) {
	got := Widen(r(5, 6), r(1, 10), []Range{r(1, 2), r(9, 12)})
	if !got.Equal(r(3, 8)) {
		t.Fatalf("expected 3..8, got %v", got)
	}
	got = Widen(r(5, 6), r(5, 6), nil)
	if !got.Equal(r(5, 6)) {
		t.Fatalf("limit must cap widening, got %v", got)
	}
}

func TestCheck(t *testing.T) {
	free := Check(r(5, 10), []Range{r(1, 4)}, d(1))
	if !free.Available() || free.Err() != nil {
		t.Fatalf("expected available outcome, got %+v", free)
	}

	partial := Check(r(5, 10), []Range{r(8, 9)}, d(1))
	if partial.Available() {
		t.Fatalf("expected conflict")
	}
	var conflict *ConflictError
	if !errors.As(partial.Err(), &conflict) {
		t.Fatalf("expected ConflictError, got %v", partial.Err())
	}
	if conflict.Contained == nil || !conflict.Contained.Equal(r(5, 7)) {
		t.Fatalf("expected contained 5..7, got %v", conflict.Contained)
	}
	if len(conflict.Suggested) == 0 {
		t.Fatalf("expected suggestions")
	}
	if conflict.Error() != "the date is already taken, try: 2026-01-01 - 2026-01-07 or 2026-01-10 - ..." {
		t.Fatalf("unexpected message %q", conflict.Error())
	}

	blocked := Check(r(3, 5), []Range{r(1, 10)}, d(1))
	if blocked.Contained != nil || blocked.Suggestions != nil {
		t.Fatalf("fully blocked request must carry nothing, got %+v", blocked)
	}
	if blocked.Err().Error() != "the date is already taken, there are no valid suggestions" {
		t.Fatalf("unexpected message %q", blocked.Err())
	}
}
