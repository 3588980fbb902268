package waitlist

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
)

var today = time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return today.AddDate(0, 0, n)
}

func issued(n int) time.Time {
	return time.Date(2026, 1, 1, 9, n, 0, 0, time.UTC)
}

func res(id string, status model.ReservationStatus, at int, desired [2]int, granted [2]int) model.Reservation {
	return model.Reservation{
		ID:           id,
		ItemID:       "item-1",
		UserID:       "user-" + id,
		Status:       status,
		DesiredStart: day(desired[0]),
		DesiredEnd:   day(desired[1]),
		Start:        day(granted[0]),
		End:          day(granted[1]),
		IssuedAt:     issued(at),
	}
}

func TestUpdate_CascadeOnCancel(t *testing.T) {
	hold := res("hold", model.StatusCanceled, 1, [2]int{14, 41}, [2]int{14, 41})
	loan := res("loan", model.StatusOnLoan, 2, [2]int{0, 27}, [2]int{0, 13})

	changes := Update(hold, []model.Reservation{hold, loan})
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	got := changes[0].After
	if !got.Start.Equal(day(0)) || !got.End.Equal(day(27)) {
		t.Fatalf("expected loan to grow to its desired range, got %s..%s", got.Start, got.End)
	}
	if !changes[0].Before.End.Equal(day(13)) {
		t.Fatalf("before snapshot should keep old end")
	}
}

func TestUpdate_OneHopOnly(t *testing.T) {
	released := res("a", model.StatusCanceled, 1, [2]int{0, 5}, [2]int{0, 5})
	b := res("b", model.StatusRequested, 2, [2]int{0, 12}, [2]int{6, 12})
	// c waits behind b's old grant; days 13 and 14 are free but c is not
	// touched by the release of a.
	c := res("c", model.StatusRequested, 3, [2]int{6, 20}, [2]int{15, 20})

	changes := Update(released, []model.Reservation{released, b, c})
	if len(changes) != 1 || changes[0].After.ID != "b" {
		t.Fatalf("expected only b to move, got %+v", changes)
	}
	got := changes[0].After
	if !got.Start.Equal(day(0)) || !got.End.Equal(day(12)) {
		t.Fatalf("expected b at 0..12, got %s..%s", got.Start, got.End)
	}
}

func TestUpdate_Idempotent(t *testing.T) {
	hold := res("hold", model.StatusCanceled, 1, [2]int{14, 41}, [2]int{14, 41})
	loan := res("loan", model.StatusOnLoan, 2, [2]int{0, 27}, [2]int{0, 13})

	first := Update(hold, []model.Reservation{hold, loan})
	if len(first) != 1 {
		t.Fatalf("expected first pass to move the loan")
	}
	second := Update(hold, []model.Reservation{hold, first[0].After})
	if len(second) != 0 {
		t.Fatalf("second pass must be a no-op, got %d changes", len(second))
	}
}

func TestUpdate_RespectsOtherActiveReservations(t *testing.T) {
	earlier := res("earlier", model.StatusRequested, 0, [2]int{20, 25}, [2]int{20, 25})
	released := res("released", model.StatusFinished, 1, [2]int{10, 19}, [2]int{10, 19})
	waiting := res("waiting", model.StatusRequested, 2, [2]int{5, 30}, [2]int{5, 9})

	changes := Update(released, []model.Reservation{earlier, released, waiting})
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	got := changes[0].After
	if !got.Start.Equal(day(5)) || !got.End.Equal(day(19)) {
		t.Fatalf("expected 5..19 (stopped by the earlier hold), got %s..%s", got.Start, got.End)
	}
}

func TestUpdate_NeverExceedsDesiredRange(t *testing.T) {
	released := res("released", model.StatusCanceled, 1, [2]int{0, 40}, [2]int{0, 40})
	waiting := res("waiting", model.StatusRequested, 2, [2]int{10, 20}, [2]int{18, 20})

	changes := Update(released, []model.Reservation{released, waiting})
	if len(changes) != 1 {
		t.Fatalf("expected 1 change")
	}
	got := changes[0].After
	if got.Start.Before(got.DesiredStart) || got.End.After(got.DesiredEnd) {
		t.Fatalf("grant %s..%s escapes desired %s..%s", got.Start, got.End, got.DesiredStart, got.DesiredEnd)
	}
	if !got.Start.Equal(day(10)) {
		t.Fatalf("expected start pulled back to desired start, got %s", got.Start)
	}
}

func TestUpdate_LaterReservationSeesEarlierGrant(t *testing.T) {
	released := res("released", model.StatusCanceled, 0, [2]int{10, 20}, [2]int{10, 20})
	first := res("first", model.StatusRequested, 1, [2]int{5, 20}, [2]int{5, 9})
	second := res("second", model.StatusRequested, 2, [2]int{10, 25}, [2]int{21, 25})

	changes := Update(released, []model.Reservation{second, released, first})
	if len(changes) != 1 || changes[0].After.ID != "first" {
		t.Fatalf("expected only the earlier issued reservation to move, got %+v", changes)
	}
	if !changes[0].After.End.Equal(day(20)) {
		t.Fatalf("expected first to take 5..20, got end %s", changes[0].After.End)
	}
}

func TestUpdate_BlockedReservationIsUntouched(t *testing.T) {
	released := res("released", model.StatusCanceled, 0, [2]int{10, 12}, [2]int{10, 12})
	blocker := res("blocker", model.StatusOnLoan, 1, [2]int{8, 14}, [2]int{13, 14})
	waiting := res("waiting", model.StatusRequested, 2, [2]int{11, 15}, [2]int{15, 15})

	changes := Update(released, []model.Reservation{released, blocker, waiting})
	for _, c := range changes {
		if c.After.ID == "waiting" {
			t.Fatalf("waiting must stay put while blocker now covers the freed days: %+v", c.After)
		}
	}
}

func TestInvolvedAndAffected(t *testing.T) {
	released := res("r", model.StatusCanceled, 5, [2]int{10, 20}, [2]int{10, 20})
	peers := []model.Reservation{
		res("older", model.StatusRequested, 1, [2]int{12, 14}, [2]int{21, 22}),
		res("done", model.StatusFinished, 6, [2]int{12, 14}, [2]int{12, 14}),
		res("start-inside", model.StatusRequested, 9, [2]int{15, 30}, [2]int{21, 30}),
		res("end-inside", model.StatusRequested, 8, [2]int{0, 12}, [2]int{0, 9}),
		res("encloses", model.StatusRequested, 7, [2]int{5, 25}, [2]int{5, 9}),
		res("disjoint", model.StatusRequested, 6, [2]int{30, 35}, [2]int{30, 35}),
		released,
	}

	involved := Involved(released, peers)
	if len(involved) != 4 {
		t.Fatalf("expected 4 involved, got %d", len(involved))
	}
	affected := Affected(released, involved)
	want := []string{"encloses", "end-inside", "start-inside"}
	if len(affected) != len(want) {
		t.Fatalf("expected %v, got %d affected", want, len(affected))
	}
	for i, id := range want {
		if affected[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, affected[i].ID)
		}
	}
}

// A single pass only reconsiders reservations issued after the released one.
// An earlier-issued reservation that could now grow keeps its dates until a
// release it is involved in happens.
func TestUpdate_OnlyLaterIssuedAreReconsidered(t *testing.T) {
	earlier := res("earlier", model.StatusRequested, 1, [2]int{1, 10}, [2]int{1, 7})
	released := res("released", model.StatusCanceled, 2, [2]int{8, 12}, [2]int{8, 12})

	if changes := Update(released, []model.Reservation{earlier, released}); len(changes) != 0 {
		t.Fatalf("expected no changes for earlier-issued reservation, got %+v", changes)
	}
}

func TestUpdate_DoesNotMutateInput(t *testing.T) {
	hold := res("hold", model.StatusCanceled, 1, [2]int{14, 41}, [2]int{14, 41})
	loan := res("loan", model.StatusOnLoan, 2, [2]int{0, 27}, [2]int{0, 13})
	peers := []model.Reservation{hold, loan}

	Update(hold, peers)
	if !peers[1].End.Equal(day(13)) {
		t.Fatalf("input slice was modified")
	}
}
