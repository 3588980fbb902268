package model

import (
	"testing"
	"time"
)

func TestStatusSetDoesNotMutate(t *testing.T) {
	base := StatusSet{}
	withOverdue := base.With(AdditionalOverdue)
	if base.Has(AdditionalOverdue) {
		t.Fatalf("With must not mutate the receiver")
	}
	if !withOverdue.Has(AdditionalOverdue) {
		t.Fatalf("expected overdue in set")
	}
	if len(withOverdue.With(AdditionalOverdue)) != 1 {
		t.Fatalf("duplicates must be ignored")
	}
	if withOverdue.Without(AdditionalOverdue).Has(AdditionalOverdue) {
		t.Fatalf("Without should remove overdue")
	}
}

func TestActiveStatuses(t *testing.T) {
	cases := map[ReservationStatus]bool{
		StatusRequested: true,
		StatusOnLoan:    true,
		StatusFinished:  false,
		StatusCanceled:  false,
	}
	for st, want := range cases {
		if st.Active() != want {
			t.Fatalf("%s: expected active=%v", st, want)
		}
	}
	if _, err := ParseReservationStatus("lost"); err == nil {
		t.Fatalf("expected unknown status error")
	}
}

func TestDateOfKeepsCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	got := DateOf(time.Date(2026, 1, 28, 1, 30, 0, 0, loc))
	want := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if DaysBetween(want, AddDays(want, 28)) != 28 {
		t.Fatalf("expected 28 days")
	}
}

func TestDaysBetweenFarApart(t *testing.T) {
	first := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	y2k := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := DaysBetween(first, y2k); got != 730119 {
		t.Fatalf("expected 730119, got %d", got)
	}
	if got := DaysBetween(time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)); got != -2 {
		t.Fatalf("expected -2, got %d", got)
	}
}

func TestIssuedBeforeTieBreaksOnID(t *testing.T) {
	at := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	a := Reservation{ID: "a", IssuedAt: at}
	b := Reservation{ID: "b", IssuedAt: at}
	if !a.IssuedBefore(b) || b.IssuedBefore(a) {
		t.Fatalf("expected id tie-break")
	}
}

func TestParseDelivery(t *testing.T) {
	d, err := ParseDelivery("")
	if err != nil || d != DeliveryPickup {
		t.Fatalf("expected pickup default, got %q err=%v", d, err)
	}
	if _, err := ParseDelivery("drone"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEventTopic(t *testing.T) {
	if EventCreatedLoan.Topic() != "circulation.created_loan.v1" {
		t.Fatalf("unexpected topic %q", EventCreatedLoan.Topic())
	}
}
