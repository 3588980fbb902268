package model

import (
	"fmt"
	"time"
)

type ReservationStatus string

const (
	StatusRequested ReservationStatus = "requested"
	StatusOnLoan    ReservationStatus = "on_loan"
	StatusFinished  ReservationStatus = "finished"
	StatusCanceled  ReservationStatus = "canceled"
)

// Active reports whether the reservation still holds dates on its item.
func (s ReservationStatus) Active() bool {
	return s == StatusRequested || s == StatusOnLoan
}

func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusOnLoan, StatusFinished, StatusCanceled:
		return true
	}
	return false
}

func ParseReservationStatus(s string) (ReservationStatus, error) {
	st := ReservationStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown reservation status %q", s)
	}
	return st, nil
}

type AdditionalStatus string

const (
	AdditionalOverdue AdditionalStatus = "overdue"
)

// StatusSet holds additional statuses without duplicates. Methods never
// mutate the receiver.
type StatusSet []AdditionalStatus

func (s StatusSet) Has(st AdditionalStatus) bool {
	for _, v := range s {
		if v == st {
			return true
		}
	}
	return false
}

func (s StatusSet) With(st AdditionalStatus) StatusSet {
	if s.Has(st) {
		return s
	}
	out := make(StatusSet, 0, len(s)+1)
	out = append(out, s...)
	return append(out, st)
}

func (s StatusSet) Without(st AdditionalStatus) StatusSet {
	out := make(StatusSet, 0, len(s))
	for _, v := range s {
		if v != st {
			out = append(out, v)
		}
	}
	return out
}

type Delivery string

const (
	DeliveryPickup       Delivery = "pickup"
	DeliveryInternalMail Delivery = "internal_mail"
)

func ParseDelivery(s string) (Delivery, error) {
	switch Delivery(s) {
	case "":
		return DeliveryPickup, nil
	case DeliveryPickup, DeliveryInternalMail:
		return Delivery(s), nil
	}
	return "", fmt.Errorf("unknown delivery %q", s)
}

// Reservation is one loan cycle of one item for one user. Start/End are the
// granted dates; DesiredStart/DesiredEnd what the user asked for. They only
// differ for waitlisted reservations.
type Reservation struct {
	ID                    string
	GroupID               string
	ItemID                string
	UserID                string
	Status                ReservationStatus
	Additional            StatusSet
	DesiredStart          time.Time
	DesiredEnd            time.Time
	Start                 time.Time
	End                   time.Time
	RequestedExtensionEnd time.Time
	IssuedAt              time.Time
	Delivery              Delivery
	UpdatedAt             time.Time
}

func (r Reservation) Overdue() bool {
	return r.Additional.Has(AdditionalOverdue)
}

// Waitlisted reports whether the granted dates differ from the desired ones.
func (r Reservation) Waitlisted() bool {
	return !r.Start.Equal(r.DesiredStart) || !r.End.Equal(r.DesiredEnd)
}

// IssuedBefore orders reservations by priority: issue time, then id.
func (r Reservation) IssuedBefore(o Reservation) bool {
	if !r.IssuedAt.Equal(o.IssuedAt) {
		return r.IssuedAt.Before(o.IssuedAt)
	}
	return r.ID < o.ID
}

// Clone copies the reservation including its status set.
func (r Reservation) Clone() Reservation {
	if r.Additional != nil {
		r.Additional = append(StatusSet(nil), r.Additional...)
	}
	return r
}
