// Package waitlist re-offers dates freed by a released reservation to the
// later-issued reservations of the same item that had to compromise.
//
// Propagation is one hop. Only reservations whose desired range touches the
// released grant are reconsidered; a reservation that moves in the pass does
// not in turn trigger a pass for the reservations waiting behind it.
package waitlist

import (
	"sort"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/availability"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
)

// Change is one reservation moved by propagation.
type Change struct {
	Before model.Reservation
	After  model.Reservation
}

// Involved returns the active peers issued at or after released, excluding
// released itself.
func Involved(released model.Reservation, peers []model.Reservation) []model.Reservation {
	var out []model.Reservation
	for _, p := range peers {
		if p.ID == released.ID || !p.Status.Active() {
			continue
		}
		if p.IssuedAt.Before(released.IssuedAt) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Affected keeps the involved reservations whose desired range touches the
// released grant: desired start inside it, desired end inside it, or the
// desired range enclosing it. The result is in issuance order.
func Affected(released model.Reservation, involved []model.Reservation) []model.Reservation {
	grant := availability.Range{Start: released.Start, End: released.End}
	var out []model.Reservation
	for _, p := range involved {
		desired := availability.Range{Start: p.DesiredStart, End: p.DesiredEnd}
		if grant.Contains(p.DesiredStart) || grant.Contains(p.DesiredEnd) || desired.Covers(grant) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedBefore(out[j]) })
	return out
}

// Update runs one propagation pass for released over peers (every
// reservation of the item). Affected reservations are processed in issuance
// order and each sees the dates granted earlier in the same pass. A
// reservation only grows toward its desired range and never overlaps another
// active peer. Moves are not propagated further.
func Update(released model.Reservation, peers []model.Reservation) []Change {
	work := make([]model.Reservation, len(peers))
	index := make(map[string]int, len(peers))
	for i, p := range peers {
		work[i] = p.Clone()
		index[p.ID] = i
	}

	var changes []Change
	for _, a := range Affected(released, Involved(released, work)) {
		pos := index[a.ID]
		current := work[pos]

		busy := competing(work, released.ID, current.ID)
		next, ok := regrant(current, busy)
		if !ok {
			continue
		}
		moved := current.Clone()
		moved.Start, moved.End = next.Start, next.End
		work[pos] = moved
		changes = append(changes, Change{Before: current, After: moved})
	}
	return changes
}

// competing returns the granted ranges of every active peer other than the
// released reservation and the one being re-granted.
func competing(work []model.Reservation, releasedID, selfID string) []availability.Range {
	var busy []availability.Range
	for _, p := range work {
		if p.ID == releasedID || p.ID == selfID || !p.Status.Active() {
			continue
		}
		busy = append(busy, availability.Range{Start: p.Start, End: p.End})
	}
	return busy
}

// regrant resolves r's desired range against busy. The first free run is
// taken when it still holds r's current grant; otherwise the grant is widened
// in place. ok is false when nothing moved.
func regrant(r model.Reservation, busy []availability.Range) (availability.Range, bool) {
	current := availability.Range{Start: r.Start, End: r.End}
	desired := availability.Range{Start: r.DesiredStart, End: r.DesiredEnd}

	next := current
	if resolved, ok := availability.ContainedRange(desired, busy); ok && resolved.Covers(current) {
		next = resolved
	} else {
		next = availability.Widen(current, desired, busy)
	}

	if next.Start.After(current.Start) || next.Start.Before(desired.Start) {
		next.Start = current.Start
	}
	if next.End.Before(current.End) || next.End.After(desired.End) {
		next.End = current.End
	}
	return next, !next.Equal(current)
}
