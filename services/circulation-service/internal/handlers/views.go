package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/availability"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
)

type reservationView struct {
	ID                    string   `json:"id"`
	GroupID               string   `json:"group_id,omitempty"`
	ItemID                string   `json:"item_id"`
	UserID                string   `json:"user_id"`
	Status                string   `json:"status"`
	Additional            []string `json:"additional_statuses,omitempty"`
	Start                 string   `json:"start"`
	End                   string   `json:"end"`
	DesiredStart          string   `json:"desired_start"`
	DesiredEnd            string   `json:"desired_end"`
	RequestedExtensionEnd string   `json:"requested_extension_end,omitempty"`
	Waitlisted            bool     `json:"waitlisted"`
	Delivery              string   `json:"delivery,omitempty"`
	IssuedAt              string   `json:"issued_at"`
}

func toReservationView(r model.Reservation) reservationView {
	v := reservationView{
		ID:                    r.ID,
		GroupID:               r.GroupID,
		ItemID:                r.ItemID,
		UserID:                r.UserID,
		Status:                string(r.Status),
		Start:                 model.FormatDate(r.Start),
		End:                   model.FormatDate(r.End),
		DesiredStart:          model.FormatDate(r.DesiredStart),
		DesiredEnd:            model.FormatDate(r.DesiredEnd),
		RequestedExtensionEnd: model.FormatDate(r.RequestedExtensionEnd),
		Waitlisted:            r.Waitlisted(),
		Delivery:              string(r.Delivery),
		IssuedAt:              r.IssuedAt.UTC().Format(time.RFC3339),
	}
	for _, st := range r.Additional {
		v.Additional = append(v.Additional, string(st))
	}
	return v
}

func toReservationViews(rs []model.Reservation) []reservationView {
	out := make([]reservationView, len(rs))
	for i, r := range rs {
		out[i] = toReservationView(r)
	}
	return out
}

type itemView struct {
	ID           string `json:"id"`
	Barcode      string `json:"barcode,omitempty"`
	Title        string `json:"title,omitempty"`
	ItemType     string `json:"item_type,omitempty"`
	LocationCode string `json:"location_code,omitempty"`
	Status       string `json:"status"`
	Description  string `json:"description,omitempty"`
}

func toItemView(it model.Item) itemView {
	return itemView{
		ID:           it.ID,
		Barcode:      it.Barcode,
		Title:        it.Title,
		ItemType:     it.ItemType,
		LocationCode: it.LocationCode,
		Status:       string(it.Status),
		Description:  it.Description,
	}
}

type rangeView struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

func toRangeView(r availability.Range) *rangeView {
	return &rangeView{Start: model.FormatDate(r.Start), End: model.FormatDate(r.End)}
}

// Open ended suggestions have no end.
func toSuggestionViews(ss []availability.Suggestion) []rangeView {
	if len(ss) == 0 {
		return nil
	}
	out := make([]rangeView, len(ss))
	for i, s := range ss {
		out[i] = rangeView{Start: model.FormatDate(s.Start), End: model.FormatDate(s.End)}
	}
	return out
}

type availabilityView struct {
	ItemID      string      `json:"item_id"`
	Available   bool        `json:"available"`
	Requested   rangeView   `json:"requested"`
	Contained   *rangeView  `json:"contained,omitempty"`
	Suggestions []rangeView `json:"suggestions,omitempty"`
}

type violationView struct {
	Check       string      `json:"check"`
	Message     string      `json:"message"`
	Contained   *rangeView  `json:"contained,omitempty"`
	Suggestions []rangeView `json:"suggestions,omitempty"`
}

type validationView struct {
	Error      string          `json:"error"`
	Violations []violationView `json:"violations"`
}

func toValidationView(ve *circulation.ValidationError) validationView {
	out := validationView{Error: "validation failed"}
	for _, v := range ve.Violations {
		vv := violationView{Check: v.Check, Message: v.Err.Error()}
		var c *availability.ConflictError
		if errors.As(v.Err, &c) {
			if c.Contained != nil {
				vv.Contained = toRangeView(*c.Contained)
			}
			vv.Suggestions = toSuggestionViews(c.Suggested)
		}
		out.Violations = append(out.Violations, vv)
	}
	return out
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
