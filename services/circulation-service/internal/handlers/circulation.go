package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/librarycirc/libs/httpx"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/storage"
)

type CirculationHandler struct {
	svc    *circulation.Service
	logger *slog.Logger
}

func NewCirculationHandler(svc *circulation.Service, logger *slog.Logger) *CirculationHandler {
	return &CirculationHandler{svc: svc, logger: logger}
}

// Register mounts every endpoint on mux.
func (h *CirculationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/loans", h.Loan)
	mux.HandleFunc("/api/v1/requests", h.Request)
	mux.HandleFunc("/api/v1/returns", h.Return)
	mux.HandleFunc("/api/v1/reservations", h.List)
	mux.HandleFunc("/api/v1/lists", h.DeskList)
	mux.HandleFunc("/api/v1/reservations/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/reservations/extend", h.Extend)
	mux.HandleFunc("/api/v1/reservations/transform", h.Transform)
	mux.HandleFunc("/api/v1/reservations/overdue", h.MarkOverdue)
	mux.HandleFunc("/api/v1/items", h.Item)
	mux.HandleFunc("/api/v1/patrons", h.Patron)
	mux.HandleFunc("/api/v1/items/availability", h.Availability)
	mux.HandleFunc("/api/v1/items/lose", h.Lose)
	mux.HandleFunc("/api/v1/items/return-missing", h.ReturnMissing)
	mux.HandleFunc("/api/v1/items/process", h.Process)
	mux.HandleFunc("/api/v1/items/return-processed", h.ReturnProcessed)
}

type borrowRequest struct {
	UserID   string   `json:"user_id"`
	ItemIDs  []string `json:"item_ids"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Waitlist bool     `json:"waitlist"`
	Delivery string   `json:"delivery"`
	DryRun   bool     `json:"dry_run"`
}

type itemsRequest struct {
	ItemIDs     []string `json:"item_ids"`
	Description string   `json:"description"`
	DryRun      bool     `json:"dry_run"`
}

type reservationsRequest struct {
	ReservationIDs []string `json:"reservation_ids"`
	Reason         string   `json:"reason"`
	DryRun         bool     `json:"dry_run"`
}

type extendRequest struct {
	ReservationIDs []string `json:"reservation_ids"`
	End            string   `json:"end"`
	Waitlist       bool     `json:"waitlist"`
	DryRun         bool     `json:"dry_run"`
}

type reservationsResponse struct {
	DryRun       bool              `json:"dry_run,omitempty"`
	Reservations []reservationView `json:"reservations"`
}

type itemsResponse struct {
	DryRun bool       `json:"dry_run,omitempty"`
	Items  []itemView `json:"items"`
}

func (h *CirculationHandler) Loan(w http.ResponseWriter, r *http.Request) {
	h.borrow(w, r, h.svc.TryLoan, h.svc.Loan)
}

func (h *CirculationHandler) Request(w http.ResponseWriter, r *http.Request) {
	h.borrow(w, r, h.svc.TryRequest, h.svc.Request)
}

type borrowFunc = func(ctx context.Context, req circulation.BorrowRequest) ([]model.Reservation, error)

func (h *CirculationHandler) borrow(w http.ResponseWriter, r *http.Request, try, apply borrowFunc) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req borrowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := model.ParseDate(strings.TrimSpace(req.Start))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end, err := model.ParseDate(strings.TrimSpace(req.End))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}
	delivery, err := model.ParseDelivery(strings.TrimSpace(req.Delivery))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := circulation.BorrowRequest{
		UserID:   strings.TrimSpace(req.UserID),
		ItemIDs:  cleanIDs(req.ItemIDs),
		Start:    start,
		End:      end,
		Waitlist: req.Waitlist,
		Delivery: delivery,
	}
	call, status := apply, http.StatusCreated
	if req.DryRun {
		call, status = try, http.StatusOK
	}
	rs, err := call(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, status, reservationsResponse{DryRun: req.DryRun, Reservations: toReservationViews(rs)})
}

func (h *CirculationHandler) Return(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req itemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := cleanIDs(req.ItemIDs)
	var (
		rs  []model.Reservation
		err error
	)
	if req.DryRun {
		rs, err = h.svc.TryReturn(r.Context(), ids)
	} else {
		rs, err = h.svc.Return(r.Context(), ids)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reservationsResponse{DryRun: req.DryRun, Reservations: toReservationViews(rs)})
}

func (h *CirculationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.reservations(w, r, h.svc.TryCancel, func(ctx context.Context, ids []string, reason string) ([]model.Reservation, error) {
		return h.svc.Cancel(ctx, ids, reason)
	})
}

func (h *CirculationHandler) Transform(w http.ResponseWriter, r *http.Request) {
	h.reservations(w, r, h.svc.TryTransform, func(ctx context.Context, ids []string, _ string) ([]model.Reservation, error) {
		return h.svc.Transform(ctx, ids)
	})
}

func (h *CirculationHandler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	h.reservations(w, r, h.svc.TryMarkOverdue, func(ctx context.Context, ids []string, _ string) ([]model.Reservation, error) {
		return h.svc.MarkOverdue(ctx, ids)
	})
}

func (h *CirculationHandler) reservations(w http.ResponseWriter, r *http.Request,
	try func(context.Context, []string) error,
	apply func(context.Context, []string, string) ([]model.Reservation, error),
) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req reservationsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := cleanIDs(req.ReservationIDs)
	if req.DryRun {
		if err := try(r.Context(), ids); err != nil {
			h.writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, reservationsResponse{DryRun: true, Reservations: []reservationView{}})
		return
	}
	rs, err := apply(r.Context(), ids, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reservationsResponse{Reservations: toReservationViews(rs)})
}

func (h *CirculationHandler) Extend(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req extendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := model.ParseDate(strings.TrimSpace(req.End))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}
	in := circulation.ExtendRequest{ReservationIDs: cleanIDs(req.ReservationIDs), End: end, Waitlist: req.Waitlist}
	var rs []model.Reservation
	if req.DryRun {
		rs, err = h.svc.TryExtend(r.Context(), in)
	} else {
		rs, err = h.svc.Extend(r.Context(), in)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reservationsResponse{DryRun: req.DryRun, Reservations: toReservationViews(rs)})
}

func (h *CirculationHandler) Lose(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req itemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := cleanIDs(req.ItemIDs)
	if req.DryRun {
		if err := h.svc.TryLose(r.Context(), ids); err != nil {
			h.writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, reservationsResponse{DryRun: true, Reservations: []reservationView{}})
		return
	}
	canceled, err := h.svc.Lose(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reservationsResponse{Reservations: toReservationViews(canceled)})
}

func (h *CirculationHandler) ReturnMissing(w http.ResponseWriter, r *http.Request) {
	h.items(w, r, h.svc.TryReturnMissing, func(ctx context.Context, ids []string, _ string) ([]model.Item, error) {
		return h.svc.ReturnMissing(ctx, ids)
	})
}

func (h *CirculationHandler) Process(w http.ResponseWriter, r *http.Request) {
	h.items(w, r, h.svc.TryProcess, h.svc.Process)
}

func (h *CirculationHandler) ReturnProcessed(w http.ResponseWriter, r *http.Request) {
	h.items(w, r, h.svc.TryReturnProcessed, func(ctx context.Context, ids []string, _ string) ([]model.Item, error) {
		return h.svc.ReturnProcessed(ctx, ids)
	})
}

func (h *CirculationHandler) items(w http.ResponseWriter, r *http.Request,
	try func(context.Context, []string) error,
	apply func(context.Context, []string, string) ([]model.Item, error),
) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req itemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := cleanIDs(req.ItemIDs)
	if req.DryRun {
		if err := try(r.Context(), ids); err != nil {
			h.writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, itemsResponse{DryRun: true, Items: []itemView{}})
		return
	}
	items, err := apply(r.Context(), ids, strings.TrimSpace(req.Description))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]itemView, len(items))
	for i, it := range items {
		views[i] = toItemView(it)
	}
	httpx.WriteJSON(w, http.StatusOK, itemsResponse{Items: views})
}

// Item reads an item on GET and registers one on PUT.
func (h *CirculationHandler) Item(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			httpx.WriteError(w, http.StatusBadRequest, "id is required")
			return
		}
		item, err := h.svc.GetItem(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toItemView(item))
	case http.MethodPut:
		var req itemView
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		item := model.Item{
			ID:           strings.TrimSpace(req.ID),
			Barcode:      strings.TrimSpace(req.Barcode),
			Title:        strings.TrimSpace(req.Title),
			ItemType:     strings.TrimSpace(req.ItemType),
			LocationCode: strings.TrimSpace(req.LocationCode),
			Status:       model.ItemStatus(strings.TrimSpace(req.Status)),
			Description:  req.Description,
		}
		if err := h.svc.SaveItem(r.Context(), item); err != nil {
			h.writeError(w, r, err)
			return
		}
		saved, err := h.svc.GetItem(r.Context(), item.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toItemView(saved))
	default:
		w.Header().Set("Allow", "GET, PUT")
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type patronRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	PatronType string `json:"patron_type"`
}

func (h *CirculationHandler) Patron(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPut) {
		return
	}
	var req patronRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	user := model.User{
		ID:         strings.TrimSpace(req.ID),
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		PatronType: strings.TrimSpace(req.PatronType),
	}
	if err := h.svc.SaveUser(r.Context(), user); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, req)
}

func (h *CirculationHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	itemID := strings.TrimSpace(q.Get("item_id"))
	if itemID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	start, err := model.ParseDate(q.Get("start"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end, err := model.ParseDate(q.Get("end"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}
	out, err := h.svc.Availability(r.Context(), itemID, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view := availabilityView{
		ItemID:      itemID,
		Available:   out.Available(),
		Requested:   *toRangeView(out.Requested),
		Suggestions: toSuggestionViews(out.Suggestions),
	}
	if out.Contained != nil {
		view.Contained = toRangeView(*out.Contained)
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *CirculationHandler) List(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	f := storage.ReservationFilter{
		ItemID: strings.TrimSpace(q.Get("item_id")),
		UserID: strings.TrimSpace(q.Get("user_id")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := model.ParseReservationStatus(strings.TrimSpace(part))
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := strings.TrimSpace(q.Get("item_status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := model.ParseItemStatus(strings.TrimSpace(part))
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			f.ItemStatuses = append(f.ItemStatuses, st)
		}
	}
	var err error
	if f.Overdue, err = boolParam(q.Get("overdue")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "overdue: "+err.Error())
		return
	}
	if f.ItemOverdue, err = boolParam(q.Get("item_overdue")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "item_overdue: "+err.Error())
		return
	}
	if f.StartFrom, err = optionalDate(q.Get("start_from")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "start_from: "+err.Error())
		return
	}
	if f.StartTo, err = optionalDate(q.Get("start_to")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "start_to: "+err.Error())
		return
	}
	if f.Limit, err = limitParam(q.Get("limit")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rs, err := h.svc.ListReservations(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reservationsResponse{Reservations: toReservationViews(rs)})
}

// DeskList serves the circulation desk's named work lists.
func (h *CirculationHandler) DeskList(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("name"))
	if name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	start, err := optionalDate(q.Get("start"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end, err := optionalDate(q.Get("end"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}
	limit, err := limitParam(q.Get("limit"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rs, err := h.svc.DeskList(r.Context(), name, start, end, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reservationsResponse{Reservations: toReservationViews(rs)})
}

func boolParam(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func optionalDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return model.ParseDate(raw)
}

func limitParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}

func (h *CirculationHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *circulation.ValidationError
	switch {
	case errors.As(err, &ve):
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, toValidationView(ve))
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, circulation.ErrUnknownList):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, circulation.ErrOverlap), errors.Is(err, storage.ErrOverlapConstraint):
		h.logger.Error("reservation overlap rejected", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusConflict, "conflicting reservation, retry the request")
	default:
		h.logger.Error("circulation request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

