package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/librarycirc/libs/httpx"
	"github.com/md-rashed-zaman/librarycirc/services/audit-service/internal/auditlog"
)

type Lister interface {
	List(ctx context.Context, f auditlog.Filter) ([]auditlog.Entry, error)
}

type AuditHandler struct {
	entries Lister
	logger  *slog.Logger
}

func NewAuditHandler(entries Lister, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{entries: entries, logger: logger}
}

type entryView struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Kind          string          `json:"kind"`
	ReservationID string          `json:"reservation_id,omitempty"`
	ItemID        string          `json:"item_id"`
	UserID        string          `json:"user_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Start         string          `json:"start,omitempty"`
	End           string          `json:"end,omitempty"`
	OccurredAt    string          `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type listResponse struct {
	Entries []entryView `json:"entries"`
}

// List serves GET /api/v1/audit?item_id=&user_id=&reservation_id=&kind=&since=&limit=.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	f := auditlog.Filter{
		ItemID:        strings.TrimSpace(q.Get("item_id")),
		UserID:        strings.TrimSpace(q.Get("user_id")),
		ReservationID: strings.TrimSpace(q.Get("reservation_id")),
		Kind:          strings.TrimSpace(q.Get("kind")),
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid since")
			return
		}
		f.Since = since
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	entries, err := h.entries.List(r.Context(), f)
	if err != nil {
		h.logger.Error("audit list failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "db error")
		return
	}
	resp := listResponse{Entries: make([]entryView, 0, len(entries))}
	for _, e := range entries {
		v := entryView{
			EventID:       e.EventID,
			EventType:     e.EventType,
			Kind:          e.Kind,
			ReservationID: e.ReservationID,
			ItemID:        e.ItemID,
			UserID:        e.UserID,
			Reason:        e.Reason,
			Start:         e.Start,
			End:           e.End,
			OccurredAt:    e.OccurredAt.UTC().Format(time.RFC3339),
		}
		if json.Valid(e.Payload) {
			v.Payload = e.Payload
		}
		resp.Entries = append(resp.Entries, v)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
