package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/policy"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/storage"
)

var now = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func date(days int) string {
	return now.AddDate(0, 0, days).Format(model.DateLayout)
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveItem(ctx, model.Item{ID: "item-1", Barcode: "B1", Status: model.ItemOnShelf}); err != nil {
		t.Fatalf("save item: %v", err)
	}
	for _, id := range []string{"u1", "u2"} {
		if err := store.SaveUser(ctx, model.User{ID: id}); err != nil {
			t.Fatalf("save user: %v", err)
		}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := 0
	svc := circulation.NewService(store, policy.NewStaticProvider(28), logger,
		circulation.WithClock(func() time.Time { return now }),
		circulation.WithIDGenerator(func() string { n++; return fmt.Sprintf("r%d", n) }),
	)
	mux := http.NewServeMux()
	NewCirculationHandler(svc, logger).Register(mux)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestLoanAndList(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, http.MethodPost, "/api/v1/loans", map[string]any{
		"user_id": "u1", "item_ids": []string{"item-1"}, "start": date(0), "end": date(7),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created reservationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created.Reservations) != 1 || created.Reservations[0].Status != "on_loan" || created.Reservations[0].End != date(7) {
		t.Fatalf("unexpected response: %+v", created)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/reservations?item_id=item-1&status=on_loan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed reservationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Reservations) != 1 {
		t.Fatalf("expected one reservation, got %+v", listed)
	}
}

func TestConflictIsUnprocessable(t *testing.T) {
	mux := newTestMux(t)
	do(t, mux, http.MethodPost, "/api/v1/loans", map[string]any{
		"user_id": "u1", "item_ids": []string{"item-1"}, "start": date(0), "end": date(7),
	})
	rec := do(t, mux, http.MethodPost, "/api/v1/requests", map[string]any{
		"user_id": "u2", "item_ids": []string{"item-1"}, "start": date(5), "end": date(10),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var body validationView
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Violations) != 1 || body.Violations[0].Check != circulation.CheckDateSuggestion {
		t.Fatalf("unexpected violations: %+v", body.Violations)
	}
	v := body.Violations[0]
	if v.Contained == nil || v.Contained.Start != date(8) {
		t.Fatalf("expected contained range from %s, got %+v", date(8), v.Contained)
	}
	if len(v.Suggestions) != 1 || v.Suggestions[0].Start != date(8) || v.Suggestions[0].End != "" {
		t.Fatalf("expected one open suggestion, got %+v", v.Suggestions)
	}
}

func TestDryRunDoesNotWrite(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, http.MethodPost, "/api/v1/loans", map[string]any{
		"user_id": "u1", "item_ids": []string{"item-1"}, "start": date(0), "end": date(7), "dry_run": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodGet, "/api/v1/items?id=item-1", nil)
	var item itemView
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.Status != "on_shelf" {
		t.Fatalf("dry run changed the item: %+v", item)
	}
}

func TestErrorStatuses(t *testing.T) {
	mux := newTestMux(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown item", http.MethodPost, "/api/v1/loans", map[string]any{"user_id": "u1", "item_ids": []string{"nope"}, "start": date(0), "end": date(1)}, http.StatusUnprocessableEntity},
		{"bad date", http.MethodPost, "/api/v1/loans", map[string]any{"user_id": "u1", "item_ids": []string{"item-1"}, "start": "tomorrow", "end": date(1)}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/returns", map[string]any{"items": []string{"item-1"}}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/v1/loans", nil, http.StatusMethodNotAllowed},
		{"return on shelf", http.MethodPost, "/api/v1/returns", map[string]any{"item_ids": []string{"item-1"}}, http.StatusUnprocessableEntity},
		{"bad status filter", http.MethodGet, "/api/v1/reservations?status=lost", nil, http.StatusBadRequest},
		{"cancel unknown", http.MethodPost, "/api/v1/reservations/cancel", map[string]any{"reservation_ids": []string{"x"}}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, mux, tc.method, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, http.MethodGet, "/api/v1/items/availability?item_id=item-1&start="+date(2)+"&end="+date(4), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view availabilityView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Available || view.Requested.Start != date(2) {
		t.Fatalf("unexpected availability: %+v", view)
	}
}

func TestItemLifecycleEndpoints(t *testing.T) {
	mux := newTestMux(t)
	steps := []struct {
		path string
		want string
	}{
		{"/api/v1/items/process", "in_process"},
		{"/api/v1/items/return-processed", "on_shelf"},
	}
	for _, s := range steps {
		rec := do(t, mux, http.MethodPost, s.path, map[string]any{"item_ids": []string{"item-1"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", s.path, rec.Code, rec.Body.String())
		}
		var out itemsResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(out.Items) != 1 || out.Items[0].Status != s.want {
			t.Fatalf("%s: unexpected items %+v", s.path, out.Items)
		}
	}

	rec := do(t, mux, http.MethodPost, "/api/v1/items/lose", map[string]any{"item_ids": []string{"item-1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("lose: expected 200, got %d", rec.Code)
	}
	rec = do(t, mux, http.MethodPost, "/api/v1/items/return-missing", map[string]any{"item_ids": []string{"item-1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("return missing: expected 200, got %d", rec.Code)
	}
}

func TestCatalogUpserts(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, http.MethodPut, "/api/v1/items", map[string]any{"id": "item-9", "barcode": "B9", "item_type": "dvd"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put item: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var item itemView
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.Status != "on_shelf" {
		t.Fatalf("expected default status on_shelf, got %q", item.Status)
	}

	rec = do(t, mux, http.MethodPut, "/api/v1/items", map[string]any{"id": "item-9", "status": "borrowed"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad status: expected 422, got %d", rec.Code)
	}

	rec = do(t, mux, http.MethodPut, "/api/v1/patrons", map[string]any{"id": "u9", "patron_type": "staff"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put patron: expected 200, got %d", rec.Code)
	}
	rec = do(t, mux, http.MethodPost, "/api/v1/loans", map[string]any{
		"user_id": "u9", "item_ids": []string{"item-9"}, "start": date(0), "end": date(3),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("loan for new patron: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodPut, "/api/v1/items", map[string]any{"id": "item-9", "status": "on_shelf"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status rewrite on loaned item: expected 422, got %d", rec.Code)
	}
	rec = do(t, mux, http.MethodPut, "/api/v1/items", map[string]any{"id": "item-9", "title": "Renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("metadata update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.Status != "on_loan" || item.Title != "Renamed" {
		t.Fatalf("metadata update must keep the status, got %+v", item)
	}
}

func TestDeskListEndpoint(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, http.MethodPost, "/api/v1/requests", map[string]any{
		"user_id": "u1", "item_ids": []string{"item-1"}, "start": date(3), "end": date(5),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/lists?name=on_shelf_pending_requests", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp reservationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Reservations) != 1 || resp.Reservations[0].ItemID != "item-1" {
		t.Fatalf("expected the pending request, got %+v", resp.Reservations)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/reservations?item_status=on_loan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered list: expected 200, got %d", rec.Code)
	}
	resp = reservationsResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Reservations) != 0 {
		t.Fatalf("item-1 is on shelf, got %+v", resp.Reservations)
	}

	for path, want := range map[string]int{
		"/api/v1/lists?name=everything":                   http.StatusBadRequest,
		"/api/v1/lists":                                   http.StatusBadRequest,
		"/api/v1/lists?name=latest_loans&start=yesterday": http.StatusBadRequest,
		"/api/v1/reservations?overdue=maybe":              http.StatusBadRequest,
		"/api/v1/reservations?item_status=borrowed":       http.StatusBadRequest,
	} {
		if rec := do(t, mux, http.MethodGet, path, nil); rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}
}
