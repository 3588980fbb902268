package auditlog

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	value := []byte(`{"kind":"canceled","reservation_id":"r1","item_id":"i1","user_id":"u1","occurred_at":"2024-03-04T10:00:00Z","reason":"item lost","start":"2024-03-04","end":"2024-03-10"}`)
	e, err := Decode("evt-1", "", value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.EventType != "circulation.canceled.v1" {
		t.Fatalf("expected type from kind, got %q", e.EventType)
	}
	if e.ReservationID != "r1" || e.Reason != "item lost" || e.End != "2024-03-10" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if !e.OccurredAt.Equal(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", e.OccurredAt)
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	cases := map[string]struct {
		id    string
		value string
	}{
		"not json":   {"evt", `nope`},
		"no kind":    {"evt", `{"item_id":"i1"}`},
		"no item":    {"evt", `{"kind":"lost"}`},
		"no eventid": {"", `{"kind":"lost","item_id":"i1"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(tc.id, "", []byte(tc.value)); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestDefaultTopics(t *testing.T) {
	topics := DefaultTopics()
	if len(topics) != len(Kinds) {
		t.Fatalf("expected %d topics, got %d", len(Kinds), len(topics))
	}
	if topics[0] != "circulation.created_loan.v1" {
		t.Fatalf("unexpected first topic %q", topics[0])
	}
}

func TestBuildListQuery(t *testing.T) {
	query, args, err := buildListQuery(Filter{ItemID: "i1", Kind: "lost", Limit: 10})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{`FROM "audit_entries"`, `"item_id" = $1`, `"kind" = $2`, `LIMIT $3`, `ORDER BY "occurred_at" DESC`} {
		if !strings.Contains(query, want) {
			t.Fatalf("query %q missing %q", query, want)
		}
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %v", args)
	}
}
