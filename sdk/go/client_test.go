package roastlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientRoundTrip(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v0/schedule":
			var req RoastRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(ScheduledRoast{ID: "r-1", CoffeeName: req.CoffeeName, Priority: "medium"})
		case r.Method == http.MethodGet && r.URL.Path == "/v0/schedule/upcoming":
			_ = json.NewEncoder(w).Encode([]ScheduledRoast{{ID: "r-1"}})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"scheduled roast nope not found"}}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	ctx := context.Background()
	created, err := c.CreateRoast(ctx, RoastRequest{CoffeeName: "House", GreenCoffeeName: "Brazil", ScheduledDate: "2025-01-10", GreenWeight: 1000, TargetRoastLevel: "medium", EquipmentID: "probat-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "r-1" || created.CoffeeName != "House" || gotAuth != "Bearer tok" {
		t.Fatalf("unexpected create: %+v auth=%q", created, gotAuth)
	}

	now := time.Date(2025, 1, 8, 9, 30, 0, 0, time.UTC)
	items, err := c.Upcoming(ctx, now)
	if err != nil || len(items) != 1 {
		t.Fatalf("upcoming: %v %v", items, err)
	}
	if gotQuery != "now=2025-01-08T09%3A30%3A00Z" {
		t.Fatalf("unexpected query %q", gotQuery)
	}

	if err := c.DeleteRoast(ctx, "r-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotPath != "/v0/schedule/r-1" {
		t.Fatalf("unexpected delete path %q", gotPath)
	}

	_, err = c.GetRoast(ctx, "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found APIError, got %v", err)
	}
}
