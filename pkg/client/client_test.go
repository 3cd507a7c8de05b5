package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// listServer is a minimal in-memory item API for exercising the client.
type listServer struct {
	mu    sync.Mutex
	items []Item
	next  int
	fail  bool
}

func (s *listServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(s.items)
		case http.MethodPost:
			if s.fail {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"code": "STORAGE_FAILURE", "error": "boom"})
				return
			}
			var body struct {
				Text       string `json:"text"`
				Visibility string `json:"visibility"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			s.next++
			item := Item{
				ID:         fmt.Sprintf("srv-%d", s.next),
				Text:       body.Text,
				Visibility: body.Visibility,
				GroupID:    "g1",
				CreatedBy:  "u1",
				CreatedAt:  time.Now(),
			}
			s.items = append(s.items, item)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(item)
		}
	})
	mux.HandleFunc("/api/items/reorder", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "STORAGE_FAILURE", "error": "boom"})
			return
		}
		var body struct {
			Updates []struct {
				ID    string `json:"id"`
				Order int    `json:"order"`
			} `json:"updates"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, update := range body.Updates {
			for i := range s.items {
				if s.items[i].ID == update.ID {
					s.items[i].Order = update.Order
				}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	mux.HandleFunc("/api/items/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := strings.TrimPrefix(r.URL.Path, "/api/items/")
		switch r.Method {
		case http.MethodPatch:
			var patch Patch
			_ = json.NewDecoder(r.Body).Decode(&patch)
			for i := range s.items {
				if s.items[i].ID != id {
					continue
				}
				if patch.Text != nil {
					s.items[i].Text = *patch.Text
				}
				if patch.Completed != nil {
					s.items[i].Completed = *patch.Completed
				}
				if patch.Visibility != nil {
					s.items[i].Visibility = *patch.Visibility
				}
				if patch.Order != nil {
					s.items[i].Order = *patch.Order
				}
				_ = json.NewEncoder(w).Encode(s.items[i])
				return
			}
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "NOT_FOUND", "error": "Item not found"})
		case http.MethodDelete:
			for i := range s.items {
				if s.items[i].ID == id {
					s.items = append(s.items[:i], s.items[i+1:]...)
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "NOT_FOUND", "error": "Item not found"})
		}
	})
	return mux
}

func newTestPair(t *testing.T) (*listServer, *Client) {
	t.Helper()
	backend := &listServer{}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	return backend, New(srv.URL, "test-token")
}

func TestRefreshReplacesCache(t *testing.T) {
	backend, c := newTestPair(t)
	backend.items = []Item{
		{ID: "i1", Text: "Milk", Visibility: VisibilityShared, Order: 1},
		{ID: "i2", Text: "Eggs", Visibility: VisibilityShared, Order: 0},
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	items := c.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "i2" || items[1].ID != "i1" {
		t.Fatalf("expected ascending order, got %+v", items)
	}
	if c.State() != StateReconciled {
		t.Fatalf("state = %v, want reconciled", c.State())
	}
}

func TestAddSwapsTempIDForServerID(t *testing.T) {
	_, c := newTestPair(t)

	created, err := c.Add(context.Background(), "Milk", VisibilityShared)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if strings.HasPrefix(created.ID, "tmp_") {
		t.Fatalf("expected server id after reconcile, got %q", created.ID)
	}
	items := c.Items()
	if len(items) != 1 || items[0].ID != created.ID {
		t.Fatalf("expected cache to hold server copy, got %+v", items)
	}
	if c.State() != StateReconciled {
		t.Fatalf("state = %v, want reconciled", c.State())
	}
}

func TestAddFailureInvalidatesAndRefetches(t *testing.T) {
	backend, c := newTestPair(t)
	backend.items = []Item{{ID: "i1", Text: "Milk", Visibility: VisibilityShared}}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	backend.mu.Lock()
	backend.fail = true
	backend.mu.Unlock()

	_, err := c.Add(context.Background(), "Eggs", VisibilityShared)
	if err == nil {
		t.Fatal("expected error from failed create")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "STORAGE_FAILURE" {
		t.Fatalf("expected STORAGE_FAILURE, got %v", err)
	}

	// Optimistic insert must have been rolled back by the refetch.
	items := c.Items()
	if len(items) != 1 || items[0].ID != "i1" {
		t.Fatalf("expected cache restored to server state, got %+v", items)
	}
}

func TestUpdateAppliesOptimistically(t *testing.T) {
	backend, c := newTestPair(t)
	backend.items = []Item{{ID: "i1", Text: "Milk", Visibility: VisibilityShared}}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	completed := true
	updated, err := c.Update(context.Background(), "i1", Patch{Completed: &completed})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !updated.Completed {
		t.Fatal("expected server copy to be completed")
	}
	if !c.Items()[0].Completed {
		t.Fatal("expected cache to reflect the update")
	}
}

func TestDeleteRemovesFromCache(t *testing.T) {
	backend, c := newTestPair(t)
	backend.items = []Item{
		{ID: "i1", Text: "Milk", Visibility: VisibilityShared},
		{ID: "i2", Text: "Eggs", Visibility: VisibilityShared, Order: 1},
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := c.Delete(context.Background(), "i1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	items := c.Items()
	if len(items) != 1 || items[0].ID != "i2" {
		t.Fatalf("expected only i2 left, got %+v", items)
	}
}

func TestReorderTouchesOnlyOnePartition(t *testing.T) {
	backend, c := newTestPair(t)
	backend.items = []Item{
		{ID: "s1", Text: "Milk", Visibility: VisibilityShared, Order: 0},
		{ID: "s2", Text: "Eggs", Visibility: VisibilityShared, Order: 1},
		{ID: "p1", Text: "Gift", Visibility: VisibilityPrivate, Order: 0},
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := c.Reorder(context.Background(), VisibilityShared, []string{"s2", "s1"}); err != nil {
		t.Fatalf("Reorder() error = %v", err)
	}

	for _, item := range c.Items() {
		switch item.ID {
		case "s2":
			if item.Order != 0 {
				t.Fatalf("s2 order = %d, want 0", item.Order)
			}
		case "s1":
			if item.Order != 1 {
				t.Fatalf("s1 order = %d, want 1", item.Order)
			}
		case "p1":
			if item.Order != 0 {
				t.Fatalf("private partition must be untouched, p1 order = %d", item.Order)
			}
		}
	}

	backend.mu.Lock()
	var serverPrivate Item
	for _, item := range backend.items {
		if item.ID == "p1" {
			serverPrivate = item
		}
	}
	backend.mu.Unlock()
	if serverPrivate.Order != 0 {
		t.Fatalf("server private item reordered: %+v", serverPrivate)
	}
}

func TestReorderFailureRestoresServerOrder(t *testing.T) {
	backend, c := newTestPair(t)
	backend.items = []Item{
		{ID: "s1", Text: "Milk", Visibility: VisibilityShared, Order: 0},
		{ID: "s2", Text: "Eggs", Visibility: VisibilityShared, Order: 1},
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	backend.mu.Lock()
	backend.fail = true
	backend.mu.Unlock()

	if err := c.Reorder(context.Background(), VisibilityShared, []string{"s2", "s1"}); err == nil {
		t.Fatal("expected reorder failure")
	}
	items := c.Items()
	if items[0].ID != "s1" || items[1].ID != "s2" {
		t.Fatalf("expected server order restored, got %+v", items)
	}
}
