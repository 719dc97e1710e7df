package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/plenumhq/plenum/internal/keys"
)

func newTestEngine(t *testing.T, handler http.HandlerFunc) *HTTPEngine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPEngine(srv.Client(), srv.URL, srv.URL, zerolog.Nop())
}

func TestEngineGet(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	engine := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Write([]byte(`{"title": "t", "meta_position": 4}`))
	})

	fields, err := engine.Get(context.Background(), keys.MustFQID("topic/1"), "title")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gotPath != "/internal/datastore/reader/get" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["fqid"] != "topic/1" {
		t.Errorf("fqid = %v", gotBody["fqid"])
	}
	mapped, _ := gotBody["mapped_fields"].([]any)
	if len(mapped) != 1 || mapped[0] != "title" {
		t.Errorf("mapped_fields = %v", gotBody["mapped_fields"])
	}
	if fields["title"] != "t" {
		t.Errorf("fields = %v", fields)
	}
}

func TestEngineGetManyConvertsIDs(t *testing.T) {
	engine := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"group": {"7": {"meeting_id": 1}, "8": {"meeting_id": 1}}}`))
	})

	result, err := engine.GetMany(context.Background(), GetManyRequest{
		Collection: "group", IDs: []int{7, 8}, MappedFields: []string{"meeting_id"},
	})
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	groups := result["group"]
	if len(groups) != 2 {
		t.Fatalf("got %d groups", len(groups))
	}
	if _, ok := groups[7]; !ok {
		t.Error("id 7 missing after string key conversion")
	}
}

func TestEngineRetriesTransientFailures(t *testing.T) {
	attempts := 0
	engine := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"name": "n"}`))
	})

	if _, err := engine.Get(context.Background(), keys.MustFQID("meeting/1")); err != nil {
		t.Fatalf("Get should succeed after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestEngineWriteIsNotRetried(t *testing.T) {
	attempts := 0
	engine := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := engine.Write(context.Background(), WriteRequest{UserID: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestEngineErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{
			name: "missing model",
			body: `{"error": {"type": 1, "msg": "topic/404 does not exist"}}`,
			want: ErrNotFound,
		},
		{
			name: "locked fields",
			body: `{"error": {"type": 3, "msg": "topic/1 was modified"}}`,
			want: ErrLocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tt.body))
			})
			_, err := engine.Get(context.Background(), keys.MustFQID("topic/1"))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEngineBadRequestIsNotRetried(t *testing.T) {
	attempts := 0
	engine := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"type": 1, "msg": "gone"}}`))
	})

	if _, err := engine.Get(context.Background(), keys.MustFQID("topic/1")); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestEngineReserveIDs(t *testing.T) {
	engine := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/datastore/writer/reserve_ids" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"ids": [42, 43]}`))
	})

	ids, err := engine.ReserveIDs(context.Background(), "topic", 2)
	if err != nil {
		t.Fatalf("ReserveIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 42 || ids[1] != 43 {
		t.Errorf("ids = %v", ids)
	}
}

func TestEngineWriteBody(t *testing.T) {
	var got map[string]any
	engine := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{}`))
	})

	request := WriteRequest{
		Events: []Event{
			{Type: EventCreate, FQID: keys.MustFQID("topic/42"), Fields: map[string]any{"title": "t"}},
			{Type: EventDelete, FQID: keys.MustFQID("topic/7")},
		},
		Information:  map[string][]string{"topic/42": {"Object created"}},
		UserID:       5,
		LockedFields: map[string]int{"meeting/1": 4},
	}
	if err := engine.Write(context.Background(), request); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	events, _ := got["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("events = %v", got["events"])
	}
	create := events[0].(map[string]any)
	if create["fqid"] != "topic/42" {
		t.Errorf("create fqid = %v", create["fqid"])
	}
	del := events[1].(map[string]any)
	if _, ok := del["fields"]; ok {
		t.Error("delete event must not carry a fields key")
	}
	if got["user_id"] != float64(5) {
		t.Errorf("user_id = %v", got["user_id"])
	}
	locked, _ := got["locked_fields"].(map[string]any)
	if locked["meeting/1"] != float64(4) {
		t.Errorf("locked_fields = %v", got["locked_fields"])
	}
}
