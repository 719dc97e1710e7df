package plenum_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/plenumhq/plenum"
	"github.com/plenumhq/plenum/internal/testutil"
)

func TestHandle(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/1", map[string]any{"name": "assembly"})

	h := plenum.NewHandler(ds, zerolog.Nop())
	body := []byte(`[{"action": "topic.create", "data": [{"meeting_id": 1, "title": "budget"}]}]`)

	result, err := h.Handle(context.Background(), body, 0)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(result.Actions) != 1 || result.Actions[0] != "topic.create" {
		t.Errorf("result.Actions = %v, want [topic.create]", result.Actions)
	}
	if len(result.Written) == 0 {
		t.Fatal("expected written events")
	}
	if result.Written[0].FQID.String() != "topic/1" || result.Written[0].Type != plenum.EventCreate {
		t.Errorf("first written event = %v %v, want topic/1 create", result.Written[0].FQID, result.Written[0].Type)
	}

	topic := ds.Instance("topic/1")
	if topic == nil {
		t.Fatal("topic/1 was not created")
	}
	if topic["title"] != "budget" {
		t.Errorf("topic/1 title = %v, want budget", topic["title"])
	}
}

func TestHandleInvalidBody(t *testing.T) {
	h := plenum.NewHandler(testutil.NewMemory(), zerolog.Nop())

	if _, err := h.Handle(context.Background(), []byte("not json"), 0); err == nil {
		t.Error("expected an error for a malformed body")
	}
}
