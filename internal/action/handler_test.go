package action_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/testutil"
)

// stubHasher keeps password handling deterministic.
type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (stubHasher) IsEqual(hash, password string) (bool, error) {
	return hash == "hashed:"+password, nil
}

func newHandler(ds *testutil.Memory) *action.Handler {
	return &action.Handler{Engine: ds, Hash: stubHasher{}, Log: zerolog.Nop()}
}

func handle(t *testing.T, ds *testutil.Memory, body string) *action.Result {
	t.Helper()
	result, err := newHandler(ds).Handle(context.Background(), []byte(body), 1)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return result
}

func handleErr(t *testing.T, ds *testutil.Memory, body string) error {
	t.Helper()
	_, err := newHandler(ds).Handle(context.Background(), []byte(body), 1)
	if err == nil {
		t.Fatal("Handle() succeeded, want an error")
	}
	return err
}

func singleWrite(t *testing.T, ds *testutil.Memory) datastore.WriteRequest {
	t.Helper()
	writes := ds.Writes()
	if len(writes) != 1 {
		t.Fatalf("got %d write requests, want 1", len(writes))
	}
	return writes[0]
}

type wantEvent struct {
	kind datastore.EventType
	fqid string
}

func checkEvents(t *testing.T, events []datastore.Event, want []wantEvent) {
	t.Helper()
	if len(events) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(events), eventSummary(events), len(want))
	}
	for i, w := range want {
		if events[i].Type != w.kind || events[i].FQID.String() != w.fqid {
			t.Errorf("event %d = %s %s, want %s %s", i, events[i].Type, events[i].FQID, w.kind, w.fqid)
		}
	}
}

func eventSummary(events []datastore.Event) []string {
	out := make([]string, len(events))
	for i, event := range events {
		out[i] = string(event.Type) + " " + event.FQID.String()
	}
	return out
}

func asAnyInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func checkInt(t *testing.T, fields map[string]any, name string, want int) {
	t.Helper()
	if got, ok := asAnyInt(fields[name]); !ok || got != want {
		t.Errorf("field %s = %v, want %d", name, fields[name], want)
	}
}

// checkIntList compares an id list field. Ids created in the pipeline are
// ints, ids from request payloads decode as float64, so both count.
func checkIntList(t *testing.T, fields map[string]any, name string, want ...int) {
	t.Helper()
	items, ok := fields[name].([]any)
	if !ok {
		t.Fatalf("field %s = %v (%T), want an id list", name, fields[name], fields[name])
	}
	if len(items) != len(want) {
		t.Fatalf("field %s = %v, want %v", name, fields[name], want)
	}
	for i, item := range items {
		if got, ok := asAnyInt(item); !ok || got != want[i] {
			t.Errorf("field %s[%d] = %v, want %d", name, i, item, want[i])
		}
	}
}

func TestAgendaItemCreateResolvesRelations(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/7816466305", map[string]any{"name": "assembly"})
	ds.Seed("topic/1312354708", map[string]any{"title": "budget", "meeting_id": 7816466305})

	result := handle(t, ds, `[{"action": "agenda_item.create", "data": [{"content_object_id": "topic/1312354708"}]}]`)

	write := singleWrite(t, ds)
	checkEvents(t, write.Events, []wantEvent{
		{datastore.EventCreate, "agenda_item/1"},
		{datastore.EventUpdate, "topic/1312354708"},
		{datastore.EventUpdate, "meeting/7816466305"},
	})

	created := write.Events[0].Fields
	if len(created) != 4 {
		t.Errorf("create fields = %v, want content_object_id, meeting_id, type and weight", created)
	}
	if created["content_object_id"] != "topic/1312354708" {
		t.Errorf("content_object_id = %v, want topic/1312354708", created["content_object_id"])
	}
	checkInt(t, created, "meeting_id", 7816466305)
	checkInt(t, created, "type", 1)
	checkInt(t, created, "weight", 0)
	if _, ok := created["id"]; ok {
		t.Error("create event carries an id field, the id belongs in the fqid")
	}
	checkInt(t, write.Events[1].Fields, "agenda_item_id", 1)
	checkIntList(t, write.Events[2].Fields, "agenda_item_ids", 1)

	wantLocked := map[string]int{"topic/1312354708": 1, "meeting/7816466305": 1}
	if !reflect.DeepEqual(write.LockedFields, wantLocked) {
		t.Errorf("locked fields = %v, want %v", write.LockedFields, wantLocked)
	}
	if write.UserID != 1 {
		t.Errorf("write user id = %d, want 1", write.UserID)
	}
	wantInfo := map[string][]string{
		"agenda_item/1":      {"Object created"},
		"topic/1312354708":   {"Object attached to agenda item"},
		"meeting/7816466305": {"Object attached to agenda item"},
	}
	if !reflect.DeepEqual(write.Information, wantInfo) {
		t.Errorf("information = %v, want %v", write.Information, wantInfo)
	}

	if !reflect.DeepEqual(result.Actions, []string{"agenda_item.create"}) {
		t.Errorf("result actions = %v, want [agenda_item.create]", result.Actions)
	}
	if len(result.Written) != 3 {
		t.Fatalf("result written = %v, want 3 events", result.Written)
	}
	if result.Written[0].FQID.String() != "agenda_item/1" || result.Written[0].Type != datastore.EventCreate {
		t.Errorf("result written[0] = %v, want the created item", result.Written[0])
	}

	item := ds.Instance("agenda_item/1")
	checkInt(t, item, "meeting_id", 7816466305)
	checkInt(t, ds.Instance("topic/1312354708"), "agenda_item_id", 1)
}

func TestAgendaItemUpdateScalarFields(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("agenda_item/3393211712", map[string]any{"meeting_id": 9079236097})

	handle(t, ds, `[{"action": "agenda_item.update", "data": [{"id": 3393211712, "duration": 3600}]}]`)

	write := singleWrite(t, ds)
	checkEvents(t, write.Events, []wantEvent{{datastore.EventUpdate, "agenda_item/3393211712"}})
	fields := write.Events[0].Fields
	if len(fields) != 1 {
		t.Errorf("update fields = %v, want only duration", fields)
	}
	checkInt(t, fields, "duration", 3600)
	// No relation field changed, so nothing was read and nothing is locked.
	if len(write.LockedFields) != 0 {
		t.Errorf("locked fields = %v, want none", write.LockedFields)
	}
	checkInt(t, ds.Instance("agenda_item/3393211712"), "duration", 3600)
}

func TestAgendaItemDeleteClearsBothSides(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/9079236097", map[string]any{"agenda_item_ids": []int{3393211712}})
	ds.Seed("topic/5756367535", map[string]any{"agenda_item_id": 3393211712})
	ds.Seed("agenda_item/3393211712", map[string]any{
		"meeting_id":        9079236097,
		"content_object_id": "topic/5756367535",
	})

	handle(t, ds, `[{"action": "agenda_item.delete", "data": [{"id": 3393211712}]}]`)

	write := singleWrite(t, ds)
	checkEvents(t, write.Events, []wantEvent{
		{datastore.EventDelete, "agenda_item/3393211712"},
		{datastore.EventUpdate, "topic/5756367535"},
		{datastore.EventUpdate, "meeting/9079236097"},
	})
	if value, ok := write.Events[1].Fields["agenda_item_id"]; !ok || value != nil {
		t.Errorf("topic update = %v, want agenda_item_id null", write.Events[1].Fields)
	}
	checkIntList(t, write.Events[2].Fields, "agenda_item_ids")

	if !ds.IsDeleted("agenda_item/3393211712") {
		t.Error("the agenda item is not deleted")
	}
	if _, ok := ds.Instance("topic/5756367535")["agenda_item_id"]; ok {
		t.Error("the topic still references the deleted agenda item")
	}
}

func TestBatchCommandsShareOverlay(t *testing.T) {
	ds := testutil.NewMemory()

	result := handle(t, ds, `[
		{"action": "committee.create", "data": [{"name": "finance"}]},
		{"action": "meeting.create", "data": [{"name": "plenary", "committee_id": 1}]}
	]`)

	write := singleWrite(t, ds)
	checkEvents(t, write.Events, []wantEvent{
		{datastore.EventCreate, "committee/1"},
		{datastore.EventCreate, "meeting/1"},
		{datastore.EventUpdate, "committee/1"},
	})
	checkIntList(t, write.Events[2].Fields, "meeting_ids", 1)
	// The committee only exists in the batch overlay, so resolving the
	// meeting's committee_id must not read (or lock) the datastore.
	if len(write.LockedFields) != 0 {
		t.Errorf("locked fields = %v, want none", write.LockedFields)
	}
	if !reflect.DeepEqual(result.Actions, []string{"committee.create", "meeting.create"}) {
		t.Errorf("result actions = %v", result.Actions)
	}
	checkIntList(t, ds.Instance("committee/1"), "meeting_ids", 1)
	checkInt(t, ds.Instance("meeting/1"), "committee_id", 1)
}

func TestBatchFailsAtomically(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/1", map[string]any{"name": "assembly"})

	err := handleErr(t, ds, `[
		{"action": "topic.create", "data": [{"meeting_id": 1, "title": "budget"}]},
		{"action": "nope.delete", "data": [{"id": 1}]}
	]`)
	if got, want := err.Error(), "Action nope.delete does not exist."; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
	if len(ds.Writes()) != 0 {
		t.Errorf("got %d writes, a failed batch must not write", len(ds.Writes()))
	}
	if ds.Instance("topic/1") != nil {
		t.Error("the topic of the failed batch was created")
	}
}

func TestNumberingEmptyAgendaWritesNothing(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/1", map[string]any{"name": "assembly"})

	result := handle(t, ds, `[{"action": "agenda_item.numbering", "data": [{"meeting_id": 1}]}]`)

	if len(ds.Writes()) != 0 {
		t.Errorf("got %d writes, want none for an empty agenda", len(ds.Writes()))
	}
	if !reflect.DeepEqual(result.Actions, []string{"agenda_item.numbering"}) {
		t.Errorf("result actions = %v", result.Actions)
	}
	if len(result.Written) != 0 {
		t.Errorf("result written = %v, want none", result.Written)
	}
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string // exact message, empty when only the kind matters
		schema bool
	}{
		{
			name:   "invalid json",
			body:   `not json`,
			want:   "The request body must be valid JSON.",
			schema: true,
		},
		{
			name:   "not a list",
			body:   `{"action": "topic.create", "data": []}`,
			schema: true,
		},
		{
			name:   "missing data",
			body:   `[{"action": "topic.create"}]`,
			schema: true,
		},
		{
			name:   "data not a list",
			body:   `[{"action": "topic.create", "data": {"title": "x"}}]`,
			schema: true,
		},
		{
			name:   "missing required field",
			body:   `[{"action": "topic.create", "data": [{"meeting_id": 1}]}]`,
			schema: true,
		},
		{
			name:   "undeclared field",
			body:   `[{"action": "topic.create", "data": [{"meeting_id": 1, "title": "x", "nope": true}]}]`,
			schema: true,
		},
		{
			name: "unknown action",
			body: `[{"action": "nope.create", "data": [{}]}]`,
			want: "Action nope.create does not exist.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := testutil.NewMemory()
			ds.Seed("meeting/1", map[string]any{"name": "assembly"})
			err := handleErr(t, ds, tt.body)
			if tt.want != "" && err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err, tt.want)
			}
			if tt.schema {
				var schemaErr action.SchemaError
				if !errors.As(err, &schemaErr) {
					t.Errorf("error = %T %v, want a schema error", err, err)
				}
			}
			if len(ds.Writes()) != 0 {
				t.Errorf("a rejected request wrote %d times", len(ds.Writes()))
			}
		})
	}
}
