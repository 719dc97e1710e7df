package action_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/models"
	"github.com/plenumhq/plenum/internal/testutil"
)

func TestDeleteRefusedByProtectedRelation(t *testing.T) {
	tests := []struct {
		name string
		seed map[string]map[string]any
		body string
		want string
	}{
		{
			name: "committee with meetings",
			seed: map[string]map[string]any{
				"committee/1": {"name": "finance", "meeting_ids": []int{2}},
				"meeting/2":   {"name": "plenary", "committee_id": 1},
			},
			body: `[{"action": "committee.delete", "data": [{"id": 1}]}]`,
			want: "You can not delete committee with id 1, because you have to delete the related meeting first.",
		},
		{
			name: "state with motions",
			seed: map[string]map[string]any{
				"motion_state/1": {"name": "submitted", "workflow_id": 1, "motion_ids": []int{5}},
				"motion/5":       {"title": "m", "meeting_id": 1, "state_id": 1},
			},
			body: `[{"action": "motion_state.delete", "data": [{"id": 1}]}]`,
			want: "You can not delete motion_state with id 1, because you have to delete the related motion first.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := testutil.NewMemory()
			for fqid, fields := range tt.seed {
				ds.Seed(fqid, fields)
			}
			err := handleErr(t, ds, tt.body)
			if err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err, tt.want)
			}
			if len(ds.Writes()) != 0 {
				t.Errorf("a refused delete wrote %d times", len(ds.Writes()))
			}
		})
	}
}

func TestTopicDeleteCascadesAgendaItem(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/1", map[string]any{
		"name":            "assembly",
		"topic_ids":       []int{7},
		"agenda_item_ids": []int{4},
	})
	ds.Seed("topic/7", map[string]any{"title": "budget", "meeting_id": 1, "agenda_item_id": 4})
	ds.Seed("agenda_item/4", map[string]any{"meeting_id": 1, "content_object_id": "topic/7"})

	handle(t, ds, `[{"action": "topic.delete", "data": [{"id": 7}]}]`)

	write := singleWrite(t, ds)
	checkEvents(t, write.Events, []wantEvent{
		{datastore.EventDelete, "agenda_item/4"},
		// The cascaded item clears its side of the topic relation before
		// the topic's own delete; the update stays in the stream.
		{datastore.EventUpdate, "topic/7"},
		{datastore.EventUpdate, "meeting/1"},
		{datastore.EventDelete, "topic/7"},
		{datastore.EventUpdate, "meeting/1"},
	})
	if value, ok := write.Events[1].Fields["agenda_item_id"]; !ok || value != nil {
		t.Errorf("topic update = %v, want agenda_item_id null", write.Events[1].Fields)
	}
	checkIntList(t, write.Events[2].Fields, "agenda_item_ids")
	checkIntList(t, write.Events[4].Fields, "topic_ids")

	if !ds.IsDeleted("topic/7") {
		t.Error("the topic is not deleted")
	}
	if !ds.IsDeleted("agenda_item/4") {
		t.Error("the agenda item did not cascade")
	}
	checkIntList(t, ds.Instance("meeting/1"), "topic_ids")
	checkIntList(t, ds.Instance("meeting/1"), "agenda_item_ids")
}

func TestMeetingDeleteCascadesTree(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/1", map[string]any{
		"name":            "assembly",
		"topic_ids":       []int{7},
		"agenda_item_ids": []int{4},
	})
	ds.Seed("topic/7", map[string]any{"title": "budget", "meeting_id": 1, "agenda_item_id": 4})
	ds.Seed("agenda_item/4", map[string]any{"meeting_id": 1, "content_object_id": "topic/7"})

	handle(t, ds, `[{"action": "meeting.delete", "data": [{"id": 1}]}]`)

	write := singleWrite(t, ds)
	// The topic cascade deletes the agenda item first, so the item's own
	// cascade element collapses to its meeting update.
	checkEvents(t, write.Events, []wantEvent{
		{datastore.EventDelete, "agenda_item/4"},
		{datastore.EventUpdate, "meeting/1"},
		{datastore.EventDelete, "topic/7"},
		{datastore.EventUpdate, "meeting/1"},
		{datastore.EventUpdate, "meeting/1"},
		{datastore.EventDelete, "meeting/1"},
	})
	for fqid := range map[string]bool{"meeting/1": true, "topic/7": true, "agenda_item/4": true} {
		if !ds.IsDeleted(fqid) {
			t.Errorf("%s is not deleted", fqid)
		}
	}
}

func TestMotionWorkflowDeleteCascadesStates(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/1", map[string]any{"name": "assembly", "motion_workflow_ids": []int{1}})
	ds.Seed("motion_workflow/1", map[string]any{
		"name":           "simple",
		"meeting_id":     1,
		"state_ids":      []int{1},
		"first_state_id": 1,
	})
	ds.Seed("motion_state/1", map[string]any{
		"name":                       "default",
		"workflow_id":                1,
		"first_state_of_workflow_id": 1,
	})

	handle(t, ds, `[{"action": "motion_workflow.delete", "data": [{"id": 1}]}]`)

	write := singleWrite(t, ds)
	checkEvents(t, write.Events, []wantEvent{
		{datastore.EventDelete, "motion_state/1"},
		{datastore.EventUpdate, "motion_workflow/1"},
		{datastore.EventUpdate, "motion_workflow/1"},
		{datastore.EventDelete, "motion_workflow/1"},
		{datastore.EventUpdate, "meeting/1"},
	})
	if value, ok := write.Events[1].Fields["first_state_id"]; !ok || value != nil {
		t.Errorf("workflow update = %v, want first_state_id null", write.Events[1].Fields)
	}
	checkIntList(t, write.Events[2].Fields, "state_ids")
	checkIntList(t, write.Events[4].Fields, "motion_workflow_ids")

	if !ds.IsDeleted("motion_workflow/1") {
		t.Error("the workflow is not deleted")
	}
	if !ds.IsDeleted("motion_state/1") {
		t.Error("the state did not cascade")
	}
}

func TestMeetingDeleteCascadesMotionChain(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/1", map[string]any{
		"name":                 "assembly",
		"motion_ids":           []int{5},
		"motion_submitter_ids": []int{9},
	})
	ds.Seed("motion/5", map[string]any{"title": "budget", "meeting_id": 1, "submitter_ids": []int{9}})
	ds.Seed("motion_submitter/9", map[string]any{"motion_id": 5, "user_id": 3, "meeting_id": 1})
	ds.Seed("user/3", map[string]any{"username": "delegate", "submitted_motion_ids": []int{9}})

	handle(t, ds, `[{"action": "meeting.delete", "data": [{"id": 1}]}]`)

	write := singleWrite(t, ds)
	// The submitter delete leads the stream, so the meeting's own set-null
	// update addressed to it is dropped.
	checkEvents(t, write.Events, []wantEvent{
		{datastore.EventDelete, "motion_submitter/9"},
		{datastore.EventUpdate, "meeting/1"},
		{datastore.EventUpdate, "user/3"},
		{datastore.EventDelete, "motion/5"},
		{datastore.EventUpdate, "meeting/1"},
		{datastore.EventDelete, "meeting/1"},
	})
	checkIntList(t, write.Events[1].Fields, "motion_submitter_ids")
	checkIntList(t, write.Events[2].Fields, "submitted_motion_ids")
	checkIntList(t, write.Events[4].Fields, "motion_ids")

	for fqid := range map[string]bool{"meeting/1": true, "motion/5": true, "motion_submitter/9": true} {
		if !ds.IsDeleted(fqid) {
			t.Errorf("%s is not deleted", fqid)
		}
	}
	if ds.IsDeleted("user/3") {
		t.Error("the submitting user must survive the cascade")
	}
	checkIntList(t, ds.Instance("user/3"), "submitted_motion_ids")
}

func TestDeleteAllowedWhenBlockerDeletedInBatch(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("meeting/1", map[string]any{"name": "assembly", "motion_ids": []int{5}})
	ds.Seed("motion_workflow/1", map[string]any{"name": "simple", "state_ids": []int{1}})
	ds.Seed("motion_state/1", map[string]any{"name": "submitted", "workflow_id": 1, "motion_ids": []int{5}})
	ds.Seed("motion/5", map[string]any{"title": "budget", "meeting_id": 1, "state_id": 1})

	// The first command tombstones the motion in the shared overlay, so the
	// state's protect walk treats it as already gone.
	handle(t, ds, `[
		{"action": "motion.delete", "data": [{"id": 5}]},
		{"action": "motion_state.delete", "data": [{"id": 1}]}
	]`)

	write := singleWrite(t, ds)
	checkEvents(t, write.Events, []wantEvent{
		{datastore.EventDelete, "motion/5"},
		{datastore.EventUpdate, "meeting/1"},
		{datastore.EventUpdate, "motion_state/1"},
		{datastore.EventDelete, "motion_state/1"},
		{datastore.EventUpdate, "motion_workflow/1"},
	})
	checkIntList(t, write.Events[1].Fields, "motion_ids")
	checkIntList(t, write.Events[2].Fields, "motion_ids")
	checkIntList(t, write.Events[4].Fields, "state_ids")

	if !ds.IsDeleted("motion/5") {
		t.Error("the motion is not deleted")
	}
	if !ds.IsDeleted("motion_state/1") {
		t.Error("the state is not deleted")
	}
	checkIntList(t, ds.Instance("meeting/1"), "motion_ids")
	checkIntList(t, ds.Instance("motion_workflow/1"), "state_ids")
}

func TestDeleteWithoutCascadeAction(t *testing.T) {
	// A registry without group.delete cannot cascade a meeting delete over
	// its groups.
	reg := action.NewRegistry()
	reg.Register("meeting.delete", func(b *action.Base) action.Action {
		return &action.DeleteAction{
			Base:       b,
			Collection: models.Meeting,
			Schema:     action.DeleteSchema(models.Meeting),
		}
	})
	ds := testutil.NewMemory()
	ds.Seed("meeting/1", map[string]any{"name": "assembly", "group_ids": []int{3}})
	ds.Seed("group/3", map[string]any{"name": "delegates", "meeting_id": 1})

	h := &action.Handler{Engine: ds, Actions: reg, Log: zerolog.Nop()}
	_, err := h.Handle(context.Background(), []byte(`[{"action": "meeting.delete", "data": [{"id": 1}]}]`), 1)
	if err == nil {
		t.Fatal("Handle() succeeded, want an error")
	}
	if got, want := err.Error(), "Can't cascade the delete action to group since no delete action was found."; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
	if len(ds.Writes()) != 0 {
		t.Errorf("a refused delete wrote %d times", len(ds.Writes()))
	}
}
