package models

import (
	"testing"

	"github.com/plenumhq/plenum/internal/keys"
)

func TestBuildMaterializesReverse(t *testing.T) {
	reg, err := Build(
		Decl{Collection: "meeting", Fields: []Field{
			{Name: "name", Type: TypeString},
		}},
		Decl{Collection: "topic", Fields: []Field{
			{Name: "title", Type: TypeString},
			{Name: "meeting_id", Relation: &Relation{
				To:          []keys.Collection{"meeting"},
				RelatedName: "topic_ids",
				Cardinality: OneToMany,
				OnDelete:    Cascade,
			}},
		}},
	)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	meeting, ok := reg.Model("meeting")
	if !ok {
		t.Fatal("meeting model missing")
	}
	topicIDs, ok := meeting.Field("topic_ids")
	if !ok {
		t.Fatal("reverse field topic_ids not materialized")
	}
	rel := topicIDs.Relation
	if rel == nil || !rel.IsReverse {
		t.Fatalf("topic_ids should be a reverse relation, got %+v", topicIDs)
	}
	if rel.Target() != "topic" {
		t.Errorf("reverse target = %q, want topic", rel.Target())
	}
	if rel.RelatedName != "meeting_id" {
		t.Errorf("reverse related name = %q, want meeting_id", rel.RelatedName)
	}
	if rel.Cardinality != ManyToOne {
		t.Errorf("reverse cardinality = %q, want m:1", rel.Cardinality)
	}
	if rel.OnDelete != Cascade {
		t.Errorf("reverse on_delete = %q, want cascade", rel.OnDelete)
	}
	if topicIDs.Type != TypeIntList {
		t.Errorf("reverse type = %v, want int list", topicIDs.Type)
	}

	// The rule moved to the reverse side; deleting a topic itself must not
	// cascade back into the meeting.
	topic, _ := reg.Model("topic")
	meetingID, _ := topic.Field("meeting_id")
	if meetingID.Relation.OnDelete != SetNull {
		t.Errorf("forward on_delete = %q, want set_null", meetingID.Relation.OnDelete)
	}
	if meetingID.Type != TypeInt {
		t.Errorf("forward type = %v, want int", meetingID.Type)
	}
}

func TestBuildGenericRelation(t *testing.T) {
	reg, err := Build(
		Decl{Collection: "topic", Fields: []Field{{Name: "title", Type: TypeString}}},
		Decl{Collection: "motion", Fields: []Field{{Name: "title", Type: TypeString}}},
		Decl{Collection: "agenda_item", Fields: []Field{
			{Name: "content_object_id", Relation: &Relation{
				To:          []keys.Collection{"topic", "motion"},
				RelatedName: "agenda_item_id",
				Cardinality: OneToOne,
				Generic:     true,
			}},
		}},
	)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	item, _ := reg.Model("agenda_item")
	forward, _ := item.Field("content_object_id")
	if forward.Type != TypeFQID {
		t.Errorf("generic forward type = %v, want fqid", forward.Type)
	}
	for _, collection := range []keys.Collection{"topic", "motion"} {
		m, _ := reg.Model(collection)
		reverse, ok := m.Field("agenda_item_id")
		if !ok {
			t.Fatalf("%s.agenda_item_id not materialized", collection)
		}
		if reverse.Type != TypeInt {
			t.Errorf("%s.agenda_item_id type = %v, want int", collection, reverse.Type)
		}
		if !reverse.Relation.TargetGeneric {
			t.Errorf("%s.agenda_item_id should write fqids into the generic side", collection)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		decls []Decl
	}{
		{
			name: "unknown target",
			decls: []Decl{
				{Collection: "topic", Fields: []Field{
					{Name: "meeting_id", Relation: &Relation{
						To:          []keys.Collection{"meeting"},
						RelatedName: "topic_ids",
						Cardinality: OneToMany,
					}},
				}},
			},
		},
		{
			name: "duplicate collection",
			decls: []Decl{
				{Collection: "topic"},
				{Collection: "topic"},
			},
		},
		{
			name: "duplicate field",
			decls: []Decl{
				{Collection: "topic", Fields: []Field{
					{Name: "title", Type: TypeString},
					{Name: "title", Type: TypeString},
				}},
			},
		},
		{
			name: "reverse name clash",
			decls: []Decl{
				{Collection: "meeting", Fields: []Field{
					{Name: "topic_ids", Type: TypeIntList},
				}},
				{Collection: "topic", Fields: []Field{
					{Name: "meeting_id", Relation: &Relation{
						To:          []keys.Collection{"meeting"},
						RelatedName: "topic_ids",
						Cardinality: OneToMany,
					}},
				}},
			},
		},
		{
			name: "several targets without generic",
			decls: []Decl{
				{Collection: "topic"},
				{Collection: "motion"},
				{Collection: "agenda_item", Fields: []Field{
					{Name: "content_object_id", Relation: &Relation{
						To:          []keys.Collection{"topic", "motion"},
						RelatedName: "agenda_item_id",
						Cardinality: OneToOne,
					}},
				}},
			},
		},
		{
			name: "structured chain link missing",
			decls: []Decl{
				{Collection: "user"},
				{Collection: "group", Fields: []Field{
					{Name: "user_ids", Relation: &Relation{
						To:          []keys.Collection{"user"},
						RelatedName: "group_$_ids",
						Cardinality: ManyToMany,
						Structured:  []string{"meeting_id"},
					}},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.decls...); err == nil {
				t.Error("expected build error")
			}
		})
	}
}

func TestTemplateFieldMatching(t *testing.T) {
	reg := Default()
	user, ok := reg.Model(User)
	if !ok {
		t.Fatal("user model missing")
	}

	field, token, ok := user.MatchTemplate("group_7_ids")
	if !ok {
		t.Fatal("group_7_ids should match the group_$_ids template")
	}
	if field.Name != "group_$_ids" {
		t.Errorf("matched template = %q, want group_$_ids", field.Name)
	}
	if token != "7" {
		t.Errorf("token = %q, want 7", token)
	}
	if got := field.ConcreteName("7"); got != "group_7_ids" {
		t.Errorf("ConcreteName(7) = %q, want group_7_ids", got)
	}

	if _, _, ok := user.MatchTemplate("group_$_ids"); ok {
		t.Error("the anchor name itself must not match as concrete")
	}
	if _, _, ok := user.MatchTemplate("group_x_ids"); ok {
		t.Error("non-numeric token must not match")
	}

	field, token, ok = user.MatchTemplate("committee_449_management_level")
	if !ok || field.Name != "committee_$_management_level" || token != "449" {
		t.Errorf("committee template match = (%v, %q, %v)", field, token, ok)
	}
}

func TestCardinalityHelpers(t *testing.T) {
	tests := []struct {
		c            Cardinality
		transposed   Cardinality
		ownSingle    bool
		targetSingle bool
	}{
		{OneToOne, OneToOne, true, true},
		{OneToMany, ManyToOne, true, false},
		{ManyToOne, OneToMany, false, true},
		{ManyToMany, ManyToMany, false, false},
	}
	for _, tt := range tests {
		if got := tt.c.Transpose(); got != tt.transposed {
			t.Errorf("%s.Transpose() = %s, want %s", tt.c, got, tt.transposed)
		}
		if got := tt.c.OwnSingle(); got != tt.ownSingle {
			t.Errorf("%s.OwnSingle() = %v, want %v", tt.c, got, tt.ownSingle)
		}
		if got := tt.c.TargetSingle(); got != tt.targetSingle {
			t.Errorf("%s.TargetSingle() = %v, want %v", tt.c, got, tt.targetSingle)
		}
	}
}

func TestFieldSchema(t *testing.T) {
	reg := Default()
	item, _ := reg.Model(AgendaItem)

	typ, _ := item.Field("type")
	schema := typ.Schema(false)
	if schema["type"] != "integer" {
		t.Errorf("type schema = %v", schema)
	}
	if enum, ok := schema["enum"].([]any); !ok || len(enum) != 3 {
		t.Errorf("type enum = %v", schema["enum"])
	}

	duration, _ := item.Field("duration")
	nullable := duration.Schema(true)
	types, ok := nullable["type"].([]any)
	if !ok || len(types) != 2 || types[1] != "null" {
		t.Errorf("nullable schema = %v", nullable)
	}

	content, _ := item.Field("content_object_id")
	schema = content.Schema(false)
	if schema["pattern"] != fqidPattern {
		t.Errorf("fqid schema = %v", schema)
	}
}

// The default registry backs every action; spot-check the descriptors the
// scenario tests depend on.
func TestDefaultRegistryShape(t *testing.T) {
	reg := Default()

	meeting, _ := reg.Model(Meeting)
	for _, name := range []string{
		"agenda_item_ids", "topic_ids", "motion_ids", "group_ids",
		"motion_workflow_ids", "motion_submitter_ids", "present_user_ids",
		"mediafile_ids", "temporary_user_ids",
	} {
		if _, ok := meeting.Field(name); !ok {
			t.Errorf("meeting.%s missing", name)
		}
	}

	workflow, _ := reg.Model(MotionWorkflow)
	stateIDs, ok := workflow.Field("state_ids")
	if !ok || stateIDs.Relation.OnDelete != Cascade {
		t.Error("motion_workflow.state_ids must cascade")
	}
	firstState, ok := workflow.Field("first_state_id")
	if !ok || firstState.Relation.Cardinality != OneToOne {
		t.Error("motion_workflow.first_state_id must be a 1:1 reverse")
	}

	state, _ := reg.Model(MotionState)
	motionIDs, ok := state.Field("motion_ids")
	if !ok || motionIDs.Relation.OnDelete != Protect {
		t.Error("motion_state.motion_ids must protect")
	}

	motion, _ := reg.Model(Motion)
	submitters, ok := motion.Field("submitter_ids")
	if !ok || submitters.Relation.OnDelete != Cascade {
		t.Error("motion.submitter_ids must cascade")
	}
	if len(submitters.Relation.EqualFields) != 1 || submitters.Relation.EqualFields[0] != "meeting_id" {
		t.Errorf("submitter_ids equal fields = %v", submitters.Relation.EqualFields)
	}

	user, _ := reg.Model(User)
	groups, ok := user.Field("group_$_ids")
	if !ok || !groups.IsTemplate() || !groups.Relation.IsReverse {
		t.Error("user.group_$_ids must be a reverse template field")
	}
	delegated, ok := user.Field("vote_delegated_$_to_id")
	if !ok || !delegated.Relation.StructuredTag || delegated.Type != TypeInt {
		t.Error("user.vote_delegated_$_to_id must be a structured-tag single")
	}

	item, _ := reg.Model(AgendaItem)
	typ, _ := item.Field("type")
	if typ.Default != AgendaItemCommon {
		t.Errorf("agenda_item.type default = %v, want %d", typ.Default, AgendaItemCommon)
	}
	weight, _ := item.Field("weight")
	if weight.Default != 0 {
		t.Errorf("agenda_item.weight default = %v, want 0", weight.Default)
	}
}
