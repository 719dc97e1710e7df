package models

import "github.com/plenumhq/plenum/internal/keys"

// Collection names used across the code base.
const (
	Meeting         keys.Collection = "meeting"
	Committee       keys.Collection = "committee"
	OrganisationTag keys.Collection = "organisation_tag"
	Group           keys.Collection = "group"
	User            keys.Collection = "user"
	Topic           keys.Collection = "topic"
	AgendaItem      keys.Collection = "agenda_item"
	Motion          keys.Collection = "motion"
	MotionWorkflow  keys.Collection = "motion_workflow"
	MotionState     keys.Collection = "motion_state"
	MotionSubmitter keys.Collection = "motion_submitter"
	Mediafile       keys.Collection = "mediafile"
)

// Agenda item visibility. Internal and hidden items are skipped by the
// numbering action.
const (
	AgendaItemCommon   = 1
	AgendaItemInternal = 2
	AgendaItemHidden   = 3
)

// declarations lists every collection with its forward relations. On-delete
// rules are declared on the foreign key and take effect when the TARGET of
// the key is deleted: cascade removes the owner, protect refuses the delete,
// set_null (the default) clears the key.
func declarations() []Decl {
	return []Decl{
		{
			Collection: Meeting,
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true},
				{Name: "description", Type: TypeString},
				{Name: "agenda_numeral_system", Type: TypeString},
				{Name: "agenda_number_prefix", Type: TypeString},
				{Name: "committee_id", Relation: &Relation{
					To:          []keys.Collection{Committee},
					RelatedName: "meeting_ids",
					Cardinality: OneToMany,
					OnDelete:    Protect,
				}},
			},
		},
		{
			Collection: Committee,
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true},
				{Name: "description", Type: TypeString},
				{Name: "organisation_tag_ids", Relation: &Relation{
					To:          []keys.Collection{OrganisationTag},
					RelatedName: "committee_ids",
					Cardinality: ManyToMany,
				}},
				{Name: "user_ids", Relation: &Relation{
					To:          []keys.Collection{User},
					RelatedName: "committee_ids",
					Cardinality: ManyToMany,
				}},
				{Name: "forward_to_committee_ids", Relation: &Relation{
					To:          []keys.Collection{Committee},
					RelatedName: "receive_forwardings_from_committee_ids",
					Cardinality: ManyToMany,
				}},
				{Name: "template_meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "template_for_committee_id",
					Cardinality: OneToOne,
				}},
				{Name: "default_meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "default_meeting_for_committee_id",
					Cardinality: OneToOne,
				}},
			},
		},
		{
			Collection: OrganisationTag,
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true},
				{Name: "color", Type: TypeString},
			},
		},
		{
			Collection: Group,
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true},
				{Name: "permissions", Type: TypeStringList},
				{Name: "meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "group_ids",
					Cardinality: OneToMany,
					OnDelete:    Cascade,
				}},
				{Name: "user_ids", Relation: &Relation{
					To:          []keys.Collection{User},
					RelatedName: "group_$_ids",
					Cardinality: ManyToMany,
					Structured:  []string{"meeting_id"},
				}},
			},
		},
		{
			Collection: User,
			Fields: []Field{
				{Name: "username", Type: TypeString, Required: true},
				{Name: "title", Type: TypeString},
				{Name: "first_name", Type: TypeString},
				{Name: "last_name", Type: TypeString},
				{Name: "is_active", Type: TypeBool},
				{Name: "password", Type: TypeString, ReadOnly: true},
				{Name: "default_password", Type: TypeString},
				{Name: "organisation_management_level", Type: TypeString},
				{Name: "meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "temporary_user_ids",
					Cardinality: OneToMany,
				}},
				{Name: "is_present_in_meeting_ids", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "present_user_ids",
					Cardinality: ManyToMany,
				}},
				{Name: "vote_delegations_$_from_ids", Relation: &Relation{
					To:            []keys.Collection{User},
					RelatedName:   "vote_delegated_$_to_id",
					Cardinality:   ManyToOne,
					StructuredTag: true,
				}},
				{Name: "comment_$", Type: TypeString},
				{Name: "number_$", Type: TypeString},
				{Name: "structure_level_$", Type: TypeString},
				{Name: "about_me_$", Type: TypeString},
				{Name: "vote_weight_$", Type: TypeString},
				{Name: "committee_$_management_level", Type: TypeString},
			},
		},
		{
			Collection: Topic,
			Fields: []Field{
				{Name: "title", Type: TypeString, Required: true},
				{Name: "text", Type: TypeString},
				{Name: "meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "topic_ids",
					Cardinality: OneToMany,
					OnDelete:    Cascade,
				}},
				{Name: "attachment_ids", Relation: &Relation{
					To:          []keys.Collection{Mediafile},
					RelatedName: "attachment_ids",
					Cardinality: ManyToMany,
				}},
			},
		},
		{
			Collection: AgendaItem,
			Fields: []Field{
				{Name: "item_number", Type: TypeString},
				{Name: "comment", Type: TypeString},
				{Name: "type", Type: TypeInt, Default: AgendaItemCommon,
					Enum: []int{AgendaItemCommon, AgendaItemInternal, AgendaItemHidden}},
				{Name: "weight", Type: TypeInt, Default: 0},
				{Name: "closed", Type: TypeBool},
				{Name: "duration", Type: TypeInt},
				{Name: "meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "agenda_item_ids",
					Cardinality: OneToMany,
					OnDelete:    Cascade,
				}},
				{Name: "content_object_id", Relation: &Relation{
					To:          []keys.Collection{Topic, Motion},
					RelatedName: "agenda_item_id",
					Cardinality: OneToOne,
					Generic:     true,
					OnDelete:    Cascade,
				}},
				{Name: "parent_id", Relation: &Relation{
					To:          []keys.Collection{AgendaItem},
					RelatedName: "child_ids",
					Cardinality: OneToMany,
				}},
			},
		},
		{
			Collection: Motion,
			Fields: []Field{
				{Name: "title", Type: TypeString, Required: true},
				{Name: "number", Type: TypeString},
				{Name: "meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "motion_ids",
					Cardinality: OneToMany,
					OnDelete:    Cascade,
				}},
				{Name: "state_id", Relation: &Relation{
					To:          []keys.Collection{MotionState},
					RelatedName: "motion_ids",
					Cardinality: OneToMany,
					OnDelete:    Protect,
				}},
			},
		},
		{
			Collection: MotionWorkflow,
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true},
				{Name: "meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "motion_workflow_ids",
					Cardinality: OneToMany,
					OnDelete:    Cascade,
				}},
			},
		},
		{
			Collection: MotionState,
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true},
				{Name: "recommendation_label", Type: TypeString},
				{Name: "allow_support", Type: TypeBool},
				{Name: "workflow_id", Relation: &Relation{
					To:          []keys.Collection{MotionWorkflow},
					RelatedName: "state_ids",
					Cardinality: OneToMany,
					OnDelete:    Cascade,
				}},
				{Name: "first_state_of_workflow_id", Relation: &Relation{
					To:          []keys.Collection{MotionWorkflow},
					RelatedName: "first_state_id",
					Cardinality: OneToOne,
				}},
			},
		},
		{
			Collection: MotionSubmitter,
			Fields: []Field{
				{Name: "weight", Type: TypeInt},
				{Name: "motion_id", Relation: &Relation{
					To:          []keys.Collection{Motion},
					RelatedName: "submitter_ids",
					Cardinality: OneToMany,
					OnDelete:    Cascade,
					EqualFields: []string{"meeting_id"},
				}},
				{Name: "user_id", Relation: &Relation{
					To:          []keys.Collection{User},
					RelatedName: "submitted_motion_ids",
					Cardinality: OneToMany,
				}},
				{Name: "meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "motion_submitter_ids",
					Cardinality: OneToMany,
				}},
			},
		},
		{
			Collection: Mediafile,
			Fields: []Field{
				{Name: "title", Type: TypeString, Required: true},
				{Name: "filename", Type: TypeString},
				{Name: "meeting_id", Relation: &Relation{
					To:          []keys.Collection{Meeting},
					RelatedName: "mediafile_ids",
					Cardinality: OneToMany,
					OnDelete:    Cascade,
				}},
			},
		},
	}
}
