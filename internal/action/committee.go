package action

import (
	"context"

	"github.com/plenumhq/plenum/internal/models"
	"github.com/plenumhq/plenum/internal/perm"
)

var (
	committeeCreateSchema = CreateSchema(models.Committee,
		[]string{"name"},
		[]string{"description", "organisation_tag_ids", "user_ids",
			"forward_to_committee_ids", "receive_forwardings_from_committee_ids"})
	committeeUpdateSchema = UpdateSchema(models.Committee,
		[]string{"name", "description", "template_meeting_id", "default_meeting_id",
			"user_ids", "forward_to_committee_ids", "receive_forwardings_from_committee_ids",
			"organisation_tag_ids"})
	committeeDeleteSchema = DeleteSchema(models.Committee)
)

func init() {
	Register("committee.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.Committee,
			Schema:     committeeCreateSchema,
		}
	})
	Register("committee.update", func(b *Base) Action {
		return &UpdateAction{
			Base:            b,
			Collection:      models.Committee,
			Schema:          committeeUpdateSchema,
			CheckPermission: committeeUpdatePermission,
		}
	})
	Register("committee.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.Committee,
			Schema:     committeeDeleteSchema,
		}
	})
}

// committeeUpdatePermission gates the update fields: base fields need the
// committee manager level, membership and forwarding the organisation
// level, tags either of the two.
func committeeUpdatePermission(ctx context.Context, b *Base, instance map[string]any) error {
	id, err := requireIntID(instance)
	if err != nil {
		return err
	}
	isManager, err := perm.HasCommitteeManagementLevel(ctx, b.DS, b.UserID, perm.CommitteeCanManage, id)
	if err != nil {
		return err
	}
	canManageOrganisation, err := perm.HasOrganisationManagementLevel(ctx, b.DS, b.UserID, perm.CanManageOrganisation)
	if err != nil {
		return err
	}
	managerFields := []string{"name", "description", "template_meeting_id", "default_meeting_id"}
	organisationFields := []string{"user_ids", "forward_to_committee_ids", "receive_forwardings_from_committee_ids"}
	if hasAnyField(instance, managerFields) && !isManager {
		return perm.Missing(perm.CommitteeCanManage)
	}
	if hasAnyField(instance, organisationFields) && !canManageOrganisation {
		return perm.Missing(perm.CanManageOrganisation)
	}
	if _, ok := instance["organisation_tag_ids"]; ok && !isManager && !canManageOrganisation {
		return NotAllowedf("Missing can_manage_organisation and not manager.")
	}
	return nil
}

func hasAnyField(instance map[string]any, fields []string) bool {
	for _, name := range fields {
		if _, ok := instance[name]; ok {
			return true
		}
	}
	return false
}
