package action

import "github.com/plenumhq/plenum/internal/models"

var (
	organisationTagCreateSchema = CreateSchema(models.OrganisationTag,
		[]string{"name"},
		[]string{"color"})
	organisationTagUpdateSchema = UpdateSchema(models.OrganisationTag,
		[]string{"name", "color"})
	organisationTagDeleteSchema = DeleteSchema(models.OrganisationTag)
)

func init() {
	Register("organisation_tag.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.OrganisationTag,
			Schema:     organisationTagCreateSchema,
		}
	})
	Register("organisation_tag.update", func(b *Base) Action {
		return &UpdateAction{
			Base:       b,
			Collection: models.OrganisationTag,
			Schema:     organisationTagUpdateSchema,
		}
	})
	Register("organisation_tag.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.OrganisationTag,
			Schema:     organisationTagDeleteSchema,
		}
	})
}
