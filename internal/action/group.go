package action

import "github.com/plenumhq/plenum/internal/models"

var (
	groupCreateSchema = CreateSchema(models.Group,
		[]string{"name", "meeting_id"},
		[]string{"permissions"})
	groupUpdateSchema = UpdateSchema(models.Group,
		[]string{"name", "permissions"})
	groupDeleteSchema = DeleteSchema(models.Group)
)

func init() {
	Register("group.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.Group,
			Schema:     groupCreateSchema,
		}
	})
	Register("group.update", func(b *Base) Action {
		return &UpdateAction{
			Base:       b,
			Collection: models.Group,
			Schema:     groupUpdateSchema,
		}
	})
	Register("group.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.Group,
			Schema:     groupDeleteSchema,
		}
	})
}
