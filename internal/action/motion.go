package action

import "github.com/plenumhq/plenum/internal/models"

var (
	motionCreateSchema = CreateSchema(models.Motion,
		[]string{"title", "meeting_id"},
		[]string{"number", "state_id"})
	motionUpdateSchema = UpdateSchema(models.Motion,
		[]string{"title", "number", "state_id"})
	motionDeleteSchema = DeleteSchema(models.Motion)
)

func init() {
	Register("motion.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.Motion,
			Schema:     motionCreateSchema,
		}
	})
	Register("motion.update", func(b *Base) Action {
		return &UpdateAction{
			Base:       b,
			Collection: models.Motion,
			Schema:     motionUpdateSchema,
		}
	})
	Register("motion.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.Motion,
			Schema:     motionDeleteSchema,
		}
	})
}
