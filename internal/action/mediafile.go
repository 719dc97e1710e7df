package action

import "github.com/plenumhq/plenum/internal/models"

var (
	mediafileCreateSchema = CreateSchema(models.Mediafile,
		[]string{"title", "meeting_id"},
		[]string{"filename"})
	mediafileUpdateSchema = UpdateSchema(models.Mediafile,
		[]string{"title", "filename"})
	mediafileDeleteSchema = DeleteSchema(models.Mediafile)
)

func init() {
	Register("mediafile.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.Mediafile,
			Schema:     mediafileCreateSchema,
		}
	})
	Register("mediafile.update", func(b *Base) Action {
		return &UpdateAction{
			Base:       b,
			Collection: models.Mediafile,
			Schema:     mediafileUpdateSchema,
		}
	})
	Register("mediafile.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.Mediafile,
			Schema:     mediafileDeleteSchema,
		}
	})
}
