package action

import "github.com/plenumhq/plenum/internal/models"

var (
	meetingCreateSchema = CreateSchema(models.Meeting,
		[]string{"name", "committee_id"},
		[]string{"description", "agenda_numeral_system", "agenda_number_prefix"})
	meetingUpdateSchema = UpdateSchema(models.Meeting,
		[]string{"name", "description", "agenda_numeral_system", "agenda_number_prefix"})
	meetingDeleteSchema = DeleteSchema(models.Meeting)
)

func init() {
	Register("meeting.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.Meeting,
			Schema:     meetingCreateSchema,
		}
	})
	Register("meeting.update", func(b *Base) Action {
		return &UpdateAction{
			Base:       b,
			Collection: models.Meeting,
			Schema:     meetingUpdateSchema,
		}
	})
	Register("meeting.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.Meeting,
			Schema:     meetingDeleteSchema,
		}
	})
}
