package action

import "github.com/plenumhq/plenum/internal/models"

var (
	motionSubmitterCreateSchema = CreateSchema(models.MotionSubmitter,
		[]string{"motion_id", "user_id"},
		[]string{"weight"})
	motionSubmitterDeleteSchema = DeleteSchema(models.MotionSubmitter)
)

func init() {
	Register("motion_submitter.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.MotionSubmitter,
			Schema:     motionSubmitterCreateSchema,
			// The submitter lives in the motion's meeting, which the
			// equal-fields check on motion_id then confirms.
			UpdateInstance: inferMeeting(models.MotionSubmitter, "motion_id"),
		}
	})
	Register("motion_submitter.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.MotionSubmitter,
			Schema:     motionSubmitterDeleteSchema,
		}
	})
}
