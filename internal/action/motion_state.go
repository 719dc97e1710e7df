package action

import "github.com/plenumhq/plenum/internal/models"

var (
	motionStateCreateSchema = CreateSchema(models.MotionState,
		[]string{"name", "workflow_id"},
		[]string{"recommendation_label", "allow_support", "first_state_of_workflow_id"})
	motionStateUpdateSchema = UpdateSchema(models.MotionState,
		[]string{"name", "recommendation_label", "allow_support"})
	motionStateDeleteSchema = DeleteSchema(models.MotionState)
)

func init() {
	Register("motion_state.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.MotionState,
			Schema:     motionStateCreateSchema,
		}
	})
	Register("motion_state.update", func(b *Base) Action {
		return &UpdateAction{
			Base:       b,
			Collection: models.MotionState,
			Schema:     motionStateUpdateSchema,
		}
	})
	Register("motion_state.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.MotionState,
			Schema:     motionStateDeleteSchema,
		}
	})
}
