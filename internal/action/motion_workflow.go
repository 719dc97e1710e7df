package action

import "github.com/plenumhq/plenum/internal/models"

var (
	motionWorkflowCreateSchema = CreateSchema(models.MotionWorkflow,
		[]string{"name", "meeting_id"}, nil)
	motionWorkflowUpdateSchema = UpdateSchema(models.MotionWorkflow,
		[]string{"name"})
	motionWorkflowDeleteSchema = DeleteSchema(models.MotionWorkflow)
)

func init() {
	Register("motion_workflow.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.MotionWorkflow,
			Schema:     motionWorkflowCreateSchema,
			// A workflow is unusable without a state, so one is created
			// alongside and wired as the first state.
			Dependencies: []Dependency{{
				Action: "motion_state.create",
				Payload: func(instance map[string]any) map[string]any {
					id, ok := asInt(instance["id"])
					if !ok {
						return nil
					}
					return map[string]any{
						"name":                       "default",
						"workflow_id":                id,
						"first_state_of_workflow_id": id,
					}
				},
			}},
		}
	})
	Register("motion_workflow.update", func(b *Base) Action {
		return &UpdateAction{
			Base:       b,
			Collection: models.MotionWorkflow,
			Schema:     motionWorkflowUpdateSchema,
		}
	})
	Register("motion_workflow.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.MotionWorkflow,
			Schema:     motionWorkflowDeleteSchema,
		}
	})
}
