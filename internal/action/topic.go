package action

import "github.com/plenumhq/plenum/internal/models"

var (
	topicCreateSchema = CreateSchema(models.Topic,
		[]string{"meeting_id", "title"},
		[]string{"text", "attachment_ids"})
	topicUpdateSchema = UpdateSchema(models.Topic,
		[]string{"title", "text", "attachment_ids"})
	topicDeleteSchema = DeleteSchema(models.Topic)
)

func init() {
	Register("topic.create", func(b *Base) Action {
		return &CreateAction{
			Base:       b,
			Collection: models.Topic,
			Schema:     topicCreateSchema,
			// Every topic sits on the agenda, so creating one also
			// creates its agenda item.
			Dependencies: []Dependency{{
				Action: "agenda_item.create",
				Payload: func(instance map[string]any) map[string]any {
					id, ok := asInt(instance["id"])
					if !ok {
						return nil
					}
					return map[string]any{"content_object_id": models.Topic.FQID(id).String()}
				},
			}},
		}
	})
	Register("topic.update", func(b *Base) Action {
		return &UpdateAction{
			Base:       b,
			Collection: models.Topic,
			Schema:     topicUpdateSchema,
		}
	})
	Register("topic.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:       b,
			Collection: models.Topic,
			Schema:     topicDeleteSchema,
		}
	})
}
