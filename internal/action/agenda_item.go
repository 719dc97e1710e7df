package action

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/models"
)

// The agenda timeline reads from the attached object's point of view, so
// agenda item actions override the generic history lines.
const (
	infoAgendaAttached = "Object attached to agenda item"
	infoAgendaDetached = "Object attachment to agenda item reset"
)

var (
	agendaItemCreateSchema = CreateSchema(models.AgendaItem,
		[]string{"content_object_id"},
		[]string{"item_number", "comment", "type", "parent_id", "duration", "weight"})
	agendaItemUpdateSchema = UpdateSchema(models.AgendaItem,
		[]string{"item_number", "comment", "type", "closed", "duration", "weight"})
	agendaItemDeleteSchema = DeleteSchema(models.AgendaItem)
	agendaItemAssignSchema = PayloadSchema("agenda_item.assign payload", map[string]any{
		"properties": map[string]any{
			"ids": map[string]any{
				"type":        "array",
				"items":       idSchema,
				"minItems":    1,
				"uniqueItems": true,
			},
			"parent_id":  map[string]any{"type": []any{"integer", "null"}},
			"meeting_id": idSchema,
		},
		"required": []any{"ids", "parent_id", "meeting_id"},
	})
	agendaItemNumberingSchema = PayloadSchema("agenda_item.numbering payload", map[string]any{
		"properties": map[string]any{"meeting_id": idSchema},
		"required":   []any{"meeting_id"},
	})
)

func init() {
	Register("agenda_item.create", func(b *Base) Action {
		return &CreateAction{
			Base:                b,
			Collection:          models.AgendaItem,
			Schema:              agendaItemCreateSchema,
			RelationInformation: infoAgendaAttached,
			UpdateInstance:      agendaItemCreateInstance,
		}
	})
	Register("agenda_item.update", func(b *Base) Action {
		return &UpdateAction{
			Base:       b,
			Collection: models.AgendaItem,
			Schema:     agendaItemUpdateSchema,
		}
	})
	Register("agenda_item.delete", func(b *Base) Action {
		return &DeleteAction{
			Base:                b,
			Collection:          models.AgendaItem,
			Schema:              agendaItemDeleteSchema,
			RelationInformation: infoAgendaDetached,
		}
	})
	Register("agenda_item.assign", func(b *Base) Action {
		return &UpdateAction{
			Base:                b,
			Collection:          models.AgendaItem,
			Schema:              agendaItemAssignSchema,
			GetUpdatedInstances: assignAgendaItems,
		}
	})
	Register("agenda_item.numbering", func(b *Base) Action {
		return &UpdateAction{
			Base:                b,
			Collection:          models.AgendaItem,
			Schema:              agendaItemNumberingSchema,
			GetUpdatedInstances: numberAgendaItems,
		}
	})
}

// agendaItemCreateInstance infers the meeting from the content object and
// places the new item one weight step below its parent.
func agendaItemCreateInstance(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error) {
	if err := inferMeetingID(ctx, b, models.AgendaItem, "content_object_id", instance); err != nil {
		return nil, err
	}
	if instance["parent_id"] != nil {
		parentID, ok := asInt(instance["parent_id"])
		if !ok {
			return nil, errorf("Invalid value for field parent_id: %v", instance["parent_id"])
		}
		parent, err := b.fetchModel(ctx, models.AgendaItem.FQID(parentID), "weight")
		if err != nil {
			return nil, err
		}
		if weight, ok := asInt(parent["weight"]); ok {
			instance["weight"] = weight + 1
		}
	}
	return instance, nil
}

// assignAgendaItems rewrites the assign payload into one parent_id update
// per item. Moving an item below its own subtree is refused.
func assignAgendaItems(ctx context.Context, b *Base, payload []map[string]any) ([]map[string]any, error) {
	instance := payload[0]
	meetingID, ok := asInt(instance["meeting_id"])
	if !ok {
		return nil, errorf("Payload instance must contain an integer meeting_id.")
	}
	ids, ok := asIntList(instance["ids"])
	if !ok {
		return nil, errorf("Invalid value for field ids: %v", instance["ids"])
	}
	inMeeting, err := agendaItemsOfMeeting(ctx, b, meetingID)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(ids))
	if instance["parent_id"] == nil {
		for _, id := range ids {
			if _, ok := inMeeting[id]; !ok {
				return nil, errorf("Id %d not in db_instances.", id)
			}
			out = append(out, map[string]any{"id": id, "parent_id": nil})
		}
		return out, nil
	}

	parentID, ok := asInt(instance["parent_id"])
	if !ok {
		return nil, errorf("Invalid value for field parent_id: %v", instance["parent_id"])
	}
	ancestors := []int{parentID}
	for current := parentID; ; {
		item, err := b.fetchModel(ctx, models.AgendaItem.FQID(current), "parent_id")
		if err != nil {
			return nil, err
		}
		next, ok := asInt(item["parent_id"])
		if !ok {
			break
		}
		ancestors = append(ancestors, next)
		current = next
	}
	for _, id := range ids {
		if containsInt(ancestors, id) {
			return nil, errorf("Assigning item %d to one of its children is not possible.", id)
		}
		if _, ok := inMeeting[id]; !ok {
			return nil, errorf("Id %d not in db_instances.", id)
		}
		out = append(out, map[string]any{"id": id, "parent_id": parentID})
	}
	return out, nil
}

// numberAgendaItems renumbers the whole agenda of one meeting. Every item
// gets an item_number update, visible items a dotted path, internal and
// hidden subtrees the empty string.
func numberAgendaItems(ctx context.Context, b *Base, payload []map[string]any) ([]map[string]any, error) {
	meetingID, ok := asInt(payload[0]["meeting_id"])
	if !ok {
		return nil, errorf("Payload instance must contain an integer meeting_id.")
	}
	items, err := b.DS.Filter(ctx, models.AgendaItem, datastore.FilterOperator{
		Field: "meeting_id", Operator: "=", Value: meetingID,
	})
	if err != nil {
		return nil, err
	}

	system, prefix := "", ""
	meeting, err := b.fetchModel(ctx, models.Meeting.FQID(meetingID), "agenda_numeral_system", "agenda_number_prefix")
	if err != nil && !errors.Is(err, datastore.ErrNotFound) {
		return nil, err
	}
	if meeting != nil {
		system, _ = asString(meeting["agenda_numeral_system"])
		prefix, _ = asString(meeting["agenda_number_prefix"])
	}

	numbers := numberAgendaTree(buildAgendaTree(items), system, prefix)
	ids := make([]int, 0, len(numbers))
	for id := range numbers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]any{"id": id, "item_number": numbers[id]})
	}
	return out, nil
}

// agendaItemsOfMeeting fetches all items of the meeting keyed by id.
func agendaItemsOfMeeting(ctx context.Context, b *Base, meetingID int) (map[int]map[string]any, error) {
	items, err := b.DS.Filter(ctx, models.AgendaItem, datastore.FilterOperator{
		Field: "meeting_id", Operator: "=", Value: meetingID,
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[int]map[string]any, len(items))
	for _, item := range items {
		if id, ok := asInt(item["id"]); ok {
			byID[id] = item
		}
	}
	return byID, nil
}

type agendaNode struct {
	id       int
	weight   int
	itemType int
	children []*agendaNode
}

// buildAgendaTree arranges the items below their parents, siblings ordered
// by weight and id. An item whose parent is outside the set becomes a root.
func buildAgendaTree(items []map[string]any) []*agendaNode {
	nodes := make(map[int]*agendaNode, len(items))
	parents := make(map[int]int, len(items))
	ids := make([]int, 0, len(items))
	for _, item := range items {
		id, ok := asInt(item["id"])
		if !ok {
			continue
		}
		node := &agendaNode{id: id, itemType: models.AgendaItemCommon}
		if weight, ok := asInt(item["weight"]); ok {
			node.weight = weight
		}
		if itemType, ok := asInt(item["type"]); ok {
			node.itemType = itemType
		}
		nodes[id] = node
		if parentID, ok := asInt(item["parent_id"]); ok {
			parents[id] = parentID
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var roots []*agendaNode
	for _, id := range ids {
		node := nodes[id]
		if parent, ok := nodes[parents[id]]; ok {
			parent.children = append(parent.children, node)
			continue
		}
		roots = append(roots, node)
	}
	sortAgendaSiblings(roots)
	for _, node := range nodes {
		sortAgendaSiblings(node.children)
	}
	return roots
}

func sortAgendaSiblings(nodes []*agendaNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].weight != nodes[j].weight {
			return nodes[i].weight < nodes[j].weight
		}
		return nodes[i].id < nodes[j].id
	})
}

// numberAgendaTree walks the tree and assigns the item numbers. Top level
// counting follows the numeral system, deeper levels append arabic
// positions to the parent's raw number. Invisible items do not consume a
// position and blank their whole subtree. The prefix only decorates the
// stored number, the raw number stays the chain for the children.
func numberAgendaTree(roots []*agendaNode, system, prefix string) map[int]string {
	numbers := make(map[int]string)
	var walk func(nodes []*agendaNode, parentNumber string, suppressed bool)
	walk = func(nodes []*agendaNode, parentNumber string, suppressed bool) {
		index := 1
		for _, node := range nodes {
			if suppressed || node.itemType != models.AgendaItemCommon {
				numbers[node.id] = ""
				walk(node.children, "", true)
				continue
			}
			var raw string
			if parentNumber == "" {
				raw = formatAgendaNumber(index, system)
			} else {
				raw = parentNumber + "." + strconv.Itoa(index)
			}
			index++
			number := raw
			if prefix != "" {
				number = prefix + " " + raw
			}
			numbers[node.id] = number
			walk(node.children, raw, false)
		}
	}
	walk(roots, "", false)
	return numbers
}

func formatAgendaNumber(index int, system string) string {
	if system == "roman" {
		return toRoman(index)
	}
	return strconv.Itoa(index)
}

var romanDigits = []struct {
	value  int
	symbol string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

// toRoman falls back to the arabic form outside the representable range.
func toRoman(n int) string {
	if n <= 0 || n >= 4000 {
		return strconv.Itoa(n)
	}
	var b strings.Builder
	for _, digit := range romanDigits {
		for n >= digit.value {
			b.WriteString(digit.symbol)
			n -= digit.value
		}
	}
	return b.String()
}
