package action

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

// commandsSchema validates the outer request shape; each command's data is
// validated by the action it names.
var commandsSchema = PayloadSchema("action commands", map[string]any{
	"properties": map[string]any{
		"action": map[string]any{"type": "string", "minLength": 1},
		"data":   map[string]any{},
	},
	"required": []any{"action", "data"},
})

type command struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Result reports what a handled request did, for callers that react to
// writes: the dispatched action names and every committed event.
type Result struct {
	Actions []string
	Written []WrittenEvent
}

// WrittenEvent is the fqid and kind of one committed event.
type WrittenEvent struct {
	FQID keys.FQID
	Type datastore.EventType
}

// Handler executes one action request end to end: dispatch every command,
// collect the write request elements, merge them and submit exactly one
// write. Any failure aborts the whole batch before anything is written.
//
// Commands of one request share a datastore client, so locked fields
// accumulate across them, and an overlay, so later commands see the
// uncommitted effects of earlier ones.
type Handler struct {
	Engine datastore.Engine
	// Actions defaults to the package registry.
	Actions *Registry
	// Models defaults to the built-in model registry.
	Models *models.Registry
	Hash   Hasher
	Log    zerolog.Logger
}

func (h *Handler) registry() *Registry {
	if h.Actions != nil {
		return h.Actions
	}
	return Default()
}

// Handle runs one request body for the authenticated user.
func (h *Handler) Handle(ctx context.Context, body []byte, userID int) (*Result, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, schemaErrorf("The request body must be valid JSON.")
	}
	if err := commandsSchema.Validate(raw); err != nil {
		return nil, err
	}
	var commands []command
	if err := json.Unmarshal(body, &commands); err != nil {
		return nil, schemaErrorf("The request body must be a list of {action, data} objects.")
	}

	client := datastore.NewClient(h.Engine)
	base := &Base{
		DS:      client,
		Models:  h.Models,
		Overlay: NewOverlay(),
		Actions: h.registry(),
		Hash:    h.Hash,
		UserID:  userID,
	}

	result := &Result{}
	var elements []datastore.WriteRequest
	for _, cmd := range commands {
		act, err := h.registry().New(cmd.Action, base)
		if err != nil {
			return nil, err
		}
		var data any
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return nil, schemaErrorf("The data of action %s must be valid JSON.", cmd.Action)
		}
		if err := act.Validate(data); err != nil {
			return nil, err
		}
		var instances []map[string]any
		if err := json.Unmarshal(cmd.Data, &instances); err != nil {
			return nil, schemaErrorf("The data of action %s must be a list of objects.", cmd.Action)
		}
		h.Log.Debug().Str("action", cmd.Action).Int("instances", len(instances)).Msg("dispatch")
		actionElements, err := act.Perform(ctx, instances, userID)
		if err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, cmd.Action)
		elements = append(elements, actionElements...)
	}

	merged := mergeElements(elements, userID)
	if len(merged.Events) == 0 {
		return result, nil
	}
	h.Log.Debug().Int("events", len(merged.Events)).Msg("submit write")
	if err := client.Write(ctx, merged); err != nil {
		return nil, err
	}
	for _, event := range merged.Events {
		result.Written = append(result.Written, WrittenEvent{FQID: event.FQID, Type: event.Type})
	}
	return result, nil
}
