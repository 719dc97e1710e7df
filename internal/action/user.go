package action

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

// The temporary-user payloads carry flat meeting-scoped fields (group_ids,
// comment, ...) that the model stores in template form, so their schemas
// are written out instead of derived from the model.
var (
	userStringSchema = map[string]any{"type": "string"}
	userBoolSchema   = map[string]any{"type": "boolean"}
	userIDListSchema = map[string]any{"type": "array", "items": idSchema, "uniqueItems": true}

	userCreateTemporarySchema = PayloadSchema("user.create_temporary payload", map[string]any{
		"properties": map[string]any{
			"username":                  map[string]any{"type": "string", "minLength": 1},
			"meeting_id":                idSchema,
			"title":                     userStringSchema,
			"first_name":                userStringSchema,
			"last_name":                 userStringSchema,
			"is_active":                 userBoolSchema,
			"default_password":          userStringSchema,
			"is_present_in_meeting_ids": userIDListSchema,
			"group_ids":                 userIDListSchema,
			"vote_delegations_from_ids": userIDListSchema,
			"comment":                   userStringSchema,
			"number":                    userStringSchema,
			"structure_level":           userStringSchema,
			"about_me":                  userStringSchema,
			"vote_weight":               userStringSchema,
		},
		"required": []any{"username", "meeting_id"},
	})
	userUpdateTemporarySchema = PayloadSchema("user.update_temporary payload", map[string]any{
		"properties": map[string]any{
			"id":                        idSchema,
			"username":                  map[string]any{"type": "string", "minLength": 1},
			"title":                     userStringSchema,
			"first_name":                userStringSchema,
			"last_name":                 userStringSchema,
			"is_active":                 userBoolSchema,
			"default_password":          userStringSchema,
			"is_present_in_meeting_ids": userIDListSchema,
			"group_ids":                 userIDListSchema,
			"vote_delegations_from_ids": userIDListSchema,
			"comment":                   userStringSchema,
			"number":                    userStringSchema,
			"structure_level":           userStringSchema,
			"about_me":                  userStringSchema,
			"vote_weight":               userStringSchema,
		},
		"required": []any{"id"},
	})
	userDeleteTemporarySchema = DeleteSchema(models.User)
	userSetPasswordSchema     = PayloadSchema("user.set_password payload", map[string]any{
		"properties": map[string]any{
			"id":             idSchema,
			"password":       map[string]any{"type": "string", "minLength": 1},
			"set_as_default": userBoolSchema,
		},
		"required": []any{"id", "password"},
	})
	userSetPasswordTemporarySchema = PayloadSchema("user.set_password_temporary payload", map[string]any{
		"properties": map[string]any{
			"id":             idSchema,
			"password":       map[string]any{"type": "string", "minLength": 1},
			"set_as_default": userBoolSchema,
		},
		"required": []any{"id", "password"},
	})
)

func init() {
	Register("user.create_temporary", func(b *Base) Action {
		return &CreateAction{
			Base:           b,
			Collection:     models.User,
			Schema:         userCreateTemporarySchema,
			UpdateInstance: userCreateTemporaryInstance,
		}
	})
	Register("user.update_temporary", func(b *Base) Action {
		return &UpdateAction{
			Base:           b,
			Collection:     models.User,
			Schema:         userUpdateTemporarySchema,
			UpdateInstance: userUpdateTemporaryInstance,
		}
	})
	Register("user.delete_temporary", func(b *Base) Action {
		return &DeleteAction{
			Base:           b,
			Collection:     models.User,
			Schema:         userDeleteTemporarySchema,
			UpdateInstance: userDeleteTemporaryInstance,
		}
	})
	Register("user.set_password", func(b *Base) Action {
		return &UpdateAction{
			Base:           b,
			Collection:     models.User,
			Schema:         userSetPasswordSchema,
			UpdateInstance: userSetPasswordInstance,
		}
	})
	Register("user.set_password_temporary", func(b *Base) Action {
		return &UpdateAction{
			Base:           b,
			Collection:     models.User,
			Schema:         userSetPasswordTemporarySchema,
			UpdateInstance: userSetPasswordTemporaryInstance,
		}
	})
}

func userCreateTemporaryInstance(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error) {
	if err := applyTemporaryUserFields(ctx, b, instance); err != nil {
		return nil, err
	}
	// A fresh temporary user should be able to log in right away.
	if pw, ok := asString(instance["default_password"]); ok && pw != "" {
		hash, err := hashPassword(b, pw)
		if err != nil {
			return nil, err
		}
		instance["password"] = hash
	}
	return instance, nil
}

func userUpdateTemporaryInstance(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error) {
	id, err := requireIntID(instance)
	if err != nil {
		return nil, err
	}
	meetingID, err := requireTemporaryUser(ctx, b, id)
	if err != nil {
		return nil, err
	}
	// The mixin needs the meeting, but the meeting binding itself is not
	// updatable through this action.
	instance["meeting_id"] = meetingID
	if err := applyTemporaryUserFields(ctx, b, instance); err != nil {
		return nil, err
	}
	delete(instance, "meeting_id")
	return instance, nil
}

func userDeleteTemporaryInstance(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error) {
	id, err := requireIntID(instance)
	if err != nil {
		return nil, err
	}
	if _, err := requireTemporaryUser(ctx, b, id); err != nil {
		return nil, err
	}
	return instance, nil
}

func userSetPasswordInstance(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error) {
	return setPassword(b, instance)
}

func userSetPasswordTemporaryInstance(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error) {
	id, err := requireIntID(instance)
	if err != nil {
		return nil, err
	}
	if _, err := requireTemporaryUser(ctx, b, id); err != nil {
		return nil, err
	}
	return setPassword(b, instance)
}

// setPassword replaces the payload password with its hash and optionally
// mirrors the clear text into default_password.
func setPassword(b *Base, instance map[string]any) (map[string]any, error) {
	pw, ok := asString(instance["password"])
	if !ok || pw == "" {
		return nil, errorf("The password must not be empty.")
	}
	hash, err := hashPassword(b, pw)
	if err != nil {
		return nil, err
	}
	instance["password"] = hash
	if setAsDefault, _ := instance["set_as_default"].(bool); setAsDefault {
		instance["default_password"] = pw
	}
	delete(instance, "set_as_default")
	return instance, nil
}

func hashPassword(b *Base, password string) (string, error) {
	if b.Hash == nil {
		return "", fmt.Errorf("password hashing needs the auth service")
	}
	return b.Hash.Hash(password)
}

// requireTemporaryUser returns the meeting a temporary user belongs to.
// Users without a meeting binding are regular accounts and out of reach
// for the temporary actions.
func requireTemporaryUser(ctx context.Context, b *Base, id int) (int, error) {
	user, err := b.fetchOwn(ctx, models.User.FQID(id), "meeting_id")
	if err != nil {
		return 0, err
	}
	meetingID, ok := asInt(user["meeting_id"])
	if !ok {
		return 0, errorf("User %d is not temporary.", id)
	}
	return meetingID, nil
}

// applyTemporaryUserFields folds the flat payload fields of the temporary
// user actions into their meeting-scoped template form. The instance must
// already carry meeting_id.
func applyTemporaryUserFields(ctx context.Context, b *Base, instance map[string]any) error {
	meetingID, ok := asInt(instance["meeting_id"])
	if !ok {
		return errorf("Payload instance must contain an integer meeting_id.")
	}
	token := strconv.Itoa(meetingID)

	if present, ok := asIntList(instance["is_present_in_meeting_ids"]); ok {
		for _, id := range present {
			if id != meetingID {
				return errorf("A temporary user can only be present in its respective meeting.")
			}
		}
	}

	if raw, ok := instance["group_ids"]; ok {
		delete(instance, "group_ids")
		groupIDs, listOK := asIntList(raw)
		if !listOK {
			return errorf("Invalid value for field group_ids: %v", raw)
		}
		if len(groupIDs) > 0 {
			fqids := make([]keys.FQID, len(groupIDs))
			for i, id := range groupIDs {
				fqids[i] = models.Group.FQID(id)
			}
			groups, err := b.fetchMany(ctx, fqids, "meeting_id")
			if err != nil {
				return err
			}
			for _, fqid := range fqids {
				group, found := groups[fqid]
				if !found {
					continue
				}
				if groupMeeting, _ := asInt(group["meeting_id"]); groupMeeting != meetingID {
					return errorf("Group %d is not in the meeting of the temporary user.", fqid.ID)
				}
			}
		}
		instance["group_$_ids"] = map[string]any{token: raw}
	}

	if raw, ok := instance["vote_delegations_from_ids"]; ok {
		delete(instance, "vote_delegations_from_ids")
		userIDs, listOK := asIntList(raw)
		if !listOK {
			return errorf("Invalid value for field vote_delegations_from_ids: %v", raw)
		}
		fqids := make([]keys.FQID, len(userIDs))
		for i, id := range userIDs {
			fqids[i] = models.User.FQID(id)
		}
		found, err := b.fetchMany(ctx, fqids, "id")
		if err != nil {
			return err
		}
		var missing []int
		for _, fqid := range fqids {
			if _, ok := found[fqid]; !ok {
				missing = append(missing, fqid.ID)
			}
		}
		if len(missing) > 0 {
			sort.Ints(missing)
			return errorf("The following users were not found: %s", intListString(missing))
		}
		instance["vote_delegations_$_from_ids"] = map[string]any{token: raw}
	}

	for _, name := range []string{"comment", "number", "structure_level", "about_me", "vote_weight"} {
		if value, ok := instance[name]; ok {
			delete(instance, name)
			instance[name+"_$"] = map[string]any{token: value}
		}
	}
	return nil
}

func intListString(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
