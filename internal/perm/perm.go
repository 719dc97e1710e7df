// Package perm answers management-level permission questions by reading
// the acting user's fields through the request's datastore client.
package perm

import (
	"context"
	"errors"
	"fmt"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
)

// OrganisationManagementLevel ranks organisation-wide roles. A higher
// level implies every lower one.
type OrganisationManagementLevel string

const (
	Superadmin            OrganisationManagementLevel = "superadmin"
	CanManageOrganisation OrganisationManagementLevel = "can_manage_organisation"
	CanManageUsers        OrganisationManagementLevel = "can_manage_users"
)

func (l OrganisationManagementLevel) weight() int {
	switch l {
	case Superadmin:
		return 3
	case CanManageOrganisation:
		return 2
	case CanManageUsers:
		return 1
	default:
		return 0
	}
}

// CommitteeManagementLevel is the per-committee role stored in the user's
// committee_$_management_level template field.
type CommitteeManagementLevel string

const CommitteeCanManage CommitteeManagementLevel = "can_manage"

// MissingPermission names the level the acting user lacks. The server
// answers with 403.
type MissingPermission struct {
	Permission string
}

func (e MissingPermission) Error() string {
	return fmt.Sprintf("Missing permission: %s", e.Permission)
}

// Missing builds a MissingPermission for any level type.
func Missing[T ~string](level T) MissingPermission {
	return MissingPermission{Permission: string(level)}
}

// HasOrganisationManagementLevel reports whether the user holds at least
// the given level. The anonymous user (id 0) holds none.
func HasOrganisationManagementLevel(ctx context.Context, ds *datastore.Client, userID int, level OrganisationManagementLevel) (bool, error) {
	if userID <= 0 {
		return false, nil
	}
	fields, err := ds.Get(ctx, keys.FQID{Collection: "user", ID: userID}, "organisation_management_level")
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("reading management level of user %d: %w", userID, err)
	}
	held, _ := fields["organisation_management_level"].(string)
	return OrganisationManagementLevel(held).weight() >= level.weight(), nil
}

// HasCommitteeManagementLevel reports whether the user manages the
// committee. Organisation managers implicitly hold every committee level.
func HasCommitteeManagementLevel(ctx context.Context, ds *datastore.Client, userID int, level CommitteeManagementLevel, committeeID int) (bool, error) {
	ok, err := HasOrganisationManagementLevel(ctx, ds, userID, CanManageOrganisation)
	if err != nil || ok {
		return ok, err
	}
	field := fmt.Sprintf("committee_%d_management_level", committeeID)
	fields, err := ds.Get(ctx, keys.FQID{Collection: "user", ID: userID}, field)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("reading committee level of user %d: %w", userID, err)
	}
	held, _ := fields[field].(string)
	return CommitteeManagementLevel(held) == level, nil
}
