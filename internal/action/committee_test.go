package action_test

import (
	"context"
	"testing"

	"github.com/plenumhq/plenum/internal/testutil"
)

func seedCommitteeUsers(ds *testutil.Memory) {
	ds.Seed("committee/1", map[string]any{"name": "audit"})
	ds.Seed("user/10", map[string]any{
		"username":                     "manager",
		"committee_1_management_level": "can_manage",
	})
	ds.Seed("user/11", map[string]any{
		"username":                      "orga",
		"organisation_management_level": "can_manage_organisation",
	})
	ds.Seed("user/12", map[string]any{"username": "plain"})
	ds.Seed("user/13", map[string]any{
		"username":                      "root",
		"organisation_management_level": "superadmin",
	})
}

func TestCommitteeUpdatePermissions(t *testing.T) {
	tests := []struct {
		name   string
		userID int
		data   string
		want   string // error message, empty when the update is allowed
	}{
		{
			name:   "anonymous cannot rename",
			userID: 0,
			data:   `{"id": 1, "name": "renamed"}`,
			want:   "Missing permission: can_manage",
		},
		{
			name:   "plain user cannot rename",
			userID: 12,
			data:   `{"id": 1, "name": "renamed"}`,
			want:   "Missing permission: can_manage",
		},
		{
			name:   "committee manager renames",
			userID: 10,
			data:   `{"id": 1, "name": "renamed"}`,
		},
		{
			name:   "organisation manager renames",
			userID: 11,
			data:   `{"id": 1, "name": "renamed"}`,
		},
		{
			name:   "committee manager cannot edit members",
			userID: 10,
			data:   `{"id": 1, "user_ids": [12]}`,
			want:   "Missing permission: can_manage_organisation",
		},
		{
			name:   "organisation manager edits members",
			userID: 11,
			data:   `{"id": 1, "user_ids": [12]}`,
		},
		{
			name:   "superadmin edits members",
			userID: 13,
			data:   `{"id": 1, "user_ids": [12]}`,
		},
		{
			name:   "tags need one of the levels",
			userID: 12,
			data:   `{"id": 1, "organisation_tag_ids": []}`,
			want:   "Missing can_manage_organisation and not manager.",
		},
		{
			name:   "committee manager edits tags",
			userID: 10,
			data:   `{"id": 1, "organisation_tag_ids": []}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := testutil.NewMemory()
			seedCommitteeUsers(ds)
			body := `[{"action": "committee.update", "data": [` + tt.data + `]}]`
			_, err := newHandler(ds).Handle(context.Background(), []byte(body), tt.userID)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Handle() error = %v", err)
				}
				if len(ds.Writes()) != 1 {
					t.Errorf("got %d writes, want 1", len(ds.Writes()))
				}
				return
			}
			if err == nil {
				t.Fatal("Handle() succeeded, want a permission error")
			}
			if err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err, tt.want)
			}
			if len(ds.Writes()) != 0 {
				t.Errorf("a refused update wrote %d times", len(ds.Writes()))
			}
		})
	}
}

func TestCommitteeCreateNeedsNoPermission(t *testing.T) {
	ds := testutil.NewMemory()

	result := handle(t, ds, `[{"action": "committee.create", "data": [{"name": "finance", "description": "budget"}]}]`)

	write := singleWrite(t, ds)
	if len(write.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(write.Events))
	}
	fields := write.Events[0].Fields
	if fields["name"] != "finance" || fields["description"] != "budget" {
		t.Errorf("create fields = %v", fields)
	}
	if len(result.Written) != 1 || result.Written[0].FQID.String() != "committee/1" {
		t.Errorf("result written = %v, want committee/1", result.Written)
	}
}

func TestCommitteeForwardingPair(t *testing.T) {
	ds := testutil.NewMemory()
	ds.Seed("committee/1", map[string]any{"name": "audit"})
	ds.Seed("committee/2", map[string]any{"name": "finance"})
	ds.Seed("user/11", map[string]any{
		"username":                      "orga",
		"organisation_management_level": "can_manage_organisation",
	})

	body := `[{"action": "committee.update", "data": [{"id": 1, "forward_to_committee_ids": [2]}]}]`
	if _, err := newHandler(ds).Handle(context.Background(), []byte(body), 11); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// Forwarding is a directed pair of lists on the same collection.
	checkIntList(t, ds.Instance("committee/1"), "forward_to_committee_ids", 2)
	checkIntList(t, ds.Instance("committee/2"), "receive_forwardings_from_committee_ids", 1)
}
