package policy_test

import (
	"context"
	"reflect"
	"testing"

	"grantline/internal/domain"
	"grantline/internal/events"
	"grantline/internal/policy"
)

func notifyPolicy(id string, types ...string) domain.Policy {
	return domain.Policy{
		ID:         id,
		Scope:      domain.PolicyScopeProject,
		OwnerID:    "proj-1",
		Name:       id,
		EventTypes: types,
		ActionType: domain.PolicyActionNotify,
		Enabled:    true,
	}
}

func approvePolicy(id string, types ...string) domain.Policy {
	p := notifyPolicy(id, types...)
	p.ActionType = domain.PolicyActionApprove
	return p
}

func TestMatchingSkipsDisabled(t *testing.T) {
	disabled := notifyPolicy("p-1", "title.changed")
	disabled.Enabled = false
	policies := []domain.Policy{disabled, notifyPolicy("p-2", "title.changed")}
	got := policy.Matching(policies, events.TypeTitleChanged)
	if len(got) != 1 || got[0].ID != "p-2" {
		t.Fatalf("expected only enabled policy to match, got %+v", got)
	}
}

func TestMatchingByType(t *testing.T) {
	policies := []domain.Policy{
		notifyPolicy("p-1", "title.changed", "description.changed"),
		approvePolicy("p-2", "role.assigned"),
	}
	if got := policy.Matching(policies, events.TypeDescriptionChanged); len(got) != 1 || got[0].ID != "p-1" {
		t.Fatalf("type match wrong: %+v", got)
	}
	if got := policy.Matching(policies, events.TypeProductAdded); len(got) != 0 {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestRequiresApproval(t *testing.T) {
	policies := []domain.Policy{
		notifyPolicy("p-1", "title.changed"),
		approvePolicy("p-2", "role.assigned"),
	}
	// Zero matching policies: auto-apply.
	if policy.RequiresApproval(policies, events.TypeProductAdded) {
		t.Fatalf("no matching policy must auto-apply")
	}
	// Notify-only match: still auto-apply.
	if policy.RequiresApproval(policies, events.TypeTitleChanged) {
		t.Fatalf("notify-only match must auto-apply")
	}
	// Any approve match parks the event.
	if !policy.RequiresApproval(policies, events.TypeRoleAssigned) {
		t.Fatalf("approve match must require approval")
	}
	// Disabled approve policy does not count.
	off := approvePolicy("p-3", "title.changed")
	off.Enabled = false
	if policy.RequiresApproval(append(policies, off), events.TypeTitleChanged) {
		t.Fatalf("disabled approve policy must not require approval")
	}
}

type fakeRoles struct {
	project map[string][]string
	org     map[string][]string
}

func (f fakeRoles) UsersInProjectRole(ctx context.Context, projectID, roleID string) ([]string, error) {
	return f.project[roleID], nil
}

func (f fakeRoles) UsersInOrgRole(ctx context.Context, orgID, role string) ([]string, error) {
	return f.org[role], nil
}

func TestRecipientsUnionDedupSorted(t *testing.T) {
	p1 := notifyPolicy("p-1", "title.changed")
	p1.Recipients = domain.Recipients{
		Users:        []string{"carol", "alice"},
		ProjectRoles: []string{"coordinator"},
	}
	p2 := approvePolicy("p-2", "title.changed")
	p2.Recipients = domain.Recipients{
		Users:    []string{"alice"},
		OrgRoles: []string{"grants_office"},
	}
	roles := fakeRoles{
		project: map[string][]string{"coordinator": {"bob", "alice"}},
		org:     map[string][]string{"grants_office": {"dana"}},
	}
	got, err := policy.Recipients(context.Background(), []domain.Policy{p1, p2}, events.TypeTitleChanged, "proj-1", "org-1", roles)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	want := []string{"alice", "bob", "carol", "dana"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
}

func TestRecipientsOnlyFromMatchingPolicies(t *testing.T) {
	p := notifyPolicy("p-1", "role.assigned")
	p.Recipients = domain.Recipients{Users: []string{"alice"}}
	got, err := policy.Recipients(context.Background(), []domain.Policy{p}, events.TypeTitleChanged, "proj-1", "org-1", fakeRoles{})
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("non-matching policy contributed recipients: %v", got)
	}
}

func TestEditable(t *testing.T) {
	own := notifyPolicy("p-1", "title.changed")
	if !policy.Editable(own, "proj-1") {
		t.Fatalf("project-owned policy must be editable")
	}
	if policy.Editable(own, "proj-2") {
		t.Fatalf("other project's policy must not be editable")
	}
	inherited := own
	inherited.Scope = domain.PolicyScopeOrg
	inherited.OwnerID = "org-1"
	if policy.Editable(inherited, "proj-1") {
		t.Fatalf("org-scoped policy must be read-only from the project")
	}
}
