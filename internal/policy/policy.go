// Package policy implements the resolution semantics for event policies:
// which policies match a candidate event type, whether submission requires
// approval, and who gets notified. All matching enabled policies apply;
// notify and approve actions are not mutually exclusive.
package policy

import (
	"context"
	"sort"

	"grantline/internal/domain"
	"grantline/internal/events"
)

// Matching returns the enabled policies whose event type set contains t.
// Disabled policies never match.
func Matching(policies []domain.Policy, t events.Type) []domain.Policy {
	var out []domain.Policy
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		for _, et := range p.EventTypes {
			if events.Type(et) == t {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// RequiresApproval reports whether submitting an event of type t yields a
// pending event. Zero matching policies means auto-apply: submission is
// approved immediately. That default is deliberate and tested, not an
// error path.
func RequiresApproval(policies []domain.Policy, t events.Type) bool {
	for _, p := range Matching(policies, t) {
		if p.ActionType == domain.PolicyActionApprove {
			return true
		}
	}
	return false
}

// RoleResolver flattens role-based recipient kinds to user ids.
type RoleResolver interface {
	UsersInProjectRole(ctx context.Context, projectID, roleID string) ([]string, error)
	UsersInOrgRole(ctx context.Context, orgID, role string) ([]string, error)
}

// Recipients returns the deduplicated union of notify and approve
// recipients across every policy matching t, flattened to user ids. The
// result is sorted for stable output.
func Recipients(ctx context.Context, policies []domain.Policy, t events.Type, projectID, orgID string, roles RoleResolver) ([]string, error) {
	seen := map[string]bool{}
	for _, p := range Matching(policies, t) {
		for _, u := range p.Recipients.Users {
			seen[u] = true
		}
		for _, roleID := range p.Recipients.ProjectRoles {
			users, err := roles.UsersInProjectRole(ctx, projectID, roleID)
			if err != nil {
				return nil, err
			}
			for _, u := range users {
				seen[u] = true
			}
		}
		for _, role := range p.Recipients.OrgRoles {
			users, err := roles.UsersInOrgRole(ctx, orgID, role)
			if err != nil {
				return nil, err
			}
			for _, u := range users {
				seen[u] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

// Editable reports whether a policy may be edited or removed from the
// project identified by projectID. Org-scoped policies are inherited and
// read-only from the child project's view.
func Editable(p domain.Policy, projectID string) bool {
	return p.Scope == domain.PolicyScopeProject && p.OwnerID == projectID
}
