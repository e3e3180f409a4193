// Package projection folds pending events onto a canonical project to
// produce the "as if approved" view. Apply is pure: the canonical input is
// deep-copied and never mutated, so callers holding the canonical value
// never observe projection side effects.
package projection

import (
	"encoding/json"
	"log"

	"grantline/internal/domain"
	"grantline/internal/events"
)

// PendingMemberID builds the synthetic id for a member projected from a
// role.assigned event. Namespacing with "pending:" keeps the id stable
// across recomputes and cannot collide with canonical member ids.
func PendingMemberID(personID, roleID string) string {
	return "pending:" + personID + ":" + roleID
}

// Apply returns canonical with every pending event folded in, in the order
// given. Events whose status is not pending are skipped. Unknown event
// types and malformed payloads are no-ops: pending events may be stale
// relative to a racing approval, so projection degrades instead of failing.
func Apply(canonical domain.Project, pending []domain.Event) domain.Project {
	projected := clone(canonical)
	for _, evt := range pending {
		if evt.Status != domain.EventStatusPending {
			continue
		}
		applyEvent(&projected, evt)
	}
	return projected
}

func clone(p domain.Project) domain.Project {
	out := p
	if p.CustomFields != nil {
		out.CustomFields = make(map[string]string, len(p.CustomFields))
		for k, v := range p.CustomFields {
			out.CustomFields[k] = v
		}
	}
	if p.Members != nil {
		out.Members = make([]domain.Member, len(p.Members))
		copy(out.Members, p.Members)
	}
	if p.Products != nil {
		out.Products = make([]domain.Product, len(p.Products))
		copy(out.Products, p.Products)
	}
	if p.Raid != nil {
		raid := *p.Raid
		out.Raid = &raid
	}
	return out
}

func applyEvent(p *domain.Project, evt domain.Event) {
	switch events.Type(evt.Type) {
	case events.TypeTitleChanged:
		var payload events.TitleChangedPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.Title != "" {
			p.Title = payload.Title
		}
	case events.TypeDescriptionChanged:
		var payload events.DescriptionChangedPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.Description != "" {
			p.Description = payload.Description
		}
	case events.TypeStartDateChanged:
		var payload events.StartDateChangedPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.StartDate != "" {
			p.StartDate = payload.StartDate
		}
	case events.TypeEndDateChanged:
		var payload events.EndDateChangedPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.EndDate != "" {
			p.EndDate = payload.EndDate
		}
	case events.TypeOwningOrgChanged:
		var payload events.OwningOrgChangedPayload
		if !decode(evt, &payload) {
			return
		}
		// Only the id moves; the cached name may go stale until the
		// canonical refetch.
		if payload.OrgNodeID != "" {
			p.OwningOrg.ID = payload.OrgNodeID
		}
	case events.TypeCustomFieldSet:
		var payload events.CustomFieldSetPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.DefinitionID == "" {
			skip(evt, "missing definition_id")
			return
		}
		if p.CustomFields == nil {
			p.CustomFields = map[string]string{}
		}
		p.CustomFields[payload.DefinitionID] = payload.Value
	case events.TypeProductAdded:
		var payload events.ProductAddedPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.ProductID == "" {
			skip(evt, "missing product_id")
			return
		}
		p.Products = append(p.Products, domain.Product{
			ID:       payload.ProductID,
			Name:     payload.Name,
			Category: payload.Category,
			Pending:  true,
		})
	case events.TypeProductRemoved:
		var payload events.ProductRemovedPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.ProductID == "" {
			skip(evt, "missing product_id")
			return
		}
		kept := p.Products[:0:0]
		for _, prod := range p.Products {
			if prod.ID != payload.ProductID {
				kept = append(kept, prod)
			}
		}
		p.Products = kept
	case events.TypeRoleAssigned:
		var payload events.RoleAssignedPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.PersonID == "" || payload.ProjectRoleID == "" {
			skip(evt, "missing person or role id")
			return
		}
		p.Members = append(p.Members, domain.Member{
			ID:         PendingMemberID(payload.PersonID, payload.ProjectRoleID),
			PersonID:   payload.PersonID,
			PersonName: payload.PersonName,
			RoleID:     payload.ProjectRoleID,
			RoleName:   payload.RoleName,
			Pending:    true,
		})
	case events.TypeRoleUnassigned:
		var payload events.RoleUnassignedPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.PersonID == "" || payload.ProjectRoleID == "" {
			skip(evt, "missing person or role id")
			return
		}
		kept := p.Members[:0:0]
		for _, m := range p.Members {
			if m.PersonID == payload.PersonID && m.RoleID == payload.ProjectRoleID {
				continue
			}
			kept = append(kept, m)
		}
		p.Members = kept
	case events.TypeRaidLinked:
		var payload events.RaidLinkedPayload
		if !decode(evt, &payload) {
			return
		}
		if payload.RaidID == "" {
			skip(evt, "missing raid_id")
			return
		}
		p.Raid = &domain.RaidLink{ID: payload.RaidID, Title: payload.Title}
	case events.TypeRaidUpdated:
		var payload events.RaidUpdatedPayload
		if !decode(evt, &payload) {
			return
		}
		if p.Raid == nil {
			skip(evt, "no raid linked")
			return
		}
		if payload.RaidID != "" {
			p.Raid.ID = payload.RaidID
		}
		if payload.Title != "" {
			p.Raid.Title = payload.Title
		}
	default:
		// Unknown type: ignore for forward compatibility. The raw event
		// still appears in any pending list surfaced to callers.
	}
}

func decode(evt domain.Event, into any) bool {
	if len(evt.Data) == 0 {
		skip(evt, "empty payload")
		return false
	}
	if err := json.Unmarshal(evt.Data, into); err != nil {
		skip(evt, err.Error())
		return false
	}
	return true
}

func skip(evt domain.Event, reason string) {
	log.Printf("projection: skipping event %s type=%s: %s", evt.ID, evt.Type, reason)
}
