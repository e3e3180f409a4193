package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"grantline/internal/domain"
	"grantline/internal/events"
	"grantline/internal/repo"
)

func decodePayload(data json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// applyEvent folds one approved event into canonical state. Runs inside
// the transaction that flipped the event to approved so a crash cannot
// leave an approved event unapplied. Unknown types are a deliberate no-op
// for forward compatibility with newer writers.
func (e Engine) applyEvent(ctx context.Context, tx *sql.Tx, evt domain.Event, now string) error {
	r := e.Repo
	projectID := evt.ProjectID
	switch events.Type(evt.Type) {
	case events.TypeTitleChanged:
		var p events.TitleChangedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.SetProjectTitleTx(ctx, tx, projectID, p.Title, now)

	case events.TypeDescriptionChanged:
		var p events.DescriptionChangedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.SetProjectDescriptionTx(ctx, tx, projectID, p.Description, now)

	case events.TypeStartDateChanged:
		var p events.StartDateChangedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.SetProjectStartDateTx(ctx, tx, projectID, p.StartDate, now)

	case events.TypeEndDateChanged:
		var p events.EndDateChangedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.SetProjectEndDateTx(ctx, tx, projectID, p.EndDate, now)

	case events.TypeOwningOrgChanged:
		var p events.OwningOrgChangedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		if err := r.EnsureOrgTx(ctx, tx, p.OrgNodeID, "", now); err != nil {
			return err
		}
		return r.SetProjectOrgTx(ctx, tx, projectID, p.OrgNodeID, now)

	case events.TypeCustomFieldSet:
		var p events.CustomFieldSetPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.UpsertCustomFieldTx(ctx, tx, projectID, p.DefinitionID, p.Value)

	case events.TypeProductAdded:
		var p events.ProductAddedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.InsertProductTx(ctx, tx, projectID, domain.Product{ID: p.ProductID, Name: p.Name, Category: p.Category}, now)

	case events.TypeProductRemoved:
		var p events.ProductRemovedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.DeleteProductTx(ctx, tx, projectID, p.ProductID)

	case events.TypeRoleAssigned:
		var p events.RoleAssignedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		if err := r.EnsurePersonTx(ctx, tx, p.PersonID, p.PersonName, now); err != nil {
			return err
		}
		if err := r.UpsertRoleTx(ctx, tx, p.ProjectRoleID, p.RoleName); err != nil {
			return err
		}
		return r.InsertMemberTx(ctx, tx, uuid.New().String(), projectID, p.PersonID, p.ProjectRoleID, now)

	case events.TypeRoleUnassigned:
		var p events.RoleUnassignedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.DeleteMemberTx(ctx, tx, projectID, p.PersonID, p.ProjectRoleID)

	case events.TypePolicyAdded:
		var p events.PolicyAddedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.InsertPolicyTx(ctx, tx, domain.Policy{
			ID:         p.PolicyID,
			Scope:      domain.PolicyScopeProject,
			OwnerID:    projectID,
			Name:       p.Name,
			EventTypes: p.EventTypes,
			ActionType: p.ActionType,
			Recipients: domain.Recipients{
				Users:        p.Recipients.Users,
				ProjectRoles: p.Recipients.ProjectRoles,
				OrgRoles:     p.Recipients.OrgRoles,
			},
			Enabled:   p.Enabled,
			CreatedAt: now,
			UpdatedAt: now,
		})

	case events.TypePolicyRemoved:
		var p events.PolicyRemovedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.DeletePolicyTx(ctx, tx, p.PolicyID)

	case events.TypePolicyUpdated:
		var p events.PolicyUpdatedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return e.applyPolicyUpdate(ctx, tx, p, now)

	case events.TypeRaidLinked:
		var p events.RaidLinkedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return r.SetRaidTx(ctx, tx, projectID, p.RaidID, p.Title, now)

	case events.TypeRaidUpdated:
		var p events.RaidUpdatedPayload
		if err := decodePayload(evt.Data, &p); err != nil {
			return err
		}
		return e.applyRaidUpdate(ctx, tx, projectID, p, now)

	default:
		log.Printf("apply: skipping unknown event type %s (%s)", evt.Type, evt.ID)
		return nil
	}
}

// applyPolicyUpdate merges the partial payload onto the stored policy.
// Empty payload fields leave the stored value untouched.
func (e Engine) applyPolicyUpdate(ctx context.Context, tx *sql.Tx, p events.PolicyUpdatedPayload, now string) error {
	stored, err := e.Repo.GetPolicy(ctx, p.PolicyID)
	if err != nil {
		return err
	}
	if p.Name != "" {
		stored.Name = p.Name
	}
	if len(p.EventTypes) > 0 {
		stored.EventTypes = p.EventTypes
	}
	if p.ActionType != "" {
		stored.ActionType = p.ActionType
	}
	if len(p.Recipients.Users) > 0 || len(p.Recipients.ProjectRoles) > 0 || len(p.Recipients.OrgRoles) > 0 {
		stored.Recipients = domain.Recipients{
			Users:        p.Recipients.Users,
			ProjectRoles: p.Recipients.ProjectRoles,
			OrgRoles:     p.Recipients.OrgRoles,
		}
	}
	if p.Enabled != nil {
		stored.Enabled = *p.Enabled
	}
	stored.UpdatedAt = now
	return e.Repo.UpdatePolicyTx(ctx, tx, stored)
}

// applyRaidUpdate merges onto the existing raid link; an update with only
// a title keeps the stored identifier.
func (e Engine) applyRaidUpdate(ctx context.Context, tx *sql.Tx, projectID string, p events.RaidUpdatedPayload, now string) error {
	var raidID, raidTitle sql.NullString
	err := e.DB.QueryRowContext(ctx, `SELECT raid_id, raid_title FROM projects WHERE id=?`, projectID).
		Scan(&raidID, &raidTitle)
	if err == sql.ErrNoRows {
		return repo.ErrNotFound
	}
	if err != nil {
		return err
	}
	id := raidID.String
	title := raidTitle.String
	if p.RaidID != "" {
		id = p.RaidID
	}
	if p.Title != "" {
		title = p.Title
	}
	return e.Repo.SetRaidTx(ctx, tx, projectID, id, title, now)
}
