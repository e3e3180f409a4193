// Package events defines the closed taxonomy of project mutation events:
// one Type per mutation kind, one payload struct per Type, and one
// constructor per Type returning a submit-ready request. Constructors
// validate payloads up front so malformed events are caught before they
// reach the server.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeTitleChanged       Type = "title.changed"
	TypeDescriptionChanged Type = "description.changed"
	TypeStartDateChanged   Type = "start_date.changed"
	TypeEndDateChanged     Type = "end_date.changed"
	TypeOwningOrgChanged   Type = "owning_org.changed"
	TypeCustomFieldSet     Type = "custom_field.set"
	TypeProductAdded       Type = "product.added"
	TypeProductRemoved     Type = "product.removed"
	TypeRoleAssigned       Type = "role.assigned"
	TypeRoleUnassigned     Type = "role.unassigned"
	TypePolicyAdded        Type = "policy.added"
	TypePolicyRemoved      Type = "policy.removed"
	TypePolicyUpdated      Type = "policy.updated"
	TypeRaidLinked         Type = "raid.linked"
	TypeRaidUpdated        Type = "raid.updated"
)

// All returns every member of the enumeration in a stable order.
func All() []Type {
	return []Type{
		TypeTitleChanged,
		TypeDescriptionChanged,
		TypeStartDateChanged,
		TypeEndDateChanged,
		TypeOwningOrgChanged,
		TypeCustomFieldSet,
		TypeProductAdded,
		TypeProductRemoved,
		TypeRoleAssigned,
		TypeRoleUnassigned,
		TypePolicyAdded,
		TypePolicyRemoved,
		TypePolicyUpdated,
		TypeRaidLinked,
		TypeRaidUpdated,
	}
}

// Known reports whether t is a member of the closed enumeration. Unknown
// types are tolerated downstream (projection treats them as no-ops) but
// cannot be constructed or submitted from here.
func Known(t Type) bool {
	switch t {
	case TypeTitleChanged, TypeDescriptionChanged, TypeStartDateChanged,
		TypeEndDateChanged, TypeOwningOrgChanged, TypeCustomFieldSet,
		TypeProductAdded, TypeProductRemoved, TypeRoleAssigned,
		TypeRoleUnassigned, TypePolicyAdded, TypePolicyRemoved,
		TypePolicyUpdated, TypeRaidLinked, TypeRaidUpdated:
		return true
	}
	return false
}

// Payloads. One struct per type; the struct is the single source of truth
// for the wire shape of Event.Data.

type TitleChangedPayload struct {
	Title string `json:"title"`
}

type DescriptionChangedPayload struct {
	Description string `json:"description"`
}

type StartDateChangedPayload struct {
	StartDate string `json:"start_date"`
}

type EndDateChangedPayload struct {
	EndDate string `json:"end_date"`
}

type OwningOrgChangedPayload struct {
	OrgNodeID string `json:"org_node_id"`
}

type CustomFieldSetPayload struct {
	DefinitionID string `json:"definition_id"`
	Value        string `json:"value"`
}

type ProductAddedPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
}

type ProductRemovedPayload struct {
	ProductID string `json:"product_id"`
}

// RoleAssignedPayload embeds a person/role snapshot so pending members can
// be rendered before the event is approved.
type RoleAssignedPayload struct {
	PersonID      string `json:"person_id"`
	PersonName    string `json:"person_name,omitempty"`
	ProjectRoleID string `json:"project_role_id"`
	RoleName      string `json:"role_name,omitempty"`
}

type RoleUnassignedPayload struct {
	PersonID      string `json:"person_id"`
	ProjectRoleID string `json:"project_role_id"`
}

type PolicyRecipients struct {
	Users        []string `json:"users,omitempty"`
	ProjectRoles []string `json:"project_roles,omitempty"`
	OrgRoles     []string `json:"org_roles,omitempty"`
}

type PolicyAddedPayload struct {
	PolicyID   string           `json:"policy_id"`
	Name       string           `json:"name"`
	EventTypes []string         `json:"event_types"`
	ActionType string           `json:"action_type"`
	Recipients PolicyRecipients `json:"recipients"`
	Enabled    bool             `json:"enabled"`
}

type PolicyRemovedPayload struct {
	PolicyID string `json:"policy_id"`
}

type PolicyUpdatedPayload struct {
	PolicyID   string           `json:"policy_id"`
	Name       string           `json:"name,omitempty"`
	EventTypes []string         `json:"event_types,omitempty"`
	ActionType string           `json:"action_type,omitempty"`
	Recipients PolicyRecipients `json:"recipients"`
	Enabled    *bool            `json:"enabled,omitempty"`
}

type RaidLinkedPayload struct {
	RaidID string `json:"raid_id"`
	Title  string `json:"title,omitempty"`
}

type RaidUpdatedPayload struct {
	RaidID string `json:"raid_id,omitempty"`
	Title  string `json:"title,omitempty"`
}

// Request is a validated, submit-ready event proposal. It carries no
// identity or status; the server assigns both on submission.
type Request struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newRequest(t Type, payload any) (Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Request{Type: t, Data: data}, nil
}

const dateLayout = "2006-01-02"

func validDate(v string) error {
	if _, err := time.Parse(dateLayout, v); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return nil
}

func NewTitleChanged(title string) (Request, error) {
	if strings.TrimSpace(title) == "" {
		return Request{}, errors.New("title is required")
	}
	return newRequest(TypeTitleChanged, TitleChangedPayload{Title: title})
}

func NewDescriptionChanged(description string) (Request, error) {
	if strings.TrimSpace(description) == "" {
		return Request{}, errors.New("description is required")
	}
	return newRequest(TypeDescriptionChanged, DescriptionChangedPayload{Description: description})
}

func NewStartDateChanged(startDate string) (Request, error) {
	if err := validDate(startDate); err != nil {
		return Request{}, err
	}
	return newRequest(TypeStartDateChanged, StartDateChangedPayload{StartDate: startDate})
}

func NewEndDateChanged(endDate string) (Request, error) {
	if err := validDate(endDate); err != nil {
		return Request{}, err
	}
	return newRequest(TypeEndDateChanged, EndDateChangedPayload{EndDate: endDate})
}

func NewOwningOrgChanged(orgNodeID string) (Request, error) {
	if strings.TrimSpace(orgNodeID) == "" {
		return Request{}, errors.New("org_node_id is required")
	}
	return newRequest(TypeOwningOrgChanged, OwningOrgChangedPayload{OrgNodeID: orgNodeID})
}

func NewCustomFieldSet(definitionID, value string) (Request, error) {
	if strings.TrimSpace(definitionID) == "" {
		return Request{}, errors.New("definition_id is required")
	}
	return newRequest(TypeCustomFieldSet, CustomFieldSetPayload{DefinitionID: definitionID, Value: value})
}

func NewProductAdded(productID, name, category string) (Request, error) {
	if strings.TrimSpace(productID) == "" {
		return Request{}, errors.New("product_id is required")
	}
	if strings.TrimSpace(name) == "" {
		return Request{}, errors.New("name is required")
	}
	return newRequest(TypeProductAdded, ProductAddedPayload{ProductID: productID, Name: name, Category: category})
}

func NewProductRemoved(productID string) (Request, error) {
	if strings.TrimSpace(productID) == "" {
		return Request{}, errors.New("product_id is required")
	}
	return newRequest(TypeProductRemoved, ProductRemovedPayload{ProductID: productID})
}

func NewRoleAssigned(personID, personName, projectRoleID, roleName string) (Request, error) {
	if strings.TrimSpace(personID) == "" {
		return Request{}, errors.New("person_id is required")
	}
	if strings.TrimSpace(projectRoleID) == "" {
		return Request{}, errors.New("project_role_id is required")
	}
	return newRequest(TypeRoleAssigned, RoleAssignedPayload{
		PersonID:      personID,
		PersonName:    personName,
		ProjectRoleID: projectRoleID,
		RoleName:      roleName,
	})
}

func NewRoleUnassigned(personID, projectRoleID string) (Request, error) {
	if strings.TrimSpace(personID) == "" {
		return Request{}, errors.New("person_id is required")
	}
	if strings.TrimSpace(projectRoleID) == "" {
		return Request{}, errors.New("project_role_id is required")
	}
	return newRequest(TypeRoleUnassigned, RoleUnassignedPayload{PersonID: personID, ProjectRoleID: projectRoleID})
}

func NewPolicyAdded(p PolicyAddedPayload) (Request, error) {
	if strings.TrimSpace(p.PolicyID) == "" {
		return Request{}, errors.New("policy_id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return Request{}, errors.New("name is required")
	}
	if len(p.EventTypes) == 0 {
		return Request{}, errors.New("event_types is required")
	}
	if p.ActionType != "notify" && p.ActionType != "approve" {
		return Request{}, fmt.Errorf("action_type must be notify or approve, got %q", p.ActionType)
	}
	return newRequest(TypePolicyAdded, p)
}

func NewPolicyRemoved(policyID string) (Request, error) {
	if strings.TrimSpace(policyID) == "" {
		return Request{}, errors.New("policy_id is required")
	}
	return newRequest(TypePolicyRemoved, PolicyRemovedPayload{PolicyID: policyID})
}

func NewPolicyUpdated(p PolicyUpdatedPayload) (Request, error) {
	if strings.TrimSpace(p.PolicyID) == "" {
		return Request{}, errors.New("policy_id is required")
	}
	if p.ActionType != "" && p.ActionType != "notify" && p.ActionType != "approve" {
		return Request{}, fmt.Errorf("action_type must be notify or approve, got %q", p.ActionType)
	}
	return newRequest(TypePolicyUpdated, p)
}

func NewRaidLinked(raidID, title string) (Request, error) {
	if strings.TrimSpace(raidID) == "" {
		return Request{}, errors.New("raid_id is required")
	}
	return newRequest(TypeRaidLinked, RaidLinkedPayload{RaidID: raidID, Title: title})
}

func NewRaidUpdated(raidID, title string) (Request, error) {
	if strings.TrimSpace(raidID) == "" && strings.TrimSpace(title) == "" {
		return Request{}, errors.New("raid_id or title is required")
	}
	return newRequest(TypeRaidUpdated, RaidUpdatedPayload{RaidID: raidID, Title: title})
}
