package server

import (
	"encoding/json"

	"grantline/internal/domain"
)

type CreateProjectRequest struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	OrgID   string `json:"org_id,omitempty"`
	OrgName string `json:"org_name,omitempty"`
}

type SubmitEventRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ResolveEventRequest struct {
	Decision string `json:"decision" enum:"approve,reject"`
}

type CapabilitiesResponse struct {
	ProjectID    string   `json:"project_id"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities"`
	CanResolve   bool     `json:"can_resolve"`
}

type paginatedEvents struct {
	Items []domain.Event `json:"items"`
}

type paginatedPolicies struct {
	Items []domain.Policy `json:"items"`
}

type paginatedNotifications struct {
	Items []domain.Notification `json:"items"`
}

func eventItems(in []domain.Event) []domain.Event {
	if in == nil {
		return []domain.Event{}
	}
	return in
}

func policyItems(in []domain.Policy) []domain.Policy {
	if in == nil {
		return []domain.Policy{}
	}
	return in
}

func notificationItems(in []domain.Notification) []domain.Notification {
	if in == nil {
		return []domain.Notification{}
	}
	return in
}
