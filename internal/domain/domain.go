package domain

import "encoding/json"

type OrgRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Member struct {
	ID         string `json:"id"`
	PersonID   string `json:"person_id"`
	PersonName string `json:"person_name,omitempty"`
	RoleID     string `json:"role_id"`
	RoleName   string `json:"role_name,omitempty"`
	Pending    bool   `json:"pending,omitempty"`
}

type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Pending  bool   `json:"pending,omitempty"`
}

type RaidLink struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Project is the canonical, server-confirmed state. Only approved events
// mutate it; clients fold pending events on top for display.
type Project struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	StartDate    string            `json:"start_date,omitempty" format:"date"`
	EndDate      string            `json:"end_date,omitempty" format:"date"`
	OwningOrg    OrgRef            `json:"owning_org"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Members      []Member          `json:"members,omitempty"`
	Products     []Product         `json:"products,omitempty"`
	Raid         *RaidLink         `json:"raid,omitempty"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
}

const (
	EventStatusPending  = "pending"
	EventStatusApproved = "approved"
	EventStatusRejected = "rejected"
)

// Event is one proposed or applied mutation to a project. Data shape is
// fully determined by Type.
type Event struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Type       string          `json:"type"`
	Status     string          `json:"status" enum:"pending,approved,rejected"`
	Data       json.RawMessage `json:"data"`
	ActorID    string          `json:"actor_id"`
	At         string          `json:"at" format:"date-time"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
	ResolvedAt string          `json:"resolved_at,omitempty" format:"date-time"`
}

const (
	PolicyActionNotify  = "notify"
	PolicyActionApprove = "approve"

	PolicyScopeProject = "project"
	PolicyScopeOrg     = "org"
)

type Recipients struct {
	Users        []string `json:"users,omitempty"`
	ProjectRoles []string `json:"project_roles,omitempty"`
	OrgRoles     []string `json:"org_roles,omitempty"`
}

// Policy routes matching event types to an action. Scope "org" policies are
// inherited by every project under the owning organisation and are read-only
// from the project view.
type Policy struct {
	ID         string     `json:"id"`
	Scope      string     `json:"scope" enum:"project,org"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	EventTypes []string   `json:"event_types"`
	ActionType string     `json:"action_type" enum:"notify,approve"`
	Recipients Recipients `json:"recipients"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	UpdatedAt  string     `json:"updated_at" format:"date-time"`
}

const (
	NotificationNotify          = "notify"
	NotificationApprovalRequest = "approval_request"
)

type Notification struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	EventID   string `json:"event_id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind" enum:"notify,approval_request"`
	CreatedAt string `json:"created_at" format:"date-time"`
	ReadAt    string `json:"read_at,omitempty" format:"date-time"`
}

type Person struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
