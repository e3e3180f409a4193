package grantlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Grantline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project mirrors the API project model.
type Project struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	StartDate    string            `json:"start_date,omitempty"`
	EndDate      string            `json:"end_date,omitempty"`
	OwningOrg    OrgRef            `json:"owning_org"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Members      []Member          `json:"members,omitempty"`
	Products     []Product         `json:"products,omitempty"`
	Raid         *RaidLink         `json:"raid,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

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

// Event is one proposed or applied project mutation.
type Event struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	Data       json.RawMessage `json:"data"`
	ActorID    string          `json:"actor_id"`
	At         string          `json:"at"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
	ResolvedAt string          `json:"resolved_at,omitempty"`
}

type Policy struct {
	ID         string   `json:"id"`
	Scope      string   `json:"scope"`
	OwnerID    string   `json:"owner_id"`
	Name       string   `json:"name"`
	EventTypes []string `json:"event_types"`
	ActionType string   `json:"action_type"`
	Enabled    bool     `json:"enabled"`
}

type Notification struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	EventID   string `json:"event_id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
	ReadAt    string `json:"read_at,omitempty"`
}

type Capabilities struct {
	ProjectID    string   `json:"project_id"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities"`
	CanResolve   bool     `json:"can_resolve"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetProject fetches the canonical project state.
func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

// GetProjected fetches the project with pending events folded in.
func (c *Client) GetProjected(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath("projected"), nil, &resp)
	return resp, err
}

// SubmitEvent proposes a mutation event.
func (c *Client) SubmitEvent(ctx context.Context, eventType string, data any) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	body := map[string]any{
		"type": eventType,
		"data": json.RawMessage(payload),
	}
	var resp Event
	err = c.do(ctx, http.MethodPost, c.projectPath("events"), body, &resp)
	return resp, err
}

// Events lists project events, optionally filtered by status.
func (c *Client) Events(ctx context.Context, status string) ([]Event, error) {
	endpoint := c.projectPath("events")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// ResolveEvent approves or rejects a pending event.
func (c *Client) ResolveEvent(ctx context.Context, eventID, decision string) (Event, error) {
	body := map[string]any{"decision": decision}
	var resp Event
	endpoint := fmt.Sprintf("v0/events/%s/resolve", url.PathEscape(eventID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Capabilities returns the calling actor's capability set for the project.
func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	var resp Capabilities
	err := c.do(ctx, http.MethodGet, c.projectPath("capabilities"), nil, &resp)
	return resp, err
}

// Policies lists event policies visible from the project.
func (c *Client) Policies(ctx context.Context, includeInherited bool) ([]Policy, error) {
	endpoint := fmt.Sprintf("%s?include_inherited=%t", c.projectPath("policies"), includeInherited)
	var resp struct {
		Items []Policy `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Notifications lists the calling actor's notifications.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "v0/notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp struct {
		Items []Notification `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// AckNotification marks a notification as read.
func (c *Client) AckNotification(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("v0/notifications/%s/ack", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	if p == "" {
		return fmt.Sprintf("v0/projects/%s", project)
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
