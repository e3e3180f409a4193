package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grantline/internal/access"
	"grantline/internal/config"
	"grantline/internal/domain"
	"grantline/internal/events"
	"grantline/internal/policy"
	"grantline/internal/projection"
	"grantline/internal/refresh"
	"grantline/internal/repo"
)

var (
	// ErrAlreadyResolved is returned when a resolve races another actor's
	// decision on the same event.
	ErrAlreadyResolved = errors.New("event already resolved")
	// ErrPolicyReadOnly is returned when a project tries to edit or remove
	// an inherited org-scoped policy.
	ErrPolicyReadOnly = errors.New("policy is inherited and read-only")
	// ErrUnknownEventType is returned on submission of a type outside the
	// closed enumeration.
	ErrUnknownEventType = errors.New("unknown event type")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Hub    *refresh.Hub
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Hub:    refresh.NewHub(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) publish(projectID, kind string) {
	if e.Hub != nil {
		e.Hub.Publish(refresh.Signal{ProjectID: projectID, Kind: kind})
	}
}

// InitOptions are parameters for creating a project.
type InitOptions struct {
	ProjectID string
	Title     string
	OrgID     string
	OrgName   string
	ActorID   string
}

// InitProject creates the project, seeds its role catalog, capability
// grants and default policies from config, and assigns the creator the
// first role in the catalog that carries the resolve capability.
func (e Engine) InitProject(ctx context.Context, opts InitOptions) (domain.Project, error) {
	if opts.Title == "" {
		return domain.Project{}, errors.New("title is required")
	}
	if opts.ActorID == "" {
		return domain.Project{}, errors.New("actor is required")
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(opts.ProjectID)
	}
	projectID := opts.ProjectID
	if projectID == "" {
		projectID = uuid.New().String()
	}
	orgID := opts.OrgID
	if orgID == "" {
		orgID = cfg.Project.Org
	}
	if orgID == "" {
		orgID = "default-org"
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureOrgTx(ctx, tx, orgID, opts.OrgName, now); err != nil {
		return domain.Project{}, fmt.Errorf("ensure org: %w", err)
	}
	p := domain.Project{
		ID:        projectID,
		Title:     opts.Title,
		OwningOrg: domain.OrgRef{ID: orgID, Name: opts.OrgName},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("seed config: %w", err)
	}
	creatorRole := ""
	for roleID, spec := range cfg.Roles.Catalog {
		if err := e.Repo.UpsertRoleTx(ctx, tx, roleID, spec.Name); err != nil {
			return domain.Project{}, err
		}
		for _, cap := range spec.Capabilities {
			if err := e.Repo.GrantRoleCapabilityTx(ctx, tx, roleID, cap); err != nil {
				return domain.Project{}, err
			}
			if events.Type(cap) == access.CapResolve && creatorRole == "" {
				creatorRole = roleID
			}
		}
	}
	for _, spec := range cfg.Policies.Defaults {
		enabled := true
		if spec.Enabled != nil {
			enabled = *spec.Enabled
		}
		pol := domain.Policy{
			ID:         uuid.New().String(),
			Scope:      domain.PolicyScopeProject,
			OwnerID:    projectID,
			Name:       spec.Name,
			EventTypes: spec.EventTypes,
			ActionType: spec.Action,
			Recipients: domain.Recipients{
				Users:        spec.Recipients.Users,
				ProjectRoles: spec.Recipients.ProjectRoles,
				OrgRoles:     spec.Recipients.OrgRoles,
			},
			Enabled:   enabled,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertPolicyTx(ctx, tx, pol); err != nil {
			return domain.Project{}, fmt.Errorf("seed policy %s: %w", spec.Name, err)
		}
	}
	if creatorRole != "" {
		if err := e.Repo.EnsurePersonTx(ctx, tx, opts.ActorID, "", now); err != nil {
			return domain.Project{}, err
		}
		if err := e.Repo.InsertMemberTx(ctx, tx, uuid.New().String(), projectID, opts.ActorID, creatorRole, now); err != nil {
			return domain.Project{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, projectID)
}

// SubmitOptions are parameters for proposing an event.
type SubmitOptions struct {
	ProjectID string
	ActorID   string
	Request   events.Request
}

// SubmitEvent appends a proposed mutation to the project's event log. The
// actor must hold the capability for the event type. Matching approve
// policies park the event as pending; otherwise it is approved and folded
// into canonical state in the same transaction.
func (e Engine) SubmitEvent(ctx context.Context, opts SubmitOptions) (domain.Event, error) {
	t := opts.Request.Type
	if !events.Known(t) {
		return domain.Event{}, fmt.Errorf("%w: %s", ErrUnknownEventType, t)
	}
	if opts.ActorID == "" {
		return domain.Event{}, errors.New("actor is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Event{}, err
	}
	set, err := e.CapabilitySet(ctx, opts.ProjectID, opts.ActorID)
	if err != nil {
		return domain.Event{}, err
	}
	if !set.HasAccess(t) {
		return domain.Event{}, access.ForbiddenError{EventType: t}
	}
	if err := e.checkPolicyEditable(ctx, opts.ProjectID, opts.Request); err != nil {
		return domain.Event{}, err
	}

	orgID, err := e.Repo.ProjectOrgID(ctx, opts.ProjectID)
	if err != nil {
		return domain.Event{}, err
	}
	policies, err := e.Repo.ListPolicies(ctx, opts.ProjectID, orgID, true)
	if err != nil {
		return domain.Event{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	evt := domain.Event{
		ID:        uuid.New().String(),
		ProjectID: opts.ProjectID,
		Type:      string(t),
		Status:    domain.EventStatusPending,
		Data:      opts.Request.Data,
		ActorID:   opts.ActorID,
		At:        now,
	}
	if !policy.RequiresApproval(policies, t) {
		evt.Status = domain.EventStatusApproved
		evt.ResolvedBy = opts.ActorID
		evt.ResolvedAt = now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertEventTx(ctx, tx, evt); err != nil {
		return domain.Event{}, err
	}
	if evt.Status == domain.EventStatusApproved {
		if err := e.applyEvent(ctx, tx, evt, now); err != nil {
			return domain.Event{}, err
		}
	}
	if err := e.notifyTx(ctx, tx, evt, policies, orgID, now); err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	e.publish(opts.ProjectID, refresh.KindEvents)
	if t == events.TypeRoleAssigned || t == events.TypeRoleUnassigned {
		e.publish(opts.ProjectID, refresh.KindAccess)
	}
	return evt, nil
}

// checkPolicyEditable rejects mutations targeting inherited org-scoped
// policies before they enter the log.
func (e Engine) checkPolicyEditable(ctx context.Context, projectID string, req events.Request) error {
	var policyID string
	switch req.Type {
	case events.TypePolicyUpdated:
		var p events.PolicyUpdatedPayload
		if err := decodePayload(req.Data, &p); err != nil {
			return err
		}
		policyID = p.PolicyID
	case events.TypePolicyRemoved:
		var p events.PolicyRemovedPayload
		if err := decodePayload(req.Data, &p); err != nil {
			return err
		}
		policyID = p.PolicyID
	default:
		return nil
	}
	target, err := e.Repo.GetPolicy(ctx, policyID)
	if err != nil {
		return err
	}
	if !policy.Editable(target, projectID) {
		return ErrPolicyReadOnly
	}
	return nil
}

// notifyTx fans out notifications per matching policy action: notify
// policies always, approve policies only while the event awaits a decision.
func (e Engine) notifyTx(ctx context.Context, tx *sql.Tx, evt domain.Event, policies []domain.Policy, orgID, now string) error {
	t := events.Type(evt.Type)
	kinds := []struct {
		action string
		kind   string
	}{
		{domain.PolicyActionNotify, domain.NotificationNotify},
		{domain.PolicyActionApprove, domain.NotificationApprovalRequest},
	}
	for _, k := range kinds {
		if k.action == domain.PolicyActionApprove && evt.Status != domain.EventStatusPending {
			continue
		}
		var subset []domain.Policy
		for _, p := range policies {
			if p.ActionType == k.action {
				subset = append(subset, p)
			}
		}
		users, err := policy.Recipients(ctx, subset, t, evt.ProjectID, orgID, e.Repo)
		if err != nil {
			return err
		}
		for _, u := range users {
			n := domain.Notification{
				ID:        uuid.New().String(),
				ProjectID: evt.ProjectID,
				EventID:   evt.ID,
				UserID:    u,
				Kind:      k.kind,
				CreatedAt: now,
			}
			if err := e.Repo.InsertNotificationTx(ctx, tx, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResolveEvent approves or rejects a pending event. Approval folds the
// event into canonical state in the same transaction; rejection discards
// it with no canonical effect. Losing a resolve race yields
// ErrAlreadyResolved, never a double apply.
func (e Engine) ResolveEvent(ctx context.Context, eventID, decision, actorID string) (domain.Event, error) {
	var status string
	switch decision {
	case "approve":
		status = domain.EventStatusApproved
	case "reject":
		status = domain.EventStatusRejected
	default:
		return domain.Event{}, fmt.Errorf("decision must be approve or reject, got %q", decision)
	}
	evt, err := e.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	set, err := e.CapabilitySet(ctx, evt.ProjectID, actorID)
	if err != nil {
		return domain.Event{}, err
	}
	if !set.CanResolve(events.Type(evt.Type)) {
		return domain.Event{}, access.ForbiddenError{EventType: events.Type(evt.Type)}
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.ResolveEventTx(ctx, tx, eventID, status, actorID, now)
	if err != nil {
		return domain.Event{}, err
	}
	if !ok {
		return domain.Event{}, ErrAlreadyResolved
	}
	if status == domain.EventStatusApproved {
		if err := e.applyEvent(ctx, tx, evt, now); err != nil {
			return domain.Event{}, err
		}
	}
	if err := e.Repo.DeleteNotificationsForEventTx(ctx, tx, eventID); err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	e.publish(evt.ProjectID, refresh.KindEvents)
	t := events.Type(evt.Type)
	if status == domain.EventStatusApproved && (t == events.TypeRoleAssigned || t == events.TypeRoleUnassigned) {
		e.publish(evt.ProjectID, refresh.KindAccess)
	}
	evt.Status = status
	evt.ResolvedBy = actorID
	evt.ResolvedAt = now
	return evt, nil
}

// ProjectedProject returns the canonical project with pending events
// folded on top. The canonical row is never touched.
func (e Engine) ProjectedProject(ctx context.Context, projectID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	pending, err := e.Repo.PendingEvents(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	return projection.Apply(p, pending), nil
}

// CapabilitySet derives the actor's capability set for a project straight
// from the database. A query failure yields the deny-all errored set
// alongside the error so callers can render degraded state.
func (e Engine) CapabilitySet(ctx context.Context, projectID, actorID string) (access.Set, error) {
	caps, err := e.Repo.ActorCapabilities(ctx, projectID, actorID)
	if err != nil {
		return access.Failed(projectID), err
	}
	types := make([]events.Type, 0, len(caps))
	for _, c := range caps {
		types = append(types, events.Type(c))
	}
	return access.Ready(projectID, types), nil
}

// Policies lists the policies visible from a project, optionally including
// inherited org-scoped ones.
func (e Engine) Policies(ctx context.Context, projectID string, includeInherited bool) ([]domain.Policy, error) {
	orgID, err := e.Repo.ProjectOrgID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListPolicies(ctx, projectID, orgID, includeInherited)
}
