package repo_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"grantline/internal/db"
	"grantline/internal/domain"
	"grantline/internal/migrate"
	"grantline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func inTx(t *testing.T, r repo.Repo, ctx context.Context, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedProject(t *testing.T, r repo.Repo, ctx context.Context, id string) {
	t.Helper()
	now := "2024-01-01T00:00:00Z"
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.EnsureOrgTx(ctx, tx, "org-1", "Org One", now); err != nil {
			return err
		}
		return r.InsertProjectTx(ctx, tx, domain.Project{
			ID:        id,
			Title:     "Seeded",
			OwningOrg: domain.OrgRef{ID: "org-1"},
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
}

func TestEventLogCausalOrder(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "proj-1")
	// Insert with out-of-order ids and identical timestamps; seq must
	// still reflect insertion order.
	for i := 0; i < 5; i++ {
		evt := domain.Event{
			ID:        fmt.Sprintf("evt-%d", 4-i),
			ProjectID: "proj-1",
			Type:      "title.changed",
			Status:    domain.EventStatusPending,
			Data:      []byte(fmt.Sprintf(`{"title":"t%d"}`, i)),
			ActorID:   "tester",
			At:        "2024-01-01T00:00:00Z",
		}
		inTx(t, r, ctx, func(tx *sql.Tx) error {
			return r.InsertEventTx(ctx, tx, evt)
		})
	}
	items, err := r.ListEvents(ctx, repo.EventFilters{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 events, got %d", len(items))
	}
	for i, evt := range items {
		want := fmt.Sprintf("evt-%d", 4-i)
		if evt.ID != want {
			t.Fatalf("position %d: got %s, want %s (insertion order broken)", i, evt.ID, want)
		}
	}
}

func TestEventFilters(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "proj-1")
	events := []domain.Event{
		{ID: "e-1", ProjectID: "proj-1", Type: "title.changed", Status: domain.EventStatusApproved, Data: []byte(`{}`), ActorID: "a", At: "2024-01-01T00:00:00Z"},
		{ID: "e-2", ProjectID: "proj-1", Type: "product.added", Status: domain.EventStatusPending, Data: []byte(`{}`), ActorID: "a", At: "2024-01-01T00:00:00Z"},
		{ID: "e-3", ProjectID: "proj-1", Type: "title.changed", Status: domain.EventStatusPending, Data: []byte(`{}`), ActorID: "a", At: "2024-01-01T00:00:00Z"},
	}
	for _, evt := range events {
		evt := evt
		inTx(t, r, ctx, func(tx *sql.Tx) error { return r.InsertEventTx(ctx, tx, evt) })
	}

	pending, err := r.PendingEvents(ctx, "proj-1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "e-2" {
		t.Fatalf("pending events wrong: %+v", pending)
	}

	byType, err := r.ListEvents(ctx, repo.EventFilters{ProjectID: "proj-1", Type: "title.changed"})
	if err != nil {
		t.Fatalf("by type: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("type filter wrong: %+v", byType)
	}

	limited, err := r.ListEvents(ctx, repo.EventFilters{ProjectID: "proj-1", Limit: 1})
	if err != nil {
		t.Fatalf("limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %+v", limited)
	}
}

func TestResolveEventGuard(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "proj-1")
	evt := domain.Event{
		ID: "e-1", ProjectID: "proj-1", Type: "title.changed",
		Status: domain.EventStatusPending, Data: []byte(`{}`),
		ActorID: "a", At: "2024-01-01T00:00:00Z",
	}
	inTx(t, r, ctx, func(tx *sql.Tx) error { return r.InsertEventTx(ctx, tx, evt) })

	inTx(t, r, ctx, func(tx *sql.Tx) error {
		ok, err := r.ResolveEventTx(ctx, tx, "e-1", domain.EventStatusApproved, "approver", "2024-01-02T00:00:00Z")
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("first resolve must win")
		}
		return nil
	})

	// The losing side of the race matches zero rows.
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		ok, err := r.ResolveEventTx(ctx, tx, "e-1", domain.EventStatusRejected, "other", "2024-01-02T00:00:01Z")
		if err != nil {
			return err
		}
		if ok {
			t.Fatalf("second resolve must lose")
		}
		return nil
	})

	got, err := r.GetEvent(ctx, "e-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != domain.EventStatusApproved || got.ResolvedBy != "approver" {
		t.Fatalf("winning decision overwritten: %+v", got)
	}
}

func TestActorCapabilitiesUnion(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "proj-1")
	now := "2024-01-01T00:00:00Z"
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.EnsurePersonTx(ctx, tx, "alice", "Alice", now); err != nil {
			return err
		}
		if err := r.UpsertRoleTx(ctx, tx, "coordinator", "Coordinator"); err != nil {
			return err
		}
		if err := r.GrantRoleCapabilityTx(ctx, tx, "coordinator", "title.changed"); err != nil {
			return err
		}
		if err := r.GrantRoleCapabilityTx(ctx, tx, "coordinator", "product.added"); err != nil {
			return err
		}
		if err := r.InsertMemberTx(ctx, tx, "m-1", "proj-1", "alice", "coordinator", now); err != nil {
			return err
		}
		// Direct grant overlapping a role grant must dedupe.
		if err := r.GrantActorCapabilityTx(ctx, tx, "proj-1", "alice", "title.changed"); err != nil {
			return err
		}
		return r.GrantActorCapabilityTx(ctx, tx, "proj-1", "alice", "raid.linked")
	})

	caps, err := r.ActorCapabilities(ctx, "proj-1", "alice")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	want := []string{"product.added", "raid.linked", "title.changed"}
	if len(caps) != len(want) {
		t.Fatalf("capabilities = %v, want %v", caps, want)
	}
	for i := range want {
		if caps[i] != want[i] {
			t.Fatalf("capabilities = %v, want %v", caps, want)
		}
	}

	// Revoking the direct grant keeps the role-derived one.
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.RevokeActorCapabilityTx(ctx, tx, "proj-1", "alice", "title.changed")
	})
	caps, _ = r.ActorCapabilities(ctx, "proj-1", "alice")
	found := false
	for _, c := range caps {
		if c == "title.changed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("role-derived capability lost after direct revoke: %v", caps)
	}
}

func TestPoliciesScoping(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "proj-1")
	now := "2024-01-01T00:00:00Z"
	own := domain.Policy{
		ID: "p-own", Scope: domain.PolicyScopeProject, OwnerID: "proj-1",
		Name: "Own", EventTypes: []string{"title.changed"},
		ActionType: domain.PolicyActionNotify, Enabled: true,
		CreatedAt: now, UpdatedAt: now,
	}
	inherited := domain.Policy{
		ID: "p-org", Scope: domain.PolicyScopeOrg, OwnerID: "org-1",
		Name: "Inherited", EventTypes: []string{"owning_org.changed"},
		ActionType: domain.PolicyActionApprove, Enabled: true,
		CreatedAt: now, UpdatedAt: now,
	}
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.InsertPolicyTx(ctx, tx, own); err != nil {
			return err
		}
		return r.InsertPolicyTx(ctx, tx, inherited)
	})

	all, err := r.ListPolicies(ctx, "proj-1", "org-1", true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both policies, got %+v", all)
	}
	local, err := r.ListPolicies(ctx, "proj-1", "org-1", false)
	if err != nil {
		t.Fatalf("list local: %v", err)
	}
	if len(local) != 1 || local[0].ID != "p-own" {
		t.Fatalf("expected only project-owned policy, got %+v", local)
	}
}

func TestNotificationAck(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "proj-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.InsertEventTx(ctx, tx, domain.Event{
			ID: "e-1", ProjectID: "proj-1", Type: "role.assigned",
			Status: domain.EventStatusPending, Data: []byte(`{}`),
			ActorID: "a", At: "2024-01-01T00:00:00Z",
		}); err != nil {
			return err
		}
		return r.InsertNotificationTx(ctx, tx, domain.Notification{
			ID: "n-1", ProjectID: "proj-1", EventID: "e-1", UserID: "alice",
			Kind: domain.NotificationApprovalRequest, CreatedAt: "2024-01-01T00:00:00Z",
		})
	})

	unread, err := r.ListNotifications(ctx, "alice", true)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(unread) != 1 {
		t.Fatalf("expected 1 unread, got %d", len(unread))
	}

	if err := r.AckNotification(ctx, "n-1", "2024-01-02T00:00:00Z"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	unread, _ = r.ListNotifications(ctx, "alice", true)
	if len(unread) != 0 {
		t.Fatalf("acked notification still unread: %+v", unread)
	}
	// Second ack finds nothing to update.
	if err := r.AckNotification(ctx, "n-1", "2024-01-03T00:00:00Z"); err == nil {
		t.Fatalf("expected ErrNotFound on double ack")
	}
}
