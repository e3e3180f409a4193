package access_test

import (
	"context"
	"errors"
	"testing"

	"grantline/internal/access"
	"grantline/internal/events"
)

func TestLoadingAndFailedDenyAll(t *testing.T) {
	for _, set := range []access.Set{
		access.Loading("proj-1"),
		access.Failed("proj-1"),
	} {
		if set.HasAccess(events.TypeTitleChanged) {
			t.Fatalf("status %s must deny event access", set.Status)
		}
		if set.CanResolve(events.TypeTitleChanged) {
			t.Fatalf("status %s must deny resolve", set.Status)
		}
	}
}

func TestReadyGrants(t *testing.T) {
	set := access.Ready("proj-1", []events.Type{events.TypeTitleChanged, events.TypeProductAdded})
	if !set.HasAccess(events.TypeTitleChanged) {
		t.Fatalf("expected title.changed granted")
	}
	if set.HasAccess(events.TypeDescriptionChanged) {
		t.Fatalf("expected description.changed denied")
	}
	if set.CanResolve(events.TypeDescriptionChanged) {
		t.Fatalf("no resolve token, no type capability: resolve must deny")
	}
}

func TestResolveToken(t *testing.T) {
	set := access.Ready("proj-1", []events.Type{access.CapResolve})
	if !set.CanResolve(events.TypeTitleChanged) {
		t.Fatalf("resolve token must allow resolving any type")
	}
	if set.HasAccess(events.TypeTitleChanged) {
		t.Fatalf("resolve token must not grant submission")
	}

	// The type capability alone also allows resolving that type.
	typed := access.Ready("proj-1", []events.Type{events.TypeTitleChanged})
	if !typed.CanResolve(events.TypeTitleChanged) {
		t.Fatalf("type capability must allow resolving same type")
	}
}

func TestCapabilitiesSorted(t *testing.T) {
	set := access.Ready("proj-1", []events.Type{events.TypeProductAdded, events.TypeDescriptionChanged, events.TypeTitleChanged})
	caps := set.Capabilities()
	if len(caps) != 3 {
		t.Fatalf("expected 3 capabilities, got %d", len(caps))
	}
	for i := 1; i < len(caps); i++ {
		if caps[i-1] >= caps[i] {
			t.Fatalf("capabilities not sorted: %v", caps)
		}
	}
}

func TestResolverRefresh(t *testing.T) {
	fetch := func(ctx context.Context, projectID, actorID string) ([]events.Type, error) {
		return []events.Type{events.TypeTitleChanged}, nil
	}
	r := access.NewResolver(fetch)
	set := r.Use("proj-1")
	if set.Status != access.StatusLoading || set.HasAccess(events.TypeTitleChanged) {
		t.Fatalf("fresh project must start loading and deny: %+v", set)
	}
	set = r.Refresh(context.Background(), "alice")
	if set.Status != access.StatusReady || !set.HasAccess(events.TypeTitleChanged) {
		t.Fatalf("refresh must install the fetched set: %+v", set)
	}
}

func TestResolverFetchErrorDenies(t *testing.T) {
	fetch := func(ctx context.Context, projectID, actorID string) ([]events.Type, error) {
		return nil, errors.New("backend down")
	}
	r := access.NewResolver(fetch)
	r.Use("proj-1")
	set := r.Refresh(context.Background(), "alice")
	if set.Status != access.StatusError {
		t.Fatalf("expected errored set, got %s", set.Status)
	}
	if set.HasAccess(events.TypeTitleChanged) || set.CanResolve(events.TypeTitleChanged) {
		t.Fatalf("errored set must deny everything")
	}
}

func TestResolverDiscardsStaleFetch(t *testing.T) {
	var r *access.Resolver
	fetch := func(ctx context.Context, projectID, actorID string) ([]events.Type, error) {
		if projectID == "proj-1" {
			// Simulate navigating away while the fetch is in flight.
			r.Use("proj-2")
		}
		return []events.Type{events.TypeTitleChanged}, nil
	}
	r = access.NewResolver(fetch)
	r.Use("proj-1")
	set := r.Refresh(context.Background(), "alice")
	if set.ProjectID != "proj-2" {
		t.Fatalf("expected current project proj-2, got %q", set.ProjectID)
	}
	if set.Status != access.StatusLoading {
		t.Fatalf("stale fetch result must not be installed, got status %s", set.Status)
	}
	if set.HasAccess(events.TypeTitleChanged) {
		t.Fatalf("stale capabilities leaked across projects")
	}

	// A refresh for the now-current project installs normally.
	set = r.Refresh(context.Background(), "alice")
	if set.ProjectID != "proj-2" || set.Status != access.StatusReady {
		t.Fatalf("follow-up refresh failed: %+v", set)
	}
}

func TestResolverUseSameProjectKeepsSet(t *testing.T) {
	fetch := func(ctx context.Context, projectID, actorID string) ([]events.Type, error) {
		return []events.Type{events.TypeTitleChanged}, nil
	}
	r := access.NewResolver(fetch)
	r.Use("proj-1")
	r.Refresh(context.Background(), "alice")
	set := r.Use("proj-1")
	if set.Status != access.StatusReady {
		t.Fatalf("re-using the same project must keep the ready set, got %s", set.Status)
	}
}
