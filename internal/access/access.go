// Package access gates mutating actions on a per-user, per-project
// capability set. A Set is an explicit value object bound to one project
// id; checks default to deny while the set is loading or failed, and a
// Resolver re-derives the set whenever the project changes so capabilities
// never leak across projects.
package access

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"grantline/internal/events"
)

// CapResolve is the dedicated capability token that lets an actor approve
// or reject pending events regardless of their type. It is a grant token
// only, never an event type.
const CapResolve events.Type = "event.resolve"

type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// ForbiddenError indicates a missing capability for an event type.
type ForbiddenError struct {
	EventType events.Type
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("capability %s required", e.EventType)
}

// Set is the capability set for one (actor, project) pair.
type Set struct {
	ProjectID    string
	Status       Status
	capabilities map[events.Type]bool
}

// Loading returns the pre-fetch set for a project. All checks deny.
func Loading(projectID string) Set {
	return Set{ProjectID: projectID, Status: StatusLoading}
}

// Failed returns the post-error set for a project. All checks deny; the
// caller should surface a degraded read-only mode.
func Failed(projectID string) Set {
	return Set{ProjectID: projectID, Status: StatusError}
}

// Ready returns a set backed by the fetched capability list.
func Ready(projectID string, caps []events.Type) Set {
	m := make(map[events.Type]bool, len(caps))
	for _, c := range caps {
		m[c] = true
	}
	return Set{ProjectID: projectID, Status: StatusReady, capabilities: m}
}

// HasAccess reports whether the actor may originate events of type t.
// Never true unless the set is ready: a loading or errored set must not
// expose destructive actions during the fetch race.
func (s Set) HasAccess(t events.Type) bool {
	return s.Status == StatusReady && s.capabilities[t]
}

// CanResolve reports whether the actor may approve or reject a pending
// event of type t: either the type capability itself or the dedicated
// resolve token.
func (s Set) CanResolve(t events.Type) bool {
	return s.HasAccess(t) || s.HasAccess(CapResolve)
}

// Capabilities returns the granted types in sorted order.
func (s Set) Capabilities() []events.Type {
	out := make([]events.Type, 0, len(s.capabilities))
	for t := range s.capabilities {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FetchFunc loads the capability list for an actor on a project. It must
// hit the source of truth, never a cache.
type FetchFunc func(ctx context.Context, projectID, actorID string) ([]events.Type, error)

// Resolver derives capability sets per project. Switching projects resets
// the current set to loading; a refresh completing for a project that is
// no longer current is discarded rather than installed.
type Resolver struct {
	fetch FetchFunc

	mu      sync.Mutex
	current Set
}

func NewResolver(fetch FetchFunc) *Resolver {
	return &Resolver{fetch: fetch, current: Loading("")}
}

// Use switches the resolver to projectID and returns the loading set.
// A no-op when the project is unchanged.
func (r *Resolver) Use(projectID string) Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current.ProjectID != projectID {
		r.current = Loading(projectID)
	}
	return r.current
}

// Current returns the set as last derived.
func (r *Resolver) Current() Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Refresh fetches a fresh capability list for the current project and
// installs it, unless the current project changed while the fetch was in
// flight. Fetch failures install the errored (deny-all) set.
func (r *Resolver) Refresh(ctx context.Context, actorID string) Set {
	r.mu.Lock()
	projectID := r.current.ProjectID
	r.mu.Unlock()

	caps, err := r.fetch(ctx, projectID, actorID)
	next := Ready(projectID, caps)
	if err != nil {
		next = Failed(projectID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current.ProjectID != projectID {
		// Stale response for a project we navigated away from.
		return r.current
	}
	r.current = next
	return r.current
}
