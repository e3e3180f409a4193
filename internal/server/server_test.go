package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"grantline/internal/config"
	"grantline/internal/db"
	"grantline/internal/domain"
	"grantline/internal/engine"
	"grantline/internal/migrate"
	"grantline/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var testerHeaders = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := e.InitProject(context.Background(), engine.InitOptions{
		ProjectID: "proj-1",
		Title:     "Grant test",
		ActorID:   "tester",
	}); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestSubmitAndResolveOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// Auto-applied event.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/events", map[string]any{
		"type": "title.changed",
		"data": map[string]any{"title": "Renamed over HTTP"},
	}, testerHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var evt domain.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt.Status != domain.EventStatusApproved {
		t.Fatalf("expected auto-apply, got %s", evt.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1", nil, testerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Project
	_ = json.Unmarshal(data, &p)
	if p.Title != "Renamed over HTTP" {
		t.Fatalf("canonical title %q", p.Title)
	}

	// Event parked by the membership approval policy.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/events", map[string]any{
		"type": "role.assigned",
		"data": map[string]any{"person_id": "bob", "project_role_id": "researcher"},
	}, testerHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit role status %d: %s", res.StatusCode, string(data))
	}
	var pending domain.Event
	_ = json.Unmarshal(data, &pending)
	if pending.Status != domain.EventStatusPending {
		t.Fatalf("expected pending, got %s", pending.Status)
	}

	// Projection shows it before approval.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/projected", nil, testerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("projected status %d: %s", res.StatusCode, string(data))
	}
	var projected domain.Project
	_ = json.Unmarshal(data, &projected)
	if len(projected.Members) != 2 {
		t.Fatalf("projected members %d", len(projected.Members))
	}

	// Approve it.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+pending.ID+"/resolve", map[string]any{
		"decision": "approve",
	}, testerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1", nil, testerHeaders)
	_ = json.Unmarshal(data, &p)
	if len(p.Members) != 2 {
		t.Fatalf("approved member missing from canonical state: %s", string(data))
	}

	// Second decision conflicts.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+pending.ID+"/resolve", map[string]any{
		"decision": "reject",
	}, testerHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "already_resolved" {
		t.Fatalf("expected already_resolved code, got %+v", env.Error)
	}
}

func TestForbiddenEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/events", map[string]any{
		"type": "title.changed",
		"data": map[string]any{"title": "Nope"},
	}, map[string]string{"X-Actor-Id": "stranger"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Error.Code != "forbidden" {
		t.Fatalf("code %q", env.Error.Code)
	}
	if env.Error.Details["event_type"] != "title.changed" {
		t.Fatalf("details %+v", env.Error.Details)
	}
}

func TestNotFoundAndBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/ghost", nil, testerHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "not_found" {
		t.Fatalf("code %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/events", map[string]any{
		"type": "hologram.calibrated",
	}, testerHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	raw := "test-key-material"
	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:      "key-1",
		ActorID: "tester",
		Name:    "ci",
		KeyHash: repo.HashAPIKey(raw),
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1", nil, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d", res.StatusCode)
	}
}

func TestCapabilitiesEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/capabilities", nil, testerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("capabilities status %d: %s", res.StatusCode, string(data))
	}
	var caps CapabilitiesResponse
	if err := json.Unmarshal(data, &caps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if caps.Status != "ready" || !caps.CanResolve || len(caps.Capabilities) == 0 {
		t.Fatalf("unexpected capabilities %+v", caps)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/capabilities", nil, map[string]string{"X-Actor-Id": "stranger"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("capabilities status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &caps)
	if caps.CanResolve || len(caps.Capabilities) != 0 {
		t.Fatalf("stranger should have no capabilities: %+v", caps)
	}
}

func TestNotificationsFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/events", map[string]any{
		"type": "role.assigned",
		"data": map[string]any{"person_id": "bob", "project_role_id": "researcher"},
	}, testerHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, testerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedNotifications
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatalf("expected approval request notification")
	}
	n := page.Items[0]
	if n.Kind != domain.NotificationApprovalRequest {
		t.Fatalf("kind %q", n.Kind)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/notifications/"+n.ID+"/ack", map[string]any{}, testerHeaders)
	if res.StatusCode >= 300 {
		t.Fatalf("ack status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, testerHeaders)
	_ = json.Unmarshal(data, &page)
	for _, item := range page.Items {
		if item.ID == n.ID {
			t.Fatalf("acked notification still unread: %s", string(data))
		}
	}
}

func TestPoliciesEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/policies", nil, testerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("policies status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedPolicies
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 seeded policies, got %d", len(page.Items))
	}
}

func TestCreateProjectEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"id":    "proj-2",
		"title": "Second grant",
	}, testerHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Project
	_ = json.Unmarshal(data, &p)
	if p.ID != "proj-2" || p.Title != "Second grant" {
		t.Fatalf("unexpected project %+v", p)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{}, testerHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing title, got %d: %s", res.StatusCode, string(data))
	}
}
