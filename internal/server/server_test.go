package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sunline/internal/config"
	"sunline/internal/db"
	"sunline/internal/domain"
	"sunline/internal/engine"
	"sunline/internal/migrate"
	"sunline/internal/server"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("Test Solar"))
	eng.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	handler, err := server.New(server.Config{
		Engine: eng,
		Auth: server.AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return testServer{
		URL:    "http://" + ln.Addr().String() + "/v0",
		Engine: eng,
	}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "admin-1", "X-Actor-Role": "admin"}
}

// doJSON issues a request and decodes the response body into out when
// out is non-nil.
func doJSON(t *testing.T, method, url string, headers map[string]string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
	return res.StatusCode
}

// errorCode extracts the code from the error envelope.
func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

func (ts testServer) createFirm(t *testing.T, name string) int64 {
	t.Helper()
	var firm map[string]any
	status := doJSON(t, http.MethodPost, ts.URL+"/firms", adminHeaders(), map[string]any{"name": name}, &firm)
	if status != http.StatusCreated {
		t.Fatalf("create firm: status %d", status)
	}
	return int64(firm["id"].(float64))
}

func (ts testServer) createProject(t *testing.T, firmID int64, name string) int64 {
	t.Helper()
	var p map[string]any
	status := doJSON(t, http.MethodPost, ts.URL+"/projects", adminHeaders(), map[string]any{"firm_id": firmID, "name": name}, &p)
	if status != http.StatusCreated {
		t.Fatalf("create project: status %d, body %v", status, p)
	}
	return int64(p["id"].(float64))
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	status := doJSON(t, http.MethodGet, ts.URL+"/health", nil, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("health: status %d", status)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]any
	status := doJSON(t, http.MethodGet, ts.URL+"/firms", nil, nil, &body)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if code := errorCode(t, body); code != "unauthorized" {
		t.Fatalf("code = %s, want unauthorized", code)
	}
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]any
	status := doJSON(t, http.MethodGet, ts.URL+"/me", adminHeaders(), nil, &body)
	if status != http.StatusOK {
		t.Fatalf("me: status %d", status)
	}
	if body["actor_id"] != "admin-1" || body["role"] != "admin" {
		t.Fatalf("principal = %v", body)
	}
	if body["source"] != "legacy_header" {
		t.Fatalf("source = %v", body["source"])
	}
}

func TestProjectLifecycle(t *testing.T) {
	ts := newTestServer(t)
	firmID := ts.createFirm(t, "Acme Solar")
	projectID := ts.createProject(t, firmID, "Roof HTTP")

	var p map[string]any
	url := fmt.Sprintf("%s/projects/%d", ts.URL, projectID)
	status := doJSON(t, http.MethodPatch, url, adminHeaders(), map[string]any{"status": "equipment_waiting"}, &p)
	if status != http.StatusOK {
		t.Fatalf("patch: status %d, body %v", status, p)
	}
	if p["status"] != "equipment_waiting" {
		t.Fatalf("status = %v", p["status"])
	}
	if p["status_label"] != "Waiting for equipment" {
		t.Fatalf("status_label = %v", p["status_label"])
	}

	var items []map[string]any
	status = doJSON(t, http.MethodGet, url+"/history", adminHeaders(), nil, &items)
	if status != http.StatusOK {
		t.Fatalf("history: status %d", status)
	}
	// created plus one status change, newest first.
	if len(items) != 2 || items[0]["change_type"] != "status_change" {
		t.Fatalf("history = %v", items)
	}
}

func TestInvalidTransitionEnvelope(t *testing.T) {
	ts := newTestServer(t)
	firmID := ts.createFirm(t, "Acme Solar")
	projectID := ts.createProject(t, firmID, "Roof HTTP")

	var body map[string]any
	url := fmt.Sprintf("%s/projects/%d", ts.URL, projectID)
	status := doJSON(t, http.MethodPatch, url, adminHeaders(), map[string]any{"status": "paid"}, &body)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", status)
	}
	if code := errorCode(t, body); code != "invalid_transition" {
		t.Fatalf("code = %s, want invalid_transition", code)
	}
	details := body["error"].(map[string]any)["details"].(map[string]any)
	if details["from"] != "planning" || details["to"] != "paid" {
		t.Fatalf("details = %v", details)
	}
}

func TestRoleEnforcement(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]any
	worker := map[string]string{"X-Actor-Id": "worker-1", "X-Actor-Role": "worker"}
	status := doJSON(t, http.MethodPost, ts.URL+"/firms", worker, map[string]any{"name": "Rogue Firm"}, &body)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
	if code := errorCode(t, body); code != "forbidden" {
		t.Fatalf("code = %s, want forbidden", code)
	}
}

func TestUnknownProjectIs404(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]any
	status := doJSON(t, http.MethodGet, ts.URL+"/projects/9999", adminHeaders(), nil, &body)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if code := errorCode(t, body); code != "not_found" {
		t.Fatalf("code = %s, want not_found", code)
	}
}

func TestJWTAuth(t *testing.T) {
	ts := newTestServer(t)
	firmID := ts.createFirm(t, "Acme Solar")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "lead-9",
		"role":     "project-lead",
		"firm_ids": []int64{firmID},
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	var p map[string]any
	status := doJSON(t, http.MethodPost, ts.URL+"/projects", headers, map[string]any{"firm_id": firmID, "name": "JWT Roof"}, &p)
	if status != http.StatusCreated {
		t.Fatalf("create project via jwt: status %d, body %v", status, p)
	}
	if p["lead_id"] != "lead-9" {
		t.Fatalf("lead_id = %v, want the token subject", p["lead_id"])
	}

	// A token scoped to another firm is rejected by firm checks.
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "lead-10",
		"role":     "project-lead",
		"firm_ids": []int64{firmID + 99},
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	var body map[string]any
	status = doJSON(t, http.MethodPost, ts.URL+"/projects",
		map[string]string{"Authorization": "Bearer " + foreign},
		map[string]any{"firm_id": firmID, "name": "Foreign Roof"}, &body)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}

	// Garbage tokens never reach the handlers.
	status = doJSON(t, http.MethodGet, ts.URL+"/firms",
		map[string]string{"Authorization": "Bearer not-a-token"}, nil, &body)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestInvoiceOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	firmID := ts.createFirm(t, "Acme Solar")
	projectID := ts.createProject(t, firmID, "Roof Billing")

	url := fmt.Sprintf("%s/projects/%d", ts.URL, projectID)
	for _, s := range []string{"equipment_waiting", "equipment_arrived", "work_scheduled", "work_in_progress", "work_completed"} {
		if status := doJSON(t, http.MethodPatch, url, adminHeaders(), map[string]any{"status": s}, nil); status != http.StatusOK {
			t.Fatalf("advance to %s: status %d", s, status)
		}
	}

	// No provider configured: issuing an invoice surfaces 502.
	var body map[string]any
	status := doJSON(t, http.MethodPost, url+"/invoice", adminHeaders(), map[string]any{"amount": 100.0}, &body)
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body %v", status, body)
	}
	if code := errorCode(t, body); code != "upstream_error" {
		t.Fatalf("code = %s, want upstream_error", code)
	}
}

func TestWebhookDispatcherDeliversAndStops(t *testing.T) {
	if testing.Short() {
		t.Skip("dispatcher test waits on real ticks")
	}
	received := make(chan string, 16)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sink := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Sunline-Change")
	})}
	go sink.Serve(ln)
	t.Cleanup(func() { sink.Close() })

	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("Test Solar")
	cfg.Webhooks = []config.WebhookConfig{{URL: "http://" + ln.Addr().String()}}
	eng := engine.New(conn, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	server.StartWebhookDispatcher(ctx, eng)

	firm, err := eng.Repo.InsertFirm(context.Background(), "Test Solar")
	if err != nil {
		t.Fatalf("insert firm: %v", err)
	}
	admin := domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	if _, err := eng.CreateProject(context.Background(), engine.ProjectCreateOptions{FirmID: firm.ID, Name: "Hooked Roof"}, admin); err != nil {
		t.Fatalf("create project: %v", err)
	}

	select {
	case change := <-received:
		if change != "created" {
			t.Fatalf("first delivery = %s, want created", change)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no webhook delivery")
	}

	// After cancellation the loop exits; entries written afterwards are
	// never delivered.
	cancel()
	time.Sleep(5 * time.Second)
	status := "equipment_waiting"
	if _, err := eng.UpdateProject(context.Background(), engine.ProjectUpdateOptions{ID: 1, Status: &status}, admin); err != nil {
		t.Fatalf("update project: %v", err)
	}
	select {
	case change := <-received:
		t.Fatalf("delivery after shutdown: %s", change)
	case <-time.After(5 * time.Second):
	}
}
