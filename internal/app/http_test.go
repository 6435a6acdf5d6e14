package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"teamsync/api/internal/auth"
	"teamsync/api/internal/rbac"
)

// signIn logs uid in over HTTP, optionally approving it with role first.
func signIn(t *testing.T, svc *Service, handler http.Handler, uid string, role rbac.Role, approve bool) string {
	t.Helper()
	body := `{"uid":"` + uid + `","email":"` + uid + `@example.com","displayName":"` + uid + `"}`
	rr := serve(handler, http.MethodPost, "/api/session/login", "", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body=%s", uid, rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse login: %v", err)
	}
	if approve {
		ctx := context.Background()
		if _, err := svc.Repositories().Users.Approve(ctx, uid); err != nil {
			t.Fatalf("approve: %v", err)
		}
		if _, err := svc.Repositories().Users.SetRole(ctx, uid, string(role)); err != nil {
			t.Fatalf("set role: %v", err)
		}
	}
	token, _ := payload["token"].(string)
	return token
}

func serve(handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestSessionLoginReturnsContract(t *testing.T) {
	svc := newTestService(t, nil)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := serve(handler, http.MethodPost, "/api/session/login", "", `{"uid":"u-1","email":"avery@example.com","displayName":"  Avery  "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)

	if token, _ := payload["token"].(string); token == "" {
		t.Fatalf("expected token")
	}
	if payload["userName"] != "Avery" {
		t.Fatalf("expected trimmed userName Avery, got %v", payload["userName"])
	}
	if payload["approved"] != false {
		t.Fatalf("expected first sign-in to be unapproved, got %v", payload["approved"])
	}
	if payload["role"] != string(rbac.RoleDeveloper) {
		t.Fatalf("expected developer role, got %v", payload["role"])
	}
	if _, err := time.Parse(time.RFC3339, payload["expiresAt"].(string)); err != nil {
		t.Fatalf("expected RFC3339 expiresAt, got %v", payload["expiresAt"])
	}
}

func TestSessionLoginRejectsInvalidBody(t *testing.T) {
	handler := NewHTTPServer(newTestService(t, nil), "*").Handler()

	rr := serve(handler, http.MethodPost, "/api/session/login", "", `{"uid":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decode(t, rr)["code"]; code != "INVALID_BODY" {
		t.Fatalf("expected code INVALID_BODY, got %v", code)
	}

	rr = serve(handler, http.MethodPost, "/api/session/login", "", `{"email":"x@example.com"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 without uid, got %d", rr.Code)
	}
}

func TestSessionEndpointReflectsApproval(t *testing.T) {
	svc := newTestService(t, nil)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := serve(handler, http.MethodGet, "/api/session", "", "")
	if payload := decode(t, rr); payload["authenticated"] != false {
		t.Fatalf("expected anonymous session, got %v", payload)
	}

	token := signIn(t, svc, handler, "dev1", rbac.RoleDeveloper, true)
	payload := decode(t, serve(handler, http.MethodGet, "/api/session", token, ""))
	if payload["authenticated"] != true || payload["approved"] != true {
		t.Fatalf("expected approved session, got %v", payload)
	}
}

func TestProtectedRouteWithoutBearerReturnsUnauthorized(t *testing.T) {
	handler := NewHTTPServer(newTestService(t, nil), "*").Handler()
	assertUnauthorizedCode(t, serve(handler, http.MethodGet, "/api/projects", "", ""))
}

func TestProtectedRouteWithInvalidBearerReturnsUnauthorized(t *testing.T) {
	handler := NewHTTPServer(newTestService(t, nil), "*").Handler()
	assertUnauthorizedCode(t, serve(handler, http.MethodGet, "/api/projects", "definitely-not-a-token", ""))
}

func TestProtectedRouteWithExpiredBearerReturnsUnauthorized(t *testing.T) {
	handler := NewHTTPServer(newTestService(t, nil), "*").Handler()

	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub: "user-1",
		JTI: "jti-expired",
		Exp: time.Now().Add(-1 * time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	assertUnauthorizedCode(t, serve(handler, http.MethodGet, "/api/projects", token, ""))
}

func TestPendingUserGetsPendingApproval(t *testing.T) {
	svc := newTestService(t, nil)
	handler := NewHTTPServer(svc, "*").Handler()
	token := signIn(t, svc, handler, "newbie", rbac.RoleDeveloper, false)

	rr := serve(handler, http.MethodGet, "/api/projects", token, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decode(t, rr)["code"]; code != "PENDING_APPROVAL" {
		t.Fatalf("expected PENDING_APPROVAL, got %v", code)
	}
}

func TestProjectRoutes(t *testing.T) {
	svc := newTestService(t, nil)
	handler := NewHTTPServer(svc, "*").Handler()
	admin := signIn(t, svc, handler, "admin1", rbac.RoleAdmin, true)
	dev := signIn(t, svc, handler, "dev1", rbac.RoleDeveloper, true)

	rr := serve(handler, http.MethodPost, "/api/projects", admin, `{"name":"Apollo","assignedTo":["dev1"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status %d body=%s", rr.Code, rr.Body.String())
	}
	project, _ := decode(t, rr)["project"].(map[string]any)
	id, _ := project["id"].(string)
	if id == "" {
		t.Fatalf("expected project id, got %v", project)
	}

	rr = serve(handler, http.MethodPost, "/api/projects", dev, `{"name":"Rogue"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected developer create to be 403, got %d", rr.Code)
	}

	rr = serve(handler, http.MethodPost, "/api/projects", admin, `{"description":"no name"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected missing name to be 422, got %d", rr.Code)
	}

	rr = serve(handler, http.MethodGet, "/api/projects", dev, "")
	projects, _ := decode(t, rr)["projects"].([]any)
	if len(projects) != 1 {
		t.Fatalf("expected developer to see 1 project, got %d", len(projects))
	}

	rr = serve(handler, http.MethodPost, "/api/projects/"+id+"/comments", dev, `{"text":"looks good"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("comment: status %d body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(handler, http.MethodGet, "/api/projects/missing", admin, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d", rr.Code)
	}
}

func TestNotificationRoutes(t *testing.T) {
	svc := newTestService(t, nil)
	handler := NewHTTPServer(svc, "*").Handler()
	admin := signIn(t, svc, handler, "admin1", rbac.RoleAdmin, true)
	dev := signIn(t, svc, handler, "dev1", rbac.RoleDeveloper, true)

	rr := serve(handler, http.MethodPost, "/api/tasks", admin, `{"title":"Write docs","assignedTo":["dev1"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create task: status %d body=%s", rr.Code, rr.Body.String())
	}

	payload := decode(t, serve(handler, http.MethodGet, "/api/notifications", dev, ""))
	if payload["unread"] != float64(1) {
		t.Fatalf("expected 1 unread, got %v", payload["unread"])
	}

	rr = serve(handler, http.MethodPost, "/api/notifications/read-all", dev, "")
	if marked := decode(t, rr)["marked"]; marked != float64(1) {
		t.Fatalf("expected 1 marked, got %v", marked)
	}

	payload = decode(t, serve(handler, http.MethodGet, "/api/notifications", dev, ""))
	if payload["unread"] != float64(0) {
		t.Fatalf("expected 0 unread after read-all, got %v", payload["unread"])
	}
}

func TestLiveEndpointStreamsViews(t *testing.T) {
	svc := newTestService(t, nil)
	handler := NewHTTPServer(svc, "*").Handler()
	admin := signIn(t, svc, handler, "admin1", rbac.RoleAdmin, true)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live?token=" + admin
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first liveFrame
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if first.Type != "views" || first.Views == nil {
		t.Fatalf("expected views frame, got %+v", first)
	}

	if rr := serve(handler, http.MethodPost, "/api/projects", admin, `{"name":"Apollo"}`); rr.Code != http.StatusCreated {
		t.Fatalf("create project: status %d", rr.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		var frame liveFrame
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for project in live views: %v", err)
		}
		if frame.Views != nil && len(frame.Views.Projects) == 1 {
			if frame.Views.Projects[0].Name != "Apollo" {
				t.Fatalf("unexpected project %+v", frame.Views.Projects[0])
			}
			return
		}
	}
}

func TestLiveEndpointRequiresToken(t *testing.T) {
	handler := NewHTTPServer(newTestService(t, nil), "*").Handler()
	assertUnauthorizedCode(t, serve(handler, http.MethodGet, "/api/live", "", ""))
}

func assertUnauthorizedCode(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decode(t, rr)["code"]; code != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", code)
	}
}
